package cli

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ballista-dev/ballista/api"
	"github.com/ballista-dev/ballista/common/stats"
)

type serveCmd struct{}

func (c *serveCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "serve the HTTP control API and websocket stream",
	}
}

func (c *serveCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	cfg := api.LoadConfig()
	// The LOG_LEVEL env var overrides the flag in server mode.
	if cfg.LogLevel != "" {
		level, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
	}
	server := api.NewServer(cfg, stats.DefaultStatsReceiver())
	return server.ListenAndServe()
}
