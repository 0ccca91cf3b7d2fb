// Package cli implements the ballista command line: run a load, stress
// or API assertion test directly, or serve the HTTP control API.
package cli

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CLIClient is the command-line client interface.
type CLIClient interface {
	Exec() error
}

type simpleCLIClient struct {
	rootCmd  *cobra.Command
	logLevel string
}

func (c *simpleCLIClient) Exec() error {
	return c.rootCmd.Execute()
}

func NewSimpleCLIClient() (CLIClient, error) {
	c := &simpleCLIClient{}

	c.rootCmd = &cobra.Command{
		Use:           "ballista",
		Short:         "ballista is a concurrent HTTP load testing tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run:           func(*cobra.Command, []string) {},
		PersistentPreRunE: func(*cobra.Command, []string) error {
			level, err := log.ParseLevel(c.logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
	}

	c.addCmd(&loadCmd{})
	c.addCmd(&stressCmd{})
	c.addCmd(&apiCmd{})
	c.addCmd(&serveCmd{})

	return c, nil
}

func (c *simpleCLIClient) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.Flags().StringVar(&c.logLevel, "log_level", "info", "log level (error|warn|info|debug)")
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

type command interface {
	registerFlags() *cobra.Command
	run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error
}
