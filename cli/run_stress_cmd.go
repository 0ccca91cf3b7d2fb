package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/ballista-dev/ballista/runner"
)

type stressCmd struct {
	durationSecs int
	concurrency  int
	timeoutSecs  int
	maxRPS       int
	method       string
	body         string
	noMonitor    bool
}

func (c *stressCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "stress <target url or sitemap>",
		Short: "run a time-bound stress test",
		Args:  cobra.ExactArgs(1),
	}
	r.Flags().IntVarP(&c.durationSecs, "duration", "t", 30, "test duration in seconds")
	r.Flags().IntVarP(&c.concurrency, "concurrency", "c", 10, "concurrent requests")
	r.Flags().IntVar(&c.timeoutSecs, "timeout", 30, "per-request timeout in seconds (0 disables)")
	r.Flags().IntVar(&c.maxRPS, "max_rps", 0, "launch rate cap, 0 for unlimited")
	r.Flags().StringVarP(&c.method, "method", "X", "GET", "HTTP method")
	r.Flags().StringVarP(&c.body, "body", "d", "", "request body")
	r.Flags().BoolVar(&c.noMonitor, "no_monitor", false, "disable host resource sampling")
	return r
}

func (c *stressCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	cfg, err := buildRunConfig(runner.StressTest, args[0], c.method, c.body, c.concurrency, c.timeoutSecs, c.maxRPS)
	if err != nil {
		return err
	}
	cfg.Duration = time.Duration(c.durationSecs) * time.Second
	return executeRun(cfg, c.noMonitor)
}
