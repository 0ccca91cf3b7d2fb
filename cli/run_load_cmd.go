package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ballista-dev/ballista/common/errors"
	"github.com/ballista-dev/ballista/common/stats"
	"github.com/ballista-dev/ballista/monitor"
	"github.com/ballista-dev/ballista/runner"
	"github.com/ballista-dev/ballista/targets"
	"github.com/ballista-dev/ballista/transport"
)

type loadCmd struct {
	requests    int
	concurrency int
	timeoutSecs int
	maxRPS      int
	method      string
	body        string
	noMonitor   bool
}

func (c *loadCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "load <target url or sitemap>",
		Short: "run a count-bound load test",
		Args:  cobra.ExactArgs(1),
	}
	r.Flags().IntVarP(&c.requests, "requests", "n", 100, "total number of requests")
	r.Flags().IntVarP(&c.concurrency, "concurrency", "c", 10, "concurrent requests")
	r.Flags().IntVar(&c.timeoutSecs, "timeout", 30, "per-request timeout in seconds (0 disables)")
	r.Flags().IntVar(&c.maxRPS, "max_rps", 0, "launch rate cap, 0 for unlimited")
	r.Flags().StringVarP(&c.method, "method", "X", "GET", "HTTP method")
	r.Flags().StringVarP(&c.body, "body", "d", "", "request body")
	r.Flags().BoolVar(&c.noMonitor, "no_monitor", false, "disable host resource sampling")
	return r
}

func (c *loadCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	cfg, err := buildRunConfig(runner.LoadTest, args[0], c.method, c.body, c.concurrency, c.timeoutSecs, c.maxRPS)
	if err != nil {
		return err
	}
	cfg.TotalRequests = c.requests
	return executeRun(cfg, c.noMonitor)
}

// buildRunConfig resolves the target and assembles the common parts of
// a load/stress config.
func buildRunConfig(tt runner.TestType, target, method, body string, concurrency, timeoutSecs, maxRPS int) (runner.TestConfig, error) {
	urls, err := targets.Resolve(target)
	if err != nil {
		return runner.TestConfig{}, errors.NewError(err, errors.ResolveFailureExitCode)
	}
	m, err := transport.ParseMethod(method)
	if err != nil {
		return runner.TestConfig{}, errors.NewError(err, errors.ConfigFailureExitCode)
	}
	return runner.TestConfig{
		Type:           tt,
		Targets:        urls,
		Concurrency:    concurrency,
		RequestTimeout: time.Duration(timeoutSecs) * time.Second,
		MaxRPS:         maxRPS,
		Request:        transport.Request{Method: m, Body: []byte(body)},
	}, nil
}

// executeRun drives a config to completion, printing live progress to
// the log and the terminal report as JSON on stdout.
func executeRun(cfg runner.TestConfig, noMonitor bool) error {
	var mon runner.ResourceMonitor
	if !noMonitor {
		mon = monitor.New(monitor.DefaultInterval)
	}
	run, err := runner.Start(cfg, runner.Options{
		Publisher: runner.LogPublisher{},
		Monitor:   mon,
		Stats:     stats.DefaultStatsReceiver(),
	})
	if err != nil {
		return errors.NewError(err, errors.ConfigFailureExitCode)
	}
	rep := run.Wait()
	printReport(rep)
	if rep.State == runner.FAILED {
		return errors.NewError(fmt.Errorf("test %s failed: %s", rep.TestID, rep.Error), errors.RunFailureExitCode)
	}
	return nil
}

func printReport(rep runner.Report) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(rep)
}
