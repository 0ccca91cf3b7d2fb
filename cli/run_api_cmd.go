package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ballista-dev/ballista/apitest"
	"github.com/ballista-dev/ballista/common/errors"
	"github.com/ballista-dev/ballista/common/stats"
	"github.com/ballista-dev/ballista/runner"
)

type apiCmd struct {
	concurrency int
	timeoutSecs int
}

func (c *apiCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "api <suite file (json or yaml)>",
		Short: "run a declarative API assertion suite",
		Args:  cobra.ExactArgs(1),
	}
	r.Flags().IntVarP(&c.concurrency, "concurrency", "c", 1, "concurrent cases")
	r.Flags().IntVar(&c.timeoutSecs, "timeout", 30, "per-request timeout in seconds (0 disables)")
	return r
}

func (c *apiCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	suite, err := apitest.LoadSuite(args[0])
	if err != nil {
		return errors.NewError(err, errors.ConfigFailureExitCode)
	}
	rep, err := apitest.Run(suite, apitest.Options{
		Concurrency:    c.concurrency,
		RequestTimeout: time.Duration(c.timeoutSecs) * time.Second,
		Publisher:      runner.LogPublisher{},
		Stats:          stats.DefaultStatsReceiver(),
	})
	if err != nil {
		return errors.NewError(err, errors.ConfigFailureExitCode)
	}
	printReport(rep)
	if rep.State == runner.FAILED {
		return errors.NewError(fmt.Errorf("suite failed: %s", rep.Error), errors.RunFailureExitCode)
	}
	if !rep.Passed {
		failed := 0
		for _, cr := range rep.Cases {
			if !cr.Passed {
				failed++
			}
		}
		return errors.NewError(fmt.Errorf("%d of %d cases failed", failed, len(rep.Cases)), errors.SuiteFailureExitCode)
	}
	return nil
}
