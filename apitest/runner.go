package apitest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ballista-dev/ballista/common/stats"
	"github.com/ballista-dev/ballista/runner"
	"github.com/ballista-dev/ballista/transport"
)

// Options tunes suite execution. The zero value runs cases one at a
// time with the engine's default timeout and no live publishing.
type Options struct {
	Concurrency    int
	RequestTimeout time.Duration
	Publisher      runner.Publisher
	Monitor        runner.ResourceMonitor
	Stats          stats.StatsReceiver
}

// Execution is a suite in flight: the underlying engine run plus the
// per-case verdicts filled in as outcomes arrive.
type Execution struct {
	Run   *runner.Run
	suite *Suite

	// Written by the run's aggregator goroutine, read after Done.
	results []runner.CaseResult
}

// Start launches a suite through the load engine: each case becomes one
// dispatched request, and outcomes are checked against the case's
// expectations as they complete.
func Start(suite *Suite, opts Options) (*Execution, error) {
	if err := suite.Validate(); err != nil {
		return nil, runner.NewConfigError("%v", err)
	}

	reqs := make([]transport.Request, len(suite.Cases))
	needBodies := false
	for i := range suite.Cases {
		req, err := suite.Cases[i].request()
		if err != nil {
			return nil, runner.NewConfigError("%v", err)
		}
		reqs[i] = req
		if suite.Cases[i].ExpectedBody != nil {
			needBodies = true
		}
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	cfg := runner.TestConfig{
		Type:           runner.ApiTest,
		Concurrency:    concurrency,
		RequestTimeout: opts.RequestTimeout,
		Cases:          reqs,
	}

	client := transport.NewClient(opts.RequestTimeout)
	client.KeepBody = needBodies

	e := &Execution{
		suite:   suite,
		results: make([]runner.CaseResult, len(suite.Cases)),
	}
	run, err := runner.Start(cfg, runner.Options{
		Transport: client,
		Publisher: opts.Publisher,
		Monitor:   opts.Monitor,
		Stats:     opts.Stats,
		Observer:  e.observe,
	})
	if err != nil {
		return nil, err
	}
	e.Run = run
	return e, nil
}

// observe runs on the aggregator goroutine. Abandoned stragglers carry
// no case index and fall through to the "did not complete" verdict in
// Wait.
func (e *Execution) observe(o runner.Outcome) {
	if o.Case < 0 || o.Case >= len(e.results) {
		return
	}
	e.results[o.Case] = check(&e.suite.Cases[o.Case], o.Case, o)
}

// Wait blocks until the run finishes and returns the report with the
// per-case verdicts attached. Passed is true only when the run
// completed and every case met its expectations.
func (e *Execution) Wait() runner.Report {
	rep := e.Run.Wait()
	passed := true
	for i := range e.results {
		if e.results[i].Name == "" {
			e.results[i] = runner.CaseResult{
				Name:           e.suite.Cases[i].displayName(i),
				ExpectedStatus: e.suite.Cases[i].ExpectedStatus,
				Error:          "case did not complete",
			}
		}
		if !e.results[i].Passed {
			passed = false
		}
	}
	rep.Cases = append([]runner.CaseResult(nil), e.results...)
	rep.Passed = passed && rep.State == runner.COMPLETED
	return rep
}

// Run executes a suite to completion.
func Run(suite *Suite, opts Options) (runner.Report, error) {
	e, err := Start(suite, opts)
	if err != nil {
		return runner.Report{}, err
	}
	return e.Wait(), nil
}

// check turns one outcome into a verdict against its case.
func check(c *Case, idx int, o runner.Outcome) runner.CaseResult {
	res := runner.CaseResult{
		Name:           c.displayName(idx),
		Status:         o.Status,
		ExpectedStatus: c.ExpectedStatus,
		LatencyMs:      float64(o.Latency) / float64(time.Millisecond),
	}
	switch {
	case o.Kind != transport.NoError:
		res.Error = fmt.Sprintf("request failed: %s", o.Error)
	case o.Status != c.ExpectedStatus:
		res.Error = mismatchf("expected status %d, got %d", c.ExpectedStatus, o.Status).Error()
	case c.ExpectedBody != nil:
		var actual interface{}
		if err := json.Unmarshal(o.Body, &actual); err != nil {
			res.Error = mismatchf("response body is not valid json: %v", err).Error()
			break
		}
		if err := MatchBody(c.ExpectedBody, actual); err != nil {
			res.Error = err.Error()
			break
		}
		res.Passed = true
	default:
		res.Passed = true
	}
	return res
}
