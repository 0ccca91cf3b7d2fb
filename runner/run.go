package runner

import (
	"fmt"
	"sync/atomic"
	"time"

	uuid "github.com/nu7hatch/gouuid"
	log "github.com/sirupsen/logrus"

	"github.com/ballista-dev/ballista/common/stats"
	"github.com/ballista-dev/ballista/transport"
)

// DefaultOutcomeBuffer sizes the dispatcher->aggregator channel. The
// buffer absorbs bursts; when it fills, workers block on the send and
// dispatch throttles itself to aggregation capacity.
const DefaultOutcomeBuffer = 1024

// ResourceMonitor samples host resources for the lifetime of a run.
// Stop returns nil when no samples were collected.
type ResourceMonitor interface {
	Start()
	Stop() *ResourceSummary
}

// Options wires a Run's collaborators. Zero values get sensible
// defaults; a nil Publisher disables live publishing.
type Options struct {
	Transport        transport.Transport
	Publisher        Publisher
	Monitor          ResourceMonitor
	Stats            stats.StatsReceiver
	Observer         func(Outcome)
	SnapshotInterval time.Duration
	PublishInterval  time.Duration
	OutcomeBuffer    int
}

// Run is one executing test: a Dispatcher/Aggregator pair plus its
// monitor and publisher, created per test id and living only for the
// run's duration.
type Run struct {
	cfg  *TestConfig
	disp *Dispatcher
	agg  *Aggregator
	mon  ResourceMonitor
	pub  Publisher

	state     int32 // TestState, atomically accessed
	cancelled int32
	done      chan struct{}
	report    Report
}

// Start validates cfg and launches the run. Validation failure never
// enters RUNNING and is the only error returned; once a Run exists its
// failures surface through the terminal report.
func Start(cfg TestConfig, opts Options) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = newTestID()
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now()
	}
	if opts.Transport == nil {
		opts.Transport = transport.NewClient(cfg.RequestTimeout)
	}
	if opts.Stats == nil {
		opts.Stats = stats.NilStatsReceiver()
	}
	if opts.OutcomeBuffer <= 0 {
		opts.OutcomeBuffer = DefaultOutcomeBuffer
	}

	out := make(chan Outcome, opts.OutcomeBuffer)
	stat := opts.Stats.Scope("run", cfg.Type.String())
	r := &Run{
		cfg:  &cfg,
		disp: NewDispatcher(&cfg, opts.Transport, out, stat),
		agg:  NewAggregator(out, opts.SnapshotInterval, opts.Observer),
		mon:  opts.Monitor,
		pub:  opts.Publisher,
		done: make(chan struct{}),
	}
	r.setState(RUNNING)
	log.Infof("starting %s test %s: %d targets, concurrency %d",
		cfg.Type, cfg.ID, len(cfg.Targets)+len(cfg.Cases), cfg.Concurrency)

	go r.loop(out, opts.PublishInterval)
	return r, nil
}

func (r *Run) loop(out chan Outcome, publishInterval time.Duration) {
	started := time.Now()
	if r.mon != nil {
		r.mon.Start()
	}

	stopPublish := make(chan struct{})
	if r.pub != nil {
		go publishLoop(r.pub, r.cfg.ID, r.agg, publishInterval, stopPublish)
	}

	go r.disp.Run()
	final, aggErr := r.runAggregator(out)

	close(stopPublish)
	var resources *ResourceSummary
	if r.mon != nil {
		resources = r.mon.Stop()
	}

	state := COMPLETED
	errMsg := ""
	switch {
	case aggErr != nil:
		state = FAILED
		errMsg = aggErr.Error()
		log.Errorf("test %s failed: %v", r.cfg.ID, aggErr)
	case atomic.LoadInt32(&r.cancelled) == 1:
		state = CANCELLED
	}

	r.report = Report{
		TestID:    r.cfg.ID,
		Type:      r.cfg.Type,
		State:     state,
		Error:     errMsg,
		Started:   started,
		Finished:  time.Now(),
		Final:     final,
		Resources: resources,
	}
	r.setState(state)
	if r.pub != nil {
		r.pub.PublishReport(r.cfg.ID, r.report)
	}
	close(r.done)
}

// runAggregator runs the aggregator to completion, converting a panic
// anywhere in the aggregation path into an AggregationError while
// preserving the last good snapshot for diagnostics. On failure the
// dispatcher is cancelled and the channel drained so workers blocked on
// the outcome send can exit.
func (r *Run) runAggregator(out chan Outcome) (snap Snapshot, err error) {
	defer func() {
		if p := recover(); p != nil {
			snap = r.agg.Latest()
			err = &AggregationError{Reason: fmt.Sprintf("%v", p)}
			r.disp.Cancel()
			go func() {
				for range out {
				}
			}()
		}
	}()
	return r.agg.Run(), nil
}

// Cancel requests cooperative cancellation. No new request starts after
// the dispatcher observes the flag; outcomes already in flight are
// drained into the final report, which carries state CANCELLED.
func (r *Run) Cancel() {
	if TestState(atomic.LoadInt32(&r.state)).IsDone() {
		return
	}
	atomic.StoreInt32(&r.cancelled, 1)
	r.disp.Cancel()
	log.Infof("cancellation requested for test %s", r.cfg.ID)
}

// Snapshot returns the latest aggregated view of the run.
func (r *Run) Snapshot() Snapshot { return r.agg.Latest() }

// State returns the run's current lifecycle state.
func (r *Run) State() TestState { return TestState(atomic.LoadInt32(&r.state)) }

// Config returns the run's immutable configuration.
func (r *Run) Config() TestConfig { return *r.cfg }

// Done is closed once the terminal report is available.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run reaches a terminal state and returns the
// report.
func (r *Run) Wait() Report {
	<-r.done
	return r.report
}

func (r *Run) setState(s TestState) {
	atomic.StoreInt32(&r.state, int32(s))
}

func newTestID() string {
	id, err := uuid.NewV4()
	if err != nil {
		// rand failure; fall back to a time-based id.
		return fmt.Sprintf("test-%d", time.Now().UnixNano())
	}
	return "test-" + id.String()
}
