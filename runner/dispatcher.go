package runner

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ballista-dev/ballista/common/stats"
	"github.com/ballista-dev/ballista/transport"
)

// graceFloor bounds the drain wait when no per-request timeout is
// configured.
const graceFloor = time.Second

// Dispatcher issues requests under the configured concurrency bound and
// temporal policy and emits exactly one Outcome per completed attempt
// on its outcome channel. Per-request failures are recorded, never
// thrown; the run is aborted only by Cancel or the deadline.
//
// The outcome channel is bounded: when the consumer falls behind, the
// send blocks the producing worker, throttling dispatch to match
// processing capacity.
type Dispatcher struct {
	cfg     *TestConfig
	client  transport.Transport
	out     chan<- Outcome
	limiter *rate.Limiter
	stat    stats.StatsReceiver

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

func NewDispatcher(cfg *TestConfig, client transport.Transport, out chan<- Outcome, stat stats.StatsReceiver) *Dispatcher {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	var limiter *rate.Limiter
	if cfg.MaxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), cfg.MaxRPS)
	}
	return &Dispatcher{
		cfg:      cfg,
		client:   client,
		out:      out,
		limiter:  limiter,
		stat:     stat,
		cancelCh: make(chan struct{}),
	}
}

// Cancel requests cooperative cancellation: no new request is launched
// after the flag is observed, and outstanding requests drain under the
// same grace discipline as a deadline. Safe to call more than once.
func (d *Dispatcher) Cancel() {
	d.cancelOnce.Do(func() { close(d.cancelCh) })
}

func (d *Dispatcher) cancelled() bool {
	select {
	case <-d.cancelCh:
		return true
	default:
		return false
	}
}

// Run dispatches until exhaustion, deadline or cancellation, then
// closes the outcome channel. It blocks until every accepted outcome
// has been delivered.
func (d *Dispatcher) Run() {
	defer close(d.out)
	if d.cfg.CountBound() {
		d.runCountBound()
	} else {
		d.runTimeBound()
	}
}

// grace is the bounded wait for stragglers after a deadline or cancel:
// twice the per-request timeout, with a fixed floor when no timeout is
// configured. Never unbounded.
func (d *Dispatcher) grace() time.Duration {
	if d.cfg.RequestTimeout > 0 {
		return 2 * d.cfg.RequestTimeout
	}
	return graceFloor
}

// runCountBound distributes exactly Total() requests across a fixed
// worker set pulling from a shared work supply until exhausted.
func (d *Dispatcher) runCountBound() {
	reqCtx, abandonReqs := context.WithCancel(context.Background())
	defer abandonReqs()

	fl := newInflightSet()
	work := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				d.attempt(reqCtx, fl, idx)
			}
		}()
	}

	total := d.cfg.Total()
feed:
	for i := 0; i < total; i++ {
		if !d.pace(reqCtx) {
			break feed
		}
		select {
		case work <- i:
		case <-d.cancelCh:
			break feed
		}
	}
	close(work)

	d.drain(&wg, fl, abandonReqs, d.cancelled())
}

// runTimeBound launches requests through a counting gate for the
// configured duration. The gate, not a worker pool, enforces the
// concurrency bound; a slot is held for the full request lifetime so
// the bound is never exceeded even transiently.
func (d *Dispatcher) runTimeBound() {
	reqCtx, abandonReqs := context.WithCancel(context.Background())
	defer abandonReqs()

	start := time.Now()
	deadline := start.Add(d.cfg.Duration)
	timer := time.NewTimer(d.cfg.Duration)
	defer timer.Stop()

	fl := newInflightSet()
	gate := make(chan struct{}, d.cfg.Concurrency)
	var wg sync.WaitGroup

	idx := 0
launch:
	for {
		if !d.pace(reqCtx) {
			break launch
		}
		select {
		case gate <- struct{}{}:
		case <-timer.C:
			break launch
		case <-d.cancelCh:
			break launch
		}
		// A slot may have been granted at the same instant the deadline
		// passed; a request only starts while the clock is inside the window.
		if !time.Now().Before(deadline) || d.cancelled() {
			<-gate
			break launch
		}
		i := idx
		idx++
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-gate }()
			d.attempt(reqCtx, fl, i)
		}()
	}

	d.drain(&wg, fl, abandonReqs, true)
}

// pace waits on the optional rate limiter. Returns false if the run was
// cancelled while waiting.
func (d *Dispatcher) pace(ctx context.Context) bool {
	if d.limiter == nil {
		return !d.cancelled()
	}
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.cancelCh:
			cancel()
		case <-waitCtx.Done():
		}
	}()
	if err := d.limiter.Wait(waitCtx); err != nil {
		return false
	}
	return !d.cancelled()
}

// attempt executes the request for one work index and delivers its
// outcome, unless the in-flight set was abandoned first (in which case
// the abandoner has already reported it as a timeout).
func (d *Dispatcher) attempt(ctx context.Context, fl *inflightSet, idx int) {
	req, caseIdx := d.request(idx)
	tok := fl.add(req.URL)
	d.stat.Gauge("inflight").Update(int64(fl.len()))

	if d.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := d.client.Execute(ctx, req)
	latency := time.Since(start)

	d.stat.Counter("requests_dispatched").Inc(1)
	d.stat.Latency("request_latency").Update(latency)

	o := Outcome{
		Target:      req.URL,
		Case:        caseIdx,
		Latency:     latency,
		CompletedAt: time.Now(),
	}
	if err != nil {
		o.Kind = transport.Classify(err)
		o.Error = err.Error()
		log.Debugf("request to %s failed: %v", req.URL, err)
	} else {
		o.Status = raw.Status
		o.Bytes = raw.Bytes
		o.Body = raw.Body
	}

	if fl.finish(tok) {
		d.out <- o
	}
}

// request selects the request spec for a work index: the case at that
// index in API mode, otherwise the template aimed at the round-robin
// target.
func (d *Dispatcher) request(idx int) (transport.Request, int) {
	if len(d.cfg.Cases) > 0 {
		return d.cfg.Cases[idx], idx
	}
	req := d.cfg.Request
	req.URL = d.cfg.Targets[idx%len(d.cfg.Targets)]
	return req, -1
}

// drain waits for outstanding workers. With graceful=false it waits
// until natural exhaustion (count-bound happy path, where the outcome
// total must be exact). With graceful=true it waits at most the grace
// period, then force-abandons stragglers: their contexts are cancelled
// and each is reported exactly once as a timeout failure.
func (d *Dispatcher) drain(wg *sync.WaitGroup, fl *inflightSet, abandonReqs context.CancelFunc, graceful bool) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var graceCh <-chan time.Time
	if graceful {
		graceCh = time.After(d.grace())
	}

	select {
	case <-done:
	case <-graceCh:
		targets := fl.abandon()
		if len(targets) > 0 {
			log.Infof("abandoning %d in-flight requests after %s grace", len(targets), d.grace())
		}
		abandonReqs()
		now := time.Now()
		for _, target := range targets {
			d.out <- Outcome{
				Target:      target,
				Kind:        transport.TimeoutError,
				Error:       "request abandoned after grace period",
				Case:        -1,
				CompletedAt: now,
			}
		}
		<-done
	}
	d.stat.Gauge("inflight").Update(0)
}

// inflightSet tracks outstanding requests and decides, under one lock,
// whether the worker or the abandoner reports each outcome. This is
// what keeps abandoned requests from being double-counted.
type inflightSet struct {
	mu        sync.Mutex
	abandoned bool
	next      int
	pending   map[int]string
}

func newInflightSet() *inflightSet {
	return &inflightSet{pending: map[int]string{}}
}

func (s *inflightSet) add(target string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := s.next
	s.next++
	s.pending[tok] = target
	return tok
}

// finish reports whether the worker still owns delivery of its outcome.
// After abandon it returns false and the outcome is discarded.
func (s *inflightSet) finish(tok int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abandoned {
		return false
	}
	delete(s.pending, tok)
	return true
}

// abandon marks the set closed and returns the targets of every request
// still outstanding, exactly once each.
func (s *inflightSet) abandon() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = true
	targets := make([]string, 0, len(s.pending))
	for _, t := range s.pending {
		targets = append(targets, t)
	}
	s.pending = map[int]string{}
	return targets
}

func (s *inflightSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
