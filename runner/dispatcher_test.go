package runner

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ballista-dev/ballista/transport"
)

func collect(out <-chan Outcome) []Outcome {
	var all []Outcome
	for o := range out {
		all = append(all, o)
	}
	return all
}

func countBoundConfig(url string, total, concurrency int) TestConfig {
	return TestConfig{
		Type:           LoadTest,
		Targets:        []string{url},
		Concurrency:    concurrency,
		TotalRequests:  total,
		RequestTimeout: 5 * time.Second,
	}
}

func TestCountBoundIssuesExactTotal(t *testing.T) {
	var hits int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
	}))
	defer ts.Close()

	cfg := countBoundConfig(ts.URL, 50, 5)
	out := make(chan Outcome, 100)
	d := NewDispatcher(&cfg, transport.NewClient(cfg.RequestTimeout), out, nil)
	go d.Run()

	all := collect(out)
	if len(all) != 50 {
		t.Fatalf("got %d outcomes, want 50", len(all))
	}
	if n := atomic.LoadInt64(&hits); n != 50 {
		t.Fatalf("server saw %d requests, want 50", n)
	}
	for _, o := range all {
		if o.Failed() {
			t.Fatalf("unexpected failure outcome: %+v", o)
		}
		if o.Case != -1 {
			t.Fatalf("load outcome should carry case -1, got %d", o.Case)
		}
	}
}

func TestConcurrencyNeverExceedsBound(t *testing.T) {
	var current, max int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&current, 1)
		for {
			m := atomic.LoadInt64(&max)
			if n <= m || atomic.CompareAndSwapInt64(&max, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&current, -1)
	}))
	defer ts.Close()

	cfg := countBoundConfig(ts.URL, 40, 4)
	out := make(chan Outcome, 100)
	d := NewDispatcher(&cfg, transport.NewClient(cfg.RequestTimeout), out, nil)
	go d.Run()
	collect(out)

	if m := atomic.LoadInt64(&max); m > 4 {
		t.Fatalf("observed %d concurrent requests, bound is 4", m)
	}
}

func TestTargetsHitRoundRobin(t *testing.T) {
	var hitsA, hitsB int64
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hitsA, 1)
	}))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hitsB, 1)
	}))
	defer b.Close()

	cfg := countBoundConfig(a.URL, 10, 2)
	cfg.Targets = []string{a.URL, b.URL}
	out := make(chan Outcome, 20)
	d := NewDispatcher(&cfg, transport.NewClient(cfg.RequestTimeout), out, nil)
	go d.Run()
	collect(out)

	if hitsA != 5 || hitsB != 5 {
		t.Fatalf("round robin split %d/%d, want 5/5", hitsA, hitsB)
	}
}

func TestConnectionFailuresAreOutcomes(t *testing.T) {
	cfg := countBoundConfig("http://127.0.0.1:1/", 5, 2)
	out := make(chan Outcome, 10)
	d := NewDispatcher(&cfg, transport.NewClient(cfg.RequestTimeout), out, nil)
	go d.Run()

	all := collect(out)
	if len(all) != 5 {
		t.Fatalf("got %d outcomes, want 5", len(all))
	}
	for _, o := range all {
		if !o.Failed() {
			t.Fatalf("outcome should be a failure: %+v", o)
		}
		if o.Kind != transport.ConnectionError {
			t.Fatalf("got kind %v, want ConnectionError", o.Kind)
		}
		if o.Error == "" {
			t.Fatal("failure outcome should carry an error message")
		}
	}
}

func TestTimeBoundStopsAtDeadline(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	cfg := TestConfig{
		Type:           StressTest,
		Targets:        []string{ts.URL},
		Concurrency:    4,
		Duration:       200 * time.Millisecond,
		RequestTimeout: time.Second,
	}
	out := make(chan Outcome, 4096)
	d := NewDispatcher(&cfg, transport.NewClient(cfg.RequestTimeout), out, nil)

	start := time.Now()
	go d.Run()
	all := collect(out)
	elapsed := time.Since(start)

	if len(all) == 0 {
		t.Fatal("expected some outcomes before the deadline")
	}
	// Deadline plus drain must stay well under the grace ceiling.
	if elapsed > cfg.Duration+2*cfg.RequestTimeout+time.Second {
		t.Fatalf("run took %s, way past deadline+grace", elapsed)
	}
}

func TestCancelStopsNewDispatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
	}))
	defer ts.Close()

	cfg := countBoundConfig(ts.URL, 10000, 2)
	out := make(chan Outcome, 10000)
	d := NewDispatcher(&cfg, transport.NewClient(cfg.RequestTimeout), out, nil)
	go d.Run()

	// Let a few requests through, then cancel.
	first := <-out
	_ = first
	d.Cancel()

	all := collect(out)
	if len(all) >= 9999 {
		t.Fatalf("cancellation did not stop dispatch, got %d outcomes", len(all))
	}
}

func TestGraceAbandonsStragglers(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	cfg := TestConfig{
		Type:        StressTest,
		Targets:     []string{ts.URL},
		Concurrency: 2,
		Duration:    50 * time.Millisecond,
		// No request timeout: the grace floor bounds the drain.
	}
	out := make(chan Outcome, 16)
	d := NewDispatcher(&cfg, transport.NewClient(0), out, nil)

	start := time.Now()
	go d.Run()
	all := collect(out)
	elapsed := time.Since(start)

	if len(all) == 0 {
		t.Fatal("expected abandoned outcomes")
	}
	for _, o := range all {
		if o.Kind != transport.TimeoutError {
			t.Fatalf("straggler reported as %v, want TimeoutError", o.Kind)
		}
	}
	if elapsed > 5*time.Second {
		t.Fatalf("drain took %s, grace floor is 1s", elapsed)
	}
}

func TestMaxRPSCapsLaunchRate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	cfg := countBoundConfig(ts.URL, 30, 10)
	cfg.MaxRPS = 100
	out := make(chan Outcome, 30)
	d := NewDispatcher(&cfg, transport.NewClient(cfg.RequestTimeout), out, nil)

	start := time.Now()
	go d.Run()
	all := collect(out)
	elapsed := time.Since(start)

	if len(all) != 30 {
		t.Fatalf("got %d outcomes, want 30", len(all))
	}
	// 30 requests at 100 rps with a burst of 100 can finish instantly in
	// theory, but the limiter must never make it slower than ~2s.
	if elapsed > 2*time.Second {
		t.Fatalf("rate-limited run took %s", elapsed)
	}
}

func TestInflightSetExactlyOnce(t *testing.T) {
	fl := newInflightSet()
	t1 := fl.add("http://a")
	t2 := fl.add("http://b")

	if !fl.finish(t1) {
		t.Fatal("finish before abandon should deliver")
	}
	targets := fl.abandon()
	if len(targets) != 1 || targets[0] != "http://b" {
		t.Fatalf("abandon returned %v, want [http://b]", targets)
	}
	if fl.finish(t2) {
		t.Fatal("finish after abandon must not deliver")
	}
	if again := fl.abandon(); len(again) != 0 {
		t.Fatalf("second abandon returned %v, want none", again)
	}
}
