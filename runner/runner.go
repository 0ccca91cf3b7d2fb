// Package runner is the concurrent test execution engine: a Dispatcher
// issuing requests under a concurrency bound and temporal policy, an
// Aggregator that is the sole owner of running statistics, and the
// snapshot/report plumbing between them. Workers and the aggregator
// cooperate exclusively through a bounded outcome channel; no run's
// metrics are ever mutated from more than one goroutine.
package runner

import (
	"time"

	"github.com/ballista-dev/ballista/transport"
)

// TestConfig is the immutable description of one run. Construct it,
// Validate it, hand it to Start; never mutate it afterwards.
type TestConfig struct {
	ID        string    `json:"id"`
	Type      TestType  `json:"type"`
	CreatedAt time.Time `json:"created_at"`

	// Targets are hit round-robin. Required unless Cases is set.
	Targets []string `json:"targets,omitempty"`

	// Concurrency bounds the number of requests in flight at any instant.
	Concurrency int `json:"concurrency"`

	// TotalRequests > 0 selects a count-bound run.
	TotalRequests int `json:"total_requests,omitempty"`

	// Duration > 0 selects a time-bound run. No new request starts after
	// start+Duration; in-flight requests get a bounded grace period.
	Duration time.Duration `json:"duration,omitempty"`

	// RequestTimeout applies per request. Zero means no client limit.
	RequestTimeout time.Duration `json:"request_timeout,omitempty"`

	// MaxRPS caps the launch rate. Zero means unlimited.
	MaxRPS int `json:"max_rps,omitempty"`

	// Request is the template for load/stress runs (method, headers, body).
	Request transport.Request `json:"-"`

	// Cases replaces Targets/TotalRequests for API runs: each case is
	// issued exactly once and its outcome carries the case index.
	Cases []transport.Request `json:"-"`
}

// CountBound reports whether the run stops after a fixed number of
// requests (as opposed to a wall-clock deadline).
func (c *TestConfig) CountBound() bool {
	return len(c.Cases) > 0 || c.TotalRequests > 0
}

// Total returns the number of requests a count-bound run will issue.
func (c *TestConfig) Total() int {
	if len(c.Cases) > 0 {
		return len(c.Cases)
	}
	return c.TotalRequests
}

// Validate gates the CREATED -> RUNNING transition.
func (c *TestConfig) Validate() error {
	if c.Concurrency < 1 {
		return NewConfigError("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if len(c.Cases) > 0 {
		return nil
	}
	if len(c.Targets) == 0 {
		return NewConfigError("no target URLs")
	}
	if c.TotalRequests > 0 && c.Duration > 0 {
		return NewConfigError("total_requests and duration are mutually exclusive")
	}
	if c.TotalRequests <= 0 && c.Duration <= 0 {
		return NewConfigError("either total_requests or duration must be > 0")
	}
	if c.MaxRPS < 0 {
		return NewConfigError("max_rps must be >= 0, got %d", c.MaxRPS)
	}
	return nil
}

// Outcome is the result of one completed request attempt, success or
// failure. Exactly one Outcome is emitted per attempt; failures are
// data, never control flow.
type Outcome struct {
	Target string              `json:"target"`
	Status int                 `json:"status"`
	Kind   transport.ErrorKind `json:"error_kind"`
	Error  string              `json:"error,omitempty"`

	Latency     time.Duration `json:"latency_ns"`
	Bytes       int64         `json:"bytes"`
	CompletedAt time.Time     `json:"completed_at"`

	// Case is the index of the API case that produced this outcome,
	// -1 for plain load/stress requests.
	Case int `json:"case,omitempty"`

	// Body is retained only for API runs.
	Body []byte `json:"-"`
}

// Failed reports whether this outcome counts toward the error total.
// Statuses 200-399 are successes, everything else is not.
func (o *Outcome) Failed() bool {
	if o.Kind != transport.NoError {
		return true
	}
	return o.Status < 200 || o.Status >= 400
}

// Snapshot is an immutable point-in-time view of an in-progress run's
// aggregated metrics. Counts are monotonically non-decreasing across
// successive snapshots of one run.
type Snapshot struct {
	Seq            int64         `json:"seq"`
	Count          int64         `json:"requests_completed"`
	Errors         int64         `json:"errors"`
	RequestsPerSec float64       `json:"requests_per_second"`
	AvgMs          float64       `json:"avg_response_time_ms"`
	MinMs          float64       `json:"min_response_time_ms"`
	MaxMs          float64       `json:"max_response_time_ms"`
	MedianMs       float64       `json:"median_response_time_ms"`
	P95Ms          float64       `json:"p95_response_time_ms"`
	StatusCodes    map[int]int64 `json:"status_codes"`
	Elapsed        time.Duration `json:"elapsed_ns"`
	Taken          time.Time     `json:"taken_at"`
}

// CaseResult is the pass/fail record for one API test case.
type CaseResult struct {
	Name           string  `json:"name"`
	Passed         bool    `json:"passed"`
	Status         int     `json:"status"`
	ExpectedStatus int     `json:"expected_status"`
	LatencyMs      float64 `json:"latency_ms"`
	Error          string  `json:"error,omitempty"`
}

// Report is the immutable terminal result of a run.
type Report struct {
	TestID   string    `json:"test_id"`
	Type     TestType  `json:"type"`
	State    TestState `json:"state"`
	Error    string    `json:"error,omitempty"`
	Started  time.Time `json:"started_at"`
	Finished time.Time `json:"finished_at"`

	Final Snapshot `json:"metrics"`

	// Resources is nil when no resource samples were collected.
	Resources *ResourceSummary `json:"resources,omitempty"`

	// Cases and Passed are only meaningful for API runs. Passed is the
	// conjunction of all case results.
	Cases  []CaseResult `json:"cases,omitempty"`
	Passed bool         `json:"passed,omitempty"`
}

// ResourceSummary aggregates the host samples collected over a run.
// Defined here rather than in the monitor package so reports don't pull
// in the sampling implementation.
type ResourceSummary struct {
	AvgCPUPercent    float64 `json:"avg_cpu_percent"`
	MaxCPUPercent    float64 `json:"max_cpu_percent"`
	AvgMemoryPercent float64 `json:"avg_memory_percent"`
	MaxMemoryPercent float64 `json:"max_memory_percent"`
	Samples          int     `json:"samples"`
}
