package runner

import "fmt"

// TestState is the lifecycle state of one test run.
type TestState int

const (
	// An unambiguous 0-value.
	UNKNOWN TestState = iota
	// Config accepted, run not yet started.
	CREATED
	// Dispatching requests / draining outcomes.
	RUNNING

	// States below are end states.
	// A run in an end state will not change its state.

	// Dispatcher exhausted or deadline reached, aggregator fully drained.
	COMPLETED
	// User requested cancellation; partial results were drained.
	CANCELLED
	// Internal aggregation/pipeline failure. Per-request errors never
	// produce this state.
	FAILED
)

func (s TestState) IsDone() bool {
	return s == COMPLETED || s == CANCELLED || s == FAILED
}

func (s TestState) String() string {
	switch s {
	case UNKNOWN:
		return "UNKNOWN"
	case CREATED:
		return "CREATED"
	case RUNNING:
		return "RUNNING"
	case COMPLETED:
		return "COMPLETED"
	case CANCELLED:
		return "CANCELLED"
	case FAILED:
		return "FAILED"
	default:
		panic(fmt.Sprintf("Unexpected TestState %v", int(s)))
	}
}

func (s TestState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// TestType distinguishes the three run disciplines.
type TestType int

const (
	// Fixed-count run against one or more targets.
	LoadTest TestType = iota
	// Fixed-duration run measuring sustained throughput.
	StressTest
	// Closed set of request cases with assertions.
	ApiTest
)

func (t TestType) String() string {
	switch t {
	case LoadTest:
		return "load"
	case StressTest:
		return "stress"
	case ApiTest:
		return "api"
	default:
		return "unknown"
	}
}

func (t TestType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}
