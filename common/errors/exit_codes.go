package errors

type ExitCode int

const (
	// Invalid configuration rejected before a run started.
	ConfigFailureExitCode ExitCode = 2

	// The run itself failed (aggregation pipeline, not per-request errors).
	RunFailureExitCode ExitCode = 3

	// An API assertion suite completed but at least one case failed.
	SuiteFailureExitCode ExitCode = 4

	// Target resolution produced no usable URLs.
	ResolveFailureExitCode ExitCode = 5
)
