package runner

import "fmt"

// ConfigError rejects a test before it enters RUNNING. It is the only
// error Start returns.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid test config: " + e.Reason
}

func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// AggregationError marks an internal pipeline failure. It is fatal to
// the run and yields state FAILED with the last good snapshot attached.
type AggregationError struct {
	Reason string
}

func (e *AggregationError) Error() string {
	return "aggregation failure: " + e.Reason
}
