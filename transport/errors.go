package transport

import (
	"context"
	"errors"
	"net"
	"net/url"
)

// ErrorKind classifies a transport failure. Failed requests become
// recorded outcomes carrying a kind; they never abort a run.
type ErrorKind int

const (
	// NoError marks an outcome whose request completed with a response,
	// whatever the status code.
	NoError ErrorKind = iota
	// ConnectionError covers dial/refused/reset failures.
	ConnectionError
	// TimeoutError covers client timeouts, context deadlines and
	// requests abandoned at the end of a run's grace period.
	TimeoutError
	// ProtocolError covers malformed responses and everything else.
	ProtocolError
)

func (k ErrorKind) String() string {
	switch k {
	case NoError:
		return "none"
	case ConnectionError:
		return "connection"
	case TimeoutError:
		return "timeout"
	case ProtocolError:
		return "protocol"
	default:
		return "unknown"
	}
}

func (k ErrorKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// Classify maps an error returned by a Transport to its kind.
func Classify(err error) ErrorKind {
	if err == nil {
		return NoError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return TimeoutError
	}
	var oerr *net.OpError
	if errors.As(err, &oerr) {
		return ConnectionError
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		// url.Error wrapping something that isn't a net error is a
		// malformed URL or protocol level failure.
		if uerr.Timeout() {
			return TimeoutError
		}
		return ConnectionError
	}
	return ProtocolError
}
