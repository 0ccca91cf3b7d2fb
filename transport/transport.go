// Package transport executes single HTTP requests on behalf of the test
// engine. It owns connection reuse and per-request timeouts; everything
// above it deals in Request/RawOutcome values and never sees an
// *http.Response.
package transport

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
)

// Method is the closed set of HTTP verbs the engine can issue.
type Method int

const (
	GET Method = iota
	POST
	PUT
	DELETE
	PATCH
	HEAD
)

func (m Method) String() string {
	switch m {
	case GET:
		return "GET"
	case POST:
		return "POST"
	case PUT:
		return "PUT"
	case DELETE:
		return "DELETE"
	case PATCH:
		return "PATCH"
	case HEAD:
		return "HEAD"
	default:
		return "UNKNOWN"
	}
}

// ParseMethod maps a verb string onto the closed Method set.
// Case-insensitive. Unknown verbs are an error, not a passthrough.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(s) {
	case "GET", "":
		return GET, nil
	case "POST":
		return POST, nil
	case "PUT":
		return PUT, nil
	case "DELETE":
		return DELETE, nil
	case "PATCH":
		return PATCH, nil
	case "HEAD":
		return HEAD, nil
	}
	return GET, errors.Errorf("unsupported HTTP method: %q", s)
}

// Request is one fully specified HTTP request.
type Request struct {
	Method  Method
	URL     string
	Headers map[string]string
	Body    []byte
}

// RawOutcome is what the transport reports back for a completed request.
// Body is only populated when the client was built to retain bodies.
type RawOutcome struct {
	Status int
	Bytes  int64
	Body   []byte
}

// Transport executes one request. Implementations own pooling,
// keep-alive and protocol negotiation.
type Transport interface {
	Execute(ctx context.Context, req Request) (RawOutcome, error)
}

// Client is the default Transport, backed by pester's resilient HTTP
// client. Retries are disabled: the engine records failures as outcomes
// instead of papering over them, and count-bound runs must issue exactly
// one attempt per scheduled request.
type Client struct {
	hc *pester.Client

	// KeepBody retains response bodies on outcomes. API assertion runs
	// need them; plain load runs only need the byte count.
	KeepBody bool
}

// NewClient returns a Client with the given per-request timeout.
// A zero timeout means no client-side limit.
func NewClient(timeout time.Duration) *Client {
	c := pester.New()
	c.Concurrency = 1
	c.MaxRetries = 1
	c.Backoff = pester.DefaultBackoff
	c.KeepLog = false
	c.Timeout = timeout
	return &Client{hc: c}
}

func (c *Client) Execute(ctx context.Context, req Request) (RawOutcome, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method.String(), req.URL, body)
	if err != nil {
		return RawOutcome{}, errors.Wrap(err, "building request")
	}
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(hreq)
	if err != nil {
		return RawOutcome{}, err
	}
	defer resp.Body.Close()

	out := RawOutcome{Status: resp.StatusCode}
	if c.KeepBody {
		b, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return out, err
		}
		out.Body = b
		out.Bytes = int64(len(b))
	} else {
		n, err := io.Copy(ioutil.Discard, resp.Body)
		if err != nil {
			return out, err
		}
		out.Bytes = n
	}
	return out, nil
}
