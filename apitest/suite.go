// Package apitest runs declarative assertion suites against an HTTP
// API: each case issues one request and checks the response status and,
// optionally, that the response body contains the expected fields.
package apitest

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/ballista-dev/ballista/transport"
)

// Case is one declarative assertion. Body and ExpectedBody are decoded
// loosely (interface{}) so suites load identically from JSON and YAML.
type Case struct {
	Name           string            `json:"name" yaml:"name"`
	Method         string            `json:"method" yaml:"method"`
	URL            string            `json:"url" yaml:"url"`
	Headers        map[string]string `json:"headers" yaml:"headers"`
	Body           interface{}       `json:"body" yaml:"body"`
	ExpectedStatus int               `json:"expected_status" yaml:"expected_status"`
	ExpectedBody   interface{}       `json:"expected_body" yaml:"expected_body"`
}

// Suite is an ordered list of cases run against one API.
type Suite struct {
	Name  string `json:"name" yaml:"name"`
	Cases []Case `json:"cases" yaml:"cases"`
}

// Validate rejects suites that cannot produce a meaningful verdict.
func (s *Suite) Validate() error {
	if len(s.Cases) == 0 {
		return errors.New("suite has no cases")
	}
	for i, c := range s.Cases {
		if c.URL == "" {
			return errors.Errorf("case %d (%s) has no url", i, c.displayName(i))
		}
		if c.ExpectedStatus == 0 {
			return errors.Errorf("case %d (%s) has no expected_status", i, c.displayName(i))
		}
		if _, err := transport.ParseMethod(c.Method); err != nil {
			return errors.Wrapf(err, "case %d (%s)", i, c.displayName(i))
		}
	}
	return nil
}

func (c *Case) displayName(idx int) string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("case-%d", idx)
}

// request converts a case into the wire request the engine executes.
func (c *Case) request() (transport.Request, error) {
	m, err := transport.ParseMethod(c.Method)
	if err != nil {
		return transport.Request{}, err
	}
	var body []byte
	if c.Body != nil {
		body, err = json.Marshal(c.Body)
		if err != nil {
			return transport.Request{}, errors.Wrapf(err, "couldn't encode body for %s", c.Name)
		}
	}
	return transport.Request{
		Method:  m,
		URL:     c.URL,
		Headers: c.Headers,
		Body:    body,
	}, nil
}
