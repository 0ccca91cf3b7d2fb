package apitest

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadSuite reads a suite definition from a JSON or YAML file, chosen
// by extension (.json vs .yaml/.yml), and validates it.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't read suite %s", path)
	}

	var s Suite
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		err = yaml.Unmarshal(data, &s)
	default:
		err = json.Unmarshal(data, &s)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't parse suite %s", path)
	}
	if err := s.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid suite %s", path)
	}
	return &s, nil
}
