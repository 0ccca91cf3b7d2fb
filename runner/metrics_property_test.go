//go:build property_test
// +build property_test

package runner

import (
	"sort"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func Test_RandomOutcomeAggregation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("final snapshot is internally consistent", prop.ForAll(
		func(latsMs []int64) bool {
			in := make(chan Outcome, len(latsMs)+1)
			a := NewAggregator(in, time.Hour, nil)
			for _, ms := range latsMs {
				in <- outcome(200, time.Duration(ms)*time.Millisecond)
			}
			close(in)
			s := a.Run()

			ok := s.Count == int64(len(latsMs)) &&
				s.Errors == 0 &&
				s.StatusCodes[200] == int64(len(latsMs))
			if len(latsMs) > 0 {
				ok = ok &&
					s.MinMs <= s.MedianMs &&
					s.MedianMs <= s.P95Ms &&
					s.P95Ms <= s.MaxMs &&
					s.MinMs <= s.AvgMs && s.AvgMs <= s.MaxMs
			}
			if !ok {
				t.Log(spew.Sdump(latsMs, s))
			}
			return ok
		},
		gen.SliceOf(gen.Int64Range(0, 10000)),
	))

	properties.Property("nearest rank picks an observed value", prop.ForAll(
		func(vals []int64, pct float64) bool {
			if len(vals) == 0 {
				return nearestRank(vals, pct) == 0
			}
			sorted := append([]int64(nil), vals...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			got := nearestRank(sorted, pct)
			for _, v := range sorted {
				if v == got {
					return true
				}
			}
			return false
		},
		gen.SliceOf(gen.Int64Range(0, 1<<40)),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}
