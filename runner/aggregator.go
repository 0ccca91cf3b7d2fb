package runner

import (
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rcrowley/go-metrics"
)

// latencySampleSize bounds retained latency samples. Beyond this count
// the reservoir keeps a uniform random sample, so percentiles become
// estimates while count/min/max/avg stay exact.
const latencySampleSize = 10000

// DefaultSnapshotInterval is the cadence at which the aggregator
// refreshes its published snapshot.
const DefaultSnapshotInterval = 500 * time.Millisecond

// Aggregator is the single consumer of the outcome channel and the
// exclusive owner of the running metrics; nothing else ever mutates
// them, which removes locking from the hot path by construction.
// Outcomes are processed strictly in completion order.
type Aggregator struct {
	in       <-chan Outcome
	interval time.Duration
	observer func(Outcome)

	latest atomic.Value // Snapshot

	// Running metrics, touched only from run().
	seq     int64
	count   int64
	errs    int64
	sumLat  time.Duration
	minLat  time.Duration
	maxLat  time.Duration
	codes   map[int]int64
	sample  metrics.Sample
	started time.Time

	// Count at the last published snapshot; ticks with no new outcomes
	// publish nothing, so Seq only advances when the data changed.
	snapCount int64
}

// NewAggregator consumes outcomes from in until it is closed. The
// optional observer is invoked for every outcome from the aggregator's
// own goroutine, after the metrics update; it must not retain the
// outcome's Body past the call.
func NewAggregator(in <-chan Outcome, interval time.Duration, observer func(Outcome)) *Aggregator {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	a := &Aggregator{
		in:       in,
		interval: interval,
		observer: observer,
		codes:    map[int]int64{},
		sample:   metrics.NewUniformSample(latencySampleSize),
	}
	a.latest.Store(Snapshot{StatusCodes: map[int]int64{}})
	return a
}

// Latest returns the most recently published snapshot. Repeated calls
// with no new outcomes return identical statistics.
func (a *Aggregator) Latest() Snapshot {
	return a.latest.Load().(Snapshot)
}

// Run processes outcomes until the intake channel is closed and
// drained, then publishes and returns the final snapshot.
func (a *Aggregator) Run() Snapshot {
	a.started = time.Now()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case o, ok := <-a.in:
			if !ok {
				final := a.snapshot()
				a.latest.Store(final)
				return final
			}
			a.update(o)
			if a.observer != nil {
				a.observer(o)
			}
		case <-ticker.C:
			if a.count == a.snapCount && a.seq > 0 {
				continue
			}
			a.latest.Store(a.snapshot())
		}
	}
}

func (a *Aggregator) update(o Outcome) {
	a.count++
	if o.Failed() {
		a.errs++
	}
	a.codes[o.Status]++
	a.sumLat += o.Latency
	if a.count == 1 || o.Latency < a.minLat {
		a.minLat = o.Latency
	}
	if o.Latency > a.maxLat {
		a.maxLat = o.Latency
	}
	a.sample.Update(o.Latency.Nanoseconds())
}

func (a *Aggregator) snapshot() Snapshot {
	a.seq++
	a.snapCount = a.count
	s := Snapshot{
		Seq:         a.seq,
		Count:       a.count,
		Errors:      a.errs,
		StatusCodes: make(map[int]int64, len(a.codes)),
		Elapsed:     time.Since(a.started),
		Taken:       time.Now(),
	}
	for code, n := range a.codes {
		s.StatusCodes[code] = n
	}
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.RequestsPerSec = float64(a.count) / secs
	}
	if a.count > 0 {
		s.AvgMs = durToMs(a.sumLat) / float64(a.count)
		s.MinMs = durToMs(a.minLat)
		s.MaxMs = durToMs(a.maxLat)

		vals := a.sample.Values()
		sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
		s.MedianMs = float64(nearestRank(vals, 50)) / float64(time.Millisecond)
		s.P95Ms = float64(nearestRank(vals, 95)) / float64(time.Millisecond)
	}
	return s
}

// nearestRank picks the value at rank round(n*pct/100), 1-based and
// clamped, from an ascending-sorted slice. Nearest-rank rather than
// interpolation, so a reported percentile is always an observed value.
func nearestRank(sorted []int64, pct float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Round(float64(len(sorted))*pct/100.0)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func durToMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
