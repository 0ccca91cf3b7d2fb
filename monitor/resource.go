// Package monitor samples host CPU and memory usage on a fixed cadence
// for the lifetime of a test run. Sampling is loosely coupled to the
// engine: a failed sample is skipped, never retried synchronously, and
// never affects the run's success.
package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"

	"github.com/ballista-dev/ballista/runner"
)

// DefaultInterval is the sampling cadence.
const DefaultInterval = time.Second

// Sampler reads one CPU%/memory% pair. The host implementation uses
// gopsutil; tests substitute their own.
type Sampler interface {
	Sample() (cpuPct float64, memPct float64, err error)
}

type hostSampler struct{}

func (hostSampler) Sample() (float64, float64, error) {
	// Percentage since the previous call; the first reading of a fresh
	// process may be zero.
	cpus, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	var cpuPct float64
	if len(cpus) > 0 {
		cpuPct = cpus[0]
	}
	return cpuPct, vm.UsedPercent, nil
}

// Monitor collects samples between Start and Stop.
type Monitor struct {
	sampler  Sampler
	interval time.Duration

	started  int32
	stopOnce sync.Once
	stop     chan struct{}
	finished chan struct{}

	// Written only by the sampling goroutine, read after finished closes.
	cpu []float64
	mem []float64
}

// New returns a host-backed Monitor with the given cadence.
func New(interval time.Duration) *Monitor {
	return NewWithSampler(hostSampler{}, interval)
}

func NewWithSampler(s Sampler, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		sampler:  s,
		interval: interval,
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Start launches the sampling goroutine. Repeat calls are no-ops.
func (m *Monitor) Start() {
	if atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		go m.run()
	}
}

func (m *Monitor) run() {
	defer close(m.finished)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			cpuPct, memPct, err := m.sampler.Sample()
			if err != nil {
				log.Debugf("resource sample failed, skipping: %v", err)
				continue
			}
			m.cpu = append(m.cpu, cpuPct)
			m.mem = append(m.mem, memPct)
		}
	}
}

// Stop halts sampling and returns the summary over all successful
// samples. Zero samples yields nil rather than a fabricated zero
// summary. Safe to call before Start (returns nil) and more than once.
func (m *Monitor) Stop() *runner.ResourceSummary {
	m.stopOnce.Do(func() { close(m.stop) })
	if atomic.LoadInt32(&m.started) == 1 {
		<-m.finished
	}
	return m.summary()
}

func (m *Monitor) summary() *runner.ResourceSummary {
	if len(m.cpu) == 0 {
		return nil
	}
	s := &runner.ResourceSummary{Samples: len(m.cpu)}
	s.AvgCPUPercent, s.MaxCPUPercent = avgMax(m.cpu)
	s.AvgMemoryPercent, s.MaxMemoryPercent = avgMax(m.mem)
	return s
}

var _ runner.ResourceMonitor = (*Monitor)(nil)

func avgMax(vals []float64) (avg, max float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
		if v > max {
			max = v
		}
	}
	return sum / float64(len(vals)), max
}
