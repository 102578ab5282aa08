// Package monitor samples process and system resource usage and turns
// it into batch-size guidance for the pipeline.
package monitor

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Sample is one point-in-time usage reading.
type Sample struct {
	At            time.Time `json:"at"`
	CPUPercent    float64   `json:"cpu_percent"`
	ProcessMemMB  float64   `json:"process_mem_mb"`
	SystemMemPct  float64   `json:"system_mem_pct"`
	GoroutineHint int       `json:"goroutine_hint,omitempty"`
}

// Summary aggregates the rolling window.
type Summary struct {
	Samples      int     `json:"samples"`
	AvgCPU       float64 `json:"avg_cpu"`
	MaxCPU       float64 `json:"max_cpu"`
	AvgMemMB     float64 `json:"avg_mem_mb"`
	MaxMemMB     float64 `json:"max_mem_mb"`
	AvgSystemPct float64 `json:"avg_system_pct"`
}

// AlertLevel grades resource pressure.
type AlertLevel string

const (
	AlertWarn     AlertLevel = "warn"
	AlertCritical AlertLevel = "critical"
)

// Alert is delivered to registered callbacks when thresholds trip.
type Alert struct {
	Level   AlertLevel
	Message string
	Sample  Sample
}

// Config tunes sampling and thresholds.
type Config struct {
	Interval   time.Duration
	WindowSize int
	// MemoryLimitMB is the soft process budget the batch-size formula
	// scales against.
	MemoryLimitMB   float64
	WarnCPUPct      float64
	CriticalCPUPct  float64
	WarnMemPct      float64
	CriticalMemPct  float64
	ReservationTTL  time.Duration
}

// DefaultConfig matches a single-host collection run.
func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Second,
		WindowSize:     60,
		MemoryLimitMB:  1024,
		WarnCPUPct:     80,
		CriticalCPUPct: 95,
		WarnMemPct:     80,
		CriticalMemPct: 95,
		ReservationTTL: time.Minute,
	}
}

type batchOutcome struct {
	duration time.Duration
	memDelta float64
	at       time.Time
}

type reservation struct {
	memMB     float64
	expiresAt time.Time
}

// Monitor owns the sampling loop and the derived recommendations.
type Monitor struct {
	cfg  Config
	log  *zap.Logger
	proc *process.Process

	mu           sync.Mutex
	window       []Sample
	operations   map[string]time.Time
	opDurations  map[string][]time.Duration
	reservations map[string]reservation
	batches      []batchOutcome
	memLimitMB   float64
	callbacks    []func(Alert)
	now          func() time.Time

	cancel context.CancelFunc
	done   chan struct{}

	sample func() (Sample, error)
}

// New builds a monitor; Start launches the loop.
func New(cfg Config) (*Monitor, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 60
	}
	if cfg.MemoryLimitMB <= 0 {
		cfg.MemoryLimitMB = 1024
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = time.Minute
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, eris.Wrap(err, "monitor: open process")
	}

	m := &Monitor{
		cfg:          cfg,
		log:          zap.L().Named("monitor"),
		proc:         proc,
		operations:   map[string]time.Time{},
		opDurations:  map[string][]time.Duration{},
		reservations: map[string]reservation{},
		memLimitMB:   cfg.MemoryLimitMB,
		now:          time.Now,
	}
	m.sample = m.readSample
	return m, nil
}

// Start launches the background sampling loop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// MemoryUsageMB reads the current process RSS in megabytes. Zero when
// the reading fails.
func (m *Monitor) MemoryUsageMB() float64 {
	s, err := m.sample()
	if err != nil {
		return 0
	}
	return s.ProcessMemMB
}

// Stop halts the loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, err := m.sample()
			if err != nil {
				m.log.Warn("sample failed", zap.Error(err))
				continue
			}
			m.record(s)
		}
	}
}

func (m *Monitor) readSample() (Sample, error) {
	cpuPcts, err := cpu.Percent(0, false)
	if err != nil || len(cpuPcts) == 0 {
		return Sample{}, eris.Wrap(err, "monitor: cpu percent")
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Sample{}, eris.Wrap(err, "monitor: virtual memory")
	}
	memInfo, err := m.proc.MemoryInfo()
	if err != nil {
		return Sample{}, eris.Wrap(err, "monitor: process memory")
	}

	return Sample{
		At:           m.now(),
		CPUPercent:   cpuPcts[0],
		ProcessMemMB: float64(memInfo.RSS) / (1 << 20),
		SystemMemPct: vm.UsedPercent,
	}, nil
}

// record appends to the bounded window and fires alerts.
func (m *Monitor) record(s Sample) {
	m.mu.Lock()
	m.window = append(m.window, s)
	if len(m.window) > m.cfg.WindowSize {
		m.window = m.window[len(m.window)-m.cfg.WindowSize:]
	}

	// Sustained pressure shrinks the working memory budget.
	memPct := s.ProcessMemMB / m.cfg.MemoryLimitMB * 100
	if memPct >= m.cfg.CriticalMemPct && m.memLimitMB > m.cfg.MemoryLimitMB/2 {
		m.memLimitMB *= 0.8
	}

	callbacks := append([]func(Alert){}, m.callbacks...)
	m.mu.Unlock()

	if a := m.alertFor(s, memPct); a != nil {
		for _, cb := range callbacks {
			m.dispatch(cb, *a)
		}
	}
}

func (m *Monitor) alertFor(s Sample, memPct float64) *Alert {
	switch {
	case s.CPUPercent >= m.cfg.CriticalCPUPct || memPct >= m.cfg.CriticalMemPct:
		return &Alert{Level: AlertCritical, Message: "resource usage critical", Sample: s}
	case s.CPUPercent >= m.cfg.WarnCPUPct || memPct >= m.cfg.WarnMemPct:
		return &Alert{Level: AlertWarn, Message: "resource usage elevated", Sample: s}
	default:
		return nil
	}
}

// dispatch isolates callback panics from the sampling loop.
func (m *Monitor) dispatch(cb func(Alert), a Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("alert callback panicked", zap.Any("panic", r))
		}
	}()
	cb(a)
}

// OnAlert registers a callback for threshold breaches.
func (m *Monitor) OnAlert(cb func(Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Current returns the most recent sample.
func (m *Monitor) Current() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.window) == 0 {
		return Sample{}, false
	}
	return m.window[len(m.window)-1], true
}

// Summarize aggregates the rolling window.
func (m *Monitor) Summarize() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Summary{Samples: len(m.window)}
	if out.Samples == 0 {
		return out
	}
	for _, s := range m.window {
		out.AvgCPU += s.CPUPercent
		out.AvgMemMB += s.ProcessMemMB
		out.AvgSystemPct += s.SystemMemPct
		if s.CPUPercent > out.MaxCPU {
			out.MaxCPU = s.CPUPercent
		}
		if s.ProcessMemMB > out.MaxMemMB {
			out.MaxMemMB = s.ProcessMemMB
		}
	}
	n := float64(out.Samples)
	out.AvgCPU /= n
	out.AvgMemMB /= n
	out.AvgSystemPct /= n
	return out
}

// StartOperation marks the beginning of a named operation.
func (m *Monitor) StartOperation(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[name] = m.now()
}

// EndOperation records the elapsed time for a previously started
// operation and returns it.
func (m *Monitor) EndOperation(name string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start, ok := m.operations[name]
	if !ok {
		return 0, eris.Errorf("monitor: operation %q not started", name)
	}
	delete(m.operations, name)
	d := m.now().Sub(start)
	m.opDurations[name] = append(m.opDurations[name], d)
	return d, nil
}

// OperationTimings returns the recorded durations for an operation.
func (m *Monitor) OperationTimings(name string) []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration{}, m.opDurations[name]...)
}

// Reserve issues an expiring token for memMB of working memory.
func (m *Monitor) Reserve(memMB float64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.reservations[id] = reservation{memMB: memMB, expiresAt: m.now().Add(m.cfg.ReservationTTL)}
	return id
}

// Release frees a reservation. Releasing an unknown or expired token is
// a no-op.
func (m *Monitor) Release(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reservations, token)
}

// ReservedMB sums live reservations, dropping expired ones.
func (m *Monitor) ReservedMB() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var total float64
	for id, r := range m.reservations {
		if now.After(r.expiresAt) {
			delete(m.reservations, id)
			continue
		}
		total += r.memMB
	}
	return total
}

// RecordBatch feeds one completed batch into the success streak used by
// the batch-size recommendation.
func (m *Monitor) RecordBatch(duration time.Duration, memDeltaMB float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batchOutcome{duration: duration, memDelta: memDeltaMB, at: m.now()})
	if len(m.batches) > 10 {
		m.batches = m.batches[len(m.batches)-10:]
	}
}

// RecommendedBatchSize scales a base of 10 by available headroom,
// clamps to [1, 50], and nudges up by 2 after three consecutive fast,
// light batches.
func (m *Monitor) RecommendedBatchSize() int {
	summary := m.Summarize()

	m.mu.Lock()
	limit := m.memLimitMB
	batches := append([]batchOutcome{}, m.batches...)
	m.mu.Unlock()

	memFactor := 1 - summary.AvgMemMB/limit
	if memFactor < 0 {
		memFactor = 0
	}
	cpuFactor := 1 - summary.AvgCPU/100
	if cpuFactor < 0 {
		cpuFactor = 0
	}

	size := int(10 * memFactor * cpuFactor)

	if len(batches) >= 3 {
		streak := true
		for _, b := range batches[len(batches)-3:] {
			if b.duration >= 5*time.Second || b.memDelta > 100 {
				streak = false
				break
			}
		}
		if streak {
			size += 2
		}
	}

	if size < 1 {
		size = 1
	}
	if size > 50 {
		size = 50
	}
	return size
}
