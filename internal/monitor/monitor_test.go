package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	m, err := New(cfg)
	require.NoError(t, err)
	return m
}

func TestReadSample(t *testing.T) {
	m := newTestMonitor(t, DefaultConfig())
	s, err := m.readSample()
	require.NoError(t, err)
	assert.False(t, s.At.IsZero())
	assert.Greater(t, s.ProcessMemMB, 0.0)
	assert.GreaterOrEqual(t, s.SystemMemPct, 0.0)
}

func TestWindowBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 3
	m := newTestMonitor(t, cfg)

	for i := 0; i < 10; i++ {
		m.record(Sample{At: time.Now(), CPUPercent: float64(i)})
	}
	summary := m.Summarize()
	assert.Equal(t, 3, summary.Samples)
	// Only the last three samples remain.
	assert.Equal(t, 8.0, summary.AvgCPU)
	assert.Equal(t, 9.0, summary.MaxCPU)
}

func TestCurrentAndSummary(t *testing.T) {
	m := newTestMonitor(t, DefaultConfig())
	_, ok := m.Current()
	assert.False(t, ok)

	m.record(Sample{At: time.Now(), CPUPercent: 10, ProcessMemMB: 100})
	m.record(Sample{At: time.Now(), CPUPercent: 30, ProcessMemMB: 300})

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, 30.0, cur.CPUPercent)

	s := m.Summarize()
	assert.Equal(t, 20.0, s.AvgCPU)
	assert.Equal(t, 30.0, s.MaxCPU)
	assert.Equal(t, 200.0, s.AvgMemMB)
	assert.Equal(t, 300.0, s.MaxMemMB)
}

func TestOperationTiming(t *testing.T) {
	m := newTestMonitor(t, DefaultConfig())
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	m.StartOperation("scrape")
	now = now.Add(3 * time.Second)
	d, err := m.EndOperation("scrape")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	timings := m.OperationTimings("scrape")
	require.Len(t, timings, 1)
	assert.Equal(t, 3*time.Second, timings[0])

	_, err = m.EndOperation("never-started")
	require.Error(t, err)
}

func TestReservations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReservationTTL = time.Minute
	m := newTestMonitor(t, cfg)
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	tok1 := m.Reserve(100)
	tok2 := m.Reserve(50)
	require.NotEqual(t, tok1, tok2)
	assert.Equal(t, 150.0, m.ReservedMB())

	m.Release(tok1)
	assert.Equal(t, 50.0, m.ReservedMB())

	// Expired reservations fall out on read.
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 0.0, m.ReservedMB())
}

func TestRecommendedBatchSizeIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryLimitMB = 1000
	m := newTestMonitor(t, cfg)

	// No samples: full headroom.
	assert.Equal(t, 10, m.RecommendedBatchSize())
}

func TestRecommendedBatchSizeUnderLoad(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryLimitMB = 1000
	m := newTestMonitor(t, cfg)

	m.record(Sample{At: time.Now(), CPUPercent: 50, ProcessMemMB: 500})
	// 10 * (1-0.5) * (1-0.5) = 2.5 -> 2
	assert.Equal(t, 2, m.RecommendedBatchSize())
}

func TestRecommendedBatchSizeClampsToOne(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryLimitMB = 1000
	m := newTestMonitor(t, cfg)

	m.record(Sample{At: time.Now(), CPUPercent: 99, ProcessMemMB: 990})
	assert.Equal(t, 1, m.RecommendedBatchSize())
}

func TestRecommendedBatchSizeSuccessStreak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryLimitMB = 1000
	m := newTestMonitor(t, cfg)

	for i := 0; i < 3; i++ {
		m.RecordBatch(time.Second, 10)
	}
	assert.Equal(t, 12, m.RecommendedBatchSize())

	// A slow batch breaks the streak.
	m.RecordBatch(10*time.Second, 10)
	assert.Equal(t, 10, m.RecommendedBatchSize())
}

func TestAlertCallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryLimitMB = 1000
	m := newTestMonitor(t, cfg)

	var alerts []Alert
	m.OnAlert(func(a Alert) { alerts = append(alerts, a) })
	m.OnAlert(func(a Alert) { panic("listener bug") })

	m.record(Sample{At: time.Now(), CPUPercent: 85})
	m.record(Sample{At: time.Now(), CPUPercent: 99})
	m.record(Sample{At: time.Now(), CPUPercent: 10})

	require.Len(t, alerts, 2)
	assert.Equal(t, AlertWarn, alerts[0].Level)
	assert.Equal(t, AlertCritical, alerts[1].Level)
}

func TestMemoryLimitShrinksUnderPressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryLimitMB = 1000
	m := newTestMonitor(t, cfg)

	m.record(Sample{At: time.Now(), ProcessMemMB: 960})
	m.mu.Lock()
	limit := m.memLimitMB
	m.mu.Unlock()
	assert.Less(t, limit, 1000.0)
	assert.GreaterOrEqual(t, limit, 500.0)
}

func TestMemoryUsageMB(t *testing.T) {
	m := newTestMonitor(t, DefaultConfig())
	m.sample = func() (Sample, error) {
		return Sample{At: time.Now(), ProcessMemMB: 412.5}, nil
	}
	assert.Equal(t, 412.5, m.MemoryUsageMB())

	m.sample = func() (Sample, error) { return Sample{}, assert.AnError }
	assert.Zero(t, m.MemoryUsageMB())
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	m := newTestMonitor(t, cfg)
	m.sample = func() (Sample, error) {
		return Sample{At: time.Now(), CPUPercent: 1, ProcessMemMB: 1}, nil
	}

	m.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	assert.Greater(t, m.Summarize().Samples, 0)
}
