// Package ratelimit implements the per-source sliding-window limiter that
// gates every outbound request in the collection pipeline.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const epsilon = 10 * time.Millisecond

// Observer receives limiter decisions. Callbacks run synchronously after
// each decision in registration order; a panicking observer is isolated
// and never affects limiter state.
type Observer interface {
	OnRequest(source string)
	OnLimitHit(source string, wait time.Duration)
	OnReset(source string)
}

// Config sets the admission policy for one source.
type Config struct {
	// RequestsPerWindow is the provider's advertised cap for one window.
	RequestsPerWindow int
	// Window is the sliding window length. Default: 60s.
	Window time.Duration
	// SafetyMargin reduces the cap client-side. Default: 0.10.
	SafetyMargin float64
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = 0.10
	}
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = 60
	}
	return c
}

// EffectiveLimit is the client-side cap after the safety margin.
func (c Config) EffectiveLimit() int {
	c = c.withDefaults()
	limit := int(float64(c.RequestsPerWindow) * (1 - c.SafetyMargin))
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Usage reports the current load of one source window.
type Usage struct {
	Current        int
	EffectiveLimit int
	IsLimited      bool
}

type window struct {
	mu         sync.Mutex
	cfg        Config
	timestamps []time.Time
}

// Limiter admits requests per source under a sliding-window policy.
// Each source window is independent; admission within a source is FIFO in
// order of Wait arrival.
type Limiter struct {
	mu        sync.Mutex
	defaults  Config
	windows   map[string]*window
	observers []Observer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter whose sources default to cfg until overridden.
func New(cfg Config) *Limiter {
	return &Limiter{
		defaults: cfg.withDefaults(),
		windows:  make(map[string]*window),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SetSourceConfig overrides the policy for one source.
func (l *Limiter) SetSourceConfig(source string, cfg Config) {
	w := l.window(source)
	w.mu.Lock()
	w.cfg = cfg.withDefaults()
	w.mu.Unlock()
}

// AddObserver registers an observer. Not safe to call concurrently with
// Wait; register observers during setup.
func (l *Limiter) AddObserver(o Observer) {
	l.mu.Lock()
	l.observers = append(l.observers, o)
	l.mu.Unlock()
}

func (l *Limiter) window(source string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[source]
	if !ok {
		w = &window{cfg: l.defaults}
		l.windows[source] = w
	}
	return w
}

// Wait blocks until the source window admits a request, records the
// admission timestamp, and returns how long it waited. The source lock is
// held across the sleep so queued callers are admitted in arrival order.
func (l *Limiter) Wait(ctx context.Context, source string) (time.Duration, error) {
	w := l.window(source)

	w.mu.Lock()

	var reset bool
	w.purge(l.now(), &reset)

	limit := w.cfg.EffectiveLimit()
	if len(w.timestamps) < limit {
		w.timestamps = append(w.timestamps, l.now())
		w.mu.Unlock()
		// Observers run in the lock-free post-decision phase.
		l.notifyDecision(source, reset, 0, false)
		return 0, nil
	}

	oldest := w.timestamps[0]
	delay := oldest.Add(w.cfg.Window).Sub(l.now()) + epsilon
	if delay < 0 {
		delay = 0
	}

	zap.L().Debug("rate limit reached, waiting",
		zap.String("source", source),
		zap.Duration("wait", delay),
		zap.Int("limit", limit),
	)

	// The source lock stays held across the sleep so queued callers are
	// admitted first-come first-served.
	if err := l.sleep(ctx, delay); err != nil {
		w.mu.Unlock()
		l.notifyDecision(source, reset, delay, true)
		return 0, err
	}

	w.purge(l.now(), &reset)
	w.timestamps = append(w.timestamps, l.now())
	w.mu.Unlock()
	l.notifyDecision(source, reset, delay, true)
	return delay, nil
}

// notifyDecision fires the observer callbacks that apply to one completed
// decision, in registration order.
func (l *Limiter) notifyDecision(source string, reset bool, wait time.Duration, limited bool) {
	if reset {
		l.notifyReset(source)
	}
	if limited {
		l.notifyLimitHit(source, wait)
	}
	l.notifyRequest(source)
}

// Record appends an admission timestamp without waiting. Used when the
// caller has already been admitted out of band.
func (l *Limiter) Record(source string) {
	w := l.window(source)
	w.mu.Lock()
	var reset bool
	w.purge(l.now(), &reset)
	w.timestamps = append(w.timestamps, l.now())
	w.mu.Unlock()
	l.notifyDecision(source, reset, 0, false)
}

// Usage returns the current window load for a source.
func (l *Limiter) Usage(source string) Usage {
	w := l.window(source)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.purge(l.now(), nil)
	limit := w.cfg.EffectiveLimit()
	return Usage{
		Current:        len(w.timestamps),
		EffectiveLimit: limit,
		IsLimited:      len(w.timestamps) >= limit,
	}
}

// purge drops timestamps older than the window. reset is set when the
// purge empties a previously non-empty window.
func (w *window) purge(now time.Time, reset *bool) {
	if len(w.timestamps) == 0 {
		return
	}
	cutoff := now.Add(-w.cfg.Window)
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	w.timestamps = append(w.timestamps[:0], w.timestamps[i:]...)
	if len(w.timestamps) == 0 && reset != nil {
		*reset = true
	}
}

func (l *Limiter) snapshotObservers() []Observer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.observers
}

func (l *Limiter) notifyRequest(source string) {
	for _, o := range l.snapshotObservers() {
		safeNotify(func() { o.OnRequest(source) })
	}
}

func (l *Limiter) notifyLimitHit(source string, wait time.Duration) {
	for _, o := range l.snapshotObservers() {
		safeNotify(func() { o.OnLimitHit(source, wait) })
	}
}

func (l *Limiter) notifyReset(source string) {
	for _, o := range l.snapshotObservers() {
		safeNotify(func() { o.OnReset(source) })
	}
}

func safeNotify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("rate limit observer panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
