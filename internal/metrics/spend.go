package metrics

import "sync"

// SpendRates prices the external paid services.
type SpendRates struct {
	// CaptchaPerSolve is the USD cost of one successful solve.
	CaptchaPerSolve float64
	// LLMPerKiloTokens is the USD cost per 1000 evaluated tokens. Zero
	// for a local model; kept configurable for hosted deployments.
	LLMPerKiloTokens float64
}

// DefaultSpendRates returns 2captcha-style pricing and a free local LLM.
func DefaultSpendRates() SpendRates {
	return SpendRates{CaptchaPerSolve: 0.003, LLMPerKiloTokens: 0}
}

// SpendSnapshot is a point-in-time view of accumulated spend.
type SpendSnapshot struct {
	CaptchaSolves int
	LLMTokens     int
	TotalUSD      float64
}

// SpendTracker accumulates per-service spend for a run.
type SpendTracker struct {
	mu     sync.Mutex
	rates  SpendRates
	solves int
	tokens int
}

var (
	spendMu   sync.Mutex
	spendOnce *SpendTracker
)

// Spend returns the process-wide spend tracker.
func Spend() *SpendTracker {
	spendMu.Lock()
	defer spendMu.Unlock()
	if spendOnce == nil {
		spendOnce = &SpendTracker{rates: DefaultSpendRates()}
	}
	return spendOnce
}

func resetSpend() {
	spendMu.Lock()
	defer spendMu.Unlock()
	spendOnce = nil
}

// SetRates replaces the pricing table.
func (t *SpendTracker) SetRates(r SpendRates) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rates = r
}

// AddCaptchaSolve records one paid solve.
func (t *SpendTracker) AddCaptchaSolve() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.solves++
}

// AddLLMTokens records evaluated LLM tokens.
func (t *SpendTracker) AddLLMTokens(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens += n
}

// Snapshot returns accumulated counts and the total cost in USD.
func (t *SpendTracker) Snapshot() SpendSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return SpendSnapshot{
		CaptchaSolves: t.solves,
		LLMTokens:     t.tokens,
		TotalUSD: float64(t.solves)*t.rates.CaptchaPerSolve +
			float64(t.tokens)/1000*t.rates.LLMPerKiloTokens,
	}
}
