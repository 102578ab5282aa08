package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_SingletonAndReset(t *testing.T) {
	Reset()
	a := Default()
	b := Default()
	assert.Same(t, a, b)

	Reset()
	c := Default()
	assert.NotSame(t, a, c)
}

func TestCollector_CountersUsable(t *testing.T) {
	Reset()
	c := Default()

	// Registering and incrementing must not panic on a fresh registry.
	c.RequestsTotal.WithLabelValues("county", "200").Inc()
	c.CaptchaDetected.WithLabelValues("recaptcha_v2").Add(2)
	c.CacheHits.Inc()
	c.ProxyHealthy.Set(3)

	require.NotNil(t, c.Handler())
}

func TestSpendTracker(t *testing.T) {
	Reset()
	s := Spend()
	s.SetRates(SpendRates{CaptchaPerSolve: 0.01, LLMPerKiloTokens: 0.5})

	s.AddCaptchaSolve()
	s.AddCaptchaSolve()
	s.AddLLMTokens(4000)

	snap := s.Snapshot()
	assert.Equal(t, 2, snap.CaptchaSolves)
	assert.Equal(t, 4000, snap.LLMTokens)
	assert.InDelta(t, 2*0.01+4*0.5, snap.TotalUSD, 1e-9)

	Reset()
	assert.Equal(t, SpendSnapshot{}, Spend().Snapshot())
}
