package antidetect

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorProfileComplete(t *testing.T) {
	g := NewGenerator(1)
	for i := 0; i < 50; i++ {
		p := g.Next()

		assert.NotEmpty(t, p.UserAgent)
		assert.Greater(t, p.Viewport.Width, 0)
		assert.Greater(t, p.Viewport.Height, 0)
		assert.NotEmpty(t, p.Headers["Accept"])
		assert.NotEmpty(t, p.Headers["Accept-Language"])

		fp := p.Fingerprint
		assert.Greater(t, fp.CanvasNoise, 0.0)
		assert.NotEmpty(t, fp.WebGLVendor)
		assert.NotEmpty(t, fp.WebGLRenderer)
		assert.NotEmpty(t, fp.Timezone)
		assert.NotEmpty(t, fp.Languages)
		assert.NotEmpty(t, fp.Platform)
		assert.Greater(t, fp.HardwareConcurrency, 0)
		assert.Greater(t, fp.DeviceMemory, 0)
		assert.Greater(t, fp.ScreenWidth, 0)
		assert.Greater(t, fp.ScreenHeight, p.Viewport.Height)
	}
}

func TestGeneratorPlatformMatchesUserAgent(t *testing.T) {
	g := NewGenerator(7)
	for i := 0; i < 50; i++ {
		p := g.Next()
		switch {
		case strings.Contains(p.UserAgent, "Macintosh"):
			assert.Equal(t, "MacIntel", p.Fingerprint.Platform)
		case strings.Contains(p.UserAgent, "Linux"):
			assert.Equal(t, "Linux x86_64", p.Fingerprint.Platform)
		default:
			assert.Equal(t, "Win32", p.Fingerprint.Platform)
		}
	}
}

func TestGeneratorDeterministicWithSeed(t *testing.T) {
	a := NewGenerator(42).Next()
	b := NewGenerator(42).Next()
	require.Equal(t, a, b)
}

func TestGeneratorVaries(t *testing.T) {
	g := NewGenerator(3)
	seen := map[string]bool{}
	for i := 0; i < 30; i++ {
		seen[g.Next().UserAgent] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestDelayRangePick(t *testing.T) {
	h := NewHuman(DefaultHumanConfig(), 9)
	r := DelayRange{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	for i := 0; i < 100; i++ {
		d := h.delay(r)
		assert.GreaterOrEqual(t, d, r.Min)
		assert.Less(t, d, r.Max)
	}
}

func TestDelayRangeDegenerate(t *testing.T) {
	h := NewHuman(DefaultHumanConfig(), 9)
	r := DelayRange{Min: 20 * time.Millisecond, Max: 20 * time.Millisecond}
	assert.Equal(t, 20*time.Millisecond, h.delay(r))
}

func TestAcceptLanguageQuality(t *testing.T) {
	assert.Equal(t, "en-US,en;q=0.8", acceptLanguage([]string{"en-US", "en"}))
	assert.Equal(t, "en-US,en;q=0.8,es;q=0.7", acceptLanguage([]string{"en-US", "en", "es"}))
}
