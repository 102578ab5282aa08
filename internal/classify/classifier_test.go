package classify

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classify(t *testing.T, in *Input) *Detected {
	t.Helper()
	return New().Classify(in)
}

func TestClassifyRateLimit429(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "120")
	got := classify(t, &Input{StatusCode: 429, Header: h, Body: "Too Many Requests"})

	require.NotNil(t, got)
	assert.Equal(t, KindRateLimit, got.Kind)
	assert.Equal(t, ActionWait, got.Action)
	assert.Equal(t, 120*time.Second, got.Context.RetryAfter)
}

func TestClassifyRateLimitDefaultWait(t *testing.T) {
	got := classify(t, &Input{StatusCode: 429, Header: http.Header{}})
	require.NotNil(t, got)
	assert.Equal(t, 60*time.Second, got.Context.RetryAfter)
}

func TestClassifyRateLimitRemainingHeader(t *testing.T) {
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "0")
	got := classify(t, &Input{StatusCode: 200, Header: h})

	require.NotNil(t, got)
	assert.Equal(t, KindRateLimit, got.Kind)
	assert.Equal(t, "rate-limit-remaining-zero", got.Rule)
}

func TestClassifyCloudflareBlock(t *testing.T) {
	h := http.Header{}
	h.Set("cf-ray", "8a1b2c3d4e5f")
	got := classify(t, &Input{
		StatusCode: 403,
		Header:     h,
		Body:       "<html><title>Attention Required! | Cloudflare</title></html>",
	})

	require.NotNil(t, got)
	assert.Equal(t, KindBlockedIP, got.Kind)
	assert.Equal(t, ActionSwitchProxy, got.Action)
	assert.Equal(t, "cloudflare", got.Context.BlockType)
}

func TestClassifyCaptchaBySelector(t *testing.T) {
	body := `<html><body><form><div class="g-recaptcha" data-sitekey="abc"></div></form></body></html>`
	got := classify(t, &Input{StatusCode: 200, Header: http.Header{}, Body: body})

	require.NotNil(t, got)
	assert.Equal(t, KindCaptcha, got.Kind)
	assert.Equal(t, ActionSolveCaptcha, got.Action)
	assert.Equal(t, "recaptcha_v2", got.Context.CaptchaType)
}

func TestClassifyHCaptcha(t *testing.T) {
	body := `<html><body><div class="h-captcha" data-sitekey="xyz"></div></body></html>`
	got := classify(t, &Input{StatusCode: 200, Header: http.Header{}, Body: body})

	require.NotNil(t, got)
	assert.Equal(t, KindCaptcha, got.Kind)
	assert.Equal(t, "hcaptcha", got.Context.CaptchaType)
}

func TestClassifyCaptchaOutranksRateLimit(t *testing.T) {
	// A challenge page served with 429 must resolve to captcha, not
	// rate limit.
	body := `<html><body><div class="g-recaptcha"></div><p>rate limit exceeded</p></body></html>`
	got := classify(t, &Input{StatusCode: 429, Header: http.Header{}, Body: body})

	require.NotNil(t, got)
	assert.Equal(t, KindCaptcha, got.Kind)
}

func TestClassifySessionRedirect(t *testing.T) {
	got := classify(t, &Input{
		StatusCode: 200,
		Header:     http.Header{},
		URL:        "https://mls.example.com/auth/login?next=%2Fsearch",
	})

	require.NotNil(t, got)
	assert.Equal(t, KindSessionExpired, got.Kind)
	assert.Equal(t, ActionReauth, got.Action)
}

func TestClassifyMaintenanceWait(t *testing.T) {
	got := classify(t, &Input{
		StatusCode: 503,
		Header:     http.Header{},
		Body:       "The site is under maintenance. We will be back in 45 minutes.",
	})

	require.NotNil(t, got)
	assert.Equal(t, KindMaintenance, got.Kind)
	assert.Equal(t, ActionWaitLong, got.Action)
	assert.Equal(t, 45*time.Minute, got.Context.MaintenanceWait)
}

func TestClassifyAuth(t *testing.T) {
	got := classify(t, &Input{StatusCode: 401, Header: http.Header{}})
	require.NotNil(t, got)
	assert.Equal(t, KindAuth, got.Kind)
	assert.Equal(t, ActionReauth, got.Action)
}

func TestClassifyAuthTextOnOKStatus(t *testing.T) {
	got := classify(t, &Input{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       "<html><body><p>Invalid credentials. Your account locked after 5 attempts.</p></body></html>",
	})
	require.NotNil(t, got)
	assert.Equal(t, KindAuth, got.Kind)
	assert.Equal(t, "auth-text", got.Rule)
	assert.Equal(t, ActionReauth, got.Action)
}

func TestClassifyNotFound(t *testing.T) {
	got := classify(t, &Input{StatusCode: 404, Header: http.Header{}})
	require.NotNil(t, got)
	assert.Equal(t, KindNotFound, got.Kind)
	assert.Equal(t, ActionSkip, got.Action)
}

func TestClassifyServerError(t *testing.T) {
	got := classify(t, &Input{StatusCode: 502, Header: http.Header{}})
	require.NotNil(t, got)
	assert.Equal(t, KindServerError, got.Kind)
	assert.Equal(t, ActionRetry, got.Action)
}

func TestClassifyNoMatch(t *testing.T) {
	got := classify(t, &Input{StatusCode: 200, Header: http.Header{}, Body: "<html><body>ok</body></html>"})
	assert.Nil(t, got)
}

func TestRetryAfterHTTPDate(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", time.Now().Add(90*time.Second).UTC().Format(http.TimeFormat))
	got := classify(t, &Input{StatusCode: 429, Header: h})

	require.NotNil(t, got)
	assert.InDelta(t, 90, got.Context.RetryAfter.Seconds(), 5)
}
