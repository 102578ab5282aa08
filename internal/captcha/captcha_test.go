package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/collector-cli/internal/metrics"
)

func TestDetectRecaptchaV2(t *testing.T) {
	html := `<html><body><form>
		<div class="g-recaptcha" data-sitekey="6LcABCDEF"></div>
	</form></body></html>`

	ch, err := DetectHTML(html, "https://mls.example.com/search")
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, TypeRecaptchaV2, ch.Type)
	assert.Equal(t, "6LcABCDEF", ch.SiteKey)
	assert.Equal(t, "https://mls.example.com/search", ch.PageURL)
}

func TestDetectRecaptchaV3(t *testing.T) {
	html := `<html><head>
		<script src="https://www.google.com/recaptcha/api.js?render=6LcV3KEY"></script>
	</head><body>ok</body></html>`

	ch, err := DetectHTML(html, "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, TypeRecaptchaV3, ch.Type)
	assert.Equal(t, "6LcV3KEY", ch.SiteKey)
}

func TestDetectHCaptcha(t *testing.T) {
	html := `<html><body><div class="h-captcha" data-sitekey="10000000-ffff"></div></body></html>`
	ch, err := DetectHTML(html, "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, TypeHCaptcha, ch.Type)
	assert.Equal(t, "10000000-ffff", ch.SiteKey)
}

func TestDetectSiteKeyFromIframe(t *testing.T) {
	html := `<html><body>
		<iframe src="https://www.google.com/recaptcha/api2/anchor?k=6LcFRAME&co=x"></iframe>
	</body></html>`
	ch, err := DetectHTML(html, "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, TypeRecaptchaV2, ch.Type)
	assert.Equal(t, "6LcFRAME", ch.SiteKey)
}

func TestDetectCleanPage(t *testing.T) {
	ch, err := DetectHTML(`<html><body><h1>Listings</h1></body></html>`, "https://example.com")
	require.NoError(t, err)
	assert.Nil(t, ch)
}

func newSolverServer(t *testing.T, pollsUntilReady int32, token string) *httptest.Server {
	t.Helper()
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/createTask", func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Task["type"])
		json.NewEncoder(w).Encode(map[string]any{"errorId": 0, "taskId": "task-1"})
	})
	mux.HandleFunc("/getTaskResult", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) <= pollsUntilReady {
			json.NewEncoder(w).Encode(map[string]any{"errorId": 0, "status": "processing"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"errorId": 0,
			"status":  "ready",
			"solution": map[string]string{
				"gRecaptchaResponse": token,
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testSolver(url string) *Solver {
	cfg := DefaultSolverConfig()
	cfg.BaseURL = url
	cfg.APIKey = "test-key"
	cfg.PollInterval = 5 * time.Millisecond
	cfg.Timeout = 2 * time.Second
	cfg.MaxRetries = 0
	return NewSolver(cfg)
}

func TestSolverSubmitAndPoll(t *testing.T) {
	metrics.Reset()
	srv := newSolverServer(t, 2, "tok-abc")
	s := testSolver(srv.URL)

	sol, err := s.Solve(context.Background(), &Challenge{
		Type:    TypeRecaptchaV2,
		SiteKey: "6LcABCDEF",
		PageURL: "https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", sol.Token)
	assert.Equal(t, "task-1", sol.TaskID)
	assert.Greater(t, sol.SolvedIn, time.Duration(0))

	assert.Equal(t, 1, metrics.Spend().Snapshot().CaptchaSolves)
}

func TestSolverTimeout(t *testing.T) {
	metrics.Reset()
	srv := newSolverServer(t, 1<<30, "never")
	s := testSolver(srv.URL)
	s.cfg.Timeout = 30 * time.Millisecond

	_, err := s.Solve(context.Background(), &Challenge{Type: TypeRecaptchaV2, PageURL: "x"})
	require.Error(t, err)
	var se *SolvingError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "task-1", se.TaskID)
}

func TestSolverRejectedTask(t *testing.T) {
	metrics.Reset()
	mux := http.NewServeMux()
	mux.HandleFunc("/createTask", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"errorId": 1, "errorDescription": "ERROR_KEY_DOES_NOT_EXIST"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	_, err := testSolver(srv.URL).Solve(context.Background(), &Challenge{Type: TypeHCaptcha, PageURL: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR_KEY_DOES_NOT_EXIST")
}

func TestSolverUnsupportedType(t *testing.T) {
	metrics.Reset()
	_, err := testSolver("http://127.0.0.1:0").Solve(context.Background(), &Challenge{Type: TypeUnknown})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported captcha type")
}

func TestSolverContextCancel(t *testing.T) {
	metrics.Reset()
	srv := newSolverServer(t, 1<<30, "never")
	s := testSolver(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Solve(ctx, &Challenge{Type: TypeRecaptchaV2, PageURL: "x"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
