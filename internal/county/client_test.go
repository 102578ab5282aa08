package county

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
	"github.com/sells-group/collector-cli/internal/resilience"
)

// newTestClient points a client at a plain-HTTP test server. The https
// requirement is enforced in New, so the base URL is swapped afterwards.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	metrics.Reset()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:           "https://placeholder.invalid",
		Token:             "test-token",
		Timeout:           5 * time.Second,
		RetryAfterDefault: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	c.cfg.BaseURL = srv.URL
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	c.retry.Delay = time.Millisecond
	c.retry.MaxDelay = 5 * time.Millisecond
	return c
}

func TestConfiguredAuthHeader(t *testing.T) {
	metrics.Reset()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-Api-Key"))
		assert.Empty(t, r.Header.Get("AUTHORIZATION"))
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]string{}, "count": 0})
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:    "https://placeholder.invalid",
		Token:      "test-token",
		AuthHeader: "X-Api-Key",
	})
	require.NoError(t, err)
	c.cfg.BaseURL = srv.URL

	_, err = c.SearchProperty(context.Background(), "85001", 1)
	require.NoError(t, err)
}

func TestNewRequiresHTTPS(t *testing.T) {
	_, err := New(Config{BaseURL: "http://mcassessor.maricopa.gov"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https")
}

func TestSearchProperty(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("AUTHORIZATION"))
		assert.Equal(t, "null", r.Header.Get("User-Agent"))
		assert.Equal(t, "/search/property/", r.URL.Path)
		assert.Equal(t, "85001", r.URL.Query().Get("query"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))

		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{{"APN": "101-01-001"}, {"APN": "101-01-002"}},
			"count":   2,
		})
	}))

	res, err := c.SearchProperty(context.Background(), "85001", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Len(t, res.Results, 2)
}

func TestGetParcelDetails(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/parcel/101-01-001":
			json.NewEncoder(w).Encode(map[string]string{"apn": "101-01-001"})
		case "/parcel/101-01-001/propertyinfo":
			json.NewEncoder(w).Encode(map[string]string{"city": "Phoenix"})
		case "/parcel/101-01-001/valuations":
			json.NewEncoder(w).Encode([]map[string]string{{"year": "2025"}})
		default:
			http.NotFound(w, r)
		}
	}))

	p, err := c.GetParcelDetails(context.Background(), "101-01-001")
	require.NoError(t, err)
	assert.Equal(t, "101-01-001", p.APN)
	assert.NotNil(t, p.PropertyInfo)
	assert.NotNil(t, p.Valuations)
	// Missing sub-resources stay nil without failing the parcel.
	assert.Nil(t, p.Residential)
	assert.Nil(t, p.Owner)
}

func TestAuthErrorNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.SearchProperty(context.Background(), "85001", 1)
	require.Error(t, err)
	var ae *resilience.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPermissionErrorNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.GetParcel(context.Background(), "101-01-001")
	require.Error(t, err)
	var pe *resilience.PermissionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRateLimitSleepsAndRetries(t *testing.T) {
	var calls int32
	var slept []time.Duration
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}, "count": 0})
	}))
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	res, err := c.SearchProperty(context.Background(), "85001", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	require.Len(t, slept, 1)
	assert.Equal(t, 7*time.Second, slept[0])
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRateLimitDefaultWait(t *testing.T) {
	var slept []time.Duration
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := c.SearchProperty(context.Background(), "85001", 1)
	require.Error(t, err)
	require.NotEmpty(t, slept)
	assert.Equal(t, 10*time.Millisecond, slept[0])
}

func TestServerErrorRetriedThenFails(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))

	_, err := c.GetParcel(context.Background(), "101-01-001")
	require.Error(t, err)
	var ce *resilience.CollectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusBadGateway, ce.StatusCode)
	assert.True(t, ce.Retryable)
	assert.Contains(t, err.Error(), "upstream exploded")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestOther4xxNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad apn", http.StatusUnprocessableEntity)
	}))

	_, err := c.GetParcel(context.Background(), "bogus")
	require.Error(t, err)
	var ce *resilience.CollectionError
	require.ErrorAs(t, err, &ce)
	assert.False(t, ce.Retryable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type recordingWaiter struct{ sources []string }

func (w *recordingWaiter) Wait(ctx context.Context, source string) (time.Duration, error) {
	w.sources = append(w.sources, source)
	return 0, nil
}

func TestLimiterAwaitedPerRequest(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}, "count": 0})
	}))
	waiter := &recordingWaiter{}
	c.SetLimiter(waiter)

	_, err := c.SearchProperty(context.Background(), "85001", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"county"}, waiter.sources)
}

func TestSanitizePath(t *testing.T) {
	assert.Equal(t, "/search/property/", sanitizePath("/search/property/?query=sec+ret"))
	assert.Equal(t, "/parcel/1", sanitizePath("/parcel/1"))
}
