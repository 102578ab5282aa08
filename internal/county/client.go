// Package county talks to the Maricopa County assessor API.
package county

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/collector-cli/internal/metrics"
	"github.com/sells-group/collector-cli/internal/resilience"
)

const sourceName = "county"

// Config configures the assessor client.
type Config struct {
	BaseURL string
	Token   string
	// AuthHeader is the header name carrying the raw token.
	AuthHeader string
	Timeout    time.Duration
	UserAgent  string
	// RetryAfterDefault applies when a 429 carries no usable header.
	RetryAfterDefault time.Duration
}

// Waiter gates request admission. The rate limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, source string) (time.Duration, error)
}

// Client is the assessor REST client. All requests go out HTTPS with
// the token in a custom header.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter Waiter
	retry   resilience.RetryConfig
	log     *zap.Logger
	sleep   func(context.Context, time.Duration) error
}

// New validates the config and builds a client with a bounded
// connection pool.
func New(cfg Config) (*Client, error) {
	if !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, eris.Errorf("county: base url must be https, got %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryAfterDefault <= 0 {
		cfg.RetryAfterDefault = 60 * time.Second
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "AUTHORIZATION"
	}
	if cfg.UserAgent == "" {
		// The assessor API rejects browser-looking agents.
		cfg.UserAgent = "null"
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		retry:  resilience.DefaultRetryConfig(),
		log:    zap.L().Named("county"),
		sleep:  sleepCtx,
	}, nil
}

// SetLimiter installs a rate limiter awaited before every request.
func (c *Client) SetLimiter(w Waiter) { c.limiter = w }

// SearchResult is one page of property search hits.
type SearchResult struct {
	Results []json.RawMessage `json:"results"`
	Count   int               `json:"count"`
}

// Parcel is the full parcel payload keyed by APN.
type Parcel struct {
	APN          string          `json:"apn"`
	PropertyInfo json.RawMessage `json:"property_info,omitempty"`
	Valuations   json.RawMessage `json:"valuations,omitempty"`
	Residential  json.RawMessage `json:"residential,omitempty"`
	Owner        json.RawMessage `json:"owner,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// SearchProperty queries the free-text property search. Page is
// 1-based.
func (c *Client) SearchProperty(ctx context.Context, query string, page int) (*SearchResult, error) {
	if page < 1 {
		page = 1
	}
	path := fmt.Sprintf("/search/property/?query=%s&page=%d", url.QueryEscape(query), page)

	var out SearchResult
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetParcel fetches the base parcel record for an APN.
func (c *Client) GetParcel(ctx context.Context, apn string) (*Parcel, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/parcel/"+url.PathEscape(apn), &raw); err != nil {
		return nil, err
	}
	return &Parcel{APN: apn, Raw: raw}, nil
}

// GetParcelDetails fetches the parcel and its sub-resources. Missing
// sub-resources (404) are left nil rather than failing the parcel.
func (c *Client) GetParcelDetails(ctx context.Context, apn string) (*Parcel, error) {
	p, err := c.GetParcel(ctx, apn)
	if err != nil {
		return nil, err
	}

	subs := []struct {
		path string
		dst  *json.RawMessage
	}{
		{"/propertyinfo", &p.PropertyInfo},
		{"/valuations", &p.Valuations},
		{"/residential-details", &p.Residential},
		{"/owner-details", &p.Owner},
	}
	base := "/parcel/" + url.PathEscape(apn)
	for _, sub := range subs {
		var raw json.RawMessage
		err := c.getJSON(ctx, base+sub.path, &raw)
		if err != nil {
			var ce *resilience.CollectionError
			if errors.As(err, &ce) && ce.StatusCode == http.StatusNotFound {
				continue
			}
			return nil, err
		}
		*sub.dst = raw
	}
	return p, nil
}

// getJSON performs one GET with the per-status policy, wrapped in the
// standard retry loop.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger(sourceName, sanitizePath(path))
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return c.doOnce(ctx, path, out)
	})
}

func (c *Client) doOnce(ctx context.Context, path string, out any) error {
	if c.limiter != nil {
		if _, err := c.limiter.Wait(ctx, sourceName); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "county: build request")
	}
	req.Header.Set(c.cfg.AuthHeader, c.cfg.Token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return resilience.NewCollectionError("get", sourceName, 0, eris.Wrap(err, "county: request"))
	}
	defer resp.Body.Close()

	metrics.Default().RequestsTotal.WithLabelValues(sourceName, strconv.Itoa(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return eris.Wrapf(err, "county: decode %s", sanitizePath(path))
		}
		return nil

	case resp.StatusCode == http.StatusUnauthorized:
		return &resilience.AuthError{Source: sourceName, Err: eris.New("token rejected")}

	case resp.StatusCode == http.StatusForbidden:
		return &resilience.PermissionError{Source: sourceName, Err: eris.Errorf("access denied for %s", sanitizePath(path))}

	case resp.StatusCode == http.StatusTooManyRequests:
		wait := c.retryAfter(resp)
		c.log.Warn("rate limited",
			zap.String("path", sanitizePath(path)),
			zap.Duration("wait", wait))
		metrics.Default().RateLimitHits.WithLabelValues(sourceName).Inc()
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
		return resilience.NewCollectionError("get", sourceName, resp.StatusCode, eris.New("rate limited"))

	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return resilience.NewCollectionError("get", sourceName, resp.StatusCode,
			eris.Errorf("server error: %s", strings.TrimSpace(string(body))))

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return resilience.NewCollectionError("get", sourceName, resp.StatusCode,
			eris.Errorf("unexpected status: %s", strings.TrimSpace(string(body))))
	}
}

func (c *Client) retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return c.cfg.RetryAfterDefault
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return c.cfg.RetryAfterDefault
}

// sanitizePath strips query strings so search terms stay out of logs.
func sanitizePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
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
