// Package llm wraps a local Ollama-style generation endpoint for
// schema-guided extraction.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/collector-cli/internal/metrics"
	"github.com/sells-group/collector-cli/internal/resilience"
)

// Config configures the generation client.
type Config struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	// RequestsPerSecond paces outbound generate calls. Zero disables
	// pacing.
	RequestsPerSecond float64
	// NumPredict caps the output tokens per call.
	NumPredict int
}

// Client calls the generation API with deterministic sampling options.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, eris.New("llm: base url required")
	}
	if cfg.Model == "" {
		return nil, eris.New("llm: model required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.NumPredict <= 0 {
		cfg.NumPredict = 1024
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		log:     zap.L().Named("llm"),
	}, nil
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Options map[string]any `json:"options"`
	Stream  bool           `json:"stream"`
}

type generateResponse struct {
	Response  string `json:"response"`
	EvalCount int    `json:"eval_count"`
}

type versionResponse struct {
	Version string `json:"version"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// HealthCheck verifies the service responds and that the configured
// model is available.
func (c *Client) HealthCheck(ctx context.Context) error {
	var ver versionResponse
	if err := c.getJSON(ctx, "/api/version", &ver); err != nil {
		return eris.Wrap(err, "llm: version check")
	}

	var tags tagsResponse
	if err := c.getJSON(ctx, "/api/tags", &tags); err != nil {
		return eris.Wrap(err, "llm: list models")
	}
	for _, m := range tags.Models {
		if m.Name == c.cfg.Model || strings.TrimSuffix(m.Name, ":latest") == c.cfg.Model {
			c.log.Debug("model available",
				zap.String("model", c.cfg.Model),
				zap.String("version", ver.Version))
			return nil
		}
	}
	return eris.Errorf("llm: model %q not available", c.cfg.Model)
}

// Generate sends one deterministic completion request and returns the
// raw model response. Token usage is recorded against spend.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = c.cfg.MaxRetries + 1
	cfg.OnRetry = resilience.RetryLogger("llm", "generate")

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (string, error) {
		return c.generateOnce(ctx, system, prompt)
	})
}

func (c *Client) generateOnce(ctx context.Context, system, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	req := generateRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		System: system,
		Options: map[string]any{
			"temperature": 0.1,
			"seed":        42,
			"num_predict": c.cfg.NumPredict,
		},
		Stream: false,
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return "", eris.Wrap(err, "llm: encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/generate", bytes.NewReader(raw))
	if err != nil {
		return "", eris.Wrap(err, "llm: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", resilience.NewCollectionError("generate", "llm", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return "", resilience.NewCollectionError("generate", "llm", resp.StatusCode,
			eris.Errorf("unexpected status: %s", strings.TrimSpace(string(body))))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", eris.Wrap(err, "llm: decode response")
	}
	if out.EvalCount > 0 {
		metrics.Spend().AddLLMTokens(out.EvalCount)
	}
	return out.Response, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "llm: build request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "llm: request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("llm: %s returned %d", path, resp.StatusCode)
	}
	return eris.Wrap(json.NewDecoder(resp.Body).Decode(out), "llm: decode")
}
