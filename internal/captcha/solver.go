package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/collector-cli/internal/metrics"
)

// SolverConfig configures the external solving service.
type SolverConfig struct {
	BaseURL      string
	APIKey       string
	SubmitPath   string
	ResultPath   string
	PollInterval time.Duration
	Timeout      time.Duration
	MaxRetries   int
}

// DefaultSolverConfig targets a 2captcha-compatible JSON API.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		SubmitPath:   "/createTask",
		ResultPath:   "/getTaskResult",
		PollInterval: 5 * time.Second,
		Timeout:      120 * time.Second,
		MaxRetries:   2,
	}
}

// Solver submits challenges to the service and polls for answers.
type Solver struct {
	cfg    SolverConfig
	client *http.Client
	log    *zap.Logger
}

func NewSolver(cfg SolverConfig) *Solver {
	if cfg.SubmitPath == "" {
		cfg.SubmitPath = "/createTask"
	}
	if cfg.ResultPath == "" {
		cfg.ResultPath = "/getTaskResult"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Solver{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    zap.L().Named("captcha"),
	}
}

type submitRequest struct {
	ClientKey string         `json:"clientKey"`
	Task      map[string]any `json:"task"`
}

type submitResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           string `json:"taskId"`
}

type resultResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         struct {
		Token              string `json:"token"`
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
		Text               string `json:"text"`
	} `json:"solution"`
	Cost string `json:"cost"`
}

// Solve runs the full submit and poll cycle, retrying the whole cycle
// on failure up to MaxRetries additional times.
func (s *Solver) Solve(ctx context.Context, ch *Challenge) (*Solution, error) {
	var lastErr error
	attempts := s.cfg.MaxRetries + 1
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, s.cfg.PollInterval); err != nil {
				return nil, err
			}
		}
		sol, err := s.solveOnce(ctx, ch)
		if err == nil {
			m := metrics.Default()
			m.CaptchaSolved.WithLabelValues(string(ch.Type)).Inc()
			m.CaptchaSolveTime.Observe(sol.SolvedIn.Seconds())
			metrics.Spend().AddCaptchaSolve()
			return sol, nil
		}
		lastErr = err
		s.log.Warn("solve attempt failed",
			zap.String("type", string(ch.Type)),
			zap.Int("attempt", i+1),
			zap.Error(err))
	}
	metrics.Default().CaptchaFailed.WithLabelValues(string(ch.Type)).Inc()
	return nil, lastErr
}

func (s *Solver) solveOnce(ctx context.Context, ch *Challenge) (*Solution, error) {
	start := time.Now()
	taskID, err := s.submit(ctx, ch)
	if err != nil {
		return nil, &SolvingError{Type: ch.Type, Err: err}
	}

	deadline := start.Add(s.cfg.Timeout)
	for {
		if err := sleepCtx(ctx, s.cfg.PollInterval); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, &SolvingError{Type: ch.Type, TaskID: taskID, Err: eris.New("solver timeout")}
		}

		res, err := s.poll(ctx, taskID)
		if err != nil {
			return nil, &SolvingError{Type: ch.Type, TaskID: taskID, Err: err}
		}
		switch res.Status {
		case "processing":
			continue
		case "ready":
			token := res.Solution.Token
			if token == "" {
				token = res.Solution.GRecaptchaResponse
			}
			if token == "" {
				token = res.Solution.Text
			}
			if token == "" {
				return nil, &SolvingError{Type: ch.Type, TaskID: taskID, Err: eris.New("empty solution")}
			}
			return &Solution{
				Token:    token,
				Type:     ch.Type,
				SolvedIn: time.Since(start),
				TaskID:   taskID,
			}, nil
		default:
			return nil, &SolvingError{Type: ch.Type, TaskID: taskID,
				Err: eris.Errorf("solver status %q: %s", res.Status, res.ErrorDescription)}
		}
	}
}

func (s *Solver) submit(ctx context.Context, ch *Challenge) (string, error) {
	task := map[string]any{
		"websiteURL": ch.PageURL,
		"websiteKey": ch.SiteKey,
	}
	switch ch.Type {
	case TypeRecaptchaV2:
		task["type"] = "RecaptchaV2TaskProxyless"
	case TypeRecaptchaV3:
		task["type"] = "RecaptchaV3TaskProxyless"
		task["minScore"] = 0.7
	case TypeHCaptcha:
		task["type"] = "HCaptchaTaskProxyless"
	case TypeImage:
		task["type"] = "ImageToTextTask"
		task["body"] = ch.ImageB64
		delete(task, "websiteURL")
		delete(task, "websiteKey")
	default:
		return "", eris.Errorf("unsupported captcha type %q", ch.Type)
	}

	var out submitResponse
	if err := s.post(ctx, s.cfg.SubmitPath, submitRequest{ClientKey: s.cfg.APIKey, Task: task}, &out); err != nil {
		return "", err
	}
	if out.ErrorID != 0 {
		return "", eris.Errorf("solver rejected task: %s", out.ErrorDescription)
	}
	if out.TaskID == "" {
		return "", eris.New("solver returned no task id")
	}
	return out.TaskID, nil
}

func (s *Solver) poll(ctx context.Context, taskID string) (*resultResponse, error) {
	body := map[string]string{"clientKey": s.cfg.APIKey, "taskId": taskID}
	var out resultResponse
	if err := s.post(ctx, s.cfg.ResultPath, body, &out); err != nil {
		return nil, err
	}
	if out.ErrorID != 0 {
		return nil, eris.Errorf("solver error: %s", out.ErrorDescription)
	}
	return &out, nil
}

func (s *Solver) post(ctx context.Context, path string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "captcha: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return eris.Wrap(err, "captcha: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "captcha: solver request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return eris.New(fmt.Sprintf("solver returned %d: %s", resp.StatusCode, string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "captcha: decode response")
	}
	return nil
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
