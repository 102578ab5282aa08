package captcha

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/collector-cli/internal/metrics"
)

// HandlerConfig controls the end-to-end challenge flow.
type HandlerConfig struct {
	// ScreenshotDir, when set, receives a PNG of every detected
	// challenge page for offline review.
	ScreenshotDir string
}

// Handler runs the detect, solve, apply, verify cycle inside a browser
// session.
type Handler struct {
	solver *Solver
	cfg    HandlerConfig
	log    *zap.Logger
}

func NewHandler(solver *Solver, cfg HandlerConfig) *Handler {
	return &Handler{solver: solver, cfg: cfg, log: zap.L().Named("captcha")}
}

// Handle inspects the current page and, when a challenge is present,
// solves and applies it. Returns true when a challenge was handled.
func (h *Handler) Handle(ctx context.Context) (bool, error) {
	ch, err := h.detect(ctx)
	if err != nil {
		return false, err
	}
	if ch == nil {
		return false, nil
	}

	metrics.Default().CaptchaDetected.WithLabelValues(string(ch.Type)).Inc()
	h.log.Info("challenge detected",
		zap.String("type", string(ch.Type)),
		zap.String("url", ch.PageURL))

	if h.cfg.ScreenshotDir != "" {
		h.screenshot(ctx, ch)
	}

	sol, err := h.solver.Solve(ctx, ch)
	if err != nil {
		return true, err
	}

	if err := h.apply(ctx, ch, sol); err != nil {
		return true, err
	}

	// Re-detect after applying. A still-present challenge is reported
	// to the caller but is not fatal; some pages keep the widget in the
	// DOM after acceptance.
	again, err := h.detect(ctx)
	if err != nil {
		return true, err
	}
	if again != nil {
		h.log.Warn("challenge still present after solve",
			zap.String("type", string(again.Type)))
	}
	return true, nil
}

func (h *Handler) detect(ctx context.Context) (*Challenge, error) {
	var html, url string
	err := chromedp.Run(ctx,
		chromedp.Location(&url),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, &DetectionError{Err: err}
	}
	return DetectHTML(html, url)
}

// apply injects the token the way each widget expects it.
func (h *Handler) apply(ctx context.Context, ch *Challenge, sol *Solution) error {
	var script string
	switch ch.Type {
	case TypeRecaptchaV2:
		script = fmt.Sprintf(`(() => {
  const el = document.getElementById('g-recaptcha-response') ||
    document.querySelector('textarea[name="g-recaptcha-response"]');
  if (el) { el.style.display = 'block'; el.value = %q; }
  if (typeof ___grecaptcha_cfg !== 'undefined') {
    for (const id of Object.keys(___grecaptcha_cfg.clients)) {
      const client = ___grecaptcha_cfg.clients[id];
      for (const key of Object.keys(client)) {
        const obj = client[key];
        if (obj && typeof obj === 'object') {
          for (const inner of Object.keys(obj)) {
            const cb = obj[inner] && obj[inner].callback;
            if (typeof cb === 'function') { try { cb(%q); } catch (e) {} }
          }
        }
      }
    }
  }
})()`, sol.Token, sol.Token)
	case TypeRecaptchaV3:
		script = fmt.Sprintf(`(() => {
  let el = document.querySelector('input[name="g-recaptcha-response"]');
  if (!el) {
    el = document.createElement('input');
    el.type = 'hidden';
    el.name = 'g-recaptcha-response';
    (document.forms[0] || document.body).appendChild(el);
  }
  el.value = %q;
})()`, sol.Token)
	case TypeHCaptcha:
		script = fmt.Sprintf(`(() => {
  for (const name of ['h-captcha-response', 'g-recaptcha-response']) {
    const el = document.querySelector('textarea[name="' + name + '"]');
    if (el) el.value = %q;
  }
})()`, sol.Token)
	case TypeImage:
		script = fmt.Sprintf(`(() => {
  const el = document.querySelector('input[name*="captcha"]');
  if (el) el.value = %q;
})()`, sol.Token)
	default:
		return &Error{Stage: "apply", Type: ch.Type, Err: eris.New("no apply strategy")}
	}

	if err := chromedp.Run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return &Error{Stage: "apply", Type: ch.Type, Err: err}
	}
	return nil
}

func (h *Handler) screenshot(ctx context.Context, ch *Challenge) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		h.log.Warn("screenshot failed", zap.Error(err))
		return
	}
	name := fmt.Sprintf("captcha_%s_%d.png", ch.Type, time.Now().UnixMilli())
	path := filepath.Join(h.cfg.ScreenshotDir, name)
	if err := os.MkdirAll(h.cfg.ScreenshotDir, 0o755); err != nil {
		h.log.Warn("screenshot dir", zap.Error(err))
		return
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		h.log.Warn("screenshot write", zap.Error(err))
	}
}
