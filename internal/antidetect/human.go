package antidetect

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
)

// DelayRange bounds a random pause.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

func (r DelayRange) pick(rng *rand.Rand) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rng.Int63n(int64(r.Max-r.Min)))
}

// HumanConfig tunes the interaction timings.
type HumanConfig struct {
	Keystroke   DelayRange
	Pause       DelayRange
	ScrollSteps int
}

// DefaultHumanConfig mimics a moderately fast typist.
func DefaultHumanConfig() HumanConfig {
	return HumanConfig{
		Keystroke:   DelayRange{Min: 60 * time.Millisecond, Max: 180 * time.Millisecond},
		Pause:       DelayRange{Min: 500 * time.Millisecond, Max: 2 * time.Second},
		ScrollSteps: 6,
	}
}

// Human performs page interaction with randomized pacing.
type Human struct {
	cfg HumanConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewHuman(cfg HumanConfig, seed int64) *Human {
	return &Human{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (h *Human) delay(r DelayRange) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return r.pick(h.rng)
}

func (h *Human) jitter(n int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 {
		return 0
	}
	return h.rng.Intn(n)
}

// Type clicks the element and sends the text one keystroke at a time
// with variable inter-key delays.
func (h *Human) Type(ctx context.Context, sel, text string) error {
	if err := chromedp.Run(ctx,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	); err != nil {
		return eris.Wrapf(err, "antidetect: focus %s", sel)
	}

	for _, ch := range text {
		if err := sleepCtx(ctx, h.delay(h.cfg.Keystroke)); err != nil {
			return err
		}
		if err := chromedp.Run(ctx, chromedp.SendKeys(sel, string(ch), chromedp.ByQuery)); err != nil {
			return eris.Wrapf(err, "antidetect: type into %s", sel)
		}
	}
	return nil
}

// MoveMouse traces a short path of intermediate points before arriving
// at the target coordinate.
func (h *Human) MoveMouse(ctx context.Context, x, y float64) error {
	steps := 4 + h.jitter(4)
	for i := 1; i <= steps; i++ {
		frac := float64(i) / float64(steps)
		px := x*frac + float64(h.jitter(8))
		py := y*frac + float64(h.jitter(8))
		ev := input.DispatchMouseEvent(input.MouseMoved, px, py)
		if err := chromedp.Run(ctx, ev); err != nil {
			return eris.Wrap(err, "antidetect: mouse move")
		}
		if err := sleepCtx(ctx, time.Duration(10+h.jitter(30))*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// Scroll pages down in uneven increments, pausing between steps the way
// a reader would.
func (h *Human) Scroll(ctx context.Context) error {
	steps := h.cfg.ScrollSteps
	if steps <= 0 {
		steps = 1
	}
	for i := 0; i < steps; i++ {
		dy := 300 + h.jitter(400)
		if err := chromedp.Run(ctx,
			chromedp.Evaluate(`window.scrollBy({top: `+strconv.Itoa(dy)+`, behavior: 'smooth'})`, nil),
		); err != nil {
			return eris.Wrap(err, "antidetect: scroll")
		}
		if err := sleepCtx(ctx, h.delay(h.cfg.Pause)); err != nil {
			return err
		}
	}
	return nil
}

// Pause sleeps a random think-time interval.
func (h *Human) Pause(ctx context.Context) error {
	return sleepCtx(ctx, h.delay(h.cfg.Pause))
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
