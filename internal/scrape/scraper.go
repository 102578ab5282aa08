// Package scrape drives a headless browser against the MLS site.
package scrape

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/collector-cli/internal/antidetect"
	"github.com/sells-group/collector-cli/internal/captcha"
	"github.com/sells-group/collector-cli/internal/classify"
	"github.com/sells-group/collector-cli/internal/metrics"
	"github.com/sells-group/collector-cli/internal/model"
	"github.com/sells-group/collector-cli/internal/parse"
	"github.com/sells-group/collector-cli/internal/proxy"
	"github.com/sells-group/collector-cli/internal/resilience"
)

const sourceName = "mls"

// Config tunes the scraper.
type Config struct {
	SearchURL string
	Headless  bool
	// ZipInputSelector locates the search form input.
	ZipInputSelector string
	SubmitSelector   string
	ResultSelector   string
	NavTimeout       time.Duration
	// InterRequestMin/Max bound the random delay between batch items.
	InterRequestMin time.Duration
	InterRequestMax time.Duration
	// ProxyRecovery is the fixed sleep when the pool is exhausted.
	ProxyRecovery time.Duration
}

// DefaultConfig covers a typical MLS search frontend.
func DefaultConfig() Config {
	return Config{
		Headless:         true,
		ZipInputSelector: "input[name='zipcode'], input#search",
		SubmitSelector:   "button[type='submit']",
		ResultSelector:   ".search-results .listing, .result-card",
		NavTimeout:       45 * time.Second,
		InterRequestMin:  2 * time.Second,
		InterRequestMax:  6 * time.Second,
		ProxyRecovery:    30 * time.Second,
	}
}

// Detail is one scraped property-detail page.
type Detail struct {
	URL       string                `json:"url"`
	RawHTML   string                `json:"-"`
	Record    *model.PropertyRecord `json:"record,omitempty"`
	ScrapedAt time.Time             `json:"scraped_at"`
	Err       error                 `json:"-"`
}

// Waiter gates navigation admission.
type Waiter interface {
	Wait(ctx context.Context, source string) (time.Duration, error)
}

// Scraper owns exactly one browser session. Run multiple instances for
// page-level parallelism; sessions are not shared across tasks.
type Scraper struct {
	cfg        Config
	limiter    Waiter
	pool       *proxy.Pool
	captcha    *captcha.Handler
	classifier *classify.Classifier
	parser     *parse.Parser
	profiles   *antidetect.Generator
	human      *antidetect.Human
	log        *zap.Logger

	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tab         context.Context
	current     *proxy.Entry

	rng   *rand.Rand
	sleep func(context.Context, time.Duration) error
	// navigate and content are swappable for tests.
	navigate func(ctx context.Context, url string) (string, string, error)
}

// Option configures optional collaborators.
type Option func(*Scraper)

func WithLimiter(w Waiter) Option { return func(s *Scraper) { s.limiter = w } }
func WithProxyPool(p *proxy.Pool) Option { return func(s *Scraper) { s.pool = p } }
func WithCaptcha(h *captcha.Handler) Option { return func(s *Scraper) { s.captcha = h } }

func New(cfg Config, opts ...Option) *Scraper {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if cfg.ProxyRecovery <= 0 {
		cfg.ProxyRecovery = 30 * time.Second
	}
	s := &Scraper{
		cfg:        cfg,
		classifier: classify.New(),
		parser:     parse.New(parse.DefaultSelectors()),
		profiles:   antidetect.NewGenerator(time.Now().UnixNano()),
		human:      antidetect.NewHuman(antidetect.DefaultHumanConfig(), time.Now().UnixNano()),
		log:        zap.L().Named("scrape"),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:      sleepCtx,
	}
	s.navigate = s.navigateBrowser
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize launches the browser with automation markers masked and a
// fresh identity applied.
func (s *Scraper) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tab != nil {
		return eris.New("scrape: already initialized")
	}

	profile := s.profiles.Next()
	opts := antidetect.AllocatorOptions(profile, s.cfg.Headless)
	if s.pool != nil {
		entry, err := s.pool.Next()
		if err == nil {
			opts = append(opts, chromedp.ProxyServer(entry.URL().String()))
			s.current = &entry
		} else if !eris.Is(err, resilience.ErrNoHealthyProxies) {
			return err
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	if err := antidetect.Apply(tabCtx, profile); err != nil {
		tabCancel()
		allocCancel()
		return err
	}

	s.allocCancel = allocCancel
	s.tabCancel = tabCancel
	s.tab = tabCtx
	return nil
}

// Close tears the browser down. Safe to call more than once.
func (s *Scraper) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tabCancel != nil {
		s.tabCancel()
		s.tabCancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
	s.tab = nil
}

// SearchByZipcode fills the search form like a human and extracts
// listing stubs from the result page.
func (s *Scraper) SearchByZipcode(ctx context.Context, zipcode string) ([]model.PropertyStub, error) {
	if err := s.admit(ctx); err != nil {
		return nil, err
	}

	tab, err := s.session()
	if err != nil {
		return nil, err
	}
	navCtx, cancel := context.WithTimeout(tab, s.cfg.NavTimeout)
	defer cancel()

	err = chromedp.Run(navCtx,
		chromedp.Navigate(s.cfg.SearchURL),
		chromedp.WaitVisible(s.cfg.ZipInputSelector, chromedp.ByQuery),
	)
	if err != nil {
		return nil, s.classifyNav(ctx, "search", err)
	}

	if err := s.human.Type(navCtx, s.cfg.ZipInputSelector, zipcode); err != nil {
		return nil, err
	}
	if err := s.human.Pause(navCtx); err != nil {
		return nil, err
	}

	var html string
	err = chromedp.Run(navCtx,
		chromedp.Click(s.cfg.SubmitSelector, chromedp.ByQuery),
		chromedp.WaitVisible(s.cfg.ResultSelector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, s.classifyNav(ctx, "search", err)
	}

	if handled, err := s.handleCaptcha(navCtx); err != nil {
		return nil, err
	} else if handled {
		if err := chromedp.Run(navCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
			return nil, eris.Wrap(err, "scrape: recapture results")
		}
	}

	stubs, err := ExtractStubs(html, s.cfg.SearchURL)
	if err != nil {
		return nil, err
	}
	s.markProxy(true)
	metrics.Default().RequestsTotal.WithLabelValues(sourceName, "ok").Inc()
	return stubs, nil
}

// GetPropertyDetails navigates to a listing page, captures the content,
// and extracts fields by selector priority.
func (s *Scraper) GetPropertyDetails(ctx context.Context, url string) (*Detail, error) {
	if err := s.admit(ctx); err != nil {
		return nil, err
	}

	html, finalURL, err := s.navigate(ctx, url)
	if err != nil {
		return nil, err
	}

	if det := s.classifier.Classify(&classify.Input{StatusCode: 200, Body: html, URL: finalURL}); det != nil {
		if reclassified := s.recover(ctx, det); reclassified != nil {
			return nil, reclassified
		}
	}

	detail := &Detail{URL: url, RawHTML: html, ScrapedAt: time.Now().UTC()}
	rec, err := s.parser.Parse(html, url)
	if err != nil {
		s.log.Warn("field extraction failed", zap.String("url", url), zap.Error(err))
	} else {
		detail.Record = rec
	}
	s.markProxy(true)
	metrics.Default().RequestsTotal.WithLabelValues(sourceName, "ok").Inc()
	return detail, nil
}

// ScrapeBatch walks the urls with random pacing and applies the backoff
// policy on rate limits. Partial results are always returned.
func (s *Scraper) ScrapeBatch(ctx context.Context, urls []string) []Detail {
	results := make([]Detail, 0, len(urls))
	rateLimitHits := 0

	for i, url := range urls {
		if i > 0 {
			if err := s.sleep(ctx, s.interRequestDelay()); err != nil {
				break
			}
		}

		detail, err := s.GetPropertyDetails(ctx, url)
		if err != nil {
			results = append(results, Detail{URL: url, Err: err, ScrapedAt: time.Now().UTC()})

			switch {
			case isRateLimit(err):
				rateLimitHits++
				backoff := time.Duration(math.Min(60, math.Pow(2, float64(rateLimitHits)))) * time.Second
				s.log.Warn("rate limited, backing off",
					zap.Int("hits", rateLimitHits),
					zap.Duration("backoff", backoff))
				if s.sleep(ctx, backoff) != nil {
					return results
				}
			case eris.Is(err, resilience.ErrNoHealthyProxies):
				s.log.Warn("proxy pool exhausted, pausing",
					zap.Duration("recovery", s.cfg.ProxyRecovery))
				if s.sleep(ctx, s.cfg.ProxyRecovery) != nil {
					return results
				}
			case ctx.Err() != nil:
				return results
			}
			continue
		}
		results = append(results, *detail)
	}
	return results
}

// admit awaits the rate limiter before any navigation.
func (s *Scraper) admit(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	_, err := s.limiter.Wait(ctx, sourceName)
	return err
}

func (s *Scraper) session() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tab == nil {
		return nil, eris.New("scrape: not initialized")
	}
	return s.tab, nil
}

func (s *Scraper) navigateBrowser(ctx context.Context, url string) (string, string, error) {
	tab, err := s.session()
	if err != nil {
		return "", "", err
	}
	navCtx, cancel := context.WithTimeout(tab, s.cfg.NavTimeout)
	defer cancel()

	var html, location string
	err = chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return "", "", s.classifyNav(ctx, "detail", err)
	}

	if err := s.human.Scroll(navCtx); err != nil {
		return "", "", err
	}

	err = chromedp.Run(navCtx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", eris.Wrap(err, "scrape: capture content")
	}
	return html, location, nil
}

// recover reacts to a classified in-flight failure. A nil return means
// the condition was handled and the current page content is usable.
func (s *Scraper) recover(ctx context.Context, det *classify.Detected) error {
	metrics.Default().ErrorsTotal.WithLabelValues(string(det.Kind)).Inc()

	switch det.Kind {
	case classify.KindBlockedIP:
		s.markProxy(false)
		if err := s.rotateProxy(ctx); err != nil {
			return err
		}
		return resilience.NewCollectionError("navigate", sourceName, 403,
			eris.Errorf("blocked (%s), proxy rotated", det.Context.BlockType))

	case classify.KindCaptcha:
		handled, err := s.handleCaptcha(ctx)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
		return resilience.NewCollectionError("navigate", sourceName, 0, eris.New("captcha present, no handler"))

	case classify.KindRateLimit:
		metrics.Default().RateLimitHits.WithLabelValues(sourceName).Inc()
		return &rateLimitError{wait: det.Context.RetryAfter}

	default:
		return resilience.NewCollectionError("navigate", sourceName, det.Context.StatusCode,
			eris.Errorf("page classified as %s", det.Kind))
	}
}

func (s *Scraper) handleCaptcha(ctx context.Context) (bool, error) {
	if s.captcha == nil {
		return false, nil
	}
	tab, err := s.session()
	if err != nil {
		return false, err
	}
	return s.captcha.Handle(tab)
}

// classifyNav distinguishes transport failures worth a proxy rotation
// from plain timeouts.
func (s *Scraper) classifyNav(ctx context.Context, op string, err error) error {
	if strings.Contains(err.Error(), "net::ERR_PROXY_CONNECTION_FAILED") ||
		strings.Contains(err.Error(), "net::ERR_TUNNEL_CONNECTION_FAILED") {
		s.markProxy(false)
		if rerr := s.rotateProxy(ctx); rerr != nil {
			return rerr
		}
	}
	return resilience.NewCollectionError(op, sourceName, 0, err)
}

// rotateProxy tears the session down and relaunches through the next
// pool entry.
func (s *Scraper) rotateProxy(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	s.Close()
	return s.Initialize(ctx)
}

func (s *Scraper) markProxy(success bool) {
	s.mu.Lock()
	entry := s.current
	s.mu.Unlock()
	if s.pool == nil || entry == nil {
		return
	}
	if success {
		s.pool.MarkSuccess(*entry)
	} else {
		s.pool.MarkFailure(*entry)
	}
}

func (s *Scraper) interRequestDelay() time.Duration {
	min, max := s.cfg.InterRequestMin, s.cfg.InterRequestMax
	if max <= min {
		return min
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}

// ExtractStubs pulls listing stubs out of a search results page.
func ExtractStubs(html, baseURL string) ([]model.PropertyStub, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: read results page")
	}

	var stubs []model.PropertyStub
	doc.Find(".search-results .listing, .result-card").Each(func(_ int, sel *goquery.Selection) {
		stub := model.PropertyStub{
			Address:   parse.NormalizeText(sel.Find(".address").First().Text()),
			PriceText: parse.NormalizeText(sel.Find(".price").First().Text()),
			MLSID:     parse.NormalizeText(sel.Find(".mls-id").First().Text()),
		}
		href, ok := sel.Find("a").First().Attr("href")
		if !ok || href == "" {
			return
		}
		stub.DetailURL = resolveURL(baseURL, href)
		stubs = append(stubs, stub)
	})
	// A results page with zero listings is a normal outcome for a
	// zipcode with no active inventory.
	return stubs, nil
}

func resolveURL(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	b := strings.TrimSuffix(base, "/")
	if i := strings.Index(b, "://"); i >= 0 {
		if j := strings.IndexByte(b[i+3:], '/'); j >= 0 {
			b = b[:i+3+j]
		}
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return b + href
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// rateLimitError carries the advised wait from a rate-limit page.
type rateLimitError struct {
	wait time.Duration
}

func (e *rateLimitError) Error() string { return "mls: rate limited" }

func isRateLimit(err error) bool {
	var rle *rateLimitError
	if eris.As(err, &rle) {
		return true
	}
	var ce *resilience.CollectionError
	return eris.As(err, &ce) && ce.StatusCode == 429
}
