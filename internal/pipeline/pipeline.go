// Package pipeline orchestrates extract, validate, persist over batches
// of collected items with bounded concurrency.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/collector-cli/internal/metrics"
	"github.com/sells-group/collector-cli/internal/model"
	"github.com/sells-group/collector-cli/internal/monitor"
	"github.com/sells-group/collector-cli/internal/parse"
	"github.com/sells-group/collector-cli/internal/resilience"
	"github.com/sells-group/collector-cli/internal/store"
	"github.com/sells-group/collector-cli/internal/validate"
)

// Item is one unit of work: raw content plus enough metadata to pick an
// extractor.
type Item struct {
	ID          string
	Source      string
	ContentType model.ContentType
	Content     string
	URL         string
}

// Extractor turns a raw item into a PropertyRecord. The returned
// confidence is the extractor's own estimate in [0,1], or negative when
// it has none. A nil record with a nil error counts as a failure.
type Extractor interface {
	Extract(ctx context.Context, item Item) (*model.PropertyRecord, float64, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, item Item) (*model.PropertyRecord, float64, error)

func (f ExtractorFunc) Extract(ctx context.Context, item Item) (*model.PropertyRecord, float64, error) {
	return f(ctx, item)
}

// Config tunes the pipeline.
type Config struct {
	// MaxConcurrent bounds in-flight items within a batch.
	MaxConcurrent int
	// BatchSize splits the input into sequential batches. Zero defers
	// to the resource monitor's recommendation when one is attached.
	BatchSize int
	Retry     resilience.RetryConfig
}

func DefaultConfig() Config {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 2
	return Config{
		MaxConcurrent: 5,
		BatchSize:     10,
		Retry:         retry,
	}
}

// Summary aggregates one Process invocation.
type Summary struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
	// AvgConfidence averages validation confidence over successful items.
	AvgConfidence float64 `json:"avg_confidence"`
}

func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Successful) / float64(s.Total)
}

// Pipeline owns one run's worth of shared resources. Instances are not
// shared across runs.
type Pipeline struct {
	cfg        Config
	extractors map[model.ContentType]Extractor
	bySource   map[string]Extractor
	validator  *validate.Validator
	repo       store.Repository
	mon        *monitor.Monitor
	raw        parse.RawStore
	rawTTL     time.Duration
	log        *zap.Logger
	now        func() time.Time
}

type Option func(*Pipeline)

// WithExtractor registers the extractor used for a content type.
func WithExtractor(ct model.ContentType, ex Extractor) Option {
	return func(p *Pipeline) { p.extractors[ct] = ex }
}

// WithSourceExtractor registers an extractor for one source tag. Source
// bindings win over content-type bindings.
func WithSourceExtractor(source string, ex Extractor) Option {
	return func(p *Pipeline) { p.bySource[source] = ex }
}

func WithRepository(r store.Repository) Option { return func(p *Pipeline) { p.repo = r } }
func WithValidator(v *validate.Validator) Option {
	return func(p *Pipeline) { p.validator = v }
}
func WithMonitor(m *monitor.Monitor) Option { return func(p *Pipeline) { p.mon = m } }

// WithRawStore retains sanitized copies of HTML items for the given
// window before they are processed.
func WithRawStore(rs parse.RawStore, ttl time.Duration) Option {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return func(p *Pipeline) {
		p.raw = rs
		p.rawTTL = ttl
	}
}

func New(cfg Config, opts ...Option) *Pipeline {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultConfig().Retry
	}
	p := &Pipeline{
		cfg:        cfg,
		extractors: make(map[model.ContentType]Extractor),
		bySource:   make(map[string]Extractor),
		validator:  validate.New(validate.DefaultConfig()),
		log:        zap.L().Named("pipeline"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs every item through extract, validate, persist. Each item
// yields exactly one ProcessingResult; per-item failures never abort the
// batch. On cancellation the results collected so far are returned.
func (p *Pipeline) Process(ctx context.Context, items []Item) ([]model.ProcessingResult, Summary) {
	start := p.now()
	results := make([]model.ProcessingResult, len(items))

	size := p.batchSize()
	for off := 0; off < len(items); off += size {
		end := off + size
		if end > len(items) {
			end = len(items)
		}
		batchStart := p.now()
		var memBefore float64
		if p.mon != nil {
			memBefore = p.mon.MemoryUsageMB()
		}

		// Fresh errgroup per batch keeps the derived context alive
		// across iterations.
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.MaxConcurrent)
		for i := off; i < end; i++ {
			g.Go(func() error {
				results[i] = p.processOne(gCtx, items[i])
				return nil
			})
		}
		_ = g.Wait()

		if p.mon != nil {
			p.mon.RecordBatch(p.now().Sub(batchStart), p.mon.MemoryUsageMB()-memBefore)
		}
		if ctx.Err() != nil {
			results = results[:end]
			break
		}
	}

	sum := summarize(results, p.now().Sub(start))
	p.log.Info("batch processing finished",
		zap.Int("total", sum.Total),
		zap.Int("successful", sum.Successful),
		zap.Int("failed", sum.Failed),
		zap.Duration("duration", sum.Duration))
	return results, sum
}

func (p *Pipeline) batchSize() int {
	if p.cfg.BatchSize > 0 {
		return p.cfg.BatchSize
	}
	if p.mon != nil {
		return p.mon.RecommendedBatchSize()
	}
	return 10
}

func (p *Pipeline) processOne(ctx context.Context, item Item) (res model.ProcessingResult) {
	start := p.now()
	res = model.ProcessingResult{Source: item.Source}
	defer func() {
		res.ProcessingTime = p.now().Sub(start)
		outcome := "failed"
		if res.IsValid {
			outcome = "success"
		}
		m := metrics.Default()
		m.ItemsProcessed.WithLabelValues(item.Source, outcome).Inc()
		m.ProcessingTime.WithLabelValues(item.Source).Observe(res.ProcessingTime.Seconds())
	}()

	if ctx.Err() != nil {
		res.Error = ctx.Err().Error()
		return res
	}

	if p.raw != nil && item.ContentType == model.ContentTypeHTML {
		p.retainRaw(ctx, item)
	}

	ex, ok := p.bySource[item.Source]
	if !ok {
		ex, ok = p.extractors[item.ContentType]
	}
	if !ok {
		return p.fail(res, &resilience.ProcessingError{
			Stage: "extract",
			Err:   eris.Errorf("no extractor for source %q content type %q", item.Source, item.ContentType),
		})
	}

	retry := p.cfg.Retry
	retry.OnRetry = func(attempt int, err error) {
		res.RetryCount = attempt
		p.log.Debug("extraction retry",
			zap.String("item", item.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	type extracted struct {
		rec  *model.PropertyRecord
		conf float64
	}
	out, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (extracted, error) {
		rec, conf, err := ex.Extract(ctx, item)
		return extracted{rec: rec, conf: conf}, err
	})
	if err != nil {
		return p.fail(res, &resilience.ProcessingError{Stage: "extract", Err: err})
	}
	if out.rec == nil {
		return p.fail(res, &resilience.ProcessingError{
			Stage: "extract",
			Err:   eris.New("extractor returned no record"),
		})
	}
	res.Record = out.rec

	res.Validation = p.validator.Validate(out.rec, out.conf)
	if !res.Validation.IsValid {
		res.Error = "record failed validation"
		metrics.Default().ErrorsTotal.WithLabelValues("validation").Inc()
		return res
	}

	if p.repo != nil {
		if _, err := p.repo.Create(ctx, out.rec); err != nil {
			return p.fail(res, &resilience.ProcessingError{Stage: "persist", Err: err})
		}
	}
	res.IsValid = true
	return res
}

// retainRaw stores a sanitized copy of the page. Active content is
// stripped before anything touches disk. Storage failures never block
// item processing.
func (p *Pipeline) retainRaw(ctx context.Context, item Item) {
	now := p.now()
	_, err := p.raw.Put(ctx, &parse.RawPayload{
		ID:          item.ID,
		Source:      item.Source,
		URL:         item.URL,
		ContentType: string(item.ContentType),
		Body:        []byte(parse.SanitizeHTML(item.Content)),
		CapturedAt:  now,
		ExpiresAt:   now.Add(p.rawTTL),
	})
	if err != nil {
		p.log.Warn("raw retention failed", zap.String("item", item.ID), zap.Error(err))
	}
}

func (p *Pipeline) fail(res model.ProcessingResult, err *resilience.ProcessingError) model.ProcessingResult {
	res.Error = err.Error()
	metrics.Default().ErrorsTotal.WithLabelValues("processing").Inc()
	return res
}

func summarize(results []model.ProcessingResult, d time.Duration) Summary {
	sum := Summary{Total: len(results), Duration: d}
	var confTotal float64
	for _, r := range results {
		if r.IsValid {
			sum.Successful++
			if r.Validation != nil {
				confTotal += r.Validation.Confidence
			}
		} else {
			sum.Failed++
		}
	}
	if sum.Successful > 0 {
		sum.AvgConfidence = confTotal / float64(sum.Successful)
	}
	return sum
}
