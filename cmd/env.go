package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/collector-cli/internal/cache"
	"github.com/sells-group/collector-cli/internal/config"
	"github.com/sells-group/collector-cli/internal/county"
	"github.com/sells-group/collector-cli/internal/llm"
	"github.com/sells-group/collector-cli/internal/metrics"
	"github.com/sells-group/collector-cli/internal/model"
	"github.com/sells-group/collector-cli/internal/monitor"
	"github.com/sells-group/collector-cli/internal/parse"
	"github.com/sells-group/collector-cli/internal/pipeline"
	"github.com/sells-group/collector-cli/internal/proxy"
	"github.com/sells-group/collector-cli/internal/ratelimit"
	"github.com/sells-group/collector-cli/internal/resilience"
	"github.com/sells-group/collector-cli/internal/store"
)

// collectorEnv holds the shared runtime wired from config. One env backs
// one command invocation.
type collectorEnv struct {
	Limiter  *ratelimit.Limiter
	Pool     *proxy.Pool
	County   *county.Client
	Cache    *cache.Cache
	LLM      *llm.Client
	Monitor  *monitor.Monitor
	Repo     store.Repository
	Raw      parse.RawStore
	Pipeline *pipeline.Pipeline
}

func initEnv(ctx context.Context) (*collectorEnv, error) {
	env := &collectorEnv{}

	env.Limiter = ratelimit.New(ratelimit.Config{})
	env.Limiter.AddObserver(ratelimit.NewMetricsObserver(metrics.Default()))
	env.Limiter.SetSourceConfig("county", ratelimit.Config{
		RequestsPerWindow: cfg.Sources.County.RateLimit,
		Window:            time.Duration(cfg.Sources.County.RateWindowSecs) * time.Second,
	})
	env.Limiter.SetSourceConfig("mls", ratelimit.Config{
		RequestsPerWindow: cfg.Sources.MLS.RateLimit,
		Window:            time.Duration(cfg.Sources.MLS.RateWindowSecs) * time.Second,
	})

	if cfg.Proxy.Enabled && len(cfg.Proxy.URLs) > 0 {
		username := config.GetSecret("CREDENTIAL_PROXY_USERNAME", cfg.Proxy.Username)
		password := config.GetSecret("CREDENTIAL_PROXY_PASSWORD", cfg.Proxy.Password)
		pool, err := proxy.FromURLs(proxy.Config{
			MaxFailures: cfg.Proxy.MaxFailures,
			Cooldown:    time.Duration(cfg.Proxy.CooldownSecs) * time.Second,
			ProbeURL:    cfg.Proxy.ProbeURL,
		}, cfg.Proxy.URLs, username, password)
		if err != nil {
			return nil, err
		}
		env.Pool = pool
	}

	if cfg.Sources.County.BaseURL != "" {
		client, err := county.New(county.Config{
			BaseURL:    cfg.Sources.County.BaseURL,
			Token:      config.GetSecret("SECRET_COUNTY_TOKEN", ""),
			AuthHeader: cfg.Sources.County.AuthHeader,
			Timeout:    time.Duration(cfg.Sources.County.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		client.SetLimiter(env.Limiter)
		env.County = client
	}

	if cfg.Features.CacheEnabled {
		env.Cache = cache.New(cache.Config{
			LRU: cache.LRUConfig{
				MaxEntries: cfg.Cache.MaxEntries,
				MaxBytes:   cfg.Cache.MaxBytes,
				TTL:        time.Duration(cfg.Cache.TTLSecs) * time.Second,
			},
			RedisAddr: cfg.Cache.RedisAddr,
		})
	}

	if cfg.Processing.LLMBaseURL != "" {
		client, err := llm.New(llm.Config{
			BaseURL: cfg.Processing.LLMBaseURL,
			Model:   cfg.Processing.LLMModel,
			Timeout: time.Duration(cfg.Processing.LLMTimeout) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		if err := client.HealthCheck(ctx); err != nil {
			zap.L().Warn("llm health check failed, json extraction degraded", zap.Error(err))
		}
		env.LLM = client
	}

	if cfg.Monitoring.Enabled {
		mon, err := monitor.New(monitor.DefaultConfig())
		if err != nil {
			return nil, err
		}
		mon.Start(ctx)
		env.Monitor = mon
	}

	if cfg.Database.URI != "" {
		repo, err := store.NewMongo(ctx, store.MongoConfig{
			URI:      cfg.Database.URI,
			Database: cfg.Database.Name,
		})
		if err != nil {
			return nil, err
		}
		env.Repo = repo
	} else {
		zap.L().Warn("no database configured, records stay in memory")
		env.Repo = store.NewMemory()
	}

	if cfg.Features.RawHTMLRetention {
		if cfg.Features.RawHTMLPath != "" {
			rs, err := parse.NewSQLiteRawStore(ctx, cfg.Features.RawHTMLPath)
			if err != nil {
				return nil, err
			}
			env.Raw = rs
		} else {
			env.Raw = parse.NewMemoryRawStore()
		}
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithExtractor(model.ContentTypeHTML, pipeline.NewHTMLExtractor(nil)),
		pipeline.WithRepository(env.Repo),
	}
	if env.Raw != nil {
		pipeOpts = append(pipeOpts, pipeline.WithRawStore(env.Raw,
			time.Duration(cfg.Features.RawHTMLTTLDays)*24*time.Hour))
	}
	if env.County != nil {
		pipeOpts = append(pipeOpts,
			pipeline.WithSourceExtractor("county", pipeline.NewCountyExtractor(env.County)))
	}
	if env.LLM != nil {
		pipeOpts = append(pipeOpts,
			pipeline.WithExtractor(model.ContentTypeJSON, pipeline.NewLLMExtractor(env.LLM, env.Cache)))
	}
	if env.Monitor != nil {
		pipeOpts = append(pipeOpts, pipeline.WithMonitor(env.Monitor))
	}
	env.Pipeline = pipeline.New(pipeline.Config{
		MaxConcurrent: cfg.Collection.MaxWorkers,
		BatchSize:     cfg.Collection.BatchSize,
		Retry:         collectionRetry(),
	}, pipeOpts...)

	return env, nil
}

// collectionRetry maps the retry block of the collection config onto
// the shared retry policy.
func collectionRetry() resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if cfg.Collection.Retry.MaxRetries > 0 {
		rc.MaxAttempts = cfg.Collection.Retry.MaxRetries + 1
	}
	if cfg.Collection.Retry.Delay > 0 {
		rc.Delay = time.Duration(cfg.Collection.Retry.Delay * float64(time.Second))
	}
	if cfg.Collection.Retry.Backoff > 0 {
		rc.Backoff = cfg.Collection.Retry.Backoff
	}
	return rc
}

func (e *collectorEnv) Close(ctx context.Context) {
	if e.Monitor != nil {
		e.Monitor.Stop()
	}
	if e.Cache != nil {
		_ = e.Cache.Close()
	}
	if e.Raw != nil {
		if _, err := e.Raw.DeleteExpired(ctx); err != nil {
			zap.L().Warn("raw store cleanup failed", zap.Error(err))
		}
		_ = e.Raw.Close()
	}
	if e.Repo != nil {
		if err := e.Repo.Close(ctx); err != nil {
			zap.L().Warn("repository close failed", zap.Error(err))
		}
	}
}
