package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/collector-cli/internal/captcha"
	"github.com/sells-group/collector-cli/internal/config"
	"github.com/sells-group/collector-cli/internal/county"
	"github.com/sells-group/collector-cli/internal/metrics"
	"github.com/sells-group/collector-cli/internal/model"
	"github.com/sells-group/collector-cli/internal/pipeline"
	"github.com/sells-group/collector-cli/internal/scrape"
)

var (
	collectZipcodes []string
	collectSource   string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect property records for the target zipcodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(context.Background())

		zipcodes := collectZipcodes
		if len(zipcodes) == 0 {
			zipcodes = cfg.Collection.TargetZipcodes
		}
		if len(zipcodes) == 0 {
			return eris.New("no target zipcodes; set collection.target_zipcodes or --zipcodes")
		}

		var items []pipeline.Item
		if collectSource != "mls" && env.County != nil {
			countyItems, err := collectCounty(ctx, env.County, zipcodes)
			if err != nil {
				return err
			}
			items = append(items, countyItems...)
		}
		if collectSource != "county" && cfg.Sources.MLS.BaseURL != "" {
			items = append(items, collectMLS(ctx, env, zipcodes)...)
		}
		if len(items) == 0 {
			zap.L().Info("nothing to process", zap.Strings("zipcodes", zipcodes))
			return nil
		}

		_, sum := env.Pipeline.Process(ctx, items)

		spend := metrics.Spend().Snapshot()
		zap.L().Info("collection finished",
			zap.Int("total", sum.Total),
			zap.Int("successful", sum.Successful),
			zap.Int("failed", sum.Failed),
			zap.Duration("duration", sum.Duration),
			zap.Float64("spend_usd", spend.TotalUSD),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return err
		}

		if threshold := cfg.Collection.MinSuccessRate; threshold > 0 && sum.SuccessRate() < threshold {
			return eris.Errorf("success rate %.2f below threshold %.2f", sum.SuccessRate(), threshold)
		}
		return nil
	},
}

// propertySearcher is the slice of the county client the search loop
// needs. The interface keeps pagination testable without HTTP.
type propertySearcher interface {
	SearchProperty(ctx context.Context, query string, page int) (*county.SearchResult, error)
}

// collectCounty pages through the assessor search for each zipcode and
// tags the raw JSON rows for LLM extraction.
func collectCounty(ctx context.Context, searcher propertySearcher, zipcodes []string) ([]pipeline.Item, error) {
	var items []pipeline.Item
	for _, zip := range zipcodes {
		query := "zipcode:" + zip
		fetched := 0
		for page := 1; ; page++ {
			res, err := searcher.SearchProperty(ctx, query, page)
			if err != nil {
				if ctx.Err() != nil {
					return items, ctx.Err()
				}
				zap.L().Error("county search failed",
					zap.String("zipcode", zip), zap.Int("page", page), zap.Error(err))
				break
			}
			for i, raw := range res.Results {
				items = append(items, pipeline.Item{
					ID:          zip + "-" + strconv.Itoa(page) + "-" + strconv.Itoa(i),
					Source:      "county",
					ContentType: model.ContentTypeJSON,
					Content:     string(raw),
				})
			}
			fetched += len(res.Results)
			if len(res.Results) == 0 || fetched >= res.Count {
				break
			}
		}
		zap.L().Info("county search done", zap.String("zipcode", zip), zap.Int("items", fetched))
	}
	return items, nil
}

// collectMLS scrapes search results and detail pages. Scrape failures
// are logged and skipped; the pipeline only sees captured pages.
func collectMLS(ctx context.Context, env *collectorEnv, zipcodes []string) []pipeline.Item {
	opts := []scrape.Option{scrape.WithLimiter(env.Limiter)}
	if env.Pool != nil {
		opts = append(opts, scrape.WithProxyPool(env.Pool))
	}
	if cc := cfg.Sources.MLS.Captcha; cc.Enabled {
		solver := captcha.NewSolver(captcha.SolverConfig{
			BaseURL: cc.BaseURL,
			APIKey:  config.GetSecret("SECRET_CAPTCHA_API_KEY", ""),
			Timeout: time.Duration(cc.TimeoutSecs) * time.Second,
		})
		opts = append(opts, scrape.WithCaptcha(
			captcha.NewHandler(solver, captcha.HandlerConfig{ScreenshotDir: cc.ScreenshotDir})))
	}

	scfg := scrape.DefaultConfig()
	scfg.SearchURL = cfg.Sources.MLS.BaseURL + "/search"
	if cfg.Sources.MLS.MinDelayMs > 0 {
		scfg.InterRequestMin = time.Duration(cfg.Sources.MLS.MinDelayMs) * time.Millisecond
	}
	if cfg.Sources.MLS.MaxDelayMs > 0 {
		scfg.InterRequestMax = time.Duration(cfg.Sources.MLS.MaxDelayMs) * time.Millisecond
	}

	scraper := scrape.New(scfg, opts...)
	if err := scraper.Initialize(ctx); err != nil {
		zap.L().Error("scraper init failed, skipping mls", zap.Error(err))
		return nil
	}
	defer scraper.Close()

	var items []pipeline.Item
	for _, zip := range zipcodes {
		stubs, err := scraper.SearchByZipcode(ctx, zip)
		if err != nil {
			zap.L().Error("mls search failed", zap.String("zipcode", zip), zap.Error(err))
			continue
		}
		urls := make([]string, 0, len(stubs))
		for _, st := range stubs {
			urls = append(urls, st.DetailURL)
		}
		for _, d := range scraper.ScrapeBatch(ctx, urls) {
			if d.Err != nil {
				zap.L().Warn("detail scrape failed", zap.String("url", d.URL), zap.Error(d.Err))
				continue
			}
			items = append(items, pipeline.Item{
				ID:          d.URL,
				Source:      "mls",
				ContentType: model.ContentTypeHTML,
				Content:     d.RawHTML,
				URL:         d.URL,
			})
		}
		zap.L().Info("mls search done", zap.String("zipcode", zip), zap.Int("listings", len(stubs)))
	}
	return items
}

func init() {
	collectCmd.Flags().StringSliceVar(&collectZipcodes, "zipcodes", nil, "zipcodes to collect (default from config)")
	collectCmd.Flags().StringVar(&collectSource, "source", "both", "source to collect: county, mls, or both")
	rootCmd.AddCommand(collectCmd)
}
