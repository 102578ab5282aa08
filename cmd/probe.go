package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/collector-cli/internal/config"
	"github.com/sells-group/collector-cli/internal/proxy"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Health-check every configured proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if !cfg.Proxy.Enabled || len(cfg.Proxy.URLs) == 0 {
			return eris.New("no proxies configured; set proxy.enabled and proxy.urls")
		}

		username := config.GetSecret("CREDENTIAL_PROXY_USERNAME", cfg.Proxy.Username)
		password := config.GetSecret("CREDENTIAL_PROXY_PASSWORD", cfg.Proxy.Password)
		pool, err := proxy.FromURLs(proxy.Config{
			MaxFailures: cfg.Proxy.MaxFailures,
			Cooldown:    time.Duration(cfg.Proxy.CooldownSecs) * time.Second,
			ProbeURL:    cfg.Proxy.ProbeURL,
		}, cfg.Proxy.URLs, username, password)
		if err != nil {
			return err
		}

		for i := 0; i < pool.Size(); i++ {
			entry, err := pool.Next()
			if err != nil {
				break
			}
			if pool.HealthCheck(ctx, entry) {
				pool.MarkSuccess(entry)
			} else {
				zap.L().Warn("proxy failed probe", zap.String("proxy", entry.Key()))
				pool.MarkFailure(entry)
			}
		}

		stats := pool.Stats()
		zap.L().Info("probe finished",
			zap.Int("proxies", pool.Size()),
			zap.Int("healthy", pool.HealthyCount()))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
