// Package config loads the hierarchical collector configuration and
// initializes the global logger.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Collection CollectionConfig `yaml:"collection" mapstructure:"collection"`
	Proxy      ProxyConfig      `yaml:"proxy" mapstructure:"proxy"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Processing ProcessingConfig `yaml:"processing" mapstructure:"processing"`
	Features   FeaturesConfig   `yaml:"features" mapstructure:"features"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
}

// DatabaseConfig configures the document repository.
type DatabaseConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	Name     string `yaml:"name" mapstructure:"name"`
	PoolSize int    `yaml:"pool_size" mapstructure:"pool_size"`
}

// LoggingConfig configures the global zap logger.
type LoggingConfig struct {
	Level    string `yaml:"level" mapstructure:"level"`
	Format   string `yaml:"format" mapstructure:"format"`
	FilePath string `yaml:"file_path" mapstructure:"file_path"`
}

// RetryConfig configures the shared retry wrapper.
type RetryConfig struct {
	MaxRetries int     `yaml:"max_retries" mapstructure:"max_retries"`
	Delay      float64 `yaml:"delay" mapstructure:"delay"`
	Backoff    float64 `yaml:"backoff" mapstructure:"backoff"`
}

// CollectionConfig configures a collection run.
type CollectionConfig struct {
	TargetZipcodes []string    `yaml:"target_zipcodes" mapstructure:"target_zipcodes"`
	BatchSize      int         `yaml:"batch_size" mapstructure:"batch_size"`
	MaxWorkers     int         `yaml:"max_workers" mapstructure:"max_workers"`
	Retry          RetryConfig `yaml:"retry" mapstructure:"retry"`
	MinSuccessRate float64     `yaml:"min_success_rate" mapstructure:"min_success_rate"`
}

// ProxyConfig configures the proxy pool.
type ProxyConfig struct {
	Enabled      bool     `yaml:"enabled" mapstructure:"enabled"`
	URLs         []string `yaml:"urls" mapstructure:"urls"`
	Username     string   `yaml:"username" mapstructure:"username"`
	Password     string   `yaml:"password" mapstructure:"password"`
	Rotation     bool     `yaml:"rotation" mapstructure:"rotation"`
	MaxFailures  int      `yaml:"max_failures" mapstructure:"max_failures"`
	CooldownSecs int      `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	ProbeURL     string   `yaml:"probe_url" mapstructure:"probe_url"`
}

// SourcesConfig groups the two collection sources.
type SourcesConfig struct {
	County CountyConfig `yaml:"county" mapstructure:"county"`
	MLS    MLSConfig    `yaml:"mls" mapstructure:"mls"`
}

// CountyConfig configures the assessor API client.
type CountyConfig struct {
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	AuthHeader      string `yaml:"auth_header" mapstructure:"auth_header"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit       int    `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateWindowSecs  int    `yaml:"rate_window_secs" mapstructure:"rate_window_secs"`
}

// MLSConfig configures the browser-driven MLS scraper.
type MLSConfig struct {
	BaseURL        string        `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs    int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit      int           `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateWindowSecs int           `yaml:"rate_window_secs" mapstructure:"rate_window_secs"`
	MinDelayMs     int           `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	MaxDelayMs     int           `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	Captcha        CaptchaConfig `yaml:"captcha" mapstructure:"captcha"`
}

// CaptchaConfig configures the external captcha solver.
type CaptchaConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	Provider      string `yaml:"provider" mapstructure:"provider"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries    int    `yaml:"max_retries" mapstructure:"max_retries"`
	ScreenshotDir string `yaml:"screenshot_dir" mapstructure:"screenshot_dir"`
}

// ProcessingConfig configures the extraction pipeline.
type ProcessingConfig struct {
	LLMBaseURL  string `yaml:"llm_base_url" mapstructure:"llm_base_url"`
	LLMModel    string `yaml:"llm_model" mapstructure:"llm_model"`
	LLMTimeout  int    `yaml:"llm_timeout" mapstructure:"llm_timeout"`
	MaxWorkers  int    `yaml:"max_workers" mapstructure:"max_workers"`
}

// FeaturesConfig gates optional subsystems.
type FeaturesConfig struct {
	CacheEnabled     bool `yaml:"cache_enabled" mapstructure:"cache_enabled"`
	RawHTMLRetention bool `yaml:"raw_html_retention" mapstructure:"raw_html_retention"`
	// RawHTMLPath selects the sqlite retention store; empty keeps
	// payloads in memory for the run.
	RawHTMLPath    string `yaml:"raw_html_path" mapstructure:"raw_html_path"`
	RawHTMLTTLDays int    `yaml:"raw_html_ttl_days" mapstructure:"raw_html_ttl_days"`
}

// MonitoringConfig configures the metrics endpoint.
type MonitoringConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// CacheConfig configures the response cache tiers.
type CacheConfig struct {
	MaxEntries int    `yaml:"max_entries" mapstructure:"max_entries"`
	MaxBytes   int64  `yaml:"max_bytes" mapstructure:"max_bytes"`
	TTLSecs    int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	Backend    string `yaml:"backend" mapstructure:"backend"`
	RedisAddr  string `yaml:"redis_addr" mapstructure:"redis_addr"`
}

// Load reads configuration with the documented precedence: process
// environment, .env file, environment-specific YAML, base YAML, defaults.
func Load() (*Config, error) {
	// .env feeds the process environment before viper reads it; existing
	// env vars win over file entries.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("COLLECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	// Environment-specific overlay, e.g. config.production.yaml.
	if env := os.Getenv("COLLECTOR_ENV"); env != "" {
		overlay := viper.New()
		overlay.SetConfigName("config." + env)
		overlay.SetConfigType("yaml")
		overlay.AddConfigPath(".")
		if err := overlay.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(overlay.AllSettings()); err != nil {
				return nil, eris.Wrap(err, "config: merge environment overlay")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	// Env vars and .env entries deliver lists as delimited strings.
	cfg.Collection.TargetZipcodes = normalizeList(cfg.Collection.TargetZipcodes)
	cfg.Proxy.URLs = normalizeList(cfg.Proxy.URLs)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.uri", "mongodb://localhost:27017")
	v.SetDefault("database.name", "phoenix_properties")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("collection.target_zipcodes", []string{})
	v.SetDefault("collection.batch_size", 10)
	v.SetDefault("collection.max_workers", 5)
	v.SetDefault("collection.retry.max_retries", 3)
	v.SetDefault("collection.retry.delay", 1.0)
	v.SetDefault("collection.retry.backoff", 2.0)
	v.SetDefault("collection.min_success_rate", 0.5)
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.urls", []string{})
	v.SetDefault("proxy.rotation", true)
	v.SetDefault("proxy.max_failures", 3)
	v.SetDefault("proxy.cooldown_secs", 300)
	v.SetDefault("proxy.probe_url", "https://httpbin.org/ip")
	v.SetDefault("sources.county.auth_header", "Authorization")
	v.SetDefault("sources.county.timeout_secs", 30)
	v.SetDefault("sources.county.rate_limit", 50)
	v.SetDefault("sources.county.rate_window_secs", 60)
	v.SetDefault("sources.mls.timeout_secs", 60)
	v.SetDefault("sources.mls.rate_limit", 20)
	v.SetDefault("sources.mls.rate_window_secs", 60)
	v.SetDefault("sources.mls.min_delay_ms", 2000)
	v.SetDefault("sources.mls.max_delay_ms", 6000)
	v.SetDefault("sources.mls.captcha.enabled", false)
	v.SetDefault("sources.mls.captcha.provider", "twocaptcha")
	v.SetDefault("sources.mls.captcha.timeout_secs", 120)
	v.SetDefault("sources.mls.captcha.max_retries", 3)
	v.SetDefault("processing.llm_base_url", "http://localhost:11434")
	v.SetDefault("processing.llm_model", "llama3.1:8b")
	v.SetDefault("processing.llm_timeout", 60)
	v.SetDefault("processing.max_workers", 5)
	v.SetDefault("features.cache_enabled", true)
	v.SetDefault("features.raw_html_retention", false)
	v.SetDefault("features.raw_html_path", "")
	v.SetDefault("features.raw_html_ttl_days", 7)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.endpoint", ":9090")
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.max_bytes", 64*1024*1024)
	v.SetDefault("cache.ttl_secs", 3600)
	v.SetDefault("cache.backend", "memory")
}

// YAML renders the effective configuration for diagnostics, with proxy
// credentials blanked.
func (c *Config) YAML() ([]byte, error) {
	clone := *c
	clone.Proxy.Username = ""
	clone.Proxy.Password = ""
	out, err := yaml.Marshal(&clone)
	if err != nil {
		return nil, eris.Wrap(err, "config: marshal yaml")
	}
	return out, nil
}

func (c *Config) validate() error {
	if c.Collection.BatchSize <= 0 {
		return eris.New("config: collection.batch_size must be positive")
	}
	if c.Collection.MaxWorkers <= 0 {
		return eris.New("config: collection.max_workers must be positive")
	}
	if c.Sources.County.BaseURL != "" && !strings.HasPrefix(c.Sources.County.BaseURL, "https://") {
		return eris.Errorf("config: sources.county.base_url must be https, got %q", c.Sources.County.BaseURL)
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return eris.Errorf("config: cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	return nil
}

// CountyTimeout returns the county request timeout as a duration.
func (c CountyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// RateWindow returns the county rate-limit window length.
func (c CountyConfig) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSecs) * time.Second
}

// RateWindow returns the MLS rate-limit window length.
func (c MLSConfig) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSecs) * time.Second
}

// ParseBool converts the accepted boolean token sets. The empty string is
// false; unrecognized tokens are an error (type conversion errors are
// fatal at startup).
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "on", "enabled":
		return true, nil
	case "false", "no", "n", "0", "off", "disabled", "":
		return false, nil
	default:
		return false, eris.Errorf("config: invalid boolean %q", s)
	}
}

// SplitList splits a comma- or semicolon-separated value into trimmed,
// non-empty elements.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if t := strings.TrimSpace(f); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeList re-splits list entries that arrived as a single delimited
// string through env vars.
func normalizeList(in []string) []string {
	var out []string
	for _, item := range in {
		out = append(out, SplitList(item)...)
	}
	return out
}

// InitLogger installs the global zap logger per the logging config.
func InitLogger(cfg LoggingConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	if cfg.FilePath != "" {
		zapCfg.OutputPaths = append(zapCfg.OutputPaths, cfg.FilePath)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
