package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBool(t *testing.T) {
	trueTokens := []string{"true", "YES", "y", "1", "on", "Enabled"}
	for _, tok := range trueTokens {
		got, err := ParseBool(tok)
		require.NoError(t, err, tok)
		assert.True(t, got, tok)
	}

	falseTokens := []string{"false", "No", "n", "0", "off", "DISABLED", ""}
	for _, tok := range falseTokens {
		got, err := ParseBool(tok)
		require.NoError(t, err, tok)
		assert.False(t, got, tok)
	}

	_, err := ParseBool("maybe")
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"85031", "85033"}, SplitList("85031,85033"))
	assert.Equal(t, []string{"85031", "85033"}, SplitList("85031; 85033"))
	assert.Equal(t, []string{"a", "b", "c"}, SplitList("a, b ;c"))
	assert.Nil(t, SplitList(""))
	assert.Empty(t, SplitList(",;,"))
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "phoenix_properties", cfg.Database.Name)
	assert.Equal(t, 10, cfg.Database.PoolSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Collection.BatchSize)
	assert.Equal(t, 3, cfg.Collection.Retry.MaxRetries)
	assert.Equal(t, 2.0, cfg.Collection.Retry.Backoff)
	assert.Equal(t, 3, cfg.Proxy.MaxFailures)
	assert.Equal(t, 50, cfg.Sources.County.RateLimit)
	assert.Equal(t, 60, cfg.Sources.County.RateWindowSecs)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.True(t, cfg.Features.CacheEnabled)
	assert.False(t, cfg.Features.RawHTMLRetention)
	assert.Equal(t, 7, cfg.Features.RawHTMLTTLDays)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
collection:
  target_zipcodes: [85031, 85033]
  batch_size: 25
sources:
  county:
    base_url: https://api.assessor.example.gov
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"85031", "85033"}, cfg.Collection.TargetZipcodes)
	assert.Equal(t, 25, cfg.Collection.BatchSize)
	assert.Equal(t, "https://api.assessor.example.gov", cfg.Sources.County.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	yaml := "collection:\n  batch_size: 25\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("COLLECTOR_COLLECTION_BATCH_SIZE", "40")
	t.Setenv("COLLECTOR_COLLECTION_TARGET_ZIPCODES", "85001;85002,85003")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Collection.BatchSize)
	assert.Equal(t, []string{"85001", "85002", "85003"}, cfg.Collection.TargetZipcodes)
}

func TestLoad_RejectsPlainHTTPCountyURL(t *testing.T) {
	dir := chdirTemp(t)
	yaml := "sources:\n  county:\n    base_url: http://insecure.example.gov\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestSecrets(t *testing.T) {
	t.Setenv("SECRET_COUNTY_TOKEN", "tok-123")
	t.Setenv("CREDENTIAL_PROXY_PASS", "hunter2")

	assert.Equal(t, "tok-123", GetSecret("SECRET_COUNTY_TOKEN", "fallback"))
	assert.Equal(t, "hunter2", GetSecret("CREDENTIAL_PROXY_PASS", ""))
	// Unprefixed names never resolve.
	t.Setenv("COUNTY_TOKEN", "leaky")
	assert.Equal(t, "fallback", GetSecret("COUNTY_TOKEN", "fallback"))

	got, err := MustSecret("SECRET_COUNTY_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", got)

	_, err = MustSecret("SECRET_MISSING")
	assert.Error(t, err)
	_, err = MustSecret("UNPREFIXED")
	assert.Error(t, err)
}

func TestConfigYAMLRedactsProxyCredentials(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Proxy.Username = "user"
	cfg.Proxy.Password = "hunter2"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "database:")
	assert.Contains(t, string(out), "logging:")
	assert.NotContains(t, string(out), "hunter2")
}

// chdirTemp moves the test into an empty directory so stray config.yaml
// files cannot leak into Load.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
	return dir
}
