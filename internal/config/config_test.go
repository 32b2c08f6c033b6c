package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/geo-enrich/pkg/logging"
	"github.com/Sternrassler/geo-enrich/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geo-enrich.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "https://eutils.ncbi.nlm.nih.gov", cfg.Eutils.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Eutils.Timeout)
	assert.Equal(t, 10.0, cfg.Eutils.RequestsPerSecond)
	assert.True(t, cfg.Eutils.BreakerEnabled)
	assert.Equal(t, 24*time.Hour, cfg.Eutils.CacheTTL)

	assert.Equal(t, 10, cfg.Pipeline.Concurrency)
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, "quadratic", cfg.Pipeline.Backoff)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.MaxBackoff)
	assert.Equal(t, 10, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Pipeline.ChunkDelay)
	assert.Equal(t, 10, cfg.Pipeline.MinRows)

	assert.False(t, cfg.CacheEnabled())
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  pretty: true
eutils:
  api_key: file-key
  requests_per_second: 3
pipeline:
  concurrency: 4
  backoff: exponential
  base_delay: 250ms
  min_rows: 1
redis:
  addr: localhost:6379
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, "file-key", cfg.Eutils.APIKey)
	assert.Equal(t, 3.0, cfg.Eutils.RequestsPerSecond)
	assert.Equal(t, 4, cfg.Pipeline.Concurrency)
	assert.Equal(t, "exponential", cfg.Pipeline.Backoff)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.BaseDelay)
	assert.Equal(t, 1, cfg.Pipeline.MinRows)
	assert.True(t, cfg.CacheEnabled())

	// Untouched keys keep their defaults.
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "eutils:\n  api_key: file-key\npipeline:\n  concurrency: 4\n")
	t.Setenv("GEO_ENRICH_EUTILS_API_KEY", "env-key")
	t.Setenv("GEO_ENRICH_PIPELINE_CONCURRENCY", "7")
	t.Setenv("GEO_ENRICH_PIPELINE_CHUNK_DELAY", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Eutils.APIKey)
	assert.Equal(t, 7, cfg.Pipeline.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.ChunkDelay)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"zero concurrency", "pipeline:\n  concurrency: 0\n", "Concurrency"},
		{"unknown backoff", "pipeline:\n  backoff: linear\n", "Backoff"},
		{"bad level", "log:\n  level: chatty\n", "Level"},
		{"bad base url", "eutils:\n  base_url: not a url\n", "BaseURL"},
		{"negative rate", "eutils:\n  requests_per_second: -1\n", "RequestsPerSecond"},
		{"failure rate above one", "eutils:\n  breaker_failure_rate: 1.5\n", "BreakerFailureRate"},
		{"redis addr without port", "redis:\n  addr: localhost\n", "Addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfig_Conversions(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
log:
  level: warning
eutils:
  api_key: k
pipeline:
  backoff: exponential
  max_attempts: 3
  min_rows: 2
`))
	require.NoError(t, err)

	assert.Equal(t, logging.LevelWarn, cfg.Logging().Level)

	ec := cfg.EutilsClient()
	assert.Equal(t, "k", ec.APIKey)
	assert.Equal(t, cfg.Eutils.BaseURL, ec.BaseURL)
	assert.Nil(t, ec.Cache)

	pc := cfg.PipelineRun()
	assert.Equal(t, ratelimit.BackoffExponential, pc.Retry.Strategy)
	assert.Equal(t, 3, pc.Retry.MaxAttempts)
	assert.Equal(t, 2, pc.MinRows)
	assert.Equal(t, 10, pc.Concurrency)
}
