// Package config loads geo-enrich configuration from defaults, an optional
// YAML file and GEO_ENRICH_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/geo-enrich/pkg/eutils"
	"github.com/Sternrassler/geo-enrich/pkg/logging"
	"github.com/Sternrassler/geo-enrich/pkg/pipeline"
	"github.com/Sternrassler/geo-enrich/pkg/ratelimit"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GEO_ENRICH_EUTILS_API_KEY.
const EnvPrefix = "GEO_ENRICH"

// Config is the complete application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Eutils   EutilsConfig   `mapstructure:"eutils"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Pretty bool   `mapstructure:"pretty"`
}

// EutilsConfig configures the upstream client.
type EutilsConfig struct {
	BaseURL            string        `mapstructure:"base_url" validate:"required,url"`
	GEOURL             string        `mapstructure:"geo_url" validate:"required,url"`
	APIKey             string        `mapstructure:"api_key"`
	UserAgent          string        `mapstructure:"user_agent" validate:"required"`
	Timeout            time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst              int           `mapstructure:"burst" validate:"gte=0"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	BreakerEnabled     bool          `mapstructure:"breaker_enabled"`
	BreakerMinRequests uint32        `mapstructure:"breaker_min_requests" validate:"gte=1"`
	BreakerFailureRate float64       `mapstructure:"breaker_failure_rate" validate:"gt=0,lte=1"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout" validate:"gt=0"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
}

// PipelineConfig configures concurrency, retry and chunking.
type PipelineConfig struct {
	Concurrency int           `mapstructure:"concurrency" validate:"min=1,max=100"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"min=1,max=20"`
	Backoff     string        `mapstructure:"backoff" validate:"oneof=quadratic exponential"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" validate:"gte=0"`
	Jitter      float64       `mapstructure:"jitter" validate:"gte=0,lt=1"`
	ChunkSize   int           `mapstructure:"chunk_size" validate:"min=1"`
	ChunkDelay  time.Duration `mapstructure:"chunk_delay" validate:"gte=0"`
	// MinRows is the default threshold; a run disables it with an explicit 0.
	MinRows     int           `mapstructure:"min_rows" validate:"min=1"`
}

// RedisConfig enables the response cache when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0,lte=15"`
}

// ServerConfig configures serve mode.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MaxIdentifiers  int           `mapstructure:"max_identifiers" validate:"min=1"`
}

// CacheEnabled reports whether a Redis address is configured.
func (c *Config) CacheEnabled() bool {
	return c.Redis.Addr != ""
}

func setDefaults(v *viper.Viper) {
	eu := eutils.DefaultConfig()
	rp := ratelimit.DefaultRetryPolicy()
	pl := pipeline.DefaultConfig()

	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.pretty", false)

	v.SetDefault("eutils.base_url", eu.BaseURL)
	v.SetDefault("eutils.geo_url", eu.GEOURL)
	v.SetDefault("eutils.api_key", "")
	v.SetDefault("eutils.user_agent", eu.UserAgent)
	v.SetDefault("eutils.timeout", eu.Timeout)
	v.SetDefault("eutils.requests_per_second", eu.RequestsPerSecond)
	v.SetDefault("eutils.burst", eu.Burst)
	v.SetDefault("eutils.insecure_skip_verify", false)
	v.SetDefault("eutils.breaker_enabled", eu.BreakerEnabled)
	v.SetDefault("eutils.breaker_min_requests", eu.BreakerMinRequests)
	v.SetDefault("eutils.breaker_failure_rate", eu.BreakerFailureRate)
	v.SetDefault("eutils.breaker_timeout", eu.BreakerTimeout)
	v.SetDefault("eutils.cache_ttl", eu.CacheTTL)

	v.SetDefault("pipeline.concurrency", pl.Concurrency)
	v.SetDefault("pipeline.max_attempts", rp.MaxAttempts)
	v.SetDefault("pipeline.backoff", string(rp.Strategy))
	v.SetDefault("pipeline.base_delay", rp.BaseDelay)
	v.SetDefault("pipeline.max_backoff", rp.MaxBackoff)
	v.SetDefault("pipeline.jitter", rp.Jitter)
	v.SetDefault("pipeline.chunk_size", pl.ChunkSize)
	v.SetDefault("pipeline.chunk_delay", pl.ChunkDelay)
	v.SetDefault("pipeline.min_rows", pl.MinRows)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_identifiers", 5000)
}

// Load reads configuration. An empty path searches for geo-enrich.yaml in the
// working directory and ~/.config/geo-enrich; a missing file there is not an
// error. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("geo-enrich")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "geo-enrich"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section and reports all violations at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.Config{Level: level, Pretty: c.Log.Pretty}
}

// EutilsClient returns the client configuration. The cache is attached by the caller.
func (c *Config) EutilsClient() eutils.Config {
	e := c.Eutils
	return eutils.Config{
		BaseURL:            e.BaseURL,
		GEOURL:             e.GEOURL,
		APIKey:             e.APIKey,
		UserAgent:          e.UserAgent,
		Timeout:            e.Timeout,
		RequestsPerSecond:  e.RequestsPerSecond,
		Burst:              e.Burst,
		InsecureSkipVerify: e.InsecureSkipVerify,
		BreakerEnabled:     e.BreakerEnabled,
		BreakerMinRequests: e.BreakerMinRequests,
		BreakerFailureRate: e.BreakerFailureRate,
		BreakerTimeout:     e.BreakerTimeout,
		CacheTTL:           e.CacheTTL,
	}
}

// PipelineRun returns the pipeline configuration.
func (c *Config) PipelineRun() pipeline.Config {
	p := c.Pipeline
	cfg := pipeline.DefaultConfig()
	cfg.Concurrency = p.Concurrency
	cfg.Retry = ratelimit.RetryPolicy{
		MaxAttempts: p.MaxAttempts,
		BaseDelay:   p.BaseDelay,
		MaxBackoff:  p.MaxBackoff,
		Strategy:    ratelimit.BackoffStrategy(p.Backoff),
		Jitter:      p.Jitter,
	}
	cfg.ChunkSize = p.ChunkSize
	cfg.ChunkDelay = p.ChunkDelay
	cfg.MinRows = p.MinRows
	return cfg
}
