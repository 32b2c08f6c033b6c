// Package eutils provides the HTTP client for the NCBI E-utilities and GEO
// accession endpoints used to enrich publication identifiers.
package eutils

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/geo-enrich/pkg/cache"
	"github.com/Sternrassler/geo-enrich/pkg/logging"
	"github.com/Sternrassler/geo-enrich/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Default upstream locations.
const (
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov"
	DefaultGEOURL  = "https://www.ncbi.nlm.nih.gov"

	elinkPath    = "/entrez/eutils/elink.fcgi"
	esummaryPath = "/entrez/eutils/esummary.fcgi"
	accPath      = "/geo/query/acc.cgi"

	maxBodyBytes = 16 << 20
)

// Prometheus metrics for upstream requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_requests_total",
		Help: "Total upstream requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geo_request_duration_seconds",
		Help:    "Upstream request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geo_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})
)

// ResponseCache stores successful upstream bodies. *cache.Manager implements it.
type ResponseCache interface {
	Get(ctx context.Context, key cache.CacheKey) (*cache.CacheEntry, error)
	Set(ctx context.Context, key cache.CacheKey, entry *cache.CacheEntry) error
}

// Config holds the client configuration.
type Config struct {
	// BaseURL serves elink and esummary.
	BaseURL string

	// GEOURL serves acc.cgi.
	GEOURL string

	// APIKey is sent as api_key when set. It is never part of a cache key.
	APIKey string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// RequestsPerSecond paces attempts across the process. 0 disables pacing.
	RequestsPerSecond float64
	Burst             int

	// InsecureSkipVerify disables TLS certificate checks.
	InsecureSkipVerify bool

	// Circuit breaker
	BreakerEnabled     bool
	BreakerMinRequests uint32
	BreakerFailureRate float64
	BreakerTimeout     time.Duration

	// Cache is optional. CacheTTL applies to stored entries.
	Cache    ResponseCache
	CacheTTL time.Duration

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration against the public NCBI endpoints.
func DefaultConfig() Config {
	return Config{
		BaseURL:            DefaultBaseURL,
		GEOURL:             DefaultGEOURL,
		UserAgent:          "geo-enrich/1.0",
		Timeout:            30 * time.Second,
		RequestsPerSecond:  10,
		Burst:              10,
		BreakerEnabled:     true,
		BreakerMinRequests: 20,
		BreakerFailureRate: 0.6,
		BreakerTimeout:     30 * time.Second,
		CacheTTL:           24 * time.Hour,
	}
}

// Client performs the Resolve, Info and Design lookups. Each method makes a
// single attempt; retries belong to the caller's ratelimit.Executor.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	cache      ResponseCache
	config     Config
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.GEOURL == "" {
		return nil, fmt.Errorf("geo url is required")
	}
	for _, raw := range []string{cfg.BaseURL, cfg.GEOURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid url %q", raw)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests_per_second must be >= 0 (got %v)", cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Cache != nil && cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}

	logger := logging.NewLogger("eutils")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in
		}
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}

	c := &Client{
		httpClient: httpClient,
		limiter:    limiter,
		cache:      cfg.Cache,
		config:     cfg,
		logger:     logger,
	}
	if cfg.BreakerEnabled {
		c.breaker = newBreaker("eutils", cfg, logger)
	}

	return c, nil
}

// fetch retrieves endpoint with params and hands the 2xx body to decode.
// A body is cached only after decode accepted it.
func (c *Client) fetch(ctx context.Context, label, baseURL, path string, params url.Values, decode func([]byte) error) error {
	cacheKey := cache.CacheKey{Endpoint: path, QueryParams: params}

	if c.cache != nil {
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			if decodeErr := decode(entry.Data); decodeErr == nil {
				requestsTotal.WithLabelValues(label, "cache_hit").Inc()
				return nil
			}
			c.logger.Warn().Str("endpoint", label).Msg("Discarding undecodable cache entry")
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", label).Msg("Cache get error")
		}
	}

	body, err := c.get(ctx, label, baseURL+path, params)
	if err != nil {
		return err
	}
	if err := decode(body); err != nil {
		return err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, cache.NewEntry(body, http.StatusOK, c.config.CacheTTL)); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", label).Msg("Cache set error")
		}
	}
	return nil
}

// get performs one paced, breaker-guarded GET and returns the 2xx body.
func (c *Client) get(ctx context.Context, label, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		class := ratelimit.ErrorClassNetwork
		if errors.Is(err, context.Canceled) {
			class = ratelimit.ErrorClassCancelled
		}
		errorsTotal.WithLabelValues(string(class)).Inc()
		return nil, &ratelimit.RemoteError{
			ErrorClass: class,
			Message:    "rate limiter wait",
			Err:        err,
		}
	}

	query := cloneValues(params)
	if c.config.APIKey != "" {
		query.Set("api_key", c.config.APIKey)
	}
	target := endpoint + "?" + query.Encode()

	var body []byte
	var err error
	if c.breaker != nil {
		body, err = c.breaker.Execute(func() ([]byte, error) {
			return c.do(ctx, label, target)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			requestsTotal.WithLabelValues(label, "breaker_open").Inc()
			err = &ratelimit.RemoteError{
				ErrorClass: ratelimit.ErrorClassRateLimit,
				Message:    "circuit breaker open",
				Err:        err,
			}
		}
	} else {
		body, err = c.do(ctx, label, target)
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

// do performs a single HTTP GET.
func (c *Client) do(ctx context.Context, label, target string) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(label).Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, ratelimit.Permanent(fmt.Errorf("build request: %w", err))
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().Str("endpoint", label).Msg("Executing upstream request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		class := ratelimit.ErrorClassNetwork
		if errors.Is(err, context.Canceled) {
			class = ratelimit.ErrorClassCancelled
		}
		errorsTotal.WithLabelValues(string(class)).Inc()
		requestsTotal.WithLabelValues(label, "network_error").Inc()
		return nil, &ratelimit.RemoteError{
			ErrorClass: class,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		errorsTotal.WithLabelValues(string(ratelimit.ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(label, "network_error").Inc()
		return nil, &ratelimit.RemoteError{
			StatusCode: resp.StatusCode,
			ErrorClass: ratelimit.ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}

	requestsTotal.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	class := classifyStatus(resp.StatusCode)
	errorsTotal.WithLabelValues(string(class)).Inc()
	c.logger.Debug().
		Str("endpoint", label).
		Int("status", resp.StatusCode).
		Str("error_class", string(class)).
		Msg("Upstream returned error status")

	return nil, &ratelimit.RemoteError{
		StatusCode: resp.StatusCode,
		ErrorClass: class,
		Message:    http.StatusText(resp.StatusCode),
	}
}

// classifyStatus maps a non-2xx status to an error class.
func classifyStatus(status int) ratelimit.ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ratelimit.ErrorClassRateLimit
	case status == http.StatusRequestTimeout:
		return ratelimit.ErrorClassNetwork
	case status >= 400 && status < 500:
		return ratelimit.ErrorClassClient
	default:
		return ratelimit.ErrorClassServer
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
