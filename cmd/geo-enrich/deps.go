package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/geo-enrich/internal/config"
	"github.com/Sternrassler/geo-enrich/pkg/cache"
	"github.com/Sternrassler/geo-enrich/pkg/eutils"
	"github.com/Sternrassler/geo-enrich/pkg/pipeline"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// deps are the long-lived objects built from configuration.
type deps struct {
	redis    *redis.Client
	cache    *cache.Manager
	client   *eutils.Client
	pipeline *pipeline.Pipeline
}

// buildDeps wires the cache, the eutils client and the pipeline. An
// unreachable Redis disables the cache instead of failing.
func buildDeps(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...pipeline.Option) (*deps, error) {
	d := &deps{}
	clientCfg := cfg.EutilsClient()

	if cfg.CacheEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, response cache disabled")
			rdb.Close()
		} else {
			logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
			d.redis = rdb
			d.cache = cache.NewManager(rdb)
			clientCfg.Cache = d.cache
		}
	}

	client, err := eutils.New(clientCfg)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("create eutils client: %w", err)
	}
	d.client = client

	p, err := pipeline.New(client, cfg.PipelineRun(), opts...)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	d.pipeline = p
	return d, nil
}

func (d *deps) close() {
	if d.redis != nil {
		d.redis.Close()
	}
}
