// Package cache provides a Redis-backed cache for upstream responses.
//
// Dataset summaries and series designs rarely change, so repeated enrichment
// runs over overlapping identifier lists can be served from Redis instead of
// spending rate-limited requests. Only successful bodies are stored; failures
// always go back to the network.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.CacheKey{
//		Endpoint:    "/entrez/eutils/esummary.fcgi",
//		QueryParams: url.Values{"db": {"gds"}, "id": {"200012345"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch and manager.Set(ctx, key, cache.NewEntry(body, 200, ttl))
//	}
//
// # Metrics
//
//   - geo_cache_hits_total - Cache hits
//   - geo_cache_misses_total - Cache misses
//   - geo_cache_errors_total{operation} - Cache operation errors
package cache
