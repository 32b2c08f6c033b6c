package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds batch runner configuration.
type Config struct {
	// ChunkSize is the number of keys dispatched together. <= 0 puts all keys in one chunk.
	ChunkSize int

	// ChunkDelay is the pause between two chunks.
	ChunkDelay time.Duration
}

// DefaultConfig returns the configuration used for identifier resolution.
func DefaultConfig() Config {
	return Config{
		ChunkSize:  10,
		ChunkDelay: 100 * time.Millisecond,
	}
}

// Pair couples a key with the value produced for it.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

// Runner dispatches keys chunk by chunk and waits for every key of a chunk
// before starting the next one.
type Runner struct {
	config Config
	logger zerolog.Logger
}

// NewRunner creates a new runner. Negative delays are treated as zero.
func NewRunner(config Config, logger zerolog.Logger) *Runner {
	if config.ChunkDelay < 0 {
		config.ChunkDelay = 0
	}
	return &Runner{
		config: config,
		logger: logger,
	}
}

// Config returns the runner configuration.
func (r *Runner) Config() Config {
	return r.config
}

// Chunk splits keys into consecutive groups of at most size keys.
func Chunk[K any](keys []K, size int) [][]K {
	if len(keys) == 0 {
		return nil
	}
	if size <= 0 || size >= len(keys) {
		return [][]K{keys}
	}

	chunks := make([][]K, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}

// FanOut runs fn once per key, concurrently within a chunk. onDone, when not nil,
// is called after each key completes and may be called from several goroutines.
// The returned pairs follow the order of keys.
//
// fn must not panic and is expected to encode its own failures in V. Bounding the
// number of calls in flight is left to fn.
func FanOut[K comparable, V any](ctx context.Context, r *Runner, keys []K, fn func(context.Context, K) V, onDone func(K, V)) []Pair[K, V] {
	start := time.Now()
	results := make([]Pair[K, V], len(keys))
	chunks := Chunk(keys, r.config.ChunkSize)

	offset := 0
	for i, chunk := range chunks {
		if i > 0 && r.config.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.config.ChunkDelay):
			}
		}

		var wg sync.WaitGroup
		for j, key := range chunk {
			wg.Add(1)
			go func(slot int, key K) {
				defer wg.Done()
				v := fn(ctx, key)
				results[slot] = Pair[K, V]{Key: key, Value: v}
				if onDone != nil {
					onDone(key, v)
				}
			}(offset+j, key)
		}
		wg.Wait()
		offset += len(chunk)

		r.logger.Debug().
			Int("chunk", i+1).
			Int("chunks", len(chunks)).
			Int("keys", len(chunk)).
			Msg("Chunk complete")
	}

	r.logger.Debug().
		Int("keys", len(keys)).
		Int("chunks", len(chunks)).
		Dur("duration", time.Since(start)).
		Msg("Fan-out complete")

	return results
}
