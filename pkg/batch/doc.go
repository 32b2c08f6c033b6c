// Package batch dispatches per-key work in chunks.
//
// Keys are split into groups of Config.ChunkSize. All keys of a group run
// concurrently; the runner waits for the whole group, sleeps Config.ChunkDelay
// and moves to the next group. Results come back in input order.
//
// Example usage:
//
//	runner := batch.NewRunner(batch.DefaultConfig(), logger)
//	pairs := batch.FanOut(ctx, runner, ids, func(ctx context.Context, id int) string {
//		return lookup(ctx, id)
//	}, nil)
//
// The runner does not limit concurrency across chunks or callers; that is the
// job of the ratelimit.PermitPool held inside fn.
package batch
