package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/Sternrassler/geo-enrich/pkg/batch"
	"github.com/Sternrassler/geo-enrich/pkg/eutils"
	"github.com/Sternrassler/geo-enrich/pkg/ratelimit"
)

// resolve maps every identifier to its dataset indices. Identifiers that
// failed are absent from the returned map.
func (p *Pipeline) resolve(ctx context.Context, r *run, ids []Identifier) (map[Identifier][]DatasetIndex, []FailureRecord) {
	start := time.Now()
	exec := p.executors[StageResolve]
	stageKeysTotal.WithLabelValues(string(StageResolve)).Add(float64(len(ids)))

	pairs := batch.FanOut(ctx, p.chunked, ids,
		func(ctx context.Context, id Identifier) ratelimit.Result[[]int] {
			return ratelimit.Call(ctx, exec, strconv.Itoa(int(id)), func(ctx context.Context) ([]int, error) {
				return p.fetcher.Resolve(ctx, int(id))
			})
		},
		func(_ Identifier, res ratelimit.Result[[]int]) {
			if !res.OK() {
				p.reportFailure(r, failureFrom(StageResolve, res))
			}
			r.identifierDone()
		},
	)

	resolved := make(map[Identifier][]DatasetIndex, len(pairs))
	var failures []FailureRecord
	for _, pair := range pairs {
		if !pair.Value.OK() {
			failures = append(failures, failureFrom(StageResolve, pair.Value))
			continue
		}
		indices := make([]DatasetIndex, len(pair.Value.Value))
		for i, v := range pair.Value.Value {
			indices[i] = DatasetIndex(v)
		}
		resolved[pair.Key] = indices
	}

	p.stageDone(StageResolve, start, len(ids), len(failures))
	return resolved, failures
}

// enrich fetches one record per distinct dataset index.
func (p *Pipeline) enrich(ctx context.Context, r *run, indices []DatasetIndex) (map[DatasetIndex]DatasetRecord, []FailureRecord) {
	start := time.Now()
	exec := p.executors[StageInfo]
	stageKeysTotal.WithLabelValues(string(StageInfo)).Add(float64(len(indices)))

	pairs := batch.FanOut(ctx, p.unchunked, indices,
		func(ctx context.Context, idx DatasetIndex) ratelimit.Result[eutils.Summary] {
			return ratelimit.Call(ctx, exec, strconv.Itoa(int(idx)), func(ctx context.Context) (eutils.Summary, error) {
				return p.fetcher.Info(ctx, int(idx))
			})
		},
		func(_ DatasetIndex, res ratelimit.Result[eutils.Summary]) {
			if !res.OK() {
				p.reportFailure(r, failureFrom(StageInfo, res))
			}
		},
	)

	records := make(map[DatasetIndex]DatasetRecord, len(pairs))
	var failures []FailureRecord
	for _, pair := range pairs {
		if !pair.Value.OK() {
			failures = append(failures, failureFrom(StageInfo, pair.Value))
			continue
		}
		s := pair.Value.Value
		records[pair.Key] = DatasetRecord{
			Title:          s.Title,
			Summary:        s.Summary,
			Organism:       s.Organism,
			ExperimentType: s.ExperimentType,
			AccessionCode:  AccessionCode(s.AccessionCode),
		}
	}

	p.stageDone(StageInfo, start, len(indices), len(failures))
	return records, failures
}

// fetchDesigns fetches the design of every distinct normalized accession.
func (p *Pipeline) fetchDesigns(ctx context.Context, r *run, codes []AccessionCode) (map[AccessionCode]string, []FailureRecord) {
	start := time.Now()
	exec := p.executors[StageDesign]
	stageKeysTotal.WithLabelValues(string(StageDesign)).Add(float64(len(codes)))

	pairs := batch.FanOut(ctx, p.unchunked, codes,
		func(ctx context.Context, code AccessionCode) ratelimit.Result[string] {
			return ratelimit.Call(ctx, exec, string(code), func(ctx context.Context) (string, error) {
				return p.fetcher.Design(ctx, string(code))
			})
		},
		func(_ AccessionCode, res ratelimit.Result[string]) {
			if !res.OK() {
				p.reportFailure(r, failureFrom(StageDesign, res))
			}
		},
	)

	designs := make(map[AccessionCode]string, len(pairs))
	var failures []FailureRecord
	for _, pair := range pairs {
		if !pair.Value.OK() {
			failures = append(failures, failureFrom(StageDesign, pair.Value))
			continue
		}
		designs[pair.Key] = pair.Value.Value
	}

	p.stageDone(StageDesign, start, len(codes), len(failures))
	return designs, failures
}

func (p *Pipeline) reportFailure(r *run, f FailureRecord) {
	failuresTotal.WithLabelValues(string(f.Stage)).Inc()
	p.logger.Warn().
		Str("stage", string(f.Stage)).
		Str("key", f.Key).
		Str("error_class", string(f.Class)).
		Int("attempts", f.Attempts).
		Str("reason", f.Reason).
		Msg("Key failed")
	r.notify.failure(f)
}

func (p *Pipeline) stageDone(stage Stage, start time.Time, keys, failed int) {
	elapsed := time.Since(start)
	stageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	p.logger.Info().
		Str("stage", string(stage)).
		Int("keys", keys).
		Int("failed", failed).
		Dur("duration", elapsed).
		Msg("Stage complete")
}

// distinctIndices flattens the resolved indices in identifier order, keeping
// the first occurrence of each index.
func distinctIndices(ids []Identifier, resolved map[Identifier][]DatasetIndex) []DatasetIndex {
	var all []DatasetIndex
	for _, id := range ids {
		all = append(all, resolved[id]...)
	}
	return dedupe(all)
}

// distinctAccessions collects the normalized accession codes of the fetched
// records. Records without any code cannot reach the design stage and are
// returned as design failures keyed by their dataset index.
func distinctAccessions(indices []DatasetIndex, records map[DatasetIndex]DatasetRecord) ([]AccessionCode, []FailureRecord) {
	var codes []AccessionCode
	var missing []FailureRecord
	for _, idx := range indices {
		rec, ok := records[idx]
		if !ok {
			continue
		}
		code := NormalizeAccession(rec.AccessionCode)
		if code == "" {
			missing = append(missing, FailureRecord{
				Stage:  StageDesign,
				Key:    strconv.Itoa(int(idx)),
				Reason: "dataset has no accession code",
				Class:  ratelimit.ErrorClassPermanent,
			})
			continue
		}
		codes = append(codes, code)
	}
	return dedupe(codes), missing
}
