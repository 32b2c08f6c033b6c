package pipeline

import "time"

// Stats summarizes the work done by a run.
type Stats struct {
	Identifiers    int           `json:"identifiers"`
	DatasetIndices int           `json:"dataset_indices"`
	Accessions     int           `json:"accessions"`
	Duration       time.Duration `json:"duration_ns"`
}

// Result is the outcome of a run. A run always produces a Result once its
// input is accepted; partial failure shows up in the failure lists.
type Result struct {
	Rows []EnrichedRow `json:"rows"`

	// BelowThreshold is set when len(Rows) < MinRows. Rows are still returned.
	BelowThreshold bool `json:"below_threshold"`
	MinRows        int  `json:"min_rows"`

	ResolveFailures []FailureRecord `json:"resolve_failures"`
	InfoFailures    []FailureRecord `json:"info_failures"`
	DesignFailures  []FailureRecord `json:"design_failures"`

	State State `json:"state"`
	Stats Stats `json:"stats"`
}

// HasFailures reports whether any key was given up on.
func (r *Result) HasFailures() bool {
	return len(r.ResolveFailures)+len(r.InfoFailures)+len(r.DesignFailures) > 0
}

// Failures returns every failure record in stage order.
func (r *Result) Failures() []FailureRecord {
	out := make([]FailureRecord, 0, len(r.ResolveFailures)+len(r.InfoFailures)+len(r.DesignFailures))
	out = append(out, r.ResolveFailures...)
	out = append(out, r.InfoFailures...)
	out = append(out, r.DesignFailures...)
	return out
}
