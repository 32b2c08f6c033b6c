package pipeline

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/geo-enrich/pkg/ratelimit"
)

// Identifier is a caller-supplied bibliographic identifier (a PubMed ID).
type Identifier int

// DatasetIndex identifies one dataset record in the GEO catalog.
type DatasetIndex int

// AccessionCode is a series code such as GSE1234 or GDS1234.
type AccessionCode string

// NormalizeAccession maps the GDS code family onto GSE, which the design
// lookup requires. Other codes are returned trimmed but otherwise unchanged.
func NormalizeAccession(code AccessionCode) AccessionCode {
	s := strings.TrimSpace(string(code))
	if strings.HasPrefix(s, "GDS") {
		return AccessionCode("GSE" + s[3:])
	}
	return AccessionCode(s)
}

// DatasetRecord is the descriptive record of one dataset index.
// OverallDesign stays nil until the join fills it in.
type DatasetRecord struct {
	Title          string
	Summary        string
	Organism       string
	ExperimentType string
	AccessionCode  AccessionCode
	OverallDesign  *string
}

// EnrichedRow is one fully populated output row.
type EnrichedRow struct {
	Identifier     Identifier    `json:"identifier"`
	DatasetIndex   DatasetIndex  `json:"dataset_index"`
	Title          string        `json:"title"`
	Summary        string        `json:"summary"`
	OverallDesign  string        `json:"overall_design"`
	ExperimentType string        `json:"experiment_type"`
	AccessionCode  AccessionCode `json:"accession_code"`
	Organism       string        `json:"organism"`
}

// Stage names a remote lookup step.
type Stage string

const (
	// StageResolve maps identifiers to dataset indices.
	StageResolve Stage = "resolve"

	// StageInfo fetches dataset records.
	StageInfo Stage = "info"

	// StageDesign fetches series designs.
	StageDesign Stage = "design"
)

// FailureRecord describes a key that was given up on. The key is an
// identifier, a dataset index or a normalized accession code depending on Stage.
type FailureRecord struct {
	Stage    Stage  `json:"stage"`
	Key      string `json:"key"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
	// Class is the error class of the final attempt.
	Class ratelimit.ErrorClass `json:"class,omitempty"`
}

// String renders the record for error callbacks and logs.
func (f FailureRecord) String() string {
	return fmt.Sprintf("%s %s failed: %s", f.Stage, f.Key, f.Reason)
}
