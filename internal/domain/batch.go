package domain

// Record is a single row fetched from a source stream.
type Record map[string]any

// Batch is the unit of work flowing through the pipeline: all records fetched
// for one stream in one job execution, together with the largest cursor value
// observed among them.
type Batch struct {
	SourceID string
	Stream   string
	Records  []Record

	// MaxCursor is the maximum cursor value observed in this batch under the
	// connector's ordering. Empty when the connector does not support cursors
	// or the batch is empty.
	MaxCursor string
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

// DimensionScores holds the per-dimension quality scores on the 0-100 scale.
type DimensionScores struct {
	Completeness float64 `json:"completeness"`
	Uniqueness   float64 `json:"uniqueness"`
	Validity     float64 `json:"validity"`
	Consistency  float64 `json:"consistency"`
	Timeliness   float64 `json:"timeliness"`
	Accuracy     float64 `json:"accuracy"`
}

// PIIFinding describes a sensitive field detected in a batch by the
// classification collaborator.
type PIIFinding struct {
	Field         string  `json:"field"`
	Category      string  `json:"category"`
	Confidence    float64 `json:"confidence"`
	InstanceCount int     `json:"instance_count"`
}

// QualityResult is the quality collaborator's verdict on one batch.
type QualityResult struct {
	OverallScore float64         `json:"overall_score"`
	Dimensions   DimensionScores `json:"dimensions"`
	PIIFindings  []PIIFinding    `json:"pii_findings,omitempty"`
}
