// Package quality implements the gate policy that classifies a batch's
// quality result into pass/warn/fail. The scoring itself happens in an
// external collaborator; this package only applies thresholds.
package quality

import (
	"fmt"

	"github.com/livinlefevreloca/waypoint/internal/domain"
)

// Decision is the gate's classification of a batch.
type Decision string

const (
	// DecisionPass promotes the batch with no annotations.
	DecisionPass Decision = "pass"
	// DecisionWarn promotes the batch but annotates the job and surfaces
	// PII findings prominently.
	DecisionWarn Decision = "warn"
	// DecisionFail blocks the batch from the validated and business layers.
	DecisionFail Decision = "fail"
)

// Default thresholds on the 0-100 score scale.
const (
	DefaultPassThreshold = 75.0
	DefaultWarnThreshold = 50.0
)

// Gate classifies quality results against configured thresholds.
type Gate struct {
	passThreshold float64
	warnThreshold float64
}

// NewGate creates a gate with the given thresholds. Thresholds must satisfy
// 0 <= warn <= pass <= 100.
func NewGate(passThreshold, warnThreshold float64) (*Gate, error) {
	if warnThreshold < 0 || passThreshold > 100 || warnThreshold > passThreshold {
		return nil, fmt.Errorf("invalid quality thresholds: pass=%v warn=%v (need 0 <= warn <= pass <= 100)",
			passThreshold, warnThreshold)
	}
	return &Gate{passThreshold: passThreshold, warnThreshold: warnThreshold}, nil
}

// DefaultGate returns a gate with the default 75/50 thresholds.
func DefaultGate() *Gate {
	g, err := NewGate(DefaultPassThreshold, DefaultWarnThreshold)
	if err != nil {
		panic(err)
	}
	return g
}

// Report is the structured outcome of gating one batch.
type Report struct {
	Decision    Decision               `json:"decision"`
	Score       float64                `json:"score"`
	Warnings    []string               `json:"warnings,omitempty"`
	PIIFindings []domain.PIIFinding    `json:"pii_findings,omitempty"`
	Dimensions  domain.DimensionScores `json:"dimensions"`
}

// Promotable reports whether the batch may continue past the Chart stage.
func (r Report) Promotable() bool {
	return r.Decision != DecisionFail
}

// Evaluate classifies a quality result:
//
//	score >= pass              -> pass
//	warn <= score < pass       -> warn
//	score < warn               -> fail
func (g *Gate) Evaluate(result *domain.QualityResult) Report {
	report := Report{
		Score:       result.OverallScore,
		Dimensions:  result.Dimensions,
		PIIFindings: result.PIIFindings,
	}

	switch {
	case result.OverallScore >= g.passThreshold:
		report.Decision = DecisionPass
	case result.OverallScore >= g.warnThreshold:
		report.Decision = DecisionWarn
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("quality score %.1f below pass threshold %.1f", result.OverallScore, g.passThreshold))
	default:
		report.Decision = DecisionFail
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("quality score %.1f below warn threshold %.1f, batch not promoted", result.OverallScore, g.warnThreshold))
	}

	// Surface PII prominently on any non-pass outcome.
	if report.Decision != DecisionPass {
		for _, finding := range result.PIIFindings {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("sensitive field %q (%s): %d instances at %.2f confidence",
					finding.Field, finding.Category, finding.InstanceCount, finding.Confidence))
		}
	}

	return report
}
