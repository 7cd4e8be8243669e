package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/waypoint/internal/domain"
)

func TestNewGate_RejectsInvalidThresholds(t *testing.T) {
	cases := []struct {
		name string
		pass float64
		warn float64
	}{
		{"warn above pass", 50, 75},
		{"negative warn", 75, -1},
		{"pass above scale", 101, 50},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewGate(tc.pass, tc.warn)
			require.Error(t, err)
		})
	}
}

func TestEvaluate_Classification(t *testing.T) {
	gate := DefaultGate()

	cases := []struct {
		name     string
		score    float64
		expected Decision
	}{
		{"well above pass", 95, DecisionPass},
		{"exactly pass threshold", 75, DecisionPass},
		{"between thresholds", 60, DecisionWarn},
		{"exactly warn threshold", 50, DecisionWarn},
		{"below warn threshold", 40, DecisionFail},
		{"zero score", 0, DecisionFail},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := gate.Evaluate(&domain.QualityResult{OverallScore: tc.score})
			assert.Equal(t, tc.expected, report.Decision)
			assert.Equal(t, tc.score, report.Score)
		})
	}
}

func TestEvaluate_FailBlocksPromotion(t *testing.T) {
	gate := DefaultGate()

	report := gate.Evaluate(&domain.QualityResult{OverallScore: 40})
	assert.False(t, report.Promotable())

	report = gate.Evaluate(&domain.QualityResult{OverallScore: 60})
	assert.True(t, report.Promotable())

	report = gate.Evaluate(&domain.QualityResult{OverallScore: 90})
	assert.True(t, report.Promotable())
}

func TestEvaluate_SurfacesPIIOnWarn(t *testing.T) {
	gate := DefaultGate()

	result := &domain.QualityResult{
		OverallScore: 60,
		PIIFindings: []domain.PIIFinding{
			{Field: "email", Category: "contact", Confidence: 0.98, InstanceCount: 120},
			{Field: "ssn", Category: "government_id", Confidence: 0.91, InstanceCount: 3},
		},
	}

	report := gate.Evaluate(result)
	require.Equal(t, DecisionWarn, report.Decision)
	require.Len(t, report.PIIFindings, 2)

	// One warning for the score plus one per finding.
	assert.Len(t, report.Warnings, 3)
	assert.Contains(t, report.Warnings[1], "email")
	assert.Contains(t, report.Warnings[2], "ssn")
}

func TestEvaluate_PassKeepsFindingsWithoutWarnings(t *testing.T) {
	gate := DefaultGate()

	result := &domain.QualityResult{
		OverallScore: 90,
		PIIFindings:  []domain.PIIFinding{{Field: "phone", Category: "contact", Confidence: 0.8, InstanceCount: 10}},
	}

	report := gate.Evaluate(result)
	assert.Equal(t, DecisionPass, report.Decision)
	assert.Empty(t, report.Warnings)
	assert.Len(t, report.PIIFindings, 1)
}

func TestEvaluate_CustomThresholds(t *testing.T) {
	gate, err := NewGate(90, 80)
	require.NoError(t, err)

	assert.Equal(t, DecisionFail, gate.Evaluate(&domain.QualityResult{OverallScore: 75}).Decision)
	assert.Equal(t, DecisionWarn, gate.Evaluate(&domain.QualityResult{OverallScore: 85}).Decision)
	assert.Equal(t, DecisionPass, gate.Evaluate(&domain.QualityResult{OverallScore: 95}).Decision)
}
