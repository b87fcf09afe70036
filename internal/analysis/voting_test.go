package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateWeightedMajority(t *testing.T) {
	results := []ModelResult{
		{ModelName: "gemini-2.5-flash", Analysis: "canary healthy", RootCause: "none", Remediation: "promote", Promote: true, Confidence: 80},
		{ModelName: "gpt-4o", Analysis: "error rate elevated", RootCause: "memory leak", Remediation: "fix limits", Promote: false, Confidence: 60},
	}

	agg, err := Aggregate(results)
	require.NoError(t, err)

	assert.True(t, agg.Promote)
	assert.InDelta(t, 0.80, agg.PromoteScore, 1e-9)
	assert.InDelta(t, 0.60, agg.RollbackScore, 1e-9)
	assert.Equal(t, 70, agg.AverageConfidence)
}

func TestAggregateTieGoesToRollback(t *testing.T) {
	results := []ModelResult{
		{ModelName: "a", Promote: true, Confidence: 50},
		{ModelName: "b", Promote: false, Confidence: 50},
	}

	agg, err := Aggregate(results)
	require.NoError(t, err)

	assert.False(t, agg.Promote)
	assert.Equal(t, agg.PromoteScore, agg.RollbackScore)
	assert.Contains(t, agg.VotingRationale, "Final decision: ROLLBACK.")
}

func TestAggregateIgnoresFailedResults(t *testing.T) {
	results := []ModelResult{
		{ModelName: "a", Promote: true, Confidence: 90},
		{ModelName: "b", Error: "timeout"},
		{ModelName: "c", Promote: true, Confidence: 90},
	}

	agg, err := Aggregate(results)
	require.NoError(t, err)

	assert.True(t, agg.Promote)
	assert.InDelta(t, 1.80, agg.PromoteScore, 1e-9)
	assert.Zero(t, agg.RollbackScore)
	assert.Equal(t, 90, agg.AverageConfidence)
	// The failed model casts no vote and does not appear in the rationale.
	assert.NotContains(t, agg.VotingRationale, "- b:")
}

func TestAggregateEmptyPool(t *testing.T) {
	_, err := Aggregate(nil)
	assert.ErrorIs(t, err, ErrEmptyVotingPool)

	_, err = Aggregate([]ModelResult{
		{ModelName: "a", Error: "connection refused"},
		{ModelName: "b", Error: "timeout"},
	})
	assert.ErrorIs(t, err, ErrEmptyVotingPool)
}

func TestAggregateZeroConfidenceVotesCarryNoWeight(t *testing.T) {
	// A parse-fallback verdict votes promote at zero weight, so a real
	// rollback vote must win.
	results := []ModelResult{
		{ModelName: "fallback", Promote: true, Confidence: 0},
		{ModelName: "real", Promote: false, Confidence: 40},
	}

	agg, err := Aggregate(results)
	require.NoError(t, err)

	assert.False(t, agg.Promote)
	assert.Zero(t, agg.PromoteScore)
	assert.InDelta(t, 0.40, agg.RollbackScore, 1e-9)
	assert.Equal(t, 20, agg.AverageConfidence)
}

func TestAggregateAverageConfidenceRounds(t *testing.T) {
	results := []ModelResult{
		{ModelName: "a", Promote: true, Confidence: 80},
		{ModelName: "b", Promote: true, Confidence: 85},
	}

	agg, err := Aggregate(results)
	require.NoError(t, err)
	assert.Equal(t, 83, agg.AverageConfidence) // 82.5 rounds up
}

func TestAggregateIsDeterministic(t *testing.T) {
	results := []ModelResult{
		{ModelName: "a", Analysis: "x", Promote: true, Confidence: 75},
		{ModelName: "b", Analysis: "y", Promote: false, Confidence: 30},
		{ModelName: "c", Analysis: "z", Promote: true, Confidence: 10},
	}

	first, err := Aggregate(results)
	require.NoError(t, err)
	second, err := Aggregate(results)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAggregateRationaleAndConsolidation(t *testing.T) {
	results := []ModelResult{
		{ModelName: "gemini-2.5-flash", Analysis: "looks fine", RootCause: "none", Remediation: "promote canary", Promote: true, Confidence: 85},
		{ModelName: "gemma-3-1b-it", Analysis: "OOM kills observed", RootCause: "memory limit too low", Remediation: "raise memory limit", Promote: false, Confidence: 70},
	}

	agg, err := Aggregate(results)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(agg.VotingRationale, "Confidence-weighted voting: Promote=0.85, Rollback=0.70. "))
	assert.Contains(t, agg.VotingRationale, "- gemini-2.5-flash: PROMOTE (confidence: 85%)")
	assert.Contains(t, agg.VotingRationale, "- gemma-3-1b-it: ROLLBACK (confidence: 70%)")

	assert.True(t, strings.HasPrefix(agg.ConsolidatedAnalysis, "Multi-model analysis consensus:\n\n"))
	assert.Contains(t, agg.ConsolidatedAnalysis, "--- gemini-2.5-flash ---\nlooks fine\n\n")

	assert.Equal(t, "gemini-2.5-flash: none; gemma-3-1b-it: memory limit too low", agg.ConsolidatedRootCause)
	assert.Equal(t, "- promote canary\n- raise memory limit\n", agg.ConsolidatedRemediation)
}
