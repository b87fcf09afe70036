package analysis

// Confidence-weighted voting. Each successful verdict votes with weight
// confidence/100 for promote or rollback. Failed sessions do not vote.
// A tie is not a promotion: the canary stays blocked unless promotion
// strictly outweighs rollback.

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/canaryops/rollout-agent/internal/metrics"
)

// ErrEmptyVotingPool is returned when no session produced a usable
// verdict, so there is nothing to vote on.
var ErrEmptyVotingPool = errors.New("all model analyses failed")

// Aggregate combines per-model results into one verdict.
func Aggregate(results []ModelResult) (*AggregatedResult, error) {
	valid := make([]ModelResult, 0, len(results))
	for _, r := range results {
		if r.Succeeded() {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return nil, ErrEmptyVotingPool
	}

	var promoteScore, rollbackScore float64
	confidenceSum := 0
	for _, r := range valid {
		weight := float64(r.Confidence) / 100.0
		if r.Promote {
			promoteScore += weight
		} else {
			rollbackScore += weight
		}
		confidenceSum += r.Confidence
	}

	finalPromote := promoteScore > rollbackScore
	avgConfidence := int(math.Round(float64(confidenceSum) / float64(len(valid))))

	decision := "rollback"
	if finalPromote {
		decision = "promote"
	}
	metrics.VotingDecisions.WithLabelValues(decision).Inc()
	metrics.VotingPoolSize.Observe(float64(len(valid)))

	return &AggregatedResult{
		Promote:                 finalPromote,
		PromoteScore:            promoteScore,
		RollbackScore:           rollbackScore,
		VotingRationale:         buildVotingRationale(valid, promoteScore, rollbackScore, finalPromote),
		ConsolidatedAnalysis:    consolidateAnalyses(valid),
		ConsolidatedRootCause:   consolidateRootCauses(valid),
		ConsolidatedRemediation: consolidateRemediations(valid),
		AverageConfidence:       avgConfidence,
	}, nil
}

func buildVotingRationale(results []ModelResult, promoteScore, rollbackScore float64, finalPromote bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Confidence-weighted voting: Promote=%.2f, Rollback=%.2f. ", promoteScore, rollbackScore)
	decision := "ROLLBACK"
	if finalPromote {
		decision = "PROMOTE"
	}
	fmt.Fprintf(&b, "Final decision: %s.\n\n", decision)

	b.WriteString("Individual model votes:\n")
	for _, r := range results {
		vote := "ROLLBACK"
		if r.Promote {
			vote = "PROMOTE"
		}
		fmt.Fprintf(&b, "- %s: %s (confidence: %d%%)\n", r.ModelName, vote, r.Confidence)
	}
	return b.String()
}

func consolidateAnalyses(results []ModelResult) string {
	var b strings.Builder
	b.WriteString("Multi-model analysis consensus:\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", r.ModelName, r.Analysis)
	}
	return b.String()
}

func consolidateRootCauses(results []ModelResult) string {
	fragments := make([]string, 0, len(results))
	for _, r := range results {
		if r.RootCause != "" {
			fragments = append(fragments, fmt.Sprintf("%s: %s", r.ModelName, r.RootCause))
		}
	}
	return strings.Join(fragments, "; ")
}

func consolidateRemediations(results []ModelResult) string {
	var b strings.Builder
	for _, r := range results {
		if r.Remediation != "" {
			fmt.Fprintf(&b, "- %s\n", r.Remediation)
		}
	}
	return b.String()
}
