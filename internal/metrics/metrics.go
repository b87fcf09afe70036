package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rollout agent metrics for production monitoring
var (
	// Analysis metrics
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_agent_analyses_total",
			Help: "Total number of analysis requests",
		},
		[]string{"mode", "status"}, // mode: single/multi, status: ok/error
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollout_agent_analysis_duration_seconds",
			Help:    "End-to-end analysis duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		},
		[]string{"mode"},
	)

	// Model session metrics
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_agent_model_sessions_total",
			Help: "Total number of per-model analysis sessions",
		},
		[]string{"model", "status"}, // status: success/failure
	)

	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollout_agent_model_session_duration_seconds",
			Help:    "Per-model session duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 500ms to ~8min
		},
		[]string{"model"},
	)

	ModelTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_agent_model_tokens_total",
			Help: "Total number of model tokens consumed",
		},
		[]string{"model", "type"}, // type: input/output
	)

	// Tool metrics
	ToolInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_agent_tool_invocations_total",
			Help: "Total number of tool invocations",
		},
		[]string{"tool", "status"}, // status: ok/error
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollout_agent_tool_duration_seconds",
			Help:    "Tool invocation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"tool"},
	)

	// Voting metrics
	VotingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_agent_voting_decisions_total",
			Help: "Total number of voting outcomes by decision",
		},
		[]string{"decision"}, // promote/rollback
	)

	VotingPoolSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rollout_agent_voting_pool_size",
			Help:    "Number of successful outcomes entering each vote",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		},
	)
)
