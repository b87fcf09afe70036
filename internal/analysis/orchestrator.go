package analysis

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/canaryops/rollout-agent/internal/llm/types"
	"github.com/canaryops/rollout-agent/internal/metrics"
)

// ClientResolver maps a model name to a backend client. The llm registry
// satisfies this.
type ClientResolver interface {
	Resolve(model string) (types.ModelClient, error)
}

// Orchestrator fans one request out to the resolved backend set and
// combines the outcomes. Backends run concurrently and results keep the
// resolution order regardless of completion order.
type Orchestrator struct {
	registry ClientResolver
	session  *Session
	logger   *zap.Logger

	// configuredModels is the operator-pinned model list; takes precedence
	// over the availability-based default when non-empty.
	configuredModels []string
	// availableModels is every backend the deployment has credentials for.
	availableModels []string
	// multiModel enables voting across all available backends.
	multiModel bool
	// defaultModel serves single-model mode.
	defaultModel string
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(reg ClientResolver, session *Session, configuredModels, availableModels []string, multiModel bool, defaultModel string, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry:         reg,
		session:          session,
		logger:           logger,
		configuredModels: configuredModels,
		availableModels:  availableModels,
		multiModel:       multiModel,
		defaultModel:     defaultModel,
	}
}

// ResolveModels decides which backends analyze this request: the request
// override wins, then the operator-configured list, then all available
// backends when multi-model is enabled, else the single default.
func (o *Orchestrator) ResolveModels(req *Request) []string {
	if models := cleanModelList(req.ModelsToUse); len(models) > 0 {
		return models
	}
	if len(o.configuredModels) > 0 {
		return o.configuredModels
	}
	if o.multiModel && len(o.availableModels) > 0 {
		return append([]string(nil), o.availableModels...)
	}
	return []string{o.defaultModel}
}

func cleanModelList(models []string) []string {
	out := make([]string, 0, len(models))
	for _, m := range models {
		if trimmed := strings.TrimSpace(m); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Analyze runs the request against every resolved backend and assembles
// the response. The returned error is ErrEmptyVotingPool when no backend
// produced a usable verdict.
func (o *Orchestrator) Analyze(ctx context.Context, req *Request, observer ToolObserver) (*Response, error) {
	models := o.ResolveModels(req)
	mode := "single"
	if len(models) > 1 {
		mode = "multi"
	}
	start := time.Now()

	o.logger.Info("starting analysis",
		zap.String("user_id", req.UserID),
		zap.Strings("models", models))

	results := o.runSessions(ctx, models, req, observer)

	resp, err := o.assemble(results)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.AnalysesTotal.WithLabelValues(mode, status).Inc()
	metrics.AnalysisDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	o.logger.Info("analysis completed",
		zap.String("user_id", req.UserID),
		zap.Bool("promote", resp.Promote),
		zap.Int("confidence", resp.Confidence),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	return resp, nil
}

// runSessions executes one session per model. Result i always belongs to
// models[i]; a backend that cannot be resolved or fails mid-session
// occupies its slot with a failed result rather than vanishing.
func (o *Orchestrator) runSessions(ctx context.Context, models []string, req *Request, observer ToolObserver) []ModelResult {
	results := make([]ModelResult, len(models))
	session := o.session
	if observer != nil {
		session = session.WithObserver(observer)
	}

	var wg sync.WaitGroup
	for i, model := range models {
		wg.Add(1)
		go func(i int, model string) {
			defer wg.Done()
			client, err := o.registry.Resolve(model)
			if err != nil {
				results[i] = ModelResult{ModelName: model, Error: err.Error()}
				return
			}
			results[i] = session.Run(ctx, client, req)
		}(i, model)
	}
	wg.Wait()

	return results
}

func (o *Orchestrator) assemble(results []ModelResult) (*Response, error) {
	if len(results) == 1 {
		r := results[0]
		if !r.Succeeded() {
			return nil, ErrEmptyVotingPool
		}
		return &Response{
			Analysis:     r.Analysis,
			RootCause:    r.RootCause,
			Remediation:  r.Remediation,
			PRLink:       r.PRLink,
			Promote:      r.Promote,
			Confidence:   r.Confidence,
			ModelResults: results,
		}, nil
	}

	agg, err := Aggregate(results)
	if err != nil {
		return nil, err
	}

	// The verdict-level PR link comes from the first backend that made one.
	prLink := ""
	for _, r := range results {
		if r.Succeeded() && r.PRLink != "" {
			prLink = r.PRLink
			break
		}
	}

	return &Response{
		Analysis:        agg.ConsolidatedAnalysis,
		RootCause:       agg.ConsolidatedRootCause,
		Remediation:     agg.ConsolidatedRemediation,
		PRLink:          prLink,
		Promote:         agg.Promote,
		Confidence:      agg.AverageConfidence,
		ModelResults:    results,
		VotingRationale: agg.VotingRationale,
	}, nil
}
