package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canaryops/rollout-agent/internal/llm/types"
)

// stubClient returns a canned final answer, or fails, without any HTTP.
type stubClient struct {
	model  string
	output string
	err    error
	delay  time.Duration
}

func (c *stubClient) Model() string { return c.model }

func (c *stubClient) Complete(ctx context.Context, messages []types.Message, tools []types.Tool) (*types.ChatResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &types.ChatResponse{Content: c.output}, nil
}

func (c *stubClient) RunToolLoop(ctx context.Context, messages []types.Message, tools []types.Tool, executor types.ToolExecutor, cfg types.LoopConfig) (string, types.LoopStats, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return "", types.LoopStats{}, ctx.Err()
		}
	}
	if c.err != nil {
		return "", types.LoopStats{}, c.err
	}
	return c.output, types.LoopStats{ModelCalls: 1}, nil
}

// stubResolver maps model names to stub clients.
type stubResolver struct {
	clients map[string]types.ModelClient
}

func (r *stubResolver) Resolve(model string) (types.ModelClient, error) {
	client, ok := r.clients[model]
	if !ok {
		return nil, fmt.Errorf("no backend for model %q", model)
	}
	return client, nil
}

// stubTools is an empty tool source; the stub clients never call tools.
type stubTools struct{}

func (stubTools) Declarations() []types.Tool { return nil }

func (stubTools) Execute(ctx context.Context, toolName string, args string) (string, error) {
	return `{"error": "no tools in test"}`, nil
}

func verdictJSON(t *testing.T, analysis string, promote bool, confidence int) string {
	t.Helper()
	out, err := json.Marshal(Verdict{
		Analysis:    analysis,
		RootCause:   "rc",
		Remediation: "rem",
		Promote:     promote,
		Confidence:  confidence,
	})
	require.NoError(t, err)
	return string(out)
}

func newTestOrchestrator(t *testing.T, resolver ClientResolver, configured, available []string, multiModel bool) *Orchestrator {
	t.Helper()
	session := NewSession(stubTools{}, time.Minute, types.DefaultLoopConfig(), nil)
	return NewOrchestrator(resolver, session, configured, available, multiModel, "gemini-2.5-flash", nil)
}

func TestResolveModelsPrecedence(t *testing.T) {
	o := newTestOrchestrator(t, &stubResolver{}, []string{"gpt-4o"}, []string{"gemini-2.5-flash", "gpt-4o"}, true)

	// Request override wins, blank entries dropped.
	req := &Request{ModelsToUse: []string{" gemma-3-1b-it ", "", "  "}}
	assert.Equal(t, []string{"gemma-3-1b-it"}, o.ResolveModels(req))

	// Configured list next.
	assert.Equal(t, []string{"gpt-4o"}, o.ResolveModels(&Request{}))

	// With no configured list, multi-model uses everything available.
	o = newTestOrchestrator(t, &stubResolver{}, nil, []string{"gemini-2.5-flash", "gpt-4o"}, true)
	assert.Equal(t, []string{"gemini-2.5-flash", "gpt-4o"}, o.ResolveModels(&Request{}))

	// Multi-model disabled falls back to the default.
	o = newTestOrchestrator(t, &stubResolver{}, nil, []string{"gemini-2.5-flash", "gpt-4o"}, false)
	assert.Equal(t, []string{"gemini-2.5-flash"}, o.ResolveModels(&Request{}))
}

func TestAnalyzeSingleModelPassthrough(t *testing.T) {
	resolver := &stubResolver{clients: map[string]types.ModelClient{
		"gemini-2.5-flash": &stubClient{model: "gemini-2.5-flash", output: verdictJSON(t, "all good", true, 90)},
	}}
	o := newTestOrchestrator(t, resolver, nil, nil, false)

	resp, err := o.Analyze(context.Background(), &Request{UserID: "u1", Prompt: "check canary"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "all good", resp.Analysis)
	assert.True(t, resp.Promote)
	assert.Equal(t, 90, resp.Confidence)
	require.Len(t, resp.ModelResults, 1)
	assert.Equal(t, "gemini-2.5-flash", resp.ModelResults[0].ModelName)
	assert.Empty(t, resp.VotingRationale)
}

func TestAnalyzeMultiModelVoting(t *testing.T) {
	resolver := &stubResolver{clients: map[string]types.ModelClient{
		"gemini-2.5-flash": &stubClient{model: "gemini-2.5-flash", output: verdictJSON(t, "healthy", true, 80)},
		"gpt-4o":           &stubClient{model: "gpt-4o", output: verdictJSON(t, "degraded", false, 60)},
	}}
	o := newTestOrchestrator(t, resolver, []string{"gemini-2.5-flash", "gpt-4o"}, nil, true)

	resp, err := o.Analyze(context.Background(), &Request{UserID: "u1", Prompt: "check canary"}, nil)
	require.NoError(t, err)

	assert.True(t, resp.Promote)
	assert.Equal(t, 70, resp.Confidence)
	assert.Contains(t, resp.VotingRationale, "Promote=0.80, Rollback=0.60")
	require.Len(t, resp.ModelResults, 2)

	// Slots follow resolution order, not completion order.
	assert.Equal(t, "gemini-2.5-flash", resp.ModelResults[0].ModelName)
	assert.Equal(t, "gpt-4o", resp.ModelResults[1].ModelName)
}

func TestAnalyzeOneBackendFailureDoesNotSpoilVoting(t *testing.T) {
	resolver := &stubResolver{clients: map[string]types.ModelClient{
		"gemini-2.5-flash": &stubClient{model: "gemini-2.5-flash", output: verdictJSON(t, "healthy", true, 90)},
		"gpt-4o":           &stubClient{model: "gpt-4o", err: errors.New("connection refused")},
		"gemma-3-1b-it":    &stubClient{model: "gemma-3-1b-it", output: verdictJSON(t, "healthy", true, 90)},
	}}
	models := []string{"gemini-2.5-flash", "gpt-4o", "gemma-3-1b-it"}
	o := newTestOrchestrator(t, resolver, models, nil, true)

	resp, err := o.Analyze(context.Background(), &Request{UserID: "u1", Prompt: "check"}, nil)
	require.NoError(t, err)

	assert.True(t, resp.Promote)
	assert.Equal(t, 90, resp.Confidence)

	// The failed backend keeps its slot so callers can see what happened.
	require.Len(t, resp.ModelResults, 3)
	assert.Equal(t, "connection refused", resp.ModelResults[1].Error)
	assert.False(t, resp.ModelResults[1].Succeeded())
}

func TestAnalyzeUnresolvableModelFillsSlot(t *testing.T) {
	resolver := &stubResolver{clients: map[string]types.ModelClient{
		"gemini-2.5-flash": &stubClient{model: "gemini-2.5-flash", output: verdictJSON(t, "fine", true, 75)},
	}}
	o := newTestOrchestrator(t, resolver, []string{"gemini-2.5-flash", "unknown-model"}, nil, true)

	resp, err := o.Analyze(context.Background(), &Request{UserID: "u1", Prompt: "check"}, nil)
	require.NoError(t, err)

	require.Len(t, resp.ModelResults, 2)
	assert.Equal(t, "unknown-model", resp.ModelResults[1].ModelName)
	assert.NotEmpty(t, resp.ModelResults[1].Error)
}

func TestAnalyzeAllBackendsFailed(t *testing.T) {
	resolver := &stubResolver{clients: map[string]types.ModelClient{
		"gemini-2.5-flash": &stubClient{model: "gemini-2.5-flash", err: errors.New("boom")},
		"gpt-4o":           &stubClient{model: "gpt-4o", err: errors.New("boom")},
	}}
	o := newTestOrchestrator(t, resolver, []string{"gemini-2.5-flash", "gpt-4o"}, nil, true)

	_, err := o.Analyze(context.Background(), &Request{UserID: "u1", Prompt: "check"}, nil)
	assert.ErrorIs(t, err, ErrEmptyVotingPool)
}

func TestAnalyzeSingleModelFailure(t *testing.T) {
	resolver := &stubResolver{clients: map[string]types.ModelClient{
		"gemini-2.5-flash": &stubClient{model: "gemini-2.5-flash", err: errors.New("boom")},
	}}
	o := newTestOrchestrator(t, resolver, nil, nil, false)

	_, err := o.Analyze(context.Background(), &Request{UserID: "u1", Prompt: "check"}, nil)
	assert.ErrorIs(t, err, ErrEmptyVotingPool)
}
