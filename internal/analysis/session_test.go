package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canaryops/rollout-agent/internal/llm/types"
)

// toolCallingClient invokes the executor once before answering, so tests
// can observe the tool event flow.
type toolCallingClient struct {
	model   string
	tool    string
	args    string
	toolErr error
	output  string
}

func (c *toolCallingClient) Model() string { return c.model }

func (c *toolCallingClient) Complete(ctx context.Context, messages []types.Message, tools []types.Tool) (*types.ChatResponse, error) {
	return &types.ChatResponse{Content: c.output}, nil
}

func (c *toolCallingClient) RunToolLoop(ctx context.Context, messages []types.Message, tools []types.Tool, executor types.ToolExecutor, cfg types.LoopConfig) (string, types.LoopStats, error) {
	if _, err := executor.Execute(ctx, c.tool, c.args); err != nil {
		return "", types.LoopStats{}, err
	}
	return c.output, types.LoopStats{ModelCalls: 2, ToolCalls: 1}, nil
}

// failingTools returns an error from Execute so the error event path runs.
type failingTools struct {
	stubTools
	err error
}

func (f failingTools) Execute(ctx context.Context, toolName string, args string) (string, error) {
	return "", f.err
}

type recordingObserver struct {
	mu     sync.Mutex
	events []types.ToolEvent
	models []string
}

func (o *recordingObserver) OnToolEvent(model string, event types.ToolEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.models = append(o.models, model)
	o.events = append(o.events, event)
}

func TestSessionRunSuccess(t *testing.T) {
	session := NewSession(stubTools{}, time.Minute, types.DefaultLoopConfig(), nil)
	client := &stubClient{
		model:  "gemini-2.5-flash",
		output: verdictJSON(t, "canary healthy", true, 88),
	}

	result := session.Run(context.Background(), client, &Request{UserID: "u1", Prompt: "check"})

	assert.Equal(t, "gemini-2.5-flash", result.ModelName)
	assert.True(t, result.Succeeded())
	assert.Equal(t, "canary healthy", result.Analysis)
	assert.True(t, result.Promote)
	assert.Equal(t, 88, result.Confidence)
}

func TestSessionRunTimeout(t *testing.T) {
	session := NewSession(stubTools{}, 20*time.Millisecond, types.DefaultLoopConfig(), nil)
	client := &stubClient{
		model:  "gemini-2.5-flash",
		output: verdictJSON(t, "never reached", true, 99),
		delay:  time.Second,
	}

	result := session.Run(context.Background(), client, &Request{UserID: "u1", Prompt: "check"})

	assert.False(t, result.Succeeded())
	assert.Equal(t, "timeout", result.Error)
	assert.Equal(t, "gemini-2.5-flash", result.ModelName)
}

func TestSessionRunTransportFailure(t *testing.T) {
	session := NewSession(stubTools{}, time.Minute, types.DefaultLoopConfig(), nil)
	client := &stubClient{model: "gpt-4o", err: errors.New("connection refused")}

	result := session.Run(context.Background(), client, &Request{UserID: "u1", Prompt: "check"})

	assert.False(t, result.Succeeded())
	assert.Equal(t, "connection refused", result.Error)
}

func TestSessionRunUnparseableOutput(t *testing.T) {
	session := NewSession(stubTools{}, time.Minute, types.DefaultLoopConfig(), nil)
	client := &stubClient{model: "gemini-2.5-flash", output: "I think it looks fine."}

	result := session.Run(context.Background(), client, &Request{UserID: "u1", Prompt: "check"})

	// Unparseable output is still a success: promote at zero confidence.
	assert.True(t, result.Succeeded())
	assert.True(t, result.Promote)
	assert.Zero(t, result.Confidence)
	assert.Equal(t, "I think it looks fine.", result.Analysis)
	assert.Equal(t, "Unable to parse structured response", result.RootCause)
}

func TestSessionObserverReceivesToolEvents(t *testing.T) {
	obs := &recordingObserver{}
	session := NewSession(stubTools{}, time.Minute, types.DefaultLoopConfig(), nil).WithObserver(obs)
	client := &toolCallingClient{
		model:  "gemini-2.5-flash",
		tool:   "get_logs",
		args:   `{"namespace": "prod", "podName": "shop-api-canary-0"}`,
		output: verdictJSON(t, "done", true, 70),
	}

	result := session.Run(context.Background(), client, &Request{UserID: "u1", Prompt: "check"})
	require.True(t, result.Succeeded())

	require.Len(t, obs.events, 2)
	assert.Equal(t, "calling", obs.events[0].Phase)
	assert.Equal(t, "get_logs", obs.events[0].ToolName)
	assert.Equal(t, `{"namespace": "prod", "podName": "shop-api-canary-0"}`, obs.events[0].Args)
	assert.Equal(t, "result", obs.events[1].Phase)
	assert.Equal(t, obs.events[0].Seq, obs.events[1].Seq)
	assert.Equal(t, []string{"gemini-2.5-flash", "gemini-2.5-flash"}, obs.models)
}

func TestSessionObserverErrorEvent(t *testing.T) {
	obs := &recordingObserver{}
	tools := failingTools{err: errors.New("kubernetes unreachable")}
	session := NewSession(tools, time.Minute, types.DefaultLoopConfig(), nil).WithObserver(obs)
	client := &toolCallingClient{
		model: "gemini-2.5-flash",
		tool:  "get_logs",
		args:  `{}`,
	}

	result := session.Run(context.Background(), client, &Request{UserID: "u1", Prompt: "check"})
	assert.False(t, result.Succeeded())

	require.Len(t, obs.events, 2)
	assert.Equal(t, "calling", obs.events[0].Phase)
	assert.Equal(t, "error", obs.events[1].Phase)
	assert.Equal(t, "kubernetes unreachable", obs.events[1].Error)
}

func TestSessionWithObserverDoesNotMutateOriginal(t *testing.T) {
	base := NewSession(stubTools{}, time.Minute, types.DefaultLoopConfig(), nil)
	clone := base.WithObserver(&recordingObserver{})

	assert.Nil(t, base.observer)
	assert.NotNil(t, clone.observer)
}
