package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/canaryops/rollout-agent/internal/llm/types"
	"github.com/canaryops/rollout-agent/internal/metrics"
)

// ToolSource supplies tool declarations and executes tool calls. The
// tools registry satisfies this.
type ToolSource interface {
	types.ToolExecutor
	Declarations() []types.Tool
}

// ToolObserver receives tool lifecycle events as a session runs.
// Implementations must tolerate concurrent calls from parallel sessions.
type ToolObserver interface {
	OnToolEvent(model string, event types.ToolEvent)
}

// Session runs one backend against one request and resolves it to exactly
// one ModelResult. A session never returns an error: transport failures
// and timeouts become failed results, unparseable output becomes a
// zero-confidence promote verdict.
type Session struct {
	tools    ToolSource
	timeout  time.Duration
	loopCfg  types.LoopConfig
	logger   *zap.Logger
	observer ToolObserver
}

// NewSession creates a session runner shared across requests.
func NewSession(tools ToolSource, timeout time.Duration, loopCfg types.LoopConfig, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loopCfg.MaxTurns <= 0 {
		loopCfg = types.DefaultLoopConfig()
	}
	return &Session{
		tools:   tools,
		timeout: timeout,
		loopCfg: loopCfg,
		logger:  logger,
	}
}

// WithObserver returns a copy of the session that forwards tool events.
func (s *Session) WithObserver(obs ToolObserver) *Session {
	clone := *s
	clone.observer = obs
	return &clone
}

// Run executes the full tool loop for one backend. The timeout covers the
// whole loop, completions and tool calls included.
func (s *Session) Run(ctx context.Context, client types.ModelClient, req *Request) ModelResult {
	model := client.Model()
	start := time.Now()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	messages := []types.Message{
		{Role: "system", Content: systemInstruction},
		{Role: "user", Content: buildPrompt(req)},
	}

	executor := s.wrapExecutor(model)
	output, stats, err := client.RunToolLoop(ctx, messages, s.tools.Declarations(), executor, s.loopCfg)
	elapsed := time.Since(start)

	metrics.SessionDuration.WithLabelValues(model).Observe(elapsed.Seconds())
	metrics.ModelTokensUsed.WithLabelValues(model, "input").Add(float64(stats.Usage.PromptTokens))
	metrics.ModelTokensUsed.WithLabelValues(model, "output").Add(float64(stats.Usage.CompletionTokens))

	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "timeout"
		}
		metrics.SessionsTotal.WithLabelValues(model, "failure").Inc()
		s.logger.Warn("model session failed",
			zap.String("model", model),
			zap.Int64("elapsed_ms", elapsed.Milliseconds()),
			zap.Error(err))
		return ModelResult{
			ModelName:       model,
			Error:           msg,
			ExecutionTimeMs: elapsed.Milliseconds(),
		}
	}

	verdict := ParseVerdict(output)

	metrics.SessionsTotal.WithLabelValues(model, "success").Inc()
	s.logger.Info("model session completed",
		zap.String("model", model),
		zap.Bool("promote", verdict.Promote),
		zap.Int("confidence", verdict.Confidence),
		zap.Int("model_calls", stats.ModelCalls),
		zap.Int("tool_calls", stats.ToolCalls),
		zap.Int64("model_time_ms", stats.ModelTime.Milliseconds()),
		zap.Int64("tool_time_ms", stats.ToolTime.Milliseconds()),
		zap.Int64("elapsed_ms", elapsed.Milliseconds()))

	return ModelResult{
		ModelName:       model,
		Analysis:        verdict.Analysis,
		RootCause:       verdict.RootCause,
		Remediation:     verdict.Remediation,
		PRLink:          verdict.PRLink,
		Promote:         verdict.Promote,
		Confidence:      verdict.Confidence,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
}

func (s *Session) wrapExecutor(model string) types.ToolExecutor {
	if s.observer == nil {
		return s.tools
	}
	return &eventingExecutor{
		inner:    s.tools,
		observer: s.observer,
		model:    model,
	}
}

// eventingExecutor forwards tool lifecycle events around each execution.
type eventingExecutor struct {
	inner    types.ToolExecutor
	observer ToolObserver
	model    string

	mu  sync.Mutex
	seq int
}

func (e *eventingExecutor) Execute(ctx context.Context, toolName string, args string) (string, error) {
	e.mu.Lock()
	seq := e.seq
	e.seq++
	e.mu.Unlock()

	e.observer.OnToolEvent(e.model, types.ToolEvent{
		Phase:    "calling",
		ToolName: toolName,
		Args:     args,
		Seq:      seq,
	})

	result, err := e.inner.Execute(ctx, toolName, args)
	if err != nil {
		e.observer.OnToolEvent(e.model, types.ToolEvent{
			Phase:    "error",
			ToolName: toolName,
			Error:    err.Error(),
			Seq:      seq,
		})
		return result, err
	}

	e.observer.OnToolEvent(e.model, types.ToolEvent{
		Phase:    "result",
		ToolName: toolName,
		Result:   result,
		Seq:      seq,
	})
	return result, nil
}
