package tools

// Package tools is the registry the model sessions call into. Every tool
// takes a JSON argument string and returns a JSON result string. Handler
// errors and unknown tool names are serialized into the result payload as
// {"error": "..."} so a misbehaving tool can never abort an analysis.

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/canaryops/rollout-agent/internal/llm/types"
	"github.com/canaryops/rollout-agent/internal/metrics"
)

// Handler executes one tool call. The returned string must be valid JSON.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

type entry struct {
	tool    types.Tool
	handler Handler
}

// Registry holds the tools offered to every model session.
type Registry struct {
	entries map[string]entry
	order   []string
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]entry),
		logger:  logger,
	}
}

// Register adds a tool. Registering the same name twice panics; tool sets
// are assembled once at startup.
func (r *Registry) Register(tool types.Tool, handler Handler) {
	if _, exists := r.entries[tool.Name]; exists {
		panic(fmt.Sprintf("tool %q registered twice", tool.Name))
	}
	r.entries[tool.Name] = entry{tool: tool, handler: handler}
	r.order = append(r.order, tool.Name)
}

// Declarations returns the registered tool schemas in registration order.
func (r *Registry) Declarations() []types.Tool {
	decls := make([]types.Tool, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.entries[name].tool)
	}
	return decls
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute implements types.ToolExecutor. The error return is always nil:
// failures become {"error": "..."} payloads for the model to read.
func (r *Registry) Execute(ctx context.Context, toolName string, args string) (string, error) {
	return r.Invoke(ctx, toolName, args), nil
}

// Invoke runs the named tool and returns its JSON result.
func (r *Registry) Invoke(ctx context.Context, toolName string, args string) string {
	start := time.Now()

	e, ok := r.entries[toolName]
	if !ok {
		metrics.ToolInvocationsTotal.WithLabelValues(toolName, "error").Inc()
		r.logger.Warn("unknown tool requested", zap.String("tool", toolName))
		return errorResult(fmt.Sprintf("unknown tool: %s", toolName))
	}

	if args == "" {
		args = "{}"
	}
	result, err := e.handler(ctx, json.RawMessage(args))
	elapsed := time.Since(start)
	metrics.ToolDuration.WithLabelValues(toolName).Observe(elapsed.Seconds())

	if err != nil {
		metrics.ToolInvocationsTotal.WithLabelValues(toolName, "error").Inc()
		r.logger.Warn("tool failed",
			zap.String("tool", toolName),
			zap.Int64("elapsed_ms", elapsed.Milliseconds()),
			zap.Error(err))
		return errorResult(err.Error())
	}

	metrics.ToolInvocationsTotal.WithLabelValues(toolName, "ok").Inc()
	r.logger.Debug("tool completed",
		zap.String("tool", toolName),
		zap.Int64("elapsed_ms", elapsed.Milliseconds()))
	return result
}

func errorResult(msg string) string {
	out, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error": "internal error"}`
	}
	return string(out)
}

// marshalResult serializes a handler's payload, converting marshal
// failures into handler errors.
func marshalResult(v interface{}) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(out), nil
}
