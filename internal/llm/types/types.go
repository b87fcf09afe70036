package types

import (
	"context"
	"time"
)

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`    // user, assistant, system
	Content string `json:"content"` // message text
}

// Tool represents a tool/function definition that can be called by the LLM
type Tool struct {
	Name        string                 `json:"name"`        // tool name, unique within a session
	Description string                 `json:"description"` // what the tool does
	Parameters  map[string]interface{} `json:"parameters"`  // JSON schema for parameters
}

// ToolCall represents a tool call made by the LLM
type ToolCall struct {
	ID        string `json:"id"`        // provider-assigned call ID (may be empty)
	Name      string `json:"name"`      // tool name
	Arguments string `json:"arguments"` // tool arguments as a JSON object string
}

// ChatResponse represents a single completion turn from a backend.
// A response that carries tool calls has not produced a final answer yet.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     TokenUsage `json:"usage"`
}

// TokenUsage tracks token usage for one completion call
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolExecutor is the bridge between the LLM (which decides what to call)
// and the tool registry (which executes the call against the real cluster).
type ToolExecutor interface {
	// Execute runs a named tool with the given JSON arguments and returns the
	// result. The result is a string that is fed back to the LLM as the tool
	// output. Implementations must be safe for concurrent execution.
	Execute(ctx context.Context, toolName string, args string) (string, error)
}

// ToolEvent describes one step of a tool call's lifecycle. Sessions forward
// these to observers (logs, WebSocket clients) for real-time visibility into
// what the agent is doing.
type ToolEvent struct {
	// Phase is the lifecycle phase: "calling" | "result" | "error"
	Phase string `json:"phase"`
	// ToolName is the name of the tool being called.
	ToolName string `json:"tool_name"`
	// Args is the JSON argument string the LLM passed to the tool.
	Args string `json:"args,omitempty"`
	// Result is the tool output (set when Phase == "result").
	Result string `json:"result,omitempty"`
	// Error is the error message (set when Phase == "error").
	Error string `json:"error,omitempty"`
	// Seq is the 0-based ordinal of this call within the session.
	Seq int `json:"seq"`
}

// LoopConfig controls the multi-turn tool-calling loop.
type LoopConfig struct {
	// MaxTurns caps the number of LLM→tool→LLM rounds before the loop
	// demands a final answer (default 10).
	MaxTurns int
}

// DefaultLoopConfig returns safe production defaults.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{MaxTurns: 10}
}

// LoopStats aggregates timing and token usage for one tool-calling loop.
type LoopStats struct {
	ModelCalls int
	ToolCalls  int
	ModelTime  time.Duration
	ToolTime   time.Duration
	Usage      TokenUsage
}

// AddUsage accumulates one completion's token usage.
func (s *LoopStats) AddUsage(u TokenUsage) {
	s.Usage.PromptTokens += u.PromptTokens
	s.Usage.CompletionTokens += u.CompletionTokens
	s.Usage.TotalTokens += u.TotalTokens
}

// ModelClient is the contract every backend adapter implements. A client owns
// its wire format, including any conversation-shape rules (role alternation,
// tool-result framing) its provider imposes.
type ModelClient interface {
	// Model returns the backend model identifier this client was built for.
	Model() string

	// Complete sends the conversation plus tool declarations and returns one
	// completion turn: either final text or a set of tool-call requests.
	Complete(ctx context.Context, messages []Message, tools []Tool) (*ChatResponse, error)

	// RunToolLoop drives the full multi-turn loop: completions are requested
	// until the model stops calling tools or the turn cap forces a final
	// answer. Returns the final text.
	RunToolLoop(ctx context.Context, messages []Message, tools []Tool, executor ToolExecutor, cfg LoopConfig) (string, LoopStats, error)
}
