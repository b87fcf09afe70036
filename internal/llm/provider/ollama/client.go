package ollama

// Client speaks the Ollama /api/chat endpoint for locally hosted models.
// Ollama's chat format is close to OpenAI's but carries tool call
// arguments as a JSON object rather than an encoded string, and has no
// per-call IDs to correlate tool results with.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/canaryops/rollout-agent/internal/llm/retry"
	"github.com/canaryops/rollout-agent/internal/llm/types"
)

const defaultBaseURL = "http://localhost:11434"

// Client implements types.ModelClient against a local Ollama instance.
type Client struct {
	model      string
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
}

// Option customises a Client at construction time.
type Option func(*Client)

// WithBaseURL points the client at a non-default Ollama instance.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient swaps the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client bound to one Ollama model name.
func NewClient(model string, opts ...Option) *Client {
	c := &Client{
		model:   model,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 300 * time.Second, // local models can be slow
		},
		retry: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the model name this client is bound to.
func (c *Client) Model() string { return c.model }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type wireToolCall struct {
	Function struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
	Error           string      `json:"error"`
}

// Complete sends one non-streaming chat request and returns the response.
func (c *Client) Complete(ctx context.Context, messages []types.Message, tools []types.Tool) (*types.ChatResponse, error) {
	conv := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		conv = append(conv, chatMessage{Role: m.Role, Content: m.Content})
	}
	return c.complete(ctx, conv, tools)
}

func (c *Client) complete(ctx context.Context, conv []chatMessage, tools []types.Tool) (*types.ChatResponse, error) {
	reqBody := chatRequest{
		Model:    c.model,
		Messages: conv,
		Stream:   false,
	}
	for _, t := range tools {
		reqBody.Tools = append(reqBody.Tools, chatTool{
			Type: "function",
			Function: toolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var parsed chatResponse
	err = retry.Do(ctx, c.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("call %s: %w", c.model, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("%s returned status %d: %s", c.model, resp.StatusCode, truncate(string(body), 200))
			if retry.RetryableStatus(resp.StatusCode) {
				return retry.Transient(err)
			}
			return err
		}

		parsed = chatResponse{}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if parsed.Error != "" {
		return nil, fmt.Errorf("%s error: %s", c.model, parsed.Error)
	}

	out := &types.ChatResponse{
		Content: parsed.Message.Content,
		Usage: types.TokenUsage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
			TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		},
	}
	for _, tc := range parsed.Message.ToolCalls {
		args, _ := json.Marshal(tc.Function.Arguments)
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			Name:      tc.Function.Name,
			Arguments: string(args),
		})
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
