package gemini

// Client speaks the Gemini generateContent REST API. Gemini frames the
// conversation as alternating "user"/"model" contents with function calls
// and responses embedded as parts, so the tool loop here keeps the whole
// transcript in Gemini's shape rather than translating per turn.

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

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client implements types.ModelClient against the Gemini API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
}

// Option customises a Client at construction time.
type Option func(*Client)

// WithBaseURL points the client at a different endpoint, mainly for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy overrides the default rate-limit retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

// NewClient creates a client bound to one Gemini model name.
func NewClient(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
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

// Wire types for generateContent.

type generateRequest struct {
	Contents          []content          `json:"contents"`
	Tools             []toolDeclarations `json:"tools,omitempty"`
	SystemInstruction *content           `json:"systemInstruction,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type functionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type functionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

type toolDeclarations struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one generateContent request and returns the response.
func (c *Client) Complete(ctx context.Context, messages []types.Message, tools []types.Tool) (*types.ChatResponse, error) {
	req := c.buildRequest(toContents(messages), tools)
	return c.generate(ctx, req)
}

func toContents(messages []types.Message) []content {
	contents := make([]content, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		contents = append(contents, content{
			Role:  role,
			Parts: []part{{Text: m.Content}},
		})
	}
	return contents
}

func (c *Client) buildRequest(contents []content, tools []types.Tool) generateRequest {
	req := generateRequest{}

	// Gemini takes the system prompt out of band.
	for _, ct := range contents {
		if ct.Role == "system" {
			sys := content{Parts: ct.Parts}
			req.SystemInstruction = &sys
			continue
		}
		req.Contents = append(req.Contents, ct)
	}

	if len(tools) > 0 {
		decls := toolDeclarations{}
		for _, t := range tools {
			decls.FunctionDeclarations = append(decls.FunctionDeclarations, functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		req.Tools = []toolDeclarations{decls}
	}
	return req
}

func (c *Client) generate(ctx context.Context, reqBody generateRequest) (*types.ChatResponse, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)

	var parsed generateResponse
	err = retry.Do(ctx, c.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", c.apiKey)

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

		parsed = generateResponse{}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if parsed.Error != nil {
		return nil, fmt.Errorf("%s error: %s", c.model, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("%s returned no candidates", c.model)
	}

	out := &types.ChatResponse{
		Usage: types.TokenUsage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		},
	}
	for _, p := range parsed.Candidates[0].Content.Parts {
		if p.FunctionCall != nil {
			args, _ := json.Marshal(p.FunctionCall.Args)
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				Name:      p.FunctionCall.Name,
				Arguments: string(args),
			})
			continue
		}
		out.Content += p.Text
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
