package registry

// Package registry maps model names to backend clients. Resolution is a
// first-match walk over an ordered rule table built at startup: gemini-*
// goes to the Gemini API, gemma-* to the OpenAI-compatible vLLM server,
// gpt-* to OpenAI, and anything else to the local Ollama instance.
// Resolved clients are cached so every request for the same model name
// reuses one client.

import (
	"fmt"
	"strings"
	"sync"

	"github.com/canaryops/rollout-agent/internal/llm/provider/gemini"
	"github.com/canaryops/rollout-agent/internal/llm/provider/ollama"
	"github.com/canaryops/rollout-agent/internal/llm/provider/openai"
	"github.com/canaryops/rollout-agent/internal/llm/types"
)

// Config holds the credentials and endpoints the rule table binds to.
type Config struct {
	GeminiAPIKey  string
	OpenAIAPIKey  string
	VLLMBaseURL   string
	OllamaBaseURL string
}

type rule struct {
	prefix string // empty means match anything
	build  func(model string) types.ModelClient
}

// Registry resolves model names to clients.
type Registry struct {
	rules []rule

	mu    sync.Mutex
	cache map[string]types.ModelClient
}

// New builds the rule table from cfg. Rules are checked in order and the
// last rule is a catch-all, so resolution never fails.
func New(cfg Config) *Registry {
	r := &Registry{cache: make(map[string]types.ModelClient)}

	r.rules = []rule{
		{
			prefix: "gemini-",
			build: func(model string) types.ModelClient {
				return gemini.NewClient(cfg.GeminiAPIKey, model)
			},
		},
		{
			prefix: "gemma-",
			build: func(model string) types.ModelClient {
				var opts []openai.Option
				if cfg.VLLMBaseURL != "" {
					opts = append(opts, openai.WithBaseURL(cfg.VLLMBaseURL))
				}
				// vLLM ignores the bearer token but the header must be present.
				return openai.NewClient("vllm", model, opts...)
			},
		},
		{
			prefix: "gpt-",
			build: func(model string) types.ModelClient {
				return openai.NewClient(cfg.OpenAIAPIKey, model)
			},
		},
		{
			build: func(model string) types.ModelClient {
				var opts []ollama.Option
				if cfg.OllamaBaseURL != "" {
					opts = append(opts, ollama.WithBaseURL(cfg.OllamaBaseURL))
				}
				return ollama.NewClient(model, opts...)
			},
		},
	}
	return r
}

// Resolve returns the client for model, building and caching it on first
// use. Model names are matched case-insensitively.
func (r *Registry) Resolve(model string) (types.ModelClient, error) {
	if model == "" {
		return nil, fmt.Errorf("empty model name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.cache[model]; ok {
		return c, nil
	}

	lower := strings.ToLower(model)
	for _, rl := range r.rules {
		if rl.prefix == "" || strings.HasPrefix(lower, rl.prefix) {
			c := rl.build(model)
			r.cache[model] = c
			return c, nil
		}
	}
	return nil, fmt.Errorf("no backend rule for model %q", model)
}
