package config

// Package config loads agent configuration from a YAML file, environment
// variables (ROLLOUT_AGENT_* prefix) and built-in defaults, in that
// priority order. The config file is optional; a deployment can run
// entirely on env vars.

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all agent configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Models  ModelsConfig  `mapstructure:"models"`
	K8s     K8sConfig     `mapstructure:"k8s"`
	GitHub  GitHubConfig  `mapstructure:"github"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// RateLimitPerMinute caps analyze requests per client IP. 0 disables.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
}

// ModelsConfig configures the backend set and session behaviour.
type ModelsConfig struct {
	// DefaultModel serves single-model mode.
	DefaultModel string `mapstructure:"default_model"`
	// ModelsToUse pins the backend set, comma separated. Overrides the
	// availability-based default.
	ModelsToUse string `mapstructure:"models_to_use"`
	// EnableMultiModel runs every available backend and votes on the result.
	EnableMultiModel bool `mapstructure:"enable_multi_model"`

	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	OpenAIModel  string `mapstructure:"openai_model"`

	// VLLMBaseURL points at an OpenAI-compatible vLLM server hosting gemma
	// checkpoints. The vLLM model joins the available set when this is set.
	VLLMBaseURL string `mapstructure:"vllm_base_url"`
	VLLMModel   string `mapstructure:"vllm_model"`

	OllamaBaseURL string `mapstructure:"ollama_base_url"`
	OllamaModel   string `mapstructure:"ollama_model"`

	// SessionTimeout bounds one backend's whole tool loop.
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	// MaxToolTurns caps model→tool→model rounds per session.
	MaxToolTurns int `mapstructure:"max_tool_turns"`
}

// K8sConfig configures cluster access for the diagnostic tools.
type K8sConfig struct {
	KubeconfigPath string `mapstructure:"kubeconfig_path"`
	// RateLimitQPS / RateLimitBurst bound outbound apiserver calls.
	RateLimitQPS   float64 `mapstructure:"rate_limit_qps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// GitHubConfig configures the remediation PR tool. The tool is only
// registered when Token, Owner and Repo are all set.
type GitHubConfig struct {
	Token   string `mapstructure:"token"`
	Owner   string `mapstructure:"owner"`
	Repo    string `mapstructure:"repo"`
	BaseURL string `mapstructure:"base_url"`
}

// LoggingConfig configures the zap logger and file rotation.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console

	// File enables rotated file output alongside stdout when non-empty.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration from configPath (optional), env vars and
// defaults, then validates it.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("ROLLOUT_AGENT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.rate_limit_per_minute", 30)

	v.SetDefault("models.default_model", "gemini-2.5-flash")
	v.SetDefault("models.models_to_use", "")
	v.SetDefault("models.enable_multi_model", false)
	v.SetDefault("models.gemini_api_key", "")
	v.SetDefault("models.openai_api_key", "")
	v.SetDefault("models.openai_model", "")
	v.SetDefault("models.vllm_base_url", "")
	v.SetDefault("models.vllm_model", "gemma-3-1b-it")
	v.SetDefault("models.ollama_base_url", "")
	v.SetDefault("models.ollama_model", "")
	v.SetDefault("models.session_timeout", "120s")
	v.SetDefault("models.max_tool_turns", 10)

	v.SetDefault("k8s.kubeconfig_path", "")
	v.SetDefault("k8s.rate_limit_qps", 10.0)
	v.SetDefault("k8s.rate_limit_burst", 20)

	v.SetDefault("github.token", "")
	v.SetDefault("github.owner", "")
	v.SetDefault("github.repo", "")
	v.SetDefault("github.base_url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}
	if c.Models.DefaultModel == "" {
		errs = append(errs, "models.default_model must not be empty")
	}
	if c.Models.SessionTimeout <= 0 {
		errs = append(errs, "models.session_timeout must be positive")
	}
	if c.Models.MaxToolTurns <= 0 {
		errs = append(errs, "models.max_tool_turns must be positive")
	}
	if c.K8s.RateLimitQPS <= 0 {
		errs = append(errs, "k8s.rate_limit_qps must be positive")
	}
	if (c.GitHub.Token != "") != (c.GitHub.Owner != "" && c.GitHub.Repo != "") {
		if c.GitHub.Token != "" {
			errs = append(errs, "github.owner and github.repo are required when github.token is set")
		}
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("invalid logging format: %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ConfiguredModels returns the operator-pinned model list from the
// comma-separated models_to_use value.
func (c *Config) ConfiguredModels() []string {
	return splitCSV(c.Models.ModelsToUse)
}

// AvailableModels returns every backend this deployment has credentials or
// endpoints for, default model first.
func (c *Config) AvailableModels() []string {
	models := []string{c.Models.DefaultModel}
	seen := map[string]bool{c.Models.DefaultModel: true}

	add := func(m string) {
		if m != "" && !seen[m] {
			models = append(models, m)
			seen[m] = true
		}
	}

	if c.Models.VLLMBaseURL != "" {
		add(c.Models.VLLMModel)
	}
	if c.Models.OpenAIAPIKey != "" {
		add(c.Models.OpenAIModel)
	}
	if c.Models.OllamaBaseURL != "" {
		add(c.Models.OllamaModel)
	}
	return models
}

// GitHubEnabled reports whether the remediation PR tool can be registered.
func (c *Config) GitHubEnabled() bool {
	return c.GitHub.Token != "" && c.GitHub.Owner != "" && c.GitHub.Repo != ""
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
