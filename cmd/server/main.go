package main

// Package main is the entry point for the rollout-agent server.
//
// Startup flow:
//  1. Load configuration (YAML file + ROLLOUT_AGENT_* env vars)
//  2. Build the logger, backend registry and tool registry
//  3. Wire the orchestrator and HTTP server
//  4. Serve until SIGINT/SIGTERM, then shut down gracefully

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/canaryops/rollout-agent/internal/analysis"
	"github.com/canaryops/rollout-agent/internal/config"
	"github.com/canaryops/rollout-agent/internal/llm/registry"
	"github.com/canaryops/rollout-agent/internal/llm/types"
	"github.com/canaryops/rollout-agent/internal/logging"
	"github.com/canaryops/rollout-agent/internal/server"
	"github.com/canaryops/rollout-agent/internal/tools"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	srv, err := buildServer(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("received shutdown signal")

	if err := srv.Stop(); err != nil {
		logger.Error("error stopping server", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func buildServer(cfg *config.Config, logger *zap.Logger) (*server.Server, error) {
	clientset, metricsClientset, err := tools.NewKubernetesClients(cfg.K8s.KubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("kubernetes clients: %w", err)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.K8s.RateLimitQPS), cfg.K8s.RateLimitBurst)

	toolRegistry := tools.NewRegistry(logger)
	k8sTools := tools.NewK8sToolset(clientset, metricsClientset, limiter, logger)
	k8sTools.RegisterAll(toolRegistry)

	if cfg.GitHubEnabled() {
		var ghOpts []tools.GitHubOption
		if cfg.GitHub.BaseURL != "" {
			ghOpts = append(ghOpts, tools.WithGitHubBaseURL(cfg.GitHub.BaseURL))
		}
		gh := tools.NewGitHubClient(cfg.GitHub.Token, cfg.GitHub.Owner, cfg.GitHub.Repo, logger, ghOpts...)
		gh.RegisterPRTool(toolRegistry)
	}
	logger.Info("tool registry ready", zap.Strings("tools", toolRegistry.Names()))

	backendRegistry := registry.New(registry.Config{
		GeminiAPIKey:  cfg.Models.GeminiAPIKey,
		OpenAIAPIKey:  cfg.Models.OpenAIAPIKey,
		VLLMBaseURL:   cfg.Models.VLLMBaseURL,
		OllamaBaseURL: cfg.Models.OllamaBaseURL,
	})

	session := analysis.NewSession(
		toolRegistry,
		cfg.Models.SessionTimeout,
		types.LoopConfig{MaxTurns: cfg.Models.MaxToolTurns},
		logger,
	)

	orch := analysis.NewOrchestrator(
		backendRegistry,
		session,
		cfg.ConfiguredModels(),
		cfg.AvailableModels(),
		cfg.Models.EnableMultiModel,
		cfg.Models.DefaultModel,
		logger,
	)
	logger.Info("orchestrator ready",
		zap.Strings("available_models", cfg.AvailableModels()),
		zap.Bool("multi_model", cfg.Models.EnableMultiModel))

	return server.NewServer(cfg, logger, orch)
}
