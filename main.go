package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/mc-plugin-market/assistant/internal/ai/model"
	"github.com/mc-plugin-market/assistant/internal/core"
	logx "github.com/mc-plugin-market/assistant/pkg/logger"
	pkgredis "github.com/mc-plugin-market/assistant/pkg/redis"
)

// AppConfig defines all configurable parameters of the assistant,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis pkgredis.Config

	// AI
	Registry     model.RegistryConfig     `envconfig:"AI_MODELS"`
	Limiter      model.LimiterConfig      `envconfig:"AI_CONCURRENCY"`
	Client       model.ClientConfig       `envconfig:"AI_CLIENT"`
	Agent        model.AgentConfig        `envconfig:"AGENT"`
	Compaction   model.CompactionConfig   `envconfig:"COMPACTION"`
	Conversation model.ConversationConfig `envconfig:"CONVERSATION"`
	Tasks        model.TasksConfig        `envconfig:"TASKS"`
}

func loadConfig() (*AppConfig, error) {
	// Load .env file
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		logx.Warn().Err(err).Msg("could not load .env file")
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	logx.Init(logx.LoggerOpts{
		Environment: core.ParseEnvironment(cfg.Environment),
		Level:       cfg.LogLevel,
	})
	return &cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
