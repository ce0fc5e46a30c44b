package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mc-plugin-market/assistant/internal/ai/agent"
	"github.com/mc-plugin-market/assistant/internal/ai/agent/observers"
	"github.com/mc-plugin-market/assistant/internal/ai/agent/tools"
	"github.com/mc-plugin-market/assistant/internal/ai/client"
	"github.com/mc-plugin-market/assistant/internal/ai/concurrency"
	"github.com/mc-plugin-market/assistant/internal/ai/executor"
	"github.com/mc-plugin-market/assistant/internal/ai/model"
	"github.com/mc-plugin-market/assistant/internal/ai/registry"
	"github.com/mc-plugin-market/assistant/internal/ai/repo"
	"github.com/mc-plugin-market/assistant/internal/ai/tasks"
	"github.com/mc-plugin-market/assistant/internal/workspace"
	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

// app holds the wired services for one CLI invocation.
type app struct {
	cfg      *AppConfig
	rdb      *redis.Client
	registry *registry.Registry
	pool     *concurrency.Pool
	executor *executor.Executor
	docs     *workspace.DocStore
	session  *agent.Session
	repo     *repo.RedisConversationRepository
	tasks    *tasks.Service
}

// openRegistry loads the model settings and, when a settings file is
// configured, persists every change back to it.
func openRegistry(ctx context.Context, cfg *AppConfig) (*registry.Registry, error) {
	path := cfg.Registry.File
	settings, err := registry.LoadFile(path, model.DefaultSettings(cfg.Registry.ZhipuAPIKey))
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(settings)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return reg, nil
	}

	reg.OnChange(func(s model.Settings) {
		if err := registry.SaveFile(path, s); err != nil {
			logx.Error().Err(err).Str("path", path).Msg("failed to save model settings")
		}
	})
	if cfg.Registry.Watch {
		if err := reg.Watch(ctx, path); err != nil {
			logx.Warn().Err(err).Str("path", path).Msg("model settings watch disabled")
		}
	}
	return reg, nil
}

func newApp(ctx context.Context, cfg *AppConfig) (*app, error) {
	reg, err := openRegistry(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load model registry: %w", err)
	}

	rdb, err := cfg.Redis.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise Redis client: %w", err)
	}
	logx.Debug().Msg("connected to redis")

	pool := concurrency.NewPool(rdb, cfg.Limiter)
	if err := pool.Start(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("start concurrency sync: %w", err)
	}

	observers.Register()
	exec := executor.New(reg, pool, client.NewFactory(cfg.Client), cfg.Client)

	docs := workspace.NewDocStore(os.DirFS(cfg.Agent.DocsDir))
	server := workspace.NewServerFS()
	toolSet, err := tools.NewSet(ctx, docs, server, cfg.Agent.ServerRoot)
	if err != nil {
		_ = pool.Close(context.WithoutCancel(ctx))
		_ = rdb.Close()
		return nil, err
	}

	conversations := repo.NewRedisConversationRepository(rdb, cfg.Conversation.TTL)
	session := agent.NewSession(
		conversations,
		agent.NewCompactor(exec, cfg.Compaction),
		agent.New(exec, toolSet, cfg.Agent),
		agent.WorkspacePrompt(docs, server, cfg.Agent.ServerRoot),
	)

	return &app{
		cfg:      cfg,
		rdb:      rdb,
		registry: reg,
		pool:     pool,
		executor: exec,
		docs:     docs,
		session:  session,
		repo:     conversations,
		tasks:    tasks.New(exec, reg, cfg.Tasks),
	}, nil
}

// Close releases held concurrency slots and the Redis connection. It runs
// on a fresh context so an interrupted command still cleans up.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.pool.Close(ctx); err != nil {
		logx.Warn().Err(err).Msg("concurrency cleanup failed")
	}
	if err := a.rdb.Close(); err != nil {
		logx.Warn().Err(err).Msg("redis close failed")
	}
}
