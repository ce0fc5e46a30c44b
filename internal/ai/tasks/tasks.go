// Package tasks holds batch jobs built on the executor: document and
// listing translation, image descriptions and document chat.
package tasks

import (
	"context"
	_ "embed"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/mc-plugin-market/assistant/internal/ai/executor"
	"github.com/mc-plugin-market/assistant/internal/ai/model"
)

//go:embed template/translate_document.txt
var translateDocumentPrompt string

//go:embed template/translate_plugin.txt
var translatePluginPrompt string

//go:embed template/doc_chat.txt
var docChatPrompt string

type Executor interface {
	Complete(ctx context.Context, role model.Role, msgs []*schema.Message, opts ...executor.Option) (string, error)
	Stream(ctx context.Context, role model.Role, msgs []*schema.Message, opts ...executor.Option) (*executor.AnswerStream, error)
}

type Resolver interface {
	ResolveRoleModel(role model.Role) (model.ModelConfig, bool)
	RequireRoleModel(role model.Role) (model.ModelConfig, error)
}

type Service struct {
	exec        Executor
	registry    Resolver
	language    string
	batchSize   int
	temperature float32
}

func New(exec Executor, registry Resolver, cfg model.TasksConfig) *Service {
	s := &Service{
		exec:        exec,
		registry:    registry,
		language:    cfg.TargetLanguage,
		batchSize:   cfg.BatchSize,
		temperature: cfg.Temperature,
	}
	if s.language == "" {
		s.language = "Simplified Chinese"
	}
	if s.batchSize <= 0 {
		s.batchSize = 10
	}
	if s.temperature <= 0 {
		s.temperature = 0.2
	}
	return s
}

func (s *Service) render(tpl string) string {
	return strings.NewReplacer("{language}", s.language).Replace(tpl)
}

// parallelism is how many requests a job may run at once against role.
func (s *Service) parallelism(role model.Role) (int, error) {
	cfg, err := s.registry.RequireRoleModel(role)
	if err != nil {
		return 0, err
	}
	if cfg.MaxConcurrency < 1 {
		return 1, nil
	}
	return cfg.MaxConcurrency, nil
}
