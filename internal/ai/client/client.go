// Package client talks to model endpoints. Backends know nothing about
// roles or concurrency; the executor adds both.
package client

import (
	"context"
	"net/http"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/mc-plugin-market/assistant/internal/ai/model"
	errx "github.com/mc-plugin-market/assistant/internal/core/error"
)

// Request is one chat completion call.
type Request struct {
	Model       model.ModelConfig
	Messages    []*schema.Message
	Tools       []*schema.ToolInfo
	ToolChoice  *model.ToolChoice
	Temperature float32
	MaxTokens   int
}

// Response holds either content or tool calls. Tool call arguments are
// left as the raw JSON text the provider sent.
type Response struct {
	Content   string
	ToolCalls []schema.ToolCall
	Usage     *schema.TokenUsage
}

type Backend interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Stream calls onChunk for every non-empty content delta. An error
	// returned by onChunk stops the stream and is returned unchanged.
	Stream(ctx context.Context, req *Request, onChunk func(string) error) error
}

// Factory picks the backend for a model's provider.
type Factory struct {
	compat *CompatBackend

	mu     sync.Mutex
	gemini map[string]*GeminiBackend
}

func NewFactory(cfg model.ClientConfig) *Factory {
	return &Factory{
		compat: NewCompatBackend(&http.Client{Timeout: cfg.Timeout}),
		gemini: make(map[string]*GeminiBackend),
	}
}

func (f *Factory) Backend(ctx context.Context, cfg model.ModelConfig) (Backend, error) {
	switch cfg.Provider {
	case model.ProviderZhipu, model.ProviderOpenAICompatible:
		return f.compat, nil
	case model.ProviderGemini:
		key := cfg.APIKey + "|" + cfg.BaseURL
		f.mu.Lock()
		defer f.mu.Unlock()
		if b, ok := f.gemini[key]; ok {
			return b, nil
		}
		b, err := NewGeminiBackend(ctx, cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		f.gemini[key] = b
		return b, nil
	default:
		return nil, errx.Config("model %s: unknown provider %q", cfg.ID, cfg.Provider)
	}
}
