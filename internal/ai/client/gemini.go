package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/mc-plugin-market/assistant/internal/ai/model"
	errx "github.com/mc-plugin-market/assistant/internal/core/error"
	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

// GeminiBackend serves gemini provider models through the eino Gemini chat
// model. One genai client is shared per API key and base URL.
type GeminiBackend struct {
	client *genai.Client
}

func NewGeminiBackend(ctx context.Context, apiKey, baseURL string) (*GeminiBackend, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return &GeminiBackend{client: client}, nil
}

// chatModel builds a per-request model so temperature and bound tools never
// leak between concurrent calls.
func (b *GeminiBackend) chatModel(ctx context.Context, req *Request) (*gemini.ChatModel, error) {
	cfg := &gemini.Config{
		Client: b.client,
		Model:  req.Model.Model,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		cfg.MaxTokens = &n
	}

	cm, err := gemini.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Gemini model: %w", err)
	}

	tools := req.Tools
	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case model.ToolChoiceNone:
			tools = nil
		case model.ToolChoiceForced:
			// Forced calls are approximated by offering only that tool.
			tools = filterTools(tools, req.ToolChoice.Function)
		}
	}
	if len(tools) > 0 {
		if err := cm.BindTools(tools); err != nil {
			logx.Error().Err(err).Msg("Failed to bind tools")
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
	}
	return cm, nil
}

func (b *GeminiBackend) Complete(ctx context.Context, req *Request) (*Response, error) {
	cm, err := b.chatModel(ctx, req)
	if err != nil {
		return nil, err
	}
	msg, err := cm.Generate(ctx, req.Messages)
	if err != nil {
		return nil, wrapGeminiErr(ctx, err)
	}
	if msg == nil {
		return nil, errx.Malformed("gemini returned no message")
	}

	resp := &Response{
		Content:   msg.Content,
		ToolCalls: msg.ToolCalls,
	}
	if msg.ResponseMeta != nil {
		resp.Usage = msg.ResponseMeta.Usage
	}
	return resp, nil
}

func (b *GeminiBackend) Stream(ctx context.Context, req *Request, onChunk func(string) error) error {
	cm, err := b.chatModel(ctx, req)
	if err != nil {
		return err
	}
	sr, err := cm.Stream(ctx, req.Messages)
	if err != nil {
		return wrapGeminiErr(ctx, err)
	}
	defer sr.Close()

	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return wrapGeminiErr(ctx, err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		if err := onChunk(chunk.Content); err != nil {
			return err
		}
	}
}

func filterTools(tools []*schema.ToolInfo, name string) []*schema.ToolInfo {
	for _, t := range tools {
		if t != nil && t.Name == name {
			return []*schema.ToolInfo{t}
		}
	}
	return tools
}

func wrapGeminiErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return errx.NewHTTP(apiErr.Code, apiErr.Message)
	}
	return errx.WrapTransport(err)
}
