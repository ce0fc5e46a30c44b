// Package executor runs single model calls for a role: resolve the model,
// take a concurrency slot, call the provider, give the slot back.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/mc-plugin-market/assistant/internal/ai/client"
	"github.com/mc-plugin-market/assistant/internal/ai/model"
	errx "github.com/mc-plugin-market/assistant/internal/core/error"
	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

// Resolver maps a role to a usable model or a configuration error.
type Resolver interface {
	RequireRoleModel(role model.Role) (model.ModelConfig, error)
}

// Gate hands out concurrency slots. The returned release function must be
// safe to call more than once.
type Gate interface {
	Acquire(ctx context.Context, cfg model.ModelConfig) (release func(), err error)
}

type Backends interface {
	Backend(ctx context.Context, cfg model.ModelConfig) (client.Backend, error)
}

type Executor struct {
	registry    Resolver
	gate        Gate
	backends    Backends
	temperature float32
}

func New(registry Resolver, gate Gate, backends Backends, cfg model.ClientConfig) *Executor {
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}
	return &Executor{
		registry:    registry,
		gate:        gate,
		backends:    backends,
		temperature: temperature,
	}
}

type options struct {
	temperature *float32
	maxTokens   int
}

type Option func(*options)

func WithTemperature(t float32) Option {
	return func(o *options) { o.temperature = &t }
}

func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

// ToolResponse is the outcome of a tool-calling request. When ToolCalls
// is non-empty the model wants tools run; Content then only carries any
// commentary the model attached.
type ToolResponse struct {
	Content   string
	ToolCalls []model.ToolCallRequest
}

// Message returns the assistant message that must precede the tool
// results, carrying the exact call descriptors.
func (r *ToolResponse) Message() *schema.Message {
	calls := make([]schema.ToolCall, 0, len(r.ToolCalls))
	for _, tc := range r.ToolCalls {
		calls = append(calls, schema.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.RawArguments,
			},
		})
	}
	return schema.AssistantMessage(r.Content, calls)
}

// Complete sends msgs to the role's model and returns the whole answer.
func (e *Executor) Complete(ctx context.Context, role model.Role, msgs []*schema.Message, opts ...Option) (string, error) {
	cfg, err := e.registry.RequireRoleModel(role)
	if err != nil {
		return "", err
	}
	return e.CompleteWithModel(ctx, cfg, msgs, opts...)
}

// CompleteWithModel is Complete against an explicit model.
func (e *Executor) CompleteWithModel(ctx context.Context, cfg model.ModelConfig, msgs []*schema.Message, opts ...Option) (string, error) {
	resp, err := e.call(ctx, cfg, e.request(cfg, msgs, nil, nil, opts))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// CompleteWithTools offers tools to the role's model under the given
// choice policy. Tool arguments that are not a JSON object fail with
// errx.ErrMalformedOutput.
func (e *Executor) CompleteWithTools(ctx context.Context, role model.Role, msgs []*schema.Message, tools []*schema.ToolInfo, choice model.ToolChoice, opts ...Option) (*ToolResponse, error) {
	cfg, err := e.registry.RequireRoleModel(role)
	if err != nil {
		return nil, err
	}
	resp, err := e.call(ctx, cfg, e.request(cfg, msgs, tools, &choice, opts))
	if err != nil {
		return nil, err
	}

	calls, err := parseToolCalls(resp.ToolCalls)
	if err != nil {
		logx.Warn().Err(err).Str("model", cfg.ID).Msg("unparseable tool call")
		return nil, err
	}
	return &ToolResponse{Content: resp.Content, ToolCalls: calls}, nil
}

// AnswerStream delivers an answer as content deltas. Close stops the
// provider request at once and frees the model slot, even when the
// provider is not sending anything.
type AnswerStream struct {
	*schema.StreamReader[string]
	stop func()
}

// NewAnswerStream wraps sr. stop runs before the reader is closed and may
// be nil.
func NewAnswerStream(sr *schema.StreamReader[string], stop func()) *AnswerStream {
	return &AnswerStream{StreamReader: sr, stop: stop}
}

func (s *AnswerStream) Close() {
	if s.stop != nil {
		s.stop()
	}
	s.StreamReader.Close()
}

// Stream returns the answer as content deltas. The slot is held until the
// provider stream ends, the stream is closed, or ctx is cancelled. Callers
// must Close the stream; a transport failure arrives as an error from Recv
// after the chunks already delivered.
func (e *Executor) Stream(ctx context.Context, role model.Role, msgs []*schema.Message, opts ...Option) (*AnswerStream, error) {
	cfg, err := e.registry.RequireRoleModel(role)
	if err != nil {
		return nil, err
	}
	backend, err := e.backends.Backend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	release, err := e.gate.Acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}

	req := e.request(cfg, msgs, nil, nil, opts)
	cbCtx := e.startCallbacks(ctx, cfg, req)

	sr, sw := schema.Pipe[string](16)
	streamCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer release()
		defer cancel()
		defer sw.Close()

		var answer strings.Builder
		err := backend.Stream(streamCtx, req, func(chunk string) error {
			answer.WriteString(chunk)
			if closed := sw.Send(chunk, nil); closed {
				return errConsumerClosed
			}
			return nil
		})
		switch {
		case errors.Is(err, errConsumerClosed), err != nil && streamCtx.Err() != nil && ctx.Err() == nil:
			logx.Debug().Str("model", cfg.ID).Msg("stream closed by consumer")
		case err != nil:
			callbacks.OnError(cbCtx, err)
			sw.Send("", err)
		default:
			callbacks.OnEnd(cbCtx, &einomodel.CallbackOutput{Message: schema.AssistantMessage(answer.String(), nil)})
		}
	}()
	return NewAnswerStream(sr, cancel), nil
}

var errConsumerClosed = errors.New("stream consumer closed")

// call runs one non-streaming request inside a slot. Backend resolution
// happens first so a misconfigured provider never holds a slot.
func (e *Executor) call(ctx context.Context, cfg model.ModelConfig, req *client.Request) (*client.Response, error) {
	if !cfg.Usable() {
		return nil, errx.Config("model %s is disabled or has no API key", cfg.ID)
	}
	backend, err := e.backends.Backend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	release, err := e.gate.Acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer release()

	cbCtx := e.startCallbacks(ctx, cfg, req)
	resp, err := backend.Complete(ctx, req)
	if err != nil {
		callbacks.OnError(cbCtx, err)
		logx.Debug().Err(err).Str("model", cfg.ID).Msg("model request failed")
		return nil, err
	}
	callbacks.OnEnd(cbCtx, &einomodel.CallbackOutput{Message: schema.AssistantMessage(resp.Content, resp.ToolCalls)})
	logUsage(cfg, resp.Usage)
	return resp, nil
}

func (e *Executor) request(cfg model.ModelConfig, msgs []*schema.Message, tools []*schema.ToolInfo, choice *model.ToolChoice, opts []Option) *client.Request {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	temperature := e.temperature
	if o.temperature != nil {
		temperature = *o.temperature
	}
	return &client.Request{
		Model:       cfg,
		Messages:    msgs,
		Tools:       tools,
		ToolChoice:  choice,
		Temperature: temperature,
		MaxTokens:   o.maxTokens,
	}
}

// startCallbacks reports the call to the process-wide eino handlers. The
// returned context is only used for callbacks, never for the request.
func (e *Executor) startCallbacks(ctx context.Context, cfg model.ModelConfig, req *client.Request) context.Context {
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      cfg.ID,
		Type:      string(cfg.Provider),
		Component: components.ComponentOfChatModel,
	})
	return callbacks.OnStart(ctx, &einomodel.CallbackInput{
		Messages: req.Messages,
		Tools:    req.Tools,
	})
}

func parseToolCalls(calls []schema.ToolCall) ([]model.ToolCallRequest, error) {
	out := make([]model.ToolCallRequest, 0, len(calls))
	for _, tc := range calls {
		if tc.Function.Name == "" {
			return nil, errx.Malformed("tool call %q has no function name", tc.ID)
		}
		raw := strings.TrimSpace(tc.Function.Arguments)
		if raw == "" {
			raw = "{}"
		}
		args := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, errx.Malformed("tool %s arguments: %v", tc.Function.Name, err)
		}
		id := tc.ID
		if id == "" {
			// Some providers omit ids; results must still pair with calls.
			id = "call_" + uuid.NewString()
		}
		out = append(out, model.ToolCallRequest{
			ID:           id,
			Name:         tc.Function.Name,
			Arguments:    args,
			RawArguments: raw,
		})
	}
	return out, nil
}

func logUsage(cfg model.ModelConfig, usage *schema.TokenUsage) {
	if usage == nil {
		return
	}
	in, out, total := model.ComputeCost(usage, model.ResolvePricing(cfg))
	logx.Debug().
		Str("model", cfg.ID).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Float64("input_cost_usd", in).
		Float64("output_cost_usd", out).
		Float64("total_cost_usd", total).
		Msg("LLM usage")
}
