package client

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/mc-plugin-market/assistant/internal/ai/model"
	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

// OpenAI chat completions wire format, shared by Zhipu.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wirePart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name string `json:"name"`
	// Arguments is a JSON string in requests. Some providers answer with a
	// bare object instead, so responses keep the raw bytes.
	Arguments json.RawMessage `json:"arguments"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta *struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *wireUsage) toSchema() *schema.TokenUsage {
	if u == nil {
		return nil
	}
	return &schema.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func buildChatRequest(req *Request, stream bool) (*chatRequest, error) {
	payload := &chatRequest{
		Model:     req.Model.Model,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		payload.Temperature = &t
	}

	for _, m := range req.Messages {
		if m == nil {
			continue
		}
		wm, err := toWireMessage(m)
		if err != nil {
			return nil, err
		}
		payload.Messages = append(payload.Messages, wm)
	}

	choice := req.ToolChoice
	if choice != nil && req.Model.Provider == model.ProviderZhipu && choice.Mode != model.ToolChoiceAuto {
		// Zhipu only accepts "auto".
		logx.Debug().Str("model", req.Model.ID).Str("choice", string(choice.Mode)).Msg("tool_choice downgraded to auto")
		if choice.Mode == model.ToolChoiceNone {
			return payload, nil
		}
		choice = &model.ChooseAuto
	}

	for _, info := range req.Tools {
		tool, err := toWireTool(info)
		if err != nil {
			return nil, err
		}
		payload.Tools = append(payload.Tools, tool)
	}
	if len(payload.Tools) > 0 && choice != nil {
		payload.ToolChoice = toWireChoice(*choice)
	}
	return payload, nil
}

func toWireMessage(m *schema.Message) (wireMessage, error) {
	wm := wireMessage{
		Role:       string(m.Role),
		ToolCallID: m.ToolCallID,
	}

	switch {
	case len(m.MultiContent) > 0:
		parts := make([]wirePart, 0, len(m.MultiContent))
		for _, p := range m.MultiContent {
			switch p.Type {
			case schema.ChatMessagePartTypeImageURL:
				if p.ImageURL == nil {
					continue
				}
				parts = append(parts, wirePart{Type: "image_url", ImageURL: &wireImageURL{URL: p.ImageURL.URL}})
			default:
				parts = append(parts, wirePart{Type: "text", Text: p.Text})
			}
		}
		wm.Content = parts
	case m.Content == "" && len(m.ToolCalls) > 0:
		wm.Content = nil
	default:
		wm.Content = m.Content
	}

	for _, tc := range m.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		encoded, err := json.Marshal(args)
		if err != nil {
			return wireMessage{}, fmt.Errorf("encode tool arguments: %w", err)
		}
		typ := tc.Type
		if typ == "" {
			typ = "function"
		}
		wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
			ID:       tc.ID,
			Type:     typ,
			Function: wireFunction{Name: tc.Function.Name, Arguments: encoded},
		})
	}
	return wm, nil
}

func toWireTool(info *schema.ToolInfo) (wireTool, error) {
	var params any = map[string]any{"type": "object", "properties": map[string]any{}}
	if info.ParamsOneOf != nil {
		js, err := info.ParamsOneOf.ToJSONSchema()
		if err != nil {
			return wireTool{}, fmt.Errorf("tool %s schema: %w", info.Name, err)
		}
		if js != nil {
			params = js
		}
	}
	return wireTool{
		Type: "function",
		Function: wireToolFunction{
			Name:        info.Name,
			Description: info.Desc,
			Parameters:  params,
		},
	}, nil
}

func toWireChoice(c model.ToolChoice) any {
	switch c.Mode {
	case model.ToolChoiceNone:
		return "none"
	case model.ToolChoiceForced:
		return map[string]any{
			"type":     "function",
			"function": map[string]string{"name": c.Function},
		}
	default:
		return "auto"
	}
}

// fromWireToolCalls normalises provider tool calls. Arguments sent as a
// JSON string are unquoted; objects are kept as their JSON text.
func fromWireToolCalls(calls []wireToolCall) []schema.ToolCall {
	out := make([]schema.ToolCall, 0, len(calls))
	for _, c := range calls {
		args := string(c.Function.Arguments)
		var s string
		if err := json.Unmarshal(c.Function.Arguments, &s); err == nil {
			args = s
		}
		typ := c.Type
		if typ == "" {
			typ = "function"
		}
		out = append(out, schema.ToolCall{
			ID:   c.ID,
			Type: typ,
			Function: schema.FunctionCall{
				Name:      c.Function.Name,
				Arguments: args,
			},
		})
	}
	return out
}
