package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	errx "github.com/mc-plugin-market/assistant/internal/core/error"
)

const maxErrorBody = 4096

// CompatBackend speaks the OpenAI chat completions protocol used by Zhipu
// and by OpenAI-compatible servers. The endpoint and key come from each
// request's model config, so one backend serves every such model.
type CompatBackend struct {
	httpClient *http.Client
}

func NewCompatBackend(httpClient *http.Client) *CompatBackend {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CompatBackend{httpClient: httpClient}
}

func (b *CompatBackend) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := b.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, errx.Malformed("decode completion: %v", err)
	}
	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message == nil {
		return nil, errx.Malformed("completion has no choices")
	}

	msg := chatResp.Choices[0].Message
	return &Response{
		Content:   msg.Content,
		ToolCalls: fromWireToolCalls(msg.ToolCalls),
		Usage:     chatResp.Usage.toSchema(),
	}, nil
}

var errStreamTruncated = errors.New("stream ended before [DONE]")

func (b *CompatBackend) Stream(ctx context.Context, req *Request, onChunk func(string) error) error {
	resp, err := b.do(ctx, req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	buffer := make([]byte, 0, 256*1024)
	scanner.Buffer(buffer, 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return errx.Malformed("decode stream chunk: %v", err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta == nil || choice.Delta.Content == "" {
				continue
			}
			if err := onChunk(choice.Delta.Content); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errx.WrapTransport(fmt.Errorf("stream interrupted: %w", err))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// A stream is only complete once [DONE] arrives.
	return errx.WrapTransport(errStreamTruncated)
}

func (b *CompatBackend) do(ctx context.Context, req *Request, stream bool) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("completion request cannot be nil")
	}
	payload, err := buildChatRequest(req, stream)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	url := strings.TrimRight(req.Model.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(req.Model.APIKey) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Model.APIKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errx.WrapTransport(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errx.NewHTTP(resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp, nil
}
