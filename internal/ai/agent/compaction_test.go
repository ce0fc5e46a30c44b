package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mc-plugin-market/assistant/internal/ai/executor"
	"github.com/mc-plugin-market/assistant/internal/ai/model"
)

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
	got     []*schema.Message
	role    model.Role
}

func (f *fakeSummarizer) Complete(ctx context.Context, role model.Role, msgs []*schema.Message, opts ...executor.Option) (string, error) {
	f.calls++
	f.got = msgs
	f.role = role
	return f.summary, f.err
}

func testCompactionConfig() model.CompactionConfig {
	return model.CompactionConfig{ThresholdChars: 150000, KeepRecent: 5, Role: model.RoleDecision, Temperature: 0.3}
}

// bigConversation returns 40 alternating messages of 5000 characters each.
func bigConversation() []*schema.Message {
	msgs := make([]*schema.Message, 0, 40)
	for i := 0; i < 40; i++ {
		text := strings.Repeat(string(rune('a'+i%26)), 5000)
		if i%2 == 0 {
			msgs = append(msgs, schema.UserMessage(text))
		} else {
			msgs = append(msgs, schema.AssistantMessage(text, nil))
		}
	}
	return msgs
}

func TestCompactReplacesPrefixWithSummary(t *testing.T) {
	msgs := bigConversation()
	require.Equal(t, 200000, model.Footprint(msgs))
	s := &fakeSummarizer{summary: "user is configuring LuckPerms"}
	c := NewCompactor(s, testCompactionConfig())

	out, ok := c.Compact(context.Background(), msgs)
	require.True(t, ok)
	require.Len(t, out, 6)

	assert.Equal(t, schema.Assistant, out[0].Role)
	assert.True(t, strings.HasPrefix(out[0].Content, SummaryPrefix))
	assert.Contains(t, out[0].Content, "user is configuring LuckPerms")
	for i := 0; i < 5; i++ {
		assert.Same(t, msgs[35+i], out[1+i])
	}

	assert.Equal(t, 1, s.calls)
	assert.Equal(t, model.RoleDecision, s.role)
	require.Len(t, s.got, 2)
	assert.Equal(t, schema.System, s.got[0].Role)
}

func TestCompactKeepsOriginalOnFailure(t *testing.T) {
	msgs := bigConversation()
	for _, s := range []*fakeSummarizer{{err: errors.New("503")}, {summary: "   "}} {
		c := NewCompactor(s, testCompactionConfig())

		out, ok := c.Compact(context.Background(), msgs)
		assert.False(t, ok)
		assert.Equal(t, msgs, out)
		assert.Equal(t, 1, s.calls)
	}
}

func TestCompactBelowThresholdIsNoop(t *testing.T) {
	msgs := []*schema.Message{schema.UserMessage("short"), schema.AssistantMessage("reply", nil)}
	s := &fakeSummarizer{summary: "x"}

	out, ok := NewCompactor(s, testCompactionConfig()).Compact(context.Background(), msgs)
	assert.False(t, ok)
	assert.Equal(t, msgs, out)
	assert.Zero(t, s.calls)
}

func TestCompactCountsImagePayloads(t *testing.T) {
	image := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: "what is this"},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: "data:image/png;base64," + strings.Repeat("A", 160000)}},
		},
	}
	msgs := []*schema.Message{image}
	for i := 0; i < 6; i++ {
		msgs = append(msgs, schema.UserMessage("q"), schema.AssistantMessage("a", nil))
	}
	s := &fakeSummarizer{summary: "an image of a castle"}

	out, ok := NewCompactor(s, testCompactionConfig()).Compact(context.Background(), msgs)
	require.True(t, ok)
	assert.Len(t, out, 6)
}

func TestCompactKeepsSystemPromptAndToolPairs(t *testing.T) {
	big := strings.Repeat("x", 160000)
	msgs := []*schema.Message{
		schema.SystemMessage("system"),
		schema.UserMessage(big),
		schema.AssistantMessage("ok", nil),
		schema.UserMessage("read it"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "read_docs", Arguments: "{}"}}}),
		schema.ToolMessage("r1", "c1"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "c2", Function: schema.FunctionCall{Name: "read_docs", Arguments: "{}"}}}),
		schema.ToolMessage("r2", "c2"),
		schema.AssistantMessage("", []schema.ToolCall{
			{ID: "c3", Function: schema.FunctionCall{Name: "read_docs", Arguments: "{}"}},
			{ID: "c4", Function: schema.FunctionCall{Name: "read_docs", Arguments: "{}"}},
		}),
		schema.ToolMessage("r3", "c3"),
		schema.ToolMessage("r4", "c4"),
		schema.AssistantMessage("done", nil),
	}
	s := &fakeSummarizer{summary: "summary"}

	out, ok := NewCompactor(s, testCompactionConfig()).Compact(context.Background(), msgs)
	require.True(t, ok)

	assert.Equal(t, "system", out[0].Content)
	assert.True(t, strings.HasPrefix(out[1].Content, SummaryPrefix))
	// The last five would start at tool result r2; the cut moves back to
	// the assistant message that requested it.
	assert.Same(t, msgs[6], out[2])
	assert.Len(t, out, 2+6)
	assert.Contains(t, s.got[1].Content, "r1")
	assert.NotContains(t, s.got[1].Content, "r2")
}
