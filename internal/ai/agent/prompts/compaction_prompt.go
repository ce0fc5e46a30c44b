package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/compaction_prompt.txt
var compactionSystemPrompt string

const summaryMaxWords = 600

// RenderCompaction builds the summarisation request for the given history
// prefix: the instruction as system message and a transcript as user
// message.
func RenderCompaction(ctx context.Context, history []*schema.Message) ([]*schema.Message, error) {
	content := strings.NewReplacer(
		"{max_words}", strconv.Itoa(summaryMaxWords),
	).Replace(compactionSystemPrompt)

	// The transcript goes in through a placeholder so braces in it are
	// never parsed as template variables.
	tpl := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("instructions", false),
		schema.MessagesPlaceholder("transcript", false),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"instructions": []*schema.Message{schema.SystemMessage(content)},
		"transcript":   []*schema.Message{schema.UserMessage(Transcript(history))},
	})
	if err != nil {
		return nil, fmt.Errorf("compaction prompt render: %w", err)
	}
	if len(msgs) != 2 {
		return nil, fmt.Errorf("compaction prompt render: unexpected %d messages", len(msgs))
	}
	return msgs, nil
}

// Transcript flattens messages into a role-tagged plain text log.
func Transcript(history []*schema.Message) string {
	var sb strings.Builder
	for _, m := range history {
		if m == nil {
			continue
		}
		switch m.Role {
		case schema.Tool:
			fmt.Fprintf(&sb, "[tool result %s]\n", m.ToolCallID)
		default:
			fmt.Fprintf(&sb, "[%s]\n", m.Role)
		}
		if m.Content != "" {
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
		for _, part := range m.MultiContent {
			switch {
			case part.Text != "":
				sb.WriteString(part.Text)
				sb.WriteString("\n")
			case part.ImageURL != nil:
				sb.WriteString("(image attached)\n")
			}
		}
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&sb, "called %s(%s)\n", tc.Function.Name, tc.Function.Arguments)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
