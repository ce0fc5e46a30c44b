package tasks

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/mc-plugin-market/assistant/internal/ai/executor"
	"github.com/mc-plugin-market/assistant/internal/ai/model"
)

// Document is the page a user is reading.
type Document struct {
	Title   string
	Content string
}

// AskDocument streams an answer about doc. history holds earlier user and
// assistant turns of the same chat.
func (s *Service) AskDocument(ctx context.Context, doc Document, history []*schema.Message, question string) (*executor.AnswerStream, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(docChatPrompt),
		schema.MessagesPlaceholder("history", true),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"Title":   doc.Title,
		"Content": doc.Content,
		"history": history,
	})
	if err != nil {
		return nil, fmt.Errorf("doc chat prompt render: %w", err)
	}
	msgs = append(msgs, schema.UserMessage(question))
	return s.exec.Stream(ctx, model.RoleChat, msgs)
}
