package model

import (
	"context"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

type ConversationRepository interface {
	// AddMessage adds a message to the conversation history for the given conversation
	AddMessage(ctx context.Context, conversationID string, message *schema.Message) error

	// LoadHistory retrieves the conversation history for a conversation
	LoadHistory(ctx context.Context, conversationID string) (*ConversationHistory, error)

	// ReplaceHistory swaps the stored history, used after compaction
	ReplaceHistory(ctx context.Context, conversationID string, messages []*schema.Message) error

	// ClearHistory removes all conversation history for a conversation
	ClearHistory(ctx context.Context, conversationID string) error

	// GetMessageCount returns the number of messages in the conversation
	GetMessageCount(ctx context.Context, conversationID string) (int, error)
}

// ConversationHistory represents loaded conversation data with metadata.
type ConversationHistory struct {
	ConversationID string
	Messages       []*schema.Message
}

// Footprint returns the character size of msgs: text content, text parts and
// embedded image payloads.
func Footprint(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		if m == nil {
			continue
		}
		total += utf8.RuneCountInString(m.Content)
		for _, part := range m.MultiContent {
			total += utf8.RuneCountInString(part.Text)
			if part.ImageURL != nil {
				total += len(part.ImageURL.URL)
			}
		}
	}
	return total
}
