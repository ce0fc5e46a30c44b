package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/mc-plugin-market/assistant/internal/ai/agent/prompts"
	"github.com/mc-plugin-market/assistant/internal/ai/model"
	"github.com/mc-plugin-market/assistant/internal/workspace"
	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

// SystemPromptFunc renders the system prompt for one turn.
type SystemPromptFunc func(ctx context.Context) (string, error)

type DocIndexer interface {
	Index(ctx context.Context) ([]workspace.DocEntry, error)
}

type ServerLister interface {
	ListServerFiles(ctx context.Context, root, rel string) ([]string, error)
}

// WorkspacePrompt renders the agent prompt with the current document index
// and, when root is set, the server root listing.
func WorkspacePrompt(docs DocIndexer, server ServerLister, root string) SystemPromptFunc {
	return func(ctx context.Context) (string, error) {
		index, err := docs.Index(ctx)
		if err != nil {
			return "", err
		}
		vars := prompts.AgentPromptVars{Docs: index, ServerRoot: root}
		if root != "" && server != nil {
			files, err := server.ListServerFiles(ctx, root, "")
			if err != nil {
				logx.Warn().Err(err).Str("root", root).Msg("server root listing unavailable")
			}
			vars.ServerFiles = files
		}
		return prompts.RenderAgentSystem(ctx, vars)
	}
}

// Session runs agent turns against a stored conversation.
type Session struct {
	repo      model.ConversationRepository
	compactor *Compactor
	agent     *Agent
	system    SystemPromptFunc
}

func NewSession(repo model.ConversationRepository, compactor *Compactor, agent *Agent, system SystemPromptFunc) *Session {
	return &Session{
		repo:      repo,
		compactor: compactor,
		agent:     agent,
		system:    system,
	}
}

// Turn answers userMessage in the context of conversationID. The user
// message is stored before the model is called; the messages the run
// appended are stored only when it succeeds.
func (s *Session) Turn(ctx context.Context, conversationID, userMessage string, emit Emitter) (*Result, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	if strings.TrimSpace(userMessage) == "" {
		return nil, fmt.Errorf("message is empty")
	}

	history, err := s.repo.LoadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	userMsg := schema.UserMessage(userMessage)
	if err := s.repo.AddMessage(ctx, conversationID, userMsg); err != nil {
		return nil, err
	}
	msgs := append(history.Messages, userMsg)

	if compacted, ok := s.compactor.Compact(ctx, msgs); ok {
		if err := s.repo.ReplaceHistory(ctx, conversationID, compacted); err != nil {
			logx.Warn().Err(err).Str("conversationID", conversationID).Msg("failed to store compacted history")
		}
		msgs = compacted
	}

	systemPrompt, err := s.system(ctx)
	if err != nil {
		return nil, err
	}
	input := append([]*schema.Message{schema.SystemMessage(systemPrompt)}, msgs...)

	res, err := s.agent.Run(ctx, input, emit)
	if err != nil {
		return res, err
	}

	for _, m := range res.Messages[len(input):] {
		if err := s.repo.AddMessage(ctx, conversationID, m); err != nil {
			return res, err
		}
	}
	return res, nil
}
