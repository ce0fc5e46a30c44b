package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mc-plugin-market/assistant/internal/ai/agent/tools"
	"github.com/mc-plugin-market/assistant/internal/ai/executor"
	"github.com/mc-plugin-market/assistant/internal/ai/model"
	"github.com/mc-plugin-market/assistant/internal/ai/repo"
	"github.com/mc-plugin-market/assistant/internal/workspace"
)

type staticIndex []workspace.DocEntry

func (s staticIndex) Index(ctx context.Context) ([]workspace.DocEntry, error) {
	return s, nil
}

func newTestSession(t *testing.T, caller Caller, summarizer Summarizer) (*Session, *repo.RedisConversationRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	conversations := repo.NewRedisConversationRepository(rdb, time.Minute)

	set, err := tools.NewSet(context.Background(), fakeDocs{}, nil, "")
	require.NoError(t, err)
	a := New(caller, set, model.AgentConfig{MaxIterations: 10, Role: model.RoleDecision})
	system := WorkspacePrompt(staticIndex{{Path: "plugins/luckperms", Title: "LuckPerms"}}, nil, "")
	return NewSession(conversations, NewCompactor(summarizer, testCompactionConfig()), a, system), conversations
}

func TestSessionTurnStoresExchange(t *testing.T) {
	caller := &scriptedCaller{
		script: []*executor.ToolResponse{
			callsTools(toolCall("c1", tools.ToolReadDocs, `{"doc_paths":["plugins/luckperms"]}`)),
			plain("x"),
		},
		chunks: []string{"Use /lp editor."},
	}
	s, conversations := newTestSession(t, caller, &fakeSummarizer{})

	res, err := s.Turn(context.Background(), "conv-1", "how do I edit permissions?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Use /lp editor.", res.Answer)

	require.NotEmpty(t, caller.streamInput)
	assert.Equal(t, schema.System, caller.streamInput[0].Role)
	assert.Contains(t, caller.streamInput[0].Content, "plugins/luckperms: LuckPerms")

	history, err := conversations.LoadHistory(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, history.Messages, 4)
	assert.Equal(t, schema.User, history.Messages[0].Role)
	assert.Equal(t, "c1", history.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, "c1", history.Messages[2].ToolCallID)
	assert.Equal(t, "Use /lp editor.", history.Messages[3].Content)
}

func TestSessionTurnCompactsStoredHistory(t *testing.T) {
	caller := &scriptedCaller{script: []*executor.ToolResponse{plain("x")}, chunks: []string{"answer"}}
	summarizer := &fakeSummarizer{summary: "earlier talk"}
	s, conversations := newTestSession(t, caller, summarizer)
	ctx := context.Background()

	for _, m := range bigConversation() {
		require.NoError(t, conversations.AddMessage(ctx, "conv-2", m))
	}

	_, err := s.Turn(ctx, "conv-2", "next question", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summarizer.calls)

	// system + summary + last 5 (including the new question)
	require.Len(t, caller.streamInput, 7)
	assert.True(t, strings.HasPrefix(caller.streamInput[1].Content, SummaryPrefix))
	assert.Equal(t, "next question", caller.streamInput[6].Content)

	history, err := conversations.LoadHistory(ctx, "conv-2")
	require.NoError(t, err)
	require.Len(t, history.Messages, 7)
	assert.True(t, strings.HasPrefix(history.Messages[0].Content, SummaryPrefix))
	assert.Equal(t, "answer", history.Messages[6].Content)
}

func TestSessionRejectsEmptyMessage(t *testing.T) {
	s, _ := newTestSession(t, &scriptedCaller{}, &fakeSummarizer{})

	_, err := s.Turn(context.Background(), "conv", "  ", nil)
	assert.Error(t, err)
}
