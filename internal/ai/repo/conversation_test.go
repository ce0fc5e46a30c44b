package repo

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T, ttl time.Duration) (*RedisConversationRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisConversationRepository(rdb, ttl), mr
}

func TestAddAndLoadHistory(t *testing.T) {
	r, mr := newTestRepo(t, 15*time.Minute)
	ctx := context.Background()

	require.NoError(t, r.AddMessage(ctx, "c1", schema.UserMessage("hello")))
	require.NoError(t, r.AddMessage(ctx, "c1", schema.AssistantMessage("", []schema.ToolCall{{
		ID:       "call_1",
		Type:     "function",
		Function: schema.FunctionCall{Name: "read_docs", Arguments: `{"doc_paths":["a"]}`},
	}})))
	require.NoError(t, r.AddMessage(ctx, "c1", schema.ToolMessage("doc body", "call_1")))

	history, err := r.LoadHistory(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, history.Messages, 3)
	assert.Equal(t, "hello", history.Messages[0].Content)
	require.Len(t, history.Messages[1].ToolCalls, 1)
	assert.Equal(t, "read_docs", history.Messages[1].ToolCalls[0].Function.Name)
	assert.Equal(t, "call_1", history.Messages[2].ToolCallID)

	assert.Equal(t, 15*time.Minute, mr.TTL("assistant:conversation:c1:messages"))

	n, err := r.GetMessageCount(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLoadHistoryEmpty(t *testing.T) {
	r, _ := newTestRepo(t, 0)

	history, err := r.LoadHistory(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, history.Messages)
	assert.Equal(t, "nobody", history.ConversationID)
}

func TestReplaceHistory(t *testing.T) {
	r, _ := newTestRepo(t, time.Minute)
	ctx := context.Background()
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, r.AddMessage(ctx, "c1", schema.UserMessage(s)))
	}

	require.NoError(t, r.ReplaceHistory(ctx, "c1", []*schema.Message{
		schema.AssistantMessage("summary", nil),
		schema.UserMessage("c"),
	}))
	history, err := r.LoadHistory(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "summary", history.Messages[0].Content)

	require.NoError(t, r.ReplaceHistory(ctx, "c1", nil))
	n, err := r.GetMessageCount(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClearHistory(t *testing.T) {
	r, mr := newTestRepo(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, r.AddMessage(ctx, "c1", schema.UserMessage("x")))

	require.NoError(t, r.ClearHistory(ctx, "c1"))
	assert.False(t, mr.Exists("assistant:conversation:c1:messages"))
}

func TestRedisFailureIsWrapped(t *testing.T) {
	r, mr := newTestRepo(t, time.Minute)
	mr.Close()

	err := r.AddMessage(context.Background(), "c1", schema.UserMessage("x"))
	require.Error(t, err)
}
