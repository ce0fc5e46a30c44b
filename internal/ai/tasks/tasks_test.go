package tasks

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mc-plugin-market/assistant/internal/ai/executor"
	"github.com/mc-plugin-market/assistant/internal/ai/model"
	errx "github.com/mc-plugin-market/assistant/internal/core/error"
)

type fakeRegistry map[model.Role]model.ModelConfig

func (f fakeRegistry) ResolveRoleModel(role model.Role) (model.ModelConfig, bool) {
	cfg, ok := f[role]
	return cfg, ok
}

func (f fakeRegistry) RequireRoleModel(role model.Role) (model.ModelConfig, error) {
	cfg, ok := f[role]
	if !ok {
		return model.ModelConfig{}, errx.Config("role %s has no usable model", role)
	}
	return cfg, nil
}

type fakeExec struct {
	mu       sync.Mutex
	complete func(msgs []*schema.Message) (string, error)
	calls    int
	streamed []*schema.Message
	roles    []model.Role
}

func (f *fakeExec) Complete(ctx context.Context, role model.Role, msgs []*schema.Message, opts ...executor.Option) (string, error) {
	f.mu.Lock()
	f.calls++
	f.roles = append(f.roles, role)
	f.mu.Unlock()
	return f.complete(msgs)
}

func (f *fakeExec) Stream(ctx context.Context, role model.Role, msgs []*schema.Message, opts ...executor.Option) (*executor.AnswerStream, error) {
	f.mu.Lock()
	f.streamed = msgs
	f.roles = append(f.roles, role)
	f.mu.Unlock()
	return executor.NewAnswerStream(schema.StreamReaderFromArray([]string{"see ", "## Install"}), nil), nil
}

func allRoles() fakeRegistry {
	return fakeRegistry{
		model.RoleTranslate: {ID: "glm-4-flash", MaxConcurrency: 4},
		model.RoleVision:    {ID: "glm-4v-flash", MaxConcurrency: 2},
		model.RoleChat:      {ID: "glm-4.7-flash", MaxConcurrency: 1},
	}
}

// upperTranslator uppercases every segment of a batch.
func upperTranslator(msgs []*schema.Message) (string, error) {
	user := msgs[len(msgs)-1].Content
	_, body, _ := strings.Cut(user, "\n\n")
	parts := strings.Split(body, "\n%%\n")
	for i, p := range parts {
		parts[i] = strings.ToUpper(p)
	}
	return strings.Join(parts, "\n%%\n"), nil
}

const sampleDoc = `# Getting started

Install the plugin jar.

- first step
  2. nested step
> quoted tip

` + "```yaml" + `
enabled: true
` + "```" + `
![banner](https://example.com/b.png)
[Wiki](https://example.com/wiki)
<div align="center">
<p>centered text</p>
</div>
| Command | Description |
|---------|-------------|
| /lp | opens editor |`

func TestExtractSegments(t *testing.T) {
	lines := strings.Split(sampleDoc, "\n")
	segs := extractSegments(lines)

	var texts []string
	for _, s := range segs {
		texts = append(texts, s.text)
	}
	assert.Equal(t, []string{
		"Getting started",
		"Install the plugin jar.",
		"first step",
		"nested step",
		"quoted tip",
		"centered text",
		"| Command | Description |",
		"| /lp | opens editor |",
	}, texts)

	assert.Equal(t, "# ", segs[0].prefix)
	assert.Equal(t, "  ", segs[3].indent)
	assert.Equal(t, "2. ", segs[3].prefix)
	assert.Equal(t, "<p>", segs[5].prefix)
	assert.Equal(t, "</p>", segs[5].suffix)
}

func TestTranslateDocumentKeepsStructure(t *testing.T) {
	exec := &fakeExec{complete: upperTranslator}
	s := New(exec, allRoles(), model.TasksConfig{})

	var last, total int
	out, err := s.TranslateDocument(context.Background(), sampleDoc, func(done, n int) { last, total = done, n })
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	assert.Equal(t, "# GETTING STARTED", lines[0])
	assert.Equal(t, "- FIRST STEP", lines[4])
	assert.Equal(t, "  2. NESTED STEP", lines[5])
	assert.Equal(t, "> QUOTED TIP", lines[6])
	assert.Contains(t, out, "enabled: true")
	assert.Contains(t, out, "![banner](https://example.com/b.png)")
	assert.Contains(t, out, "<p>CENTERED TEXT</p>")
	assert.Equal(t, len(strings.Split(sampleDoc, "\n")), len(lines))

	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, []model.Role{model.RoleTranslate}, exec.roles)
	assert.Equal(t, 8, last)
	assert.Equal(t, 8, total)
}

func TestTranslateDocumentFailedBatchKeepsOriginal(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 25; i++ {
		if i == 12 {
			sb.WriteString("fail-me please\n")
			continue
		}
		sb.WriteString("line number ok\n")
	}
	doc := strings.TrimSuffix(sb.String(), "\n")

	exec := &fakeExec{complete: func(msgs []*schema.Message) (string, error) {
		if strings.Contains(msgs[1].Content, "fail-me") {
			return "", errors.New("status 500")
		}
		return upperTranslator(msgs)
	}}
	s := New(exec, allRoles(), model.TasksConfig{BatchSize: 10})

	out, err := s.TranslateDocument(context.Background(), doc, nil)
	require.NoError(t, err)
	lines := strings.Split(out, "\n")

	assert.Equal(t, 3, exec.calls)
	assert.Equal(t, "LINE NUMBER OK", lines[0])
	assert.Equal(t, "line number ok", lines[10])
	assert.Equal(t, "fail-me please", lines[12])
	assert.Equal(t, "LINE NUMBER OK", lines[24])
}

func TestTranslateDocumentShortAnswerFallsBack(t *testing.T) {
	exec := &fakeExec{complete: func(msgs []*schema.Message) (string, error) {
		return "ONLY ONE", nil
	}}
	s := New(exec, allRoles(), model.TasksConfig{})

	out, err := s.TranslateDocument(context.Background(), "alpha line\nbeta line", nil)
	require.NoError(t, err)
	assert.Equal(t, "ONLY ONE\nbeta line", out)
}

func TestTranslateRequiresRole(t *testing.T) {
	s := New(&fakeExec{}, fakeRegistry{}, model.TasksConfig{})

	_, err := s.TranslateDocument(context.Background(), "text here", nil)
	assert.True(t, errx.IsConfig(err))

	_, err = s.TranslatePluginInfos(context.Background(), []PluginInfo{{ID: "1"}})
	assert.True(t, errx.IsConfig(err))
}

func TestTranslatePluginInfos(t *testing.T) {
	exec := &fakeExec{complete: func(msgs []*schema.Message) (string, error) {
		if strings.Contains(msgs[1].Content, "Broken") {
			return "", errors.New("timeout")
		}
		return "Name: 权限管理\nSummary：高级权限插件", nil
	}}
	s := New(exec, allRoles(), model.TasksConfig{})

	out, err := s.TranslatePluginInfos(context.Background(), []PluginInfo{
		{ID: "lp", Name: "LuckPerms", Summary: "A permissions plugin"},
		{ID: "x", Name: "Broken", Summary: "Never translated"},
	})
	require.NoError(t, err)
	assert.Equal(t, PluginTranslation{ID: "lp", Name: "权限管理", Summary: "高级权限插件"}, out["lp"])
	assert.Equal(t, PluginTranslation{ID: "x", Name: "Broken", Summary: "Never translated"}, out["x"])
}

func TestDescribeImages(t *testing.T) {
	exec := &fakeExec{complete: func(msgs []*schema.Message) (string, error) {
		parts := msgs[0].MultiContent
		if len(parts) != 2 || parts[1].ImageURL == nil {
			return "", errors.New("bad message")
		}
		if strings.HasSuffix(parts[1].ImageURL.URL, "broken.png") {
			return "", errors.New("unreadable")
		}
		return " a castle ", nil
	}}
	s := New(exec, allRoles(), model.TasksConfig{})

	out := s.DescribeImages(context.Background(), []string{"https://x/a.png", "https://x/broken.png", "https://x/c.png"})
	assert.Equal(t, []string{"a castle", "", "a castle"}, out)
	for _, r := range exec.roles {
		assert.Equal(t, model.RoleVision, r)
	}
}

func TestDescribeImagesWithoutVisionModel(t *testing.T) {
	exec := &fakeExec{}
	s := New(exec, fakeRegistry{}, model.TasksConfig{})

	assert.Equal(t, []string{"", ""}, s.DescribeImages(context.Background(), []string{"a", "b"}))
	assert.Zero(t, exec.calls)

	_, err := s.DescribeImage(context.Background(), "a")
	assert.True(t, errx.IsConfig(err))
}

func TestAskDocument(t *testing.T) {
	exec := &fakeExec{}
	s := New(exec, allRoles(), model.TasksConfig{})

	history := []*schema.Message{schema.UserMessage("earlier"), schema.AssistantMessage("reply", nil)}
	sr, err := s.AskDocument(context.Background(), Document{Title: "LuckPerms", Content: "Use {{ braces }} freely."}, history, "how to install?")
	require.NoError(t, err)
	defer sr.Close()

	var answer string
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		answer += chunk
	}
	assert.Equal(t, "see ## Install", answer)

	require.Len(t, exec.streamed, 4)
	assert.Equal(t, schema.System, exec.streamed[0].Role)
	assert.Contains(t, exec.streamed[0].Content, "Document title: LuckPerms")
	assert.Contains(t, exec.streamed[0].Content, "Use {{ braces }} freely.")
	assert.Equal(t, "earlier", exec.streamed[1].Content)
	assert.Equal(t, "how to install?", exec.streamed[3].Content)
	assert.Equal(t, []model.Role{model.RoleChat}, exec.roles)
}
