package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/mc-plugin-market/assistant/internal/ai/agent/tools"
	"github.com/mc-plugin-market/assistant/internal/workspace"
)

//go:embed template/agent_prompt.txt
var agentSystemPrompt string

// MaxServerEntries bounds the root listing rendered into the prompt.
const MaxServerEntries = 30

type AgentPromptVars struct {
	Docs        []workspace.DocEntry
	ServerRoot  string
	ServerFiles []string
}

// RenderAgentSystem renders the agent system prompt via the Eino prompt
// component so prompt callbacks fire.
func RenderAgentSystem(ctx context.Context, vars AgentPromptVars) (string, error) {
	files := vars.ServerFiles
	truncated := false
	if len(files) > MaxServerEntries {
		files = files[:MaxServerEntries]
		truncated = true
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(agentSystemPrompt),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"Docs":                 vars.Docs,
		"ServerRoot":           vars.ServerRoot,
		"ServerFiles":          files,
		"ServerFilesTruncated": truncated,
		"ReadDocsTool":         tools.ToolReadDocs,
		"ReadServerFileTool":   tools.ToolReadServerFile,
		"ListServerFilesTool":  tools.ToolListServerFiles,
		"AskUserTool":          tools.ToolAskUser,
	})
	if err != nil {
		return "", fmt.Errorf("agent prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("agent prompt render: empty result")
	}
	return msgs[0].Content, nil
}
