package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

const (
	ToolReadDocs        = "read_docs"
	ToolReadServerFile  = "read_server_file"
	ToolListServerFiles = "list_server_files"
	ToolAskUser         = "ask_user"
)

// DocReader returns document text or a readable "not found" message.
type DocReader interface {
	ReadDocument(ctx context.Context, path string) (string, error)
}

// ServerReader reads a server directory relative to root.
type ServerReader interface {
	ReadServerFile(ctx context.Context, root, rel string) (string, error)
	ListServerFiles(ctx context.Context, root, rel string) ([]string, error)
}

// ===================================
// Read Docs Tool
// ===================================

type ReadDocsInput struct {
	DocPaths []string `json:"doc_paths"`
}

func createReadDocsTool(docs DocReader) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolReadDocs,
			Desc: "Read one or more documentation pages. Paths come from the document index in the system prompt, e.g. plugins/luckperms. Read every page you need in one call.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"doc_paths": {
					Type:     schema.Array,
					ElemInfo: &schema.ParameterInfo{Type: schema.String},
					Desc:     "Document paths to read.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *ReadDocsInput) (string, error) {
			if len(in.DocPaths) == 0 {
				return "", fmt.Errorf("doc_paths is required")
			}

			var sb strings.Builder
			for i, p := range in.DocPaths {
				text, err := docs.ReadDocument(ctx, p)
				if err != nil {
					text = "error: " + err.Error()
				}
				if i > 0 {
					sb.WriteString("\n\n---\n\n")
				}
				fmt.Fprintf(&sb, "## %s\n\n%s", p, text)
			}
			return sb.String(), nil
		},
	)
}

// ===================================
// Server Tools
// ===================================

type ReadServerFileInput struct {
	FilePath string `json:"file_path"`
}

type ListServerFilesInput struct {
	DirPath string `json:"dir_path"`
}

func createReadServerFileTool(server ServerReader, root string) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolReadServerFile,
			Desc: "Read a file from the user's Minecraft server directory, such as server.properties, a plugin config or logs/latest.log. Long files return only their last part.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"file_path": {
					Type:     schema.String,
					Desc:     "Path relative to the server root.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *ReadServerFileInput) (string, error) {
			if strings.TrimSpace(in.FilePath) == "" {
				return "", fmt.Errorf("file_path is required")
			}
			return server.ReadServerFile(ctx, root, in.FilePath)
		},
	)
}

func createListServerFilesTool(server ServerReader, root string) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolListServerFiles,
			Desc: "List a directory of the user's Minecraft server. Directories end with /.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"dir_path": {
					Type: schema.String,
					Desc: "Directory relative to the server root. Empty for the root itself.",
				},
			}),
		},
		func(ctx context.Context, in *ListServerFilesInput) (string, error) {
			names, err := server.ListServerFiles(ctx, root, in.DirPath)
			if err != nil {
				return "", err
			}
			if len(names) == 0 {
				return "(empty directory)", nil
			}
			return strings.Join(names, "\n"), nil
		},
	)
}

// ===================================
// Ask User Tool
// ===================================

type AskUserInput struct {
	Question string `json:"question"`
}

func createAskUserTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolAskUser,
			Desc: "Ask the user a clarifying question when the request is ambiguous. This ends your turn; the user's reply arrives as the next message.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"question": {
					Type:     schema.String,
					Desc:     "The question to show the user.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *AskUserInput) (string, error) {
			if strings.TrimSpace(in.Question) == "" {
				return "", fmt.Errorf("question is required")
			}
			return "question shown to the user; wait for the reply", nil
		},
	)
}
