package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Set is the ordered collection of tools offered to the model.
type Set struct {
	byName map[string]tool.InvokableTool
	infos  []*schema.ToolInfo
}

// NewSet builds the agent tools. Server tools are only offered when
// serverRoot is set.
func NewSet(ctx context.Context, docs DocReader, server ServerReader, serverRoot string) (*Set, error) {
	list := []tool.InvokableTool{createReadDocsTool(docs)}
	if serverRoot != "" && server != nil {
		list = append(list,
			createReadServerFileTool(server, serverRoot),
			createListServerFilesTool(server, serverRoot),
		)
	}
	list = append(list, createAskUserTool())
	return NewSetFrom(ctx, list...)
}

// NewSetFrom wraps arbitrary invokable tools.
func NewSetFrom(ctx context.Context, list ...tool.InvokableTool) (*Set, error) {
	s := &Set{byName: make(map[string]tool.InvokableTool, len(list))}
	for _, t := range list {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		if _, dup := s.byName[info.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %s", info.Name)
		}
		s.byName[info.Name] = t
		s.infos = append(s.infos, info)
	}
	return s, nil
}

func (s *Set) Infos() []*schema.ToolInfo {
	return s.infos
}

func (s *Set) Get(name string) (tool.InvokableTool, bool) {
	t, ok := s.byName[name]
	return t, ok
}
