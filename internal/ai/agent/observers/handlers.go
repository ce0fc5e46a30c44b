// Package observers logs eino component lifecycles (prompts, chat models,
// tools) through zerolog.
package observers

import (
	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
)

// NewAllCallbacks aggregates all observer handlers into one callbacks.Handler.
func NewAllCallbacks() einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		Tool(newToolHandler()).
		ChatModel(newModelHandler()).
		Prompt(newPromptHandler()).
		Handler()
}

// Register installs the observers for every component run in the process.
// Call it once at startup.
func Register() {
	einocb.AppendGlobalHandlers(NewAllCallbacks())
}
