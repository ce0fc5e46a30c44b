// Package agent runs the tool-calling loop: ask the model, run the tools it
// requests, feed the results back, and stream the final answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/mc-plugin-market/assistant/internal/ai/agent/tools"
	"github.com/mc-plugin-market/assistant/internal/ai/executor"
	"github.com/mc-plugin-market/assistant/internal/ai/model"
	logx "github.com/mc-plugin-market/assistant/pkg/logger"
)

// Caller is the slice of the executor the loop needs.
type Caller interface {
	CompleteWithTools(ctx context.Context, role model.Role, msgs []*schema.Message, tools []*schema.ToolInfo, choice model.ToolChoice, opts ...executor.Option) (*executor.ToolResponse, error)
	Stream(ctx context.Context, role model.Role, msgs []*schema.Message, opts ...executor.Option) (*executor.AnswerStream, error)
}

type EventType string

const (
	EventOperation EventType = "operation"
	EventChunk     EventType = "chunk"
	EventNotice    EventType = "notice"
)

// Event is a progress update. Operation is set for EventOperation, Text
// for the others.
type Event struct {
	Type      EventType
	Operation *model.ToolOperation
	Text      string
}

type Emitter func(Event)

// Result describes how a run ended. Messages is the running list including
// everything the run appended.
type Result struct {
	Answer       string
	Messages     []*schema.Message
	Rounds       int
	LimitReached bool
	AwaitingUser bool
	Interrupted  bool
}

type state int

const (
	stateAwaitingModel state = iota
	stateExecutingTools
	stateStreamingAnswer
	stateAwaitingUser
	stateDone
)

func (s state) String() string {
	switch s {
	case stateAwaitingModel:
		return "awaiting-model"
	case stateExecutingTools:
		return "executing-tools"
	case stateStreamingAnswer:
		return "streaming-answer"
	case stateAwaitingUser:
		return "awaiting-user"
	default:
		return "done"
	}
}

type Agent struct {
	caller        Caller
	tools         *tools.Set
	role          model.Role
	maxIterations int
}

func New(caller Caller, toolSet *tools.Set, cfg model.AgentConfig) *Agent {
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}
	role := cfg.Role
	if role == "" {
		role = model.RoleDecision
	}
	return &Agent{
		caller:        caller,
		tools:         toolSet,
		role:          role,
		maxIterations: maxIterations,
	}
}

// Run drives msgs to a final answer. Hitting the round limit is not an
// error: the result is flagged and a notice is emitted. A failure while
// streaming returns the error together with the partial answer.
func (a *Agent) Run(ctx context.Context, msgs []*schema.Message, emit Emitter) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	res := &Result{Messages: append([]*schema.Message(nil), msgs...)}

	var pending []model.ToolCallRequest
	var question string
	st := stateAwaitingModel
	for st != stateDone {
		logx.Debug().Stringer("state", st).Int("round", res.Rounds).Msg("agent step")

		switch st {
		case stateAwaitingModel:
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if res.Rounds >= a.maxIterations {
				logx.Warn().Int("rounds", res.Rounds).Msg("agent round limit reached")
				res.LimitReached = true
				emit(Event{Type: EventNotice, Text: fmt.Sprintf("agent stopped after %d tool rounds", res.Rounds)})
				st = stateDone
				continue
			}

			resp, err := a.caller.CompleteWithTools(ctx, a.role, res.Messages, a.tools.Infos(), model.ChooseAuto)
			if err != nil {
				return res, err
			}
			if len(resp.ToolCalls) == 0 {
				st = stateStreamingAnswer
				continue
			}
			res.Rounds++
			res.Messages = append(res.Messages, resp.Message())
			pending = resp.ToolCalls
			st = stateExecutingTools

		case stateExecutingTools:
			var asked bool
			question, asked = a.executeTools(ctx, pending, res, emit)
			pending = nil
			if asked {
				st = stateAwaitingUser
			} else {
				st = stateAwaitingModel
			}

		case stateAwaitingUser:
			res.AwaitingUser = true
			res.Answer = question
			res.Messages = append(res.Messages, schema.AssistantMessage(question, nil))
			emit(Event{Type: EventChunk, Text: question})
			st = stateDone

		case stateStreamingAnswer:
			answer, err := a.streamAnswer(ctx, res.Messages, emit)
			res.Answer = answer
			if err != nil {
				res.Interrupted = true
				logx.Warn().Err(err).Int("partial_chars", len(answer)).Msg("answer stream interrupted")
				return res, err
			}
			res.Messages = append(res.Messages, schema.AssistantMessage(answer, nil))
			st = stateDone
		}
	}
	return res, nil
}

// executeTools runs calls in request order and appends one tool message
// per call id. It reports the question when ask_user was among them.
func (a *Agent) executeTools(ctx context.Context, calls []model.ToolCallRequest, res *Result, emit Emitter) (string, bool) {
	var question string
	asked := false
	for _, call := range calls {
		op := model.ToolOperation{
			CallID: call.ID,
			Kind:   call.Name,
			Target: operationTarget(call),
			Status: model.OperationPending,
		}
		emit(Event{Type: EventOperation, Operation: &op})

		content, err := a.runTool(ctx, call)
		if err != nil {
			content = "error: " + err.Error()
			op.Status = model.OperationFailed
		} else {
			op.Status = model.OperationCompleted
		}
		if strings.TrimSpace(content) == "" {
			content = "(no output)"
		}
		res.Messages = append(res.Messages, schema.ToolMessage(content, call.ID))

		done := op
		emit(Event{Type: EventOperation, Operation: &done})

		if call.Name == tools.ToolAskUser && err == nil {
			if q, _ := call.Arguments["question"].(string); strings.TrimSpace(q) != "" && !asked {
				question = strings.TrimSpace(q)
				asked = true
			}
		}
	}
	return question, asked
}

func (a *Agent) runTool(ctx context.Context, call model.ToolCallRequest) (out string, err error) {
	t, ok := a.tools.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}

	cbCtx := callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      call.Name,
		Type:      call.Name,
		Component: components.ComponentOfTool,
	})
	cbCtx = callbacks.OnStart(cbCtx, &tool.CallbackInput{ArgumentsInJSON: call.RawArguments})
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Interface("panic", r).Str("tool", call.Name).Msg("tool panicked")
			err = fmt.Errorf("tool %s panicked: %v", call.Name, r)
		}
		if err != nil {
			callbacks.OnError(cbCtx, err)
			return
		}
		callbacks.OnEnd(cbCtx, &tool.CallbackOutput{Response: out})
	}()

	return t.InvokableRun(ctx, call.RawArguments)
}

func (a *Agent) streamAnswer(ctx context.Context, msgs []*schema.Message, emit Emitter) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sr, err := a.caller.Stream(ctx, a.role, msgs)
	if err != nil {
		return "", err
	}
	defer sr.Close()

	var answer strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return answer.String(), nil
		}
		if err != nil {
			return answer.String(), err
		}
		answer.WriteString(chunk)
		emit(Event{Type: EventChunk, Text: chunk})
	}
}

func operationTarget(call model.ToolCallRequest) string {
	switch call.Name {
	case tools.ToolReadDocs:
		if paths, ok := call.Arguments["doc_paths"].([]any); ok {
			parts := make([]string, 0, len(paths))
			for _, p := range paths {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, ", ")
		}
	case tools.ToolReadServerFile:
		if p, ok := call.Arguments["file_path"].(string); ok {
			return p
		}
	case tools.ToolListServerFiles:
		if p, ok := call.Arguments["dir_path"].(string); ok && p != "" {
			return p
		}
		return "/"
	case tools.ToolAskUser:
		if q, ok := call.Arguments["question"].(string); ok {
			return q
		}
	}
	return ""
}
