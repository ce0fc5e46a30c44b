package model

// ToolCallRequest is one structured tool invocation requested by a model.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments map[string]any
	// RawArguments is the JSON text exactly as the provider sent it.
	RawArguments string
}

// ToolChoiceMode controls whether the model may, must not, or must call a tool.
type ToolChoiceMode string

const (
	ToolChoiceAuto   ToolChoiceMode = "auto"
	ToolChoiceNone   ToolChoiceMode = "none"
	ToolChoiceForced ToolChoiceMode = "function"
)

type ToolChoice struct {
	Mode ToolChoiceMode
	// Function names the tool when Mode is ToolChoiceForced.
	Function string
}

var (
	ChooseAuto = ToolChoice{Mode: ToolChoiceAuto}
	ChooseNone = ToolChoice{Mode: ToolChoiceNone}
)

// ForceTool requires the model to call the named tool.
func ForceTool(name string) ToolChoice {
	return ToolChoice{Mode: ToolChoiceForced, Function: name}
}

type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
)

// ToolOperation is a progress record for one tool execution.
type ToolOperation struct {
	CallID string
	Kind   string
	Target string
	Status OperationStatus
}
