package contract

import "context"

// DecisionEngine picks the next loop action. It degrades upstream failures
// into a FinalAnswer and only returns an error when ctx is done.
type DecisionEngine interface {
	Decide(ctx context.Context, req DecisionRequest) (Decision, error)
}

// ToolRegistry validates and runs tool invocations. Dispatch never returns an
// error; failures are reported inside the ToolResult.
type ToolRegistry interface {
	Schema(name string) (required []string, optional []string, err error)
	Validate(inv ToolInvocation) error
	Dispatch(ctx context.Context, inv ToolInvocation) ToolResult
}

// Completer is the minimal language model surface used by the decision engine
// and by tools that need a model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
