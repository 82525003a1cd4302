package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
)

const (
	NodeValidateRequest = "validate_request"
	NodeLoadSession     = "load_session"
	NodeCheckBudget     = "check_budget"
	NodeDecide          = "decide"
	NodeDispatchTool    = "dispatch_tool"
	NodeRecordAnswer    = "record_answer"
	NodeFinalizeBudget  = "finalize_budget"
	NodeSaveSession     = "save_session"
	NodeRender          = "render"
)

func AfterBudget(_ context.Context, in *GraphState) (string, error) {
	if in.Loop.Exhausted {
		return NodeFinalizeBudget, nil
	}
	return NodeDecide, nil
}

func AfterDecide(_ context.Context, in *GraphState) (string, error) {
	switch in.Pending.Kind {
	case contractx.DecisionFinalAnswer:
		return NodeRecordAnswer, nil
	case contractx.DecisionToolCall:
		return NodeDispatchTool, nil
	default:
		return "", fmt.Errorf("%w: unknown decision kind %q", contractx.ErrValidation, in.Pending.Kind)
	}
}
