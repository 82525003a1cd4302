package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	statex "github.com/tanpawarit/ticker-agent/agent/state"
)

func budgetExhausted(loop LoopState) bool {
	return loop.Steps >= contractx.MaxSteps || loop.ToolCalls >= contractx.MaxToolCalls
}

// CheckBudget runs before every decision. A done context stops the loop
// without persisting anything.
func CheckBudget(ctx context.Context, in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in.Loop.Exhausted = budgetExhausted(in.Loop)
	return in, nil
}

// FinalizeBudget closes a loop that ran out of steps or tool calls with a
// deterministic summary of what was gathered since the latest user query.
func FinalizeBudget(in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	in.Session.Append(statex.FinalAnswer(budgetSummary(in.Session.Turns, in.Loop)))
	return in, nil
}

const summaryLinesPerResult = 3

func budgetSummary(turns []statex.Turn, loop LoopState) string {
	start := 0
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Kind == statex.TurnUserQuery {
			start = i + 1
			break
		}
	}

	var findings []string
	for _, t := range turns[start:] {
		if t.Kind != statex.TurnToolResult || !t.Succeeded() {
			continue
		}
		lines := strings.Split(strings.TrimSpace(t.Content), "\n")
		if len(lines) > summaryLinesPerResult {
			lines = lines[:summaryLinesPerResult]
		}
		findings = append(findings, fmt.Sprintf("- %s: %s", t.ToolName, strings.Join(lines, " ")))
	}

	limit := fmt.Sprintf("%d decisions and %d tool calls", loop.Steps, loop.ToolCalls)
	if len(findings) == 0 {
		return fmt.Sprintf("I reached the analysis limit for this request (%s) before gathering any data. Please narrow the question or try again.", limit)
	}
	return fmt.Sprintf("I reached the analysis limit for this request (%s). Findings so far:\n%s", limit, strings.Join(findings, "\n"))
}
