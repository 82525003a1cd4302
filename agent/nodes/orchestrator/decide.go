package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	statex "github.com/tanpawarit/ticker-agent/agent/state"
)

// Decide asks the engine for the next action. Every call consumes one step.
func Decide(
	ctx context.Context,
	in *GraphState,
	engine contractx.DecisionEngine,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	in.Loop.Steps++
	decision, err := engine.Decide(ctx, contractx.DecisionRequest{
		Transcript:    statex.CloneTurns(in.Session.Turns),
		Preferences:   in.Session.Preferences,
		AllowTools:    in.AllowTools,
		Ticker:        in.Ticker,
		Days:          in.Days,
		StepsLeft:     contractx.MaxSteps - in.Loop.Steps + 1,
		ToolCallsLeft: contractx.MaxToolCalls - in.Loop.ToolCalls,
	})
	if err != nil {
		return nil, err
	}

	in.Pending = decision
	return in, nil
}

// RecordAnswer appends the final answer; this ends the loop.
func RecordAnswer(in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if in.Pending.Kind != contractx.DecisionFinalAnswer {
		return nil, fmt.Errorf("%w: pending decision is %q", contractx.ErrValidation, in.Pending.Kind)
	}

	in.Session.Append(statex.FinalAnswer(in.Pending.Answer))
	return in, nil
}
