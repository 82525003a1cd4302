package orchestratornode

import (
	"context"
	"fmt"
	"strconv"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
)

// DispatchTool runs the pending invocation. Rejected invocations leave a
// failed tool_result without a tool_call and do not count against the
// tool-call budget.
func DispatchTool(
	ctx context.Context,
	in *GraphState,
	tools contractx.ToolRegistry,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if in.Pending.Kind != contractx.DecisionToolCall {
		return nil, fmt.Errorf("%w: pending decision is %q", contractx.ErrValidation, in.Pending.Kind)
	}

	inv := withRequestDefaults(tools, in.Pending.Invocation, in.Ticker, in.Days)

	if !in.AllowTools {
		in.Session.Append(contractx.ToolFailure(inv.Tool, contractx.ErrToolsDisabled).Turn())
		return in, nil
	}
	if err := tools.Validate(inv); err != nil {
		in.Session.Append(contractx.ToolFailure(inv.Tool, err).Turn())
		return in, nil
	}

	result := tools.Dispatch(ctx, inv)
	in.Session.Append(inv.Turn(), result.Turn())
	in.Loop.ToolCalls++
	return in, nil
}

// withRequestDefaults fills ticker and days from the request when the model
// omitted them and the tool takes them.
func withRequestDefaults(
	tools contractx.ToolRegistry,
	inv contractx.ToolInvocation,
	ticker string,
	days int,
) contractx.ToolInvocation {
	required, optional, err := tools.Schema(inv.Tool)
	if err != nil {
		return inv
	}
	params := make(map[string]bool, len(required)+len(optional))
	for _, p := range append(required, optional...) {
		params[p] = true
	}

	args := make(map[string]string, len(inv.Args)+2)
	for k, v := range inv.Args {
		args[k] = v
	}
	if params["ticker"] && inv.Arg("ticker") == "" && ticker != "" {
		args["ticker"] = ticker
	}
	if params["days"] && inv.Arg("days") == "" && days > 0 {
		args["days"] = strconv.Itoa(days)
	}
	return contractx.ToolInvocation{Tool: inv.Tool, Args: args}
}
