package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	nodex "github.com/tanpawarit/ticker-agent/agent/nodes/orchestrator"
)

// Supersteps needed for validation, loading, MaxSteps loop iterations of
// check/decide/dispatch and the closing nodes, with headroom.
const maxRunSteps = 32

func (o *Orchestrator) compileRunGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode(nodex.NodeValidateRequest,
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, o.defaults, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeValidateRequest, err)
	}

	if err := graph.AddLambdaNode(nodex.NodeLoadSession,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadSession(ctx, in, o.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeLoadSession, err)
	}

	if err := graph.AddLambdaNode(nodex.NodeCheckBudget,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.CheckBudget(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeCheckBudget, err)
	}

	if err := graph.AddLambdaNode(nodex.NodeDecide,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Decide(ctx, in, o.engine)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeDecide, err)
	}

	if err := graph.AddLambdaNode(nodex.NodeDispatchTool,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.DispatchTool(ctx, in, o.tools)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeDispatchTool, err)
	}

	if err := graph.AddLambdaNode(nodex.NodeRecordAnswer,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RecordAnswer(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeRecordAnswer, err)
	}

	if err := graph.AddLambdaNode(nodex.NodeFinalizeBudget,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.FinalizeBudget(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeFinalizeBudget, err)
	}

	if err := graph.AddLambdaNode(nodex.NodeSaveSession,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.SaveSession(ctx, in, o.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeSaveSession, err)
	}

	if err := graph.AddLambdaNode(nodex.NodeRender,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.Render(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeRender, err)
	}

	edges := [][2]string{
		{compose.START, nodex.NodeValidateRequest},
		{nodex.NodeValidateRequest, nodex.NodeLoadSession},
		{nodex.NodeLoadSession, nodex.NodeCheckBudget},
		{nodex.NodeDispatchTool, nodex.NodeCheckBudget},
		{nodex.NodeRecordAnswer, nodex.NodeSaveSession},
		{nodex.NodeFinalizeBudget, nodex.NodeSaveSession},
		{nodex.NodeSaveSession, nodex.NodeRender},
		{nodex.NodeRender, compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	if err := graph.AddBranch(nodex.NodeCheckBudget, compose.NewGraphBranch(nodex.AfterBudget, map[string]bool{
		nodex.NodeDecide:         true,
		nodex.NodeFinalizeBudget: true,
	})); err != nil {
		return nil, fmt.Errorf("add branch %s: %w", nodex.NodeCheckBudget, err)
	}

	if err := graph.AddBranch(nodex.NodeDecide, compose.NewGraphBranch(nodex.AfterDecide, map[string]bool{
		nodex.NodeRecordAnswer: true,
		nodex.NodeDispatchTool: true,
	})); err != nil {
		return nil, fmt.Errorf("add branch %s: %w", nodex.NodeDecide, err)
	}

	runner, err := graph.Compile(ctx,
		compose.WithGraphName("orchestrator.run"),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
		compose.WithMaxRunSteps(maxRunSteps),
	)
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}
