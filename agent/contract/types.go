package contract

import (
	"sort"
	"strings"

	statex "github.com/tanpawarit/ticker-agent/agent/state"
)

type AgentType string

const (
	AgentTypeOrchestrator AgentType = "orchestrator"
	AgentTypePlanner      AgentType = "planner"
	AgentTypeSummarizer   AgentType = "summarizer"
)

// Loop budgets. They are part of the protocol and not configurable.
const (
	MaxSteps     = 3
	MaxToolCalls = 6
)

const (
	DefaultTicker    = "AAPL"
	DefaultDays      = 30
	DefaultSessionID = "default"
)

type ToolInvocation struct {
	Tool string            `json:"tool"`
	Args map[string]string `json:"args,omitempty"`
}

// Arg returns the trimmed argument value.
func (i ToolInvocation) Arg(name string) string {
	return strings.TrimSpace(i.Args[name])
}

// String renders the invocation in decision protocol form with sorted keys.
func (i ToolInvocation) String() string {
	keys := make([]string, 0, len(i.Args))
	for k := range i.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(i.Tool)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(i.Args[k])
	}
	return b.String()
}

func (i ToolInvocation) Turn() statex.Turn {
	return statex.ToolCall(i.Tool, i.Args)
}

type ToolResult struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (r ToolResult) Turn() statex.Turn {
	return statex.ToolResultTurn(r.Tool, r.Success, r.Output, r.Error)
}

func ToolFailure(tool string, err error) ToolResult {
	return ToolResult{Tool: tool, Success: false, Error: err.Error()}
}

type DecisionKind string

const (
	DecisionToolCall    DecisionKind = "tool_call"
	DecisionFinalAnswer DecisionKind = "final_answer"
)

type Decision struct {
	Kind       DecisionKind
	Invocation ToolInvocation
	Answer     string

	// Degraded marks answers synthesized after malformed output or an
	// upstream outage rather than produced by the model.
	Degraded bool
}

func CallTool(inv ToolInvocation) Decision {
	return Decision{Kind: DecisionToolCall, Invocation: inv}
}

func Answer(text string) Decision {
	return Decision{Kind: DecisionFinalAnswer, Answer: text}
}

type DecisionRequest struct {
	Transcript  []statex.Turn
	Preferences statex.Preferences
	AllowTools  bool
	Ticker      string
	Days        int

	// Remaining loop budget, shown to the model.
	StepsLeft     int
	ToolCallsLeft int
}

// AgentRequest is the body of POST /agent.
type AgentRequest struct {
	Query        string              `json:"query"`
	Ticker       string              `json:"ticker"`
	Days         int                 `json:"days"`
	Prefs        *statex.Preferences `json:"prefs,omitempty"`
	SessionID    string              `json:"session_id"`
	Turns        []statex.Turn       `json:"turns,omitempty"`
	ContinueOnly bool                `json:"continue_only,omitempty"`
	AllowTools   *bool               `json:"allow_tools,omitempty"`
}

// ToolsAllowed reports whether the loop may dispatch tools for this request.
func (r AgentRequest) ToolsAllowed() bool {
	if r.ContinueOnly {
		return false
	}
	return r.AllowTools == nil || *r.AllowTools
}

type AgentResponse struct {
	Turns  []statex.Turn `json:"turns"`
	Pretty string        `json:"pretty"`
}
