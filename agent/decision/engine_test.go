package decision

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	llmx "github.com/tanpawarit/ticker-agent/agent/llm"
	statex "github.com/tanpawarit/ticker-agent/agent/state"
	retryx "github.com/tanpawarit/ticker-agent/pkg/retry"
)

type step struct {
	reply string
	err   error
}

// scriptedModel replays steps in order and repeats the last one.
type scriptedModel struct {
	mu      sync.Mutex
	steps   []step
	prompts []string
}

func (m *scriptedModel) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)
	i := min(len(m.prompts), len(m.steps)) - 1
	return m.steps[i].reply, m.steps[i].err
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

var fastRetry = retryx.Config{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}

func newEngine(t *testing.T, model contractx.Completer) *Engine {
	t.Helper()
	e, err := New(model, []string{"ticker_info(ticker, days): prices"}, Config{PromptCharBudget: 4000}, WithRetry(fastRetry))
	require.NoError(t, err)
	return e
}

func request(allowTools bool, turns ...statex.Turn) contractx.DecisionRequest {
	return contractx.DecisionRequest{
		Transcript:    turns,
		Preferences:   statex.Preferences{Tickers: []string{"MSFT"}},
		AllowTools:    allowTools,
		Ticker:        "AAPL",
		Days:          30,
		StepsLeft:     3,
		ToolCallsLeft: 6,
	}
}

func TestDecideFinalAnswer(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{steps: []step{{reply: "FINAL_ANSWER: flat"}}}
	d, err := newEngine(t, model).Decide(context.Background(), request(true, statex.UserQuery("Is AAPL up?")))
	require.NoError(t, err)

	assert.Equal(t, contractx.DecisionFinalAnswer, d.Kind)
	assert.Equal(t, "flat", d.Answer)
	assert.False(t, d.Degraded)
	require.Equal(t, 1, model.calls())
	assert.Contains(t, model.prompts[0], "USER: Is AAPL up?")
	assert.Contains(t, model.prompts[0], "- ticker_info(ticker, days): prices")
	assert.Contains(t, model.prompts[0], "preferred tickers: MSFT")
}

func TestDecideToolCall(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{steps: []step{{reply: "```\nFUNCTION_CALL: ticker_info|ticker=AAPL|days=30\n```"}}}
	d, err := newEngine(t, model).Decide(context.Background(), request(true, statex.UserQuery("q")))
	require.NoError(t, err)

	assert.Equal(t, contractx.DecisionToolCall, d.Kind)
	assert.Equal(t, "ticker_info", d.Invocation.Tool)
	assert.Equal(t, map[string]string{"ticker": "AAPL", "days": "30"}, d.Invocation.Args)
}

func TestDecideReformatsOnce(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{steps: []step{
		{reply: "Sure! Apple looks fine."},
		{reply: "FINAL_ANSWER: Apple is flat."},
	}}
	d, err := newEngine(t, model).Decide(context.Background(), request(true, statex.UserQuery("q")))
	require.NoError(t, err)

	assert.Equal(t, "Apple is flat.", d.Answer)
	require.Equal(t, 2, model.calls())
	assert.Contains(t, model.prompts[1], "could not be parsed")
	assert.Contains(t, model.prompts[1], "Sure! Apple looks fine.")
}

func TestDecideMalformedTwiceDegrades(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{steps: []step{{reply: "hello there"}}}
	d, err := newEngine(t, model).Decide(context.Background(), request(true, statex.UserQuery("q")))
	require.NoError(t, err)

	assert.Equal(t, contractx.DecisionFinalAnswer, d.Kind)
	assert.Equal(t, MalformedAnswer, d.Answer)
	assert.True(t, d.Degraded)
	assert.Equal(t, 2, model.calls())
}

func TestDecideToolCallWhileToolsDisabledIsMalformed(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{steps: []step{
		{reply: "FUNCTION_CALL: ticker_info|ticker=AAPL"},
		{reply: "FINAL_ANSWER: summary from transcript"},
	}}
	d, err := newEngine(t, model).Decide(context.Background(), request(false,
		statex.UserQuery("q"),
		statex.FinalAnswer("earlier answer"),
	))
	require.NoError(t, err)

	assert.Equal(t, contractx.DecisionFinalAnswer, d.Kind)
	assert.Equal(t, "summary from transcript", d.Answer)
	assert.Contains(t, model.prompts[0], "Tools are not available now")
	assert.NotContains(t, model.prompts[1], "FUNCTION_CALL: <tool_name>")
}

func TestDecideTransientFailuresDegrade(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{steps: []step{{err: llmx.ErrTransient}}}
	d, err := newEngine(t, model).Decide(context.Background(), request(true, statex.UserQuery("q")))
	require.NoError(t, err)

	assert.Equal(t, UnavailableAnswer, d.Answer)
	assert.True(t, d.Degraded)
	assert.Equal(t, 3, model.calls())
}

func TestDecideRecoversAfterTransientFailure(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{steps: []step{
		{err: llmx.ErrTransient},
		{reply: "FINAL_ANSWER: recovered"},
	}}
	d, err := newEngine(t, model).Decide(context.Background(), request(true, statex.UserQuery("q")))
	require.NoError(t, err)

	assert.Equal(t, "recovered", d.Answer)
	assert.False(t, d.Degraded)
}

func TestDecidePermanentFailureDegradesWithoutRetry(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{steps: []step{{err: errors.New("status code: 401")}}}
	d, err := newEngine(t, model).Decide(context.Background(), request(true, statex.UserQuery("q")))
	require.NoError(t, err)

	assert.True(t, d.Degraded)
	assert.Equal(t, 1, model.calls())
}

func TestDecideCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &scriptedModel{steps: []step{{reply: "FINAL_ANSWER: x"}}}
	_, err := newEngine(t, model).Decide(ctx, request(true, statex.UserQuery("q")))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, model.calls())
}

func TestNewRequiresModel(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, Config{})
	assert.ErrorIs(t, err, contractx.ErrValidation)
}

func TestRenderHistoryTruncatesOldToolResultsFirst(t *testing.T) {
	t.Parallel()

	bulky := strings.Repeat("x", 3000)
	turns := []statex.Turn{
		statex.UserQuery("first question"),
		statex.ToolCall("ticker_info", map[string]string{"ticker": "AAPL"}),
		statex.ToolResultTurn("ticker_info", true, bulky, ""),
		statex.FinalAnswer("first answer"),
		statex.UserQuery("second question"),
		statex.ToolCall("news_vs_price", map[string]string{"ticker": "AAPL"}),
		statex.ToolResultTurn("news_vs_price", true, bulky, ""),
	}

	out := renderHistory(turns, 4000)

	assert.Contains(t, out, "USER: first question")
	assert.Contains(t, out, "ASSISTANT: first answer")
	assert.Contains(t, out, "USER: second question")
	assert.Contains(t, out, "TOOL_CALL: ticker_info|ticker=AAPL")
	assert.Contains(t, out, "TOOL_RESULT ticker_info (ok):\n"+strings.Repeat("x", shortPayload)+truncatedMark)
	assert.Contains(t, out, "TOOL_RESULT news_vs_price (ok):\n"+bulky, "latest turns stay whole")
}

func TestRenderHistoryDropsPayloadsWhenStillOverBudget(t *testing.T) {
	t.Parallel()

	turns := []statex.Turn{
		statex.UserQuery("q"),
		statex.ToolCall("ticker_info", nil),
		statex.ToolResultTurn("ticker_info", false, "", strings.Repeat("e", 500)),
		statex.FinalAnswer("a"),
		statex.UserQuery("q2"),
	}

	out := renderHistory(turns, 50)
	assert.Contains(t, out, "TOOL_RESULT ticker_info (error): "+truncatedMark)
	assert.Contains(t, out, "ASSISTANT: a")
}

func TestToolCountsSinceLatestQuery(t *testing.T) {
	t.Parallel()

	turns := []statex.Turn{
		statex.UserQuery("old"),
		statex.ToolCall("ticker_info", nil),
		statex.ToolResultTurn("ticker_info", true, "ok", ""),
		statex.UserQuery("new"),
		statex.ToolCall("news_vs_price", nil),
		statex.ToolResultTurn("news_vs_price", true, "ok", ""),
		statex.ToolCall("news_vs_price", nil),
		statex.ToolResultTurn("news_vs_price", true, "ok", ""),
		statex.ToolCall("ticker_info", nil),
	}

	assert.Equal(t, "news_vs_price=2, ticker_info=1", toolCounts(turns))
	assert.Equal(t, "none", toolCounts(nil))
	assert.Equal(t, "new", latestQuery(turns))
}
