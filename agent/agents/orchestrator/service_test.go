package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	statex "github.com/tanpawarit/ticker-agent/agent/state"
	toolx "github.com/tanpawarit/ticker-agent/agent/tool"
	marketx "github.com/tanpawarit/ticker-agent/pkg/market"
	retryx "github.com/tanpawarit/ticker-agent/pkg/retry"
)

type fakeStore struct {
	mu      sync.Mutex
	inner   *statex.MemoryStore
	saveErr error
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{inner: statex.NewMemoryStore()}
}

func (f *fakeStore) Load(ctx context.Context, sessionID string) (*statex.SessionState, error) {
	return f.inner.Load(ctx, sessionID)
}

func (f *fakeStore) Save(ctx context.Context, st *statex.SessionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	return f.inner.Save(ctx, st)
}

func (f *fakeStore) Delete(ctx context.Context, sessionID string) error {
	return f.inner.Delete(ctx, sessionID)
}

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// fakeEngine replays decisions in order and repeats the last one.
type fakeEngine struct {
	mu        sync.Mutex
	decisions []contractx.Decision
	requests  []contractx.DecisionRequest
	onDecide  func()
}

func (f *fakeEngine) Decide(ctx context.Context, req contractx.DecisionRequest) (contractx.Decision, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	i := min(len(f.requests), len(f.decisions)) - 1
	hook := f.onDecide
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return f.decisions[i], nil
}

func (f *fakeEngine) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeMarket struct {
	seriesErr error
	mu        sync.Mutex
	calls     int
}

func (f *fakeMarket) Series(ctx context.Context, ticker string, days int) ([]marketx.PricePoint, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.seriesErr != nil {
		return nil, f.seriesErr
	}
	return []marketx.PricePoint{
		{Date: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), Close: 100},
		{Date: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), Close: 101},
	}, nil
}

func (f *fakeMarket) Headlines(ctx context.Context, ticker string, days int) ([]marketx.Headline, error) {
	return nil, nil
}

func newTestOrchestrator(t *testing.T, store statex.Store, engine contractx.DecisionEngine, market *fakeMarket) *Orchestrator {
	t.Helper()

	fast := retryx.Config{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}
	tools, err := toolx.NewRegistry(market, market, nil, toolx.WithDataRetry(fast), toolx.WithModelRetry(fast))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	o, err := New(store, engine, tools, Config{DefaultTicker: "AAPL", DefaultDays: 30, DefaultSessionID: "default"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	o.now = func() time.Time { return time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC) }
	return o
}

func tickerInfoCall() contractx.Decision {
	return contractx.CallTool(contractx.ToolInvocation{
		Tool: toolx.ToolTickerInfo,
		Args: map[string]string{"ticker": "AAPL", "days": "30"},
	})
}

func kinds(turns []statex.Turn) string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = string(t.Kind)
	}
	return strings.Join(out, ",")
}

func assertPaired(t *testing.T, turns []statex.Turn) {
	t.Helper()
	if err := statex.ValidateTurns(turns); err != nil {
		t.Fatalf("turn pairing violated: %v", err)
	}
}

func TestRunRejectsEmptyQuery(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := &fakeEngine{decisions: []contractx.Decision{contractx.Answer("x")}}
	o := newTestOrchestrator(t, store, engine, &fakeMarket{})

	_, err := o.Run(context.Background(), contractx.AgentRequest{Query: "   "})
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if engine.calls() != 0 || store.saveCount() != 0 {
		t.Fatalf("invalid request must not decide or save")
	}
}

func TestRunImmediateFinalAnswer(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := &fakeEngine{decisions: []contractx.Decision{contractx.Answer("flat")}}
	o := newTestOrchestrator(t, store, engine, &fakeMarket{})

	resp, err := o.Run(context.Background(), contractx.AgentRequest{Query: "Is AAPL up?", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := kinds(resp.Turns); got != "user_query,final_answer" {
		t.Fatalf("unexpected turns: %s", got)
	}
	if resp.Turns[1].Content != "flat" {
		t.Fatalf("unexpected answer: %q", resp.Turns[1].Content)
	}
	if !strings.HasPrefix(resp.Pretty, "# Agent Transcript") || !strings.Contains(resp.Pretty, "**Assistant:** flat") {
		t.Fatalf("unexpected pretty output:\n%s", resp.Pretty)
	}
	if store.saveCount() != 1 {
		t.Fatalf("expected one save, got %d", store.saveCount())
	}

	saved, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if kinds(saved.Turns) != kinds(resp.Turns) {
		t.Fatalf("persisted turns differ: %s", kinds(saved.Turns))
	}
}

func TestRunSingleToolCall(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := &fakeEngine{decisions: []contractx.Decision{tickerInfoCall(), contractx.Answer("AAPL is up 1%.")}}
	o := newTestOrchestrator(t, store, engine, &fakeMarket{})

	resp, err := o.Run(context.Background(), contractx.AgentRequest{Query: "How is AAPL?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := kinds(resp.Turns); got != "user_query,tool_call,tool_result,final_answer" {
		t.Fatalf("unexpected turns: %s", got)
	}
	assertPaired(t, resp.Turns)
	if !resp.Turns[2].Succeeded() || !strings.Contains(resp.Turns[2].Content, "AAPL Price Info") {
		t.Fatalf("unexpected tool result: %+v", resp.Turns[2])
	}

	second := engine.requests[1]
	if second.StepsLeft != 2 || second.ToolCallsLeft != 5 {
		t.Fatalf("unexpected budget hints: steps=%d tools=%d", second.StepsLeft, second.ToolCallsLeft)
	}
	if _, err := store.Load(context.Background(), contractx.DefaultSessionID); err != nil {
		t.Fatalf("default session not saved: %v", err)
	}
}

func TestRunStopsAtStepBudget(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := &fakeEngine{decisions: []contractx.Decision{tickerInfoCall()}}
	market := &fakeMarket{}
	o := newTestOrchestrator(t, store, engine, market)

	resp, err := o.Run(context.Background(), contractx.AgentRequest{Query: "keep going"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if engine.calls() != contractx.MaxSteps {
		t.Fatalf("expected %d decisions, got %d", contractx.MaxSteps, engine.calls())
	}
	want := "user_query," + strings.Repeat("tool_call,tool_result,", contractx.MaxSteps) + "final_answer"
	if got := kinds(resp.Turns); got != want {
		t.Fatalf("unexpected turns: %s", got)
	}
	assertPaired(t, resp.Turns)

	final := resp.Turns[len(resp.Turns)-1].Content
	if !strings.Contains(final, "analysis limit") || !strings.Contains(final, "ticker_info:") {
		t.Fatalf("unexpected budget answer: %q", final)
	}
	if store.saveCount() != 1 {
		t.Fatalf("expected one save, got %d", store.saveCount())
	}
}

func TestRunUnknownToolIsRejectedBeforeDispatch(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{decisions: []contractx.Decision{
		contractx.CallTool(contractx.ToolInvocation{Tool: "delete_everything"}),
		contractx.Answer("I cannot do that."),
	}}
	market := &fakeMarket{}
	o := newTestOrchestrator(t, newFakeStore(), engine, market)

	resp, err := o.Run(context.Background(), contractx.AgentRequest{Query: "wipe it"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := kinds(resp.Turns); got != "user_query,tool_result,final_answer" {
		t.Fatalf("unexpected turns: %s", got)
	}
	result := resp.Turns[1]
	if result.Succeeded() || result.ToolName != "delete_everything" || !strings.Contains(result.Error, "unknown tool") {
		t.Fatalf("unexpected rejection turn: %+v", result)
	}
	if engine.requests[1].ToolCallsLeft != contractx.MaxToolCalls {
		t.Fatal("rejected invocation must not consume the tool-call budget")
	}
	if market.calls != 0 {
		t.Fatal("no data source should be reached")
	}
}

func TestRunUnknownSymbolBecomesFailedResult(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{decisions: []contractx.Decision{
		contractx.CallTool(contractx.ToolInvocation{Tool: toolx.ToolTickerInfo, Args: map[string]string{"ticker": "ZZZZ"}}),
		contractx.Answer("ZZZZ was not found."),
	}}
	o := newTestOrchestrator(t, newFakeStore(), engine, &fakeMarket{seriesErr: marketx.ErrSymbolNotFound})

	resp, err := o.Run(context.Background(), contractx.AgentRequest{Query: "ZZZZ?", Ticker: "ZZZZ"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := kinds(resp.Turns); got != "user_query,tool_call,tool_result,final_answer" {
		t.Fatalf("unexpected turns: %s", got)
	}
	result := resp.Turns[2]
	if result.Succeeded() || !strings.Contains(result.Error, "ZZZZ") || !strings.Contains(result.Error, "not found") {
		t.Fatalf("unexpected result: %+v", result)
	}
	if resp.Turns[1].Args["days"] != "30" {
		t.Fatalf("days default not filled: %+v", resp.Turns[1].Args)
	}
}

func TestRunContinueOnlyNeverCallsTools(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	prior := statex.NewSessionState("s1", time.Now())
	prior.Append(
		statex.UserQuery("How is AAPL?"),
		statex.ToolCall("ticker_info", map[string]string{"ticker": "AAPL"}),
		statex.ToolResultTurn("ticker_info", true, "AAPL Price Info", ""),
	)
	if err := store.Save(context.Background(), prior); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	engine := &fakeEngine{decisions: []contractx.Decision{tickerInfoCall(), contractx.Answer("Summary.")}}
	o := newTestOrchestrator(t, store, engine, &fakeMarket{})

	resp, err := o.Run(context.Background(), contractx.AgentRequest{SessionID: "s1", ContinueOnly: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := kinds(resp.Turns); got != "user_query,tool_call,tool_result,tool_result,final_answer" {
		t.Fatalf("unexpected turns: %s", got)
	}
	if !strings.Contains(resp.Turns[3].Error, contractx.ErrToolsDisabled.Error()) {
		t.Fatalf("expected tools-disabled rejection, got %+v", resp.Turns[3])
	}
	for _, req := range engine.requests {
		if req.AllowTools {
			t.Fatal("continue_only must disallow tools")
		}
	}
}

func TestRunAppliesPreferencesAndSeedsTurns(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := &fakeEngine{decisions: []contractx.Decision{contractx.Answer("ok")}}
	o := newTestOrchestrator(t, store, engine, &fakeMarket{})

	_, err := o.Run(context.Background(), contractx.AgentRequest{
		Query:     "and now?",
		SessionID: "s2",
		Prefs:     &statex.Preferences{Tickers: []string{"msft", "MSFT", "nvda"}},
		Turns:     []statex.Turn{statex.UserQuery("earlier"), statex.FinalAnswer("earlier answer")},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	req := engine.requests[0]
	if got := strings.Join(req.Preferences.Tickers, ","); got != "MSFT,NVDA" {
		t.Fatalf("unexpected preferences: %s", got)
	}
	if got := kinds(req.Transcript); got != "user_query,final_answer,user_query" {
		t.Fatalf("unexpected seeded transcript: %s", got)
	}
}

func TestRunCanceledDoesNotPersist(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newFakeStore()
	engine := &fakeEngine{decisions: []contractx.Decision{tickerInfoCall()}, onDecide: cancel}
	o := newTestOrchestrator(t, store, engine, &fakeMarket{})

	_, err := o.Run(ctx, contractx.AgentRequest{Query: "q", SessionID: "s3"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.saveCount() != 0 {
		t.Fatalf("canceled run must not persist, saves=%d", store.saveCount())
	}
	if engine.calls() != 1 {
		t.Fatalf("loop must stop after cancellation, decisions=%d", engine.calls())
	}
}

func TestRunStorageFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.saveErr = errors.New("disk full")
	engine := &fakeEngine{decisions: []contractx.Decision{contractx.Answer("flat")}}
	o := newTestOrchestrator(t, store, engine, &fakeMarket{})

	_, err := o.Run(context.Background(), contractx.AgentRequest{Query: "q"})
	if !errors.Is(err, contractx.ErrSessionStorage) {
		t.Fatalf("expected ErrSessionStorage, got %v", err)
	}
}

func TestRunSerializesSameSession(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := &fakeEngine{decisions: []contractx.Decision{contractx.Answer("done")}}
	o := newTestOrchestrator(t, store, engine, &fakeMarket{})

	const runs = 5
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Run(context.Background(), contractx.AgentRequest{Query: "q", SessionID: "shared"}); err != nil {
				t.Errorf("Run() error = %v", err)
			}
		}()
	}
	wg.Wait()

	st, err := store.Load(context.Background(), "shared")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(st.Turns) != runs*2 {
		t.Fatalf("expected %d turns, got %d: lost update", runs*2, len(st.Turns))
	}
	if st.Version != runs {
		t.Fatalf("expected version %d, got %d", runs, st.Version)
	}
}

func TestSessionAndClear(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := &fakeEngine{decisions: []contractx.Decision{contractx.Answer("flat")}}
	o := newTestOrchestrator(t, store, engine, &fakeMarket{})

	empty, err := o.Session(context.Background(), "s4")
	if err != nil || len(empty.Turns) != 0 {
		t.Fatalf("unseen session = %+v, %v", empty, err)
	}

	if _, err := o.Run(context.Background(), contractx.AgentRequest{Query: "q", SessionID: "s4"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got, err := o.Session(context.Background(), "s4")
	if err != nil || len(got.Turns) != 2 {
		t.Fatalf("Session() = %+v, %v", got, err)
	}

	if err := o.ClearSession(context.Background(), "s4"); err != nil {
		t.Fatalf("ClearSession() error = %v", err)
	}
	if _, err := store.Load(context.Background(), "s4"); !errors.Is(err, statex.ErrStateNotFound) {
		t.Fatalf("session not cleared: %v", err)
	}
}
