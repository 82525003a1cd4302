package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	orchestratorx "github.com/tanpawarit/ticker-agent/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	statex "github.com/tanpawarit/ticker-agent/agent/state"
)

type fakeAgent struct {
	block    bool
	runErr   error
	clearErr error
	lastReq  contractx.AgentRequest
	runs     int
	cleared  string
}

func (f *fakeAgent) Run(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResponse, error) {
	f.runs++
	f.lastReq = req
	if f.block {
		<-ctx.Done()
		return contractx.AgentResponse{}, ctx.Err()
	}
	if f.runErr != nil {
		return contractx.AgentResponse{}, f.runErr
	}
	turns := []statex.Turn{statex.UserQuery(req.Query), statex.FinalAnswer("flat")}
	return contractx.AgentResponse{Turns: turns, Pretty: "# Agent Transcript"}, nil
}

func (f *fakeAgent) Session(ctx context.Context, id string) (contractx.AgentResponse, error) {
	return contractx.AgentResponse{Turns: []statex.Turn{statex.UserQuery("q:" + id)}}, nil
}

func (f *fakeAgent) ClearSession(ctx context.Context, id string) error {
	f.cleared = id
	return f.clearErr
}

func newTestServer(t *testing.T, agent Agent) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewRouter(Config{CORSOrigins: []string{"*"}, MaxBodyBytes: 1 << 10}, zerolog.Nop(), agent))
	t.Cleanup(server.Close)
	return server
}

func post(t *testing.T, server *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(server.URL+"/agent", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /agent error = %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRunReturnsTurns(t *testing.T) {
	t.Parallel()

	agent := &fakeAgent{}
	server := newTestServer(t, agent)

	resp := post(t, server, `{"query":"Is AAPL up?","ticker":"aapl","days":7,"session_id":"s1","prefs":{"tickers":["msft"]},"allow_tools":false,"extra":1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Turns  []map[string]any `json:"turns"`
		Pretty string           `json:"pretty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Turns) != 2 || body.Turns[1]["kind"] != "final_answer" || body.Turns[1]["content"] != "flat" {
		t.Fatalf("unexpected turns: %+v", body.Turns)
	}
	if body.Pretty != "# Agent Transcript" {
		t.Fatalf("unexpected pretty: %q", body.Pretty)
	}

	req := agent.lastReq
	if req.SessionID != "s1" || req.Days != 7 || req.Prefs == nil || req.ToolsAllowed() {
		t.Fatalf("request not decoded as sent: %+v", req)
	}
}

func TestRunBadRequests(t *testing.T) {
	t.Parallel()

	agent := &fakeAgent{}
	server := newTestServer(t, agent)

	for name, body := range map[string]string{
		"invalid json": `{"query":`,
		"empty query":  `{"query":"   "}`,
	} {
		resp := post(t, server, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}
	if agent.runs != 0 {
		t.Fatalf("agent must not run for bad requests, runs=%d", agent.runs)
	}

	resp := post(t, server, `{"query":"`+strings.Repeat("x", 2<<10)+`"}`)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: status = %d", resp.StatusCode)
	}
}

func TestRunContinueOnlyWithoutQuery(t *testing.T) {
	t.Parallel()

	agent := &fakeAgent{}
	server := newTestServer(t, agent)

	resp := post(t, server, `{"session_id":"s1","continue_only":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !agent.lastReq.ContinueOnly {
		t.Fatal("continue_only not forwarded")
	}
}

func TestRunErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: disk", contractx.ErrSessionStorage), http.StatusInternalServerError},
		{fmt.Errorf("%w: bad pairing", orchestratorx.ErrInvalidTurns), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
		{fmt.Errorf("upstream: %w", context.DeadlineExceeded), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		server := newTestServer(t, &fakeAgent{runErr: tc.err})
		resp := post(t, server, `{"query":"q"}`)
		if resp.StatusCode != tc.want {
			t.Fatalf("%v: status = %d, want %d", tc.err, resp.StatusCode, tc.want)
		}
	}
}

func TestRunTimeoutAnsweredByMiddleware(t *testing.T) {
	t.Parallel()

	router := NewRouter(Config{RequestTimeout: 20 * time.Millisecond, MaxBodyBytes: 1 << 10}, zerolog.Nop(), &fakeAgent{block: true})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	resp := post(t, server, `{"query":"q"}`)
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusGatewayTimeout)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("handler must leave the timeout response to the middleware, got %q", body)
	}
}

func TestSessionRoutes(t *testing.T) {
	t.Parallel()

	agent := &fakeAgent{}
	server := newTestServer(t, agent)

	resp, err := http.Get(server.URL + "/agent/sessions/abc")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/agent/sessions/abc", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent || agent.cleared != "abc" {
		t.Fatalf("DELETE status = %d cleared=%q", delResp.StatusCode, agent.cleared)
	}
}

func TestHealthAndTools(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakeAgent{})

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/agent/tools")
	if err != nil {
		t.Fatalf("GET /agent/tools error = %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Tools) != 3 {
		t.Fatalf("expected 3 tools, got %+v", body.Tools)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakeAgent{})

	req, _ := http.NewRequest(http.MethodOptions, server.URL+"/agent", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow origin = %q", got)
	}
}
