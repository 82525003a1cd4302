package orchestratornode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	statex "github.com/tanpawarit/ticker-agent/agent/state"
)

var (
	ErrInvalidMessage = errors.New("query is empty")
	ErrInvalidTurns   = errors.New("client turns are invalid")
)

type GraphInput struct {
	Request contractx.AgentRequest
}

type GraphOutput struct {
	Session *statex.SessionState
	Pretty  string
	Loop    LoopState
}

// LoopState holds the per-request counters. It is never persisted.
type LoopState struct {
	Steps     int
	ToolCalls int
	Exhausted bool
}

type GraphState struct {
	SessionID    string
	Query        string
	Ticker       string
	Days         int
	Prefs        *statex.Preferences
	SeedTurns    []statex.Turn
	ContinueOnly bool
	AllowTools   bool
	Now          time.Time

	Session *statex.SessionState
	Loop    LoopState

	Pending contractx.Decision
}

// Defaults fill request fields the client left empty.
type Defaults struct {
	Ticker    string
	Days      int
	SessionID string
}

func (d Defaults) withFallbacks() Defaults {
	if strings.TrimSpace(d.Ticker) == "" {
		d.Ticker = contractx.DefaultTicker
	}
	if d.Days <= 0 {
		d.Days = contractx.DefaultDays
	}
	if strings.TrimSpace(d.SessionID) == "" {
		d.SessionID = contractx.DefaultSessionID
	}
	return d
}

func ValidateRequest(in GraphInput, defaults Defaults, nowFn func() time.Time) (*GraphState, error) {
	defaults = defaults.withFallbacks()
	req := in.Request

	query := strings.TrimSpace(req.Query)
	if query == "" && !req.ContinueOnly {
		return nil, ErrInvalidMessage
	}
	if err := statex.ValidateTurns(req.Turns); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTurns, err)
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = defaults.SessionID
	}
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker == "" {
		ticker = defaults.Ticker
	}
	days := req.Days
	if days <= 0 {
		days = defaults.Days
	}

	var prefs *statex.Preferences
	if req.Prefs != nil {
		normalized := req.Prefs.Normalize()
		prefs = &normalized
	}

	return &GraphState{
		SessionID:    sessionID,
		Query:        query,
		Ticker:       ticker,
		Days:         days,
		Prefs:        prefs,
		SeedTurns:    statex.CloneTurns(req.Turns),
		ContinueOnly: req.ContinueOnly,
		AllowTools:   req.ToolsAllowed(),
		Now:          nowFn().UTC(),
	}, nil
}
