package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type TurnKind string

const (
	TurnUserQuery   TurnKind = "user_query"
	TurnToolCall    TurnKind = "tool_call"
	TurnToolResult  TurnKind = "tool_result"
	TurnFinalAnswer TurnKind = "final_answer"
)

// Turn is one transcript step. Its position in SessionState.Turns is its
// sequence number; turns carry no timestamps.
type Turn struct {
	Kind     TurnKind          `json:"kind"`
	ToolName string            `json:"tool_name,omitempty"`
	Content  string            `json:"content,omitempty"`
	Args     map[string]string `json:"args,omitempty"`
	Success  *bool             `json:"success,omitempty"` // tool_result only
	Error    string            `json:"error,omitempty"`
}

func UserQuery(text string) Turn {
	return Turn{Kind: TurnUserQuery, Content: text}
}

func ToolCall(tool string, args map[string]string) Turn {
	return Turn{Kind: TurnToolCall, ToolName: tool, Args: cloneArgs(args)}
}

func ToolResultTurn(tool string, success bool, output string, errText string) Turn {
	ok := success
	return Turn{Kind: TurnToolResult, ToolName: tool, Content: output, Success: &ok, Error: errText}
}

func FinalAnswer(text string) Turn {
	return Turn{Kind: TurnFinalAnswer, Content: text}
}

// Succeeded reports whether a tool_result turn carries a successful payload.
func (t Turn) Succeeded() bool {
	return t.Kind == TurnToolResult && t.Success != nil && *t.Success
}

func (t Turn) Clone() Turn {
	out := t
	out.Args = cloneArgs(t.Args)
	if t.Success != nil {
		ok := *t.Success
		out.Success = &ok
	}
	return out
}

type Preferences struct {
	Tickers []string `json:"tickers,omitempty"`
}

// Normalize upper-cases and de-duplicates tickers, keeping first-seen order.
func (p Preferences) Normalize() Preferences {
	if len(p.Tickers) == 0 {
		return Preferences{}
	}
	seen := make(map[string]struct{}, len(p.Tickers))
	out := make([]string, 0, len(p.Tickers))
	for _, raw := range p.Tickers {
		ticker := strings.ToUpper(strings.TrimSpace(raw))
		if ticker == "" {
			continue
		}
		if _, ok := seen[ticker]; ok {
			continue
		}
		seen[ticker] = struct{}{}
		out = append(out, ticker)
	}
	return Preferences{Tickers: out}
}

// SessionState is the persisted conversation for one session id.
type SessionState struct {
	SessionID   string      `json:"session_id"`
	Turns       []Turn      `json:"turns"`
	Preferences Preferences `json:"preferences"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrUnknownTurnKind  = errors.New("unknown turn kind")
	ErrUnpairedToolCall = errors.New("tool_call is not followed by its tool_result")
)

func NewSessionState(sessionID string, now time.Time) *SessionState {
	return &SessionState{
		SessionID: sessionID,
		Turns:     make([]Turn, 0, 8),
		UpdatedAt: now.UTC(),
	}
}

func (s *SessionState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

func (s *SessionState) Append(turns ...Turn) {
	for _, t := range turns {
		s.Turns = append(s.Turns, t.Clone())
	}
}

func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.Turns = CloneTurns(s.Turns)
	out.Preferences = Preferences{Tickers: append([]string(nil), s.Preferences.Tickers...)}
	return &out
}

func (s *SessionState) Validate() error {
	if s == nil {
		return ErrNilSessionState
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return ErrInvalidSession
	}
	return ValidateTurns(s.Turns)
}

// ValidateTurns checks turn kinds and that every tool_call is immediately
// followed by a tool_result for the same tool.
func ValidateTurns(turns []Turn) error {
	for i, t := range turns {
		switch t.Kind {
		case TurnUserQuery, TurnToolResult, TurnFinalAnswer:
		case TurnToolCall:
			if i+1 >= len(turns) {
				return fmt.Errorf("%w: index=%d tool=%s", ErrUnpairedToolCall, i, t.ToolName)
			}
			next := turns[i+1]
			if next.Kind != TurnToolResult || next.ToolName != t.ToolName {
				return fmt.Errorf("%w: index=%d tool=%s", ErrUnpairedToolCall, i, t.ToolName)
			}
		default:
			return fmt.Errorf("%w: index=%d kind=%q", ErrUnknownTurnKind, i, t.Kind)
		}
	}
	return nil
}

func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return []Turn{}
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}

func cloneArgs(args map[string]string) map[string]string {
	if args == nil {
		return nil
	}
	out := make(map[string]string, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
