package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	statex "github.com/tanpawarit/ticker-agent/agent/state"
)

// LoadSession loads or creates the session, applies request preferences and
// client-held turns, then appends the user query unless continuing.
func LoadSession(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	st, err := LoadOrCreate(ctx, store, in.SessionID, in.Now)
	if err != nil {
		return nil, err
	}

	if in.Prefs != nil {
		st.Preferences = *in.Prefs
	}
	if len(st.Turns) == 0 && len(in.SeedTurns) > 0 {
		st.Append(in.SeedTurns...)
	}
	if !in.ContinueOnly {
		st.Append(statex.UserQuery(in.Query))
	}

	in.Session = st
	return in, nil
}

// LoadOrCreate returns the stored session or a fresh one for an unseen id.
func LoadOrCreate(
	ctx context.Context,
	store statex.Store,
	sessionID string,
	now time.Time,
) (*statex.SessionState, error) {
	st, err := store.Load(ctx, sessionID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, statex.ErrStateNotFound) {
		return nil, fmt.Errorf("%w: load %s: %w", contractx.ErrSessionStorage, sessionID, err)
	}

	return statex.NewSessionState(sessionID, now), nil
}
