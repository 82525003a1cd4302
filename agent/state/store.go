package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrStateNotFound   = errors.New("session state not found")
	ErrNilSessionState = errors.New("session state is nil")
	ErrInvalidSession  = errors.New("session id is empty")
	ErrCorruptSession  = errors.New("stored session is corrupt")
)

// Store is the persistence contract used by the orchestrator. Load returns
// ErrStateNotFound for ids that were never saved or were deleted, and
// ErrCorruptSession when the stored document no longer decodes into a valid
// transcript.
type Store interface {
	Load(ctx context.Context, sessionID string) (*SessionState, error)
	Save(ctx context.Context, st *SessionState) error
	Delete(ctx context.Context, sessionID string) error
}

func checkSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	return nil
}

// prepareSave rejects unsaveable sessions and stamps the version and
// timestamp every backend writes.
func prepareSave(st *SessionState) error {
	if st == nil {
		return ErrNilSessionState
	}
	if err := checkSessionID(st.SessionID); err != nil {
		return err
	}
	if st.Version <= 0 {
		st.Version = 1
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return nil
}

func decodeField(sessionID, field string, raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: session %s %s: %w", ErrCorruptSession, sessionID, field, err)
	}
	return nil
}

// restoreSession is the last step of every Load. A stored transcript with
// unknown kinds or an unpaired tool_call fails here, whichever backend held it.
func restoreSession(sessionID string, st *SessionState) (*SessionState, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: session %s is empty", ErrCorruptSession, sessionID)
	}
	if st.SessionID != sessionID {
		return nil, fmt.Errorf("%w: session %s stored under id %q", ErrCorruptSession, sessionID, st.SessionID)
	}
	if st.Turns == nil {
		st.Turns = []Turn{}
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("%w: session %s: %w", ErrCorruptSession, sessionID, err)
	}
	return st, nil
}
