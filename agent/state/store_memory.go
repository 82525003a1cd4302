package state

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in process memory. Values are cloned on the way
// in and out so callers never share slices with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionState
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*SessionState)}
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return st.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, st *SessionState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepareSave(st); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[st.SessionID] = st.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}
