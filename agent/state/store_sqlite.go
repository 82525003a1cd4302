package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions as JSON documents in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writes to avoid SQLITE_BUSY
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS agent_sessions (
		session_id TEXT PRIMARY KEY,
		turns_json TEXT NOT NULL,
		prefs_json TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, turns_json, prefs_json, version, updated_at
		FROM agent_sessions WHERE session_id = ?`, sessionID)

	var (
		st        SessionState
		turnsJSON string
		prefsJSON string
		updatedAt int64
	)
	err := row.Scan(&st.SessionID, &turnsJSON, &prefsJSON, &st.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if err := decodeField(sessionID, "turns_json", []byte(turnsJSON), &st.Turns); err != nil {
		return nil, err
	}
	if err := decodeField(sessionID, "prefs_json", []byte(prefsJSON), &st.Preferences); err != nil {
		return nil, err
	}
	st.UpdatedAt = time.UnixMilli(updatedAt)

	return restoreSession(sessionID, &st)
}

func (s *SQLiteStore) Save(ctx context.Context, st *SessionState) error {
	if err := prepareSave(st); err != nil {
		return err
	}

	turns := st.Turns
	if turns == nil {
		turns = []Turn{}
	}
	turnsJSON, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal session turns: %w", err)
	}
	prefsJSON, err := json.Marshal(st.Preferences)
	if err != nil {
		return fmt.Errorf("marshal session preferences: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_sessions (session_id, turns_json, prefs_json, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			turns_json = excluded.turns_json,
			prefs_json = excluded.prefs_json,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		st.SessionID, string(turnsJSON), string(prefsJSON), st.Version, st.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM agent_sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
