package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:agent_sessions,alias:s"`

	SessionID   string      `bun:"session_id,pk"`
	Turns       []Turn      `bun:"turns,type:jsonb,notnull"`
	Preferences Preferences `bun:"preferences,type:jsonb,notnull"`
	Version     int64       `bun:"version,notnull"`
	UpdatedAt   time.Time   `bun:"updated_at,notnull"`
}

func toSessionRow(st *SessionState) *sessionRow {
	turns := st.Turns
	if turns == nil {
		turns = []Turn{}
	}
	return &sessionRow{
		SessionID:   st.SessionID,
		Turns:       turns,
		Preferences: st.Preferences,
		Version:     st.Version,
		UpdatedAt:   st.UpdatedAt.UTC(),
	}
}

func (r *sessionRow) toState() *SessionState {
	return &SessionState{
		SessionID:   r.SessionID,
		Turns:       r.Turns,
		Preferences: r.Preferences,
		Version:     r.Version,
		UpdatedAt:   r.UpdatedAt,
	}
}

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
}

// PostgresStore persists sessions in Postgres through bun, one row per
// session with turns and preferences stored as jsonb.
type PostgresStore struct {
	db *bun.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
	if cfg.Timeout > 0 {
		opts = append(opts, pgdriver.WithTimeout(cfg.Timeout))
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))
	db := bun.NewDB(sqldb, pgdialect.New())

	store, err := NewPostgresStoreFromDB(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreFromDB wraps an existing bun handle and ensures the table
// exists.
func NewPostgresStoreFromDB(ctx context.Context, db *bun.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*sessionRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	if err := checkSessionID(sessionID); err != nil {
		return nil, err
	}

	row := new(sessionRow)
	err := s.db.NewSelect().Model(row).Where("session_id = ?", sessionID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return restoreSession(sessionID, row.toState())
}

func (s *PostgresStore) Save(ctx context.Context, st *SessionState) error {
	if err := prepareSave(st); err != nil {
		return err
	}

	_, err := s.db.NewInsert().
		Model(toSessionRow(st)).
		On("CONFLICT (session_id) DO UPDATE").
		Set("turns = EXCLUDED.turns").
		Set("preferences = EXCLUDED.preferences").
		Set("version = EXCLUDED.version").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if err := checkSessionID(sessionID); err != nil {
		return err
	}
	_, err := s.db.NewDelete().
		Model((*sessionRow)(nil)).
		Where("session_id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
