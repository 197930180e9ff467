// Package sqlitestore persists agent recommendation state in SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/outrigger-ai/outrigger/pkg/recommend"
)

// Store is a durable recommend.Store backed by a single SQLite database.
// One row per (tenant, workspace, agent) scope; the state document is held
// as a JSON blob so schema churn in the state shape needs no migration.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Config holds store configuration
type Config struct {
	Path   string
	Logger zerolog.Logger
}

// New opens (creating if needed) the database at cfg.Path
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Msg("Recommendation state store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_state (
			scope_key TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			workspace_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			state TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_agent_state_tenant ON agent_state(tenant_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load implements recommend.Store. It returns (nil, nil) when the scope has
// no saved state.
func (s *Store) Load(ctx context.Context, scope recommend.Scope) (*recommend.AgentState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM agent_state WHERE scope_key = ?", scope.Key(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", scope.Key(), err)
	}

	var state recommend.AgentState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode state for %s: %w", scope.Key(), err)
	}
	if state.Entries == nil {
		state.Entries = make(map[string]*recommend.StateEntry)
	}
	return &state, nil
}

// Save implements recommend.Store
func (s *Store) Save(ctx context.Context, scope recommend.Scope, state *recommend.AgentState) error {
	if state == nil {
		return errors.New("state is required")
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", scope.Key(), err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_state (scope_key, tenant_id, workspace_id, agent_id, state, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope_key) DO UPDATE SET
			state = excluded.state,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, scope.Key(), scope.TenantID, scope.WorkspaceID, scope.AgentID, string(raw), state.Version, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save state for %s: %w", scope.Key(), err)
	}

	s.logger.Debug().
		Str("scope", scope.Key()).
		Int64("version", state.Version).
		Msg("Agent state saved")
	return nil
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}
