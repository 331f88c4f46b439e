// Package sqlite persists chain snapshots in a local SQLite database for a
// single operator running every command against one file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"crossRebalance/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS chain_state (
	chain_id   INTEGER PRIMARY KEY,
	version    INTEGER NOT NULL,
	state      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Store persists chain state in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := sql.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the stored snapshot and its version.
func (s *Store) Load(ctx context.Context, chainID uint64) (model.ChainState, uint64, bool, error) {
	var (
		version int64
		raw     string
	)
	err := s.db.QueryRowContext(ctx, `SELECT version, state FROM chain_state WHERE chain_id = ?`, int64(chainID)).Scan(&version, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ChainState{}, 0, false, nil
		}
		return model.ChainState{}, 0, false, fmt.Errorf("load chain %d: %w", chainID, err)
	}
	var st model.ChainState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return model.ChainState{}, 0, false, fmt.Errorf("parse state: %w", err)
	}
	return st, uint64(version), true, nil
}

// Save writes st if the stored version still equals expected.
func (s *Store) Save(ctx context.Context, st model.ChainState, expected uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return 0, fmt.Errorf("marshal state: %w", err)
	}

	next := int64(expected + 1)
	now := time.Now().UTC().UnixMilli()
	var res sql.Result
	if expected == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO chain_state (chain_id, version, state, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (chain_id) DO NOTHING`,
			int64(st.ChainID), next, string(raw), now)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE chain_state SET version = ?, state = ?, updated_at = ?
			 WHERE chain_id = ? AND version = ?`,
			next, string(raw), now, int64(st.ChainID), int64(expected))
	}
	if err != nil {
		return 0, fmt.Errorf("save chain %d: %w", st.ChainID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("save chain %d: %w", st.ChainID, err)
	}
	if affected != 1 {
		return 0, fmt.Errorf("chain %d moved past version %d: %w", st.ChainID, expected, model.ErrStateConflict)
	}
	return uint64(next), nil
}
