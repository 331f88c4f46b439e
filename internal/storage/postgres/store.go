package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"crossRebalance/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS chain_state (
	chain_id   BIGINT PRIMARY KEY,
	version    BIGINT NOT NULL,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store provides Postgres persistence for chain snapshots.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// EnsureSchema creates the chain_state table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create chain_state: %w", err)
	}
	return nil
}

// Load returns the stored snapshot and its version.
func (s *Store) Load(ctx context.Context, chainID uint64) (model.ChainState, uint64, bool, error) {
	var (
		version int64
		raw     []byte
	)
	row := s.pool.QueryRow(ctx, `SELECT version, state FROM chain_state WHERE chain_id=$1`, int64(chainID))
	if err := row.Scan(&version, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ChainState{}, 0, false, nil
		}
		return model.ChainState{}, 0, false, err
	}
	var st model.ChainState
	if err := json.Unmarshal(raw, &st); err != nil {
		return model.ChainState{}, 0, false, fmt.Errorf("parse state: %w", err)
	}
	return st, uint64(version), true, nil
}

// Save writes st if the stored version still equals expected.
func (s *Store) Save(ctx context.Context, st model.ChainState, expected uint64) (uint64, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return 0, fmt.Errorf("marshal state: %w", err)
	}

	next := int64(expected + 1)
	var tag pgconn.CommandTag
	if expected == 0 {
		tag, err = s.pool.Exec(ctx, `
			INSERT INTO chain_state (chain_id, version, state, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (chain_id) DO NOTHING
		`, int64(st.ChainID), next, raw)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE chain_state
			SET version = $2, state = $3, updated_at = now()
			WHERE chain_id = $1 AND version = $4
		`, int64(st.ChainID), next, raw, int64(expected))
	}
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() != 1 {
		return 0, fmt.Errorf("chain %d moved past version %d: %w", st.ChainID, expected, model.ErrStateConflict)
	}
	return uint64(next), nil
}
