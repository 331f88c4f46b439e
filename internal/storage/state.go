package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crossRebalance/internal/model"
)

// StateStore persists chain snapshots. Versions start at 1 for the first
// save; Save fails with model.ErrStateConflict when expected is not the
// currently stored version (0 means "nothing stored yet").
type StateStore interface {
	Load(ctx context.Context, chainID uint64) (model.ChainState, uint64, bool, error)
	Save(ctx context.Context, st model.ChainState, expected uint64) (uint64, error)
	Close() error
}

// FileStateStore stores one JSON file per chain under Dir.
type FileStateStore struct {
	Dir string
}

type stateRecord struct {
	Version   uint64           `json:"version"`
	UpdatedAt string           `json:"updated_at"`
	State     model.ChainState `json:"state"`
}

func (s *FileStateStore) path(chainID uint64) string {
	return filepath.Join(s.Dir, fmt.Sprintf("chain-%d.json", chainID))
}

func (s *FileStateStore) read(chainID uint64) (stateRecord, bool, error) {
	data, err := os.ReadFile(s.path(chainID))
	if err != nil {
		if os.IsNotExist(err) {
			return stateRecord{}, false, nil
		}
		return stateRecord{}, false, fmt.Errorf("read state: %w", err)
	}
	var rec stateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return stateRecord{}, false, fmt.Errorf("parse state: %w", err)
	}
	return rec, true, nil
}

func (s *FileStateStore) Load(ctx context.Context, chainID uint64) (model.ChainState, uint64, bool, error) {
	if s == nil || s.Dir == "" {
		return model.ChainState{}, 0, false, nil
	}
	rec, ok, err := s.read(chainID)
	if err != nil || !ok {
		return model.ChainState{}, 0, false, err
	}
	if rec.State.ChainID != chainID {
		return model.ChainState{}, 0, false, fmt.Errorf("state file for chain %d holds chain %d", chainID, rec.State.ChainID)
	}
	return rec.State, rec.Version, true, nil
}

func (s *FileStateStore) Save(ctx context.Context, st model.ChainState, expected uint64) (uint64, error) {
	if s == nil || s.Dir == "" {
		return 0, fmt.Errorf("state dir is required")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return 0, fmt.Errorf("create state dir: %w", err)
	}

	current, _, err := s.read(st.ChainID)
	if err != nil {
		return 0, err
	}
	if current.Version != expected {
		return 0, fmt.Errorf("chain %d at version %d, expected %d: %w", st.ChainID, current.Version, expected, model.ErrStateConflict)
	}

	rec := stateRecord{
		Version:   expected + 1,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		State:     st,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal state: %w", err)
	}

	path := s.path(st.ChainID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("rename state: %w", err)
	}
	return rec.Version, nil
}

func (s *FileStateStore) Close() error { return nil }
