package transport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cursor is how far into an outbox file a relayer has handled every record
// addressed to one destination.
type Cursor struct {
	Destination uint64 `json:"destination"`
	Offset      int    `json:"offset"`
	UpdatedAt   string `json:"updated_at"`
}

// CursorStore persists one relay cursor per destination chain next to the
// outbox file.
type CursorStore struct {
	outbox string
}

func NewCursorStore(outboxPath string) *CursorStore {
	return &CursorStore{outbox: outboxPath}
}

// Path returns the cursor file for destination.
func (c *CursorStore) Path(destination uint64) string {
	return fmt.Sprintf("%s.cursor-%d.json", c.outbox, destination)
}

// Load returns the saved offset for destination, or zero if none exists.
func (c *CursorStore) Load(destination uint64) (int, error) {
	path := c.Path(destination)
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat cursor: %w", err)
	}
	if stat.IsDir() {
		return 0, fmt.Errorf("cursor path is a directory")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	var cur Cursor
	if err := json.Unmarshal(data, &cur); err != nil {
		return 0, fmt.Errorf("parse cursor: %w", err)
	}
	if cur.Destination != destination || cur.Offset < 0 {
		return 0, fmt.Errorf("cursor %s does not belong to chain %d", path, destination)
	}
	return cur.Offset, nil
}

// Save records offset for destination.
func (c *CursorStore) Save(destination uint64, offset int) error {
	path := c.Path(destination)
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cursor dir: %w", err)
		}
	}

	data, err := json.Marshal(Cursor{
		Destination: destination,
		Offset:      offset,
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write cursor tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename cursor: %w", err)
	}
	return nil
}
