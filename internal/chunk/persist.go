package chunk

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// journalRecord is the on-disk shape of the chunk-counter journal.
type journalRecord struct {
	LastChunkID uint64  `msgpack:"last_chunk_id"`
	SavedAt     float64 `msgpack:"saved_at"`
}

// Journal persists the last issued chunk ID so the sequence stays strictly
// increasing across process restarts. Writes go through a temp file and
// rename so a crash mid-write never truncates the record.
type Journal struct {
	path string
}

// NewJournal creates a journal at path. An empty path yields a nil journal;
// all methods on a nil Journal are no-ops.
func NewJournal(path string) *Journal {
	if path == "" {
		return nil
	}
	return &Journal{path: path}
}

// Load returns the persisted last chunk ID, or 0 when no journal exists yet.
func (j *Journal) Load() (uint64, error) {
	if j == nil {
		return 0, nil
	}

	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read chunk journal: %w", err)
	}

	var rec journalRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return 0, fmt.Errorf("failed to decode chunk journal: %w", err)
	}

	return rec.LastChunkID, nil
}

// Save records lastID. Failures are returned for logging but are never
// fatal to the capture loop.
func (j *Journal) Save(lastID uint64) error {
	if j == nil {
		return nil
	}

	rec := journalRecord{
		LastChunkID: lastID,
		SavedAt:     float64(time.Now().UnixNano()) / 1e9,
	}

	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to encode chunk journal: %w", err)
	}

	tmp := j.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write chunk journal: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("failed to replace chunk journal: %w", err)
	}

	return nil
}
