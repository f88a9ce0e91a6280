package persist

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/sessionwatch/backend/internal/event"
	"github.com/sessionwatch/backend/internal/session"
)

// Snapshot is the durable form of the in-memory state: all sessions,
// the retained event window oldest-first, and the last issued sequence
// number so a restart never reuses an event id.
type Snapshot struct {
	Sessions    map[string]session.Session `json:"sessions"`
	Events      []event.Event              `json:"events"`
	LastEventID int64                      `json:"lastEventId"`
}

// Store loads and saves snapshots at a fixed path.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the snapshot from disk. A missing file is not an error:
// the server starts with empty state.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptySnapshot(), nil
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if snap.Sessions == nil {
		snap.Sessions = make(map[string]session.Session)
	}

	return &snap, nil
}

// LoadOrInit reads the snapshot, starting fresh when the file is
// missing, unreadable, or corrupt. Load failures other than a missing
// file are logged and the bad file is moved aside so the next save does
// not overwrite it.
func (s *Store) LoadOrInit() *Snapshot {
	snap, err := s.Load()
	if err == nil {
		return snap
	}

	log.Printf("Could not load snapshot, starting fresh: %v", err)
	backup := s.path + ".corrupt"
	if renameErr := os.Rename(s.path, backup); renameErr == nil {
		log.Printf("Moved unreadable snapshot to %s", backup)
	}
	return emptySnapshot()
}

// Save writes the snapshot using an atomic temp-file-then-rename so a
// crash mid-write never corrupts the previous snapshot. The parent
// directory is created if it does not already exist.
func (s *Store) Save(snap *Snapshot) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming snapshot file: %w", err)
	}
	committed = true

	return nil
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Sessions: make(map[string]session.Session),
	}
}
