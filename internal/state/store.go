// Package state persists per-mailbox sync cursors across process restarts.
//
// The cursors are written as a single JSON document, replaced atomically via
// a temp-file-then-rename so a concurrent reader (or a crash mid-save) never
// observes a partial write. State loss is never fatal: a missing or corrupt
// file degrades to an empty state.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SyncState maps source-mailbox addresses to their last-successful-sync
// timestamps. SavedAt records when the document was persisted.
type SyncState struct {
	LastSync map[string]time.Time `json:"last_sync"`
	SavedAt  time.Time            `json:"saved_at"`
}

// NewSyncState returns an empty state ready for cursor updates.
func NewSyncState() *SyncState {
	return &SyncState{LastSync: make(map[string]time.Time)}
}

// Clone returns an independent deep copy of the state.
func (s *SyncState) Clone() *SyncState {
	cp := &SyncState{
		LastSync: make(map[string]time.Time, len(s.LastSync)),
		SavedAt:  s.SavedAt,
	}
	for mb, t := range s.LastSync {
		cp.LastSync[mb] = t
	}
	return cp
}

// Advance moves the cursor for mailbox forward to t. Cursors never move
// backwards: an older timestamp is ignored.
func (s *SyncState) Advance(mailbox string, t time.Time) {
	if s.LastSync == nil {
		s.LastSync = make(map[string]time.Time)
	}
	if prev, ok := s.LastSync[mailbox]; ok && t.Before(prev) {
		return
	}
	s.LastSync[mailbox] = t.UTC()
}

// Store reads and writes the sync-state file. All access is serialised: at
// most one load or save is in flight at a time.
type Store struct {
	mu       sync.Mutex
	path     string
	disabled bool
	log      *slog.Logger
}

// NewStore creates a Store persisting to path. If disabled is true, Load
// returns an empty state and Save is a no-op, so the service runs without
// incremental cursors.
func NewStore(path string, disabled bool, logger *slog.Logger) *Store {
	return &Store{path: path, disabled: disabled, log: logger}
}

// Load reads the persisted state. A missing file or unparsable content is
// not an error: both degrade to an empty state, with corruption logged.
func (s *Store) Load(ctx context.Context) (*SyncState, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		return NewSyncState(), nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Debug("no sync state file, starting empty", "path", s.path)
		return NewSyncState(), nil
	}
	if err != nil {
		s.log.Warn("reading sync state failed, starting empty", "path", s.path, "error", err)
		return NewSyncState(), nil
	}

	var st SyncState
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn("sync state file is corrupt, starting empty", "path", s.path, "error", err)
		return NewSyncState(), nil
	}
	if st.LastSync == nil {
		st.LastSync = make(map[string]time.Time)
	}
	return &st, nil
}

// Save persists the state atomically: the document is written to a temp file
// in the target directory and renamed into place.
func (s *Store) Save(ctx context.Context, st *SyncState) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		return nil
	}

	st.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sync state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating state directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing state file %q: %w", s.path, err)
	}
	return nil
}
