package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/notPlancha/CanvasSync/internal/logging"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
)

// StatePath returns where the state store of a sync root lives
func StatePath(root string) string {
	return filepath.Join(root, utils.StateDirName, utils.StateDBName)
}

// State is the in-memory view of what has been synced, backed by a DB.
// It is safe for concurrent use; all mutation happens under one mutex and
// reaches disk only through Flush.
type State struct {
	mu      sync.Mutex
	db      *DB
	path    string
	root    string
	logger  logging.Logger
	entries map[string]LocalEntry
	byPath  map[string]string
	dirty   map[string]bool
	removed map[string]bool
	// recovered holds the error of a store that could not be read
	recovered error
}

// NewState returns an empty state for the sync root. With an empty path
// nothing is persisted.
func NewState(root, path string, logger logging.Logger) *State {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &State{
		path:    path,
		root:    root,
		logger:  logger,
		entries: make(map[string]LocalEntry),
		byPath:  make(map[string]string),
		dirty:   make(map[string]bool),
		removed: make(map[string]bool),
	}
}

// OpenState creates a state for root and loads it from the default
// location. In read-only mode a missing store is not created.
func OpenState(ctx context.Context, root string, readOnly bool, logger logging.Logger) (*State, error) {
	path := StatePath(root)
	if readOnly {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	s := NewState(root, path, logger)
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Load replaces the in-memory state with the stored one. A missing store
// starts empty. A store that cannot be read is moved aside, a
// CORRUPT_STATE warning is logged, and the state starts empty.
func (s *State) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]LocalEntry)
	s.byPath = make(map[string]string)
	s.dirty = make(map[string]bool)
	s.removed = make(map[string]bool)
	if s.path == "" {
		return nil
	}

	if s.db == nil {
		db, err := Open(s.path)
		if err != nil {
			if _, statErr := os.Stat(s.path); statErr != nil {
				return utils.NewFilesystemError("open state", s.path, err)
			}
			return s.recoverCorrupt(err)
		}
		s.db = db
	}

	entries, err := s.db.ListEntries(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.recoverCorrupt(err)
	}
	for _, e := range entries {
		if other, ok := s.byPath[e.LocalPath]; ok {
			// unreachable with the UNIQUE constraint, but a hand-edited store
			// must not break the path invariant
			delete(s.entries, other)
		}
		s.entries[e.RemoteID] = e
		s.byPath[e.LocalPath] = e.RemoteID
	}
	s.logger.Debug("Sync state loaded",
		logging.F("path", s.path),
		logging.F("entries", len(s.entries)),
	)
	return nil
}

// recoverCorrupt moves an unreadable store aside and opens a fresh one. Caller holds mu.
func (s *State) recoverCorrupt(cause error) error {
	corrupt := utils.WrapAppError(utils.NewCLIError(utils.ErrCodeCorruptState,
		fmt.Sprintf("sync state %s is unreadable: %v", s.path, cause)).
		WithContext("path", s.path).
		Build(), cause)
	s.recovered = corrupt

	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
	aside := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().UTC().Format("20060102-150405"))
	if err := os.Rename(s.path, aside); err != nil {
		return utils.NewFilesystemError("move corrupt state", s.path, err)
	}
	s.logger.Warn("Sync state was corrupt, starting empty",
		logging.F("code", utils.ErrCodeCorruptState),
		logging.F("error", cause.Error()),
		logging.F("movedTo", aside),
	)

	db, err := Open(s.path)
	if err != nil {
		return utils.NewFilesystemError("create state", s.path, err)
	}
	s.db = db
	return nil
}

// Recovered returns the CORRUPT_STATE error the last Load recovered from
func (s *State) Recovered() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recovered
}

// Lookup returns the entry recorded for remoteID
func (s *State) Lookup(remoteID string) (LocalEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[remoteID]
	return e, ok
}

// Record stores entry for remoteID. Any other ID holding the same local
// path is evicted.
func (s *State) Record(remoteID string, entry LocalEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.RemoteID = remoteID
	if old, ok := s.entries[remoteID]; ok && old.LocalPath != entry.LocalPath {
		delete(s.byPath, old.LocalPath)
	}
	if other, ok := s.byPath[entry.LocalPath]; ok && other != remoteID {
		delete(s.entries, other)
		delete(s.dirty, other)
		s.removed[other] = true
	}
	s.entries[remoteID] = entry
	s.byPath[entry.LocalPath] = remoteID
	s.dirty[remoteID] = true
	delete(s.removed, remoteID)
}

// Remove forgets remoteID
func (s *State) Remove(remoteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.entries[remoteID]
	if !ok {
		return
	}
	delete(s.entries, remoteID)
	if s.byPath[old.LocalPath] == remoteID {
		delete(s.byPath, old.LocalPath)
	}
	delete(s.dirty, remoteID)
	s.removed[remoteID] = true
}

// NeedsUpdate reports whether node must be downloaded to localPath: there
// is no entry, the fingerprint or path changed, or the file is gone.
func (s *State) NeedsUpdate(node types.RemoteNode, localPath string) bool {
	s.mu.Lock()
	entry, ok := s.entries[node.ID]
	s.mu.Unlock()

	if !ok || entry.Fingerprint != string(node.Fingerprint) || entry.LocalPath != localPath {
		return true
	}
	if _, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(localPath))); err != nil {
		return true
	}
	return false
}

// Entries returns a snapshot ordered by local path
func (s *State) Entries() StateList {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make(StateList, 0, len(s.entries))
	for _, e := range s.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].LocalPath < list[j].LocalPath })
	return list
}

// Len returns the number of recorded entries
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Flush writes pending changes in one transaction. It is a no-op when
// nothing changed or the state is not persisted.
func (s *State) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil || (len(s.dirty) == 0 && len(s.removed) == 0) {
		return nil
	}

	upserts := make([]LocalEntry, 0, len(s.dirty))
	for id := range s.dirty {
		upserts = append(upserts, s.entries[id])
	}
	removed := make([]string, 0, len(s.removed))
	for id := range s.removed {
		removed = append(removed, id)
	}

	if err := s.db.ApplyChanges(ctx, upserts, removed); err != nil {
		return utils.NewFilesystemError("flush state", s.path, err)
	}
	s.logger.Debug("Sync state flushed",
		logging.F("written", len(upserts)),
		logging.F("removed", len(removed)),
	)
	s.dirty = make(map[string]bool)
	s.removed = make(map[string]bool)
	return nil
}

// Reset forgets everything, in memory and on disk
func (s *State) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.DeleteEntries(ctx); err != nil {
			return utils.NewFilesystemError("reset state", s.path, err)
		}
	}
	s.entries = make(map[string]LocalEntry)
	s.byPath = make(map[string]string)
	s.dirty = make(map[string]bool)
	s.removed = make(map[string]bool)
	return nil
}

// Close releases the store
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
