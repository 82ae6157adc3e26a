// Package scorecache memoizes scored commits keyed by commit hash and cache
// schema version. The store is a plain in-memory structure; persistence
// lives in internal/cache.
package scorecache

import (
	"sort"

	"github.com/panbanda/convergence/pkg/models"
)

// Store holds scored commits for a single schema version. Partial
// invalidation is not supported: a version change discards everything.
type Store struct {
	version string
	entries map[string]models.ScoredCommit
	dirty   bool
}

// New creates an empty store for a schema version.
func New(version string) *Store {
	return &Store{
		version: version,
		entries: make(map[string]models.ScoredCommit),
	}
}

// Version returns the schema version entries were scored under.
func (s *Store) Version() string {
	return s.version
}

// Get returns the cached score for a commit.
func (s *Store) Get(hash string) (models.ScoredCommit, bool) {
	e, ok := s.entries[hash]
	return e, ok
}

// Put stores a scored commit.
func (s *Store) Put(sc models.ScoredCommit) {
	s.entries[sc.Hash] = sc
	s.dirty = true
}

// InvalidateAll drops every entry.
func (s *Store) InvalidateAll() {
	if len(s.entries) > 0 {
		s.dirty = true
	}
	s.entries = make(map[string]models.ScoredCommit)
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// Dirty reports whether the store changed since it was created or restored.
func (s *Store) Dirty() bool {
	return s.dirty
}

// Entries returns all entries sorted by hash.
func (s *Store) Entries() []models.ScoredCommit {
	out := make([]models.ScoredCommit, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}

// Restore replaces the store contents with previously persisted entries.
// When version differs from the store's version the entries are discarded
// and Restore returns false.
func (s *Store) Restore(version string, entries []models.ScoredCommit) bool {
	s.entries = make(map[string]models.ScoredCommit, len(entries))
	s.dirty = false
	if version != s.version {
		s.dirty = len(entries) > 0
		return false
	}
	for _, e := range entries {
		s.entries[e.Hash] = e
	}
	return true
}
