// Package cache persists scan state between runs: the score cache as a
// checksummed JSON file, and semantic labels plus run history in bbolt.
package cache

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"github.com/panbanda/convergence/internal/logging"
	"github.com/panbanda/convergence/pkg/models"
	"github.com/panbanda/convergence/pkg/scorecache"
)

const (
	// ScoresFile holds the persisted score cache.
	ScoresFile = "scores.json"
	// StateFile holds the bbolt database.
	StateFile = "state.db"
)

// Cache provides file-based persistence for the score cache.
type Cache struct {
	dir     string
	enabled bool
	logger  logrus.FieldLogger
}

// Option is a functional option for configuring Cache.
type Option func(*Cache)

// WithLogger sets the logger used to report discarded cache files.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// envelope is the on-disk score cache format.
type envelope struct {
	Version  string          `json:"version"`
	Checksum string          `json:"checksum"`
	Entries  json.RawMessage `json:"entries"`
}

// LoadResult describes what Load found on disk.
type LoadResult struct {
	Found     bool
	Restored  int
	Discarded bool
	Reason    string
}

// New creates a new cache instance.
func New(dir string, enabled bool, opts ...Option) (*Cache, error) {
	c := &Cache{dir: dir, enabled: enabled, logger: logging.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	if !enabled {
		return c, nil
	}

	// Ensure cache directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return c, nil
}

// Enabled reports whether persistence is on.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// HashBytes computes a BLAKE3 hash of bytes and returns it as a hex string.
func HashBytes(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Load restores persisted scores into store. Unreadable, malformed or
// tampered files are discarded and the store starts empty; only
// filesystem errors other than a missing file are returned.
func (c *Cache) Load(store *scorecache.Store) (LoadResult, error) {
	var res LoadResult
	if !c.enabled {
		return res, nil
	}

	data, err := os.ReadFile(c.scoresPath())
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("reading score cache: %w", err)
	}
	res.Found = true

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return c.discard(store, res, "malformed cache file"), nil
	}
	if env.Checksum != HashBytes(env.Entries) {
		return c.discard(store, res, "checksum mismatch"), nil
	}
	var entries []models.ScoredCommit
	if err := json.Unmarshal(env.Entries, &entries); err != nil {
		return c.discard(store, res, "malformed cache entries"), nil
	}
	if !store.Restore(env.Version, entries) {
		c.logger.WithFields(logrus.Fields{
			"cached":  env.Version,
			"current": store.Version(),
		}).Info("score cache version changed, rebuilding")
		res.Discarded = true
		res.Reason = "version mismatch"
		return res, nil
	}
	res.Restored = len(entries)
	return res, nil
}

func (c *Cache) discard(store *scorecache.Store, res LoadResult, reason string) LoadResult {
	c.logger.WithField("path", c.scoresPath()).Warnf("discarding score cache: %s", reason)
	store.InvalidateAll()
	res.Discarded = true
	res.Reason = reason
	return res
}

// Save writes the store when it has changed. The write is atomic.
func (c *Cache) Save(store *scorecache.Store) error {
	if !c.enabled || !store.Dirty() {
		return nil
	}

	entries, err := json.Marshal(store.Entries())
	if err != nil {
		return fmt.Errorf("encoding score cache: %w", err)
	}
	// Indenting would rewrite the raw entries and break the checksum.
	data, err := json.Marshal(envelope{
		Version:  store.Version(),
		Checksum: HashBytes(entries),
		Entries:  entries,
	})
	if err != nil {
		return fmt.Errorf("encoding score cache: %w", err)
	}
	return writeAtomic(c.scoresPath(), data)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Clear removes the score cache and state database.
func (c *Cache) Clear() error {
	if !c.enabled {
		return nil
	}
	for _, name := range []string{ScoresFile, StateFile} {
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (c *Cache) scoresPath() string {
	return filepath.Join(c.dir, ScoresFile)
}

// Stats returns cache statistics.
type Stats struct {
	Dir       string `json:"dir"`
	Version   string `json:"version,omitempty"`
	Entries   int    `json:"entries"`
	TotalSize int64  `json:"total_size"`
	Valid     bool   `json:"valid"`
}

// GetStats returns statistics about the score cache file.
func (c *Cache) GetStats() (*Stats, error) {
	stats := &Stats{Dir: c.dir}
	if !c.enabled {
		return stats, nil
	}

	info, err := os.Stat(c.scoresPath())
	if errors.Is(err, os.ErrNotExist) {
		return stats, nil
	}
	if err != nil {
		return nil, err
	}
	stats.TotalSize = info.Size()

	data, err := os.ReadFile(c.scoresPath())
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return stats, nil
	}
	stats.Version = env.Version
	var entries []json.RawMessage
	if env.Checksum == HashBytes(env.Entries) && json.Unmarshal(env.Entries, &entries) == nil {
		stats.Entries = len(entries)
		stats.Valid = true
	}
	return stats, nil
}
