package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/panbanda/convergence/internal/logging"
	"github.com/panbanda/convergence/pkg/models"
)

const (
	semanticBucket = "semantic"
	historyBucket  = "history"
)

// DefaultLockTimeout bounds how long Open waits for another scan to
// release the database.
const DefaultLockTimeout = time.Second

// ErrLocked is returned when another process holds the state database.
var ErrLocked = errors.New("state database is locked by another scan")

// State stores semantic labels and run history in a bbolt database.
// bbolt's exclusive file lock serializes concurrent scans on one cache dir.
type State struct {
	db     *bolt.DB
	path   string
	logger logrus.FieldLogger
}

// StateOption configures OpenState.
type StateOption func(*stateOptions)

type stateOptions struct {
	timeout time.Duration
	logger  logrus.FieldLogger
}

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) StateOption {
	return func(o *stateOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithStateLogger sets the logger.
func WithStateLogger(l logrus.FieldLogger) StateOption {
	return func(o *stateOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// OpenState opens or creates dir/state.db. A database that cannot be read
// is moved aside and a fresh one is created in its place.
func OpenState(dir string, opts ...StateOption) (*State, error) {
	o := stateOptions{timeout: DefaultLockTimeout, logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	path := filepath.Join(dir, StateFile)

	db, err := open(path, o.timeout)
	if errors.Is(err, ErrLocked) {
		return nil, err
	}
	if err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		o.logger.WithError(err).WithField("moved_to", aside).Warn("state database unreadable, recreating")
		if rerr := os.Rename(path, aside); rerr != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		if db, err = open(path, o.timeout); err != nil {
			return nil, err
		}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{semanticBucket, historyBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing %s: %w", path, err)
	}
	return &State{db: db, path: path, logger: o.logger}, nil
}

func open(path string, timeout time.Duration) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return db, err
}

// Close releases the database and its lock.
func (s *State) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *State) Path() string {
	return s.path
}

// GetLabels returns cached semantic labels for a commit.
func (s *State) GetLabels(hash string) (map[string]float64, bool) {
	var labels map[string]float64
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(semanticBucket)).Get([]byte(hash))
		if data == nil {
			return bolt.ErrBucketNotFound
		}
		return json.Unmarshal(data, &labels)
	})
	if err != nil {
		if !errors.Is(err, bolt.ErrBucketNotFound) {
			s.logger.WithError(err).WithField("hash", hash).Debug("ignoring unreadable semantic label")
		}
		return nil, false
	}
	return labels, true
}

// PutLabels stores semantic labels for a commit.
func (s *State) PutLabels(hash string, labels map[string]float64) error {
	data, err := json.Marshal(labels)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(semanticBucket)).Put([]byte(hash), data)
	})
}

// LabelCount returns the number of cached semantic labels.
func (s *State) LabelCount() int {
	n := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(semanticBucket)).Stats().KeyN
		return nil
	})
	return n
}

// AppendSnapshot records the summary of a scan.
func (s *State) AppendSnapshot(snap models.HistorySnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	// Keys sort chronologically.
	key := snap.ScanTime.UTC().Format(time.RFC3339Nano) + "/" + snap.RunID
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(historyBucket)).Put([]byte(key), data)
	})
}

// Snapshots returns up to limit of the most recent snapshots, oldest first.
// A limit of zero or less returns all of them.
func (s *State) Snapshots(limit int) ([]models.HistorySnapshot, error) {
	var snaps []models.HistorySnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(historyBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(snaps) >= limit {
				break
			}
			var snap models.HistorySnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				s.logger.WithError(err).WithField("key", string(k)).Warn("skipping unreadable history entry")
				continue
			}
			snaps = append(snaps, snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].ScanTime.Before(snaps[j].ScanTime)
	})
	return snaps, nil
}
