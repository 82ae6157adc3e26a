// Package watch triggers rescans when a repository's HEAD moves.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/panbanda/convergence/internal/logging"
	"github.com/panbanda/convergence/internal/vcs"
)

// DefaultDebounce is how long git metadata must be quiet before heads are
// compared.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors the git metadata of a set of repositories. The callback
// receives the paths whose HEAD commit changed since the last callback.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	logger    logrus.FieldLogger
	readHead  func(path string) (vcs.Head, error)

	// gitDirs maps each watched directory to its repository path.
	gitDirs  map[string]string
	callback func(changed []string)

	mu      sync.Mutex
	pending map[string]time.Time
	heads   map[string]string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce. Non-positive values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher creates a watcher over the git directories of paths and
// records their current heads.
func NewWatcher(paths []string, opts ...Option) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		debounce:  DefaultDebounce,
		logger:    logging.Discard(),
		readHead:  vcs.ReadHead,
		gitDirs:   make(map[string]string),
		pending:   make(map[string]time.Time),
		heads:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, path := range paths {
		if err := w.add(path); err != nil {
			fsWatcher.Close()
			return nil, err
		}
	}
	return w, nil
}

// add watches the git directory of path and its refs tree. fsnotify is
// not recursive, so every directory under refs/ is added individually.
func (w *Watcher) add(path string) error {
	gitDir, err := vcs.GitDir(path)
	if err != nil {
		return err
	}
	if head, err := w.readHead(path); err == nil {
		w.heads[path] = head.Hash
	}

	dirs := []string{gitDir}
	_ = filepath.Walk(filepath.Join(gitDir, "refs"), func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			dirs = append(dirs, p)
		}
		return nil
	})

	for _, dir := range dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			return err
		}
		w.gitDirs[dir] = path
	}
	w.logger.WithFields(logrus.Fields{"repo": path, "dirs": len(dirs)}).Debug("watching git metadata")
	return nil
}

// SetCallback sets the function to call when heads change.
func (w *Watcher) SetCallback(cb func(changed []string)) {
	w.callback = cb
}

// Start processes events until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	go w.processDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("watch error")
		}
	}
}

// handleEvent marks the owning repository as pending. Lock files and
// object writes are ignored; ref updates land as renames onto the ref.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	if strings.HasSuffix(event.Name, ".lock") {
		return
	}

	repo, ok := w.gitDirs[filepath.Dir(event.Name)]
	if !ok {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsWatcher.Add(event.Name); err == nil {
				w.gitDirs[event.Name] = repo
			}
		}
	}

	w.mu.Lock()
	w.pending[repo] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if changed := w.processPending(time.Now()); len(changed) > 0 && w.callback != nil {
				w.callback(changed)
			}
		}
	}
}

// processPending returns the repositories that have been quiet for the
// debounce period and whose HEAD commit moved.
func (w *Watcher) processPending(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var changed []string
	for repo, last := range w.pending {
		if now.Sub(last) < w.debounce {
			continue
		}
		delete(w.pending, repo)

		head, err := w.readHead(repo)
		if err != nil {
			w.logger.WithError(err).WithField("repo", repo).Debug("reading head")
			continue
		}
		if w.heads[repo] == head.Hash {
			continue
		}
		w.heads[repo] = head.Hash
		w.logger.WithFields(logrus.Fields{"repo": repo, "head": head.String()}).Info("head moved")
		changed = append(changed, repo)
	}
	sort.Strings(changed)
	return changed
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

// WatchedDirs returns the watched directories.
func (w *Watcher) WatchedDirs() []string {
	return w.fsWatcher.WatchList()
}
