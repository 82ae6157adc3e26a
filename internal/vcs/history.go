package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/sirupsen/logrus"

	"github.com/panbanda/convergence/internal/logging"
	"github.com/panbanda/convergence/pkg/models"
)

// DefaultGitTimeout is the default timeout for native git operations.
const DefaultGitTimeout = 5 * time.Minute

// ErrNotRepository is returned when a path cannot be opened as a git repository.
var ErrNotRepository = errors.New("not a git repository")

// HistoryReader reads the full commit history of a repository.
type HistoryReader struct {
	opener  Opener
	native  bool
	timeout time.Duration
	logger  logrus.FieldLogger
}

// Option is a functional option for configuring HistoryReader.
type Option func(*HistoryReader)

// WithOpener sets the VCS opener (useful for testing).
// Using this option disables native git and falls back to go-git.
func WithOpener(opener Opener) Option {
	return func(h *HistoryReader) {
		h.opener = opener
		h.native = false
	}
}

// WithNative selects the native git reader.
func WithNative(native bool) Option {
	return func(h *HistoryReader) {
		h.native = native
	}
}

// WithTimeout bounds native git invocations.
func WithTimeout(d time.Duration) Option {
	return func(h *HistoryReader) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(h *HistoryReader) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHistoryReader creates a reader backed by go-git unless WithNative is set.
func NewHistoryReader(opts ...Option) *HistoryReader {
	h := &HistoryReader{
		opener:  DefaultOpener(),
		timeout: DefaultGitTimeout,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Read returns every commit reachable from HEAD, labelled with repo name.
// A repository without commits yields an empty history.
func (h *HistoryReader) Read(ctx context.Context, path, name string) ([]models.Commit, error) {
	var (
		commits []models.Commit
		err     error
	)
	if h.native {
		commits, err = h.readNative(ctx, path, name)
	} else {
		commits, err = h.readGoGit(ctx, path, name)
	}
	if err != nil {
		return nil, err
	}
	models.SortCommits(commits)
	h.logger.WithFields(logrus.Fields{
		"repo":    name,
		"commits": len(commits),
		"native":  h.native,
	}).Debug("read history")
	return commits, nil
}

func (h *HistoryReader) readGoGit(ctx context.Context, path, name string) ([]models.Commit, error) {
	repo, err := h.opener.PlainOpenWithDetect(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotRepository, path, err)
	}
	if _, err := repo.Head(); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return []models.Commit{}, nil
		}
		return nil, fmt.Errorf("resolving HEAD in %s: %w", path, err)
	}

	iter, err := repo.Log()
	if err != nil {
		return nil, fmt.Errorf("reading log of %s: %w", path, err)
	}
	defer iter.Close()

	var commits []models.Commit
	err = iter.ForEach(func(c Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, err := diffstatOf(c)
		if err != nil {
			return fmt.Errorf("commit %s: %w", c.Hash(), err)
		}
		commits = append(commits, models.Commit{
			Hash:      c.Hash().String(),
			Repo:      name,
			Timestamp: c.Author().When.UTC(),
			Message:   strings.TrimRight(c.Message(), "\n"),
			Diffstat:  d,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// diffstatOf builds the diffstat of c against its first parent.
func diffstatOf(c Commit) (models.Diffstat, error) {
	d := models.NewDiffstat()
	stats, err := c.Stats()
	if err != nil {
		return d, err
	}
	created, err := newFiles(c)
	if err != nil {
		return d, err
	}
	for _, fs := range stats {
		// Root commits create every file they touch.
		isNew := c.NumParents() == 0 || created[fs.Name]
		d.Add(fs.Name, fs.Addition, fs.Deletion, isNew)
	}
	return d, nil
}

func newFiles(c Commit) (map[string]bool, error) {
	created := make(map[string]bool)
	if c.NumParents() == 0 {
		return created, nil
	}
	parent, err := c.Parent(0)
	if err != nil {
		return nil, err
	}
	from, err := parent.Tree()
	if err != nil {
		return nil, err
	}
	to, err := c.Tree()
	if err != nil {
		return nil, err
	}
	changes, err := from.Diff(to)
	if err != nil {
		return nil, err
	}
	for _, ch := range changes {
		if ch.FromName() == "" && ch.ToName() != "" {
			created[ch.ToName()] = true
		}
	}
	return created, nil
}

const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"
)

func (h *HistoryReader) readNative(ctx context.Context, path, name string) ([]models.Commit, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	// Format: RS hash US author_date US body US, followed by numstat and summary lines.
	args := []string{
		"log",
		"--numstat",
		"--summary",
		"--no-color",
		"--format=%x1e%H%x1f%aI%x1f%B%x1f",
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = path

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		switch {
		case strings.Contains(msg, "not a git repository"):
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, path)
		case strings.Contains(msg, "does not have any commits"):
			return []models.Commit{}, nil
		}
		return nil, fmt.Errorf("git log in %s: %w: %s", path, err, strings.TrimSpace(msg))
	}
	return ParseNativeLog(stdout.String(), name)
}

// ParseNativeLog parses the output of the native git log invocation.
// Binary files, reported with "-" counts, are skipped.
func ParseNativeLog(out, name string) ([]models.Commit, error) {
	var commits []models.Commit
	for _, rec := range strings.Split(out, recordSep) {
		if strings.TrimSpace(rec) == "" {
			continue
		}
		fields := strings.SplitN(rec, fieldSep, 4)
		if len(fields) != 4 {
			return nil, fmt.Errorf("malformed log record %q", truncate(rec, 40))
		}
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("commit %s: %w", fields[0], err)
		}
		commits = append(commits, models.Commit{
			Hash:      strings.TrimSpace(fields[0]),
			Repo:      name,
			Timestamp: ts.UTC(),
			Message:   strings.TrimRight(fields[2], "\n"),
			Diffstat:  parseChanges(fields[3]),
		})
	}
	return commits, nil
}

func parseChanges(block string) models.Diffstat {
	d := models.NewDiffstat()
	created := make(map[string]bool)
	type numstat struct {
		path     string
		ins, del int
	}
	var stats []numstat

	for _, line := range strings.Split(block, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, " create mode ") {
			// " create mode 100644 path/to/file"
			parts := strings.SplitN(strings.TrimPrefix(line, " create mode "), " ", 2)
			if len(parts) == 2 {
				created[parts[1]] = true
			}
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		ins, err1 := strconv.Atoi(parts[0])
		del, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			continue
		}
		stats = append(stats, numstat{path: parts[2], ins: ins, del: del})
	}
	for _, s := range stats {
		d.Add(s.path, s.ins, s.del, created[s.path])
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Merge combines per-repository histories, keeping the first occurrence of
// each hash, and returns the merged commits in timestamp order along with
// the number of duplicates dropped.
func Merge(histories ...[]models.Commit) ([]models.Commit, int) {
	seen := make(map[string]bool)
	var (
		merged     []models.Commit
		duplicates int
	)
	for _, h := range histories {
		for _, c := range h {
			if seen[c.Hash] {
				duplicates++
				continue
			}
			seen[c.Hash] = true
			merged = append(merged, c)
		}
	}
	models.SortCommits(merged)
	return merged, duplicates
}
