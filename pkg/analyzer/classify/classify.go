// Package classify assigns rubric categories to commits, either by regex
// over the commit message or by delegating to a semantic classifier with
// regex as the fallback.
package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/panbanda/convergence/internal/logging"
	"github.com/panbanda/convergence/pkg/models"
	"github.com/panbanda/convergence/pkg/rubric"
)

// Defaults for semantic classification.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxFailures   = 5
	DefaultDiffstatFiles = 10
)

// SemanticRequest is what an external classifier receives for one commit.
type SemanticRequest struct {
	Hash     string
	Message  string
	Diffstat string
	Rubric   *rubric.Rubric
}

// SemanticClassifier returns category strengths in [0,1] for a commit.
type SemanticClassifier interface {
	ClassifyCommit(ctx context.Context, req SemanticRequest) (map[string]float64, error)
}

// LabelStore keeps semantic labels by commit hash. Entries are never
// invalidated, including when the rubric changes.
type LabelStore interface {
	GetLabels(hash string) (map[string]float64, bool)
	PutLabels(hash string, labels map[string]float64) error
}

// MemoryLabelStore is an in-memory LabelStore.
type MemoryLabelStore struct {
	labels map[string]map[string]float64
}

// NewMemoryLabelStore creates an empty store.
func NewMemoryLabelStore() *MemoryLabelStore {
	return &MemoryLabelStore{labels: make(map[string]map[string]float64)}
}

// GetLabels implements LabelStore.
func (m *MemoryLabelStore) GetLabels(hash string) (map[string]float64, bool) {
	l, ok := m.labels[hash]
	return l, ok
}

// PutLabels implements LabelStore.
func (m *MemoryLabelStore) PutLabels(hash string, labels map[string]float64) error {
	m.labels[hash] = labels
	return nil
}

// Len returns the number of stored entries.
func (m *MemoryLabelStore) Len() int {
	return len(m.labels)
}

// Regex classifies a commit message. Categories are tested in descending
// weight order; the first matching pattern sets strength 1.0.
func Regex(r *rubric.Rubric, c models.Commit) models.ClassificationResult {
	strengths := make(map[string]float64)
	for _, cat := range r.Categories() {
		if _, ok := cat.Match(c.Message); ok {
			strengths[cat.Name] = 1.0
		}
	}
	return models.ClassificationResult{
		Hash:      c.Hash,
		Method:    models.MethodRegex,
		Strengths: strengths,
	}
}

// Classifier classifies commits for one run. It is not safe for concurrent
// use; the scan pipeline processes commits sequentially.
type Classifier struct {
	rubric      *rubric.Rubric
	semantic    SemanticClassifier
	store       LabelStore
	timeout     time.Duration
	maxFailures int
	files       int
	logger      logrus.FieldLogger

	failures int
	disabled bool
	stats    models.ClassificationStats
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithSemantic enables semantic classification.
func WithSemantic(sc SemanticClassifier) Option {
	return func(c *Classifier) {
		c.semantic = sc
	}
}

// WithLabelStore sets where semantic labels are cached.
func WithLabelStore(s LabelStore) Option {
	return func(c *Classifier) {
		c.store = s
	}
}

// WithTimeout sets the per-call timeout for semantic requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxFailures sets how many consecutive semantic failures switch the
// classifier to regex for the rest of the run.
func WithMaxFailures(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.maxFailures = n
		}
	}
}

// WithDiffstatFiles caps how many files of the diffstat are sent with a
// semantic request.
func WithDiffstatFiles(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.files = n
		}
	}
}

// WithLogger sets the logger used for fallback reports.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Classifier) {
		c.logger = l
	}
}

// New creates a classifier. Without WithSemantic it runs in regex mode.
func New(r *rubric.Rubric, opts ...Option) *Classifier {
	c := &Classifier{
		rubric:      r,
		timeout:     DefaultTimeout,
		maxFailures: DefaultMaxFailures,
		files:       DefaultDiffstatFiles,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.semantic != nil && c.store == nil {
		c.store = NewMemoryLabelStore()
	}
	return c
}

// Mode returns "semantic" or "regex".
func (c *Classifier) Mode() string {
	if c.semantic != nil {
		return "semantic"
	}
	return "regex"
}

// Stats returns counters for the run so far.
func (c *Classifier) Stats() models.ClassificationStats {
	s := c.stats
	s.Disabled = c.disabled
	return s
}

// Classify produces a classification for one commit. Semantic failures
// never surface as errors: the commit is classified by regex instead.
func (c *Classifier) Classify(ctx context.Context, commit models.Commit) models.ClassificationResult {
	if c.semantic == nil {
		c.stats.Regex++
		return Regex(c.rubric, commit)
	}

	if labels, ok := c.store.GetLabels(commit.Hash); ok {
		c.stats.SemanticCached++
		return models.ClassificationResult{
			Hash:      commit.Hash,
			Method:    models.MethodSemanticCached,
			Strengths: c.known(labels),
		}
	}

	if c.disabled {
		return c.fallback(commit, fmt.Sprintf("semantic classification disabled after %d failures", c.maxFailures))
	}

	verdict := c.callSemantic(ctx, commit)
	if !verdict.OK() {
		c.failures++
		if c.failures >= c.maxFailures {
			c.disabled = true
			c.logger.WithField("failures", c.failures).Warn("semantic classification disabled for the rest of the run")
		}
		return c.fallback(commit, verdict.Reason)
	}

	c.failures = 0
	c.stats.Semantic++
	if err := c.store.PutLabels(commit.Hash, verdict.Labels); err != nil {
		c.logger.WithError(err).WithField("commit", short(commit.Hash)).Warn("failed to cache semantic labels")
	}
	return models.ClassificationResult{
		Hash:      commit.Hash,
		Method:    models.MethodSemantic,
		Strengths: verdict.Labels,
	}
}

func (c *Classifier) callSemantic(ctx context.Context, commit models.Commit) Verdict {
	c.stats.SemanticCalls++

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	labels, err := c.semantic.ClassifyCommit(callCtx, SemanticRequest{
		Hash:     commit.Hash,
		Message:  commit.Message,
		Diffstat: SummarizeDiffstat(commit.Diffstat, c.files),
		Rubric:   c.rubric,
	})
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	return Validate(c.rubric, labels, err)
}

func (c *Classifier) fallback(commit models.Commit, reason string) models.ClassificationResult {
	c.stats.Fallbacks++
	c.logger.WithFields(logrus.Fields{
		"commit": short(commit.Hash),
		"reason": reason,
	}).Warn("semantic classification failed, using regex")

	res := Regex(c.rubric, commit)
	res.Method = models.MethodFallback
	res.FallbackReason = reason
	return res
}

// known drops labels for categories no longer in the rubric.
func (c *Classifier) known(labels map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(labels))
	for name, s := range labels {
		if c.rubric.Has(name) {
			out[name] = s
		}
	}
	return out
}

// SummarizeDiffstat renders a compact diffstat description listing at most
// limit files.
func SummarizeDiffstat(d models.Diffstat, limit int) string {
	if d.IsEmpty() {
		return "no file changes"
	}
	ins, del := 0, 0
	for _, fs := range d.Files {
		ins += fs.Insertions
		del += fs.Deletions
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d files changed, +%d/-%d", len(d.Files), ins, del)
	paths := d.Paths()
	for i, p := range paths {
		if i == limit {
			fmt.Fprintf(&b, "\n  ... and %d more", len(paths)-limit)
			break
		}
		fs := d.Files[p]
		fmt.Fprintf(&b, "\n  %s +%d/-%d", p, fs.Insertions, fs.Deletions)
		if fs.New {
			b.WriteString(" (new)")
		}
	}
	return b.String()
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
