// Package scoring turns commits into scored commits, consulting the score
// cache before classifying.
package scoring

import (
	"context"

	"github.com/panbanda/convergence/pkg/analyzer/classify"
	"github.com/panbanda/convergence/pkg/analyzer/diffstat"
	"github.com/panbanda/convergence/pkg/analyzer/sophistication"
	"github.com/panbanda/convergence/pkg/models"
	"github.com/panbanda/convergence/pkg/rubric"
	"github.com/panbanda/convergence/pkg/scorecache"
)

// DefaultUnmatchedScore is credited to commits that match no category.
const DefaultUnmatchedScore = 0.5

// Version combines the configured schema version with the classification
// mode, so switching modes rebuilds the cache.
func Version(schema, mode string) string {
	return schema + "/" + mode
}

// Scorer scores commits for one run.
type Scorer struct {
	rubric     *rubric.Rubric
	classifier *classify.Classifier
	adjuster   *diffstat.Adjuster
	measure    sophistication.Measure
	cache      *scorecache.Store
	unmatched  float64

	hits   int
	misses int
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithCache sets the score cache. Without it every commit is rescored.
func WithCache(c *scorecache.Store) Option {
	return func(s *Scorer) {
		s.cache = c
	}
}

// WithUnmatchedScore sets the baseline credited to unmatched commits.
func WithUnmatchedScore(v float64) Option {
	return func(s *Scorer) {
		if v >= 0 {
			s.unmatched = v
		}
	}
}

// New creates a scorer.
func New(r *rubric.Rubric, c *classify.Classifier, a *diffstat.Adjuster, m sophistication.Measure, opts ...Option) *Scorer {
	s := &Scorer{
		rubric:     r,
		classifier: c,
		adjuster:   a,
		measure:    m,
		unmatched:  DefaultUnmatchedScore,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score returns the scored form of a commit, from cache when possible.
func (s *Scorer) Score(ctx context.Context, c models.Commit) models.ScoredCommit {
	if s.cache != nil {
		if sc, ok := s.cache.Get(c.Hash); ok {
			s.hits++
			// Repo and timestamp come from the current history so a commit
			// first seen elsewhere is still attributed correctly.
			sc.Repo = c.Repo
			sc.Timestamp = c.Timestamp
			return sc
		}
	}
	s.misses++

	res := s.classifier.Classify(ctx, c)
	adj := s.adjuster.Adjust(res, c.Diffstat)

	total := 0.0
	for _, v := range adj.Scores {
		total += v
	}
	if total == 0 {
		total = s.unmatched
	}
	if ceiling := s.rubric.MaxScore(); total > ceiling {
		// Category scores shrink with the total so they still sum to it.
		scale := ceiling / total
		for cat, v := range adj.Scores {
			adj.Scores[cat] = v * scale
		}
		total = ceiling
	}

	sc := models.ScoredCommit{
		Hash:           c.Hash,
		Repo:           c.Repo,
		Timestamp:      c.Timestamp,
		Method:         res.Method,
		Scores:         adj.Scores,
		Total:          total,
		Multiplier:     adj.Multiplier,
		Sophistication: s.measure.Score(adj.Scores),
	}
	// Fallback scores stay out of the cache so the next run asks the
	// semantic classifier again.
	if s.cache != nil && res.Method != models.MethodFallback {
		s.cache.Put(sc)
	}
	return sc
}

// ScoreAll scores commits in order.
func (s *Scorer) ScoreAll(ctx context.Context, commits []models.Commit) []models.ScoredCommit {
	out := make([]models.ScoredCommit, 0, len(commits))
	for _, c := range commits {
		out = append(out, s.Score(ctx, c))
	}
	return out
}

// CacheStats reports cache hits and misses so far.
func (s *Scorer) CacheStats() models.CacheStats {
	st := models.CacheStats{Hits: s.hits, Misses: s.misses}
	if s.cache != nil {
		st.Version = s.cache.Version()
		st.Entries = s.cache.Len()
	}
	return st
}
