// Package aggregate folds scored commits into fixed-width cumulative time
// series.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/panbanda/convergence/pkg/analyzer/sophistication"
	"github.com/panbanda/convergence/pkg/models"
	"github.com/panbanda/convergence/pkg/rubric"
)

// Series names produced by Run.
const (
	SeriesCombined = "combined"
)

// Config controls bucketing.
type Config struct {
	BucketWidth time.Duration
	// Inception, when set, is the first bucket's start. Earlier commits are
	// excluded and counted.
	Inception time.Time
	// Now is the end of the series; zero means time.Now.
	Now time.Time
	// SmoothingAlpha applies an EMA to bucket sophistication; 0 disables it.
	SmoothingAlpha float64
}

// Result holds every series built from one set of commits. All series share
// the same origin and bucket count.
type Result struct {
	Origin      time.Time
	Combined    models.Series
	PerRepo     []models.Series
	PerCategory []models.Series
	Included    []models.ScoredCommit
	Excluded    int
}

// Aggregator builds time series.
type Aggregator struct {
	cfg     Config
	rubric  *rubric.Rubric
	measure sophistication.Measure
}

// New creates an aggregator.
func New(r *rubric.Rubric, m sophistication.Measure, cfg Config) (*Aggregator, error) {
	if cfg.BucketWidth <= 0 {
		return nil, fmt.Errorf("bucket width must be positive, got %s", cfg.BucketWidth)
	}
	return &Aggregator{cfg: cfg, rubric: r, measure: m}, nil
}

// Run aggregates commits into the combined, per-repository and
// per-category series. Commits need not be sorted.
func (a *Aggregator) Run(commits []models.ScoredCommit) Result {
	included, excluded := a.filter(commits)
	origin, n := a.layout(included)

	res := Result{
		Origin:   origin,
		Included: included,
		Excluded: excluded,
	}
	res.Combined = a.build(SeriesCombined, "", origin, n, included, total)

	byRepo := make(map[string][]models.ScoredCommit)
	for _, c := range included {
		byRepo[c.Repo] = append(byRepo[c.Repo], c)
	}
	repos := make([]string, 0, len(byRepo))
	for r := range byRepo {
		repos = append(repos, r)
	}
	sort.Strings(repos)
	for _, r := range repos {
		res.PerRepo = append(res.PerRepo, a.build(r, r, origin, n, byRepo[r], total))
	}

	for _, name := range a.rubric.Names() {
		res.PerCategory = append(res.PerCategory, a.build(name, "", origin, n, included, category(name)))
	}
	return res
}

func (a *Aggregator) now() time.Time {
	if a.cfg.Now.IsZero() {
		return time.Now().UTC()
	}
	return a.cfg.Now.UTC()
}

func (a *Aggregator) filter(commits []models.ScoredCommit) ([]models.ScoredCommit, int) {
	out := make([]models.ScoredCommit, 0, len(commits))
	excluded := 0
	for _, c := range commits {
		if !a.cfg.Inception.IsZero() && c.Timestamp.Before(a.cfg.Inception) {
			excluded++
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, excluded
}

// layout returns the first bucket start and bucket count covering
// [start, max(now, last commit)].
func (a *Aggregator) layout(commits []models.ScoredCommit) (time.Time, int) {
	end := a.now()
	var start time.Time
	switch {
	case !a.cfg.Inception.IsZero():
		start = a.cfg.Inception
	case len(commits) > 0:
		start = commits[0].Timestamp
	default:
		return alignStart(end, a.cfg.BucketWidth), 0
	}
	if len(commits) > 0 && commits[len(commits)-1].Timestamp.After(end) {
		end = commits[len(commits)-1].Timestamp
	}

	origin := alignStart(start, a.cfg.BucketWidth)
	if end.Before(origin) {
		return origin, 1
	}
	return origin, int(end.Sub(origin)/a.cfg.BucketWidth) + 1
}

// contribution extracts the score and match flag a commit adds to a series.
type contribution func(models.ScoredCommit) (score float64, counted bool)

func total(c models.ScoredCommit) (float64, bool) {
	return c.Total, true
}

func category(name string) contribution {
	return func(c models.ScoredCommit) (float64, bool) {
		v := c.Scores[name]
		return v, v > 0
	}
}

func (a *Aggregator) build(name, repo string, origin time.Time, n int, commits []models.ScoredCommit, contrib contribution) models.Series {
	s := models.Series{
		Name:        name,
		Repo:        repo,
		Origin:      origin,
		BucketWidth: a.cfg.BucketWidth,
		Points:      make([]models.TimeSeriesPoint, n),
	}
	if n == 0 {
		return s
	}

	catScores := make([]map[string]float64, n)
	for i := range s.Points {
		s.Points[i].Start = origin.Add(time.Duration(i) * a.cfg.BucketWidth)
	}
	for _, c := range commits {
		idx := int(c.Timestamp.Sub(origin) / a.cfg.BucketWidth)
		if idx < 0 || idx >= n {
			continue
		}
		v, counted := contrib(c)
		if !counted {
			continue
		}
		p := &s.Points[idx]
		p.Commits++
		p.Rate += v
		if catScores[idx] == nil {
			catScores[idx] = make(map[string]float64)
		}
		for cat, cv := range c.Scores {
			catScores[idx][cat] += cv
		}
	}

	cumulative, commitsSoFar := 0.0, 0
	for i := range s.Points {
		p := &s.Points[i]
		cumulative += p.Rate
		commitsSoFar += p.Commits
		p.Cumulative = cumulative
		p.CumulativeCommits = commitsSoFar
		if catScores[i] != nil {
			p.Sophistication = a.measure.Score(catScores[i])
		}
	}

	if a.cfg.SmoothingAlpha > 0 {
		a.smooth(s.Points)
	}
	return s
}

// smooth applies the EMA across buckets that have commits. Empty buckets
// keep a sophistication of zero.
func (a *Aggregator) smooth(points []models.TimeSeriesPoint) {
	var idx []int
	var raw []float64
	for i, p := range points {
		if p.Commits > 0 {
			idx = append(idx, i)
			raw = append(raw, p.Sophistication)
		}
	}
	for j, v := range sophistication.Smooth(raw, a.cfg.SmoothingAlpha) {
		points[idx[j]].Sophistication = v
	}
}
