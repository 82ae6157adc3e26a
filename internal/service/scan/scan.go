// Package scan runs the full convergence pipeline over a set of
// repositories: history extraction, scoring, aggregation, curve fitting and
// prediction.
package scan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/panbanda/convergence/internal/cache"
	"github.com/panbanda/convergence/internal/llm"
	"github.com/panbanda/convergence/internal/logging"
	"github.com/panbanda/convergence/internal/parallel"
	"github.com/panbanda/convergence/internal/vcs"
	"github.com/panbanda/convergence/pkg/analyzer/aggregate"
	"github.com/panbanda/convergence/pkg/analyzer/classify"
	"github.com/panbanda/convergence/pkg/analyzer/convergence"
	"github.com/panbanda/convergence/pkg/analyzer/diffstat"
	"github.com/panbanda/convergence/pkg/analyzer/growth"
	"github.com/panbanda/convergence/pkg/analyzer/scoring"
	"github.com/panbanda/convergence/pkg/config"
	"github.com/panbanda/convergence/pkg/models"
	"github.com/panbanda/convergence/pkg/scorecache"
)

// Fit series names.
const (
	FitCapability     = "capability"
	FitCommitRate     = "commit_rate"
	FitSophistication = "sophistication"
)

// Progress stages.
const (
	StageHistory = "history"
	StageScoring = "scoring"
)

// topCategories is how many categories RepoStats lists.
const topCategories = 3

var (
	// ErrNoRepositories is returned when Run is given nothing to scan.
	ErrNoRepositories = errors.New("no repositories to scan")
	// ErrAllFailed is returned, along with the partial result, when no
	// repository could be read.
	ErrAllFailed = errors.New("every repository failed")
)

// ProgressFunc reports progress. detail is the repository name during the
// history stage and the commit hash while scoring.
type ProgressFunc func(stage string, current, total int, detail string)

// HistoryReader reads one repository's commits.
type HistoryReader interface {
	Read(ctx context.Context, path, name string) ([]models.Commit, error)
}

// Repo is a repository to scan.
type Repo struct {
	Name string
	Path string
}

// Repos names each path after its directory. Repeated names get a numeric
// suffix so per-repository series stay distinct.
func Repos(paths []string) []Repo {
	seen := make(map[string]int)
	out := make([]Repo, 0, len(paths))
	for _, p := range paths {
		name := filepath.Base(p)
		if abs, err := filepath.Abs(p); err == nil {
			name = filepath.Base(abs)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = name + "-" + strconv.Itoa(n)
		}
		out = append(out, Repo{Name: name, Path: p})
	}
	return out
}

// Service orchestrates scans.
type Service struct {
	config     *config.Config
	reader     HistoryReader
	semantic   classify.SemanticClassifier
	logger     logrus.FieldLogger
	onProgress ProgressFunc
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithConfig sets the configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

// WithHistoryReader replaces the git history reader (for testing).
func WithHistoryReader(r HistoryReader) Option {
	return func(s *Service) {
		s.reader = r
	}
}

// WithSemantic sets the semantic classifier instead of building one from
// the semantic config section.
func WithSemantic(sc classify.SemanticClassifier) Option {
	return func(s *Service) {
		s.semantic = sc
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProgress sets a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Service) {
		s.onProgress = fn
	}
}

// WithClock sets the time source used for the series end and run time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a scan service.
func New(opts ...Option) *Service {
	s := &Service{
		config: config.DefaultConfig(),
		logger: logging.Discard(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reader == nil {
		s.reader = vcs.NewHistoryReader(
			vcs.WithNative(s.config.Repos.NativeGit),
			vcs.WithTimeout(s.config.GitTimeout()),
			vcs.WithLogger(s.logger),
		)
	}
	return s
}

// pipeline holds the per-run components built from config.
type pipeline struct {
	classifier  *classify.Classifier
	scorer      *scoring.Scorer
	aggregator  *aggregate.Aggregator
	fit         growth.Config
	store       *scorecache.Store
	files       *cache.Cache
	state       *cache.State
	cacheLoaded cache.LoadResult
}

func (p *pipeline) close() {
	if p.state != nil {
		p.state.Close()
	}
}

// Run scans repos and returns the assembled result. Repositories that fail
// are reported in ScanResult.Errors and the rest of the scan continues.
func (s *Service) Run(ctx context.Context, repos []Repo) (*models.ScanResult, error) {
	if len(repos) == 0 {
		return nil, ErrNoRepositories
	}
	now := s.now().UTC()

	p, err := s.build(now)
	if err != nil {
		return nil, err
	}
	defer p.close()

	histories, stats, repoErrs := s.readAll(ctx, repos)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	commits, dups := vcs.Merge(histories...)
	if dups > 0 {
		s.logger.WithField("duplicates", dups).Info("dropped commits shared between repositories")
	}

	scored := make([]models.ScoredCommit, 0, len(commits))
	for i, c := range commits {
		scored = append(scored, p.scorer.Score(ctx, c))
		s.progress(StageScoring, i+1, len(commits), c.Hash)
	}
	if p.files.Enabled() {
		if err := p.files.Save(p.store); err != nil {
			s.logger.WithError(err).Warn("failed to save score cache")
		}
	}

	agg := p.aggregator.Run(scored)
	result := &models.ScanResult{
		GeneratedAt:    now,
		Excluded:       agg.Excluded,
		TotalCommits:   len(agg.Included),
		Errors:         repoErrs,
		Combined:       agg.Combined,
		PerRepo:        agg.PerRepo,
		PerCategory:    agg.PerCategory,
		Classification: p.classifier.Stats(),
	}
	if inception, _ := s.config.Inception(); !inception.IsZero() {
		result.Inception = &inception
	}
	result.Repos = repoStats(stats, agg.Included)

	capability := growth.LogisticReport(FitCapability, agg.Combined, models.CumulativeScore, p.fit)
	commitRate := growth.LogisticReport(FitCommitRate, agg.Combined, models.CumulativeCommits, p.fit)
	trend := growth.TrendReport(FitSophistication, agg.Combined, models.Sophistication)
	result.Fits = []models.FitReport{capability, commitRate, trend}
	result.Estimate = convergence.Predict(convergence.Inputs{
		Capability:       capability.Logistic,
		CapabilityStatus: capability.Status,
		CapabilityError:  capability.Error,
		CommitRate:       commitRate.Logistic,
		Sophistication:   trend.Trend,
		HistorySpan:      agg.Combined.Span(),
		Now:              now,
	}, s.config.Prediction)

	cs := p.scorer.CacheStats()
	cs.Discarded = p.cacheLoaded.Discarded
	result.Cache = cs

	result.History = s.record(p.state, snapshot(result, capability))

	s.logger.WithFields(logrus.Fields{
		"commits":    result.TotalCommits,
		"excluded":   result.Excluded,
		"determined": result.Estimate.Determined,
		"confidence": result.Estimate.Confidence,
	}).Info("scan complete")

	if len(repoErrs) == len(repos) {
		return result, ErrAllFailed
	}
	return result, nil
}

// build wires the scoring pipeline from config. Configuration problems
// are returned before any repository is touched.
func (s *Service) build(now time.Time) (*pipeline, error) {
	cfg := s.config
	r, err := cfg.BuildRubric()
	if err != nil {
		return nil, err
	}
	measure, err := cfg.BuildMeasure(r)
	if err != nil {
		return nil, err
	}
	width, err := cfg.BucketWidth()
	if err != nil {
		return nil, err
	}
	inception, err := cfg.Inception()
	if err != nil {
		return nil, err
	}
	fit, err := cfg.GrowthConfig()
	if err != nil {
		return nil, err
	}

	p := &pipeline{fit: fit}
	p.files, err = cache.New(cfg.Cache.Dir, cfg.Cache.Enabled, cache.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Enabled {
		p.state, err = cache.OpenState(cfg.Cache.Dir, cache.WithStateLogger(s.logger))
		if err != nil {
			return nil, fmt.Errorf("opening state: %w", err)
		}
	}

	classifyOpts := []classify.Option{
		classify.WithTimeout(cfg.SemanticTimeout()),
		classify.WithMaxFailures(cfg.Semantic.MaxFailures),
		classify.WithDiffstatFiles(cfg.Semantic.DiffstatFiles),
		classify.WithLogger(s.logger),
	}
	semantic := s.semantic
	if semantic == nil && cfg.Semantic.Enabled {
		semantic, err = llm.New(cfg.LLMConfig(), llm.WithLogger(s.logger))
		if err != nil {
			p.close()
			return nil, fmt.Errorf("semantic classification: %w", err)
		}
	}
	if semantic != nil {
		classifyOpts = append(classifyOpts, classify.WithSemantic(semantic))
		if p.state != nil {
			classifyOpts = append(classifyOpts, classify.WithLabelStore(p.state))
		}
	}
	p.classifier = classify.New(r, classifyOpts...)

	p.store = scorecache.New(scoring.Version(cfg.Cache.Version, p.classifier.Mode()))
	p.cacheLoaded, err = p.files.Load(p.store)
	if err != nil {
		s.logger.WithError(err).Warn("score cache unavailable, rescoring")
	}

	adjuster := diffstat.New(r, cfg.Scoring, diffstat.WithFileRules(cfg.Files), diffstat.WithLogger(s.logger))
	p.scorer = scoring.New(r, p.classifier, adjuster, measure,
		scoring.WithCache(p.store),
		scoring.WithUnmatchedScore(cfg.Rubric.UnmatchedScore),
	)

	p.aggregator, err = aggregate.New(r, measure, aggregate.Config{
		BucketWidth:    width,
		Inception:      inception,
		Now:            now,
		SmoothingAlpha: cfg.Sophistication.SmoothingAlpha,
	})
	if err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

// readAll reads repositories concurrently. A failure or panic in one
// repository is recorded and does not stop the others. Duplicate hashes are
// attributed in repository order.
func (s *Service) readAll(ctx context.Context, repos []Repo) ([][]models.Commit, []models.RepoStats, []models.RepoError) {
	var (
		histories [][]models.Commit
		stats     []models.RepoStats
		errs      []models.RepoError
	)

	s.progress(StageHistory, 0, len(repos), "")
	results := parallel.Map(ctx, repos, s.config.Repos.Workers,
		func(ctx context.Context, repo Repo) ([]models.Commit, error) {
			return s.reader.Read(ctx, repo.Path, repo.Name)
		},
		func(done, total int) {
			s.progress(StageHistory, done, total, "")
		})

	seen := make(map[string]bool)
	for i, res := range results {
		repo := repos[i]
		if res.Err != nil {
			s.logger.WithError(res.Err).WithFields(logrus.Fields{
				"repo": repo.Name,
				"path": repo.Path,
			}).Warn("failed to read repository")
			errs = append(errs, models.RepoError{Repo: repo.Name, Path: repo.Path, Error: res.Err.Error()})
			continue
		}

		st := models.RepoStats{Name: repo.Name, Path: repo.Path}
		for _, c := range res.Value {
			if seen[c.Hash] {
				st.Duplicates++
			}
			seen[c.Hash] = true
		}
		histories = append(histories, res.Value)
		stats = append(stats, st)
	}
	return histories, stats, errs
}

// repoStats fills per-repository totals from the commits that made it into
// the series.
func repoStats(stats []models.RepoStats, included []models.ScoredCommit) []models.RepoStats {
	type categoryTotal struct {
		score   float64
		commits int
	}
	index := make(map[string]int, len(stats))
	cats := make([]map[string]*categoryTotal, len(stats))
	for i, st := range stats {
		index[st.Name] = i
		cats[i] = make(map[string]*categoryTotal)
	}

	combined := 0.0
	for _, c := range included {
		combined += c.Total
		i, ok := index[c.Repo]
		if !ok {
			continue
		}
		st := &stats[i]
		st.Commits++
		st.Capability += c.Total
		ts := c.Timestamp
		if st.FirstCommit == nil || ts.Before(*st.FirstCommit) {
			st.FirstCommit = &ts
		}
		if st.LastCommit == nil || ts.After(*st.LastCommit) {
			st.LastCommit = &ts
		}
		for name, v := range c.Scores {
			if v <= 0 {
				continue
			}
			ct := cats[i][name]
			if ct == nil {
				ct = &categoryTotal{}
				cats[i][name] = ct
			}
			ct.score += v
			ct.commits++
		}
	}

	for i := range stats {
		if combined > 0 {
			stats[i].CapabilityPercent = stats[i].Capability / combined * 100
		}
		top := make([]models.CategoryCount, 0, len(cats[i]))
		for name, ct := range cats[i] {
			top = append(top, models.CategoryCount{Name: name, Score: ct.score, Commits: ct.commits})
		}
		sort.Slice(top, func(a, b int) bool {
			if top[a].Score != top[b].Score {
				return top[a].Score > top[b].Score
			}
			return top[a].Name < top[b].Name
		})
		if len(top) > topCategories {
			top = top[:topCategories]
		}
		stats[i].TopCategories = top
	}
	return stats
}

func snapshot(result *models.ScanResult, capability models.FitReport) models.HistorySnapshot {
	est := result.Estimate
	snap := models.HistorySnapshot{
		RunID:              uuid.NewString(),
		ScanTime:           result.GeneratedAt,
		ConvergenceDate:    est.Date,
		Confidence:         est.Confidence,
		ComponentDates:     est.ComponentDates,
		DaysUntil:          est.DaysUntil,
		TotalCommits:       result.TotalCommits,
		Capability:         result.Combined.Last().Cumulative,
		PercentOfAsymptote: capability.PercentOfAsymptote,
	}
	return snap
}

// record appends snap to the run history and returns the most recent runs,
// oldest first. Without a state database only snap is returned.
func (s *Service) record(state *cache.State, snap models.HistorySnapshot) []models.HistorySnapshot {
	if state == nil {
		return []models.HistorySnapshot{snap}
	}
	if err := state.AppendSnapshot(snap); err != nil {
		s.logger.WithError(err).Warn("failed to record scan history")
		return []models.HistorySnapshot{snap}
	}
	history, err := state.Snapshots(s.config.Output.HistoryLimit)
	if err != nil {
		s.logger.WithError(err).Warn("failed to read scan history")
		return []models.HistorySnapshot{snap}
	}
	return history
}

func (s *Service) progress(stage string, current, total int, detail string) {
	if s.onProgress != nil {
		s.onProgress(stage, current, total, detail)
	}
}

// History returns up to limit recorded scans from the state database in
// dir, oldest first.
func History(dir string, limit int, opts ...cache.StateOption) ([]models.HistorySnapshot, error) {
	state, err := cache.OpenState(dir, opts...)
	if err != nil {
		return nil, err
	}
	defer state.Close()
	return state.Snapshots(limit)
}
