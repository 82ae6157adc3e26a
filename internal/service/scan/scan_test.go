package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/convergence/pkg/analyzer/classify"
	"github.com/panbanda/convergence/pkg/config"
	"github.com/panbanda/convergence/pkg/models"
)

var (
	base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now  = time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
)

// fakeReader serves synthetic histories keyed by path.
type fakeReader struct {
	histories map[string][]models.Commit
	fail      map[string]error
	panic     map[string]bool
	reads     atomic.Int32
}

func (f *fakeReader) Read(_ context.Context, path, name string) ([]models.Commit, error) {
	f.reads.Add(1)
	if f.panic[path] {
		panic("corrupt packfile")
	}
	if err := f.fail[path]; err != nil {
		return nil, err
	}
	out := make([]models.Commit, 0, len(f.histories[path]))
	for _, c := range f.histories[path] {
		c.Repo = name
		out = append(out, c)
	}
	return out, nil
}

type countingSemantic struct {
	calls int
}

func (c *countingSemantic) ClassifyCommit(_ context.Context, _ classify.SemanticRequest) (map[string]float64, error) {
	c.calls++
	return map[string]float64{"agents": 0.8}, nil
}

func history(prefix string, n int) []models.Commit {
	commits := make([]models.Commit, 0, n)
	for i := 0; i < n; i++ {
		msg := "feat: add agent planner"
		if i%2 == 1 {
			msg = "docs: fix typo"
		}
		commits = append(commits, models.Commit{
			Hash:      fmt.Sprintf("%s%038d", prefix, i),
			Timestamp: base.AddDate(0, 0, 7*i),
			Message:   msg,
			Diffstat: models.Diffstat{Files: map[string]models.FileStat{
				"agent.go": {Insertions: 40, Deletions: 5},
			}},
		})
	}
	return commits
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Cache.Dir = filepath.Join(t.TempDir(), ".convergence")
	return cfg
}

func newService(cfg *config.Config, reader HistoryReader, opts ...Option) *Service {
	opts = append([]Option{
		WithConfig(cfg),
		WithHistoryReader(reader),
		WithClock(func() time.Time { return now }),
	}, opts...)
	return New(opts...)
}

func TestRepos(t *testing.T) {
	repos := Repos([]string{"/src/core", "/src/tools", "/other/core"})
	require.Len(t, repos, 3)
	assert.Equal(t, "core", repos[0].Name)
	assert.Equal(t, "tools", repos[1].Name)
	assert.Equal(t, "core-2", repos[2].Name)
	assert.Equal(t, "/other/core", repos[2].Path)
}

func TestRun_NoRepositories(t *testing.T) {
	_, err := newService(testConfig(t), &fakeReader{}).Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoRepositories)
}

func TestRun_InvalidConfigFailsBeforeReading(t *testing.T) {
	cfg := testConfig(t)
	cfg.Aggregation.Bucket = "fortnight"
	reader := &fakeReader{}

	_, err := newService(cfg, reader).Run(context.Background(), []Repo{{Name: "core", Path: "core"}})
	assert.Error(t, err)
	assert.Zero(t, reader.reads.Load())
}

func TestRun_Pipeline(t *testing.T) {
	reader := &fakeReader{histories: map[string][]models.Commit{
		"core":  history("a", 20),
		"tools": history("b", 10),
	}}
	var stages []string
	svc := newService(testConfig(t), reader, WithProgress(func(stage string, current, total int, _ string) {
		if current == total {
			stages = append(stages, stage)
		}
	}))

	result, err := svc.Run(context.Background(), []Repo{{Name: "core", Path: "core"}, {Name: "tools", Path: "tools"}})
	require.NoError(t, err)

	assert.Equal(t, now, result.GeneratedAt)
	assert.Equal(t, 30, result.TotalCommits)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Repos, 2)
	assert.Equal(t, 20, result.Repos[0].Commits)
	assert.Equal(t, 10, result.Repos[1].Commits)
	assert.InDelta(t, 100, result.Repos[0].CapabilityPercent+result.Repos[1].CapabilityPercent, 1e-9)
	require.NotEmpty(t, result.Repos[0].TopCategories)
	assert.Equal(t, "agents", result.Repos[0].TopCategories[0].Name)
	assert.Equal(t, 10, result.Repos[0].TopCategories[0].Commits)

	assert.Len(t, result.PerRepo, 2)
	assert.Len(t, result.PerCategory, 9)
	for i := 1; i < result.Combined.Len(); i++ {
		assert.GreaterOrEqual(t, result.Combined.Points[i].Cumulative, result.Combined.Points[i-1].Cumulative)
	}

	require.Len(t, result.Fits, 3)
	for _, name := range []string{FitCapability, FitCommitRate, FitSophistication} {
		rep, ok := result.Fit(name)
		require.True(t, ok, name)
		assert.NotEmpty(t, rep.Status)
	}

	assert.Equal(t, 30, result.Classification.Regex)
	assert.Equal(t, 30, result.Cache.Misses)
	assert.Equal(t, "3/regex", result.Cache.Version)
	require.Len(t, result.History, 1)
	assert.NotEmpty(t, result.History[0].RunID)
	assert.Equal(t, 30, result.History[0].TotalCommits)

	assert.Equal(t, []string{StageHistory, StageScoring}, stages)
}

func TestRun_RerunIsIdempotentAndCached(t *testing.T) {
	cfg := testConfig(t)
	reader := &fakeReader{histories: map[string][]models.Commit{"core": history("a", 16)}}
	repos := []Repo{{Name: "core", Path: "core"}}

	first, err := newService(cfg, reader).Run(context.Background(), repos)
	require.NoError(t, err)
	second, err := newService(cfg, reader).Run(context.Background(), repos)
	require.NoError(t, err)

	assert.Equal(t, 16, second.Cache.Hits)
	assert.Zero(t, second.Cache.Misses)
	assert.Equal(t, first.Combined, second.Combined)
	assert.Equal(t, first.Estimate, second.Estimate)
	assert.Len(t, second.History, 2)
}

func TestRun_SchemaBumpRescoresEverything(t *testing.T) {
	cfg := testConfig(t)
	reader := &fakeReader{histories: map[string][]models.Commit{"core": history("a", 8)}}
	repos := []Repo{{Name: "core", Path: "core"}}

	_, err := newService(cfg, reader).Run(context.Background(), repos)
	require.NoError(t, err)

	cfg.Cache.Version = "4"
	result, err := newService(cfg, reader).Run(context.Background(), repos)
	require.NoError(t, err)
	assert.Zero(t, result.Cache.Hits)
	assert.Equal(t, 8, result.Cache.Misses)
	assert.True(t, result.Cache.Discarded)
}

func TestRun_SemanticRerunMakesNoCalls(t *testing.T) {
	cfg := testConfig(t)
	reader := &fakeReader{histories: map[string][]models.Commit{"core": history("a", 12)}}
	repos := []Repo{{Name: "core", Path: "core"}}

	sem := &countingSemantic{}
	first, err := newService(cfg, reader, WithSemantic(sem)).Run(context.Background(), repos)
	require.NoError(t, err)
	assert.Equal(t, 12, sem.calls)
	assert.Equal(t, 12, first.Classification.Semantic)
	assert.Equal(t, "3/semantic", first.Cache.Version)

	// Score cache hit: the classifier is never consulted.
	sem2 := &countingSemantic{}
	second, err := newService(cfg, reader, WithSemantic(sem2)).Run(context.Background(), repos)
	require.NoError(t, err)
	assert.Zero(t, sem2.calls)
	assert.Equal(t, 12, second.Cache.Hits)

	// Schema bump: scores are rebuilt from the persisted labels.
	cfg.Cache.Version = "4"
	sem3 := &countingSemantic{}
	third, err := newService(cfg, reader, WithSemantic(sem3)).Run(context.Background(), repos)
	require.NoError(t, err)
	assert.Zero(t, sem3.calls)
	assert.Equal(t, 12, third.Classification.SemanticCached)
}

func TestRun_RepositoryErrorsAreIsolated(t *testing.T) {
	reader := &fakeReader{
		histories: map[string][]models.Commit{"core": history("a", 6)},
		fail:      map[string]error{"broken": errors.New("object not found")},
		panic:     map[string]bool{"exploding": true},
	}
	repos := []Repo{
		{Name: "broken", Path: "broken"},
		{Name: "core", Path: "core"},
		{Name: "exploding", Path: "exploding"},
	}

	result, err := newService(testConfig(t), reader).Run(context.Background(), repos)
	require.NoError(t, err)
	assert.Equal(t, 6, result.TotalCommits)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "broken", result.Errors[0].Repo)
	assert.Contains(t, result.Errors[0].Error, "object not found")
	assert.Equal(t, "exploding", result.Errors[1].Repo)
	assert.Contains(t, result.Errors[1].Error, "corrupt packfile")
	require.Len(t, result.Repos, 1)
}

func TestRun_AllRepositoriesFail(t *testing.T) {
	reader := &fakeReader{fail: map[string]error{"a": errors.New("boom"), "b": errors.New("boom")}}
	result, err := newService(testConfig(t), reader).Run(context.Background(),
		[]Repo{{Name: "a", Path: "a"}, {Name: "b", Path: "b"}})
	assert.ErrorIs(t, err, ErrAllFailed)
	require.NotNil(t, result)
	assert.Len(t, result.Errors, 2)
	assert.False(t, result.Estimate.Determined)
}

func TestRun_DuplicateCommitsCountOnce(t *testing.T) {
	shared := history("a", 6)
	reader := &fakeReader{histories: map[string][]models.Commit{
		"core": shared,
		"fork": append(append([]models.Commit{}, shared...), history("b", 2)...),
	}}

	result, err := newService(testConfig(t), reader).Run(context.Background(),
		[]Repo{{Name: "core", Path: "core"}, {Name: "fork", Path: "fork"}})
	require.NoError(t, err)
	assert.Equal(t, 8, result.TotalCommits)
	require.Len(t, result.Repos, 2)
	assert.Equal(t, 6, result.Repos[0].Commits)
	assert.Equal(t, 2, result.Repos[1].Commits)
	assert.Equal(t, 6, result.Repos[1].Duplicates)
}

func TestRun_InceptionExcludesEarlierCommits(t *testing.T) {
	cfg := testConfig(t)
	cfg.Goal.InceptionDate = "2024-02-01"
	reader := &fakeReader{histories: map[string][]models.Commit{"core": history("a", 10)}}

	result, err := newService(cfg, reader).Run(context.Background(), []Repo{{Name: "core", Path: "core"}})
	require.NoError(t, err)
	// Weekly commits from 2024-01-01: five fall in January.
	assert.Equal(t, 5, result.Excluded)
	assert.Equal(t, 5, result.TotalCommits)
	require.NotNil(t, result.Inception)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *result.Inception)
}

func TestRun_CacheDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Enabled = false
	reader := &fakeReader{histories: map[string][]models.Commit{"core": history("a", 4)}}

	result, err := newService(cfg, reader).Run(context.Background(), []Repo{{Name: "core", Path: "core"}})
	require.NoError(t, err)
	assert.Len(t, result.History, 1)
	_, statErr := os.Stat(cfg.Cache.Dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestHistory(t *testing.T) {
	cfg := testConfig(t)
	reader := &fakeReader{histories: map[string][]models.Commit{"core": history("a", 4)}}
	repos := []Repo{{Name: "core", Path: "core"}}

	for i := 0; i < 3; i++ {
		_, err := newService(cfg, reader).Run(context.Background(), repos)
		require.NoError(t, err)
	}

	snaps, err := History(cfg.Cache.Dir, 2)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestRun_GitRepository(t *testing.T) {
	repoPath := t.TempDir()
	repo, err := git.PlainInit(repoPath, false)
	require.NoError(t, err)
	w, err := repo.Worktree()
	require.NoError(t, err)

	messages := []string{
		"feat: project structure and foundation",
		"feat: add agent planner",
		"test: guard against bad input",
		"docs: fix typo",
	}
	for i, msg := range messages {
		name := fmt.Sprintf("file%d.go", i)
		require.NoError(t, os.WriteFile(filepath.Join(repoPath, name), []byte("package main\n\nfunc f() {}\n"), 0644))
		_, err := w.Add(name)
		require.NoError(t, err)
		_, err = w.Commit(msg, &git.CommitOptions{
			Author: &object.Signature{Name: "Test", Email: "test@example.com", When: base.AddDate(0, 0, 3*i)},
		})
		require.NoError(t, err)
	}

	cfg := testConfig(t)
	svc := New(WithConfig(cfg), WithClock(func() time.Time { return now }))
	result, err := svc.Run(context.Background(), Repos([]string{repoPath}))
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalCommits)
	require.Len(t, result.Repos, 1)
	assert.Equal(t, filepath.Base(repoPath), result.Repos[0].Name)
	assert.Greater(t, result.Combined.Last().Cumulative, 0.0)
	assert.False(t, result.Estimate.Determined)
}
