package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/convergence/pkg/analyzer/classify"
	"github.com/panbanda/convergence/pkg/analyzer/diffstat"
	"github.com/panbanda/convergence/pkg/analyzer/sophistication"
	"github.com/panbanda/convergence/pkg/models"
	"github.com/panbanda/convergence/pkg/rubric"
	"github.com/panbanda/convergence/pkg/scorecache"
)

type countingSemantic struct {
	calls int
}

func (c *countingSemantic) ClassifyCommit(_ context.Context, req classify.SemanticRequest) (map[string]float64, error) {
	c.calls++
	return map[string]float64{"fix": 0.8}, nil
}

type failingSemantic struct {
	calls int
}

func (f *failingSemantic) ClassifyCommit(context.Context, classify.SemanticRequest) (map[string]float64, error) {
	f.calls++
	return nil, errors.New("service unavailable")
}

func fixRubric(t *testing.T) *rubric.Rubric {
	t.Helper()
	r, err := rubric.New([]rubric.Category{{Name: "fix", Weight: 3, Patterns: []string{`^fix:`}}}, nil, false)
	require.NoError(t, err)
	return r
}

func scenarioCommits() []models.Commit {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bug := models.NewDiffstat()
	bug.Add("main.go", 6, 4, false)
	docs := models.NewDiffstat()
	docs.Add("README.md", 3, 0, false)
	typo := models.NewDiffstat()
	typo.Add("config.json", 1, 1, false)
	return []models.Commit{
		{Hash: "c1", Repo: "r", Timestamp: base, Message: "fix: bug", Diffstat: bug},
		{Hash: "c2", Repo: "r", Timestamp: base.Add(time.Hour), Message: "docs: update", Diffstat: docs},
		{Hash: "c3", Repo: "r", Timestamp: base.Add(2 * time.Hour), Message: "fix: typo", Diffstat: typo},
	}
}

func newScorer(t *testing.T, r *rubric.Rubric, c *classify.Classifier, cache *scorecache.Store) *Scorer {
	t.Helper()
	m, err := sophistication.New("", r)
	require.NoError(t, err)
	return New(r, c, diffstat.New(r, diffstat.DefaultConfig()), m, WithCache(cache))
}

func TestScore_Scenario(t *testing.T) {
	r := fixRubric(t)
	s := newScorer(t, r, classify.New(r), nil)

	scored := s.ScoreAll(context.Background(), scenarioCommits())
	require.Len(t, scored, 3)

	assert.InDelta(t, 3.0, scored[0].Scores["fix"], 1e-9)
	assert.InDelta(t, 3.0, scored[0].Total, 1e-9)
	assert.False(t, scored[1].Matched())
	assert.Equal(t, DefaultUnmatchedScore, scored[1].Total)
	assert.InDelta(t, 2.4, scored[2].Scores["fix"], 1e-9)
	assert.Less(t, scored[2].Total, scored[0].Total)
}

func TestScore_Bounds(t *testing.T) {
	r := rubric.Default()
	s := newScorer(t, r, classify.New(r), nil)

	huge := models.NewDiffstat()
	for _, p := range []string{"a.go", "b.go", "c.go", "d.go"} {
		huge.Add(p, 5000, 0, true)
	}
	msg := "agent self-modifying meta orchestration aql filter install security websocket setup persona"
	sc := s.Score(context.Background(), models.Commit{Hash: "x", Message: msg, Diffstat: huge})

	assert.Equal(t, r.MaxScore(), sc.Total)
	for _, v := range sc.Scores {
		assert.GreaterOrEqual(t, v, 0.0)
	}
	assert.GreaterOrEqual(t, sc.Sophistication, 0.0)
	assert.LessOrEqual(t, sc.Sophistication, 1.0)
}

func TestScore_IdempotentWithZeroSemanticCalls(t *testing.T) {
	r := fixRubric(t)
	cache := scorecache.New(Version("3", "semantic"))
	sem := &countingSemantic{}

	first := newScorer(t, r, classify.New(r, classify.WithSemantic(sem)), cache).
		ScoreAll(context.Background(), scenarioCommits())
	assert.Equal(t, 3, sem.calls)

	sem.calls = 0
	s := newScorer(t, r, classify.New(r, classify.WithSemantic(sem)), cache)
	second := s.ScoreAll(context.Background(), scenarioCommits())

	assert.Equal(t, first, second)
	assert.Equal(t, 0, sem.calls)
	assert.Equal(t, 3, s.CacheStats().Hits)
}

func TestScore_VersionBumpRebuildsEverything(t *testing.T) {
	r := fixRubric(t)
	old := scorecache.New(Version("3", "semantic"))
	sem := &countingSemantic{}
	newScorer(t, r, classify.New(r, classify.WithSemantic(sem)), old).
		ScoreAll(context.Background(), scenarioCommits())

	bumped := scorecache.New(Version("4", "semantic"))
	restored := bumped.Restore(old.Version(), old.Entries())
	assert.False(t, restored)

	// A separate label store forces the classifier to be consulted again,
	// which is how a rebuild is observed.
	sem.calls = 0
	s := newScorer(t, r, classify.New(r, classify.WithSemantic(sem)), bumped)
	s.ScoreAll(context.Background(), scenarioCommits())

	assert.Equal(t, 3, sem.calls)
	st := s.CacheStats()
	assert.Equal(t, 0, st.Hits)
	assert.Equal(t, 3, st.Misses)
	assert.Equal(t, 3, st.Entries)
}

func TestScore_FallbackRetriedOnNextRun(t *testing.T) {
	r := fixRubric(t)
	version := Version("3", "semantic")

	outage := scorecache.New(version)
	down := &failingSemantic{}
	first := newScorer(t, r, classify.New(r, classify.WithSemantic(down)), outage).
		ScoreAll(context.Background(), scenarioCommits())
	for _, sc := range first {
		assert.Equal(t, models.MethodFallback, sc.Method)
	}
	assert.Positive(t, down.calls)
	assert.Equal(t, 0, outage.Len(), "fallback scores must not be cached")

	next := scorecache.New(version)
	require.True(t, next.Restore(outage.Version(), outage.Entries()))

	up := &countingSemantic{}
	s := newScorer(t, r, classify.New(r, classify.WithSemantic(up)), next)
	second := s.ScoreAll(context.Background(), scenarioCommits())

	assert.Equal(t, 3, up.calls)
	for _, sc := range second {
		assert.Equal(t, models.MethodSemantic, sc.Method)
	}
	assert.Equal(t, 3, next.Len())
}

func TestScore_CappedCategoryScoresSumToTotal(t *testing.T) {
	r, err := rubric.New([]rubric.Category{
		{Name: "agents", Weight: 5, Patterns: []string{`agent`}},
		{Name: "tools", Weight: 4, Patterns: []string{`tool`}},
	}, nil, false)
	require.NoError(t, err)
	s := newScorer(t, r, classify.New(r), nil)

	huge := models.NewDiffstat()
	for _, p := range []string{"a.go", "b.go", "c.go", "d.go"} {
		huge.Add(p, 5000, 0, true)
	}
	sc := s.Score(context.Background(), models.Commit{Hash: "x", Message: "agent tool loop", Diffstat: huge})

	require.Greater(t, sc.Multiplier, 1.0)
	assert.Equal(t, r.MaxScore(), sc.Total)

	sum := 0.0
	for _, v := range sc.Scores {
		sum += v
	}
	assert.InDelta(t, sc.Total, sum, 1e-9)
	assert.InDelta(t, 5.0/4.0, sc.Scores["agents"]/sc.Scores["tools"], 1e-9)
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "3/regex", Version("3", "regex"))
	assert.NotEqual(t, Version("3", "regex"), Version("3", "semantic"))
}
