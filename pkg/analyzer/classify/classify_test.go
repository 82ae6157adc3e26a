package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/convergence/pkg/models"
	"github.com/panbanda/convergence/pkg/rubric"
)

type fakeSemantic struct {
	calls  int
	labels map[string]float64
	err    error
	delay  time.Duration
}

func (f *fakeSemantic) ClassifyCommit(ctx context.Context, req SemanticRequest) (map[string]float64, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.labels, f.err
}

func testRubric(t *testing.T) *rubric.Rubric {
	t.Helper()
	r, err := rubric.New([]rubric.Category{
		{Name: "fix", Weight: 3, Patterns: []string{`^fix:`}},
		{Name: "agents", Weight: 3, Patterns: []string{`agent`}},
		{Name: "docs", Weight: 1, Patterns: []string{`^docs:`, `readme`}},
	}, nil, false)
	require.NoError(t, err)
	return r
}

func commit(hash, msg string) models.Commit {
	return models.Commit{Hash: hash, Message: msg, Timestamp: time.Unix(0, 0)}
}

func TestRegex(t *testing.T) {
	r := testRubric(t)

	tests := []struct {
		msg  string
		want []string
	}{
		{"fix: agent loop", []string{"agents", "fix"}},
		{"docs: update README", []string{"docs"}},
		{"chore: bump", []string{}},
		{"Fix: uppercase", []string{"fix"}},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			res := Regex(r, commit("h", tt.msg))
			assert.Equal(t, models.MethodRegex, res.Method)
			assert.Equal(t, tt.want, res.Matched())
			for _, s := range res.Strengths {
				assert.Equal(t, 1.0, s)
			}
		})
	}
}

func TestClassifier_RegexMode(t *testing.T) {
	c := New(testRubric(t))
	assert.Equal(t, "regex", c.Mode())

	res := c.Classify(context.Background(), commit("a", "fix: crash"))
	assert.Equal(t, []string{"fix"}, res.Matched())
	assert.Equal(t, 1, c.Stats().Regex)
}

func TestClassifier_SemanticCachesLabels(t *testing.T) {
	fake := &fakeSemantic{labels: map[string]float64{"agents": 0.7, "docs": 0}}
	store := NewMemoryLabelStore()
	c := New(testRubric(t), WithSemantic(fake), WithLabelStore(store))

	first := c.Classify(context.Background(), commit("a", "rework planner"))
	assert.Equal(t, models.MethodSemantic, first.Method)
	assert.Equal(t, map[string]float64{"agents": 0.7}, first.Strengths)
	assert.Equal(t, 1, store.Len())

	second := c.Classify(context.Background(), commit("a", "rework planner"))
	assert.Equal(t, models.MethodSemanticCached, second.Method)
	assert.Equal(t, first.Strengths, second.Strengths)
	assert.Equal(t, 1, fake.calls)

	// A fresh classifier sharing the store makes no calls at all.
	fake2 := &fakeSemantic{labels: map[string]float64{"fix": 1}}
	c2 := New(testRubric(t), WithSemantic(fake2), WithLabelStore(store))
	c2.Classify(context.Background(), commit("a", "rework planner"))
	assert.Equal(t, 0, fake2.calls)
	assert.Equal(t, 1, c2.Stats().SemanticCached)
}

func TestClassifier_CachedLabelsSurviveRubricChange(t *testing.T) {
	store := NewMemoryLabelStore()
	require.NoError(t, store.PutLabels("a", map[string]float64{"agents": 0.5, "retired": 1}))

	fake := &fakeSemantic{labels: map[string]float64{"fix": 1}}
	c := New(testRubric(t), WithSemantic(fake), WithLabelStore(store))

	res := c.Classify(context.Background(), commit("a", "fix: something"))
	assert.Equal(t, map[string]float64{"agents": 0.5}, res.Strengths)
	assert.Equal(t, 0, fake.calls)

	stored, _ := store.GetLabels("a")
	assert.Contains(t, stored, "retired")
}

func TestClassifier_FallbackOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		fake   *fakeSemantic
		reason string
	}{
		{"error", &fakeSemantic{err: errors.New("rate limited")}, "rate limited"},
		{"unknown category", &fakeSemantic{labels: map[string]float64{"bogus": 1}}, "unknown category"},
		{"out of range", &fakeSemantic{labels: map[string]float64{"fix": 3}}, "outside [0,1]"},
		{"nil mapping", &fakeSemantic{}, "no label mapping"},
		{"timeout", &fakeSemantic{labels: map[string]float64{"fix": 1}, delay: time.Second}, "deadline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryLabelStore()
			c := New(testRubric(t), WithSemantic(tt.fake), WithLabelStore(store), WithTimeout(20*time.Millisecond))

			res := c.Classify(context.Background(), commit("a", "fix: crash"))
			assert.Equal(t, models.MethodFallback, res.Method)
			assert.Contains(t, res.FallbackReason, tt.reason)
			assert.Equal(t, []string{"fix"}, res.Matched())
			assert.Equal(t, 0, store.Len(), "fallback results must not be cached as semantic labels")
			assert.Equal(t, 1, c.Stats().Fallbacks)
		})
	}
}

func TestClassifier_PermanentFallback(t *testing.T) {
	fake := &fakeSemantic{err: errors.New("boom")}
	c := New(testRubric(t), WithSemantic(fake), WithMaxFailures(2))

	for i, h := range []string{"a", "b", "c", "d"} {
		res := c.Classify(context.Background(), commit(h, "fix: x"))
		assert.Equal(t, models.MethodFallback, res.Method, "commit %d", i)
	}
	assert.Equal(t, 2, fake.calls)
	stats := c.Stats()
	assert.True(t, stats.Disabled)
	assert.Equal(t, 4, stats.Fallbacks)
	assert.Equal(t, 2, stats.SemanticCalls)
}

func TestClassifier_SuccessResetsFailureCount(t *testing.T) {
	fake := &fakeSemantic{err: errors.New("flaky")}
	c := New(testRubric(t), WithSemantic(fake), WithMaxFailures(2))

	c.Classify(context.Background(), commit("a", "x"))
	fake.err, fake.labels = nil, map[string]float64{"fix": 1}
	c.Classify(context.Background(), commit("b", "x"))
	fake.err, fake.labels = errors.New("flaky"), nil
	c.Classify(context.Background(), commit("c", "x"))

	assert.False(t, c.Stats().Disabled)
}

func TestValidate(t *testing.T) {
	r := testRubric(t)

	v := Validate(r, map[string]float64{"fix": 0.4, "docs": 0}, nil)
	require.True(t, v.OK())
	assert.Equal(t, map[string]float64{"fix": 0.4}, v.Labels)

	v = Validate(r, map[string]float64{}, nil)
	assert.True(t, v.OK())
	assert.Empty(t, v.Labels)

	v = Validate(r, map[string]float64{"fix": -0.1}, nil)
	assert.False(t, v.OK())

	v = Validate(r, nil, errors.New("network down"))
	assert.False(t, v.OK())
	assert.Equal(t, "network down", v.Reason)
}

func TestSummarizeDiffstat(t *testing.T) {
	assert.Equal(t, "no file changes", SummarizeDiffstat(models.Diffstat{}, 5))

	d := models.NewDiffstat()
	d.Add("b.go", 10, 2, true)
	d.Add("a.go", 1, 1, false)
	d.Add("c.go", 0, 4, false)

	got := SummarizeDiffstat(d, 2)
	assert.Equal(t, "3 files changed, +11/-7\n  a.go +1/-1\n  b.go +10/-2 (new)\n  ... and 1 more", got)
}
