// Package sophistication measures how broadly a set of category scores
// spans the rubric.
package sophistication

import (
	"fmt"
	"math"
	"sort"

	"github.com/panbanda/convergence/pkg/rubric"
)

// Measure names.
const (
	NameEntropy = "entropy"
	NameBlended = "blended"
)

// Measure maps per-category scores to a value in [0,1]. Scores for
// categories outside the rubric are ignored.
type Measure interface {
	Name() string
	Score(scores map[string]float64) float64
}

// New returns the named measure.
func New(name string, r *rubric.Rubric) (Measure, error) {
	switch name {
	case "", NameEntropy:
		return Entropy{Rubric: r}, nil
	case NameBlended:
		return Blended{Rubric: r, HighLevelWeight: 0.7}, nil
	default:
		return nil, fmt.Errorf("unknown sophistication measure %q (valid: %s)", name, NameList())
	}
}

// NameList returns the accepted measure names.
func NameList() string {
	return NameEntropy + ", " + NameBlended
}

// Entropy is the Shannon entropy of category score shares normalized by
// ln(N) for the rubric's N categories. A single active category scores 0
// and an even spread across every category scores 1.
type Entropy struct {
	Rubric *rubric.Rubric
}

// Name implements Measure.
func (Entropy) Name() string { return NameEntropy }

// Score implements Measure.
func (e Entropy) Score(scores map[string]float64) float64 {
	n := e.Rubric.Len()
	if n < 2 {
		return 0
	}
	vals, total := known(e.Rubric, scores)
	if total <= 0 {
		return 0
	}
	h := 0.0
	for _, v := range vals {
		p := v / total
		h -= p * math.Log(p)
	}
	return bound(h / math.Log(float64(n)))
}

// Blended combines the share of score in high-level categories with the
// fraction of the rubric that is active:
//
//	HighLevelWeight*highShare + (1-HighLevelWeight)*breadth
type Blended struct {
	Rubric          *rubric.Rubric
	HighLevelWeight float64
}

// Name implements Measure.
func (Blended) Name() string { return NameBlended }

// Score implements Measure.
func (b Blended) Score(scores map[string]float64) float64 {
	n := b.Rubric.Len()
	if n == 0 {
		return 0
	}
	total, high := 0.0, 0.0
	active := 0
	for name, v := range scores {
		if v <= 0 || !b.Rubric.Has(name) {
			continue
		}
		total += v
		active++
		if b.Rubric.IsHighLevel(name) {
			high += v
		}
	}
	if total <= 0 {
		return 0
	}
	breadth := float64(active) / float64(n)
	return bound(b.HighLevelWeight*(high/total) + (1-b.HighLevelWeight)*breadth)
}

// Smooth applies an exponential moving average. alpha in (0,1]; higher
// values follow the input more closely. alpha outside that range returns a
// copy of the input.
func Smooth(values []float64, alpha float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	if alpha <= 0 || alpha > 1 {
		return out
	}
	for i := 1; i < len(out); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// known returns positive scores for rubric categories in a stable order.
func known(r *rubric.Rubric, scores map[string]float64) ([]float64, float64) {
	names := make([]string, 0, len(scores))
	for name, v := range scores {
		if v > 0 && r.Has(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	vals := make([]float64, len(names))
	total := 0.0
	for i, name := range names {
		vals[i] = scores[name]
		total += vals[i]
	}
	return vals, total
}

func bound(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
