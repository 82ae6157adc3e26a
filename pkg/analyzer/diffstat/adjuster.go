// Package diffstat rescales classification results by the shape of each
// commit's code change.
package diffstat

import (
	"github.com/sirupsen/logrus"

	"github.com/panbanda/convergence/internal/logging"
	"github.com/panbanda/convergence/pkg/models"
	"github.com/panbanda/convergence/pkg/rubric"
)

// KindStat accumulates line counts for one file kind.
type KindStat struct {
	Files      int `json:"files"`
	Insertions int `json:"insertions"`
	Deletions  int `json:"deletions"`
}

// Lines returns insertions plus deletions.
func (k KindStat) Lines() int {
	return k.Insertions + k.Deletions
}

// Summary is a diffstat broken down by file kind.
type Summary struct {
	ByKind   map[Kind]KindStat `json:"by_kind"`
	NewFiles int               `json:"new_files"`
	Total    int               `json:"total"` // all lines inserted and deleted
}

// Stat returns the counts for a kind.
func (s Summary) Stat(k Kind) KindStat {
	return s.ByKind[k]
}

// SourceLines returns lines changed in non-test source files.
func (s Summary) SourceLines() int {
	return s.ByKind[KindSource].Lines()
}

// SourceFraction is the share of changed lines in source and test files.
// An empty change reports 1.
func (s Summary) SourceFraction() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.ByKind[KindSource].Lines()+s.ByKind[KindTest].Lines()) / float64(s.Total)
}

// ConfigOnly reports whether the change is dominated by configuration files.
func (s Summary) ConfigOnly(minSourceFraction float64) bool {
	return s.ByKind[KindConfig].Lines() > 0 && s.SourceFraction() < minSourceFraction
}

// Adjustment is the adjusted score breakdown for one commit.
type Adjustment struct {
	Scores     map[string]float64
	Strengths  map[string]float64 // strengths after the test bonus
	Multiplier float64
	Clamped    bool
	Summary    Summary
}

// Adjuster converts classification strengths into weighted scores.
type Adjuster struct {
	cfg    Config
	rubric *rubric.Rubric
	files  *FileClassifier
	logger logrus.FieldLogger
}

// Option configures an Adjuster.
type Option func(*Adjuster)

// WithLogger sets the logger used to report clamped multipliers.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Adjuster) {
		a.logger = l
	}
}

// WithFileRules overrides the file classification rules.
func WithFileRules(rules FileRules) Option {
	return func(a *Adjuster) {
		a.files = NewFileClassifier(rules)
	}
}

// New creates an adjuster for a rubric.
func New(r *rubric.Rubric, cfg Config, opts ...Option) *Adjuster {
	a := &Adjuster{
		cfg:    cfg,
		rubric: r,
		files:  NewFileClassifier(DefaultFileRules()),
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Summarize groups a diffstat by file kind.
func (a *Adjuster) Summarize(d models.Diffstat) Summary {
	s := Summary{ByKind: make(map[Kind]KindStat, 5)}
	for p, fs := range d.Files {
		kind := a.files.Classify(p)
		ks := s.ByKind[kind]
		ks.Files++
		ks.Insertions += fs.Insertions
		ks.Deletions += fs.Deletions
		s.ByKind[kind] = ks
		s.Total += fs.Lines()
		if fs.New {
			s.NewFiles++
		}
	}
	return s
}

// Multiplier computes the clamped diffstat multiplier:
//
//	(1 + change bonus + new file bonus) * config dampening
//
// Every term is non-decreasing in source lines, so more genuine source
// change never lowers the result.
func (a *Adjuster) Multiplier(s Summary) (m float64, clamped bool) {
	if s.Total == 0 && s.NewFiles == 0 {
		return 1, false
	}

	m = 1.0
	switch src := s.SourceLines(); {
	case src >= a.cfg.LargeChangeThreshold && a.cfg.LargeChangeThreshold > 0:
		m += a.cfg.LargeChangeBonus
	case src >= a.cfg.MediumChangeThreshold && a.cfg.MediumChangeThreshold > 0:
		m += a.cfg.MediumChangeBonus
	}

	switch {
	case s.NewFiles >= a.cfg.MajorNewFiles:
		m += a.cfg.MajorNewFilesBonus
	case s.NewFiles >= a.cfg.MinorNewFiles:
		m += a.cfg.MinorNewFilesBonus
	}

	if s.ConfigOnly(a.cfg.MinSourceFraction) {
		m *= a.cfg.ConfigOnlyMultiplier
	}

	switch {
	case m < a.cfg.Floor:
		return a.cfg.Floor, true
	case m > a.cfg.Ceiling:
		return a.cfg.Ceiling, true
	}
	return m, false
}

// Adjust weights each matched category: weight * strength * multiplier.
// Categories unknown to the rubric are dropped.
func (a *Adjuster) Adjust(res models.ClassificationResult, d models.Diffstat) Adjustment {
	summary := a.Summarize(d)
	mult, clamped := a.Multiplier(summary)
	if clamped {
		a.logger.WithFields(logrus.Fields{
			"commit":     res.Hash,
			"multiplier": mult,
		}).Debug("diffstat multiplier clamped")
	}

	strengths := make(map[string]float64, len(res.Strengths)+1)
	for name, s := range res.Strengths {
		if !a.rubric.Has(name) || s <= 0 {
			continue
		}
		strengths[name] = clamp01(s)
	}

	if tc := a.cfg.TestCategory; tc != "" && a.rubric.Has(tc) &&
		a.cfg.TestLinesThreshold > 0 && summary.Stat(KindTest).Insertions >= a.cfg.TestLinesThreshold {
		if strengths[tc] < a.cfg.TestStrength {
			strengths[tc] = a.cfg.TestStrength
		}
	}

	scores := make(map[string]float64, len(strengths))
	for name, s := range strengths {
		scores[name] = a.rubric.Weight(name) * s * mult
	}

	return Adjustment{
		Scores:     scores,
		Strengths:  strengths,
		Multiplier: mult,
		Clamped:    clamped,
		Summary:    summary,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
