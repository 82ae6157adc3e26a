package models

import (
	"sort"
	"time"
)

// ClassificationMethod identifies how a commit was classified.
type ClassificationMethod string

const (
	MethodRegex          ClassificationMethod = "regex"
	MethodSemantic       ClassificationMethod = "semantic"
	MethodSemanticCached ClassificationMethod = "semantic_cached"
	MethodFallback       ClassificationMethod = "fallback" // semantic failed, regex used
)

// ClassificationResult holds the matched categories for one commit and the
// raw strength of each match in [0,1].
type ClassificationResult struct {
	Hash           string               `json:"hash"`
	Method         ClassificationMethod `json:"method"`
	Strengths      map[string]float64   `json:"strengths"`
	FallbackReason string               `json:"fallback_reason,omitempty"`
}

// Matched returns the categories with a non-zero strength, sorted by name.
func (r ClassificationResult) Matched() []string {
	names := make([]string, 0, len(r.Strengths))
	for name, s := range r.Strengths {
		if s > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ScoredCommit is a commit with its adjusted per-category scores.
type ScoredCommit struct {
	Hash           string               `json:"hash"`
	Repo           string               `json:"repo"`
	Timestamp      time.Time            `json:"timestamp"`
	Method         ClassificationMethod `json:"method"`
	Scores         map[string]float64   `json:"scores"`         // weight x strength x multiplier
	Total          float64              `json:"total"`          // capped at the rubric max score
	Multiplier     float64              `json:"multiplier"`     // diffstat multiplier applied
	Sophistication float64              `json:"sophistication"` // 0-1 diversity measure
}

// Matched reports whether any category scored above zero.
func (s ScoredCommit) Matched() bool {
	for _, v := range s.Scores {
		if v > 0 {
			return true
		}
	}
	return false
}

// ClassificationStats counts classification outcomes during a run.
type ClassificationStats struct {
	Regex          int  `json:"regex"`
	Semantic       int  `json:"semantic"`
	SemanticCached int  `json:"semantic_cached"`
	Fallbacks      int  `json:"fallbacks"`
	SemanticCalls  int  `json:"semantic_calls"`
	Disabled       bool `json:"semantic_disabled,omitempty"` // permanent fallback tripped
}
