package classify

import (
	"fmt"
	"math"
	"sort"

	"github.com/panbanda/convergence/pkg/rubric"
)

// Verdict is the checked outcome of a semantic classification call. A
// verdict either carries labels (Success) or the reason the response was
// rejected (Failure), never both.
type Verdict struct {
	Labels map[string]float64
	Reason string
}

// Success wraps validated labels.
func Success(labels map[string]float64) Verdict {
	if labels == nil {
		labels = map[string]float64{}
	}
	return Verdict{Labels: labels}
}

// Failure records why a response could not be used.
func Failure(reason string) Verdict {
	if reason == "" {
		reason = "unknown failure"
	}
	return Verdict{Reason: reason}
}

// OK reports whether the verdict is a success.
func (v Verdict) OK() bool {
	return v.Reason == ""
}

// Validate checks a classifier response against the rubric. Any unknown
// category or strength outside [0,1] rejects the whole response. Zero
// strengths are dropped.
func Validate(r *rubric.Rubric, labels map[string]float64, err error) Verdict {
	if err != nil {
		return Failure(err.Error())
	}
	if labels == nil {
		return Failure("response contained no label mapping")
	}

	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	clean := make(map[string]float64, len(labels))
	for _, name := range names {
		s := labels[name]
		if !r.Has(name) {
			return Failure(fmt.Sprintf("unknown category %q", name))
		}
		if math.IsNaN(s) || s < 0 || s > 1 {
			return Failure(fmt.Sprintf("strength %v for %q outside [0,1]", s, name))
		}
		if s > 0 {
			clean[name] = s
		}
	}
	return Success(clean)
}
