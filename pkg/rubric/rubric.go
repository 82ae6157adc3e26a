// Package rubric defines the weighted capability taxonomy that commits are
// classified against.
package rubric

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Weight bounds for a category.
const (
	MinWeight = 1
	MaxWeight = 5
)

// ErrInvalidRubric is returned when a rubric definition cannot be used.
var ErrInvalidRubric = errors.New("invalid rubric")

// Category is a named capability with a weight and ordered matching rules.
type Category struct {
	Name     string   `json:"name" koanf:"name" toml:"name"`
	Weight   int      `json:"weight" koanf:"weight" toml:"weight"`
	Patterns []string `json:"patterns" koanf:"patterns" toml:"patterns"`

	compiled []*regexp.Regexp
}

// Match returns true when any of the category's patterns match text.
// Patterns are tried in order and the first match wins.
func (c *Category) Match(text string) (pattern string, ok bool) {
	for i, re := range c.compiled {
		if re.MatchString(text) {
			return c.Patterns[i], true
		}
	}
	return "", false
}

// Rubric is an immutable, validated set of categories.
type Rubric struct {
	categories    []*Category
	byName        map[string]*Category
	highLevel     map[string]bool
	caseSensitive bool
	maxScore      float64
	fingerprint   string
}

// New validates and compiles a rubric. Categories are ordered by descending
// weight, then name.
func New(categories []Category, highLevel []string, caseSensitive bool) (*Rubric, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("%w: no categories defined", ErrInvalidRubric)
	}

	r := &Rubric{
		byName:        make(map[string]*Category, len(categories)),
		highLevel:     make(map[string]bool, len(highLevel)),
		caseSensitive: caseSensitive,
	}

	for _, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: category with empty name", ErrInvalidRubric)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate category %q", ErrInvalidRubric, name)
		}
		if c.Weight < MinWeight || c.Weight > MaxWeight {
			return nil, fmt.Errorf("%w: category %q weight %d outside [%d,%d]",
				ErrInvalidRubric, name, c.Weight, MinWeight, MaxWeight)
		}
		if len(c.Patterns) == 0 {
			return nil, fmt.Errorf("%w: category %q has no patterns", ErrInvalidRubric, name)
		}

		cat := &Category{
			Name:     name,
			Weight:   c.Weight,
			Patterns: append([]string(nil), c.Patterns...),
			compiled: make([]*regexp.Regexp, 0, len(c.Patterns)),
		}
		for _, p := range c.Patterns {
			expr := p
			if !caseSensitive {
				expr = "(?i)" + p
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("%w: category %q pattern %q: %v", ErrInvalidRubric, name, p, err)
			}
			cat.compiled = append(cat.compiled, re)
		}

		r.categories = append(r.categories, cat)
		r.byName[name] = cat
		r.maxScore += float64(c.Weight)
	}

	for _, name := range highLevel {
		if _, ok := r.byName[name]; !ok {
			return nil, fmt.Errorf("%w: high-level category %q is not defined", ErrInvalidRubric, name)
		}
		r.highLevel[name] = true
	}

	sort.SliceStable(r.categories, func(i, j int) bool {
		if r.categories[i].Weight != r.categories[j].Weight {
			return r.categories[i].Weight > r.categories[j].Weight
		}
		return r.categories[i].Name < r.categories[j].Name
	})

	r.fingerprint = r.computeFingerprint()
	return r, nil
}

// MustNew is like New but panics on error. Intended for static rubrics.
func MustNew(categories []Category, highLevel []string, caseSensitive bool) *Rubric {
	r, err := New(categories, highLevel, caseSensitive)
	if err != nil {
		panic(err)
	}
	return r
}

// Categories returns the categories in descending weight order.
func (r *Rubric) Categories() []*Category {
	return r.categories
}

// Names returns category names in descending weight order.
func (r *Rubric) Names() []string {
	names := make([]string, len(r.categories))
	for i, c := range r.categories {
		names[i] = c.Name
	}
	return names
}

// Len returns the number of categories.
func (r *Rubric) Len() int {
	return len(r.categories)
}

// Category looks up a category by name.
func (r *Rubric) Category(name string) (*Category, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Has reports whether the rubric defines a category.
func (r *Rubric) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Weight returns a category's weight, or 0 if it is not defined.
func (r *Rubric) Weight(name string) float64 {
	if c, ok := r.byName[name]; ok {
		return float64(c.Weight)
	}
	return 0
}

// MaxScore is the sum of all category weights, the upper bound for any
// single commit's score.
func (r *Rubric) MaxScore() float64 {
	return r.maxScore
}

// IsHighLevel reports whether a category is marked high-level.
func (r *Rubric) IsHighLevel(name string) bool {
	return r.highLevel[name]
}

// HighLevel returns the high-level category names, sorted.
func (r *Rubric) HighLevel() []string {
	names := make([]string, 0, len(r.highLevel))
	for name := range r.highLevel {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CaseSensitive reports whether patterns are matched case-sensitively.
func (r *Rubric) CaseSensitive() bool {
	return r.caseSensitive
}

// Fingerprint identifies the rubric's content.
func (r *Rubric) Fingerprint() string {
	return r.fingerprint
}

func (r *Rubric) computeFingerprint() string {
	d := xxhash.New()
	for _, c := range r.categories {
		_, _ = d.WriteString(c.Name)
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(strconv.Itoa(c.Weight))
		for _, p := range c.Patterns {
			_, _ = d.WriteString("\x00")
			_, _ = d.WriteString(p)
		}
		_, _ = d.WriteString("\x01")
	}
	for _, name := range r.HighLevel() {
		_, _ = d.WriteString(name)
		_, _ = d.WriteString("\x02")
	}
	if r.caseSensitive {
		_, _ = d.WriteString("cs")
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

var regexSyntax = regexp.MustCompile(`[\\.*?+\[\](){}|^$]`)
var multiSpace = regexp.MustCompile(`\s+`)

// Keywords returns readable keywords for a category by stripping regex
// syntax from its patterns. At most limit keywords are returned; limit <= 0
// returns all of them.
func (c *Category) Keywords(limit int) []string {
	var keywords []string
	for _, p := range c.Patterns {
		clean := strings.TrimSpace(multiSpace.ReplaceAllString(regexSyntax.ReplaceAllString(p, " "), " "))
		if clean == "" {
			continue
		}
		keywords = append(keywords, clean)
		if limit > 0 && len(keywords) == limit {
			break
		}
	}
	return keywords
}

// Describe renders the rubric as a bullet list suitable for a classification
// prompt.
func (r *Rubric) Describe() string {
	var b strings.Builder
	for _, c := range r.categories {
		fmt.Fprintf(&b, "- %s (weight %d): %s\n", c.Name, c.Weight, strings.Join(c.Keywords(8), ", "))
	}
	return b.String()
}
