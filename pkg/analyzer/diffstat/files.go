package diffstat

import (
	"path"
	"regexp"
	"strings"
)

// Kind is the role a changed file plays in a commit.
type Kind string

const (
	KindSource Kind = "source"
	KindTest   Kind = "test"
	KindConfig Kind = "config"
	KindDoc    Kind = "doc"
	KindOther  Kind = "other"
)

// FileRules decides how paths are classified.
type FileRules struct {
	SourceExts  []string `json:"source_exts" koanf:"source_exts" toml:"source_exts"`
	ConfigExts  []string `json:"config_exts" koanf:"config_exts" toml:"config_exts"`
	DocExts     []string `json:"doc_exts" koanf:"doc_exts" toml:"doc_exts"`
	TestMarkers []string `json:"test_markers" koanf:"test_markers" toml:"test_markers"`
}

// DefaultFileRules returns the built-in extension sets.
func DefaultFileRules() FileRules {
	return FileRules{
		SourceExts:  []string{".ts", ".js", ".py", ".sh", ".mjs", ".cjs", ".go", ".rs", ".tsx", ".jsx"},
		ConfigExts:  []string{".json", ".yml", ".yaml", ".toml", ".ini", ".cfg", ".env", ".lock"},
		DocExts:     []string{".md", ".txt", ".rst"},
		TestMarkers: []string{".test.", ".spec.", "__tests__/", "test_", "_test."},
	}
}

// FileClassifier maps paths to kinds.
type FileClassifier struct {
	source      map[string]bool
	config      map[string]bool
	doc         map[string]bool
	testMarkers []string
}

// NewFileClassifier builds a classifier from rules.
func NewFileClassifier(rules FileRules) *FileClassifier {
	return &FileClassifier{
		source:      extSet(rules.SourceExts),
		config:      extSet(rules.ConfigExts),
		doc:         extSet(rules.DocExts),
		testMarkers: lowerAll(rules.TestMarkers),
	}
}

// Classify returns the kind of a path. Git rename notation is resolved to
// the destination path first, and test markers take priority over source
// extensions.
func (c *FileClassifier) Classify(p string) Kind {
	lower := strings.ToLower(ResolveRename(p))
	for _, marker := range c.testMarkers {
		if strings.Contains(lower, marker) {
			return KindTest
		}
	}
	ext := path.Ext(lower)
	switch {
	case c.source[ext]:
		return KindSource
	case c.config[ext]:
		return KindConfig
	case c.doc[ext]:
		return KindDoc
	default:
		return KindOther
	}
}

var braceRename = regexp.MustCompile(`\{[^}]*?=>\s*([^}]*?)\}`)

// ResolveRename converts git's rename notation to the new path. Both the
// plain form "old => new" and the brace form "dir/{old => new}/file" are
// handled, including several brace groups in one path.
func ResolveRename(p string) string {
	if !strings.Contains(p, "=>") {
		return p
	}
	for {
		loc := braceRename.FindStringSubmatchIndex(p)
		if loc == nil {
			break
		}
		replacement := strings.TrimSpace(p[loc[2]:loc[3]])
		p = p[:loc[0]] + replacement + p[loc[1]:]
	}
	if idx := strings.LastIndex(p, "=>"); idx >= 0 {
		p = strings.TrimSpace(p[idx+2:])
	}
	return strings.ReplaceAll(p, "//", "/")
}

func extSet(exts []string) map[string]bool {
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		m[e] = true
	}
	return m
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
