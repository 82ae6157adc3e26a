package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "1w", cfg.Aggregation.Bucket)
	assert.Equal(t, ".convergence", cfg.Cache.Dir)
	assert.True(t, cfg.Cache.Enabled)
	assert.False(t, cfg.Semantic.Enabled)
	assert.Equal(t, 0.5, cfg.Rubric.UnmatchedScore)
	assert.Len(t, cfg.Rubric.Categories, 9)

	width, err := cfg.BucketWidth()
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, width)

	fit, err := cfg.GrowthConfig()
	require.NoError(t, err)
	assert.Equal(t, 28*24*time.Hour, fit.MinHistory)

	r, err := cfg.BuildRubric()
	require.NoError(t, err)
	assert.Equal(t, 9, r.Len())
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "convergence.toml", `
[goal]
inception_date = "2024-01-15"

[repos]
paths = ["../core", "../tools"]
native_git = true

[aggregation]
bucket = "2w"

[scoring]
multiplier_ceiling = 1.5

[cache]
enabled = false

[output]
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	inception, err := cfg.Inception()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), inception)
	assert.Equal(t, []string{"../core", "../tools"}, cfg.Repos.Paths)
	assert.True(t, cfg.Repos.NativeGit)
	assert.Equal(t, "2w", cfg.Aggregation.Bucket)
	assert.Equal(t, 1.5, cfg.Scoring.Ceiling)
	assert.Equal(t, 0.4, cfg.Scoring.Floor, "unset fields keep defaults")
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "json", cfg.Output.Format)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "convergence.yaml", `
sophistication:
  measure: blended
prediction:
  target_fraction: 0.9
output:
  format: markdown
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "blended", cfg.Sophistication.Measure)
	assert.Equal(t, 0.9, cfg.Prediction.TargetFraction)
	assert.Equal(t, "markdown", cfg.Output.Format)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "convergence.json", `{
  "semantic": {"enabled": true, "max_failures": 3},
  "fit": {"min_points": 6}
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Semantic.Enabled)
	assert.Equal(t, 3, cfg.Semantic.MaxFailures)
	assert.Equal(t, 6, cfg.Fit.MinPoints)
}

func TestLoadRubricReplacesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "convergence.toml", `
[rubric]
high_level = ["agents"]

[[rubric.categories]]
name = "agents"
weight = 5
patterns = ["agent"]

[[rubric.categories]]
name = "safety"
weight = 2
patterns = ["test", "guard"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Rubric.Categories, 2)

	r, err := cfg.BuildRubric()
	require.NoError(t, err)
	assert.Equal(t, []string{"agents", "safety"}, r.Names())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid toml", "[goal\ninvalid toml"},
		{"unknown key", "[output]\nformatt = \"json\""},
		{"floor above ceiling", "[scoring]\nmultiplier_floor = 3.0\nmultiplier_ceiling = 2.0"},
		{"bad inception", "[goal]\ninception_date = \"15/01/2024\""},
		{"bad bucket", "[aggregation]\nbucket = \"fortnight\""},
		{"unknown measure", "[sophistication]\nmeasure = \"vibes\""},
		{"bad format", "[output]\nformat = \"xml\""},
		{"negative fraction", "[scoring]\nmin_source_fraction = -0.5"},
		{"unknown test category", "[scoring]\ntest_category = \"nope\""},
		{"negative workers", "[repos]\nworkers = -2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "convergence.toml", tt.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestValidateWrapsErrInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Prediction.TargetFraction = 1.5
	cfg.Rubric.Categories = nil

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "target_fraction")
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/convergence.toml")
	assert.Error(t, err)
}

func TestLoadConfigSearch(t *testing.T) {
	dir := t.TempDir()

	result, err := LoadConfig(WithSearchDirs(dir))
	require.NoError(t, err)
	assert.Empty(t, result.Source)
	assert.Equal(t, DefaultConfig(), result.Config)

	path := writeConfig(t, dir, ".convergence.toml", "[aggregation]\nbucket = \"1m\"\n")
	result, err = LoadConfig(WithSearchDirs(dir))
	require.NoError(t, err)
	assert.Equal(t, path, result.Source)
	assert.Equal(t, "1m", result.Config.Aggregation.Bucket)

	explicit := writeConfig(t, t.TempDir(), "other.toml", "[output]\nformat = \"toon\"\n")
	result, err = LoadConfig(WithPath(explicit))
	require.NoError(t, err)
	assert.Equal(t, "toon", result.Config.Output.Format)
}

func TestLoadOrDefault(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	cfg := LoadOrDefault()
	assert.Equal(t, "1w", cfg.Aggregation.Bucket)

	writeConfig(t, tmpDir, filepath.Join(".convergence", "convergence.toml"), "[aggregation]\nbucket = \"1d\"\n")
	cfg = LoadOrDefault()
	assert.Equal(t, "1d", cfg.Aggregation.Bucket)
}

func TestMarshalRoundTrip(t *testing.T) {
	for _, format := range []string{"toml", "yaml", "json"} {
		t.Run(format, func(t *testing.T) {
			data, err := DefaultConfig().Marshal(format)
			require.NoError(t, err)

			path := writeConfig(t, t.TempDir(), "convergence."+format, string(data))
			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, DefaultConfig().Rubric.Categories[0].Patterns, cfg.Rubric.Categories[0].Patterns)
			assert.Equal(t, DefaultConfig().Scoring, cfg.Scoring)
		})
	}

	_, err := DefaultConfig().Marshal("ini")
	assert.Error(t, err)
}

func TestLLMConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Semantic.Timeout = "5s"
	cfg.Semantic.MaxRetries = 4

	l := cfg.LLMConfig()
	assert.Equal(t, 5*time.Second, l.AttemptTimeout)
	assert.Equal(t, 4, l.Retry.MaxRetries)
	assert.Equal(t, cfg.Semantic.Model, l.Model)
}

func TestBuildMeasure(t *testing.T) {
	cfg := DefaultConfig()
	r, err := cfg.BuildRubric()
	require.NoError(t, err)

	m, err := cfg.BuildMeasure(r)
	require.NoError(t, err)
	assert.Equal(t, "entropy", m.Name())

	cfg.Sophistication.Measure = "blended"
	cfg.Sophistication.HighLevelWeight = 1
	m, err = cfg.BuildMeasure(r)
	require.NoError(t, err)
	assert.Equal(t, "blended", m.Name())
	assert.InDelta(t, 1.0, m.Score(map[string]float64{"agents": 4}), 1e-9)
	assert.InDelta(t, 0.0, m.Score(map[string]float64{"foundation": 4}), 1e-9)
}
