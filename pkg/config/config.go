package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	gotoml "github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"github.com/panbanda/convergence/internal/llm"
	"github.com/panbanda/convergence/pkg/analyzer/aggregate"
	"github.com/panbanda/convergence/pkg/analyzer/classify"
	"github.com/panbanda/convergence/pkg/analyzer/convergence"
	"github.com/panbanda/convergence/pkg/analyzer/diffstat"
	"github.com/panbanda/convergence/pkg/analyzer/growth"
	"github.com/panbanda/convergence/pkg/analyzer/sophistication"
	"github.com/panbanda/convergence/pkg/rubric"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// DateLayout is the accepted format for dates in configuration files.
const DateLayout = "2006-01-02"

// Config holds all configuration options for convergence.
type Config struct {
	Goal           GoalConfig           `koanf:"goal" toml:"goal" json:"goal"`
	Repos          ReposConfig          `koanf:"repos" toml:"repos" json:"repos"`
	Rubric         RubricConfig         `koanf:"rubric" toml:"rubric" json:"rubric"`
	Scoring        diffstat.Config      `koanf:"scoring" toml:"scoring" json:"scoring"`
	Files          diffstat.FileRules   `koanf:"files" toml:"files" json:"files"`
	Sophistication SophisticationConfig `koanf:"sophistication" toml:"sophistication" json:"sophistication"`
	Aggregation    AggregationConfig    `koanf:"aggregation" toml:"aggregation" json:"aggregation"`
	Fit            FitConfig            `koanf:"fit" toml:"fit" json:"fit"`
	Prediction     convergence.Config   `koanf:"prediction" toml:"prediction" json:"prediction"`
	Cache          CacheConfig          `koanf:"cache" toml:"cache" json:"cache"`
	Semantic       SemanticConfig       `koanf:"semantic" toml:"semantic" json:"semantic"`
	Output         OutputConfig         `koanf:"output" toml:"output" json:"output"`
	Log            LogConfig            `koanf:"log" toml:"log" json:"log"`
}

// GoalConfig names the tracked goal and when work on it started.
type GoalConfig struct {
	Name          string `koanf:"name" toml:"name" json:"name"`
	InceptionDate string `koanf:"inception_date" toml:"inception_date" json:"inception_date"` // YYYY-MM-DD, empty = first commit
}

// ReposConfig lists the repositories to scan.
type ReposConfig struct {
	Paths     []string `koanf:"paths" toml:"paths" json:"paths"`
	NativeGit bool     `koanf:"native_git" toml:"native_git" json:"native_git"`
	// GitTimeout bounds each native git invocation.
	GitTimeout string `koanf:"git_timeout" toml:"git_timeout" json:"git_timeout"`
	// Workers caps concurrent history reads; 0 means one per CPU.
	Workers int `koanf:"workers" toml:"workers" json:"workers"`
}

// RubricConfig defines the category rubric.
type RubricConfig struct {
	Categories    []rubric.Category `koanf:"categories" toml:"categories" json:"categories"`
	HighLevel     []string          `koanf:"high_level" toml:"high_level" json:"high_level"`
	CaseSensitive bool              `koanf:"case_sensitive" toml:"case_sensitive" json:"case_sensitive"`
	// UnmatchedScore is the baseline total of a commit no category matches.
	UnmatchedScore float64 `koanf:"unmatched_score" toml:"unmatched_score" json:"unmatched_score"`
}

// SophisticationConfig selects the sophistication measure.
type SophisticationConfig struct {
	Measure         string  `koanf:"measure" toml:"measure" json:"measure"`
	HighLevelWeight float64 `koanf:"high_level_weight" toml:"high_level_weight" json:"high_level_weight"`
	SmoothingAlpha  float64 `koanf:"smoothing_alpha" toml:"smoothing_alpha" json:"smoothing_alpha"`
}

// AggregationConfig controls time bucketing.
type AggregationConfig struct {
	Bucket string `koanf:"bucket" toml:"bucket" json:"bucket"` // e.g. 1w, 2w, 1m
}

// FitConfig bounds the growth model fitter.
type FitConfig struct {
	MinPoints         int       `koanf:"min_points" toml:"min_points" json:"min_points"`
	MinHistory        string    `koanf:"min_history" toml:"min_history" json:"min_history"`
	MaxIterations     int       `koanf:"max_iterations" toml:"max_iterations" json:"max_iterations"`
	Seeds             []float64 `koanf:"seeds" toml:"seeds" json:"seeds"`
	ProjectionBuckets int       `koanf:"projection_buckets" toml:"projection_buckets" json:"projection_buckets"`
}

// CacheConfig controls caching behavior.
type CacheConfig struct {
	Enabled bool   `koanf:"enabled" toml:"enabled" json:"enabled"`
	Dir     string `koanf:"dir" toml:"dir" json:"dir"`
	Version string `koanf:"version" toml:"version" json:"version"` // bump to rescore everything
}

// SemanticConfig controls the optional model-backed classifier.
type SemanticConfig struct {
	Enabled           bool    `koanf:"enabled" toml:"enabled" json:"enabled"`
	Model             string  `koanf:"model" toml:"model" json:"model"`
	APIKeyEnv         string  `koanf:"api_key_env" toml:"api_key_env" json:"api_key_env"`
	Timeout           string  `koanf:"timeout" toml:"timeout" json:"timeout"`
	MaxRetries        int     `koanf:"max_retries" toml:"max_retries" json:"max_retries"`
	MaxFailures       int     `koanf:"max_failures" toml:"max_failures" json:"max_failures"`
	RequestsPerSecond float64 `koanf:"requests_per_second" toml:"requests_per_second" json:"requests_per_second"`
	DiffstatFiles     int     `koanf:"diffstat_files" toml:"diffstat_files" json:"diffstat_files"`
}

// OutputConfig controls output formatting.
type OutputConfig struct {
	Format       string `koanf:"format" toml:"format" json:"format"` // text, json, markdown, toon
	Color        bool   `koanf:"color" toml:"color" json:"color"`
	HistoryLimit int    `koanf:"history_limit" toml:"history_limit" json:"history_limit"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `koanf:"level" toml:"level" json:"level"`
	Format string `koanf:"format" toml:"format" json:"format"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	fit := growth.DefaultConfig()
	return &Config{
		Goal: GoalConfig{Name: "capability"},
		Repos: ReposConfig{
			Paths:      []string{"."},
			GitTimeout: "5m",
		},
		Rubric: RubricConfig{
			Categories:     rubric.DefaultCategories(),
			HighLevel:      rubric.DefaultHighLevel(),
			UnmatchedScore: 0.5,
		},
		Scoring: diffstat.DefaultConfig(),
		Files:   diffstat.DefaultFileRules(),
		Sophistication: SophisticationConfig{
			Measure:         sophistication.NameEntropy,
			HighLevelWeight: 0.7,
		},
		Aggregation: AggregationConfig{Bucket: "1w"},
		Fit: FitConfig{
			MinPoints:         fit.MinPoints,
			MinHistory:        aggregate.FormatDuration(fit.MinHistory),
			MaxIterations:     fit.MaxIterations,
			Seeds:             fit.Seeds,
			ProjectionBuckets: fit.ProjectionBuckets,
		},
		Prediction: convergence.DefaultConfig(),
		Cache: CacheConfig{
			Enabled: true,
			Dir:     ".convergence",
			Version: "3",
		},
		Semantic: SemanticConfig{
			Model:             llm.DefaultModel,
			APIKeyEnv:         llm.DefaultAPIKeyEnv,
			Timeout:           classify.DefaultTimeout.String(),
			MaxRetries:        llm.DefaultRetryConfig().MaxRetries,
			MaxFailures:       classify.DefaultMaxFailures,
			RequestsPerSecond: 2,
			DiffstatFiles:     20,
		},
		Output: OutputConfig{
			Format:       "text",
			Color:        true,
			HistoryLimit: 10,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load loads configuration from a file over the defaults and validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	// Determine parser based on extension
	var parser koanf.Parser
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		parser = kyaml.Parser()
	case ".json":
		parser = kjson.Parser()
	default:
		parser = toml.Parser()
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	// Lists in the file replace the defaults rather than merging by index.
	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			Result:           cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			ZeroFields:       true,
			ErrorUnused:      true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOption configures LoadConfig.
type LoadOption func(*loadOptions)

type loadOptions struct {
	path string
	dirs []string
}

// WithPath loads a specific file instead of searching.
func WithPath(path string) LoadOption {
	return func(o *loadOptions) {
		o.path = path
	}
}

// WithSearchDirs overrides the directories searched for a config file.
func WithSearchDirs(dirs ...string) LoadOption {
	return func(o *loadOptions) {
		o.dirs = dirs
	}
}

// LoadResult is a loaded config and the file it came from. Source is empty
// when defaults were used.
type LoadResult struct {
	Config *Config
	Source string
}

// configNames are the file names searched for, in order.
var configNames = []string{
	"convergence.toml",
	"convergence.yaml",
	"convergence.yml",
	"convergence.json",
	".convergence.toml",
	".convergence.yaml",
	".convergence.yml",
	".convergence.json",
}

// LoadConfig loads an explicit file, or the first config file found in the
// search directories, or the defaults. Unlike LoadOrDefault it reports
// errors in a file that exists.
func LoadConfig(opts ...LoadOption) (*LoadResult, error) {
	o := loadOptions{dirs: []string{".", ".convergence"}}
	for _, opt := range opts {
		opt(&o)
	}

	if o.path != "" {
		cfg, err := Load(o.path)
		if err != nil {
			return nil, err
		}
		return &LoadResult{Config: cfg, Source: o.path}, nil
	}

	if path := find(o.dirs); path != "" {
		cfg, err := Load(path)
		if err != nil {
			return nil, err
		}
		return &LoadResult{Config: cfg, Source: path}, nil
	}
	return &LoadResult{Config: DefaultConfig()}, nil
}

// LoadOrDefault tries to load config from standard locations or returns defaults.
func LoadOrDefault() *Config {
	if path := find([]string{".", ".convergence"}); path != "" {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	return DefaultConfig()
}

func find(dirs []string) string {
	for _, dir := range dirs {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// Validate checks every section. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Inception(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Repos.Paths) == 0 {
		errs = append(errs, errors.New("repos.paths must list at least one repository"))
	}
	if _, err := parseDuration("repos.git_timeout", c.Repos.GitTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.Repos.Workers < 0 {
		errs = append(errs, errors.New("repos.workers must not be negative"))
	}

	r, err := c.BuildRubric()
	if err != nil {
		errs = append(errs, err)
	}
	if c.Rubric.UnmatchedScore < 0 {
		errs = append(errs, fmt.Errorf("rubric.unmatched_score %g must not be negative", c.Rubric.UnmatchedScore))
	}
	if err := c.Scoring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scoring: %w", err))
	}
	if r != nil && c.Scoring.TestCategory != "" && !r.Has(c.Scoring.TestCategory) {
		errs = append(errs, fmt.Errorf("scoring.test_category %q is not a rubric category", c.Scoring.TestCategory))
	}

	if r != nil {
		if _, err := sophistication.New(c.Sophistication.Measure, r); err != nil {
			errs = append(errs, fmt.Errorf("sophistication: %w", err))
		}
	}
	if c.Sophistication.HighLevelWeight < 0 || c.Sophistication.HighLevelWeight > 1 {
		errs = append(errs, fmt.Errorf("sophistication.high_level_weight %g must be in [0,1]", c.Sophistication.HighLevelWeight))
	}
	if c.Sophistication.SmoothingAlpha < 0 || c.Sophistication.SmoothingAlpha > 1 {
		errs = append(errs, fmt.Errorf("sophistication.smoothing_alpha %g must be in [0,1]", c.Sophistication.SmoothingAlpha))
	}

	if _, err := c.BucketWidth(); err != nil {
		errs = append(errs, err)
	}
	if fit, err := c.GrowthConfig(); err != nil {
		errs = append(errs, err)
	} else if err := fit.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("fit: %w", err))
	}
	if err := c.Prediction.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("prediction: %w", err))
	}

	if c.Cache.Enabled && c.Cache.Dir == "" {
		errs = append(errs, errors.New("cache.dir is required when the cache is enabled"))
	}
	if strings.TrimSpace(c.Cache.Version) == "" {
		errs = append(errs, errors.New("cache.version must not be empty"))
	}

	if _, err := parseDuration("semantic.timeout", c.Semantic.Timeout); err != nil {
		errs = append(errs, err)
	}
	if c.Semantic.MaxRetries < 0 || c.Semantic.MaxFailures < 1 || c.Semantic.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("semantic: max_retries >= 0, max_failures >= 1 and requests_per_second >= 0 are required"))
	}

	switch c.Output.Format {
	case "text", "json", "markdown", "toon":
	default:
		errs = append(errs, fmt.Errorf("output.format %q must be one of text, json, markdown, toon", c.Output.Format))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Inception parses goal.inception_date; zero when unset.
func (c *Config) Inception() (time.Time, error) {
	if strings.TrimSpace(c.Goal.InceptionDate) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, strings.TrimSpace(c.Goal.InceptionDate))
	if err != nil {
		return time.Time{}, fmt.Errorf("goal.inception_date %q must be YYYY-MM-DD", c.Goal.InceptionDate)
	}
	return t, nil
}

// BucketWidth parses aggregation.bucket.
func (c *Config) BucketWidth() (time.Duration, error) {
	d, err := aggregate.ParseDuration(c.Aggregation.Bucket)
	if err != nil {
		return 0, fmt.Errorf("aggregation.bucket: %w", err)
	}
	return d, nil
}

// BuildRubric compiles the configured rubric.
func (c *Config) BuildRubric() (*rubric.Rubric, error) {
	return rubric.New(c.Rubric.Categories, c.Rubric.HighLevel, c.Rubric.CaseSensitive)
}

// BuildMeasure returns the configured sophistication measure over r.
func (c *Config) BuildMeasure(r *rubric.Rubric) (sophistication.Measure, error) {
	m, err := sophistication.New(c.Sophistication.Measure, r)
	if err != nil {
		return nil, err
	}
	if b, ok := m.(sophistication.Blended); ok {
		b.HighLevelWeight = c.Sophistication.HighLevelWeight
		return b, nil
	}
	return m, nil
}

// GrowthConfig converts the fit section to fitter settings.
func (c *Config) GrowthConfig() (growth.Config, error) {
	g := growth.DefaultConfig()
	g.MinPoints = c.Fit.MinPoints
	g.MaxIterations = c.Fit.MaxIterations
	g.Seeds = c.Fit.Seeds
	g.ProjectionBuckets = c.Fit.ProjectionBuckets
	d, err := aggregate.ParseDuration(c.Fit.MinHistory)
	if err != nil {
		return g, fmt.Errorf("fit.min_history: %w", err)
	}
	g.MinHistory = d
	return g, nil
}

// GitTimeout parses repos.git_timeout.
func (c *Config) GitTimeout() time.Duration {
	d, _ := parseDuration("repos.git_timeout", c.Repos.GitTimeout)
	return d
}

// SemanticTimeout parses semantic.timeout.
func (c *Config) SemanticTimeout() time.Duration {
	d, _ := parseDuration("semantic.timeout", c.Semantic.Timeout)
	return d
}

// LLMConfig converts the semantic section to adapter settings.
func (c *Config) LLMConfig() llm.Config {
	l := llm.DefaultConfig()
	l.Model = c.Semantic.Model
	l.APIKeyEnv = c.Semantic.APIKeyEnv
	l.RequestsPerSecond = c.Semantic.RequestsPerSecond
	l.Retry.MaxRetries = c.Semantic.MaxRetries
	if t := c.SemanticTimeout(); t > 0 && t < l.AttemptTimeout {
		l.AttemptTimeout = t
	}
	return l
}

// parseDuration accepts Go durations ("30s") and empty values.
func parseDuration(field, s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s %q is not a valid duration", field, s)
	}
	return d, nil
}

// Marshal renders the config as toml, yaml or json.
func (c *Config) Marshal(format string) ([]byte, error) {
	switch format {
	case "", "toml":
		return gotoml.Marshal(*c)
	case "json":
		return json.MarshalIndent(c, "", "  ")
	case "yaml", "yml":
		// Route through JSON so keys use the same snake_case names.
		data, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		var tree map[string]any
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, err
		}
		return yaml.Marshal(tree)
	default:
		return nil, fmt.Errorf("unsupported config format %q (valid: toml, yaml, json)", format)
	}
}
