// Package llm adapts the Anthropic Messages API to the semantic commit
// classifier interface.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/panbanda/convergence/internal/logging"
	"github.com/panbanda/convergence/pkg/analyzer/classify"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-3-5-haiku-20241022"
	// DefaultAPIKeyEnv names the environment variable holding the API key.
	DefaultAPIKeyEnv = "ANTHROPIC_API_KEY"
	// DefaultMaxTokens bounds each response; a label object is small.
	DefaultMaxTokens = 512
)

// ErrNoAPIKey is returned when no API key can be resolved.
var ErrNoAPIKey = errors.New("anthropic API key not set")

// ErrEmptyResponse is returned when a response has no text content.
var ErrEmptyResponse = errors.New("no text content in response")

// Config configures the classifier.
type Config struct {
	Model             string
	APIKey            string
	APIKeyEnv         string
	MaxTokens         int64
	AttemptTimeout    time.Duration
	RequestsPerSecond float64 // zero disables pacing
	Retry             RetryConfig
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Model:             DefaultModel,
		APIKeyEnv:         DefaultAPIKeyEnv,
		MaxTokens:         DefaultMaxTokens,
		AttemptTimeout:    20 * time.Second,
		RequestsPerSecond: 2,
		Retry:             DefaultRetryConfig(),
	}
}

// messageCreator is the subset of anthropic.MessageService the classifier uses.
type messageCreator interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Classifier implements classify.SemanticClassifier on the Messages API.
type Classifier struct {
	cfg      Config
	messages messageCreator
	limiter  *rate.Limiter
	logger   logrus.FieldLogger
}

var _ classify.SemanticClassifier = (*Classifier)(nil)

// Option is a functional option for configuring Classifier.
type Option func(*Classifier)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// withMessages replaces the API client (for tests).
func withMessages(m messageCreator) Option {
	return func(c *Classifier) {
		c.messages = m
	}
}

// ResolveAPIKey returns cfg.APIKey, or the value of cfg.APIKeyEnv after
// loading a .env file from the working directory when one exists.
func ResolveAPIKey(cfg Config) (string, error) {
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		return key, nil
	}
	env := cfg.APIKeyEnv
	if env == "" {
		env = DefaultAPIKeyEnv
	}
	// Missing .env is fine; existing variables are never overridden.
	_ = godotenv.Load()
	if key := strings.TrimSpace(os.Getenv(env)); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%w: set %s", ErrNoAPIKey, env)
}

// New creates a Classifier. It fails with ErrNoAPIKey when no key is available.
func New(cfg Config, opts ...Option) (*Classifier, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Retry.BackoffMultiplier == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	c := &Classifier{cfg: cfg, logger: logging.Discard()}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.messages == nil {
		key, err := ResolveAPIKey(cfg)
		if err != nil {
			return nil, err
		}
		client := anthropic.NewClient(option.WithAPIKey(key), option.WithMaxRetries(0))
		c.messages = &client.Messages
	}
	return c, nil
}

// ClassifyCommit implements classify.SemanticClassifier.
func (c *Classifier) ClassifyCommit(ctx context.Context, req classify.SemanticRequest) (map[string]float64, error) {
	if req.Rubric == nil {
		return nil, errors.New("rubric is required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: c.cfg.MaxTokens,
		System:    []anthropic.TextBlockParam{{Text: SystemPrompt(req.Rubric.Describe())}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(UserPrompt(req))),
		},
	}

	var text string
	err := retryWithBackoff(ctx, c.cfg.Retry, c.logger, "classification", func(ctx context.Context) error {
		attemptCtx := ctx
		if c.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
			defer cancel()
		}
		resp, err := c.messages.New(attemptCtx, params)
		if err != nil {
			return err
		}
		text = responseText(resp)
		c.logger.WithFields(logrus.Fields{
			"hash":          req.Hash,
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		}).Debug("semantic classification")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}
	return ParseLabels(text)
}

func responseText(resp *anthropic.Message) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

const systemPromptTemplate = `You classify git commits against a software capability rubric.

Categories:
%s
Respond with a single JSON object mapping category names to a relevance
strength between 0 and 1:
- 0.3 = minor or tangential relevance
- 0.7 = directly relevant
- 1.0 = core implementation of the capability
Omit categories that do not apply. Respond with {} when nothing applies.
Output ONLY the JSON object, no other text.`

// SystemPrompt builds the system prompt from a rubric description.
func SystemPrompt(categories string) string {
	return fmt.Sprintf(systemPromptTemplate, categories)
}

// UserPrompt renders one commit for classification.
func UserPrompt(req classify.SemanticRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Commit %s\n\nMessage:\n%s\n", req.Hash, strings.TrimSpace(req.Message))
	if req.Diffstat != "" {
		fmt.Fprintf(&b, "\nDiffstat:\n%s\n", req.Diffstat)
	}
	return b.String()
}

var codeFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ParseLabels parses a model response into category strengths. Code
// fences and surrounding prose are tolerated; validation against the
// rubric happens in the classifier.
func ParseLabels(text string) (map[string]float64, error) {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return nil, ErrEmptyResponse
	}
	if m := codeFenceRegex.FindStringSubmatch(cleaned); m != nil {
		cleaned = strings.TrimSpace(m[1])
	}
	if !strings.HasPrefix(cleaned, "{") {
		start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}")
		if start < 0 || end < start {
			return nil, fmt.Errorf("no JSON object in response %q", truncate(text, 80))
		}
		cleaned = cleaned[start : end+1]
	}

	var labels map[string]float64
	if err := json.Unmarshal([]byte(cleaned), &labels); err != nil {
		return nil, fmt.Errorf("parsing labels: %w", err)
	}
	if labels == nil {
		labels = map[string]float64{}
	}
	return labels, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
