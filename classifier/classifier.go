// Package classifier maps an utterance to one category label with a single
// model call.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
	"github.com/sweetpotato0/ai-concierge/llm"
	"github.com/sweetpotato0/ai-concierge/pkg/logging"
	"github.com/sweetpotato0/ai-concierge/prompt"
	"github.com/sweetpotato0/ai-concierge/retriever"
)

// DefaultExemplars are labelled utterances indexed for few-shot retrieval.
func DefaultExemplars() []string {
	return []string{
		"what time does the pool open => question",
		"how do I connect to the wifi => question",
		"turn off the porch light => device_control",
		"set the thermostat to 21 degrees => device_control",
		"is the garage door open => device_control",
		"find a petrol station nearby => navigation",
		"take me to the closest pharmacy => navigation",
		"play some jazz => media",
		"skip this song => media",
		"turn the music down => media",
	}
}

// Classifier chooses a category for an utterance.
type Classifier struct {
	llm       llm.Client
	labels    []string
	allowed   map[string]struct{}
	exemplars retriever.Retriever
	prompts   *prompt.Manager
	logger    *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithExemplars sets the retriever that supplies labelled examples.
func WithExemplars(r retriever.Retriever) Option {
	return func(c *Classifier) { c.exemplars = r }
}

// WithPrompts replaces the prompt templates.
func WithPrompts(m *prompt.Manager) Option {
	return func(c *Classifier) {
		if m != nil {
			c.prompts = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a classifier that can emit exactly labels.
func New(client llm.Client, labels []string, opts ...Option) (*Classifier, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("classifier needs at least one label: %w", errorspkg.ErrInvalidInput)
	}
	c := &Classifier{
		llm:     client,
		allowed: make(map[string]struct{}, len(labels)),
		prompts: prompt.Default(),
		logger:  logging.WithComponent("classifier"),
	}
	for _, l := range labels {
		l = normalize(l)
		if _, dup := c.allowed[l]; dup {
			continue
		}
		c.allowed[l] = struct{}{}
		c.labels = append(c.labels, l)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Labels returns the label set in declaration order.
func (c *Classifier) Labels() []string {
	return append([]string(nil), c.labels...)
}

// Classify returns the label for utterance. A reply outside the label set
// wraps errors.ErrUnknownCategory.
func (c *Classifier) Classify(ctx context.Context, utterance string) (string, error) {
	var examples []string
	if c.exemplars != nil {
		var err error
		examples, err = c.exemplars.Retrieve(ctx, utterance)
		if err != nil {
			return "", fmt.Errorf("retrieve exemplars: %w", err)
		}
	}

	rendered, err := c.prompts.Render(prompt.Classify, map[string]any{
		"Categories": c.labels,
		"Examples":   examples,
		"Query":      utterance,
	})
	if err != nil {
		return "", err
	}
	raw, err := c.llm.Invoke(ctx, rendered)
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}

	label := normalize(raw)
	if _, ok := c.allowed[label]; !ok {
		c.logger.Warn("classifier returned unknown label", "raw", raw)
		return "", fmt.Errorf("label %q: %w", label, errorspkg.ErrUnknownCategory)
	}
	c.logger.Debug("classified", "label", label, "examples", len(examples))
	return label, nil
}

// normalize keeps the first line of a reply and drops case, surrounding
// quotes and trailing punctuation.
func normalize(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, " \t\"'`.")
	return strings.ToLower(s)
}
