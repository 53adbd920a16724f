// Package control turns natural-language device requests into reads and
// writes of a device document.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweetpotato0/ai-concierge/docstore"
	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
	"github.com/sweetpotato0/ai-concierge/llm"
	"github.com/sweetpotato0/ai-concierge/pkg/logging"
	"github.com/sweetpotato0/ai-concierge/pkg/metrics"
	"github.com/sweetpotato0/ai-concierge/prompt"
	"github.com/sweetpotato0/ai-concierge/retriever"
	"github.com/sweetpotato0/ai-concierge/tool"
)

// Name is the registry name of the tool.
const Name = "control"

// DefaultDocumentID is the device document addressed when none is configured.
const DefaultDocumentID = "home"

// Actions understood by Execute.
const (
	ActionGet    = "get"
	ActionUpdate = "update"
)

// Command is the parsed form of a request.
type Command struct {
	Action    string `json:"action"`
	FieldPath string `json:"field_path"`
	NewValue  any    `json:"new_value,omitempty"`
}

// Tool implements tool.Tool for device control.
type Tool struct {
	llm     llm.Client
	fields  retriever.Retriever
	store   docstore.Store
	prompts *prompt.Manager
	docID   string
	logger  *slog.Logger
	metrics *metrics.Recorder
}

var _ tool.Tool = (*Tool)(nil)

// Option configures a Tool.
type Option func(*Tool)

// WithDocumentID sets the device document the tool operates on.
func WithDocumentID(id string) Option {
	return func(t *Tool) {
		if id != "" {
			t.docID = id
		}
	}
}

// WithPrompts replaces the prompt templates.
func WithPrompts(m *prompt.Manager) Option {
	return func(t *Tool) {
		if m != nil {
			t.prompts = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tool) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMetrics records execution durations.
func WithMetrics(r *metrics.Recorder) Option {
	return func(t *Tool) { t.metrics = r }
}

// New creates a control tool. fields retrieves candidate field paths for a
// request.
func New(client llm.Client, fields retriever.Retriever, store docstore.Store, opts ...Option) *Tool {
	t := &Tool{
		llm:     client,
		fields:  fields,
		store:   store,
		prompts: prompt.Default(),
		docID:   DefaultDocumentID,
		logger:  logging.WithComponent("tool.control"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Name implements tool.Tool.
func (t *Tool) Name() string { return Name }

// ParseQuery asks the model for a Command. Output that cannot be recovered
// into JSON is returned as *tool.ParseError.
func (t *Tool) ParseQuery(ctx context.Context, text string) (*Command, error) {
	candidates, err := t.fields.Retrieve(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("retrieve field paths: %w", err)
	}

	values, err := t.store.GetFields(ctx, t.docID, candidates)
	if errors.Is(err, errorspkg.ErrNotFound) {
		t.logger.Warn("device document missing", "document", t.docID)
		values = map[string]any{}
	} else if err != nil {
		return nil, fmt.Errorf("read current values: %w", err)
	}

	rendered, err := t.prompts.Render(prompt.Control, map[string]any{
		"Candidates": candidates,
		"Values":     values,
		"Query":      text,
	})
	if err != nil {
		return nil, err
	}

	raw, err := t.llm.Invoke(ctx, rendered)
	if err != nil {
		return nil, fmt.Errorf("invoke model: %w", err)
	}

	var cmd Command
	if err := tool.ParseJSON(raw, &cmd); err != nil {
		return nil, err
	}
	t.logger.Debug("parsed command", "action", cmd.Action, "field_path", cmd.FieldPath)
	return &cmd, nil
}

// Execute parses text and applies the command. Missing fields and unknown
// actions are unsuccessful results; parse failures are returned as errors.
func (t *Tool) Execute(ctx context.Context, text string) (*tool.Result, error) {
	start := time.Now()
	res, err := t.execute(ctx, text)
	t.metrics.ToolDuration(Name, err == nil && res.Success, time.Since(start))
	return res, err
}

func (t *Tool) execute(ctx context.Context, text string) (*tool.Result, error) {
	cmd, err := t.ParseQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	switch cmd.Action {
	case ActionGet, ActionUpdate:
		if cmd.FieldPath == "" {
			return tool.Failure(text, cmd, "missing field path"), nil
		}
	default:
		return tool.Failure(text, cmd, "unsupported action"), nil
	}

	if cmd.Action == ActionGet {
		v, err := t.store.GetField(ctx, t.docID, cmd.FieldPath)
		if errors.Is(err, errorspkg.ErrNotFound) {
			return tool.Failure(text, cmd, err.Error()), nil
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", cmd.FieldPath, err)
		}
		return &tool.Result{Query: text, Success: true, Operation: cmd, Result: v}, nil
	}

	ack, err := t.store.UpdateField(ctx, t.docID, cmd.FieldPath, cmd.NewValue)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", cmd.FieldPath, err)
	}
	t.logger.Info("field updated", "field_path", cmd.FieldPath, "success", ack.Success)
	return &tool.Result{Query: text, Success: ack.Success, Operation: cmd, Result: ack, Error: ack.Error}, nil
}
