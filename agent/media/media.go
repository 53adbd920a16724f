// Package media implements the media child agent. Requests are parsed into
// player commands and applied to a media-player document.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sweetpotato0/ai-concierge/agent"
	"github.com/sweetpotato0/ai-concierge/docstore"
	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
	"github.com/sweetpotato0/ai-concierge/llm"
	"github.com/sweetpotato0/ai-concierge/pkg/logging"
	"github.com/sweetpotato0/ai-concierge/prompt"
	"github.com/sweetpotato0/ai-concierge/session"
	"github.com/sweetpotato0/ai-concierge/tool"
)

// DefaultDocumentID is the player document addressed when none is configured.
const DefaultDocumentID = "media_player"

// Player actions.
const (
	ActionPlay     = "play"
	ActionPause    = "pause"
	ActionResume   = "resume"
	ActionNext     = "next"
	ActionPrevious = "previous"
	ActionVolume   = "volume"
)

// Player document fields.
const (
	FieldState    = "state"
	FieldTrack    = "track"
	FieldVolume   = "volume"
	FieldPosition = "queue_position"
)

const commandKey = "media_command"

// Command is the parsed form of a media request.
type Command struct {
	Action string   `json:"action"`
	Target string   `json:"target,omitempty"`
	Value  *float64 `json:"value,omitempty"`
}

// DefaultDocument returns a stopped player at half volume.
func DefaultDocument() map[string]any {
	return map[string]any{
		FieldState:    "stopped",
		FieldTrack:    "",
		FieldVolume:   50,
		FieldPosition: 0,
	}
}

// Agent is the media child agent.
type Agent struct {
	llm      llm.Client
	store    docstore.Store
	prompts  *prompt.Manager
	docID    string
	logger   *slog.Logger
	pipeline *agent.Pipeline
}

var _ agent.Agent = (*Agent)(nil)

// Option configures an Agent.
type Option func(*Agent)

// WithDocumentID sets the player document.
func WithDocumentID(id string) Option {
	return func(a *Agent) {
		if id != "" {
			a.docID = id
		}
	}
}

// WithPrompts replaces the prompt templates.
func WithPrompts(m *prompt.Manager) Option {
	return func(a *Agent) {
		if m != nil {
			a.prompts = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates the media agent.
func New(client llm.Client, store docstore.Store, opts ...Option) *Agent {
	a := &Agent{
		llm:     client,
		store:   store,
		prompts: prompt.Default(),
		docID:   DefaultDocumentID,
		logger:  logging.WithComponent("agent.media"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.pipeline = agent.NewPipeline(
		agent.Step{Name: "parse", Run: a.parse},
		agent.Step{Name: "apply", Run: a.apply},
	)
	return a
}

// ID implements agent.Agent.
func (a *Agent) ID() agent.ID { return agent.Media }

// Invoke implements agent.Agent.
func (a *Agent) Invoke(ctx context.Context, query string) (*agent.Output, error) {
	return a.pipeline.Invoke(ctx, agent.Media, query)
}

func (a *Agent) parse(ctx context.Context, st *session.State) (*session.State, error) {
	rendered, err := a.prompts.Render(prompt.Media, map[string]any{"Query": st.UserQuery})
	if err != nil {
		return nil, err
	}
	raw, err := a.llm.Invoke(ctx, rendered)
	if err != nil {
		return nil, fmt.Errorf("parse media request: %w", err)
	}

	var cmd Command
	if err := tool.ParseJSON(raw, &cmd); err != nil {
		var perr *tool.ParseError
		if !errors.As(err, &perr) {
			return nil, err
		}
		a.logger.Warn("unparseable media command", "raw", perr.Raw, "error", perr.Err)
		st.Result = tool.Failure(st.UserQuery, nil, "could not understand the media request")
		return st, nil
	}
	st.Set(commandKey, &cmd)
	return st, nil
}

func (a *Agent) apply(ctx context.Context, st *session.State) (*session.State, error) {
	v, ok := st.Get(commandKey)
	if !ok {
		return st, nil
	}
	res, err := a.Apply(ctx, st.UserQuery, v.(*Command))
	if err != nil {
		return nil, err
	}
	st.Result = res
	return st, nil
}

type fieldUpdate struct {
	path  string
	value any
}

// Apply executes cmd against the player document. Store failures are
// returned; everything else is reported in the envelope.
func (a *Agent) Apply(ctx context.Context, query string, cmd *Command) (*tool.Result, error) {
	var updates []fieldUpdate
	switch cmd.Action {
	case ActionPlay:
		updates = append(updates, fieldUpdate{FieldState, "playing"})
		if cmd.Target != "" {
			updates = append(updates, fieldUpdate{FieldTrack, cmd.Target}, fieldUpdate{FieldPosition, 0})
		}
	case ActionPause:
		updates = append(updates, fieldUpdate{FieldState, "paused"})
	case ActionResume:
		updates = append(updates, fieldUpdate{FieldState, "playing"})
	case ActionNext, ActionPrevious:
		v, err := a.store.GetField(ctx, a.docID, FieldPosition)
		if errors.Is(err, errorspkg.ErrNotFound) {
			return tool.Failure(query, cmd, "media player not found"), nil
		}
		if err != nil {
			return nil, err
		}
		pos := toInt(v)
		if cmd.Action == ActionNext {
			pos++
		} else if pos > 0 {
			pos--
		}
		updates = append(updates, fieldUpdate{FieldPosition, pos}, fieldUpdate{FieldState, "playing"})
	case ActionVolume:
		if cmd.Value == nil {
			return tool.Failure(query, cmd, "missing volume level"), nil
		}
		updates = append(updates, fieldUpdate{FieldVolume, clampVolume(*cmd.Value)})
	default:
		return tool.Failure(query, cmd, "unsupported action"), nil
	}

	applied := make(map[string]any, len(updates))
	for _, u := range updates {
		ack, err := a.store.UpdateField(ctx, a.docID, u.path, u.value)
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", u.path, err)
		}
		if !ack.Success {
			return tool.Failure(query, cmd, ack.Error), nil
		}
		applied[u.path] = u.value
	}
	a.logger.Debug("media command applied", "action", cmd.Action, "fields", len(applied))
	return &tool.Result{Query: query, Success: true, Operation: cmd, Result: applied}, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func clampVolume(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v)
}
