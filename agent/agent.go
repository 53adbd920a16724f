// Package agent defines the child agent contract, the agent registry and the
// category routing table used by the dispatch manager.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
	"github.com/sweetpotato0/ai-concierge/message"
)

// ID identifies a child agent.
type ID string

// Built-in agent ids.
const (
	QA         ID = "qa"
	Control    ID = "control"
	Navigation ID = "navigation"
	Media      ID = "media"
)

// ResultKey is the scratch key under which the manager stores a child
// agent's result until it is aggregated.
const ResultKey = "agent_result"

// DisplayKey holds the formatted display message next to ResultKey.
const DisplayKey = "agent_display"

// Output is what a child agent returns for one query.
type Output struct {
	// Result is the terminal result. It is always set on normal completion.
	Result any
	// Display is Result formatted for the aggregation prompt.
	Display string
	// Messages are the agent's own history entries for the parent thread.
	// Transient entries are dropped by the manager.
	Messages []*message.Message
}

// Agent is a bounded sub-workflow owning one domain.
type Agent interface {
	ID() ID
	Invoke(ctx context.Context, query string) (*Output, error)
}

// Run invokes a and enforces the result contract: a nil output or result is
// errors.ErrNoResult. An empty Display is filled from Result.
func Run(ctx context.Context, a Agent, query string) (*Output, error) {
	out, err := a.Invoke(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.ID(), err)
	}
	if out == nil || out.Result == nil {
		return nil, fmt.Errorf("agent %s: %w", a.ID(), errorspkg.ErrNoResult)
	}
	if out.Display == "" {
		out.Display = FormatResult(out.Result)
	}
	return out, nil
}

// FormatResult renders a result for prompts and display. Strings pass
// through; everything else is JSON.
func FormatResult(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// Registry maps agent ids to agents. It is built once at startup and read
// concurrently afterwards.
type Registry struct {
	agents map[ID]Agent
}

// NewRegistry builds a registry. Duplicate ids are an error.
func NewRegistry(agents ...Agent) (*Registry, error) {
	r := &Registry{agents: make(map[ID]Agent, len(agents))}
	for _, a := range agents {
		if a == nil || a.ID() == "" {
			return nil, fmt.Errorf("agent id cannot be empty")
		}
		if _, exists := r.agents[a.ID()]; exists {
			return nil, fmt.Errorf("agent %s already registered", a.ID())
		}
		r.agents[a.ID()] = a
	}
	return r, nil
}

// Get returns the agent registered under id.
func (r *Registry) Get(id ID) (Agent, error) {
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, errorspkg.ErrUnknownAgent)
	}
	return a, nil
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
