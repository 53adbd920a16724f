package agent

import (
	"context"

	"github.com/sweetpotato0/ai-concierge/session"
	"github.com/sweetpotato0/ai-concierge/tool"
)

// ToolAgent is a child agent whose pipeline runs a single tool and returns
// its envelope as the result.
type ToolAgent struct {
	id       ID
	tool     tool.Tool
	pipeline *Pipeline
}

var _ Agent = (*ToolAgent)(nil)

// NewToolAgent wraps t. Errors returned by the tool propagate unchanged.
func NewToolAgent(id ID, t tool.Tool) *ToolAgent {
	a := &ToolAgent{id: id, tool: t}
	a.pipeline = NewPipeline(Step{Name: "execute", Run: a.execute})
	return a
}

// ID implements Agent.
func (a *ToolAgent) ID() ID { return a.id }

// Invoke implements Agent.
func (a *ToolAgent) Invoke(ctx context.Context, query string) (*Output, error) {
	return a.pipeline.Invoke(ctx, a.id, query)
}

func (a *ToolAgent) execute(ctx context.Context, st *session.State) (*session.State, error) {
	res, err := a.tool.Execute(ctx, st.UserQuery)
	if err != nil {
		return nil, err
	}
	st.Result = res
	return st, nil
}
