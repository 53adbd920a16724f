package agent

import (
	"context"

	"github.com/sweetpotato0/ai-concierge/graph"
	"github.com/sweetpotato0/ai-concierge/message"
	"github.com/sweetpotato0/ai-concierge/session"
)

// CleanupNode is the terminal node of every pipeline. It drops scratch data
// and transient messages before the agent returns.
const CleanupNode = "cleanup"

// Step is one node of a child agent pipeline.
type Step struct {
	Name string
	Run  func(ctx context.Context, st *session.State) (*session.State, error)
}

// Pipeline runs its steps in order over a child agent's state and always
// finishes in CleanupNode.
type Pipeline struct {
	graph *graph.Graph[*session.State]
}

// NewPipeline builds a linear pipeline. It panics on an empty or duplicate
// step name, like graph.Builder.
func NewPipeline(steps ...Step) *Pipeline {
	if len(steps) == 0 {
		panic("pipeline needs at least one step")
	}
	b := graph.NewBuilder[*session.State]()
	for i, s := range steps {
		next := CleanupNode
		if i+1 < len(steps) {
			next = steps[i+1].Name
		}
		typ := graph.NodeTypeCustom
		if i == 0 {
			typ = graph.NodeTypeStart
		}
		b.AddNode(s.Name, typ, graph.Then(next, s.Run)).AddEdge(s.Name, next)
	}
	b.AddNode(CleanupNode, graph.NodeTypeEnd, graph.Then("", cleanup))
	return &Pipeline{graph: b.Build()}
}

func cleanup(_ context.Context, st *session.State) (*session.State, error) {
	st.ClearScratch()
	return st, nil
}

// Run executes the pipeline.
func (p *Pipeline) Run(ctx context.Context, st *session.State) (*session.State, error) {
	return p.graph.Execute(ctx, st)
}

// Invoke runs the pipeline on a fresh state for query and packages the
// result. Agents without their own history use it directly.
func (p *Pipeline) Invoke(ctx context.Context, id ID, query string) (*Output, error) {
	st := session.NewState(session.ThreadID(ctx))
	st.UserQuery = query
	out, err := p.Run(ctx, st)
	if err != nil {
		return nil, err
	}
	return NewOutput(id, out, 0), nil
}

// NewOutput packages a finished pipeline state. Messages appended after
// index before are returned; a result message is added when the pipeline
// produced none.
func NewOutput(id ID, st *session.State, before int) *Output {
	out := &Output{Result: st.Result, Display: FormatResult(st.Result)}
	if before < len(st.Messages) {
		out.Messages = append(out.Messages, st.Messages[before:]...)
	}
	if len(out.Messages) == 0 && st.Result != nil {
		out.Messages = []*message.Message{message.NewAgentMessage(string(id), out.Display)}
	}
	return out
}
