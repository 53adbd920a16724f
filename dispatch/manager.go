// Package dispatch implements the manager state machine: classify a turn,
// route it to one child agent, aggregate the result and support retry
// feedback.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/ai-concierge/agent"
	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
	"github.com/sweetpotato0/ai-concierge/graph"
	"github.com/sweetpotato0/ai-concierge/llm"
	"github.com/sweetpotato0/ai-concierge/message"
	"github.com/sweetpotato0/ai-concierge/pkg/logging"
	"github.com/sweetpotato0/ai-concierge/pkg/metrics"
	"github.com/sweetpotato0/ai-concierge/pkg/telemetry"
	"github.com/sweetpotato0/ai-concierge/prompt"
	"github.com/sweetpotato0/ai-concierge/session"
	"github.com/sweetpotato0/ai-concierge/status"
)

// Node names of the manager graph. Agent nodes are named after agent ids.
const (
	NodeStart = "start"
	NodeCore  = "core"
	NodeEnd   = "end"
)

// CoreName is the message name used for aggregated replies.
const CoreName = "concierge"

// Feedback is out-of-band human feedback on the last turn.
type Feedback string

// FeedbackRetry re-runs the last turn from classification.
const FeedbackRetry Feedback = "retry"

// Classifier chooses a category label for an utterance.
type Classifier interface {
	Classify(ctx context.Context, utterance string) (string, error)
	Labels() []string
}

// Reply is the outcome of a finished turn.
type Reply struct {
	ThreadID string   `json:"thread_id"`
	Turn     int      `json:"turn"`
	Category string   `json:"category"`
	Agent    agent.ID `json:"agent"`
	Result   string   `json:"result"`
}

// Manager runs turns through the dispatch graph. It is safe for concurrent
// use; turns on the same thread are serialized by the locker.
type Manager struct {
	classifier Classifier
	categories *agent.CategoryRegistry
	agents     *agent.Registry
	llm        llm.Client
	prompts    *prompt.Manager
	store      session.Store
	locker     session.Locker
	status     status.Publisher
	metrics    *metrics.Recorder
	logger     *slog.Logger

	lockTimeout time.Duration
	// slots bounds concurrently running turns; nil means unbounded.
	slots chan struct{}

	graph *graph.Graph[*session.State]
}

// New builds a manager. The category registry is validated against the
// classifier's labels and the agent registry; a gap is a configuration
// error wrapping errors.ErrUnknownCategory.
func New(classifier Classifier, categories *agent.CategoryRegistry, agents *agent.Registry, client llm.Client, opts ...Option) (*Manager, error) {
	if classifier == nil || categories == nil || agents == nil || client == nil {
		return nil, fmt.Errorf("manager needs a classifier, categories, agents and an llm client: %w", errorspkg.ErrInvalidInput)
	}
	if err := categories.Validate(classifier.Labels(), agents); err != nil {
		return nil, err
	}

	m := &Manager{
		classifier: classifier,
		categories: categories,
		agents:     agents,
		llm:        client,
		prompts:    prompt.Default(),
		store:      session.NewMemoryStore(),
		locker:     session.NewMutexLocker(),
		status:     status.Nop{},
		logger:     logging.WithComponent("dispatch"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.graph = m.buildGraph()
	return m, nil
}

func (m *Manager) buildGraph() *graph.Graph[*session.State] {
	b := graph.NewBuilder[*session.State]().
		AddNode(NodeStart, graph.NodeTypeStart, m.traced(NodeStart, graph.Then(NodeCore, m.start))).
		AddNode(NodeCore, graph.NodeTypeRouter, m.traced(NodeCore, m.core)).
		AddNode(NodeEnd, graph.NodeTypeEnd, nil).
		AddEdge(NodeStart, NodeCore).
		AddEdge(NodeCore, NodeEnd)
	for _, id := range m.agents.IDs() {
		name := string(id)
		b.AddNode(name, graph.NodeTypeAgent, m.traced(name, graph.Then(NodeCore, m.runAgent(id)))).
			AddEdge(NodeCore, name).
			AddEdge(name, NodeCore)
	}
	return b.OnTransition(m.checkpoint).Build()
}

// Invoke runs one turn for text on threadID and returns the aggregated
// reply. On failure no reply is returned and the thread keeps its last
// checkpoint.
func (m *Manager) Invoke(ctx context.Context, threadID, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if threadID == "" || text == "" {
		return nil, fmt.Errorf("thread id and text are required: %w", errorspkg.ErrInvalidInput)
	}
	return m.turn(ctx, threadID, "invoke", func(st *session.State) (string, error) {
		resetTurn(st)
		st.UserQuery = text
		st.UserQueryOriginal = text
		st.AddMessage(message.NewMessage(message.RoleUser, text))
		return NodeStart, nil
	})
}

// Feedback applies human feedback to the thread's last turn. FeedbackRetry
// re-enters CORE with the original utterance and classifies it again.
func (m *Manager) Feedback(ctx context.Context, threadID string, fb Feedback) (*Reply, error) {
	if fb != FeedbackRetry {
		return nil, fmt.Errorf("feedback %q: %w", fb, errorspkg.ErrInvalidInput)
	}
	if threadID == "" {
		return nil, fmt.Errorf("thread id is required: %w", errorspkg.ErrInvalidInput)
	}
	return m.turn(ctx, threadID, "feedback", func(st *session.State) (string, error) {
		if st.UserQueryOriginal == "" {
			return "", fmt.Errorf("thread %s has no turn to retry: %w", threadID, errorspkg.ErrInvalidInput)
		}
		original := st.UserQueryOriginal
		resetTurn(st)
		st.UserQuery = original
		st.UserQueryOriginal = original
		st.AddMessage(message.NewMessage(message.RoleSystem, "retry requested"))
		return NodeCore, nil
	})
}

// State returns the latest snapshot of a thread.
func (m *Manager) State(ctx context.Context, threadID string) (*session.State, error) {
	return m.store.Load(ctx, threadID)
}

// resetTurn drops everything the previous turn left behind, including a
// child agent that never handed control back.
func resetTurn(st *session.State) {
	st.LatestAgent = ""
	st.UserQueryCategory = ""
	st.Result = nil
	st.ClearScratch()
	st.Turn++
}

func (m *Manager) turn(ctx context.Context, threadID, kind string, prepare func(*session.State) (string, error)) (reply *Reply, err error) {
	ctx = session.WithThreadID(ctx, threadID)
	ctx, span := telemetry.Start(ctx, "dispatch.turn",
		telemetry.AttrThread.String(threadID),
		attribute.String("concierge.turn_kind", kind),
	)
	defer func() {
		telemetry.End(span, err)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		m.metrics.Turn(outcome)
	}()

	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	unlock, err := m.lock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
			m.logger.Warn("failed to release thread lock", "thread", threadID, "error", uerr)
		}
	}()

	st, err := m.store.Load(ctx, threadID)
	if errors.Is(err, errorspkg.ErrNotFound) {
		st, err = session.NewState(threadID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	from, err := prepare(st)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(telemetry.AttrTurn.Int(st.Turn))

	out, err := m.graph.Resume(ctx, from, st)
	if err != nil {
		m.publish(ctx, threadID, "")
		m.logger.Error("turn failed", "thread", threadID, "turn", st.Turn, "error", err)
		return nil, err
	}
	return newReply(out), nil
}

// acquire takes a turn slot when concurrency is bounded.
func (m *Manager) acquire(ctx context.Context) (func(), error) {
	if m.slots == nil {
		return func() {}, nil
	}
	select {
	case m.slots <- struct{}{}:
		return func() { <-m.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) lock(ctx context.Context, threadID string) (session.UnlockFunc, error) {
	if m.lockTimeout <= 0 {
		return m.locker.Lock(ctx, threadID)
	}
	lockCtx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()
	unlock, err := m.locker.Lock(lockCtx, threadID)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("thread %s: %w", threadID, errorspkg.ErrTurnInProgress)
	}
	return unlock, err
}

func newReply(st *session.State) *Reply {
	r := &Reply{ThreadID: st.ThreadID, Turn: st.Turn}
	r.Result, _ = st.Result.(string)
	if last := message.Last(st.Messages, message.RoleAssistant); last != nil && last.Name == CoreName {
		r.Category, _ = last.Metadata["category"].(string)
		if id, ok := last.Metadata["agent"].(string); ok {
			r.Agent = agent.ID(id)
		}
	}
	return r
}

func (m *Manager) start(_ context.Context, st *session.State) (*session.State, error) {
	m.logger.Debug("turn started", "thread", st.ThreadID, "turn", st.Turn)
	return st, nil
}

// core classifies a fresh turn or aggregates a finished child agent.
func (m *Manager) core(ctx context.Context, st *session.State) (string, *session.State, error) {
	if !st.Active() {
		return m.route(ctx, st)
	}
	return m.aggregate(ctx, st)
}

func (m *Manager) route(ctx context.Context, st *session.State) (string, *session.State, error) {
	label, err := m.classifier.Classify(ctx, st.UserQuery)
	if err != nil {
		return "", nil, err
	}
	id, err := m.categories.Route(label)
	if err != nil {
		return "", nil, err
	}
	if _, err := m.agents.Get(id); err != nil {
		return "", nil, err
	}
	m.metrics.Category(label)
	trace.SpanFromContext(ctx).SetAttributes(telemetry.AttrCategory.String(label), telemetry.AttrAgent.String(string(id)))

	st.UserQueryCategory = label
	st.LatestAgent = string(id)
	st.AddMessage(message.NewMessage(message.RoleSystem, fmt.Sprintf("routed to %s agent (category %s)", id, label)))
	m.publish(ctx, st.ThreadID, string(id))
	m.logger.Info("turn routed", "thread", st.ThreadID, "category", label, "agent", id)
	return string(id), st, nil
}

func (m *Manager) aggregate(ctx context.Context, st *session.State) (string, *session.State, error) {
	display, _ := st.Get(agent.DisplayKey)
	rendered, err := m.prompts.Render(prompt.Aggregate, map[string]any{
		"Query":  st.UserQueryOriginal,
		"Agent":  st.LatestAgent,
		"Result": display,
	})
	if err != nil {
		return "", nil, err
	}
	answer, err := m.llm.Invoke(ctx, rendered)
	if err != nil {
		return "", nil, fmt.Errorf("aggregate: %w", err)
	}
	answer = strings.TrimSpace(answer)

	msg := message.NewAgentMessage(CoreName, answer)
	msg.Metadata["agent"] = st.LatestAgent
	msg.Metadata["category"] = st.UserQueryCategory
	st.AddMessage(msg)
	st.Result = answer

	st.LatestAgent = ""
	st.UserQuery = ""
	st.UserQueryCategory = ""
	st.ClearScratch()
	m.publish(ctx, st.ThreadID, "")
	return NodeEnd, st, nil
}

func (m *Manager) runAgent(id agent.ID) func(context.Context, *session.State) (*session.State, error) {
	return func(ctx context.Context, st *session.State) (*session.State, error) {
		a, err := m.agents.Get(id)
		if err != nil {
			return nil, err
		}
		out, err := agent.Run(ctx, a, st.UserQuery)
		if err != nil {
			return nil, err
		}
		st.Set(agent.ResultKey, out.Result)
		st.Set(agent.DisplayKey, out.Display)
		msgs := message.PurgeTransient(out.Messages)
		if len(msgs) == 0 {
			msgs = []*message.Message{message.NewAgentMessage(string(id), out.Display)}
		}
		for _, msg := range msgs {
			st.AddMessage(msg)
		}
		return st, nil
	}
}

// checkpoint saves the state after every transition. A failed save fails
// the turn.
func (m *Manager) checkpoint(ctx context.Context, from, to string, st *session.State) error {
	st.Node = to
	m.metrics.NodeVisit(from)
	if err := m.store.Save(ctx, st); err != nil {
		return fmt.Errorf("checkpoint %s: %w", st.ThreadID, err)
	}
	return nil
}

// publish reports the active agent. Status is advisory, so failures are
// only logged.
func (m *Manager) publish(ctx context.Context, threadID, value string) {
	if err := m.status.Publish(ctx, status.Namespace, threadID, value); err != nil {
		m.logger.Warn("status publish failed", "thread", threadID, "error", err)
	}
}

func (m *Manager) traced(name string, step graph.StepFunc[*session.State]) graph.StepFunc[*session.State] {
	return func(ctx context.Context, st *session.State) (next string, out *session.State, err error) {
		ctx, span := telemetry.Start(ctx, "dispatch.node", telemetry.AttrNode.String(name))
		defer func() { telemetry.End(span, err) }()
		return step(ctx, st)
	}
}
