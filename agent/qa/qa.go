// Package qa implements the retrieval question-answering child agent. It
// keeps its own per-thread history of answers, separate from the manager's
// conversation state.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/ai-concierge/agent"
	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
	"github.com/sweetpotato0/ai-concierge/llm"
	"github.com/sweetpotato0/ai-concierge/message"
	"github.com/sweetpotato0/ai-concierge/pkg/logging"
	"github.com/sweetpotato0/ai-concierge/prompt"
	"github.com/sweetpotato0/ai-concierge/retriever"
	"github.com/sweetpotato0/ai-concierge/session"
)

const (
	// DefaultBudget is the passage token budget per question.
	DefaultBudget = 1024
	// DefaultHistory is how many earlier answers are shown to the model.
	DefaultHistory = 4

	passagesKey = "qa_passages"
	questionKey = "question"
)

// TokenCounter measures prompt text.
type TokenCounter interface {
	CountTokens(text string) int
}

// WordCounter approximates tokens by whitespace-separated words. It is the
// default when no BPE tokenizer is configured.
type WordCounter struct{}

// CountTokens implements TokenCounter.
func (WordCounter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

// Agent is the QA child agent.
type Agent struct {
	llm      llm.Client
	passages retriever.Retriever
	history  session.Store
	counter  TokenCounter
	prompts  *prompt.Manager
	budget   int
	maxTurns int
	logger   *slog.Logger
	pipeline *agent.Pipeline
}

var _ agent.Agent = (*Agent)(nil)

// Option configures an Agent.
type Option func(*Agent)

// WithTokenCounter sets the tokenizer used for the passage budget.
func WithTokenCounter(c TokenCounter) Option {
	return func(a *Agent) {
		if c != nil {
			a.counter = c
		}
	}
}

// WithBudget sets the passage token budget.
func WithBudget(tokens int) Option {
	return func(a *Agent) {
		if tokens > 0 {
			a.budget = tokens
		}
	}
}

// WithHistoryLimit sets how many earlier answers are included in prompts.
func WithHistoryLimit(n int) Option {
	return func(a *Agent) {
		if n >= 0 {
			a.maxTurns = n
		}
	}
}

// WithHistoryStore persists the agent's history somewhere other than memory.
func WithHistoryStore(s session.Store) Option {
	return func(a *Agent) {
		if s != nil {
			a.history = s
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

// New creates the QA agent over a passage retriever.
func New(client llm.Client, passages retriever.Retriever, opts ...Option) *Agent {
	a := &Agent{
		llm:      client,
		passages: passages,
		history:  session.NewMemoryStore(),
		counter:  WordCounter{},
		prompts:  prompt.Default(),
		budget:   DefaultBudget,
		maxTurns: DefaultHistory,
		logger:   logging.WithComponent("agent.qa"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.pipeline = agent.NewPipeline(
		agent.Step{Name: "retrieve", Run: a.retrieve},
		agent.Step{Name: "budget", Run: a.trim},
		agent.Step{Name: "generate", Run: a.generate},
	)
	return a
}

// ID implements agent.Agent.
func (a *Agent) ID() agent.ID { return agent.QA }

// Invoke answers query. The thread's history grows by exactly one answer
// message per successful call; failed calls leave it untouched.
func (a *Agent) Invoke(ctx context.Context, query string) (*agent.Output, error) {
	threadID := session.ThreadID(ctx)
	st, err := a.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	before := len(st.Messages)
	st.UserQuery = query

	st, err = a.pipeline.Run(ctx, st)
	if err != nil {
		return nil, err
	}
	if threadID != "" {
		if err := a.history.Save(ctx, st); err != nil {
			return nil, fmt.Errorf("save qa history: %w", err)
		}
	}
	return agent.NewOutput(agent.QA, st, before), nil
}

// History returns the stored answers for a thread.
func (a *Agent) History(ctx context.Context, threadID string) ([]*message.Message, error) {
	st, err := a.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return st.Messages, nil
}

func (a *Agent) load(ctx context.Context, threadID string) (*session.State, error) {
	if threadID == "" {
		return session.NewState(""), nil
	}
	st, err := a.history.Load(ctx, threadID)
	if errors.Is(err, errorspkg.ErrNotFound) {
		return session.NewState(threadID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load qa history: %w", err)
	}
	st.ClearScratch()
	return st, nil
}

func (a *Agent) retrieve(ctx context.Context, st *session.State) (*session.State, error) {
	passages, err := a.passages.Retrieve(ctx, st.UserQuery)
	if err != nil {
		return nil, fmt.Errorf("retrieve passages: %w", err)
	}
	for _, p := range passages {
		st.AddMessage(message.NewTransientMessage(message.RoleSystem, p))
	}
	st.Set(passagesKey, passages)
	return st, nil
}

// trim keeps passages in rank order until the budget is spent.
func (a *Agent) trim(_ context.Context, st *session.State) (*session.State, error) {
	v, _ := st.Get(passagesKey)
	passages, _ := v.([]string)

	kept := make([]string, 0, len(passages))
	used := 0
	for _, p := range passages {
		n := a.counter.CountTokens(p)
		if used+n > a.budget {
			break
		}
		used += n
		kept = append(kept, p)
	}
	if dropped := len(passages) - len(kept); dropped > 0 {
		a.logger.Debug("passages over budget", "kept", len(kept), "dropped", dropped, "budget", a.budget)
	}
	st.Set(passagesKey, kept)
	return st, nil
}

func (a *Agent) generate(ctx context.Context, st *session.State) (*session.State, error) {
	v, _ := st.Get(passagesKey)
	passages, _ := v.([]string)

	rendered, err := a.prompts.Render(prompt.QA, map[string]any{
		"Passages": passages,
		"History":  a.conversation(st.Messages),
		"Query":    st.UserQuery,
	})
	if err != nil {
		return nil, err
	}
	answer, err := a.llm.Invoke(ctx, rendered)
	if err != nil {
		return nil, fmt.Errorf("answer question: %w", err)
	}
	answer = strings.TrimSpace(answer)

	msg := message.NewAgentMessage(string(agent.QA), answer)
	msg.Metadata[questionKey] = st.UserQuery
	st.AddMessage(msg)
	st.Result = answer
	return st, nil
}

// conversation expands the last stored answers into question/answer pairs
// for the prompt.
func (a *Agent) conversation(msgs []*message.Message) []*message.Message {
	answers := message.PurgeTransient(msgs)
	if len(answers) > a.maxTurns {
		answers = answers[len(answers)-a.maxTurns:]
	}
	out := make([]*message.Message, 0, 2*len(answers))
	for _, m := range answers {
		if q, ok := m.Metadata[questionKey].(string); ok && q != "" {
			out = append(out, &message.Message{Role: message.RoleUser, Content: q})
		}
		out = append(out, m)
	}
	return out
}
