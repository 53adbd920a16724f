package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/sweetpotato0/ai-concierge/agent"
	"github.com/sweetpotato0/ai-concierge/classifier"
	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
	"github.com/sweetpotato0/ai-concierge/llm/llmtest"
	"github.com/sweetpotato0/ai-concierge/message"
	"github.com/sweetpotato0/ai-concierge/pkg/logging"
	"github.com/sweetpotato0/ai-concierge/pkg/metrics"
	"github.com/sweetpotato0/ai-concierge/session"
	"github.com/sweetpotato0/ai-concierge/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var labels = []string{"question", "device_control", "navigation", "media"}

// fakeAgent answers with a fixed result and counts calls.
type fakeAgent struct {
	id      agent.ID
	result  string
	fail    atomic.Int32 // remaining calls that fail
	calls   atomic.Int32
	queries chan string
	// messages, when set, are returned as the agent's own history.
	messages []*message.Message
}

func newFakeAgent(id agent.ID, result string) *fakeAgent {
	return &fakeAgent{id: id, result: result, queries: make(chan string, 64)}
}

func (f *fakeAgent) ID() agent.ID { return f.id }

func (f *fakeAgent) Invoke(ctx context.Context, query string) (*agent.Output, error) {
	f.calls.Add(1)
	f.queries <- query
	if f.fail.Load() > 0 {
		f.fail.Add(-1)
		return nil, errors.New("device offline")
	}
	return &agent.Output{Result: f.result + " (" + session.ThreadID(ctx) + ")", Messages: f.messages}, nil
}

// scriptedClassifier returns labels in order and then repeats the last one.
type scriptedClassifier struct {
	mu     sync.Mutex
	labels []string
	seen   []string
}

func (s *scriptedClassifier) Classify(_ context.Context, utterance string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, utterance)
	label := s.labels[0]
	if len(s.labels) > 1 {
		s.labels = s.labels[1:]
	}
	return label, nil
}

func (s *scriptedClassifier) Labels() []string { return labels }

type fixture struct {
	manager *Manager
	model   *llmtest.Scripted
	agents  map[agent.ID]*fakeAgent
	status  *status.Broadcaster
	store   *session.MemoryStore
}

func newFixture(t *testing.T, cls Classifier, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		model:  llmtest.New(),
		status: status.NewBroadcaster(logging.Nop()),
		store:  session.NewMemoryStore(),
		agents: map[agent.ID]*fakeAgent{
			agent.QA:         newFakeAgent(agent.QA, "the pool opens at 7"),
			agent.Control:    newFakeAgent(agent.Control, "porch light off"),
			agent.Navigation: newFakeAgent(agent.Navigation, "12 minutes away"),
			agent.Media:      newFakeAgent(agent.Media, "playing jazz"),
		},
	}
	f.model.Fallback = "All done."

	if cls == nil {
		f.model.On("Request: turn off the porch light", "device_control").
			On("Request: when does the pool open", "question")
		c, err := classifier.New(f.model, labels, classifier.WithLogger(logging.Nop()))
		if err != nil {
			t.Fatalf("classifier.New failed: %v", err)
		}
		cls = c
	}

	registry, err := agent.NewRegistry(f.agents[agent.QA], f.agents[agent.Control], f.agents[agent.Navigation], f.agents[agent.Media])
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	opts = append([]Option{
		WithStore(f.store),
		WithStatus(f.status),
		WithLogger(logging.Nop()),
		WithMetrics(metrics.New()),
	}, opts...)
	m, err := New(cls, agent.DefaultCategories(), registry, f.model, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f.manager = m
	return f
}

func TestInvokeKeepsAgentMessages(t *testing.T) {
	f := newFixture(t, nil)
	f.agents[agent.Control].messages = []*message.Message{
		message.NewTransientMessage(message.RoleSystem, "candidate paths: lights.porch"),
		message.NewAgentMessage(string(agent.Control), "lights.porch set to off"),
	}

	if _, err := f.manager.Invoke(context.Background(), "t1", "turn off the porch light"); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	st, err := f.manager.State(context.Background(), "t1")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}

	var trail []string
	for _, m := range st.Messages {
		trail = append(trail, string(m.Role)+":"+m.Name)
		if m.Transient {
			t.Errorf("Transient agent message leaked into the thread: %+v", m)
		}
	}
	want := []string{"user:", "system:", "assistant:control", "assistant:" + CoreName}
	if diff := cmp.Diff(want, trail); diff != "" {
		t.Errorf("Message trail mismatch (-want +got):\n%s", diff)
	}
	if got := st.Messages[2].Content; got != "lights.porch set to off" {
		t.Errorf("Expected the agent's own message, got %q", got)
	}
}

func TestInvokeRoutesAndAggregates(t *testing.T) {
	f := newFixture(t, nil)
	f.model.On("The user asked: turn off the porch light", " The porch light is off. ")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _ := f.status.Subscribe(ctx, status.Namespace)

	reply, err := f.manager.Invoke(ctx, "t1", "turn off the porch light")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	want := &Reply{ThreadID: "t1", Turn: 1, Category: "device_control", Agent: agent.Control, Result: "The porch light is off."}
	if diff := cmp.Diff(want, reply); diff != "" {
		t.Errorf("Reply mismatch (-want +got):\n%s", diff)
	}

	if n := f.model.Calls("Choose exactly one category"); n != 1 {
		t.Errorf("Expected one classification call, got %d", n)
	}
	if n := f.model.Calls("The user asked:"); n != 1 {
		t.Errorf("Expected one aggregation call, got %d", n)
	}
	if n := f.agents[agent.Control].calls.Load(); n != 1 {
		t.Errorf("Expected one agent invocation, got %d", n)
	}
	if q := <-f.agents[agent.Control].queries; q != "turn off the porch light" {
		t.Errorf("Agent received %q", q)
	}

	st, err := f.manager.State(context.Background(), "t1")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if st.Active() || st.UserQuery != "" || st.UserQueryCategory != "" || len(st.Data) != 0 {
		t.Errorf("Expected turn state cleared, got %+v", st)
	}
	if st.Node != NodeEnd || st.Result != "The porch light is off." {
		t.Errorf("Unexpected final snapshot node=%s result=%v", st.Node, st.Result)
	}
	roles := make([]string, 0, len(st.Messages))
	for _, m := range st.Messages {
		roles = append(roles, string(m.Role)+":"+m.Name)
	}
	wantRoles := []string{"user:", "system:", "assistant:control", "assistant:" + CoreName}
	if diff := cmp.Diff(wantRoles, roles); diff != "" {
		t.Errorf("Message trail mismatch (-want +got):\n%s", diff)
	}

	var published []string
	for len(published) < 2 {
		select {
		case ev := <-events:
			published = append(published, ev.Value)
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for status events, got %v", published)
		}
	}
	if diff := cmp.Diff([]string{"control", ""}, published); diff != "" {
		t.Errorf("Status mismatch (-want +got):\n%s", diff)
	}
}

type recordingStore struct {
	*session.MemoryStore
	mu    sync.Mutex
	nodes []string
	fail  error
}

func (r *recordingStore) Save(ctx context.Context, st *session.State) error {
	if r.fail != nil {
		return r.fail
	}
	r.mu.Lock()
	r.nodes = append(r.nodes, st.Node)
	r.mu.Unlock()
	return r.MemoryStore.Save(ctx, st)
}

func TestCheckpointEveryTransition(t *testing.T) {
	store := &recordingStore{MemoryStore: session.NewMemoryStore()}
	f := newFixture(t, nil, WithStore(store))

	if _, err := f.manager.Invoke(context.Background(), "t1", "when does the pool open"); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	want := []string{NodeCore, string(agent.QA), NodeCore, NodeEnd}
	if diff := cmp.Diff(want, store.nodes); diff != "" {
		t.Errorf("Checkpoint trail mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckpointFailureFailsTurn(t *testing.T) {
	saveErr := errors.New("disk full")
	store := &recordingStore{MemoryStore: session.NewMemoryStore(), fail: saveErr}
	f := newFixture(t, nil, WithStore(store))

	if _, err := f.manager.Invoke(context.Background(), "t1", "when does the pool open"); !errors.Is(err, saveErr) {
		t.Errorf("Expected save error, got %v", err)
	}
	if n := f.agents[agent.QA].calls.Load(); n != 0 {
		t.Errorf("Expected no agent call after failed checkpoint, got %d", n)
	}
}

func TestUnknownCategoryIsFatal(t *testing.T) {
	f := newFixture(t, &scriptedClassifier{labels: []string{"weather"}})

	_, err := f.manager.Invoke(context.Background(), "t1", "will it rain")
	if !errors.Is(err, errorspkg.ErrUnknownCategory) {
		t.Fatalf("Expected ErrUnknownCategory, got %v", err)
	}
	for id, a := range f.agents {
		if a.calls.Load() != 0 {
			t.Errorf("Agent %s should not run", id)
		}
	}
	if f.model.Calls("The user asked:") != 0 {
		t.Errorf("Expected no aggregation")
	}
}

func TestClassifierLabelOutsideSet(t *testing.T) {
	f := newFixture(t, nil)
	f.model.On("Request: sing a song", "karaoke")

	_, err := f.manager.Invoke(context.Background(), "t1", "sing a song")
	if !errors.Is(err, errorspkg.ErrUnknownCategory) {
		t.Errorf("Expected ErrUnknownCategory, got %v", err)
	}
}

func TestNewValidatesRegistry(t *testing.T) {
	cls := &scriptedClassifier{labels: []string{"question"}}
	registry, _ := agent.NewRegistry(newFakeAgent(agent.QA, "x"))

	_, err := New(cls, agent.DefaultCategories(), registry, llmtest.New())
	if !errors.Is(err, errorspkg.ErrUnknownCategory) {
		t.Errorf("Expected ErrUnknownCategory for unregistered agents, got %v", err)
	}
}

func TestRetryReclassifiesOriginalUtterance(t *testing.T) {
	cls := &scriptedClassifier{labels: []string{"media", "question"}}
	f := newFixture(t, cls)
	ctx := context.Background()

	first, err := f.manager.Invoke(ctx, "t1", "what's playing at the cinema")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if first.Agent != agent.Media {
		t.Fatalf("Expected media on first turn, got %s", first.Agent)
	}

	second, err := f.manager.Feedback(ctx, "t1", FeedbackRetry)
	if err != nil {
		t.Fatalf("Feedback failed: %v", err)
	}
	if second.Agent != agent.QA || second.Category != "question" || second.Turn != 2 {
		t.Errorf("Unexpected retry reply %+v", second)
	}
	if q := <-f.agents[agent.QA].queries; q != "what's playing at the cinema" {
		t.Errorf("Retry ran with %q", q)
	}
	if diff := cmp.Diff([]string{"what's playing at the cinema", "what's playing at the cinema"}, cls.seen); diff != "" {
		t.Errorf("Classifier inputs mismatch (-want +got):\n%s", diff)
	}

	st, _ := f.manager.State(ctx, "t1")
	if st.UserQueryOriginal != "what's playing at the cinema" {
		t.Errorf("Expected original utterance kept, got %q", st.UserQueryOriginal)
	}
}

func TestFailedTurnRecoversOnRetry(t *testing.T) {
	f := newFixture(t, nil)
	f.agents[agent.Control].fail.Store(1)
	ctx := context.Background()

	if _, err := f.manager.Invoke(ctx, "t1", "turn off the porch light"); err == nil {
		t.Fatalf("Expected agent failure")
	}
	st, err := f.manager.State(ctx, "t1")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if st.LatestAgent != string(agent.Control) || st.Node != string(agent.Control) {
		t.Errorf("Expected snapshot at the failing agent node, got node=%s agent=%s", st.Node, st.LatestAgent)
	}
	if v, _ := f.status.Last(status.Namespace, "t1"); v != "" {
		t.Errorf("Expected status cleared after failure, got %q", v)
	}

	reply, err := f.manager.Feedback(ctx, "t1", FeedbackRetry)
	if err != nil {
		t.Fatalf("Feedback failed: %v", err)
	}
	if reply.Agent != agent.Control || reply.Result != "All done." {
		t.Errorf("Unexpected reply %+v", reply)
	}
	if n := f.model.Calls("Request: turn off the porch light"); n != 2 {
		t.Errorf("Expected classification on both attempts, got %d", n)
	}
}

func TestFeedbackValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.manager.Feedback(ctx, "t1", Feedback("thumbs_up")); !errors.Is(err, errorspkg.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for unknown feedback, got %v", err)
	}
	if _, err := f.manager.Feedback(ctx, "fresh", FeedbackRetry); !errors.Is(err, errorspkg.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for thread without turns, got %v", err)
	}
	if _, err := f.manager.Invoke(ctx, "t1", "   "); !errors.Is(err, errorspkg.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty text, got %v", err)
	}
	if _, err := f.manager.State(ctx, "nobody"); !errors.Is(err, errorspkg.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// serialAgent fails the test if two turns on the same thread overlap.
type serialAgent struct {
	inflight atomic.Int32
	overlaps atomic.Int32
}

func (s *serialAgent) ID() agent.ID { return agent.QA }

func (s *serialAgent) Invoke(context.Context, string) (*agent.Output, error) {
	if s.inflight.Add(1) > 1 {
		s.overlaps.Add(1)
	}
	time.Sleep(2 * time.Millisecond)
	s.inflight.Add(-1)
	return &agent.Output{Result: "ok"}, nil
}

func TestSameThreadTurnsNeverInterleave(t *testing.T) {
	serial := &serialAgent{}
	registry, _ := agent.NewRegistry(serial, newFakeAgent(agent.Control, "x"), newFakeAgent(agent.Navigation, "x"), newFakeAgent(agent.Media, "x"))
	model := llmtest.New()
	model.Fallback = "ok"
	store := session.NewMemoryStore()
	m, err := New(&scriptedClassifier{labels: []string{"question"}}, agent.DefaultCategories(), registry, model,
		WithStore(store), WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	const turns = 10
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < turns; i++ {
		g.Go(func() error {
			_, err := m.Invoke(ctx, "shared", fmt.Sprintf("question %d", i))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if n := serial.overlaps.Load(); n != 0 {
		t.Errorf("Detected %d overlapping turns", n)
	}

	st, _ := m.State(context.Background(), "shared")
	if st.Turn != turns || st.Active() {
		t.Errorf("Expected %d finished turns, got turn=%d active=%v", turns, st.Turn, st.Active())
	}
	if got := len(message.PurgeTransient(st.Messages)); got != 4*turns {
		t.Errorf("Expected %d messages, got %d", 4*turns, got)
	}
}

func TestThreadsRunIndependently(t *testing.T) {
	f := newFixture(t, &scriptedClassifier{labels: []string{"navigation"}}, WithMaxConcurrentTurns(4))

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 8; i++ {
		thread := fmt.Sprintf("t%d", i)
		g.Go(func() error {
			for j := 0; j < 3; j++ {
				if _, err := f.manager.Invoke(ctx, thread, "how far is the airport"); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	for i := 0; i < 8; i++ {
		st, err := f.manager.State(context.Background(), fmt.Sprintf("t%d", i))
		if err != nil {
			t.Fatalf("State failed: %v", err)
		}
		if st.Turn != 3 {
			t.Errorf("Thread %s: expected 3 turns, got %d", st.ThreadID, st.Turn)
		}
		for _, m := range st.Messages {
			if m.Name == string(agent.Navigation) && m.Content != "12 minutes away ("+st.ThreadID+")" {
				t.Errorf("Thread %s saw another thread's result: %q", st.ThreadID, m.Content)
			}
		}
	}
}

func TestLockTimeoutReportsTurnInProgress(t *testing.T) {
	locker := session.NewMutexLocker()
	f := newFixture(t, nil, WithLocker(locker), WithLockTimeout(20*time.Millisecond))

	unlock, err := locker.Lock(context.Background(), "busy")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer unlock(context.Background())

	_, err = f.manager.Invoke(context.Background(), "busy", "turn off the porch light")
	if !errors.Is(err, errorspkg.ErrTurnInProgress) {
		t.Errorf("Expected ErrTurnInProgress, got %v", err)
	}
}
