// Package session holds the per-thread conversation state and the stores
// that checkpoint it between transitions.
package session

import (
	"time"

	"github.com/sweetpotato0/ai-concierge/message"
)

// State is the snapshot of one conversation thread. It is loaded at turn
// start and saved after every state machine transition.
type State struct {
	ThreadID          string             `json:"thread_id"`
	Messages          []*message.Message `json:"messages"`
	UserQuery         string             `json:"user_query,omitempty"`
	UserQueryOriginal string             `json:"user_query_original,omitempty"`
	UserQueryCategory string             `json:"user_query_category,omitempty"`
	Result            any                `json:"result,omitempty"`
	// Data is the turn-scoped scratch bag. The node that owns an entry clears
	// it before handing control back.
	Data map[string]any `json:"data,omitempty"`
	// LatestAgent is set only while a child agent owns the turn.
	LatestAgent string `json:"latest_agent,omitempty"`
	// Node is the state machine node the snapshot was taken at.
	Node      string    `json:"node,omitempty"`
	Turn      int       `json:"turn"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState creates the state for a thread's first turn.
func NewState(threadID string) *State {
	now := time.Now()
	return &State{
		ThreadID:  threadID,
		Data:      make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddMessage appends a message to the thread history.
func (s *State) AddMessage(msg *message.Message) {
	if msg == nil {
		return
	}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now()
}

// Set stores a scratch value for the current turn.
func (s *State) Set(key string, value any) {
	if s.Data == nil {
		s.Data = make(map[string]any)
	}
	s.Data[key] = value
}

// Get returns a scratch value for the current turn.
func (s *State) Get(key string) (any, bool) {
	if s.Data == nil {
		return nil, false
	}
	v, ok := s.Data[key]
	return v, ok
}

// ClearScratch drops turn-scoped data and transient messages.
func (s *State) ClearScratch() {
	s.Data = make(map[string]any)
	s.Messages = message.PurgeTransient(s.Messages)
}

// Active reports whether a child agent currently owns the turn.
func (s *State) Active() bool {
	return s.LatestAgent != ""
}

// Clone returns a copy that shares no mutable containers with s. Scratch
// values themselves are copied shallowly.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cloned := *s
	cloned.Messages = message.CloneMessages(s.Messages)
	if s.Data != nil {
		cloned.Data = make(map[string]any, len(s.Data))
		for k, v := range s.Data {
			cloned.Data[k] = v
		}
	}
	return &cloned
}
