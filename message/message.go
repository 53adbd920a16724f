package message

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the role of the message sender
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a single turn in a conversation thread.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Name identifies the agent that produced the message, if any.
	Name string `json:"name,omitempty"`
	// Transient messages carry turn-scoped context (retrieved passages,
	// intermediate drafts) and are purged before the owning node returns.
	Transient bool           `json:"transient,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewMessage creates a new message with the given role and content
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]any),
	}
}

// NewAgentMessage creates an assistant message attributed to the named agent.
func NewAgentMessage(name, content string) *Message {
	msg := NewMessage(RoleAssistant, content)
	msg.Name = name
	return msg
}

// NewTransientMessage creates a message that cleanup steps will remove.
func NewTransientMessage(role Role, content string) *Message {
	msg := NewMessage(role, content)
	msg.Transient = true
	return msg
}

// Clone creates a deep copy of the message.
func Clone(msg *Message) *Message {
	if msg == nil {
		return nil
	}
	cloned := *msg
	if msg.Metadata != nil {
		cloned.Metadata = make(map[string]any, len(msg.Metadata))
		for k, v := range msg.Metadata {
			cloned.Metadata[k] = v
		}
	}
	return &cloned
}

// CloneMessages copies a slice of messages.
func CloneMessages(msgs []*Message) []*Message {
	if len(msgs) == 0 {
		return nil
	}
	clones := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		clones = append(clones, Clone(msg))
	}
	return clones
}

// PurgeTransient returns msgs without transient entries. The input slice is
// not modified.
func PurgeTransient(msgs []*Message) []*Message {
	kept := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg == nil || msg.Transient {
			continue
		}
		kept = append(kept, msg)
	}
	return kept
}

// Last returns the most recent message with the given role, or nil.
func Last(msgs []*Message, role Role) *Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] != nil && msgs[i].Role == role {
			return msgs[i]
		}
	}
	return nil
}
