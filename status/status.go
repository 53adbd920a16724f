// Package status broadcasts which agent currently owns a thread. Delivery is
// best effort and last write wins.
package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sweetpotato0/ai-concierge/pkg/logging"
)

// Namespace used by the dispatch manager. Keys are thread ids and values are
// agent ids, empty once a turn is aggregated.
const Namespace = "dispatch"

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Event is one published status change.
type Event struct {
	Namespace string    `json:"namespace"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	At        time.Time `json:"at"`
}

// Publisher publishes status changes.
type Publisher interface {
	Publish(ctx context.Context, namespace, key, value string) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, string, string) error { return nil }

// Broadcaster is an in-memory Publisher that remembers the last value per
// key and fans events out to namespace subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	last        map[string]map[string]string
	subscribers map[string]map[string]chan Event // namespace -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.Logger()
	}
	return &Broadcaster{
		last:        make(map[string]map[string]string),
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "status"),
	}
}

// Publish records value and notifies subscribers. Slow subscribers miss
// events rather than block the publisher. Sends happen under the lock so a
// concurrent Unsubscribe cannot close a channel mid-send.
func (b *Broadcaster) Publish(ctx context.Context, namespace, key, value string) error {
	ev := Event{Namespace: namespace, Key: key, Value: value, At: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.last[namespace]; !ok {
		b.last[namespace] = make(map[string]string)
	}
	b.last[namespace][key] = value

	for _, ch := range b.subscribers[namespace] {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped status event for slow subscriber",
				"namespace", namespace, "key", key)
		}
	}
	return nil
}

// Last returns the most recent value published for key.
func (b *Broadcaster) Last(namespace, key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.last[namespace][key]
	return v, ok
}

// Subscribe registers for events in namespace. The subscription is removed
// when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, namespace string) (<-chan Event, string) {
	subID := uuid.NewString()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[namespace]; !ok {
		b.subscribers[namespace] = make(map[string]chan Event)
	}
	b.subscribers[namespace][subID] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.Unsubscribe(namespace, subID)
	}()
	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(namespace, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[namespace]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, namespace)
	}
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ns, subs := range b.subscribers {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subscribers, ns)
	}
}
