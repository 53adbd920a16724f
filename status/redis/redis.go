package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sweetpotato0/ai-concierge/pkg/logging"
	"github.com/sweetpotato0/ai-concierge/status"
)

// Publisher implements status.Publisher on Redis. The latest value per key
// lives in a hash per namespace, and every change is also sent on a pub/sub
// channel of the same name.
type Publisher struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

var _ status.Publisher = (*Publisher)(nil)

// New wraps client. Hash and channel names are prefix+namespace.
func New(client *redis.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "concierge:status:"
	}
	return &Publisher{client: client, prefix: prefix, logger: logging.WithComponent("status.redis")}
}

// Channel returns the hash and pub/sub channel name for namespace.
func (p *Publisher) Channel(namespace string) string {
	return p.prefix + namespace
}

// Publish stores value with HSET and announces it with PUBLISH in one
// round trip.
func (p *Publisher) Publish(ctx context.Context, namespace, key, value string) error {
	raw, err := json.Marshal(status.Event{Namespace: namespace, Key: key, Value: value, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	name := p.Channel(namespace)
	pipe := p.client.Pipeline()
	pipe.HSet(ctx, name, key, value)
	pipe.Publish(ctx, name, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish status %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Last returns the stored value for key.
func (p *Publisher) Last(ctx context.Context, namespace, key string) (string, bool, error) {
	v, err := p.client.HGet(ctx, p.Channel(namespace), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read status %s/%s: %w", namespace, key, err)
	}
	return v, true, nil
}

// Subscribe streams events published on namespace until ctx is cancelled.
func (p *Publisher) Subscribe(ctx context.Context, namespace string) (<-chan status.Event, error) {
	sub := p.client.Subscribe(ctx, p.Channel(namespace))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", namespace, err)
	}

	out := make(chan status.Event, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev status.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					p.logger.Warn("invalid status payload", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
