package status

import (
	"context"
	"testing"
	"time"

	"github.com/sweetpotato0/ai-concierge/pkg/logging"
)

func TestBroadcasterLastValue(t *testing.T) {
	b := NewBroadcaster(logging.Nop())
	ctx := context.Background()

	if _, ok := b.Last(Namespace, "t1"); ok {
		t.Errorf("Expected no value before publish")
	}
	b.Publish(ctx, Namespace, "t1", "navigation")
	b.Publish(ctx, Namespace, "t1", "")

	v, ok := b.Last(Namespace, "t1")
	if !ok || v != "" {
		t.Errorf("Expected last write to win with empty value, got %q %v", v, ok)
	}
}

func TestBroadcasterSubscribe(t *testing.T) {
	b := NewBroadcaster(logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _ := b.Subscribe(ctx, Namespace)
	other, _ := b.Subscribe(ctx, "other")

	b.Publish(context.Background(), Namespace, "t1", "media")

	select {
	case ev := <-events:
		if ev.Key != "t1" || ev.Value != "media" || ev.Namespace != Namespace {
			t.Errorf("Unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case ev := <-other:
		t.Errorf("Unexpected event in other namespace %+v", ev)
	default:
	}
}

func TestBroadcasterUnsubscribeOnCancel(t *testing.T) {
	b := NewBroadcaster(logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	events, _ := b.Subscribe(ctx, Namespace)
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Errorf("Expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestBroadcasterDropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster(logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Subscribe(ctx, Namespace)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish(context.Background(), Namespace, "t1", "qa")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), Namespace, "t", "v"); err != nil {
		t.Errorf("Nop returned error: %v", err)
	}
}

func TestBroadcasterPublishRacesUnsubscribe(t *testing.T) {
	b := NewBroadcaster(logging.Nop())
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				b.Publish(context.Background(), Namespace, "t1", "qa")
			}
		}
	}()

	for i := 0; i < 5000; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		_, id := b.Subscribe(ctx, Namespace)
		b.Unsubscribe(Namespace, id)
		cancel()
	}
	close(stop)
	<-done
}
