package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/lanse6899/previewd/internal/eventbus"
)

func TestBusPublishDeliver(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.TopicSourceChanged)
	defer sub.Close()

	payload := eventbus.SourceChangedEvent{SourceID: "42", Name: "brightness"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	bus.Publish(ctx, eventbus.Envelope{
		Topic:   eventbus.TopicSourceChanged,
		Source:  eventbus.SourceWatcher,
		Payload: payload,
	})

	select {
	case env := <-sub.C():
		msg, ok := env.Payload.(eventbus.SourceChangedEvent)
		if !ok {
			t.Fatalf("expected SourceChangedEvent payload, got %T", env.Payload)
		}
		if msg.SourceID != "42" || msg.Name != "brightness" {
			t.Fatalf("unexpected payload %+v", msg)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	metrics := bus.Metrics()
	if metrics.PublishTotal != 1 {
		t.Fatalf("expected PublishTotal 1, got %d", metrics.PublishTotal)
	}
}

func TestBusDropOldest(t *testing.T) {
	bus := eventbus.New(eventbus.WithTopicBuffer(eventbus.TopicSourceChanged, 1))
	sub := bus.Subscribe(eventbus.TopicSourceChanged, eventbus.WithSubscriptionBuffer(1))
	defer sub.Close()

	ctx := context.Background()
	for seq := 1; seq <= 2; seq++ {
		bus.Publish(ctx, eventbus.Envelope{
			Topic:   eventbus.TopicSourceChanged,
			Source:  eventbus.SourceWatcher,
			Payload: eventbus.SourceChangedEvent{SourceID: "42", Name: "brightness"},
		})
	}

	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event after drops")
	}

	if bus.Metrics().DroppedTotal == 0 {
		t.Fatal("expected dropped events to be recorded")
	}
}

func TestBusNilSafe(t *testing.T) {
	var bus *eventbus.Bus
	bus.Publish(context.Background(), eventbus.Envelope{Topic: eventbus.TopicSourceDrag})

	sub := bus.Subscribe(eventbus.TopicSourceDrag)
	if _, open := <-sub.C(); open {
		t.Fatal("nil-bus subscription channel should be closed")
	}
	sub.Close()
}

func TestTypedSubscribeFiltersPayloads(t *testing.T) {
	bus := eventbus.New()
	sub := eventbus.Subscribe[eventbus.SourceDragEvent](bus, eventbus.TopicSourceDrag)
	defer sub.Close()

	ctx := context.Background()
	// Mismatched payload type on the same topic is skipped.
	bus.Publish(ctx, eventbus.Envelope{
		Topic:   eventbus.TopicSourceDrag,
		Payload: "not-a-drag-event",
	})
	eventbus.Publish(ctx, bus, eventbus.TopicSourceDrag, eventbus.SourceEngine,
		eventbus.SourceDragEvent{SourceID: "7", Phase: eventbus.DragEnd})

	select {
	case env := <-sub.C():
		if env.Payload.Phase != eventbus.DragEnd || env.Payload.SourceID != "7" {
			t.Fatalf("unexpected typed payload %+v", env.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for typed event")
	}
}

func TestShutdownClosesSubscriptions(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.TopicPreviewFrame)

	bus.Shutdown()

	select {
	case _, open := <-sub.C():
		if open {
			t.Fatal("expected channel closed after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for closed channel")
	}
}
