// ABOUTME: Tests for the traversal event bus
// ABOUTME: Verifies fan-out, drop-oldest overflow, and clean detach

package events

import (
	"testing"
	"time"
)

func TestPublishFanOut(t *testing.T) {
	bus := NewBus()
	sub1 := bus.Subscribe(10)
	sub2 := bus.Subscribe(10)
	defer sub1.Close()
	defer sub2.Close()

	bus.Publish(Event{Type: TypeNodeEvaluated, NodeID: "n1", Level: 1, Source: "disk"})

	for i, sub := range []*Subscription{sub1, sub2} {
		select {
		case e := <-sub.Events():
			if e.Type != TypeNodeEvaluated || e.NodeID != "n1" {
				t.Errorf("subscriber %d: unexpected event %+v", i, e)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event delivered", i)
		}
	}
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(2)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: TypeNodeEvaluated, Level: i})
	}

	// Buffer of 2 must hold the two newest events
	first := <-sub.Events()
	second := <-sub.Events()
	if first.Level != 3 || second.Level != 4 {
		t.Errorf("expected levels 3 and 4, got %d and %d", first.Level, second.Level)
	}
}

func TestPublishNeverBlocksWithoutConsumer(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			bus.Publish(Event{Type: TypeNodeSelected, Level: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a slow consumer")
	}
}

func TestCloseDetachesSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(10)

	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.SubscriberCount())
	}

	sub.Close()
	sub.Close() // idempotent

	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after close, got %d", bus.SubscriberCount())
	}

	// Publishing after detach must not panic or deliver
	bus.Publish(Event{Type: TypeAnswerGenerated})
	if _, ok := <-sub.Events(); ok {
		t.Error("closed subscription should not receive events")
	}
}

func TestSubscribeDefaultBuffer(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(0)
	defer sub.Close()

	if cap(sub.ch) != DefaultBuffer {
		t.Errorf("expected default buffer %d, got %d", DefaultBuffer, cap(sub.ch))
	}
}
