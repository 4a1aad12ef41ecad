package events

import (
	"testing"
	"time"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventSignalNew, 4)
	defer unsub()

	bus.Publish(EventSignalNew, "payload-1")
	bus.Publish(EventSignalClose, "other-topic")

	select {
	case got := <-ch:
		if got != "payload-1" {
			t.Errorf("expected payload-1, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case got := <-ch:
		t.Errorf("unexpected cross-topic delivery: %v", got)
	default:
	}
}

func TestBusDropsWhenSubscriberSlow(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventSignalNew, 1)
	defer unsub()

	bus.Publish(EventSignalNew, 1)
	bus.Publish(EventSignalNew, 2) // buffer full, dropped

	if got := <-ch; got != 1 {
		t.Errorf("expected first event, got %v", got)
	}
	select {
	case got := <-ch:
		t.Errorf("expected second event dropped, got %v", got)
	default:
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventBroadcastDone, 1)
	unsub()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(EventBroadcastDone, nil)
}
