package events

import "testing"

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	first, cancelFirst := bus.Subscribe()
	second, cancelSecond := bus.Subscribe()
	defer cancelFirst()
	defer cancelSecond()

	bus.Publish(Event{Type: SyncCompleted, Synced: 2})

	for _, ch := range []<-chan Event{first, second} {
		event := <-ch
		if event.Type != SyncCompleted || event.Synced != 2 {
			t.Fatalf("unexpected event: %+v", event)
		}
		if event.At.IsZero() {
			t.Fatalf("publish must stamp the event time")
		}
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	cancel()
	// Cancel is idempotent.
	cancel()

	bus.Publish(Event{Type: ConnectivityOnline})
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after cancel")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	// Overflow the buffer; every publish must return immediately.
	for i := 0; i < 64; i++ {
		bus.Publish(Event{Type: ConnectivityOffline})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected a full buffer, got %d of %d", len(ch), cap(ch))
	}
}
