package link

import "testing"

func TestNotifierDeliversToAllSubscribers(t *testing.T) {
	n := newNotifier()

	ch1, cancel1 := n.subscribe()
	defer cancel1()

	ch2, cancel2 := n.subscribe()
	defer cancel2()

	n.notify()

	for i, ch := range []<-chan struct{}{ch1, ch2} {
		select {
		case <-ch:
		default:
			t.Errorf("subscriber %d did not receive the tick", i+1)
		}
	}
}

func TestNotifierCoalescesTicks(t *testing.T) {
	n := newNotifier()

	ch, cancel := n.subscribe()
	defer cancel()

	for range 5 {
		n.notify()
	}

	// Five notifies with no consumer in between collapse to one tick.
	select {
	case <-ch:
	default:
		t.Fatal("no tick delivered")
	}

	select {
	case <-ch:
		t.Error("ticks were not coalesced")
	default:
	}
}

func TestNotifierCancelRemovesSubscription(t *testing.T) {
	n := newNotifier()

	ch, cancel := n.subscribe()

	if n.subscriberCount() != 1 {
		t.Fatalf("subscriberCount = %d, want 1", n.subscriberCount())
	}

	cancel()

	if n.subscriberCount() != 0 {
		t.Fatalf("subscriberCount after cancel = %d, want 0", n.subscriberCount())
	}

	n.notify()

	select {
	case <-ch:
		t.Error("cancelled subscriber received a tick")
	default:
	}
}
