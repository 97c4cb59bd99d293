package link

import "sync"

// notifier fans the no-payload "state changed" tick out to subscribers.
// Each subscriber channel has capacity one and sends never block, so a slow
// observer coalesces ticks instead of stalling the façade.
type notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]chan struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan struct{})}
}

// notify delivers one tick to every subscriber, coalescing if a previous
// tick has not been consumed yet.
func (n *notifier) notify() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber already has an unconsumed tick.
		}
	}
}

// subscribe registers a new observer. The returned cancel func removes the
// subscription; the channel is never closed, so a drained read after cancel
// simply blocks.
func (n *notifier) subscribe() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++

	ch := make(chan struct{}, 1)
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		delete(n.subs, id)
	}

	return ch, cancel
}

func (n *notifier) subscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.subs)
}
