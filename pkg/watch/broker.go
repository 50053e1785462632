package watch

import (
	"sync"

	"github.com/skatelescope/sdpconfig/pkg/backend"
)

// broker fans a single backend watch's events out to every
// Subscription currently interested in it. One broker backs each
// activeWatch; Watcher owns its lifecycle, starting it when the
// backend watch opens and stopping it when the last interested
// Subscription detaches.
//
// Adapted from the teacher's cluster-event pub/sub (pkg/events):
// same buffered-channel, subscribe/publish/broadcast shape, narrowed
// from a flat cluster-wide fan-out of typed cluster events to a
// per-backend-watch fan-out of backend.Event, since here each
// consumer needs the raw keyspace event to apply its own wake
// filtering rather than a pre-classified cluster event.
type broker struct {
	mu          sync.RWMutex
	subscribers map[chan backend.Event]bool
	eventCh     chan backend.Event
	stopCh      chan struct{}
}

func newBroker() *broker {
	return &broker{
		subscribers: make(map[chan backend.Event]bool),
		eventCh:     make(chan backend.Event, 100),
		stopCh:      make(chan struct{}),
	}
}

func (b *broker) start() {
	go b.run()
}

func (b *broker) stop() {
	close(b.stopCh)
}

func (b *broker) subscribe() chan backend.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan backend.Event, 64)
	b.subscribers[ch] = true
	return ch
}

func (b *broker) unsubscribe(ch chan backend.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

func (b *broker) subscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *broker) publish(ev backend.Event) {
	select {
	case b.eventCh <- ev:
	case <-b.stopCh:
	}
}

func (b *broker) run() {
	for {
		select {
		case ev := <-b.eventCh:
			b.broadcast(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *broker) broadcast(ev backend.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop rather than stall every other
			// subscriber of this watch.
		}
	}
}
