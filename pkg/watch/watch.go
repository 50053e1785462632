// Package watch implements the Watcher: it coalesces the read logs
// produced by pkg/txn transactions, or explicit path/prefix
// subscriptions, into a bounded set of backend.Watch calls, and wakes
// callers only when something they actually care about changed.
//
// Two things keep this from degenerating into one backend watch per
// subscribed key (which would flood the backend with range watches
// under load): range subscriptions subsume point subscriptions that
// fall within them, and value-only updates to a range member the
// subscriber has already observed are filtered out rather than
// waking the caller — only a brand new member (an insertion) or a
// deletion wakes a range subscription; any change at all wakes a
// point subscription, since a point subscriber asked about that exact
// key.
package watch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/skatelescope/sdpconfig/pkg/backend"
	"github.com/skatelescope/sdpconfig/pkg/metrics"
	"github.com/skatelescope/sdpconfig/pkg/path"
	"github.com/skatelescope/sdpconfig/pkg/txn"
)

type watchKey struct {
	path   string
	prefix bool
}

// activeWatch is one open backend.Watch. Its broker fans every event
// it receives out to every Subscription currently attached.
type activeWatch struct {
	key    watchKey
	cancel context.CancelFunc
	broker *broker
	refCnt int
}

// Watcher manages the set of open backend watches behind every live
// Subscription.
type Watcher struct {
	be  backend.Backend
	log zerolog.Logger

	mu     sync.Mutex
	active map[watchKey]*activeWatch
}

func New(be backend.Backend, log zerolog.Logger) *Watcher {
	return &Watcher{
		be:     be,
		log:    log,
		active: make(map[watchKey]*activeWatch),
	}
}

// attachment is one raw broker channel a Subscription forwards from,
// together with the activeWatch it belongs to (needed to detach on
// Close).
type attachment struct {
	aw *activeWatch
	ch chan backend.Event
}

// Subscription is a single caller's view onto a set of points and
// prefixes. Wait blocks until something the filtering rule considers
// wake-worthy happens to one of them.
type Subscription struct {
	id       string
	w        *Watcher
	points   map[string]bool
	prefixes []string

	mu          sync.Mutex
	seenMembers map[string]bool

	attachments []attachment
	events      chan backend.Event
	done        chan struct{}
}

// Subscribe opens (or reuses) the backend watches needed to cover
// points and prefixes, and returns a Subscription the caller can Wait
// on. Every point already covered by one of prefixes, or by another
// active subscription's prefix, is subsumed: no extra backend watch is
// opened for it.
func (w *Watcher) Subscribe(ctx context.Context, points []string, prefixes []string) (*Subscription, error) {
	sub := &Subscription{
		id:          uuid.NewString(),
		w:           w,
		points:      make(map[string]bool, len(points)),
		prefixes:    append([]string(nil), prefixes...),
		seenMembers: make(map[string]bool),
		events:      make(chan backend.Event, 64),
		done:        make(chan struct{}),
	}
	for _, p := range points {
		sub.points[p] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, pfx := range prefixes {
		aw, err := w.ensureWatchLocked(ctx, watchKey{path: pfx, prefix: true})
		if err != nil {
			return nil, err
		}
		sub.attachLocked(aw)
		if err := w.seedSeenMembers(ctx, sub, pfx); err != nil {
			return nil, err
		}
	}

	for _, p := range points {
		if aw, ok := w.subsumingPrefixLocked(p); ok {
			// Attach to whichever active prefix watch covers it
			// instead of opening a redundant point watch.
			sub.attachLocked(aw)
			continue
		}
		aw, err := w.ensureWatchLocked(ctx, watchKey{path: p, prefix: false})
		if err != nil {
			return nil, err
		}
		sub.attachLocked(aw)
	}

	return sub, nil
}

// SubscribeReadPaths is a convenience for the common case: turn a
// transaction's observed read paths into point subscriptions, with no
// prefixes of its own. A path already covered by another
// subscription's active prefix watch is still subsumed, exactly as in
// Subscribe.
func (w *Watcher) SubscribeReadPaths(ctx context.Context, paths []string) (*Subscription, error) {
	return w.Subscribe(ctx, paths, nil)
}

// SubscribeTransaction turns t's observed reads — both the exact paths
// it Get, and the prefixes it List'd — into a Subscription covering
// exactly what t depends on, so a caller can block until any of it
// changes before re-running t. This is the intended way to wake on a
// range read's result changing, rather than passing prefixes by hand.
func (w *Watcher) SubscribeTransaction(ctx context.Context, t *txn.Transaction) (*Subscription, error) {
	return w.Subscribe(ctx, t.ReadPaths(), t.ReadPrefixes())
}

func (w *Watcher) subsumingPrefixLocked(p string) (*activeWatch, bool) {
	for key, aw := range w.active {
		if key.prefix && strings.HasPrefix(p, key.path) {
			return aw, true
		}
	}
	return nil, false
}

// ensureWatchLocked returns the activeWatch for key, opening a new
// backend.Watch and broker if none is open yet. Callers must hold w.mu.
func (w *Watcher) ensureWatchLocked(ctx context.Context, key watchKey) (*activeWatch, error) {
	if aw, ok := w.active[key]; ok {
		return aw, nil
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	ch, err := w.be.Watch(watchCtx, key.path, key.prefix, 0)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribing to %s (prefix=%v): %w", key.path, key.prefix, err)
	}

	b := newBroker()
	b.start()

	aw := &activeWatch{key: key, cancel: cancel, broker: b}
	w.active[key] = aw

	go w.pump(key, ch, b)
	return aw, nil
}

// pump moves events from a raw backend watch channel into its
// broker, and tears the broker and activeWatch down once the backend
// channel closes (context cancelled, or the backend gave up on the
// watch).
func (w *Watcher) pump(key watchKey, ch <-chan backend.Event, b *broker) {
	for ev := range ch {
		b.publish(ev)
	}

	b.stop()
	w.mu.Lock()
	delete(w.active, key)
	w.mu.Unlock()
}

func (w *Watcher) seedSeenMembers(ctx context.Context, sub *Subscription, prefix string) error {
	members, _, err := w.be.List(ctx, prefix, path.AllDepths(), 0)
	if err != nil {
		return fmt.Errorf("listing existing members of %s: %w", prefix, err)
	}
	sub.mu.Lock()
	for _, m := range members {
		sub.seenMembers[m] = true
	}
	sub.mu.Unlock()
	return nil
}

// attachLocked subscribes to aw's broker and starts a goroutine
// applying this Subscription's wake-filtering rule to every event it
// forwards. Callers must hold w.mu.
func (s *Subscription) attachLocked(aw *activeWatch) {
	for _, a := range s.attachments {
		if a.aw == aw {
			return
		}
	}

	aw.refCnt++
	ch := aw.broker.subscribe()
	s.attachments = append(s.attachments, attachment{aw: aw, ch: ch})

	go s.forward(ch)
}

func (s *Subscription) forward(ch chan backend.Event) {
	for ev := range ch {
		s.deliver(ev)
	}
}

func (s *Subscription) deliver(ev backend.Event) {
	if !s.accepts(ev) {
		return
	}

	reason := "point"
	if !s.points[ev.Path] {
		if ev.Type == backend.EventDelete {
			reason = "range_delete"
		} else {
			reason = "range_insert"
		}
	}
	metrics.WatchWakeTotal.WithLabelValues(reason).Inc()

	select {
	case s.events <- ev:
	case <-s.done:
	default:
		// Slow consumer: drop rather than block this subscription's
		// own forwarding goroutine.
	}
}

// accepts applies the wake-filtering rule: a point subscription wakes
// on any change to one of its exact paths; a range subscription wakes
// on a deletion or on the first observation of a member (an
// insertion) under one of its prefixes, but not on further value-only
// updates to a member it has already seen. Events on any other path
// are ignored.
func (s *Subscription) accepts(ev backend.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.points[ev.Path] {
		return true
	}

	// An event reaching this subscription through a prefix watch it
	// shares for a subsumed point is not a range event unless it also
	// falls under one of this subscription's own prefixes.
	inRange := false
	for _, pfx := range s.prefixes {
		if strings.HasPrefix(ev.Path, pfx) {
			inRange = true
			break
		}
	}
	if !inRange {
		return false
	}

	if ev.Type == backend.EventDelete {
		delete(s.seenMembers, ev.Path)
		return true
	}

	if s.seenMembers[ev.Path] {
		return false
	}
	s.seenMembers[ev.Path] = true
	return true
}

// Wait blocks until an accepted event arrives or ctx is done.
func (s *Subscription) Wait(ctx context.Context) (backend.Event, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WatchWaitDuration)

	select {
	case ev := <-s.events:
		return ev, nil
	case <-ctx.Done():
		return backend.Event{}, ctx.Err()
	case <-s.done:
		return backend.Event{}, fmt.Errorf("subscription closed")
	}
}

// Close detaches this subscription from every broker it is attached
// to. A backend watch whose broker has no remaining subscribers is
// torn down.
func (s *Subscription) Close() {
	close(s.done)

	w := s.w
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, a := range s.attachments {
		a.aw.broker.unsubscribe(a.ch)
		a.aw.refCnt--
		if a.aw.refCnt <= 0 {
			a.aw.cancel()
			if w.active[a.aw.key] == a.aw {
				delete(w.active, a.aw.key)
			}
		}
	}
}
