// Package memory implements backend.Backend as a process-local map,
// with no persistence, for use as the test double described in
// spec.md's Backend contract module. It must behave identically to
// pkg/backend/etcd from the point of view of pkg/txn and pkg/watch,
// except for concurrency timing and lease-expiry edge cases that only
// a real distributed backend exhibits.
//
// Keys are stored internally using pkg/path's tagged encoding, the
// same wire format the networked backend writes to etcd, so a test
// written against this backend exercises the same depth-scoping
// behavior it would see against a real cluster.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skatelescope/sdpconfig/pkg/backend"
	"github.com/skatelescope/sdpconfig/pkg/path"
)

// maxDeleteDepth bounds DeleteTree's recursive descent into a subtree.
// A tree nested deeper than this fails loudly with ErrDeleteTooDeep
// rather than silently deleting only part of the tree. See DESIGN.md's
// Open Question 1.
const maxDeleteDepth = 16

// ErrDeleteTooDeep is returned by DeleteTree when a subtree is nested
// deeper than maxDeleteDepth.
var ErrDeleteTooDeep = fmt.Errorf("subtree exceeds maximum delete depth of %d", maxDeleteDepth)

type entry struct {
	value     []byte
	modRev    int64
	createRev int64
	lease     backend.LeaseID
}

type leaseInfo struct {
	ttl       time.Duration
	expiresAt time.Time
	keys      map[string]bool
}

type subscriber struct {
	id      int64
	tagged  string
	prefix  bool
	ch      chan backend.Event
	closeMu sync.Once
}

// Backend is an in-memory backend.Backend implementation.
type Backend struct {
	mu sync.Mutex

	data      map[string]*entry
	leases    map[backend.LeaseID]*leaseInfo
	globalRev int64
	nextLease int64
	nextSub   int64
	subs      map[int64]*subscriber

	log zerolog.Logger

	stop   chan struct{}
	closed bool
}

// New creates an empty in-memory backend and starts its lease-expiry
// janitor loop.
func New() *Backend {
	b := &Backend{
		data:   make(map[string]*entry),
		leases: make(map[backend.LeaseID]*leaseInfo),
		subs:   make(map[int64]*subscriber),
		log:    zerolog.Nop(),
		stop:   make(chan struct{}),
	}
	go b.expireLeasesLoop()
	return b
}

// WithLogger attaches a component logger, replacing the no-op default.
func (b *Backend) WithLogger(l zerolog.Logger) *Backend {
	b.log = l
	return b
}

// Get ignores atRev: this in-memory backend keeps only the latest
// value per key, not a revision history, so a pinned read is served
// from live state. Single-writer tests never observe the difference;
// a true point-in-time read is something only pkg/backend/etcd's real
// MVCC store can give.
func (b *Backend) Get(ctx context.Context, p string, atRev int64) ([]byte, backend.Revision, error) {
	tagged, err := path.Tag(p)
	if err != nil {
		return nil, backend.Revision{}, backend.NewError(backend.KindInvalidPath, p, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, backend.Revision{}, fmt.Errorf("backend closed")
	}

	e, ok := b.data[tagged]
	if !ok {
		return nil, backend.Revision{Global: b.globalRev}, backend.NewError(backend.KindVanished, p, nil)
	}
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, backend.Revision{Global: b.globalRev, Mod: e.modRev}, nil
}

// List ignores atRev for the same reason Get does.
func (b *Backend) List(ctx context.Context, prefix string, recurse path.Recurse, atRev int64) ([]string, int64, error) {
	taggedSelf, err := path.Tag(prefix)
	if err != nil {
		return nil, 0, backend.NewError(backend.KindInvalidPath, prefix, err)
	}
	taggedPrefix, err := path.TaggedPrefix(prefix)
	if err != nil {
		return nil, 0, backend.NewError(backend.KindInvalidPath, prefix, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var subtree []string
	for k := range b.data {
		if k != taggedSelf && !strings.HasPrefix(k, taggedPrefix) {
			continue
		}
		subtree = append(subtree, k)
	}

	results, err := path.FilterDepths(prefix, subtree, recurse)
	if err != nil {
		return nil, 0, err
	}
	sort.Strings(results)
	return results, b.globalRev, nil
}

func (b *Backend) Commit(ctx context.Context, preds []backend.Predicate, ranges []backend.RangePredicate, puts []backend.Put, deletes []backend.Delete) error {
	taggedPreds := make([]string, len(preds))
	for i, pr := range preds {
		tagged, err := path.Tag(pr.Path)
		if err != nil {
			return backend.NewError(backend.KindInvalidPath, pr.Path, err)
		}
		taggedPreds[i] = tagged
	}
	taggedRanges := make([]string, len(ranges))
	for i, rp := range ranges {
		tagged, err := path.TaggedPrefix(rp.Prefix)
		if err != nil {
			return backend.NewError(backend.KindInvalidPath, rp.Prefix, err)
		}
		taggedRanges[i] = tagged
	}
	taggedPuts := make([]string, len(puts))
	for i, pu := range puts {
		tagged, err := path.Tag(pu.Path)
		if err != nil {
			return backend.NewError(backend.KindInvalidPath, pu.Path, err)
		}
		taggedPuts[i] = tagged
	}
	taggedDeletes := make([]string, len(deletes))
	for i, d := range deletes {
		tagged, err := path.Tag(d.Path)
		if err != nil {
			return backend.NewError(backend.KindInvalidPath, d.Path, err)
		}
		taggedDeletes[i] = tagged
	}

	b.mu.Lock()

	for i, pr := range preds {
		e, exists := b.data[taggedPreds[i]]
		if pr.ExpectedMod == backend.AnyMod {
			if !exists {
				b.mu.Unlock()
				return backend.NewError(backend.KindCollision, pr.Path, nil)
			}
			continue
		}
		var currentMod int64
		if exists {
			currentMod = e.modRev
		}
		if currentMod != pr.ExpectedMod {
			b.mu.Unlock()
			return backend.NewError(backend.KindCollision, pr.Path, nil)
		}
	}

	for i, rp := range ranges {
		for k, e := range b.data {
			if k != strings.TrimSuffix(taggedRanges[i], "/") && !strings.HasPrefix(k, taggedRanges[i]) {
				continue
			}
			if e.createRev > rp.PinnedRev {
				b.mu.Unlock()
				return backend.NewError(backend.KindCollision, rp.Prefix, nil)
			}
		}
	}

	b.globalRev++
	rev := b.globalRev

	var events []backend.Event

	for i, d := range deletes {
		if e, ok := b.data[taggedDeletes[i]]; ok {
			if e.lease != backend.NoLease {
				if li, ok := b.leases[e.lease]; ok {
					delete(li.keys, taggedDeletes[i])
				}
			}
			delete(b.data, taggedDeletes[i])
			events = append(events, backend.Event{
				Type: backend.EventDelete,
				Path: d.Path,
				Rev:  backend.Revision{Global: rev},
			})
		}
	}

	for i, pu := range puts {
		createRev := rev
		if existing, ok := b.data[taggedPuts[i]]; ok {
			createRev = existing.createRev
		}
		b.data[taggedPuts[i]] = &entry{value: pu.Value, modRev: rev, createRev: createRev, lease: pu.Lease}
		if pu.Lease != backend.NoLease {
			if li, ok := b.leases[pu.Lease]; ok {
				li.keys[taggedPuts[i]] = true
			}
		}
		value := make([]byte, len(pu.Value))
		copy(value, pu.Value)
		events = append(events, backend.Event{
			Type:  backend.EventPut,
			Path:  pu.Path,
			Value: value,
			Rev:   backend.Revision{Global: rev, Mod: rev},
		})
	}

	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	b.dispatch(subs, events)
	return nil
}

func (b *Backend) Lease(ctx context.Context, ttl time.Duration) (backend.LeaseID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextLease++
	id := backend.LeaseID(b.nextLease)
	b.leases[id] = &leaseInfo{
		ttl:       ttl,
		expiresAt: time.Now().Add(ttl),
		keys:      make(map[string]bool),
	}
	return id, nil
}

func (b *Backend) LeaseKeepAlive(ctx context.Context, id backend.LeaseID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	li, ok := b.leases[id]
	if !ok {
		return backend.NewError(backend.KindVanished, fmt.Sprintf("lease/%d", id), nil)
	}
	li.expiresAt = time.Now().Add(li.ttl)
	return nil
}

func (b *Backend) LeaseRevoke(ctx context.Context, id backend.LeaseID) error {
	b.mu.Lock()

	li, ok := b.leases[id]
	if !ok {
		b.mu.Unlock()
		return nil
	}

	b.globalRev++
	rev := b.globalRev
	var events []backend.Event
	for tagged := range li.keys {
		plain, err := path.Untag(tagged)
		if err != nil {
			continue
		}
		delete(b.data, tagged)
		events = append(events, backend.Event{Type: backend.EventDelete, Path: plain, Rev: backend.Revision{Global: rev}})
	}
	delete(b.leases, id)

	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	b.dispatch(subs, events)
	return nil
}

// Watch ignores fromRevision: with no revision history to replay, it
// delivers only changes committed after the call.
func (b *Backend) Watch(ctx context.Context, p string, prefix bool, fromRevision int64) (<-chan backend.Event, error) {
	var tagged string
	var err error
	if prefix {
		tagged, err = path.TaggedPrefix(p)
	} else {
		tagged, err = path.Tag(p)
	}
	if err != nil {
		return nil, backend.NewError(backend.KindInvalidPath, p, err)
	}

	b.mu.Lock()
	b.nextSub++
	sub := &subscriber{
		id:     b.nextSub,
		tagged: tagged,
		prefix: prefix,
		ch:     make(chan backend.Event, 64),
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, sub.id)
		b.mu.Unlock()
		sub.closeMu.Do(func() { close(sub.ch) })
	}()

	return sub.ch, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[int64]*subscriber)
	b.mu.Unlock()

	close(b.stop)
	for _, s := range subs {
		s.closeMu.Do(func() { close(s.ch) })
	}
	return nil
}

// DeleteTree removes p and every key nested under it, descending one
// depth level at a time via a direct-children List rather than a
// single unbounded recursive walk. A subtree nested deeper than
// maxDeleteDepth returns ErrDeleteTooDeep instead of silently deleting
// only the levels reached so far.
func (b *Backend) DeleteTree(ctx context.Context, p string) (int, error) {
	return b.deleteTree(ctx, p, 0)
}

func (b *Backend) deleteTree(ctx context.Context, p string, depth int) (int, error) {
	if depth > maxDeleteDepth {
		return 0, fmt.Errorf("%w: %s", ErrDeleteTooDeep, p)
	}

	children, _, err := b.List(ctx, p, path.DirectChildren(), 0)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, child := range children {
		n, err := b.deleteTree(ctx, child, depth+1)
		if err != nil {
			return count, err
		}
		count += n
	}

	if _, _, err := b.Get(ctx, p, 0); err == nil {
		if err := b.Commit(ctx, nil, nil, nil, []backend.Delete{{Path: p}}); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (b *Backend) dispatch(subs []*subscriber, events []backend.Event) {
	for _, ev := range events {
		tagged, err := path.Tag(ev.Path)
		if err != nil {
			continue
		}
		for _, s := range subs {
			matches := false
			if s.prefix {
				matches = tagged == strings.TrimSuffix(s.tagged, "/") || strings.HasPrefix(tagged, s.tagged)
			} else {
				matches = tagged == s.tagged
			}
			if !matches {
				continue
			}
			select {
			case s.ch <- ev:
			default:
				b.log.Warn().Str("path", ev.Path).Msg("watch subscriber channel full, dropping event")
			}
		}
	}
}

func (b *Backend) expireLeasesLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.sweepExpiredLeases()
		}
	}
}

func (b *Backend) sweepExpiredLeases() {
	now := time.Now()

	b.mu.Lock()
	var expired []backend.LeaseID
	for id, li := range b.leases {
		if now.After(li.expiresAt) {
			expired = append(expired, id)
		}
	}
	b.mu.Unlock()

	for _, id := range expired {
		if err := b.LeaseRevoke(context.Background(), id); err != nil {
			b.log.Warn().Err(err).Int64("lease", int64(id)).Msg("failed to revoke expired lease")
		}
	}
}
