// Package txn implements snapshot-isolated transactions over a
// backend.Backend: reads are recorded into a read log as they happen,
// writes are staged locally, and the whole transaction is submitted as
// a single atomic multi-predicate backend.Commit. A transaction never
// exposes partial state to other clients, and Run retries automatically
// on conflict up to a bounded number of attempts.
package txn

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/skatelescope/sdpconfig/pkg/backend"
	"github.com/skatelescope/sdpconfig/pkg/path"
)

// maxCommitRetries bounds how many times Run will rebuild and resubmit
// a transaction after a commit conflict before giving up with a
// KindRetryExhausted error. See DESIGN.md's Open Question 2.
const maxCommitRetries = 64

type staged struct {
	deleted bool
	value   []byte
	lease   backend.LeaseID
}

// rangeRead records the result of one List call against a prefix: the
// exact set of backend-visible keys it returned (not merged with this
// transaction's own staged writes), used at commit time to assert both
// that none of them vanished and that nothing new joined the range.
type rangeRead struct {
	keys map[string]bool
}

// Transaction records reads and stages writes against a single
// snapshot of the keyspace. It is not safe for concurrent use by
// multiple goroutines.
type Transaction struct {
	be  backend.Backend
	log zerolog.Logger

	pinned    bool
	pinnedRev int64

	readLog  map[string]backend.Revision
	rangeLog map[string]*rangeRead
	staged   map[string]staged

	onCommit []func()
}

// OnCommit registers a callback invoked once, after this transaction
// has successfully committed. Callbacks run in registration order and
// are not invoked at all if the transaction is abandoned or its final
// attempt is never reached.
func (t *Transaction) OnCommit(fn func()) {
	t.onCommit = append(t.onCommit, fn)
}

func newTransaction(be backend.Backend, log zerolog.Logger) *Transaction {
	return &Transaction{
		be:       be,
		log:      log,
		readLog:  make(map[string]backend.Revision),
		rangeLog: make(map[string]*rangeRead),
		staged:   make(map[string]staged),
	}
}

// pin fixes this transaction's snapshot revision to global the first
// time it is called; every call after the first is a no-op, so every
// read within one attempt — however many Get/List calls it makes — is
// served from the same point-in-time view of the keyspace.
func (t *Transaction) pin(global int64) {
	if !t.pinned {
		t.pinned = true
		t.pinnedRev = global
	}
}

// Get returns the value at path, preferring this transaction's own
// staged writes (read-your-writes) before falling back to the
// backend. Every path Get reads from the backend, present or not, is
// recorded in the read log so Commit can verify it hasn't changed
// underneath the transaction. A read answered from a staged write is
// not recorded again: the Create, Update or Delete that staged it has
// already read the path.
func (t *Transaction) Get(ctx context.Context, path string) ([]byte, error) {
	if s, ok := t.staged[path]; ok {
		if s.deleted {
			return nil, backend.NewError(backend.KindVanished, path, nil)
		}
		return s.value, nil
	}

	value, rev, err := t.be.Get(ctx, path, t.pinnedRev)
	if err != nil {
		var berr *backend.Error
		if isBackendError(err, &berr) && berr.Kind == backend.KindVanished {
			t.pin(rev.Global)
			t.recordRead(path, backend.Revision{})
			return nil, err
		}
		return nil, err
	}

	t.pin(rev.Global)
	t.recordRead(path, rev)
	return value, nil
}

// List returns every key under prefix whose depth relative to prefix
// recurse selects, as seen by the backend at this transaction's pinned
// snapshot, merged with this transaction's own staged puts and deletes
// so a caller sees its own uncommitted writes reflected in a listing.
// The backend-observed keys (before that merge) are recorded into a
// range read log so Commit can verify the range as a whole still holds
// no more and no fewer members than it did here.
func (t *Transaction) List(ctx context.Context, prefix string, recurse path.Recurse) ([]string, error) {
	keys, global, err := t.be.List(ctx, prefix, recurse, t.pinnedRev)
	if err != nil {
		return nil, err
	}
	t.pin(global)
	t.recordRangeRead(prefix, keys)

	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		present[k] = true
	}
	for p, s := range t.staged {
		if !path.InScope(prefix, p, recurse) {
			continue
		}
		if s.deleted {
			delete(present, p)
			continue
		}
		present[p] = true
	}

	out := make([]string, 0, len(present))
	for k := range present {
		out = append(out, k)
	}
	return out, nil
}

// Create stages the creation of path with value. It reads path first
// and returns KindCollision at once if the path already exists. If the
// path is created by someone else between that read and Commit, the
// commit fails with KindCollision and Run retries.
func (t *Transaction) Create(ctx context.Context, path string, value []byte, lease backend.LeaseID) error {
	_, err := t.Get(ctx, path)
	if err == nil {
		return backend.NewError(backend.KindCollision, path, fmt.Errorf("path already exists"))
	}
	var berr *backend.Error
	if !isBackendError(err, &berr) || berr.Kind != backend.KindVanished {
		return err
	}

	t.staged[path] = staged{value: value, lease: lease}
	return nil
}

// Update stages an overwrite of path's value. Update requires the
// transaction to have already observed the path (via Get) so Commit
// has a recorded revision to assert against; if path was never read,
// Update reads it first.
func (t *Transaction) Update(ctx context.Context, path string, value []byte) error {
	if _, ok := t.readLog[path]; !ok {
		if _, err := t.Get(ctx, path); err != nil {
			return err
		}
	}
	if rev, ok := t.readLog[path]; !ok || !rev.Exists() {
		return backend.NewError(backend.KindVanished, path, nil)
	}

	existing := t.staged[path]
	t.staged[path] = staged{value: value, lease: existing.lease}
	return nil
}

// Delete stages the removal of path, requiring (as Update does) that
// the transaction has already observed the path exists.
func (t *Transaction) Delete(ctx context.Context, path string) error {
	if _, ok := t.readLog[path]; !ok {
		if _, err := t.Get(ctx, path); err != nil {
			return err
		}
	}
	if rev, ok := t.readLog[path]; !ok || !rev.Exists() {
		return backend.NewError(backend.KindVanished, path, nil)
	}

	t.staged[path] = staged{deleted: true}
	return nil
}

func (t *Transaction) recordRead(path string, rev backend.Revision) {
	if _, ok := t.readLog[path]; !ok {
		t.readLog[path] = rev
	}
}

// recordRangeRead merges keys into the range log entry for prefix,
// creating it on first use. A prefix listed more than once within the
// same attempt (e.g. with different recurse windows) accumulates the
// union of everything it ever returned.
func (t *Transaction) recordRangeRead(prefix string, keys []string) {
	rr, ok := t.rangeLog[prefix]
	if !ok {
		rr = &rangeRead{keys: make(map[string]bool, len(keys))}
		t.rangeLog[prefix] = rr
	}
	for _, k := range keys {
		rr.keys[k] = true
	}
}

// commit submits the transaction's read log as predicates, its range
// log as existence and no-new-key predicates, and its staged writes as
// puts/deletes, in a single backend.Commit call.
func (t *Transaction) commit(ctx context.Context) error {
	var puts []backend.Put
	var deletes []backend.Delete
	for p, s := range t.staged {
		if s.deleted {
			deletes = append(deletes, backend.Delete{Path: p})
		} else {
			puts = append(puts, backend.Put{Path: p, Value: s.value, Lease: s.lease})
		}
	}

	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}

	preds := make([]backend.Predicate, 0, len(t.readLog))
	for p, rev := range t.readLog {
		preds = append(preds, backend.Predicate{Path: p, ExpectedMod: rev.Mod})
	}

	ranges := make([]backend.RangePredicate, 0, len(t.rangeLog))
	for prefix, rr := range t.rangeLog {
		for k := range rr.keys {
			preds = append(preds, backend.Predicate{Path: k, ExpectedMod: backend.AnyMod})
		}
		ranges = append(ranges, backend.RangePredicate{Prefix: prefix, PinnedRev: t.pinnedRev})
	}

	return t.be.Commit(ctx, preds, ranges, puts, deletes)
}

// ReadPaths returns every path this transaction has observed via Get
// so far, for callers (pkg/watch) that want to turn a transaction's
// read log into point watch subscriptions once the transaction
// commits.
func (t *Transaction) ReadPaths() []string {
	paths := make([]string, 0, len(t.readLog))
	for p := range t.readLog {
		paths = append(paths, p)
	}
	return paths
}

// ReadPrefixes returns every prefix this transaction has range-read via
// List so far, for callers (pkg/watch) that want to turn a
// transaction's observed ranges into prefix watch subscriptions.
func (t *Transaction) ReadPrefixes() []string {
	prefixes := make([]string, 0, len(t.rangeLog))
	for p := range t.rangeLog {
		prefixes = append(prefixes, p)
	}
	return prefixes
}

func isBackendError(err error, target **backend.Error) bool {
	berr, ok := err.(*backend.Error)
	if ok {
		*target = berr
	}
	return ok
}
