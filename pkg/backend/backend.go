// Package backend defines the contract both the in-memory test double
// (pkg/backend/memory) and the networked etcd-backed implementation
// (pkg/backend/etcd) satisfy. Everything above this layer — pkg/txn,
// pkg/watch, pkg/config — is written entirely against this interface
// and must behave identically regardless of which Backend it runs on,
// except for concurrency timing and lease-expiry edge cases that only
// a real distributed backend exhibits.
package backend

import (
	"context"
	"time"

	"github.com/skatelescope/sdpconfig/pkg/path"
)

// Revision identifies a point in the keyspace's global history.
// Global is the store-wide revision counter, comparable across keys.
// Mod is the revision at which the specific key was last created or
// modified; it is zero when the key did not exist at the time of the
// read (never written, or deleted), since real revision numbers start
// at 1.
type Revision struct {
	Global int64
	Mod    int64
}

// Exists reports whether the key this Revision describes existed when
// the Revision was observed.
func (r Revision) Exists() bool {
	return r.Mod != 0
}

// LeaseID identifies a server-side TTL lease. NoLease means "no lease",
// i.e. the key is not bound to any TTL and persists until deleted.
type LeaseID int64

const NoLease LeaseID = 0

// EventType distinguishes the two kinds of keyspace change a Watch can
// report.
type EventType int

const (
	EventPut EventType = iota
	EventDelete
)

// Event describes a single keyspace change delivered by a Watch.
type Event struct {
	Type  EventType
	Path  string
	Value []byte
	Rev   Revision
}

// AnyMod is a Predicate.ExpectedMod sentinel asserting only that Path
// still exists, regardless of its current mod revision. It is what a
// range read's per-key existence check needs: the transaction observed
// this key during a List, and only cares that it hasn't vanished by
// commit time, not that it holds the exact value it had then (a
// separate, ordinary Predicate already covers that if the key was also
// read with Get).
const AnyMod int64 = -1

// Predicate is a single compare-check evaluated atomically as part of
// a Commit: the commit only applies its Puts and Deletes if every
// Predicate's ExpectedMod matches the path's current mod revision at
// commit time. ExpectedMod of 0 asserts the path does not currently
// exist; AnyMod asserts only that it does.
type Predicate struct {
	Path        string
	ExpectedMod int64
}

// RangePredicate is a single range compare-check evaluated atomically
// as part of a Commit: the commit only applies if no key under
// Prefix's subtree was created after PinnedRev, i.e. nothing joined a
// range this transaction listed since it pinned its snapshot. Combined
// with an AnyMod Predicate for every key the range read actually
// returned, this detects both a key leaving a listed range (the
// Predicate fails) and a key entering it (the RangePredicate fails).
type RangePredicate struct {
	Prefix    string
	PinnedRev int64
}

// Put stages a create-or-overwrite of Path with Value, optionally
// bound to a lease.
type Put struct {
	Path  string
	Value []byte
	Lease LeaseID
}

// Delete stages the removal of Path.
type Delete struct {
	Path string
}

// Backend is the minimal contract a compare-and-swap, range-watchable
// key/value store must provide for pkg/txn and pkg/watch to build
// snapshot-isolated transactions and liveness subscriptions on top of
// it.
type Backend interface {
	// Get returns the value and revision currently stored at path, and
	// the store's current global revision. atRev, when nonzero, pins
	// the read to that global revision instead of the live state, so a
	// transaction's later reads can be served from the same snapshot
	// its first read observed. Returns a *Error with KindVanished if
	// the key does not exist at that revision.
	Get(ctx context.Context, path string, atRev int64) ([]byte, Revision, error)

	// List returns every full key path stored under prefix whose depth
	// relative to prefix recurse selects, in lexicographic order, along
	// with the store's current global revision. atRev pins the read as
	// Get's does. An empty result is not an error.
	List(ctx context.Context, prefix string, recurse path.Recurse, atRev int64) ([]string, int64, error)

	// Commit atomically checks every Predicate and RangePredicate
	// against the backend's current state and, only if all hold,
	// applies every Put and Delete as a single atomic operation. If any
	// check fails, no mutation is applied and Commit returns a *Error
	// with KindCollision — this is expected control flow for pkg/txn's
	// retry loop, not a caller-visible failure.
	Commit(ctx context.Context, preds []Predicate, ranges []RangePredicate, puts []Put, deletes []Delete) error

	// Lease grants a new lease with the given time-to-live and returns
	// its ID. Keys Put under this lease are removed when the lease
	// expires or is revoked.
	Lease(ctx context.Context, ttl time.Duration) (LeaseID, error)

	// LeaseKeepAlive refreshes a lease's TTL. Returns a *Error with
	// KindVanished if the lease no longer exists (already expired or
	// revoked).
	LeaseKeepAlive(ctx context.Context, id LeaseID) error

	// LeaseRevoke releases a lease immediately, deleting every key
	// still bound to it.
	LeaseRevoke(ctx context.Context, id LeaseID) error

	// Watch streams Events for path. When prefix is true, path is
	// treated as a prefix and every key under it is watched; otherwise
	// only exact updates to path are delivered. fromRevision, when
	// nonzero, resumes the watch from that global revision instead of
	// the current one. The returned channel is closed when ctx is
	// done or the backend can no longer serve the watch.
	Watch(ctx context.Context, path string, prefix bool, fromRevision int64) (<-chan Event, error)

	// Close releases any resources (network connections, background
	// goroutines) held by the backend.
	Close() error
}
