package config

import (
	"context"

	"github.com/skatelescope/sdpconfig/pkg/backend"
	sdppath "github.com/skatelescope/sdpconfig/pkg/path"
	"github.com/skatelescope/sdpconfig/pkg/txn"
)

// Transaction wraps a pkg/txn.Transaction, transparently prepending
// this Config's GlobalPrefix to every path so callers work entirely in
// unprefixed path space, as spec.md §6's global_prefix option
// requires.
type Transaction struct {
	inner  *txn.Transaction
	prefix string
}

func (t *Transaction) full(p string) string {
	return t.prefix + p
}

func (t *Transaction) Get(ctx context.Context, path string) ([]byte, error) {
	return t.inner.Get(ctx, t.full(path))
}

func (t *Transaction) List(ctx context.Context, prefix string, recurse sdppath.Recurse) ([]string, error) {
	return t.inner.List(ctx, t.full(prefix), recurse)
}

func (t *Transaction) Create(ctx context.Context, path string, value []byte, lease backend.LeaseID) error {
	return t.inner.Create(ctx, t.full(path), value, lease)
}

func (t *Transaction) Update(ctx context.Context, path string, value []byte) error {
	return t.inner.Update(ctx, t.full(path), value)
}

func (t *Transaction) Delete(ctx context.Context, path string) error {
	return t.inner.Delete(ctx, t.full(path))
}

// OnCommit registers a callback invoked once this transaction has
// committed successfully.
func (t *Transaction) OnCommit(fn func()) {
	t.inner.OnCommit(fn)
}

// ReadPaths returns every path this transaction has observed, in
// prefixed (fully-qualified) form, matching what Config.Subscribe
// expects to receive back from pkg/watch.
func (t *Transaction) ReadPaths() []string {
	return t.inner.ReadPaths()
}

// ReadPrefixes returns every prefix this transaction has range-read via
// List, in prefixed (fully-qualified) form. Config.SubscribeTransaction
// passes them to pkg/watch as they are; Config.Subscribe prepends
// GlobalPrefix to its own arguments, so these are not in the form its
// prefixes argument takes.
func (t *Transaction) ReadPrefixes() []string {
	return t.inner.ReadPrefixes()
}
