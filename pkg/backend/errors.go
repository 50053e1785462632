package backend

import "fmt"

// Kind identifies one of the user-visible error conditions a backend or
// the layers built on top of it (pkg/txn, pkg/config) can raise.
type Kind string

const (
	// KindCollision means either that a Create found its path already
	// present, or that a commit's predicates no longer hold because
	// another client modified a key the transaction read or wrote.
	// Transactions retry internally on a commit collision, which only
	// escapes to a caller wrapped in KindRetryExhausted; a Create
	// collision is returned to the caller directly.
	KindCollision Kind = "collision"

	// KindVanished means a path a caller expected to exist (for Update,
	// Delete, or a lease-scoped Get) was not found.
	KindVanished Kind = "vanished"

	// KindInvalidPath means a path failed the keyspace's path grammar
	// (segments restricted to [A-Za-z0-9_-], no empty segments).
	KindInvalidPath Kind = "invalid-path"

	// KindRetryExhausted means a transaction exceeded its commit retry
	// bound without the predicates ever holding.
	KindRetryExhausted Kind = "retry-exhausted"

	// KindExhausted means a generator (e.g. the processing-block ID
	// generator) ran out of available values within its scope.
	KindExhausted Kind = "exhausted"
)

// Error is the typed error every Backend, pkg/txn and pkg/config
// operation returns for the conditions spec.md names explicitly. It
// carries the offending path where the raising code knows one, and
// wraps the underlying cause when there is one (e.g. the last
// conflicting Commit error). Path is empty for a collision reported by
// the etcd backend's Commit, for KindRetryExhausted from pkg/txn's Run,
// and for KindExhausted from the processing-block ID generator.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func NewError(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Path)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error with the same Kind, so callers
// can write errors.Is(err, backend.ErrCollision) style checks against
// the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons; Path and Err are ignored by Is.
var (
	ErrCollision      = &Error{Kind: KindCollision}
	ErrVanished       = &Error{Kind: KindVanished}
	ErrInvalidPath    = &Error{Kind: KindInvalidPath}
	ErrRetryExhausted = &Error{Kind: KindRetryExhausted}
	ErrExhausted      = &Error{Kind: KindExhausted}
)
