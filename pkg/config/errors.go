package config

import "github.com/skatelescope/sdpconfig/pkg/backend"

// Error is the single user-visible error type this package returns,
// matching spec.md §7's four kinds plus the ID generator's Exhausted.
// It is an alias of backend.Error rather than a parallel type, since
// pkg/txn and pkg/backend already carry the same Kind/Path shape all
// the way up to this layer.
type Error = backend.Error

const (
	KindCollision      = backend.KindCollision
	KindVanished       = backend.KindVanished
	KindInvalidPath    = backend.KindInvalidPath
	KindRetryExhausted = backend.KindRetryExhausted
	KindExhausted      = backend.KindExhausted
)
