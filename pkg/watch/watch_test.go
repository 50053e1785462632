package watch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skatelescope/sdpconfig/pkg/backend"
	"github.com/skatelescope/sdpconfig/pkg/backend/memory"
	"github.com/skatelescope/sdpconfig/pkg/path"
	"github.com/skatelescope/sdpconfig/pkg/txn"
)

func waitFor(t *testing.T, sub *Subscription) (backend.Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sub.Wait(ctx)
}

func TestPointSubscriptionWakesOnAnyChange(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	defer be.Close()
	w := New(be, zerolog.Nop())

	require.NoError(t, be.Commit(ctx, nil, nil, []backend.Put{{Path: "/pb/a", Value: []byte("v1")}}, nil))

	sub, err := w.Subscribe(ctx, []string{"/pb/a"}, nil)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, be.Commit(ctx, nil, nil, []backend.Put{{Path: "/pb/a", Value: []byte("v2")}}, nil))

	ev, err := waitFor(t, sub)
	require.NoError(t, err)
	assert.Equal(t, "/pb/a", ev.Path)
	assert.Equal(t, backend.EventPut, ev.Type)
}

func TestRangeSubscriptionWakesOnInsertion(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	defer be.Close()
	w := New(be, zerolog.Nop())

	require.NoError(t, be.Commit(ctx, nil, nil, []backend.Put{{Path: "/pb/existing", Value: []byte("v1")}}, nil))

	sub, err := w.Subscribe(ctx, nil, []string{"/pb/"})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, be.Commit(ctx, nil, nil, []backend.Put{{Path: "/pb/new-member", Value: []byte("v1")}}, nil))

	ev, err := waitFor(t, sub)
	require.NoError(t, err)
	assert.Equal(t, "/pb/new-member", ev.Path)
}

func TestRangeSubscriptionFiltersValueUpdateOnKnownMember(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	defer be.Close()
	w := New(be, zerolog.Nop())

	require.NoError(t, be.Commit(ctx, nil, nil, []backend.Put{{Path: "/pb/existing", Value: []byte("v1")}}, nil))

	sub, err := w.Subscribe(ctx, nil, []string{"/pb/"})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, be.Commit(ctx, nil, nil, []backend.Put{{Path: "/pb/existing", Value: []byte("v2")}}, nil))

	ctx2, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = sub.Wait(ctx2)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "value-only update to an already-observed member must not wake the subscription")
}

func TestRangeSubscriptionWakesOnDeleteOfKnownMember(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	defer be.Close()
	w := New(be, zerolog.Nop())

	require.NoError(t, be.Commit(ctx, nil, nil, []backend.Put{{Path: "/pb/existing", Value: []byte("v1")}}, nil))

	sub, err := w.Subscribe(ctx, nil, []string{"/pb/"})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, be.Commit(ctx, nil, nil, nil, []backend.Delete{{Path: "/pb/existing"}}))

	ev, err := waitFor(t, sub)
	require.NoError(t, err)
	assert.Equal(t, "/pb/existing", ev.Path)
	assert.Equal(t, backend.EventDelete, ev.Type)
}

func TestPointSubsumedByPrefixSharesOneBackendWatch(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	defer be.Close()
	w := New(be, zerolog.Nop())

	sub, err := w.Subscribe(ctx, nil, []string{"/pb/"})
	require.NoError(t, err)
	defer sub.Close()

	// Subscribing to a point already under an active prefix must not
	// open a second backend watch.
	sub2, err := w.Subscribe(ctx, []string{"/pb/child"}, nil)
	require.NoError(t, err)
	defer sub2.Close()

	w.mu.Lock()
	count := len(w.active)
	w.mu.Unlock()
	assert.Equal(t, 1, count, "point under an active prefix should be subsumed, not separately watched")
}

func TestSubscribeTransactionDerivesPrefixFromReadLog(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	defer be.Close()
	w := New(be, zerolog.Nop())
	runner := txn.NewRunner(be, zerolog.Nop())

	require.NoError(t, be.Commit(ctx, nil, nil, []backend.Put{{Path: "/pb/existing", Value: []byte("v1")}}, nil))

	var seen *txn.Transaction
	err := runner.Run(ctx, func(t *txn.Transaction) error {
		_, err := t.List(ctx, "/pb", path.DirectChildren())
		seen = t
		return err
	})
	require.NoError(t, err)

	// seen's own attempt already committed (read-only, nothing staged),
	// but its read/range logs are still populated and safe to read back.
	sub, err := w.SubscribeTransaction(ctx, seen)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, be.Commit(ctx, nil, nil, []backend.Put{{Path: "/pb/new-member", Value: []byte("v1")}}, nil))

	ev, err := waitFor(t, sub)
	require.NoError(t, err)
	assert.Equal(t, "/pb/new-member", ev.Path)
}

func TestCloseTearsDownUnusedBackendWatch(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	defer be.Close()
	w := New(be, zerolog.Nop())

	sub, err := w.Subscribe(ctx, []string{"/pb/a"}, nil)
	require.NoError(t, err)

	sub.Close()

	w.mu.Lock()
	count := len(w.active)
	w.mu.Unlock()
	assert.Equal(t, 0, count)
}
