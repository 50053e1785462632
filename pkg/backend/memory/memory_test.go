package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skatelescope/sdpconfig/pkg/backend"
	"github.com/skatelescope/sdpconfig/pkg/path"
)

func TestGetVanishedBeforeCreate(t *testing.T) {
	b := New()
	defer b.Close()

	_, _, err := b.Get(context.Background(), "/pb/a", 0)
	require.Error(t, err)

	var berr *backend.Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, backend.KindVanished, berr.Kind)
}

func TestCommitCreateThenGet(t *testing.T) {
	ctx := context.Background()
	b := New()
	defer b.Close()

	err := b.Commit(ctx, []backend.Predicate{{Path: "/pb/a", ExpectedMod: 0}}, nil,
		[]backend.Put{{Path: "/pb/a", Value: []byte("v1")}}, nil)
	require.NoError(t, err)

	value, rev, err := b.Get(ctx, "/pb/a", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
	assert.True(t, rev.Exists())
}

func TestCommitDetectsCollision(t *testing.T) {
	ctx := context.Background()
	b := New()
	defer b.Close()

	require.NoError(t, b.Commit(ctx, nil, nil, []backend.Put{{Path: "/pb/a", Value: []byte("v1")}}, nil))
	_, rev, err := b.Get(ctx, "/pb/a", 0)
	require.NoError(t, err)

	// Stale predicate: expects the key to still be absent.
	err = b.Commit(ctx, []backend.Predicate{{Path: "/pb/a", ExpectedMod: 0}}, nil,
		[]backend.Put{{Path: "/pb/a", Value: []byte("v2")}}, nil)
	require.Error(t, err)
	var berr *backend.Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, backend.KindCollision, berr.Kind)

	// Correct predicate using the observed mod revision succeeds.
	err = b.Commit(ctx, []backend.Predicate{{Path: "/pb/a", ExpectedMod: rev.Mod}}, nil,
		[]backend.Put{{Path: "/pb/a", Value: []byte("v2")}}, nil)
	require.NoError(t, err)
}

func TestListReturnsFullSubtreeInOneCall(t *testing.T) {
	ctx := context.Background()
	b := New()
	defer b.Close()

	for _, p := range []string{"/pb/a", "/pb/b", "/pb/b/state", "/pb/b/state/detail"} {
		require.NoError(t, b.Commit(ctx, nil, nil, []backend.Put{{Path: p, Value: []byte("x")}}, nil))
	}

	got, _, err := b.List(ctx, "/pb", path.AllDepths(), 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/pb/a", "/pb/b", "/pb/b/state", "/pb/b/state/detail"}, got)
}

func TestListDirectChildrenExcludesDeeperDescendants(t *testing.T) {
	ctx := context.Background()
	b := New()
	defer b.Close()

	for _, p := range []string{"/pb/a", "/pb/b", "/pb/b/state", "/pb/b/state/detail"} {
		require.NoError(t, b.Commit(ctx, nil, nil, []backend.Put{{Path: p, Value: []byte("x")}}, nil))
	}

	got, _, err := b.List(ctx, "/pb", path.DirectChildren(), 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/pb/a", "/pb/b"}, got)

	got, _, err = b.List(ctx, "/pb", path.MaxDepth(1), 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/pb/a", "/pb/b", "/pb/b/state"}, got)
}

func TestCommitDetectsRangeCollisionFromNewKey(t *testing.T) {
	ctx := context.Background()
	b := New()
	defer b.Close()

	require.NoError(t, b.Commit(ctx, nil, nil, []backend.Put{{Path: "/pb/a", Value: []byte("x")}}, nil))
	_, pinnedRev, err := b.List(ctx, "/pb", path.DirectChildren(), 0)
	require.NoError(t, err)

	// A concurrent create under the listed prefix advances past the
	// pinned revision.
	require.NoError(t, b.Commit(ctx, nil, nil, []backend.Put{{Path: "/pb/new", Value: []byte("y")}}, nil))

	err = b.Commit(ctx,
		[]backend.Predicate{{Path: "/pb/a", ExpectedMod: backend.AnyMod}},
		[]backend.RangePredicate{{Prefix: "/pb", PinnedRev: pinnedRev}},
		[]backend.Put{{Path: "/pb/c", Value: []byte("z")}}, nil)
	require.Error(t, err)
	var berr *backend.Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, backend.KindCollision, berr.Kind)
}

func TestCommitRangePredicateSucceedsWhenRangeUnchanged(t *testing.T) {
	ctx := context.Background()
	b := New()
	defer b.Close()

	require.NoError(t, b.Commit(ctx, nil, nil, []backend.Put{{Path: "/pb/a", Value: []byte("x")}}, nil))
	_, pinnedRev, err := b.List(ctx, "/pb", path.DirectChildren(), 0)
	require.NoError(t, err)

	err = b.Commit(ctx,
		[]backend.Predicate{{Path: "/pb/a", ExpectedMod: backend.AnyMod}},
		[]backend.RangePredicate{{Prefix: "/pb", PinnedRev: pinnedRev}},
		[]backend.Put{{Path: "/pb/c", Value: []byte("z")}}, nil)
	require.NoError(t, err)
}

func TestLeaseExpiryDeletesKeys(t *testing.T) {
	ctx := context.Background()
	b := New()
	defer b.Close()

	lease, err := b.Lease(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, b.Commit(ctx, nil, nil, []backend.Put{{Path: "/owners/c1", Value: []byte("x"), Lease: lease}}, nil))

	_, _, err = b.Get(ctx, "/owners/c1", 0)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, _, err := b.Get(ctx, "/owners/c1", 0)
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestLeaseKeepAliveExtendsTTL(t *testing.T) {
	ctx := context.Background()
	b := New()
	defer b.Close()

	lease, err := b.Lease(ctx, 200*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, b.Commit(ctx, nil, nil, []backend.Put{{Path: "/owners/c1", Value: []byte("x"), Lease: lease}}, nil))

	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, b.LeaseKeepAlive(ctx, lease))
		time.Sleep(50 * time.Millisecond)
	}

	_, _, err = b.Get(ctx, "/owners/c1", 0)
	require.NoError(t, err, "keepalive should have kept the key alive")
}

func TestWatchPrefixDeliversEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New()
	defer b.Close()

	ch, err := b.Watch(ctx, "/pb", true, 0)
	require.NoError(t, err)

	require.NoError(t, b.Commit(ctx, nil, nil, []backend.Put{{Path: "/pb/a", Value: []byte("v1")}}, nil))

	select {
	case ev := <-ch:
		assert.Equal(t, backend.EventPut, ev.Type)
		assert.Equal(t, "/pb/a", ev.Path)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watch event")
	}
}

func TestDeleteTreeRemovesDescendants(t *testing.T) {
	ctx := context.Background()
	b := New()
	defer b.Close()

	for _, p := range []string{"/pb/a", "/pb/a/state", "/pb/a/state/detail", "/pb/b"} {
		require.NoError(t, b.Commit(ctx, nil, nil, []backend.Put{{Path: p, Value: []byte("x")}}, nil))
	}

	n, err := b.DeleteTree(ctx, "/pb/a")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, _, err = b.Get(ctx, "/pb/a", 0)
	assert.Error(t, err)
	_, _, err = b.Get(ctx, "/pb/a/state/detail", 0)
	assert.Error(t, err)

	// Unrelated sibling survives.
	_, _, err = b.Get(ctx, "/pb/b", 0)
	assert.NoError(t, err)
}

func TestDeleteTreeBoundsRecursionDepth(t *testing.T) {
	ctx := context.Background()
	b := New()
	defer b.Close()

	p := "/pb"
	for i := 0; i < maxDeleteDepth+4; i++ {
		p += "/n"
		require.NoError(t, b.Commit(ctx, nil, nil, []backend.Put{{Path: p, Value: []byte("x")}}, nil))
	}

	_, err := b.DeleteTree(ctx, "/pb")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeleteTooDeep)
}
