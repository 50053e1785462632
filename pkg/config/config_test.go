package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()
	base := []Option{WithBackend(KindInMemory), WithLeaseTTL(50 * time.Millisecond)}
	c, err := Open(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpenWritesOwnerRecordUnderLease(t *testing.T) {
	ctx := context.Background()
	c := openTestConfig(t)

	var raw []byte
	err := c.Run(ctx, func(t *Transaction) error {
		v, err := t.Get(ctx, "/owners/"+c.ClientID())
		raw = v
		return err
	})
	require.NoError(t, err)

	var owner Owner
	require.NoError(t, UnmarshalValue(raw, &owner))
	assert.NotEmpty(t, owner.Hostname)
	assert.NotZero(t, owner.PID)
}

func TestGlobalPrefixAppliesToEveryKey(t *testing.T) {
	ctx := context.Background()
	c := openTestConfig(t, WithGlobalPrefix("/sdp"))

	require.NoError(t, c.Run(ctx, func(t *Transaction) error {
		return t.Create(ctx, "/pb/a", []byte("v1"), 0)
	}))

	var got []byte
	err := c.Run(ctx, func(t *Transaction) error {
		v, err := t.Get(ctx, "/pb/a")
		got = v
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	// Directly against the backend (no prefix applied), the key must
	// actually live under /sdp.
	raw, _, err := c.be.Get(ctx, "/sdp/pb/a", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), raw)
}

func TestNewProcessingBlockIDAllocatesSequentially(t *testing.T) {
	ctx := context.Background()
	c := openTestConfig(t)

	id1, err := c.NewProcessingBlockID(ctx, "test")
	require.NoError(t, err)
	id2, err := c.NewProcessingBlockID(ctx, "test")
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Contains(t, id1, "pb-test-")
}

func TestCloseRevokesOwnerLease(t *testing.T) {
	ctx := context.Background()
	c := openTestConfig(t, WithLeaseTTL(time.Hour))

	ownerPath := "/owners/" + c.ClientID()
	require.NoError(t, c.Run(ctx, func(t *Transaction) error {
		_, err := t.Get(ctx, ownerPath)
		return err
	}))

	require.NoError(t, c.Close())

	_, _, err := c.be.Get(ctx, ownerPath, 0)
	require.Error(t, err)

	// The backend is closed as well, so the Get above fails either way;
	// the lease itself must be gone.
	var berr *Error
	require.ErrorAs(t, c.be.LeaseKeepAlive(ctx, c.leaseID), &berr)
	assert.Equal(t, KindVanished, berr.Kind)
}
