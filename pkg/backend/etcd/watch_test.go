package etcd

import (
	"errors"
	"testing"

	mvccpb "go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skatelescope/sdpconfig/pkg/backend"
	"github.com/skatelescope/sdpconfig/pkg/path"
)

func TestTranslateEventPut(t *testing.T) {
	tagged, err := path.Tag("/pb/a")
	require.NoError(t, err)

	ev := &clientv3.Event{
		Type: mvccpb.PUT,
		Kv: &mvccpb.KeyValue{
			Key:         []byte(tagged),
			Value:       []byte("v1"),
			ModRevision: 7,
		},
	}

	got, err := translateEvent(ev)
	require.NoError(t, err)
	assert.Equal(t, backend.EventPut, got.Type)
	assert.Equal(t, "/pb/a", got.Path)
	assert.Equal(t, []byte("v1"), got.Value)
	assert.Equal(t, int64(7), got.Rev.Mod)
}

func TestTranslateEventDelete(t *testing.T) {
	tagged, err := path.Tag("/pb/a")
	require.NoError(t, err)

	ev := &clientv3.Event{
		Type: mvccpb.DELETE,
		Kv: &mvccpb.KeyValue{
			Key:         []byte(tagged),
			ModRevision: 9,
		},
	}

	got, err := translateEvent(ev)
	require.NoError(t, err)
	assert.Equal(t, backend.EventDelete, got.Type)
	assert.Equal(t, "/pb/a", got.Path)
}

func TestIsLeaseNotFound(t *testing.T) {
	assert.True(t, isLeaseNotFound(errors.New("etcdserver: requested lease not found")))
	assert.False(t, isLeaseNotFound(errors.New("context deadline exceeded")))
}
