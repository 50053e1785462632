package etcd

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
	mvccpb "go.etcd.io/etcd/api/v3/mvccpb"

	sdpbackend "github.com/skatelescope/sdpconfig/pkg/backend"
	"github.com/skatelescope/sdpconfig/pkg/path"
)

func (b *Backend) Watch(ctx context.Context, p string, prefix bool, fromRevision int64) (<-chan sdpbackend.Event, error) {
	var tagged string
	var err error
	if prefix {
		tagged, err = path.TaggedPrefix(p)
	} else {
		tagged, err = path.Tag(p)
	}
	if err != nil {
		return nil, sdpbackend.NewError(sdpbackend.KindInvalidPath, p, err)
	}

	opts := []clientv3.OpOption{}
	if prefix {
		opts = append(opts, clientv3.WithPrefix())
	}
	if fromRevision > 0 {
		opts = append(opts, clientv3.WithRev(fromRevision))
	}

	wch := b.client.Watch(ctx, tagged, opts...)
	out := make(chan sdpbackend.Event, 64)

	go func() {
		defer close(out)
		for resp := range wch {
			if err := resp.Err(); err != nil {
				b.log.Warn().Err(err).Str("path", p).Msg("etcd watch stream error")
				return
			}
			for _, ev := range resp.Events {
				translated, err := translateEvent(ev)
				if err != nil {
					b.log.Warn().Err(err).Msg("failed to decode watch event key")
					continue
				}
				select {
				case out <- translated:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func translateEvent(ev *clientv3.Event) (sdpbackend.Event, error) {
	plain, err := path.Untag(string(ev.Kv.Key))
	if err != nil {
		return sdpbackend.Event{}, err
	}

	if ev.Type == mvccpb.DELETE {
		return sdpbackend.Event{
			Type: sdpbackend.EventDelete,
			Path: plain,
			Rev:  sdpbackend.Revision{Global: ev.Kv.ModRevision},
		}, nil
	}

	return sdpbackend.Event{
		Type:  sdpbackend.EventPut,
		Path:  plain,
		Value: ev.Kv.Value,
		Rev:   sdpbackend.Revision{Global: ev.Kv.ModRevision, Mod: ev.Kv.ModRevision},
	}, nil
}
