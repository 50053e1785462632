package etcd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	sdpbackend "github.com/skatelescope/sdpconfig/pkg/backend"
	"github.com/skatelescope/sdpconfig/pkg/path"
)

func (b *Backend) Get(ctx context.Context, p string, atRev int64) ([]byte, sdpbackend.Revision, error) {
	tagged, err := path.Tag(p)
	if err != nil {
		return nil, sdpbackend.Revision{}, sdpbackend.NewError(sdpbackend.KindInvalidPath, p, err)
	}

	opts := []clientv3.OpOption{}
	if atRev != 0 {
		opts = append(opts, clientv3.WithRev(atRev))
	}

	resp, err := b.client.Get(ctx, tagged, opts...)
	if err != nil {
		return nil, sdpbackend.Revision{}, fmt.Errorf("etcd get %s: %w", p, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, sdpbackend.Revision{Global: resp.Header.Revision}, sdpbackend.NewError(sdpbackend.KindVanished, p, nil)
	}

	kv := resp.Kvs[0]
	return kv.Value, sdpbackend.Revision{Global: resp.Header.Revision, Mod: kv.ModRevision}, nil
}

func (b *Backend) List(ctx context.Context, prefix string, recurse path.Recurse, atRev int64) ([]string, int64, error) {
	taggedSelf, err := path.Tag(prefix)
	if err != nil {
		return nil, 0, sdpbackend.NewError(sdpbackend.KindInvalidPath, prefix, err)
	}
	taggedPrefix, err := path.TaggedPrefix(prefix)
	if err != nil {
		return nil, 0, sdpbackend.NewError(sdpbackend.KindInvalidPath, prefix, err)
	}

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	selfOpts := []clientv3.OpOption{}
	if atRev != 0 {
		opts = append(opts, clientv3.WithRev(atRev))
		selfOpts = append(selfOpts, clientv3.WithRev(atRev))
	}

	resp, err := b.client.Get(ctx, taggedPrefix, opts...)
	if err != nil {
		return nil, 0, fmt.Errorf("etcd list %s: %w", prefix, err)
	}

	var tagged []string
	for _, kv := range resp.Kvs {
		tagged = append(tagged, string(kv.Key))
	}

	// The exact prefix path itself is not covered by a WithPrefix
	// range that only matches taggedPrefix+"/", so fetch it
	// separately if present.
	self, err := b.client.Get(ctx, taggedSelf, selfOpts...)
	if err != nil {
		return nil, 0, fmt.Errorf("etcd list %s: %w", prefix, err)
	}
	if len(self.Kvs) > 0 {
		tagged = append(tagged, string(self.Kvs[0].Key))
	}

	plain, err := path.FilterDepths(prefix, tagged, recurse)
	if err != nil {
		return nil, 0, err
	}
	sort.Strings(plain)
	return plain, resp.Header.Revision, nil
}

func (b *Backend) Commit(ctx context.Context, preds []sdpbackend.Predicate, ranges []sdpbackend.RangePredicate, puts []sdpbackend.Put, deletes []sdpbackend.Delete) error {
	cmps := make([]clientv3.Cmp, 0, len(preds)+len(ranges))
	for _, pr := range preds {
		tagged, err := path.Tag(pr.Path)
		if err != nil {
			return sdpbackend.NewError(sdpbackend.KindInvalidPath, pr.Path, err)
		}
		if pr.ExpectedMod == sdpbackend.AnyMod {
			cmps = append(cmps, clientv3.Compare(clientv3.ModRevision(tagged), ">", 0))
			continue
		}
		cmps = append(cmps, clientv3.Compare(clientv3.ModRevision(tagged), "=", pr.ExpectedMod))
	}
	for _, rp := range ranges {
		taggedPrefix, err := path.TaggedPrefix(rp.Prefix)
		if err != nil {
			return sdpbackend.NewError(sdpbackend.KindInvalidPath, rp.Prefix, err)
		}
		// A ranged Compare holds only if true for every key in the
		// range: no key under this prefix may have been created after
		// the revision this transaction pinned its reads to, i.e.
		// nothing new joined a range it listed.
		cmps = append(cmps, clientv3.Compare(clientv3.CreateRevision(taggedPrefix), "<", rp.PinnedRev+1).WithPrefix())
	}

	ops := make([]clientv3.Op, 0, len(puts)+len(deletes))
	for _, d := range deletes {
		tagged, err := path.Tag(d.Path)
		if err != nil {
			return sdpbackend.NewError(sdpbackend.KindInvalidPath, d.Path, err)
		}
		ops = append(ops, clientv3.OpDelete(tagged))
	}
	for _, pu := range puts {
		tagged, err := path.Tag(pu.Path)
		if err != nil {
			return sdpbackend.NewError(sdpbackend.KindInvalidPath, pu.Path, err)
		}
		opts := []clientv3.OpOption{}
		if pu.Lease != sdpbackend.NoLease {
			opts = append(opts, clientv3.WithLease(clientv3.LeaseID(pu.Lease)))
		}
		ops = append(ops, clientv3.OpPut(tagged, string(pu.Value), opts...))
	}

	resp, err := b.client.Txn(ctx).If(cmps...).Then(ops...).Commit()
	if err != nil {
		return fmt.Errorf("etcd commit: %w", err)
	}
	if !resp.Succeeded {
		return sdpbackend.NewError(sdpbackend.KindCollision, "", nil)
	}
	return nil
}

func (b *Backend) Lease(ctx context.Context, ttl time.Duration) (sdpbackend.LeaseID, error) {
	resp, err := b.client.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return sdpbackend.NoLease, fmt.Errorf("etcd lease grant: %w", err)
	}
	return sdpbackend.LeaseID(resp.ID), nil
}

func (b *Backend) LeaseKeepAlive(ctx context.Context, id sdpbackend.LeaseID) error {
	_, err := b.client.KeepAliveOnce(ctx, clientv3.LeaseID(id))
	if err != nil {
		if isLeaseNotFound(err) {
			return sdpbackend.NewError(sdpbackend.KindVanished, fmt.Sprintf("lease/%d", id), err)
		}
		return fmt.Errorf("etcd lease keepalive %d: %w", id, err)
	}
	return nil
}

func (b *Backend) LeaseRevoke(ctx context.Context, id sdpbackend.LeaseID) error {
	_, err := b.client.Revoke(ctx, clientv3.LeaseID(id))
	if err != nil {
		return fmt.Errorf("etcd lease revoke %d: %w", id, err)
	}
	return nil
}

// isLeaseNotFound matches etcd's "lease not found" gRPC status without
// importing the server-side rpctypes package (a client shouldn't need
// a server dependency just to recognize one error string).
func isLeaseNotFound(err error) bool {
	return strings.Contains(err.Error(), "requested lease not found")
}
