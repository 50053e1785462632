/*
Package etcd implements backend.Backend against a real etcd cluster
using go.etcd.io/etcd/client/v3. It is the production counterpart to
pkg/backend/memory: every read, write, lease and watch operation maps
directly onto the equivalent etcd RPC, with paths translated to and
from the tagged wire format (pkg/path) at the boundary.

# Revisions

etcd's per-transaction header revision becomes Revision.Global; a
key's ModRevision becomes Revision.Mod. A key that has never existed
has no KeyValue to report a ModRevision from, so Get surfaces a
KindVanished backend.Error in that case, with a Revision carrying only
Global. List simply leaves such keys out of its result.

# Commits

Commit maps directly onto a single etcd Txn: every Predicate becomes
an If comparison on ModRevision, every Put and Delete becomes a Then
operation. All of it is submitted as one RPC, so the predicate check
and the mutation are atomic from every other client's point of view —
if the transaction's Succeeded flag comes back false, Commit reports a
KindCollision error and pkg/txn retries with a fresh read log.

# Leases and watches

Lease, LeaseKeepAlive and LeaseRevoke are thin wrappers over the
client's Lease RPCs. Watch wraps the client's Watch RPC, translating
each mvccpb.Event into a backend.Event on a buffered channel that is
closed when the caller's context is done.
*/
package etcd
