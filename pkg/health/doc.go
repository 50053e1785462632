/*
Package health provides liveness checks for the networked backend
connection, following the same Checker/Result/Config shape a cluster
health-check system would use for any dependency.

# Architecture

	┌──────────────────────────────────────────────────────────────┐
	│                     Checker Interface                        │
	│  • Check(ctx) Result                                         │
	│  • Type() CheckType                                          │
	└────────┬───────────────────────────────────────────┬─────────┘
	         │                                           │
	         ▼                                           ▼
	┌─────────────────┐                         ┌─────────────────┐
	│   TCPChecker     │                         │ BackendChecker  │
	│ raw connect      │                         │ bounded Get()   │
	└──────────────────┘                         └─────────────────┘

BackendChecker performs a bounded Get against a configured path (by
convention the client's own owner-record path) to confirm the backend
is reachable and serving reads, without depending on any particular
key existing. TCPChecker remains a generic low-level probe, useful when
the backend endpoint's TCP reachability needs to be checked ahead of
issuing etcd RPCs.

Status tracks consecutive successes/failures the same way regardless
of which Checker produced the Result, so a caller can run both checkers
against the same Status with the shared Retries/StartPeriod policy in
Config.
*/
package health
