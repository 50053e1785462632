package txn

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/skatelescope/sdpconfig/pkg/backend"
	"github.com/skatelescope/sdpconfig/pkg/metrics"
)

// Func is a caller-supplied transaction body. It should be free of
// external side effects besides reads and writes against t, since Run
// may invoke it more than once if earlier attempts conflict.
type Func func(t *Transaction) error

// Runner submits transactions against a single backend, retrying on
// conflict. There is deliberately no Loop/watch-and-reloop helper here
// (spec.md §9's Open Question 3): callers that want to re-run a
// transaction when its inputs change should compose pkg/watch
// themselves around Run.
type Runner struct {
	be  backend.Backend
	log zerolog.Logger
}

func NewRunner(be backend.Backend, log zerolog.Logger) *Runner {
	return &Runner{be: be, log: log}
}

// Run invokes fn against a fresh Transaction, commits it, and retries
// with a brand new Transaction (and a fresh read log) on every
// KindCollision from commit, up to maxCommitRetries attempts. Any error
// returned by fn (including a KindCollision from Create) and any
// non-collision error from commit aborts immediately without retrying.
func (r *Runner) Run(ctx context.Context, fn Func) error {
	timer := metrics.NewTimer()

	var lastErr error
	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		t := newTransaction(r.be, r.log)

		if err := fn(t); err != nil {
			return err
		}

		err := t.commit(ctx)
		if err == nil {
			metrics.TxnCommitsTotal.Inc()
			timer.ObserveDuration(metrics.TxnCommitDuration)
			for _, cb := range t.onCommit {
				cb()
			}
			return nil
		}

		var berr *backend.Error
		if !errors.As(err, &berr) || berr.Kind != backend.KindCollision {
			return err
		}

		metrics.TxnConflictsTotal.Inc()
		lastErr = err
		r.log.Debug().Int("attempt", attempt).Msg("transaction commit conflict, retrying")
	}

	metrics.TxnRetriesExhaustedTotal.Inc()
	return backend.NewError(backend.KindRetryExhausted, "", lastErr)
}
