package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skatelescope/sdpconfig/pkg/backend"
)

// BackendChecker confirms the configured backend is reachable by
// issuing a bounded Get against a known path. A KindVanished error is
// still a healthy result: it means the backend answered, the path
// just doesn't exist. Any other error (timeout, connection refused,
// TLS failure) is unhealthy.
type BackendChecker struct {
	Backend backend.Backend
	Path    string
	Timeout time.Duration
}

// NewBackendChecker creates a BackendChecker probing path, defaulting
// Timeout to 5 seconds.
func NewBackendChecker(be backend.Backend, path string) *BackendChecker {
	return &BackendChecker{Backend: be, Path: path, Timeout: 5 * time.Second}
}

func (b *BackendChecker) Check(ctx context.Context) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	_, _, err := b.Backend.Get(ctx, b.Path, 0)

	var berr *backend.Error
	if err == nil || (errors.As(err, &berr) && berr.Kind == backend.KindVanished) {
		return Result{
			Healthy:   true,
			Message:   fmt.Sprintf("backend reachable, probed %s", b.Path),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   false,
		Message:   fmt.Sprintf("backend probe of %s failed: %v", b.Path, err),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (b *BackendChecker) Type() CheckType {
	return CheckTypeBackend
}

// WithTimeout sets the probe timeout.
func (b *BackendChecker) WithTimeout(timeout time.Duration) *BackendChecker {
	b.Timeout = timeout
	return b
}
