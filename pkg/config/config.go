// Package config is the high-level SDP configuration client: it binds
// a pkg/txn.Runner and a pkg/watch.Watcher to a chosen pkg/backend
// implementation, applies spec.md §6's keyspace conventions (a global
// prefix prepended to every key, JSON values with sorted keys and
// 2-space indent), and supplies the two pieces of generic
// infrastructure spec.md's interface names beyond the core: the owner
// record and the processing-block ID generator. It deliberately does
// not add processing-block/deployment/workflow CRUD helpers — those
// are out of scope per spec.md's Non-goals.
package config

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/skatelescope/sdpconfig/pkg/backend"
	"github.com/skatelescope/sdpconfig/pkg/backend/etcd"
	"github.com/skatelescope/sdpconfig/pkg/backend/memory"
	"github.com/skatelescope/sdpconfig/pkg/log"
	"github.com/skatelescope/sdpconfig/pkg/metrics"
	"github.com/skatelescope/sdpconfig/pkg/txn"
	"github.com/skatelescope/sdpconfig/pkg/watch"
)

// maxProcessingBlockCounter bounds NewProcessingBlockID's per-day,
// per-generator counter space. See DESIGN.md's Open Question 2.
const maxProcessingBlockCounter = 100000

// Config is a bound client: a backend connection, a transaction
// runner, a watcher, and this process's owner-record lease.
type Config struct {
	opts Options
	be   backend.Backend
	run  *txn.Runner
	wch  *watch.Watcher
	log  zerolog.Logger

	clientID string
	leaseID  backend.LeaseID

	stopKeepalive chan struct{}
	closeOnce     sync.Once
}

// Open constructs a Config client. With no options, it dials a
// networked backend using SDP_CONFIG_* environment defaults, exactly
// as original_source/config.py does when constructed with no
// arguments.
func Open(ctx context.Context, opts ...Option) (*Config, error) {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}

	l := log.WithComponent("config")

	var be backend.Backend
	var err error
	switch o.Backend {
	case KindInMemory:
		be = memory.New()
	case KindNetworked:
		be, err = etcd.New(ctx, etcd.Options{
			Endpoints: []string{fmt.Sprintf("%s:%d", o.Host, o.Port)},
			Protocol:  o.Protocol,
			CertDir:   o.Cert,
			Username:  o.Username,
			Password:  o.Password,
		}, log.WithComponent("backend.etcd"))
		if err != nil {
			return nil, fmt.Errorf("opening networked backend: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unknown backend kind %q", o.Backend)
	}

	clientID := uuid.NewString()
	c := &Config{
		opts:          o,
		be:            be,
		run:           txn.NewRunner(be, l),
		wch:           watch.New(be, l),
		log:           log.WithClientID(clientID),
		clientID:      clientID,
		stopKeepalive: make(chan struct{}),
	}

	if err := c.bindOwner(ctx); err != nil {
		be.Close()
		return nil, err
	}

	go c.keepaliveLoop()

	return c, nil
}

func (c *Config) bindOwner(ctx context.Context) error {
	leaseID, err := c.be.Lease(ctx, c.opts.LeaseTTL)
	if err != nil {
		return fmt.Errorf("granting owner lease: %w", err)
	}
	c.leaseID = leaseID

	owner := defaultOwner()
	if c.opts.Owner != nil {
		owner = *c.opts.Owner
	}
	value, err := MarshalValue(owner)
	if err != nil {
		return fmt.Errorf("serializing owner record: %w", err)
	}

	ownerPath := c.full(fmt.Sprintf("/owners/%s", c.clientID))
	err = c.run.Run(ctx, func(t *txn.Transaction) error {
		return t.Create(ctx, ownerPath, value, leaseID)
	})
	if err != nil {
		return fmt.Errorf("writing owner record: %w", err)
	}
	return nil
}

func (c *Config) keepaliveLoop() {
	interval := c.opts.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.be.LeaseKeepAlive(context.Background(), c.leaseID); err != nil {
				metrics.LeaseKeepaliveFailuresTotal.Inc()
				c.log.Warn().Err(err).Str("component", "lease").Msg("owner lease keepalive failed")
			}
		case <-c.stopKeepalive:
			return
		}
	}
}

func (c *Config) full(p string) string {
	return c.opts.GlobalPrefix + p
}

// ClientID returns the UUID this Config instance identifies itself
// with in its owner record and as its lease holder.
func (c *Config) ClientID() string {
	return c.clientID
}

// Run executes fn against a fresh Transaction, retrying on conflict,
// exactly as pkg/txn.Runner.Run does. Paths fn uses are relative to
// this Config's GlobalPrefix, which Transaction applies transparently.
func (c *Config) Run(ctx context.Context, fn func(t *Transaction) error) error {
	return c.run.Run(ctx, func(inner *txn.Transaction) error {
		return fn(&Transaction{inner: inner, prefix: c.opts.GlobalPrefix})
	})
}

// Subscribe opens a watch.Subscription covering points and prefixes,
// both interpreted relative to this Config's GlobalPrefix. Event paths
// delivered through the returned Subscription are fully-qualified
// (prefix included).
func (c *Config) Subscribe(ctx context.Context, points, prefixes []string) (*watch.Subscription, error) {
	fullPoints := make([]string, len(points))
	for i, p := range points {
		fullPoints[i] = c.full(p)
	}
	fullPrefixes := make([]string, len(prefixes))
	for i, p := range prefixes {
		fullPrefixes[i] = c.full(p)
	}
	return c.wch.Subscribe(ctx, fullPoints, fullPrefixes)
}

// SubscribeTransaction is a convenience for the common read-react-retry
// pattern: subscribe to exactly what t read (its point Gets and range
// Lists), fully-qualified, so the caller can Wait and re-run t once any
// of it changes.
func (c *Config) SubscribeTransaction(ctx context.Context, t *Transaction) (*watch.Subscription, error) {
	return c.wch.Subscribe(ctx, t.ReadPaths(), t.ReadPrefixes())
}

// NewProcessingBlockID allocates the next unused processing-block ID
// for generator on the current UTC date, in the form
// pb-<generator>-YYYYMMDD-NNNNN. It scans counters from 0, creating a
// placeholder record at /pb/<id> to claim the ID atomically against
// concurrent callers; a collision just means another caller claimed
// that counter first, so it tries the next one. Exhausting
// maxProcessingBlockCounter counters for one generator+date returns a
// KindExhausted error.
func (c *Config) NewProcessingBlockID(ctx context.Context, generator string) (string, error) {
	date := time.Now().UTC().Format("20060102")

	for n := 0; n < maxProcessingBlockCounter; n++ {
		id := fmt.Sprintf("pb-%s-%s-%05d", generator, date, n)
		path := fmt.Sprintf("/pb/%s", id)

		err := c.Run(ctx, func(t *Transaction) error {
			return t.Create(ctx, path, []byte("{}"), backend.NoLease)
		})
		if err == nil {
			return id, nil
		}

		var berr *backend.Error
		if !errors.As(err, &berr) || berr.Kind != backend.KindCollision {
			return "", err
		}
	}

	return "", backend.NewError(backend.KindExhausted, "",
		fmt.Errorf("no unused processing-block counter for generator %q on %s", generator, date))
}

// Close revokes the owner lease (removing the owner record and any
// other keys held under it) and releases the backend connection. It
// is safe to call more than once; only the first call has effect.
func (c *Config) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopKeepalive)

		if revokeErr := c.be.LeaseRevoke(context.Background(), c.leaseID); revokeErr != nil {
			c.log.Warn().Err(revokeErr).Msg("revoking owner lease during close")
		}

		err = c.be.Close()
	})
	return err
}
