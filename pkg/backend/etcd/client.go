package etcd

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"

	"github.com/skatelescope/sdpconfig/pkg/security"
)

// Options configures a networked Backend. It mirrors spec.md §6's
// configuration table: Endpoints (built from Host/Port) and Protocol
// select the endpoint, CertDir selects the mTLS client credential, and
// Username/Password select the etcd auth credential.
type Options struct {
	// Endpoints is the list of etcd client endpoints, e.g.
	// "host:2379". At least one is required.
	Endpoints []string

	// Protocol selects between a plaintext and a TLS connection.
	// Valid values: "tcp" (plaintext) and "tcps" (TLS), matching
	// original_source's SDP_CONFIG_PROTOCOL values.
	Protocol string

	// CertDir, when set and Protocol is "tcps", is a directory
	// containing node.crt, node.key and ca.crt as loaded by
	// pkg/security.
	CertDir string

	// Username and Password authenticate against etcd's built-in
	// auth, independent of the transport-level mTLS credential.
	Username string
	Password string

	DialTimeout time.Duration
}

func (o Options) dialTimeout() time.Duration {
	if o.DialTimeout > 0 {
		return o.DialTimeout
	}
	return 5 * time.Second
}

// Backend is a backend.Backend implementation backed by a real etcd
// cluster.
type Backend struct {
	client *clientv3.Client
	log    zerolog.Logger
}

// New dials the configured etcd endpoints and returns a ready Backend.
func New(ctx context.Context, opts Options, log zerolog.Logger) (*Backend, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd backend: at least one endpoint is required")
	}

	cfg := clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.dialTimeout(),
		Username:    opts.Username,
		Password:    opts.Password,
		DialOptions: []grpc.DialOption{grpc.WithBlock()},
		Context:     ctx,
	}

	if opts.Protocol == "tcps" {
		tlsConfig, err := loadTLSConfig(opts.CertDir)
		if err != nil {
			return nil, fmt.Errorf("etcd backend: loading TLS credentials: %w", err)
		}
		cfg.TLS = tlsConfig
	}

	cli, err := clientv3.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("etcd backend: dialing %v: %w", opts.Endpoints, err)
	}

	return &Backend{client: cli, log: log}, nil
}

func loadTLSConfig(certDir string) (*tls.Config, error) {
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, err
	}
	ca, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, err
	}

	pool := caPoolOf(ca)
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}
