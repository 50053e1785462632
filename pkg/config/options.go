package config

import (
	"os"
	"strconv"
	"time"
)

// Kind selects which Backend implementation Open constructs.
type Kind string

const (
	// KindNetworked dials a real etcd cluster via pkg/backend/etcd.
	// This is the default, matching original_source/config.py.
	KindNetworked Kind = "networked"

	// KindInMemory uses pkg/backend/memory, for tests and local
	// development.
	KindInMemory Kind = "in-memory"
)

// Owner identifies the process that opened a Config client. It is
// captured automatically at Open time and written under the client's
// lease so it disappears when the process exits.
type Owner struct {
	PID      int      `json:"pid"`
	Hostname string   `json:"hostname"`
	Command  []string `json:"command"`
}

func defaultOwner() Owner {
	hostname, _ := os.Hostname()
	return Owner{
		PID:      os.Getpid(),
		Hostname: hostname,
		Command:  append([]string(nil), os.Args...),
	}
}

// Options configures a Config client, matching spec.md §6's
// configuration table. Backend, Host, Port, Protocol, Cert, Username
// and Password fall back to an SDP_CONFIG_* environment variable, as
// original_source/config.py does, then to a hardcoded default;
// GlobalPrefix, Owner and LeaseTTL have only a hardcoded default.
type Options struct {
	Backend Kind

	Host     string
	Port     int
	Protocol string

	Cert     string
	Username string
	Password string

	GlobalPrefix string
	Owner        *Owner

	LeaseTTL time.Duration
}

// Option mutates Options during Open.
type Option func(*Options)

func WithBackend(k Kind) Option { return func(o *Options) { o.Backend = k } }

func WithHost(host string) Option { return func(o *Options) { o.Host = host } }

func WithPort(port int) Option { return func(o *Options) { o.Port = port } }

func WithProtocol(protocol string) Option { return func(o *Options) { o.Protocol = protocol } }

func WithCert(certDir string) Option { return func(o *Options) { o.Cert = certDir } }

func WithCredentials(username, password string) Option {
	return func(o *Options) {
		o.Username = username
		o.Password = password
	}
}

func WithGlobalPrefix(prefix string) Option { return func(o *Options) { o.GlobalPrefix = prefix } }

func WithOwner(owner Owner) Option { return func(o *Options) { o.Owner = &owner } }

func WithLeaseTTL(ttl time.Duration) Option { return func(o *Options) { o.LeaseTTL = ttl } }

// defaultOptions mirrors original_source/config.py's SDP_CONFIG_*
// environment variable defaults.
func defaultOptions() Options {
	return Options{
		Backend:      Kind(envOr("SDP_CONFIG_BACKEND", string(KindNetworked))),
		Host:         envOr("SDP_CONFIG_HOST", "127.0.0.1"),
		Port:         envIntOr("SDP_CONFIG_PORT", 2379),
		Protocol:     envOr("SDP_CONFIG_PROTOCOL", "tcp"),
		Cert:         envOr("SDP_CONFIG_CERT", ""),
		Username:     envOr("SDP_CONFIG_USERNAME", ""),
		Password:     envOr("SDP_CONFIG_PASSWORD", ""),
		GlobalPrefix: "",
		LeaseTTL:     30 * time.Second,
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
