// Package security loads and manages the TLS client credentials used to
// authenticate the networked backend connection (pkg/backend/etcd) against
// an etcd cluster configured for mutual TLS.
//
// Certificates are read from and written to a directory containing three
// PEM files: node.crt (client certificate), node.key (client private key)
// and ca.crt (the cluster CA certificate used to verify the server). The
// directory layout and rotation threshold (30 days before expiry) apply
// regardless of whether the directory was supplied explicitly via
// config.WithCert or derived from GetDefaultCertDir.
package security
