package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func selfSignedCert(t *testing.T, notAfter time.Time) (*tls.Certificate, *x509.Certificate) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("failed to generate serial: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "test-client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	return &tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, leaf
}

func TestSaveLoadCertToFile(t *testing.T) {
	tmpCertDir, err := os.MkdirTemp("", "sdpconfig-cert-test-*")
	if err != nil {
		t.Fatalf("failed to create temp cert dir: %v", err)
	}
	defer os.RemoveAll(tmpCertDir)

	cert, _ := selfSignedCert(t, time.Now().Add(90*24*time.Hour))

	if err := SaveCertToFile(cert, tmpCertDir); err != nil {
		t.Fatalf("failed to save certificate: %v", err)
	}

	certPath := filepath.Join(tmpCertDir, "node.crt")
	keyPath := filepath.Join(tmpCertDir, "node.key")
	if _, err := os.Stat(certPath); os.IsNotExist(err) {
		t.Fatalf("expected certificate file to exist at %s", certPath)
	}
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		t.Fatalf("expected key file to exist at %s", keyPath)
	}

	loaded, err := LoadCertFromFile(tmpCertDir)
	if err != nil {
		t.Fatalf("failed to load certificate: %v", err)
	}
	if loaded.Leaf == nil {
		t.Fatal("expected loaded certificate to have a parsed leaf")
	}
	if loaded.Leaf.Subject.CommonName != "test-client" {
		t.Errorf("unexpected common name: %s", loaded.Leaf.Subject.CommonName)
	}
}

func TestCAFileRoundtrip(t *testing.T) {
	tmpCertDir, err := os.MkdirTemp("", "sdpconfig-ca-test-*")
	if err != nil {
		t.Fatalf("failed to create temp cert dir: %v", err)
	}
	defer os.RemoveAll(tmpCertDir)

	_, ca := selfSignedCert(t, time.Now().Add(10*365*24*time.Hour))

	if err := SaveCACertToFile(ca.Raw, tmpCertDir); err != nil {
		t.Fatalf("failed to save CA certificate: %v", err)
	}

	loaded, err := LoadCACertFromFile(tmpCertDir)
	if err != nil {
		t.Fatalf("failed to load CA certificate: %v", err)
	}
	if loaded.SerialNumber.Cmp(ca.SerialNumber) != 0 {
		t.Error("loaded CA certificate serial number does not match original")
	}
}

func TestCertExists(t *testing.T) {
	tmpCertDir, err := os.MkdirTemp("", "sdpconfig-cert-exists-test-*")
	if err != nil {
		t.Fatalf("failed to create temp cert dir: %v", err)
	}
	defer os.RemoveAll(tmpCertDir)

	if CertExists(tmpCertDir) {
		t.Fatal("expected CertExists to be false before any files are written")
	}

	cert, ca := selfSignedCert(t, time.Now().Add(90*24*time.Hour))
	if err := SaveCertToFile(cert, tmpCertDir); err != nil {
		t.Fatalf("failed to save certificate: %v", err)
	}
	if err := SaveCACertToFile(ca.Raw, tmpCertDir); err != nil {
		t.Fatalf("failed to save CA certificate: %v", err)
	}

	if !CertExists(tmpCertDir) {
		t.Fatal("expected CertExists to be true after writing cert, key and CA files")
	}
}

func TestCertNeedsRotation(t *testing.T) {
	tests := []struct {
		name     string
		notAfter time.Time
		want     bool
	}{
		{"fresh certificate", time.Now().Add(90 * 24 * time.Hour), false},
		{"about to expire", time.Now().Add(10 * 24 * time.Hour), true},
		{"already expired", time.Now().Add(-time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cert := selfSignedCert(t, tt.notAfter)
			if got := CertNeedsRotation(cert); got != tt.want {
				t.Errorf("CertNeedsRotation() = %v, want %v", got, tt.want)
			}
		})
	}

	if !CertNeedsRotation(nil) {
		t.Error("expected a nil certificate to need rotation")
	}
}

func TestValidateCertChain(t *testing.T) {
	_, ca := selfSignedCert(t, time.Now().Add(10*365*24*time.Hour))

	if err := ValidateCertChain(ca, ca); err != nil {
		t.Errorf("expected self-signed CA to validate against itself: %v", err)
	}

	_, other := selfSignedCert(t, time.Now().Add(90*24*time.Hour))
	if err := ValidateCertChain(other, ca); err == nil {
		t.Error("expected validation against an unrelated CA to fail")
	}

	if err := ValidateCertChain(nil, ca); err == nil {
		t.Error("expected validation of a nil certificate to fail")
	}
	if err := ValidateCertChain(ca, nil); err == nil {
		t.Error("expected validation against a nil CA to fail")
	}
}
