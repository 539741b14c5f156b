package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"relayd/internal/relay"
)

func newCSR(t *testing.T, cn string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: cn},
	}, key)
	if err != nil {
		t.Fatalf("failed to create CSR: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})
}

func TestNewCAManager_GeneratesAndReloads(t *testing.T) {
	dir := t.TempDir()

	first, err := NewCAManager(dir)
	if err != nil {
		t.Fatalf("NewCAManager() failed: %v", err)
	}
	if first.GetCACertPEM() == "" {
		t.Fatal("Expected CA certificate PEM")
	}

	second, err := NewCAManager(dir)
	if err != nil {
		t.Fatalf("NewCAManager() reload failed: %v", err)
	}
	if first.GetCACertPEM() != second.GetCACertPEM() {
		t.Error("Expected the persisted CA to be reloaded, got a new one")
	}
}

func TestSignCSR(t *testing.T) {
	ca, err := NewCAManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewCAManager() failed: %v", err)
	}

	notBefore := time.Now().Add(-time.Minute).Truncate(time.Second)
	der, err := ca.SignCSR(newCSR(t, "something-else"), "r3", 30, notBefore)
	if err != nil {
		t.Fatalf("SignCSR() failed: %v", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse issued cert: %v", err)
	}
	if cert.Subject.CommonName != "r3" {
		t.Errorf("Expected CN r3, got %s", cert.Subject.CommonName)
	}
	if !cert.NotBefore.Equal(notBefore) {
		t.Errorf("Expected NotBefore %v, got %v", notBefore, cert.NotBefore)
	}
	if want := notBefore.Add(30 * 24 * time.Hour); !cert.NotAfter.Equal(want) {
		t.Errorf("Expected NotAfter %v, got %v", want, cert.NotAfter)
	}

	_, err = cert.Verify(x509.VerifyOptions{
		Roots:     ca.CertPool(),
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	if err != nil {
		t.Errorf("Issued certificate does not verify against the CA: %v", err)
	}

	if len(Fingerprint(der)) != 64 {
		t.Errorf("Expected hex SHA-256 fingerprint, got %q", Fingerprint(der))
	}
}

func TestSignCSR_Invalid(t *testing.T) {
	ca, err := NewCAManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewCAManager() failed: %v", err)
	}

	valid := newCSR(t, "r1")
	block, _ := pem.Decode(valid)
	tampered := append([]byte(nil), block.Bytes...)
	tampered[len(tampered)-1] ^= 0xff

	tests := []struct {
		name string
		csr  []byte
	}{
		{"empty", nil},
		{"not pem", []byte("hello")},
		{"wrong pem type", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: block.Bytes})},
		{"garbage der", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: []byte{1, 2, 3}})},
		{"bad signature", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: tampered})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ca.SignCSR(tt.csr, "r1", 30, time.Now())
			var invalid *relay.InvalidCSRError
			if !errors.As(err, &invalid) {
				t.Errorf("Expected InvalidCSRError, got %v", err)
			}
		})
	}
}
