package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"relayd/internal/relay"
)

const caCommonName = "Relay Site CA"

// CAManager manages the site's root CA certificate and key.
// The key is loaded once at startup and never rotated.
type CAManager struct {
	caCert    *x509.Certificate
	caKey     *rsa.PrivateKey
	caCertPEM string
	caKeyPEM  string
	mu        sync.RWMutex
	certPath  string
	keyPath   string
}

// NewCAManager loads the CA from dataDir or generates and saves a new one
func NewCAManager(dataDir string) (*CAManager, error) {
	manager := &CAManager{
		certPath: filepath.Join(dataDir, "ca.crt"),
		keyPath:  filepath.Join(dataDir, "ca.key"),
	}

	if err := manager.loadCA(); err == nil {
		return manager, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load CA: %w", err)
	}

	if err := manager.generateCA(); err != nil {
		return nil, fmt.Errorf("failed to generate CA: %w", err)
	}
	if err := manager.saveCA(); err != nil {
		return nil, fmt.Errorf("failed to save CA: %w", err)
	}

	return manager, nil
}

// loadCA loads CA from disk
func (m *CAManager) loadCA() error {
	certPEM, err := os.ReadFile(m.certPath)
	if err != nil {
		return err
	}
	keyPEM, err := os.ReadFile(m.keyPath)
	if err != nil {
		return err
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return fmt.Errorf("failed to decode CA cert PEM")
	}
	caCert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse CA cert: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return fmt.Errorf("failed to decode CA key PEM")
	}
	caKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse CA key: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.caCert = caCert
	m.caKey = caKey
	m.caCertPEM = string(certPEM)
	m.caKeyPEM = string(keyPEM)

	return nil
}

// generateCA generates a new CA certificate and key
func (m *CAManager) generateCA() error {
	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("failed to generate CA key: %w", err)
	}

	serialNumber, err := newSerialNumber()
	if err != nil {
		return err
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   caCommonName,
			Organization: []string{"Relay Site"},
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(3650 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &caKey.PublicKey, caKey)
	if err != nil {
		return fmt.Errorf("failed to create CA certificate: %w", err)
	}
	caCert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	certPEMBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEMBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(caKey),
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	m.caCert = caCert
	m.caKey = caKey
	m.caCertPEM = string(certPEMBytes)
	m.caKeyPEM = string(keyPEMBytes)

	return nil
}

// saveCA saves CA to disk
func (m *CAManager) saveCA() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(m.certPath), 0755); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}
	if err := os.WriteFile(m.certPath, []byte(m.caCertPEM), 0644); err != nil {
		return fmt.Errorf("failed to write CA cert: %w", err)
	}
	// key stays private to the site user
	if err := os.WriteFile(m.keyPath, []byte(m.caKeyPEM), 0600); err != nil {
		return fmt.Errorf("failed to write CA key: %w", err)
	}

	return nil
}

// GetCACertPEM returns the CA certificate in PEM format
func (m *CAManager) GetCACertPEM() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caCertPEM
}

// CertPool returns a pool containing only the site CA
func (m *CAManager) CertPool() *x509.CertPool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pool := x509.NewCertPool()
	if m.caCert != nil {
		pool.AddCert(m.caCert)
	}
	return pool
}

// SignCSR issues a client certificate for a PEM encoded CSR.
// The subject is replaced by commonName so the certificate always names
// the identity the site admitted, whatever the CSR asked for.
func (m *CAManager) SignCSR(csrPEM []byte, commonName string, validityDays int, notBefore time.Time) ([]byte, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil {
		return nil, relay.NewInvalidCSRError("no PEM block found", nil)
	}
	if block.Type != "CERTIFICATE REQUEST" && block.Type != "NEW CERTIFICATE REQUEST" {
		return nil, relay.NewInvalidCSRError(fmt.Sprintf("unexpected PEM type %q", block.Type), nil)
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, relay.NewInvalidCSRError("cannot parse request", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, relay.NewInvalidCSRError("bad signature", err)
	}
	if validityDays <= 0 {
		return nil, fmt.Errorf("validity must be positive, got %d days", validityDays)
	}

	serialNumber, err := newSerialNumber()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"Relay Site"},
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(time.Duration(validityDays) * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
	}

	return m.SignCertificate(template, csr.PublicKey)
}

// SignCertificate signs a certificate template for publicKey using the CA
func (m *CAManager) SignCertificate(template *x509.Certificate, publicKey any) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.caCert == nil || m.caKey == nil {
		return nil, fmt.Errorf("CA not initialized")
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, m.caCert, publicKey, m.caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign certificate: %w", err)
	}
	return derBytes, nil
}

// EncodeCertPEM encodes a DER certificate as PEM
func EncodeCertPEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

// Fingerprint returns the hex SHA-256 of a DER certificate
func Fingerprint(der []byte) string {
	hash := sha256.Sum256(der)
	return hex.EncodeToString(hash[:])
}

func newSerialNumber() (*big.Int, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serialNumber, nil
}
