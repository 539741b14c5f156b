// Package identity admits relays by issuing them client certificates
// signed by the site CA.
package identity

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"relayd/internal/auth"
	"relayd/internal/pki"
	"relayd/internal/registry"
	"relayd/internal/relay"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultValidityDays is the lifetime of an issued relay certificate
const DefaultValidityDays = 30

// RegisterRequest is a relay asking to be admitted
type RegisterRequest struct {
	RelayID relay.RelayID // generated when empty
	Alias   string
	CSR     []byte // PEM
}

// Registration is what an admitted relay receives
type Registration struct {
	RelayID        relay.RelayID `json:"relayId"`
	ClientCert     string        `json:"clientCert"`
	RootCert       string        `json:"rootCert"`
	Token          string        `json:"token"`
	TokenExpiresAt time.Time     `json:"tokenExpiresAt"`
}

// Config holds the dependencies of the identity service
type Config struct {
	CA           *pki.CAManager
	Registry     *registry.Registry
	Tokens       *auth.TokenIssuer
	Logger       *logrus.Entry
	ValidityDays int
	Now          func() time.Time
}

// Service registers and unregisters relays
type Service struct {
	ca           *pki.CAManager
	registry     *registry.Registry
	tokens       *auth.TokenIssuer
	logger       *logrus.Entry
	validityDays int
	now          func() time.Time
}

// NewService creates a new identity service
func NewService(cfg *Config) *Service {
	validity := cfg.ValidityDays
	if validity <= 0 {
		validity = DefaultValidityDays
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		ca:           cfg.CA,
		registry:     cfg.Registry,
		tokens:       cfg.Tokens,
		logger:       cfg.Logger.WithField("component", "relay-identity"),
		validityDays: validity,
		now:          now,
	}
}

// Register signs the relay's CSR and admits it to the registry.
// A relay id that is already registered is rejected before anything is
// signed, and the existing registration stays untouched.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Registration, error) {
	id := req.RelayID
	if id == "" {
		id = relay.RelayID(uuid.New().String())
	}
	if s.registry.Has(id) {
		return nil, relay.NewConflictError(id)
	}

	der, err := s.ca.SignCSR(req.CSR, string(id), s.validityDays, s.now())
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse issued certificate: %w", err)
	}

	token, err := s.tokens.GenerateToken(string(id), auth.RoleRelay, cert.NotAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to generate relay token: %w", err)
	}

	rec := relay.Relay{
		ID:              id,
		Alias:           req.Alias,
		CertFingerprint: pki.Fingerprint(der),
		RegisteredAt:    s.now(),
	}
	// a concurrent registration of the same id may win between Has and Add
	if err := s.registry.Add(rec); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"relayId":     id,
		"alias":       req.Alias,
		"fingerprint": rec.CertFingerprint,
	}).Info("Relay registered")

	return &Registration{
		RelayID:        id,
		ClientCert:     pki.EncodeCertPEM(der),
		RootCert:       s.ca.GetCACertPEM(),
		Token:          token,
		TokenExpiresAt: cert.NotAfter,
	}, nil
}

// Unregister removes a relay from the registry.
// Certificates already issued stay valid until they expire.
func (s *Service) Unregister(ctx context.Context, id relay.RelayID) error {
	if err := s.registry.Remove(id); err != nil {
		return err
	}
	s.logger.WithField("relayId", id).Info("Relay unregistered")
	return nil
}

// List returns the registered relays ordered by id
func (s *Service) List(ctx context.Context) []relay.Relay {
	return s.registry.Relays()
}
