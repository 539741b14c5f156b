package middleware

import (
	"crypto/x509"
	"errors"
	"strings"

	"relayd/internal/auth"
	"relayd/internal/bootstrap"
	"relayd/internal/httpx"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by the authenticators
const (
	KeySubject           = "subject"
	KeyRole              = "role"
	KeyRegistrationToken = "registrationToken"

	// KeyRegistrationTokenValue holds the raw token for the handler to consume
	KeyRegistrationTokenValue = "registrationTokenValue"
)

// RegistrationTokenHeader carries a one-time relay registration token
const RegistrationTokenHeader = "X-Registration-Token"

// Authenticator verifies site users and relays on every request
type Authenticator struct {
	tokens    *auth.TokenIssuer
	roots     *x509.CertPool
	regTokens *bootstrap.TokenStore
}

// NewAuthenticator creates an authenticator. roots verifies relay client
// certificates; regTokens may be nil when Redis is not configured.
func NewAuthenticator(tokens *auth.TokenIssuer, roots *x509.CertPool, regTokens *bootstrap.TokenStore) *Authenticator {
	return &Authenticator{tokens: tokens, roots: roots, regTokens: regTokens}
}

// SiteAuth only admits site users
func (a *Authenticator) SiteAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, appErr := a.bearerClaims(c)
		if appErr != nil {
			abort(c, appErr)
			return
		}
		if claims.Role != auth.RoleSite {
			abort(c, httpx.ErrForbidden("site credentials required"))
			return
		}
		setIdentity(c, claims.Subject, claims.Role)
		c.Next()
	}
}

// RelayOrSiteAuth admits site users and the relay named by the path
// parameter param. A relay proves its identity with a client certificate
// issued by the site CA or with its relay token.
func (a *Authenticator) RelayOrSiteAuth(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		want := c.Param(param)

		if relayID, ok, appErr := a.peerRelay(c); ok || appErr != nil {
			if appErr != nil {
				abort(c, appErr)
				return
			}
			if relayID != want {
				abort(c, httpx.ErrForbidden("certificate does not belong to this relay"))
				return
			}
			setIdentity(c, relayID, auth.RoleRelay)
			c.Next()
			return
		}

		claims, appErr := a.bearerClaims(c)
		if appErr != nil {
			abort(c, appErr)
			return
		}
		switch claims.Role {
		case auth.RoleSite:
		case auth.RoleRelay:
			if claims.Subject != want {
				abort(c, httpx.ErrForbidden("token does not belong to this relay"))
				return
			}
		default:
			abort(c, httpx.ErrForbidden(""))
			return
		}
		setIdentity(c, claims.Subject, claims.Role)
		c.Next()
	}
}

// AnyAuth admits site users and any registered relay
func (a *Authenticator) AnyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if relayID, ok, appErr := a.peerRelay(c); ok || appErr != nil {
			if appErr != nil {
				abort(c, appErr)
				return
			}
			setIdentity(c, relayID, auth.RoleRelay)
			c.Next()
			return
		}

		claims, appErr := a.bearerClaims(c)
		if appErr != nil {
			abort(c, appErr)
			return
		}
		setIdentity(c, claims.Subject, claims.Role)
		c.Next()
	}
}

// RegistrationAuth admits site users and callers presenting a live
// one-time registration token. The token is only checked here; the
// handler consumes it once the request is acceptable. Its data is stored
// in the context under KeyRegistrationToken.
func (a *Authenticator) RegistrationAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(RegistrationTokenHeader)
		if token == "" {
			a.SiteAuth()(c)
			return
		}
		if a.regTokens == nil {
			abort(c, httpx.ErrUnauthorized("registration tokens are not enabled"))
			return
		}

		data, err := a.regTokens.PeekToken(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, bootstrap.ErrTokenNotFound) {
				abort(c, httpx.ErrInvalidToken("invalid or used registration token"))
				return
			}
			abort(c, httpx.ErrExternalError("failed to check registration token", err))
			return
		}

		c.Set(KeyRegistrationToken, data)
		c.Set(KeyRegistrationTokenValue, token)
		c.Next()
	}
}

// bearerClaims parses the Authorization header
func (a *Authenticator) bearerClaims(c *gin.Context) (*auth.Claims, *httpx.AppError) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, httpx.ErrUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, httpx.ErrUnauthorized("invalid authorization header format")
	}

	claims, err := a.tokens.ParseToken(parts[1])
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, httpx.ErrTokenExpired("token expired")
		}
		return nil, httpx.ErrInvalidToken("invalid token")
	}
	return claims, nil
}

// peerRelay returns the relay id of a verified TLS client certificate.
// ok is false when the request carries no client certificate.
func (a *Authenticator) peerRelay(c *gin.Context) (string, bool, *httpx.AppError) {
	state := c.Request.TLS
	if state == nil || len(state.PeerCertificates) == 0 {
		return "", false, nil
	}
	if a.roots == nil {
		return "", true, httpx.ErrForbidden("client certificates are not accepted")
	}

	leaf := state.PeerCertificates[0]
	intermediates := x509.NewCertPool()
	for _, cert := range state.PeerCertificates[1:] {
		intermediates.AddCert(cert)
	}
	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         a.roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}); err != nil {
		return "", true, httpx.ErrForbidden("client certificate not issued by this site")
	}
	return leaf.Subject.CommonName, true, nil
}

func setIdentity(c *gin.Context, subject, role string) {
	c.Set(KeySubject, subject)
	c.Set(KeyRole, role)
}

func abort(c *gin.Context, err *httpx.AppError) {
	httpx.FailErr(c, err)
	c.Abort()
}
