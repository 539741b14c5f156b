package relays

import (
	"errors"
	"time"

	"relayd/api/v1/middleware"
	"relayd/internal/bootstrap"
	"relayd/internal/configver"
	"relayd/internal/httpx"
	"relayd/internal/identity"
	"relayd/internal/relay"

	"github.com/gin-gonic/gin"
)

const (
	defaultTokenTTL = time.Hour
	maxTokenTTL     = 7 * 24 * time.Hour
)

// Handler handles relay registration and administration
type Handler struct {
	identity  *identity.Service
	regTokens *bootstrap.TokenStore
}

// NewHandler creates a new relays handler. regTokens may be nil.
func NewHandler(identity *identity.Service, regTokens *bootstrap.TokenStore) *Handler {
	return &Handler{identity: identity, regTokens: regTokens}
}

// RegisterRequest represents a relay registration
type RegisterRequest struct {
	RelayID string `json:"relayId"`
	Alias   string `json:"alias" binding:"required"`
	CSR     string `json:"csr" binding:"required"`
}

// CreateTokenRequest represents a registration token request
type CreateTokenRequest struct {
	RelayID    string `json:"relayId"`
	TTLSeconds int    `json:"ttlSeconds"`
}

// CreateTokenResponse is a freshly minted registration token
type CreateTokenResponse struct {
	Token     string `json:"token"`
	RelayID   string `json:"relayId,omitempty"`
	ExpiresAt string `json:"expiresAt"`
}

// Register handles POST /api/v1/relays
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	relayID := relay.RelayID(req.RelayID)
	// a registration token may be bound to one relay id
	if v, ok := c.Get(middleware.KeyRegistrationToken); ok {
		data := v.(*bootstrap.TokenData)
		if data.RelayID != "" {
			if relayID != "" && relayID != relay.RelayID(data.RelayID) {
				httpx.FailErr(c, httpx.ErrForbidden("registration token is bound to another relay"))
				return
			}
			relayID = relay.RelayID(data.RelayID)
		}
	}
	// an empty id is generated by the identity service
	if relayID != "" && !configver.ValidRelayID(relayID) {
		httpx.FailErr(c, httpx.ErrParamIllegal("relayId must be a single path element"))
		return
	}

	if token := c.GetString(middleware.KeyRegistrationTokenValue); token != "" {
		if _, err := h.regTokens.ConsumeToken(c.Request.Context(), token); err != nil {
			if errors.Is(err, bootstrap.ErrTokenNotFound) {
				httpx.FailErr(c, httpx.ErrInvalidToken("invalid or used registration token"))
				return
			}
			httpx.FailErr(c, httpx.ErrExternalError("failed to consume registration token", err))
			return
		}
	}

	reg, err := h.identity.Register(c.Request.Context(), identity.RegisterRequest{
		RelayID: relayID,
		Alias:   req.Alias,
		CSR:     []byte(req.CSR),
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}

	httpx.OK(c, reg)
}

// List handles GET /api/v1/relays
func (h *Handler) List(c *gin.Context) {
	relays := h.identity.List(c.Request.Context())
	httpx.OKItems(c, relays, len(relays))
}

// Delete handles DELETE /api/v1/relays/:relayId
func (h *Handler) Delete(c *gin.Context) {
	relayID := relay.RelayID(c.Param("relayId"))
	if err := h.identity.Unregister(c.Request.Context(), relayID); err != nil {
		httpx.Error(c, err)
		return
	}
	httpx.OK(c, gin.H{"relayId": relayID})
}

// CreateRegistrationToken handles POST /api/v1/relays/registration-tokens
func (h *Handler) CreateRegistrationToken(c *gin.Context) {
	if h.regTokens == nil {
		httpx.FailErr(c, httpx.ErrUnavailable("registration tokens require Redis"))
		return
	}

	var req CreateTokenRequest
	// an empty body is allowed
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
			return
		}
	}

	if req.RelayID != "" && !configver.ValidRelayID(relay.RelayID(req.RelayID)) {
		httpx.FailErr(c, httpx.ErrParamIllegal("relayId must be a single path element"))
		return
	}

	ttl := defaultTokenTTL
	if req.TTLSeconds < 0 {
		httpx.FailErr(c, httpx.ErrParamInvalid("ttlSeconds must not be negative"))
		return
	}
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	if ttl > maxTokenTTL {
		httpx.FailErr(c, httpx.ErrParamInvalid("ttlSeconds exceeds one week"))
		return
	}

	now := time.Now()
	token, err := h.regTokens.CreateToken(c.Request.Context(), bootstrap.TokenData{
		RelayID:   req.RelayID,
		CreatedBy: c.GetString(middleware.KeySubject),
		CreatedAt: now,
	}, ttl)
	if err != nil {
		httpx.FailErr(c, httpx.ErrExternalError("failed to create registration token", err))
		return
	}

	httpx.OK(c, CreateTokenResponse{
		Token:     token,
		RelayID:   req.RelayID,
		ExpiresAt: now.Add(ttl).Format(time.RFC3339),
	})
}
