package auth

import (
	"time"

	"relayd/internal/auth"
	"relayd/internal/httpx"

	"github.com/gin-gonic/gin"
)

// LoginRequest represents login request body
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents login response data
type LoginResponse struct {
	Token    string `json:"token"`
	ExpireAt string `json:"expireAt"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// LoginHandler exchanges the automation user's credentials for a site token
func LoginHandler(creds auth.Credentials, tokens *auth.TokenIssuer, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
			return
		}
		if req.Username == "" || req.Password == "" {
			httpx.FailErr(c, httpx.ErrParamMissing("username and password are required"))
			return
		}

		// Unknown user and wrong password return the same error
		if !creds.Verify(req.Username, req.Password) {
			httpx.FailErr(c, httpx.ErrInvalidToken("invalid credentials"))
			return
		}

		expireAt := time.Now().Add(ttl)
		token, err := tokens.GenerateToken(req.Username, auth.RoleSite, expireAt)
		if err != nil {
			httpx.FailErr(c, httpx.ErrInternalError("failed to generate token", err))
			return
		}

		httpx.OK(c, LoginResponse{
			Token:    token,
			ExpireAt: expireAt.Format(time.RFC3339),
			Username: req.Username,
			Role:     auth.RoleSite,
		})
	}
}
