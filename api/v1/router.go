package v1

import (
	"time"

	"relayd/api/v1/auth"
	"relayd/api/v1/middleware"
	"relayd/api/v1/relay_tasks"
	"relayd/api/v1/relays"
	internalauth "relayd/internal/auth"
	"relayd/internal/bootstrap"
	"relayd/internal/httpx"
	"relayd/internal/identity"
	"relayd/internal/service"

	"github.com/gin-gonic/gin"
)

// Deps holds everything the API needs
type Deps struct {
	Tokens      *internalauth.TokenIssuer
	Credentials internalauth.Credentials
	TokenTTL    time.Duration
	Auth        *middleware.Authenticator
	Identity    *identity.Service
	Tasks       *service.TaskService
	RegTokens   *bootstrap.TokenStore // nil without Redis
}

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, deps *Deps) {
	v1 := r.Group("/api/v1")
	{
		// Public routes (no authentication required)
		v1.GET("/ping", pingHandler)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", auth.LoginHandler(deps.Credentials, deps.Tokens, deps.TokenTTL))
		}

		relaysHandler := relays.NewHandler(deps.Identity, deps.RegTokens)
		tasksHandler := relay_tasks.NewHandler(deps.Tasks)
		a := deps.Auth

		v1.GET("/serial", a.AnyAuth(), tasksHandler.Serial)

		relaysGroup := v1.Group("/relays")
		{
			relaysGroup.POST("", a.RegistrationAuth(), relaysHandler.Register)
			relaysGroup.GET("", a.SiteAuth(), relaysHandler.List)
			relaysGroup.DELETE("/:relayId", a.SiteAuth(), relaysHandler.Delete)
			relaysGroup.POST("/registration-tokens", a.SiteAuth(), relaysHandler.CreateRegistrationToken)
			relaysGroup.POST("/activate-config", a.SiteAuth(), tasksHandler.ActivateConfig)

			relaysGroup.POST("/:relayId/tasks", a.SiteAuth(), tasksHandler.Create)
			relaysGroup.GET("/:relayId/tasks", a.RelayOrSiteAuth("relayId"), tasksHandler.List)
			relaysGroup.POST("/:relayId/tasks/:taskId", a.RelayOrSiteAuth("relayId"), tasksHandler.Update)
		}
	}
}

// pingHandler handles the ping request using unified response
func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{
		"pong": true,
	})
}
