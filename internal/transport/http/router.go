package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	appauth "github.com/astro-web3/spacecat-auth/internal/app/auth"
	"github.com/astro-web3/spacecat-auth/internal/config"
	"github.com/astro-web3/spacecat-auth/internal/domain/auth"
	"github.com/astro-web3/spacecat-auth/internal/infra/metrics"
)

// NewRouter wires the routes. m may be nil, in which case /metrics is not served.
func NewRouter(handler *Handler, authSvc appauth.Service, cfg *config.Config, m *metrics.Metrics) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.Server.Mode != gin.TestMode {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	if cfg.Observability.TraceEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	authed := router.Group("/", Authenticate(authSvc), RequireAuthenticated())
	authed.GET("/auth/me", handler.Me)
	authed.GET("/organizations/:imsOrgId/access", RequireScope(auth.ScopeUser, ""), handler.OrganizationAccess)
	authed.GET("/ims/profile", handler.Profile)

	admin := authed.Group("/", RequireAdmin())
	admin.GET("/ims/organizations/:imsOrgId", handler.OrganizationDetails)
	admin.POST("/ims/token/validate", handler.ValidateToken)

	return router
}
