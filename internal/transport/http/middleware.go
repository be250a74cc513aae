package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appauth "github.com/astro-web3/spacecat-auth/internal/app/auth"
	"github.com/astro-web3/spacecat-auth/internal/domain/access"
	"github.com/astro-web3/spacecat-auth/internal/domain/auth"
	"github.com/astro-web3/spacecat-auth/pkg/logger"
)

const (
	HeaderRequestID = "X-Request-Id"

	ctxKeyRequestID = "requestId"
	ctxKeyAuthInfo  = "authInfo"
)

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		attrs := []slog.Attr{
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Duration("duration", duration),
			slog.String("request_id", c.GetString(ctxKeyRequestID)),
		}
		if info := auth.FromContext(c.Request.Context()); info.IsAuthenticated() {
			attrs = append(attrs, slog.String("auth_type", info.Type()))
		}

		if status >= http.StatusInternalServerError {
			logger.ErrorContext(c.Request.Context(), "request failed", attrs...)
		} else {
			logger.InfoContext(c.Request.Context(), "request completed", attrs...)
		}
	}
}

// Authenticate runs the handler chain and attaches the resulting AuthInfo to
// the request context. A rejected credential ends the request with 401 and
// its reason; a request no handler recognized continues unauthenticated.
func Authenticate(svc appauth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := svc.Authenticate(c.Request.Context(), c.Request)

		var rejected *auth.RejectedError
		switch {
		case err == nil:
			c.Request = c.Request.WithContext(auth.NewContext(c.Request.Context(), info))
			c.Set(ctxKeyAuthInfo, info)
		case errors.As(err, &rejected):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": rejected.Info.Reason()})
			return
		case errors.Is(err, auth.ErrUnauthenticated):
		default:
			logger.ErrorContext(c.Request.Context(), "authentication failed", slog.String("error", err.Error()))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		c.Next()
	}
}

func RequireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !access.FromContext(c.Request.Context()).IsAuthenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := access.FromContext(c.Request.Context())
		if !u.IsAuthenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		if !u.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Only admins can access this resource"})
			return
		}
		c.Next()
	}
}

func RequireScope(name, subScope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := access.FromContext(c.Request.Context())
		if !u.IsAuthenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		if !u.IsAdmin() && !u.HasScope(name, subScope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Missing required scope " + name})
			return
		}
		c.Next()
	}
}
