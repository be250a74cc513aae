package legacy

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/astro-web3/spacecat-auth/internal/domain/auth"
	"github.com/astro-web3/spacecat-auth/pkg/logger"
	"github.com/astro-web3/spacecat-auth/pkg/tracer"
)

const (
	Name = "legacyApiKey"

	AdminUserID  = "admin"
	LegacyUserID = "legacy-user"
)

// Config holds the static keys. AdminRoutes defaults to DefaultAdminRoutes.
type Config struct {
	UserAPIKey  string
	AdminAPIKey string
	AdminRoutes []string
}

// Handler authenticates the two static API keys shared by older clients.
type Handler struct {
	userKey  []byte
	adminKey []byte
	routes   []route
	log      logger.Named
}

func New(cfg Config) (*Handler, error) {
	patterns := cfg.AdminRoutes
	if patterns == nil {
		patterns = DefaultAdminRoutes
	}
	routes, err := parseRoutes(patterns)
	if err != nil {
		return nil, err
	}
	return &Handler{
		userKey:  []byte(cfg.UserAPIKey),
		adminKey: []byte(cfg.AdminAPIKey),
		routes:   routes,
		log:      logger.WithName(Name),
	}, nil
}

func (h *Handler) Name() string {
	return Name
}

func (h *Handler) CheckAuth(ctx context.Context, r *http.Request) (*auth.AuthInfo, error) {
	ctx, span := tracer.Start(ctx, "auth.legacy.CheckAuth")
	defer span.End()

	if len(h.userKey) == 0 || len(h.adminKey) == 0 {
		h.log.ErrorContext(ctx, "user or admin api key is not configured")
		return nil, auth.NotApplicable("legacy api keys are not configured")
	}

	key := auth.APIKeyHeader(r)
	if key == "" {
		return nil, auth.NotApplicable("no api key header")
	}

	if equal([]byte(key), h.adminKey) {
		return auth.NewBuilder().
			WithType(auth.TypeLegacyAPIKey).
			WithAuthenticated(true).
			WithProfile(&auth.Profile{UserID: AdminUserID, IsAdmin: true}).
			WithScopes(auth.Scope{Name: auth.ScopeAdmin}).
			Build(), nil
	}

	if !equal([]byte(key), h.userKey) {
		return nil, auth.NotApplicable("api key does not match a legacy key")
	}

	if h.isAdminRoute(r) {
		h.log.DebugContext(ctx, "user key used on admin route",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		return nil, auth.NotApplicable("admin route requires the admin key")
	}

	return auth.NewBuilder().
		WithType(auth.TypeLegacyAPIKey).
		WithAuthenticated(true).
		WithProfile(&auth.Profile{UserID: LegacyUserID}).
		WithScopes(auth.Scope{Name: auth.ScopeUser}).
		Build(), nil
}

func (h *Handler) isAdminRoute(r *http.Request) bool {
	for _, rt := range h.routes {
		if rt.matches(r.Method, r.URL.Path) {
			return true
		}
	}
	return false
}

func equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
