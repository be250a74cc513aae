package apikey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/astro-web3/spacecat-auth/internal/domain/auth"
	"github.com/astro-web3/spacecat-auth/pkg/logger"
	"github.com/astro-web3/spacecat-auth/pkg/tracer"
	"go.opentelemetry.io/otel/attribute"
)

const Name = "scopedApiKey"

// ErrNotFound is returned by a Finder when no key has the given hash.
var ErrNotFound = errors.New("api key not found")

// Finder looks up persisted API keys by the hex SHA-256 of the plain key.
type Finder interface {
	FindByHashedAPIKey(ctx context.Context, hashedKey string) (auth.APIKey, error)
}

// Handler authenticates requests carrying a scoped API key in x-api-key.
type Handler struct {
	finder Finder
	now    func() time.Time
	log    logger.Named
}

type Option func(*Handler)

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

func New(finder Finder, opts ...Option) (*Handler, error) {
	if finder == nil {
		return nil, fmt.Errorf("%w: api key finder is required", auth.ErrMisconfigured)
	}
	h := &Handler{
		finder: finder,
		now:    time.Now,
		log:    logger.WithName(Name),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Name() string {
	return Name
}

func (h *Handler) CheckAuth(ctx context.Context, r *http.Request) (*auth.AuthInfo, error) {
	ctx, span := tracer.Start(ctx, "auth.apikey.CheckAuth")
	defer span.End()

	key := auth.APIKeyHeader(r)
	if key == "" {
		return nil, auth.NotApplicable("no api key header")
	}

	entity, err := h.finder.FindByHashedAPIKey(ctx, Hash(key))
	if errors.Is(err, ErrNotFound) || (err == nil && entity == nil) {
		h.log.DebugContext(ctx, "no api key with this hash")
		return nil, auth.NotApplicable("api key not found")
	}
	if err != nil {
		span.RecordError(err)
		h.log.ErrorContext(ctx, "failed to look up api key", slog.String("error", err.Error()))
		return nil, auth.NotApplicable("api key lookup failed: %v", err)
	}

	span.SetAttributes(attribute.String("apikey.id", entity.ID()))
	profile := &auth.Profile{UserID: entity.ID(), APIKey: entity}

	if reason := h.invalidReason(entity); reason != "" {
		h.log.WarnContext(ctx, "api key rejected",
			slog.String("api_key_id", entity.ID()),
			slog.String("reason", reason),
		)
		return auth.Reject(auth.TypeScopedAPIKey, profile, reason)
	}

	return auth.NewBuilder().
		WithType(auth.TypeScopedAPIKey).
		WithAuthenticated(true).
		WithProfile(profile).
		WithScopes(entity.Scopes()...).
		Build(), nil
}

func (h *Handler) invalidReason(key auth.APIKey) string {
	now := h.now()

	if raw := key.ExpiresAt(); raw != "" {
		expiresAt, err := parseTimestamp(raw)
		if err != nil {
			return "API key has an invalid expiration date"
		}
		if expiresAt.Before(now) {
			return fmt.Sprintf("API key has expired on %s", raw)
		}
	}

	if raw := key.RevokedAt(); raw != "" {
		revokedAt, err := parseTimestamp(raw)
		if err != nil {
			return "API key has an invalid revocation date"
		}
		if !revokedAt.After(now) {
			return fmt.Sprintf("API key has been revoked on %s", raw)
		}
	}

	return ""
}

// Hash returns the lookup hash for a plain API key.
func Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
