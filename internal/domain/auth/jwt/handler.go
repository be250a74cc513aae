package jwt

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/astro-web3/spacecat-auth/internal/domain/auth"
	"github.com/astro-web3/spacecat-auth/pkg/logger"
	"github.com/astro-web3/spacecat-auth/pkg/tracer"
)

const (
	Name = "jwt"

	// Issuer is the only accepted "iss" claim.
	Issuer = "https://spacecat.experiencecloud.live"

	ClockTolerance = 5 * time.Second
)

var errMissingPublicKey = fmt.Errorf("%w: public key is not configured", auth.ErrMisconfigured)

// Handler verifies ES256 session tokens issued by this platform.
type Handler struct {
	publicKeyB64 string
	now          func() time.Time
	log          logger.Named

	keyOnce sync.Once
	key     *ecdsa.PublicKey
	keyErr  error
}

type Option func(*Handler)

// WithClock overrides the time source used for exp/nbf checks.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// New returns a handler verifying against the base64 encoded PEM (SPKI) key.
// An empty key is reported on every request rather than at construction so
// that a chain can still be assembled around it.
func New(publicKeyB64 string, opts ...Option) *Handler {
	h := &Handler{
		publicKeyB64: publicKeyB64,
		now:          time.Now,
		log:          logger.WithName(Name),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Name() string {
	return Name
}

func (h *Handler) CheckAuth(ctx context.Context, r *http.Request) (*auth.AuthInfo, error) {
	ctx, span := tracer.Start(ctx, "auth.jwt.CheckAuth")
	defer span.End()

	token := auth.BearerToken(r)
	if token == "" {
		token = auth.CookieValue(r, auth.CookieSessionToken)
	}
	if token == "" {
		return nil, auth.NotApplicable("no bearer token or session cookie")
	}

	claims, err := h.verify(token)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, jwtlib.ErrTokenInvalidIssuer) {
			h.log.ErrorContext(ctx, "issuer mismatch", slog.String("error", err.Error()))
		} else {
			h.log.ErrorContext(ctx, "failed to validate token", slog.String("error", err.Error()))
		}
		return nil, auth.NotApplicable("token verification failed: %v", err)
	}

	profile, err := profileFromClaims(claims)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to read token claims", slog.String("error", err.Error()))
		return nil, auth.NotApplicable("invalid claims: %v", err)
	}

	return auth.NewBuilder().
		WithType(auth.TypeJWT).
		WithAuthenticated(true).
		WithProfile(profile).
		WithScopes(ScopesFor(profile)...).
		Build(), nil
}

// ScopesFor derives scopes from a token profile: admin first, then one user
// scope per tenant.
func ScopesFor(p *auth.Profile) []auth.Scope {
	scopes := make([]auth.Scope, 0, len(p.Tenants)+1)
	if p.IsAdmin {
		scopes = append(scopes, auth.Scope{Name: auth.ScopeAdmin})
	}
	for _, t := range p.Tenants {
		scopes = append(scopes, auth.Scope{
			Name:      auth.ScopeUser,
			Domains:   []string{t.ID},
			SubScopes: t.SubServices,
		})
	}
	return scopes
}

func (h *Handler) verify(token string) (jwtlib.MapClaims, error) {
	key, err := h.publicKey()
	if err != nil {
		return nil, err
	}

	claims := jwtlib.MapClaims{}
	_, err = jwtlib.ParseWithClaims(token, claims,
		func(*jwtlib.Token) (any, error) { return key, nil },
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodES256.Alg()}),
		jwtlib.WithIssuer(Issuer),
		jwtlib.WithLeeway(ClockTolerance),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(h.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (h *Handler) publicKey() (*ecdsa.PublicKey, error) {
	h.keyOnce.Do(func() {
		if h.publicKeyB64 == "" {
			h.keyErr = errMissingPublicKey
			return
		}
		pemBytes, err := base64.StdEncoding.DecodeString(h.publicKeyB64)
		if err != nil {
			h.keyErr = fmt.Errorf("%w: public key is not valid base64: %v", auth.ErrMisconfigured, err)
			return
		}
		h.key, h.keyErr = jwtlib.ParseECPublicKeyFromPEM(pemBytes)
		if h.keyErr != nil {
			h.keyErr = fmt.Errorf("%w: %v", auth.ErrMisconfigured, h.keyErr)
		}
	})
	return h.key, h.keyErr
}

type tokenClaims struct {
	UserID  string        `json:"user_id"`
	Subject string        `json:"sub"`
	Email   string        `json:"email"`
	IsAdmin any           `json:"is_admin"`
	Tenants []auth.Tenant `json:"tenants"`
}

func profileFromClaims(claims jwtlib.MapClaims) (*auth.Profile, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return nil, err
	}
	var tc tokenClaims
	if err := json.Unmarshal(raw, &tc); err != nil {
		return nil, err
	}
	if tc.Tenants == nil {
		tc.Tenants = []auth.Tenant{}
	}
	userID := tc.UserID
	if userID == "" {
		userID = tc.Subject
	}

	all := make(map[string]any, len(claims))
	for k, v := range claims {
		all[k] = v
	}
	all["tenants"] = tc.Tenants

	return &auth.Profile{
		UserID:  userID,
		Email:   tc.Email,
		IsAdmin: isAdminClaim(tc.IsAdmin),
		Tenants: tc.Tenants,
		Claims:  all,
	}, nil
}

// isAdminClaim grants admin only for a JSON boolean true.
func isAdminClaim(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
