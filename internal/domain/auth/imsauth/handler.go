// Package imsauth authenticates IMS user access tokens. It is kept for
// clients that have not moved to platform issued session tokens.
package imsauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/astro-web3/spacecat-auth/internal/domain/auth"
	"github.com/astro-web3/spacecat-auth/internal/infra/ims"
	httpclient "github.com/astro-web3/spacecat-auth/pkg/http"
	"github.com/astro-web3/spacecat-auth/pkg/logger"
	"github.com/astro-web3/spacecat-auth/pkg/tracer"
)

const (
	Name = "ims"

	identityCacheSize = 1024
	maxIdentityTTL    = 5 * time.Minute
)

// strippedClaims never reach the profile.
var strippedClaims = []string{"id", "sid", "aa_id", "pac", "rtid", "rtea", "moi", "ctp", "fg"}

// IdentityClient is the part of the IMS client the handler needs.
type IdentityClient interface {
	GetImsUserProfile(ctx context.Context, userToken string) (*ims.UserProfile, error)
	GetImsUserOrganizations(ctx context.Context, userToken string) ([]ims.Organization, error)
}

type identity struct {
	isAdmin   bool
	tenants   []auth.Tenant
	scopes    []auth.Scope
	expiresAt time.Time
}

type Handler struct {
	cfg    Config
	client IdentityClient
	now    func() time.Time
	memo   *lru.LRU[string, *identity]
	log    logger.Named

	// keys is set for an inline jwks, jwks for a remote one.
	keys       jwk.Set
	jwks       *jwk.Cache
	stop       context.CancelFunc
	jwksClient *httpclient.Client
}

type Option func(*Handler)

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// WithHTTPClient sets the client used to fetch a remote JWKS.
func WithHTTPClient(c *httpclient.Client) Option {
	return func(h *Handler) {
		h.jwksClient = c
	}
}

// New prepares the key set once. A remote jwksUri is registered with a
// refreshing cache that outlives ctx and is fetched on first use; Close
// stops its refresh workers.
func New(ctx context.Context, cfg Config, client IdentityClient, opts ...Option) (*Handler, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: ims client is required", auth.ErrMisconfigured)
	}
	cfg.applyDefaults()

	h := &Handler{
		cfg:    cfg,
		client: client,
		now:    time.Now,
		memo:   lru.NewLRU[string, *identity](identityCacheSize, nil, maxIdentityTTL),
		log:    logger.WithName(Name),
	}
	for _, opt := range opts {
		opt(h)
	}

	if err := h.prepareKeys(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Handler) prepareKeys(ctx context.Context) error {
	if len(h.cfg.JWKS) > 0 {
		set, err := jwk.Parse(h.cfg.JWKS)
		if err != nil {
			return fmt.Errorf("%w: invalid ims jwks: %v", auth.ErrMisconfigured, err)
		}
		h.keys = set
		return nil
	}
	if h.cfg.JWKSURI == "" {
		return fmt.Errorf("%w: ims handler has no jwks", auth.ErrMisconfigured)
	}

	hc := h.jwksClient
	if hc == nil {
		hc = httpclient.Default()
	}
	cacheCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	cache := jwk.NewCache(cacheCtx)
	if err := cache.Register(h.cfg.JWKSURI, jwk.WithHTTPClient(hc.Resty().GetClient())); err != nil {
		stop()
		return fmt.Errorf("%w: cannot register jwks uri: %v", auth.ErrMisconfigured, err)
	}
	h.jwks = cache
	h.stop = stop
	return nil
}

// keySet returns the verification keys. A remote set is fetched within ctx
// on first use and served from the refreshing cache afterwards.
func (h *Handler) keySet(ctx context.Context) (jwk.Set, error) {
	if h.jwks == nil {
		return h.keys, nil
	}
	return h.jwks.Get(ctx, h.cfg.JWKSURI)
}

// Close stops the remote jwks refresh workers.
func (h *Handler) Close() error {
	if h.stop != nil {
		h.stop()
	}
	return nil
}

func (h *Handler) Name() string {
	return Name
}

func (h *Handler) CheckAuth(ctx context.Context, r *http.Request) (*auth.AuthInfo, error) {
	ctx, span := tracer.Start(ctx, "auth.ims.CheckAuth")
	defer span.End()

	raw := auth.BearerToken(r)
	if raw == "" {
		return nil, auth.NotApplicable("no bearer token")
	}

	unverified, err := jwt.ParseInsecure([]byte(raw))
	if err != nil {
		return nil, auth.NotApplicable("not an ims token: %v", err)
	}
	if as, _ := unverified.Get("as"); as != h.cfg.Name {
		h.log.ErrorContext(ctx, "token context does not match configured ims",
			slog.Any("as", as),
			slog.String("expected", h.cfg.Name),
		)
		return nil, auth.NotApplicable("ims context mismatch")
	}

	keys, err := h.keySet(ctx)
	if err != nil {
		span.RecordError(err)
		h.log.ErrorContext(ctx, "failed to load ims jwks", slog.String("error", err.Error()))
		return nil, auth.NotApplicable("ims jwks unavailable: %v", err)
	}

	token, err := jwt.Parse([]byte(raw), jwt.WithKeySet(keys), jwt.WithValidate(false))
	if err != nil {
		span.RecordError(err)
		h.log.ErrorContext(ctx, "failed to validate token", slog.String("error", err.Error()))
		return nil, auth.NotApplicable("ims token verification failed: %v", err)
	}

	claims, err := token.AsMap(ctx)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to read token claims", slog.String("error", err.Error()))
		return nil, auth.NotApplicable("invalid ims claims: %v", err)
	}

	ttl, err := h.remaining(claims)
	if err != nil {
		h.log.ErrorContext(ctx, "token lifetime check failed", slog.String("error", err.Error()))
		return nil, auth.NotApplicable("%v", err)
	}

	id, err := h.identity(ctx, raw, ttl)
	if err != nil {
		span.RecordError(err)
		h.log.ErrorContext(ctx, "failed to resolve ims identity", slog.String("error", err.Error()))
		return nil, auth.NotApplicable("ims identity lookup failed: %v", err)
	}

	for _, k := range strippedClaims {
		delete(claims, k)
	}
	tenants := cloneTenants(id.tenants)
	userID, _ := claims["user_id"].(string)
	claims["email"] = userID
	claims["ttl"] = int64(ttl / time.Second)
	claims["tenants"] = tenants

	return auth.NewBuilder().
		WithType(auth.TypeIMS).
		WithAuthenticated(true).
		WithProfile(&auth.Profile{
			UserID:  userID,
			Email:   userID,
			IsAdmin: id.isAdmin,
			Tenants: tenants,
			Claims:  claims,
		}).
		WithScopes(id.scopes...).
		Build(), nil
}

// remaining checks created_at and expires_in (both milliseconds) and
// returns how long the token stays valid.
func (h *Handler) remaining(claims map[string]any) (time.Duration, error) {
	createdAt, err := millis(claims["created_at"])
	if err != nil {
		return 0, fmt.Errorf("invalid created_at: %w", err)
	}
	expiresIn, err := millis(claims["expires_in"])
	if err != nil {
		return 0, fmt.Errorf("invalid expires_in: %w", err)
	}

	now := h.now().UnixMilli()
	if createdAt > now {
		return 0, fmt.Errorf("token created in the future")
	}
	left := createdAt + expiresIn - now
	if left <= 0 {
		return 0, fmt.Errorf("token expired")
	}
	return time.Duration(left) * time.Millisecond, nil
}

func (h *Handler) identity(ctx context.Context, token string, ttl time.Duration) (*identity, error) {
	sum := sha256.Sum256([]byte(token))
	key := hex.EncodeToString(sum[:])

	if id, ok := h.memo.Get(key); ok && h.now().Before(id.expiresAt) {
		return id, nil
	}

	profile, err := h.client.GetImsUserProfile(ctx, token)
	if err != nil {
		return nil, err
	}

	id := &identity{
		tenants:   []auth.Tenant{},
		expiresAt: h.now().Add(min(ttl, maxIdentityTTL)),
	}

	if strings.HasSuffix(strings.ToLower(profile.Email), strings.ToLower(h.cfg.AdminEmailDomain)) {
		id.isAdmin = true
		id.scopes = []auth.Scope{{Name: auth.ScopeAdmin}}
	} else {
		orgs, err := h.client.GetImsUserOrganizations(ctx, token)
		if err != nil {
			return nil, err
		}
		subServices := []string{h.cfg.ServiceName + "_auto_suggest", h.cfg.ServiceName + "_auto_fix"}
		id.scopes = make([]auth.Scope, 0, len(orgs))
		for _, org := range orgs {
			orgID := org.OrgRef.Ident
			id.tenants = append(id.tenants, auth.Tenant{
				ID:          orgID,
				Name:        org.OrgName,
				SubServices: subServices,
			})
			id.scopes = append(id.scopes, auth.Scope{
				Name:      auth.ScopeUser,
				Domains:   []string{orgID},
				SubScopes: subServices,
			})
		}
	}

	h.memo.Add(key, id)
	return id, nil
}

func cloneTenants(in []auth.Tenant) []auth.Tenant {
	out := make([]auth.Tenant, len(in))
	for i, t := range in {
		t.SubServices = slices.Clone(t.SubServices)
		out[i] = t
	}
	return out
}

func millis(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("not a number")
		}
		return int64(t), nil
	case json.Number:
		return t.Int64()
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	case nil:
		return 0, fmt.Errorf("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
