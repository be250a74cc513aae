package ims

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/astro-web3/spacecat-auth/internal/infra/cache"
	httpclient "github.com/astro-web3/spacecat-auth/pkg/http"
	"github.com/astro-web3/spacecat-auth/pkg/logger"
)

const (
	tokenV4Path        = "/ims/token/v4"
	tokenV3Path        = "/ims/token/v3"
	productContextPath = "/ims/fetch_pc_by_org/v1"
	organizationPath   = "/ims/organizations/%s/v2"
	groupMembersPath   = "/ims/organizations/%s/groups/%s/members"
	profilePath        = "/ims/profile/v1"
	organizationsPath  = "/ims/organizations/v6"
	validateTokenPath  = "/ims/validate_token/v1"

	kindV4 = "v4"
	kindV3 = "v3"

	// tokenExpirySkew is subtracted from expires_in before caching, capped
	// at a tenth of short lifetimes.
	tokenExpirySkew = 60 * time.Second
	// fallbackTokenTTL applies when the token response carries no lifetime.
	fallbackTokenTTL = 10 * time.Minute

	DefaultAdminGroupRole = "ORG_ADMIN"
	DefaultServiceCode    = "dx_aem_perf"

	maxErrorBody = 512
)

type Config struct {
	Host                   string
	ClientID               string
	ClientCode             string
	ClientSecret           string
	Scope                  string
	DisallowedEmailDomains []string
	AdminGroupRole         string
	ServiceCode            string
}

// Recorder receives one observation per outbound IMS request.
type Recorder interface {
	ObserveIMS(operation string, status int)
}

type noopRecorder struct{}

func (noopRecorder) ObserveIMS(string, int) {}

type Option func(*Client)

func WithHTTPClient(c *httpclient.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithTokenCache replaces the default in-memory service token cache.
func WithTokenCache(tc cache.ServiceTokenCache) Option {
	return func(cl *Client) {
		cl.tokens = tc
	}
}

func WithRecorder(r Recorder) Option {
	return func(cl *Client) {
		if r != nil {
			cl.recorder = r
		}
	}
}

// Client talks to IMS with a service identity and on behalf of users.
type Client struct {
	cfg        Config
	baseURL    string
	disallowed []string

	http     *httpclient.Client
	tokens   cache.ServiceTokenCache
	group    singleflight.Group
	recorder Recorder
	log      logger.Named
}

// NewFromConfig validates the fields every IMS call needs before building the client.
func NewFromConfig(cfg Config, opts ...Option) (*Client, error) {
	var missing []string
	if cfg.Host == "" {
		missing = append(missing, "host")
	}
	if cfg.ClientID == "" {
		missing = append(missing, "client id")
	}
	if cfg.ClientCode == "" {
		missing = append(missing, "client code")
	}
	if cfg.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return NewClient(cfg, opts...), nil
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.AdminGroupRole == "" {
		cfg.AdminGroupRole = DefaultAdminGroupRole
	}
	if cfg.ServiceCode == "" {
		cfg.ServiceCode = DefaultServiceCode
	}

	base := strings.TrimSuffix(cfg.Host, "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "https://" + base
	}

	disallowed := make([]string, 0, len(cfg.DisallowedEmailDomains))
	for _, d := range cfg.DisallowedEmailDomains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		if d != "" {
			disallowed = append(disallowed, d)
		}
	}

	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		disallowed: disallowed,
		http:       httpclient.Default(),
		tokens:     cache.NewMemoryTokenCache(),
		recorder:   noopRecorder{},
		log:        logger.WithName("ims"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetServiceAccessToken returns the v4 (authorization_code) service token.
func (c *Client) GetServiceAccessToken(ctx context.Context) (*cache.ServiceToken, error) {
	return c.serviceToken(ctx, kindV4, time.Second, func(ctx context.Context) (*tokenResponse, error) {
		var out tokenResponse
		err := c.call(ctx, "token_v4", http.MethodPost, tokenV4Path, &out,
			httpclient.WithFormData(map[string]string{
				"grant_type":    "authorization_code",
				"client_id":     c.cfg.ClientID,
				"client_secret": c.cfg.ClientSecret,
				"code":          c.cfg.ClientCode,
			}),
		)
		return &out, err
	})
}

// GetServiceAccessTokenV3 returns the v3 (client_credentials) service token.
// IMS reports its expires_in in milliseconds.
func (c *Client) GetServiceAccessTokenV3(ctx context.Context) (*cache.ServiceToken, error) {
	return c.serviceToken(ctx, kindV3, time.Millisecond, func(ctx context.Context) (*tokenResponse, error) {
		var out tokenResponse
		err := c.call(ctx, "token_v3", http.MethodPost, tokenV3Path, &out,
			httpclient.WithFormData(map[string]string{
				"grant_type":    "client_credentials",
				"client_id":     c.cfg.ClientID,
				"client_secret": c.cfg.ClientSecret,
				"scope":         c.cfg.Scope,
			}),
		)
		return &out, err
	})
}

// ClearCache drops both cached service tokens.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.tokens.Delete(ctx,
		cache.ServiceTokenKey(kindV4, c.cfg.ClientID),
		cache.ServiceTokenKey(kindV3, c.cfg.ClientID),
	)
}

func (c *Client) serviceToken(
	ctx context.Context,
	kind string,
	unit time.Duration,
	fetch func(context.Context) (*tokenResponse, error),
) (*cache.ServiceToken, error) {
	key := cache.ServiceTokenKey(kind, c.cfg.ClientID)

	if tok := c.cachedToken(ctx, key); tok != nil {
		return tok, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if tok := c.cachedToken(ctx, key); tok != nil {
			return tok, nil
		}

		resp, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if resp.AccessToken == "" {
			return nil, ErrEmptyTokenPayload
		}

		ttl := tokenTTL(time.Duration(resp.ExpiresIn) * unit)
		tok := &cache.ServiceToken{
			AccessToken: resp.AccessToken,
			TokenType:   resp.TokenType,
			ExpiresIn:   resp.ExpiresIn,
			ExpiresAt:   time.Now().Add(ttl),
		}
		if err := c.tokens.Set(ctx, key, tok, ttl); err != nil {
			c.log.WarnContext(ctx, "failed to cache service token",
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
		}
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cache.ServiceToken), nil
}

func tokenTTL(lifetime time.Duration) time.Duration {
	if lifetime <= 0 {
		return fallbackTokenTTL
	}
	return lifetime - min(tokenExpirySkew, lifetime/10)
}

func (c *Client) cachedToken(ctx context.Context, key string) *cache.ServiceToken {
	tok, err := c.tokens.Get(ctx, key)
	if err != nil {
		c.log.WarnContext(ctx, "failed to read cached service token", slog.String("error", err.Error()))
		return nil
	}
	if !tok.Valid(time.Now()) {
		return nil
	}
	return tok
}

// GetImsOrganizationDetails resolves an org's tenant, metadata and admins.
// Member lists are fetched sequentially per admin group.
func (c *Client) GetImsOrganizationDetails(ctx context.Context, orgID string) (*OrganizationDetails, error) {
	form, err := c.headers(ctx, "", true)
	if err != nil {
		return nil, err
	}
	headers, err := c.headers(ctx, "", false)
	if err != nil {
		return nil, err
	}

	var pc productContextResponse
	err = c.call(ctx, "product_context", http.MethodPost, productContextPath, &pc,
		append(form.opts, httpclient.WithFormData(map[string]string{
			"client_id":    c.cfg.ClientID,
			"org_id":       orgID,
			"service_code": c.cfg.ServiceCode,
		}))...,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch product context: %w", err)
	}
	tenantID := ""
	for _, p := range pc.ProductContexts {
		if id := p.Params["tenant_id"]; id != "" {
			tenantID = id
			break
		}
	}
	if tenantID == "" {
		return nil, fmt.Errorf("%w %s", ErrNoProductContext, orgID)
	}

	var org organizationResponse
	if err := c.call(ctx, "organization", http.MethodGet,
		fmt.Sprintf(organizationPath, url.PathEscape(orgID)), &org, headers.opts...); err != nil {
		return nil, fmt.Errorf("fetch organization: %w", err)
	}

	admins := make([]Admin, 0)
	seen := make(map[string]struct{})
	for _, g := range org.Groups {
		if g.Role != c.cfg.AdminGroupRole {
			continue
		}
		var members membersResponse
		path := fmt.Sprintf(groupMembersPath, url.PathEscape(orgID), url.PathEscape(g.GroupID.String()))
		if err := c.call(ctx, "group_members", http.MethodGet, path, &members, headers.opts...); err != nil {
			return nil, fmt.Errorf("fetch members of group %s: %w", g.GroupID, err)
		}
		for _, m := range members.Items {
			id := strings.ToLower(m.Email)
			if id == "" {
				id = strings.ToLower(m.Username)
			}
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if c.isDisallowed(m.Email) {
				continue
			}
			admins = append(admins, Admin{Email: m.Email, FirstName: m.FirstName, LastName: m.LastName})
		}
	}

	return &OrganizationDetails{
		ImsOrgID:    orgID,
		TenantID:    tenantID,
		OrgName:     org.OrgName,
		OrgType:     org.OrgType,
		CountryCode: org.CountryCode,
		Admins:      admins,
	}, nil
}

// GetImsUserProfile reads the caller's own profile with their token.
func (c *Client) GetImsUserProfile(ctx context.Context, userToken string) (*UserProfile, error) {
	if userToken == "" {
		return nil, ErrEmptyAccessToken
	}
	headers, err := c.headers(ctx, userToken, false)
	if err != nil {
		return nil, err
	}

	var profile UserProfile
	if err := c.call(ctx, "profile", http.MethodGet, profilePath, &profile, headers.opts...); err != nil {
		return nil, err
	}

	profile.Organizations = make([]string, 0, len(profile.Roles))
	for _, r := range profile.Roles {
		if r.Organization != "" && !slices.Contains(profile.Organizations, r.Organization) {
			profile.Organizations = append(profile.Organizations, r.Organization)
		}
	}
	return &profile, nil
}

// GetImsUserOrganizations lists the orgs the user token is authorized for.
func (c *Client) GetImsUserOrganizations(ctx context.Context, userToken string) ([]Organization, error) {
	if userToken == "" {
		return nil, ErrEmptyAccessToken
	}
	headers, err := c.headers(ctx, userToken, false)
	if err != nil {
		return nil, err
	}

	var orgs []Organization
	if err := c.call(ctx, "organizations", http.MethodGet, organizationsPath, &orgs, headers.opts...); err != nil {
		return nil, err
	}
	if orgs == nil {
		orgs = []Organization{}
	}
	return orgs, nil
}

// ValidateAccessToken returns the raw introspection payload. A token IMS
// considers invalid is not an error.
func (c *Client) ValidateAccessToken(ctx context.Context, token string) (map[string]any, error) {
	if token == "" {
		return nil, ErrEmptyAccessToken
	}
	var out map[string]any
	err := c.call(ctx, "validate_token", http.MethodPost, validateTokenPath, &out,
		httpclient.WithFormData(map[string]string{
			"type":          "access_token",
			"client_id":     c.cfg.ClientID,
			"client_secret": c.cfg.ClientSecret,
			"token":         token,
		}),
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type requestHeaders struct {
	opts []httpclient.RequestOption
}

// headers uses userToken as bearer, or the v4 service token when empty.
func (c *Client) headers(ctx context.Context, userToken string, noContentType bool) (requestHeaders, error) {
	token := userToken
	if token == "" {
		st, err := c.GetServiceAccessToken(ctx)
		if err != nil {
			return requestHeaders{}, fmt.Errorf("acquire service token: %w", err)
		}
		token = st.AccessToken
	}
	h := requestHeaders{
		opts: []httpclient.RequestOption{httpclient.WithAuthToken(token)},
	}
	if !noContentType {
		h.opts = append(h.opts, httpclient.WithContentType("application/json"))
	}
	return h, nil
}

func (c *Client) call(
	ctx context.Context,
	operation, method, path string,
	result any,
	opts ...httpclient.RequestOption,
) error {
	resp, err := c.http.Request(ctx, method, c.baseURL+path, opts...)
	if err != nil {
		c.recorder.ObserveIMS(operation, 0)
		return fmt.Errorf("ims %s request failed: %w", operation, err)
	}
	c.recorder.ObserveIMS(operation, resp.StatusCode())

	if resp.IsError() {
		body := string(resp.Body())
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		c.log.ErrorContext(ctx, "request failed",
			slog.String("operation", operation),
			slog.Int("status", resp.StatusCode()),
		)
		return &StatusError{Operation: operation, Status: resp.StatusCode(), Body: body}
	}

	if result == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), result); err != nil {
		return fmt.Errorf("ims %s returned an invalid body: %w", operation, err)
	}
	return nil
}

func (c *Client) isDisallowed(email string) bool {
	return slices.Contains(c.disallowed, emailDomain(email))
}
