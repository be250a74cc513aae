package imsauth_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astro-web3/spacecat-auth/internal/domain/auth"
	"github.com/astro-web3/spacecat-auth/internal/domain/auth/imsauth"
	"github.com/astro-web3/spacecat-auth/internal/infra/ims"
	"github.com/astro-web3/spacecat-auth/pkg/logger"
)

var fixedNow = time.UnixMilli(1_760_000_000_000)

type mockIdentityClient struct {
	getProfileFunc       func(ctx context.Context, token string) (*ims.UserProfile, error)
	getOrganizationsFunc func(ctx context.Context, token string) ([]ims.Organization, error)
	profileCalls         int
	organizationsCalls   int
}

func (m *mockIdentityClient) GetImsUserProfile(ctx context.Context, token string) (*ims.UserProfile, error) {
	m.profileCalls++
	return m.getProfileFunc(ctx, token)
}

func (m *mockIdentityClient) GetImsUserOrganizations(ctx context.Context, token string) ([]ims.Organization, error) {
	m.organizationsCalls++
	return m.getOrganizationsFunc(ctx, token)
}

func clientFor(email string, orgs ...ims.Organization) *mockIdentityClient {
	return &mockIdentityClient{
		getProfileFunc: func(context.Context, string) (*ims.UserProfile, error) {
			return &ims.UserProfile{UserID: "user-1@AdobeID", Email: email}, nil
		},
		getOrganizationsFunc: func(context.Context, string) ([]ims.Organization, error) {
			return orgs, nil
		},
	}
}

type signer struct {
	key  jwk.Key
	jwks []byte
}

func newSigner(t *testing.T) signer {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	priv, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, priv.Set(jwk.KeyIDKey, "ims-key-1"))
	require.NoError(t, priv.Set(jwk.AlgorithmKey, jwa.RS256))

	pub, err := jwk.PublicKeyOf(priv)
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	jwks, err := json.Marshal(set)
	require.NoError(t, err)

	return signer{key: priv, jwks: jwks}
}

func (s signer) sign(t *testing.T, claims map[string]any) string {
	t.Helper()
	tok := jwt.New()
	for k, v := range claims {
		require.NoError(t, tok.Set(k, v))
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, s.key))
	require.NoError(t, err)
	return string(signed)
}

func imsClaims() map[string]any {
	return map[string]any{
		"as":         "ims-na1",
		"user_id":    "user-1@AdobeID",
		"client_id":  "spacecat-ui",
		"type":       "access_token",
		"id":         "token-id",
		"sid":        "session-id",
		"aa_id":      "aa",
		"pac":        "pac",
		"fg":         "fg",
		"created_at": strconv.FormatInt(fixedNow.Add(-time.Minute).UnixMilli(), 10),
		"expires_in": "3600000",
	}
}

func newHandler(t *testing.T, s signer, client imsauth.IdentityClient, mutate func(*imsauth.Config)) *imsauth.Handler {
	t.Helper()
	cfg := imsauth.Config{Name: "ims-na1", JWKS: s.jwks}
	if mutate != nil {
		mutate(&cfg)
	}
	h, err := imsauth.New(context.Background(), cfg, client, imsauth.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return h
}

func bearer(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/sites", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func TestCheckAuth_AdminDomain(t *testing.T) {
	s := newSigner(t)
	client := clientFor("jane@Adobe.com")

	info, err := newHandler(t, s, client, nil).CheckAuth(context.Background(), bearer(s.sign(t, imsClaims())))

	require.NoError(t, err)
	assert.True(t, info.IsAuthenticated())
	assert.Equal(t, auth.TypeIMS, info.Type())
	assert.True(t, info.IsAdmin())
	assert.Equal(t, []auth.Scope{{Name: "admin"}}, info.Scopes())
	assert.Equal(t, 0, client.organizationsCalls)

	claims := info.Profile().Claims
	for _, stripped := range []string{"id", "sid", "aa_id", "pac", "fg"} {
		assert.NotContains(t, claims, stripped)
	}
	assert.Equal(t, "user-1@AdobeID", claims["email"])
	assert.Equal(t, int64(59*60), claims["ttl"])
	assert.Equal(t, "spacecat-ui", claims["client_id"])
	assert.Equal(t, "user-1@AdobeID", info.Profile().UserID)
	assert.Equal(t, "user-1@AdobeID", info.Profile().Email)
}

func TestCheckAuth_OrganizationScopes(t *testing.T) {
	s := newSigner(t)
	client := clientFor("bob@example.com", ims.Organization{
		OrgName: "Org One",
		OrgRef:  ims.OrgRef{Ident: "ORG1", AuthSrc: "AdobeOrg"},
	})

	info, err := newHandler(t, s, client, func(c *imsauth.Config) { c.ServiceName = "dx_aem_perf" }).
		CheckAuth(context.Background(), bearer(s.sign(t, imsClaims())))

	require.NoError(t, err)
	subScopes := []string{"dx_aem_perf_auto_suggest", "dx_aem_perf_auto_fix"}
	assert.Equal(t, []auth.Scope{{Name: "user", Domains: []string{"ORG1"}, SubScopes: subScopes}}, info.Scopes())
	assert.Equal(t, []auth.Tenant{{ID: "ORG1", Name: "Org One", SubServices: subScopes}}, info.Profile().Tenants)
	assert.True(t, info.HasOrganization("ORG1@AdobeOrg"))
	assert.False(t, info.IsAdmin())
	assert.True(t, info.HasScope("user", "dx_aem_perf_auto_fix"))
}

func TestCheckAuth_IdentityIsMemoized(t *testing.T) {
	s := newSigner(t)
	client := clientFor("bob@example.com")
	h := newHandler(t, s, client, nil)
	token := s.sign(t, imsClaims())

	for range 3 {
		_, err := h.CheckAuth(context.Background(), bearer(token))
		require.NoError(t, err)
	}

	assert.Equal(t, 1, client.profileCalls)
	assert.Equal(t, 1, client.organizationsCalls)
}

func TestCheckAuth_MemoizedTenantsAreNotShared(t *testing.T) {
	s := newSigner(t)
	client := clientFor("bob@example.com", ims.Organization{
		OrgName: "Org One",
		OrgRef:  ims.OrgRef{Ident: "ORG1", AuthSrc: "AdobeOrg"},
	})
	h := newHandler(t, s, client, nil)
	token := s.sign(t, imsClaims())

	first, err := h.CheckAuth(context.Background(), bearer(token))
	require.NoError(t, err)
	first.Profile().Tenants[0].SubServices[0] = "tampered"

	second, err := h.CheckAuth(context.Background(), bearer(token))
	require.NoError(t, err)

	assert.Equal(t, "spacecat_auto_suggest", second.Profile().Tenants[0].SubServices[0])
	assert.Equal(t, 1, client.profileCalls)
}

func TestCheckAuth_ContextMismatch(t *testing.T) {
	var buf bytes.Buffer
	logger.SetDefault(logger.New(&buf, "debug", "text", false))
	t.Cleanup(func() { logger.SetDefault(nil) })

	s := newSigner(t)
	claims := imsClaims()
	claims["as"] = "ims-na2"

	info, err := newHandler(t, s, clientFor("bob@example.com"), nil).CheckAuth(context.Background(), bearer(s.sign(t, claims)))

	assert.Nil(t, info)
	assert.ErrorIs(t, err, auth.ErrNotApplicable)
	assert.Contains(t, buf.String(), "[ims] token context does not match configured ims")
}

func TestCheckAuth_WrongSigningKey(t *testing.T) {
	trusted := newSigner(t)
	other := newSigner(t)
	client := clientFor("bob@example.com")

	info, err := newHandler(t, trusted, client, nil).CheckAuth(context.Background(), bearer(other.sign(t, imsClaims())))

	assert.Nil(t, info)
	assert.ErrorIs(t, err, auth.ErrNotApplicable)
	assert.Equal(t, 0, client.profileCalls)
}

func TestCheckAuth_Lifetime(t *testing.T) {
	tests := []struct {
		name      string
		createdAt any
		expiresIn any
	}{
		{"created in the future", strconv.FormatInt(fixedNow.Add(time.Minute).UnixMilli(), 10), "3600000"},
		{"expired", strconv.FormatInt(fixedNow.Add(-2*time.Hour).UnixMilli(), 10), "3600000"},
		{"unparseable created_at", "yesterday", "3600000"},
		{"missing expires_in", strconv.FormatInt(fixedNow.UnixMilli(), 10), nil},
	}

	s := newSigner(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := imsClaims()
			claims["created_at"] = tt.createdAt
			if tt.expiresIn == nil {
				delete(claims, "expires_in")
			} else {
				claims["expires_in"] = tt.expiresIn
			}

			info, err := newHandler(t, s, clientFor("bob@example.com"), nil).CheckAuth(context.Background(), bearer(s.sign(t, claims)))

			assert.Nil(t, info)
			assert.ErrorIs(t, err, auth.ErrNotApplicable)
		})
	}
}

func TestCheckAuth_NumericLifetimeClaims(t *testing.T) {
	s := newSigner(t)
	claims := imsClaims()
	claims["created_at"] = fixedNow.UnixMilli()
	claims["expires_in"] = 60_000

	info, err := newHandler(t, s, clientFor("bob@example.com"), nil).CheckAuth(context.Background(), bearer(s.sign(t, claims)))

	require.NoError(t, err)
	assert.Equal(t, int64(60), info.Profile().Claims["ttl"])
}

func TestCheckAuth_IMSFailure(t *testing.T) {
	s := newSigner(t)
	client := &mockIdentityClient{
		getProfileFunc: func(context.Context, string) (*ims.UserProfile, error) {
			return nil, &ims.StatusError{Operation: "profile", Status: http.StatusUnauthorized}
		},
	}

	info, err := newHandler(t, s, client, nil).CheckAuth(context.Background(), bearer(s.sign(t, imsClaims())))

	assert.Nil(t, info)
	assert.True(t, errors.Is(err, auth.ErrNotApplicable))
}

func TestCheckAuth_NotAJWT(t *testing.T) {
	s := newSigner(t)

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/", nil),
		bearer("opaque-token"),
	} {
		info, err := newHandler(t, s, clientFor("a@b.c"), nil).CheckAuth(context.Background(), r)
		assert.Nil(t, info)
		assert.ErrorIs(t, err, auth.ErrNotApplicable)
	}
}

func TestCheckAuth_RemoteJWKS(t *testing.T) {
	s := newSigner(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(s.jwks)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h, err := imsauth.New(ctx, imsauth.Config{Name: "ims-na1", JWKSURI: srv.URL}, clientFor("jane@adobe.com"),
		imsauth.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	info, err := h.CheckAuth(context.Background(), bearer(s.sign(t, imsClaims())))

	require.NoError(t, err)
	assert.True(t, info.IsAdmin())
}

func TestCheckAuth_RemoteJWKSOutlivesStartupContext(t *testing.T) {
	s := newSigner(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(s.jwks)
	}))
	t.Cleanup(srv.Close)

	startCtx, cancel := context.WithCancel(context.Background())
	h, err := imsauth.New(startCtx, imsauth.Config{Name: "ims-na1", JWKSURI: srv.URL}, clientFor("jane@adobe.com"),
		imsauth.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	cancel()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer reqCancel()
	info, err := h.CheckAuth(reqCtx, bearer(s.sign(t, imsClaims())))

	require.NoError(t, err)
	assert.True(t, info.IsAuthenticated())
}

func TestCheckAuth_RemoteJWKSRespectsRequestDeadline(t *testing.T) {
	s := newSigner(t)
	unblock := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-unblock:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(unblock) })

	h, err := imsauth.New(context.Background(), imsauth.Config{Name: "ims-na1", JWKSURI: srv.URL}, clientFor("jane@adobe.com"),
		imsauth.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer reqCancel()
	start := time.Now()
	info, err := h.CheckAuth(reqCtx, bearer(s.sign(t, imsClaims())))

	assert.Nil(t, info)
	assert.ErrorIs(t, err, auth.ErrNotApplicable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := imsauth.New(context.Background(), imsauth.Config{Name: "ims-na1", JWKS: []byte(`{"keys":[]}`)}, nil)

	assert.ErrorIs(t, err, auth.ErrMisconfigured)
}

func TestParseConfig(t *testing.T) {
	s := newSigner(t)

	t.Run("inline object", func(t *testing.T) {
		raw := `{"name":"ims-na1","jwks":` + string(s.jwks) + `}`
		cfg, err := imsauth.ParseConfig(raw)

		require.NoError(t, err)
		assert.Equal(t, "ims-na1", cfg.Name)
		assert.JSONEq(t, string(s.jwks), string(cfg.JWKS))
		assert.Equal(t, "@adobe.com", cfg.AdminEmailDomain)
		assert.Equal(t, "spacecat", cfg.ServiceName)
	})

	t.Run("jwks as string", func(t *testing.T) {
		quoted, err := json.Marshal(string(s.jwks))
		require.NoError(t, err)

		cfg, err := imsauth.ParseConfig(`{"name":"ims-na1","jwks":` + string(quoted) + `,"adminEmailDomain":"@example.com"}`)

		require.NoError(t, err)
		assert.JSONEq(t, string(s.jwks), string(cfg.JWKS))
		assert.Equal(t, "@example.com", cfg.AdminEmailDomain)
	})

	t.Run("remote uri", func(t *testing.T) {
		cfg, err := imsauth.ParseConfig(`{"name":"ims-na1","jwksUri":"https://ims.example.com/keys"}`)

		require.NoError(t, err)
		assert.Empty(t, cfg.JWKS)
		assert.Equal(t, "https://ims.example.com/keys", cfg.JWKSURI)
	})

	for name, raw := range map[string]string{
		"empty":        "",
		"invalid json": "{",
		"missing name": `{"jwksUri":"https://ims.example.com/keys"}`,
		"missing keys": `{"name":"ims-na1"}`,
		"null keys":    `{"name":"ims-na1","jwks":null}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := imsauth.ParseConfig(raw)
			assert.Error(t, err)
		})
	}
}
