package jwt_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astro-web3/spacecat-auth/internal/domain/auth"
	"github.com/astro-web3/spacecat-auth/internal/domain/auth/jwt"
	"github.com/astro-web3/spacecat-auth/pkg/logger"
)

type keyPair struct {
	private *ecdsa.PrivateKey
	b64     string
}

func newKeyPair(t *testing.T) keyPair {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return keyPair{private: key, b64: base64.StdEncoding.EncodeToString(pemBytes)}
}

func (k keyPair) sign(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodES256, claims).SignedString(k.private)
	require.NoError(t, err)
	return token
}

func baseClaims(now time.Time) jwtlib.MapClaims {
	return jwtlib.MapClaims{
		"iss":     jwt.Issuer,
		"sub":     "user-123",
		"user_id": "user-123",
		"email":   "jane@example.com",
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	}
}

func bearerRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/sites", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.SetDefault(logger.New(&buf, "debug", "text", false))
	t.Cleanup(func() { logger.SetDefault(nil) })
	return &buf
}

func TestCheckAuth_AdminWithoutTenants(t *testing.T) {
	kp := newKeyPair(t)
	now := time.Now()
	claims := baseClaims(now)
	claims["is_admin"] = true
	claims["tenants"] = []any{}

	info, err := jwt.New(kp.b64).CheckAuth(context.Background(), bearerRequest(kp.sign(t, claims)))

	require.NoError(t, err)
	assert.True(t, info.IsAuthenticated())
	assert.Equal(t, auth.TypeJWT, info.Type())
	assert.Equal(t, []auth.Scope{{Name: "admin"}}, info.Scopes())
	assert.True(t, info.IsAdmin())
}

func TestCheckAuth_AdminRequiresBooleanClaim(t *testing.T) {
	kp := newKeyPair(t)

	for _, v := range []any{"true", "false", "1", 1, map[string]any{}} {
		claims := baseClaims(time.Now())
		claims["is_admin"] = v

		info, err := jwt.New(kp.b64).CheckAuth(context.Background(), bearerRequest(kp.sign(t, claims)))

		require.NoError(t, err, "is_admin=%v", v)
		assert.False(t, info.IsAdmin(), "is_admin=%v", v)
		assert.Equal(t, []auth.Scope{}, info.Scopes(), "is_admin=%v", v)
	}
}

func TestCheckAuth_TenantScopes(t *testing.T) {
	kp := newKeyPair(t)
	claims := baseClaims(time.Now())
	claims["is_admin"] = false
	claims["tenants"] = []any{
		map[string]any{"id": "org1", "subServices": []any{"auto_fix"}},
	}

	info, err := jwt.New(kp.b64).CheckAuth(context.Background(), bearerRequest(kp.sign(t, claims)))

	require.NoError(t, err)
	assert.Equal(t, []auth.Scope{
		{Name: "user", Domains: []string{"org1"}, SubScopes: []string{"auto_fix"}},
	}, info.Scopes())
	assert.True(t, info.HasOrganization("org1@AdobeOrg"))
	assert.Equal(t, "user-123", info.Profile().UserID)
	assert.Equal(t, "jane@example.com", info.Profile().Claims["email"])
}

func TestCheckAuth_MissingTenantsDefaultsToEmpty(t *testing.T) {
	kp := newKeyPair(t)

	info, err := jwt.New(kp.b64).CheckAuth(context.Background(), bearerRequest(kp.sign(t, baseClaims(time.Now()))))

	require.NoError(t, err)
	assert.NotNil(t, info.Profile().Tenants)
	assert.Empty(t, info.Profile().Tenants)
	assert.Empty(t, info.Scopes())
}

func TestCheckAuth_SessionCookieFallback(t *testing.T) {
	kp := newKeyPair(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Cookie", "other=1; sessionToken="+kp.sign(t, baseClaims(time.Now())))

	info, err := jwt.New(kp.b64).CheckAuth(context.Background(), r)

	require.NoError(t, err)
	assert.True(t, info.IsAuthenticated())
}

func TestCheckAuth_BearerTakesPrecedence(t *testing.T) {
	kp := newKeyPair(t)
	r := bearerRequest(kp.sign(t, baseClaims(time.Now())))
	r.Header.Set("Cookie", "sessionToken=garbage")

	info, err := jwt.New(kp.b64).CheckAuth(context.Background(), r)

	require.NoError(t, err)
	assert.True(t, info.IsAuthenticated())
}

func TestCheckAuth_WrongIssuer(t *testing.T) {
	logs := captureLogs(t)
	kp := newKeyPair(t)
	claims := baseClaims(time.Now())
	claims["iss"] = "https://evil.example.com"

	info, err := jwt.New(kp.b64).CheckAuth(context.Background(), bearerRequest(kp.sign(t, claims)))

	assert.Nil(t, info)
	assert.True(t, errors.Is(err, auth.ErrNotApplicable))
	assert.Contains(t, logs.String(), "[jwt] issuer mismatch")
}

func TestCheckAuth_Expiry(t *testing.T) {
	kp := newKeyPair(t)
	now := time.Now()
	claims := baseClaims(now)
	claims["exp"] = now.Add(-3 * time.Second).Unix()
	token := kp.sign(t, claims)

	t.Run("within clock tolerance", func(t *testing.T) {
		info, err := jwt.New(kp.b64, jwt.WithClock(func() time.Time { return now })).
			CheckAuth(context.Background(), bearerRequest(token))
		require.NoError(t, err)
		assert.True(t, info.IsAuthenticated())
	})

	t.Run("beyond clock tolerance", func(t *testing.T) {
		later := now.Add(10 * time.Second)
		info, err := jwt.New(kp.b64, jwt.WithClock(func() time.Time { return later })).
			CheckAuth(context.Background(), bearerRequest(token))
		assert.Nil(t, info)
		assert.True(t, errors.Is(err, auth.ErrNotApplicable))
	})
}

func TestCheckAuth_ExpirationRequired(t *testing.T) {
	kp := newKeyPair(t)
	claims := baseClaims(time.Now())
	delete(claims, "exp")

	info, err := jwt.New(kp.b64).CheckAuth(context.Background(), bearerRequest(kp.sign(t, claims)))

	assert.Nil(t, info)
	assert.ErrorIs(t, err, auth.ErrNotApplicable)
}

func TestCheckAuth_WrongKey(t *testing.T) {
	signer := newKeyPair(t)
	verifier := newKeyPair(t)

	info, err := jwt.New(verifier.b64).CheckAuth(context.Background(), bearerRequest(signer.sign(t, baseClaims(time.Now()))))

	assert.Nil(t, info)
	assert.ErrorIs(t, err, auth.ErrNotApplicable)
}

func TestCheckAuth_RejectsOtherAlgorithms(t *testing.T) {
	kp := newKeyPair(t)
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, baseClaims(time.Now())).SignedString([]byte("secret"))
	require.NoError(t, err)

	info, err := jwt.New(kp.b64).CheckAuth(context.Background(), bearerRequest(token))

	assert.Nil(t, info)
	assert.ErrorIs(t, err, auth.ErrNotApplicable)
}

func TestCheckAuth_MissingPublicKey(t *testing.T) {
	logs := captureLogs(t)
	kp := newKeyPair(t)

	info, err := jwt.New("").CheckAuth(context.Background(), bearerRequest(kp.sign(t, baseClaims(time.Now()))))

	assert.Nil(t, info)
	assert.ErrorIs(t, err, auth.ErrNotApplicable)
	assert.Contains(t, logs.String(), "public key is not configured")
}

func TestCheckAuth_NoToken(t *testing.T) {
	info, err := jwt.New("irrelevant").CheckAuth(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Nil(t, info)
	assert.ErrorIs(t, err, auth.ErrNotApplicable)
}
