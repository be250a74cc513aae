package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appauth "github.com/astro-web3/spacecat-auth/internal/app/auth"
	"github.com/astro-web3/spacecat-auth/internal/domain/auth"
)

type mockHandler struct {
	name      string
	checkFunc func(ctx context.Context, r *http.Request) (*auth.AuthInfo, error)
	calls     int
}

func (m *mockHandler) Name() string { return m.name }

func (m *mockHandler) CheckAuth(ctx context.Context, r *http.Request) (*auth.AuthInfo, error) {
	m.calls++
	return m.checkFunc(ctx, r)
}

type mockRecorder struct {
	outcomes []string
}

func (m *mockRecorder) ObserveAuth(handler, outcome string, _ time.Duration) {
	m.outcomes = append(m.outcomes, handler+":"+outcome)
}

func notApplicable(name string) *mockHandler {
	return &mockHandler{name: name, checkFunc: func(context.Context, *http.Request) (*auth.AuthInfo, error) {
		return nil, auth.NotApplicable("nothing here")
	}}
}

func authenticated(name, userID string) *mockHandler {
	return &mockHandler{name: name, checkFunc: func(context.Context, *http.Request) (*auth.AuthInfo, error) {
		return auth.NewBuilder().
			WithType(name).
			WithAuthenticated(true).
			WithProfile(&auth.Profile{UserID: userID}).
			Build(), nil
	}}
}

func rejected(name, reason string) *mockHandler {
	return &mockHandler{name: name, checkFunc: func(context.Context, *http.Request) (*auth.AuthInfo, error) {
		return auth.Reject(name, &auth.Profile{UserID: "key-1"}, reason)
	}}
}

func request() *http.Request {
	return httptest.NewRequest(http.MethodGet, "/sites", nil)
}

func TestAuthenticate_FirstAuthenticatedWins(t *testing.T) {
	first := notApplicable("jwt")
	second := authenticated("scopedApiKey", "key-1")
	third := authenticated("legacyApiKey", "legacy-user")
	rec := &mockRecorder{}

	info, err := appauth.NewService([]auth.Handler{first, second, third}, appauth.WithRecorder(rec)).
		Authenticate(context.Background(), request())

	require.NoError(t, err)
	assert.Equal(t, "key-1", info.Profile().UserID)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 0, third.calls)
	assert.Equal(t, []string{"jwt:not_applicable", "scopedApiKey:authenticated"}, rec.outcomes)
}

func TestAuthenticate_RejectionStopsChain(t *testing.T) {
	key := rejected("scopedApiKey", "API key has been revoked on 2026-10-15")
	legacy := authenticated("legacyApiKey", "legacy-user")

	info, err := appauth.NewService([]auth.Handler{key, legacy}).Authenticate(context.Background(), request())

	var rejection *auth.RejectedError
	require.ErrorAs(t, err, &rejection)
	assert.Same(t, info, rejection.Info)
	assert.False(t, info.IsAuthenticated())
	assert.Contains(t, info.Reason(), "revoked")
	assert.Equal(t, 0, legacy.calls)
}

func TestAuthenticate_NoHandlerApplies(t *testing.T) {
	info, err := appauth.NewService([]auth.Handler{notApplicable("jwt"), notApplicable("ims")}).
		Authenticate(context.Background(), request())

	assert.Nil(t, info)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestAuthenticate_EmptyChain(t *testing.T) {
	info, err := appauth.NewService(nil).Authenticate(context.Background(), request())

	assert.Nil(t, info)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestAuthenticate_UnexpectedErrorIsSkipped(t *testing.T) {
	broken := &mockHandler{name: "broken", checkFunc: func(context.Context, *http.Request) (*auth.AuthInfo, error) {
		return nil, errors.New("database is down")
	}}
	unauthenticated := &mockHandler{name: "silent", checkFunc: func(context.Context, *http.Request) (*auth.AuthInfo, error) {
		return auth.NewBuilder().Build(), nil
	}}
	rec := &mockRecorder{}

	info, err := appauth.NewService(
		[]auth.Handler{broken, unauthenticated, authenticated("legacyApiKey", "legacy-user")},
		appauth.WithRecorder(rec),
	).Authenticate(context.Background(), request())

	require.NoError(t, err)
	assert.Equal(t, "legacy-user", info.Profile().UserID)
	assert.Equal(t, []string{
		"broken:not_applicable",
		"silent:not_applicable",
		"legacyApiKey:authenticated",
	}, rec.outcomes)
}

func TestHandlers(t *testing.T) {
	svc := appauth.NewService([]auth.Handler{notApplicable("jwt"), notApplicable("scopedApiKey")})

	assert.Equal(t, []string{"jwt", "scopedApiKey"}, svc.Handlers())
}
