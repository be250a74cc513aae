package auth

import (
	"context"
	"net/http"
)

// Handler verifies one kind of credential.
//
// CheckAuth returns one of three outcomes:
//   - an authenticated AuthInfo and a nil error;
//   - a nil AuthInfo and an error wrapping ErrNotApplicable;
//   - an unauthenticated AuthInfo with a reason and a *RejectedError.
type Handler interface {
	Name() string
	CheckAuth(ctx context.Context, r *http.Request) (*AuthInfo, error)
}

type contextKey struct{}

// NewContext attaches info to ctx.
func NewContext(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// FromContext returns the AuthInfo attached by NewContext, or nil.
func FromContext(ctx context.Context) *AuthInfo {
	info, _ := ctx.Value(contextKey{}).(*AuthInfo)
	return info
}
