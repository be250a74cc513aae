package cache

import (
	"context"
	"fmt"
	"time"
)

// ServiceToken is an IMS service access token together with the absolute
// time it stops being served from cache.
type ServiceToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token can still be handed out at now.
func (t *ServiceToken) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// ServiceTokenCache stores service tokens keyed by ServiceTokenKey.
// Get returns (nil, nil) on a miss.
type ServiceTokenCache interface {
	Get(ctx context.Context, key string) (*ServiceToken, error)
	Set(ctx context.Context, key string, token *ServiceToken, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

func ServiceTokenKey(kind, clientID string) string {
	return fmt.Sprintf("ims:service-token:%s:%s", kind, clientID)
}
