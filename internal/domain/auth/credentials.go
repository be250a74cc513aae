package auth

import (
	"net/http"
	"strings"
)

const (
	HeaderAPIKey       = "x-api-key"
	CookieSessionToken = "sessionToken"

	bearerPrefix = "Bearer "
)

// BearerToken returns the token of an "Authorization: Bearer <token>" header,
// or "" when the header is absent, uses another scheme or carries no token.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// Cookie returns the raw Cookie header.
func Cookie(r *http.Request) string {
	return r.Header.Get("Cookie")
}

// CookieValue returns the value of the first cookie called name.
func CookieValue(r *http.Request, name string) string {
	raw := Cookie(r)
	if raw == "" {
		return ""
	}
	for _, part := range strings.Split(raw, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) == name {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// APIKeyHeader returns the x-api-key header value.
func APIKeyHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderAPIKey))
}
