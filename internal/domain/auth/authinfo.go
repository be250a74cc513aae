package auth

import (
	"slices"
	"strings"
)

// Handler type tags carried by AuthInfo.
const (
	TypeJWT          = "jwt"
	TypeScopedAPIKey = "scopedApiKey"
	TypeLegacyAPIKey = "legacyApiKey"
	TypeIMS          = "ims"
)

const (
	ScopeAdmin = "admin"
	ScopeUser  = "user"
)

// Scope is a named capability. Domains restrict a "user" scope to tenant ids,
// SubScopes carry per-domain permissions.
type Scope struct {
	Name      string   `json:"name"`
	Domains   []string `json:"domains,omitempty"`
	SubScopes []string `json:"subScopes,omitempty"`
}

// Tenant is an organization the principal may act for.
type Tenant struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	SubServices []string `json:"subServices,omitempty"`
}

// APIKey is the persisted scoped API key entity as exposed by the data layer.
type APIKey interface {
	ID() string
	Name() string
	HashedAPIKey() string
	Scopes() []Scope
	// ExpiresAt and RevokedAt are ISO-8601 timestamps, empty when unset.
	ExpiresAt() string
	RevokedAt() string
}

// Profile is the principal behind a request.
type Profile struct {
	UserID  string         `json:"user_id,omitempty"`
	Email   string         `json:"email,omitempty"`
	IsAdmin bool           `json:"is_admin,omitempty"`
	Tenants []Tenant       `json:"tenants,omitempty"`
	Claims  map[string]any `json:"claims,omitempty"`
	APIKey  APIKey         `json:"-"`
}

// AuthInfo is the outcome of a handler. It is immutable once built.
type AuthInfo struct {
	authenticated bool
	typ           string
	profile       *Profile
	scopes        []Scope
	reason        string
}

func (a *AuthInfo) IsAuthenticated() bool {
	return a != nil && a.authenticated
}

func (a *AuthInfo) Type() string {
	if a == nil {
		return ""
	}
	return a.typ
}

func (a *AuthInfo) Profile() *Profile {
	if a == nil {
		return nil
	}
	return a.profile
}

// Scopes returns a copy of the granted scopes.
func (a *AuthInfo) Scopes() []Scope {
	if a == nil {
		return nil
	}
	return cloneScopes(a.scopes)
}

func (a *AuthInfo) Reason() string {
	if a == nil {
		return ""
	}
	return a.reason
}

func (a *AuthInfo) IsAdmin() bool {
	return a != nil && a.profile != nil && a.profile.IsAdmin
}

// HasOrganization reports whether a tenant id matches orgID with any "@..."
// suffix removed. Matching is case-sensitive.
func (a *AuthInfo) HasOrganization(orgID string) bool {
	if a == nil || a.profile == nil {
		return false
	}
	id, _, _ := strings.Cut(orgID, "@")
	for _, t := range a.profile.Tenants {
		if t.ID == id {
			return true
		}
	}
	return false
}

// HasScope reports whether a scope named name exists and, when subScope is
// non-empty, lists subScope among its SubScopes.
func (a *AuthInfo) HasScope(name, subScope string) bool {
	if a == nil {
		return false
	}
	for _, s := range a.scopes {
		if s.Name != name {
			continue
		}
		if subScope == "" || slices.Contains(s.SubScopes, subScope) {
			return true
		}
	}
	return false
}

// View is the JSON shape of an AuthInfo.
type View struct {
	Authenticated bool     `json:"authenticated"`
	Type          string   `json:"type,omitempty"`
	Profile       *Profile `json:"profile,omitempty"`
	Scopes        []Scope  `json:"scopes"`
	Reason        string   `json:"reason,omitempty"`
}

func (a *AuthInfo) View() View {
	v := View{Scopes: []Scope{}}
	if a == nil {
		return v
	}
	v.Authenticated = a.authenticated
	v.Type = a.typ
	v.Profile = a.profile
	v.Reason = a.reason
	if a.scopes != nil {
		v.Scopes = cloneScopes(a.scopes)
	}
	return v
}

// Builder assembles an AuthInfo.
type Builder struct {
	info AuthInfo
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) WithType(typ string) *Builder {
	b.info.typ = typ
	return b
}

func (b *Builder) WithAuthenticated(v bool) *Builder {
	b.info.authenticated = v
	return b
}

func (b *Builder) WithProfile(p *Profile) *Builder {
	b.info.profile = p
	return b
}

func (b *Builder) WithScopes(scopes ...Scope) *Builder {
	b.info.scopes = cloneScopes(scopes)
	return b
}

func (b *Builder) WithReason(reason string) *Builder {
	b.info.reason = reason
	return b
}

// Build returns the AuthInfo. A reason always yields an unauthenticated
// result, and an authenticated result always has a non-nil scope list.
func (b *Builder) Build() *AuthInfo {
	info := b.info
	info.scopes = cloneScopes(b.info.scopes)
	if info.reason != "" {
		info.authenticated = false
	}
	if info.authenticated && info.scopes == nil {
		info.scopes = []Scope{}
	}
	return &info
}

func cloneScopes(in []Scope) []Scope {
	if in == nil {
		return nil
	}
	out := make([]Scope, len(in))
	for i, s := range in {
		out[i] = Scope{
			Name:      s.Name,
			Domains:   slices.Clone(s.Domains),
			SubScopes: slices.Clone(s.SubScopes),
		}
	}
	return out
}
