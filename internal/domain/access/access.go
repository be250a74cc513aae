// Package access answers authorization questions about an authenticated caller.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/astro-web3/spacecat-auth/internal/domain/auth"
)

var ErrUnsupportedEntity = errors.New("entity does not belong to an organization")

// Organization is an entity that carries its IMS org id.
type Organization interface {
	ImsOrgID() string
}

// SiteLike is an entity owned by an organization that has to be loaded.
type SiteLike interface {
	Organization(ctx context.Context) (Organization, error)
}

type Util struct {
	info *auth.AuthInfo
}

func New(info *auth.AuthInfo) *Util {
	return &Util{info: info}
}

// FromContext builds a Util for the AuthInfo attached to ctx.
func FromContext(ctx context.Context) *Util {
	return New(auth.FromContext(ctx))
}

func (u *Util) AuthInfo() *auth.AuthInfo {
	return u.info
}

func (u *Util) IsAuthenticated() bool {
	return u.info.IsAuthenticated()
}

func (u *Util) IsAdmin() bool {
	return u.info.IsAuthenticated() && u.info.IsAdmin()
}

func (u *Util) HasOrganization(orgID string) bool {
	return u.info.IsAuthenticated() && u.info.HasOrganization(orgID)
}

func (u *Util) HasScope(name, subScope string) bool {
	return u.info.IsAuthenticated() && u.info.HasScope(name, subScope)
}

// HasAccess reports whether the caller may act on entity. Admins always may.
// Others need the entity's organization and, when subService is set, a user
// scope granting it.
func (u *Util) HasAccess(ctx context.Context, entity any, subService string) (bool, error) {
	if !u.info.IsAuthenticated() {
		return false, nil
	}
	if u.info.IsAdmin() {
		return true, nil
	}

	orgID, err := orgIDOf(ctx, entity)
	if err != nil {
		return false, err
	}
	if orgID == "" || !u.info.HasOrganization(orgID) {
		return false, nil
	}
	if subService != "" && !u.info.HasScope(auth.ScopeUser, subService) {
		return false, nil
	}
	return true, nil
}

func orgIDOf(ctx context.Context, entity any) (string, error) {
	switch e := entity.(type) {
	case Organization:
		return e.ImsOrgID(), nil
	case SiteLike:
		org, err := e.Organization(ctx)
		if err != nil {
			return "", fmt.Errorf("load organization: %w", err)
		}
		if org == nil {
			return "", nil
		}
		return org.ImsOrgID(), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedEntity, entity)
	}
}

// OrgID is a bare IMS org id usable as an Organization.
type OrgID string

func (o OrgID) ImsOrgID() string {
	return string(o)
}
