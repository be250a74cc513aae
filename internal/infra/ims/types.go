package ims

import (
	"encoding/json"
	"strings"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type productContextResponse struct {
	ProductContexts []ProductContext `json:"productContexts"`
}

type ProductContext struct {
	ServiceCode string            `json:"serviceCode"`
	Params      map[string]string `json:"params"`
}

type organizationResponse struct {
	OrgName     string  `json:"orgName"`
	OrgType     string  `json:"orgType"`
	CountryCode string  `json:"countryCode"`
	Groups      []Group `json:"groups"`
}

type Group struct {
	GroupID   json.Number `json:"groupId"`
	GroupName string      `json:"groupName"`
	Role      string      `json:"role"`
}

type membersResponse struct {
	Items []Member `json:"items"`
}

type Member struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// OrganizationDetails is the composite view of an IMS org and its admins.
type OrganizationDetails struct {
	ImsOrgID    string  `json:"imsOrgId"`
	TenantID    string  `json:"tenantId"`
	OrgName     string  `json:"orgName"`
	OrgType     string  `json:"orgType"`
	CountryCode string  `json:"countryCode"`
	Admins      []Admin `json:"admins"`
}

type Admin struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type Role struct {
	Organization string `json:"organization"`
	NamedRole    string `json:"named_role"`
}

// UserProfile is the subset of /ims/profile/v1 used here. Organizations is
// derived from Roles.
type UserProfile struct {
	UserID        string   `json:"userId"`
	Email         string   `json:"email"`
	Name          string   `json:"name"`
	FirstName     string   `json:"first_name"`
	LastName      string   `json:"last_name"`
	Roles         []Role   `json:"roles"`
	Organizations []string `json:"organizations"`
}

type OrgRef struct {
	Ident   string `json:"ident"`
	AuthSrc string `json:"authSrc"`
}

type Organization struct {
	OrgName string `json:"orgName"`
	OrgType string `json:"orgType"`
	OrgRef  OrgRef `json:"orgRef"`
}

func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
