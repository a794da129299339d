// Package token decodes and verifies the bearer tokens issued by the
// upstream library API and turns their claims into a Principal.
package token

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleList accepts either a JSON string or an array of strings. Upstreams
// disagree on whether "role"/"roles" is a scalar or a list.
type RoleList []string

func (l *RoleList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*l = nil
		} else {
			*l = RoleList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// Claims is the payload of an upstream bearer token. Role membership may be
// carried by any of Role, Roles or Groups.
type Claims struct {
	jwt.RegisteredClaims

	Role              RoleList `json:"role,omitempty"`
	Roles             RoleList `json:"roles,omitempty"`
	Groups            RoleList `json:"groups,omitempty"`
	UPN               string   `json:"upn,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Name              string   `json:"name,omitempty"`
	FullName          string   `json:"fullName,omitempty"`
}

// Principal is the identity derived from a token.
type Principal struct {
	Subject     string
	DisplayName string
	Roles       RoleSet
	ExpiresAt   time.Time
}

// Expired reports whether the token behind p has an expiry before now.
// A token without an exp claim never expires.
func (p Principal) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// Principal flattens the claims into a Principal.
func (c *Claims) Principal() Principal {
	subject := firstNonEmpty(c.Subject, c.UPN, c.PreferredUsername)
	p := Principal{
		Subject:     subject,
		DisplayName: firstNonEmpty(c.Name, c.FullName, c.PreferredUsername, subject),
	}
	all := make([]string, 0, len(c.Role)+len(c.Roles)+len(c.Groups))
	all = append(all, c.Role...)
	all = append(all, c.Roles...)
	all = append(all, c.Groups...)
	p.Roles = NewRoleSet(all...)
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
