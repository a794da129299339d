package token

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Well-known library roles.
const (
	RoleAdmin     = "ADMIN"
	RoleLibrarian = "LIBRARIAN"
	RoleMember    = "MEMBER"
)

// RoleSet is a normalized set of role names. Names are trimmed and
// upper-cased so "Admin", "admin" and "ADMIN" are the same role.
type RoleSet map[string]struct{}

// NewRoleSet builds a RoleSet, skipping blank names.
func NewRoleSet(roles ...string) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		if n := NormalizeRole(r); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// NormalizeRole returns the canonical spelling of a role name.
func NormalizeRole(role string) string {
	// A Caser keeps state between calls, so one is built per call.
	return cases.Upper(language.Und).String(strings.TrimSpace(role))
}

// Has reports whether role is in the set.
func (s RoleSet) Has(role string) bool {
	_, ok := s[NormalizeRole(role)]
	return ok
}

// Intersects reports whether the two sets share at least one role.
func (s RoleSet) Intersects(other RoleSet) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for r := range small {
		if _, ok := large[r]; ok {
			return true
		}
	}
	return false
}

// Empty reports whether the set has no roles.
func (s RoleSet) Empty() bool { return len(s) == 0 }

// Slice returns the roles in sorted order.
func (s RoleSet) Slice() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (s RoleSet) String() string {
	return strings.Join(s.Slice(), ",")
}
