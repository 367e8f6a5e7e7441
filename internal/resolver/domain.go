package resolver

import (
	"sort"
	"time"

	"github.com/sentra-iam/sentra/internal/wildcard"
)

// GrantType distinguishes direct user grants from denies.
type GrantType string

const (
	// TypeGrant adds a permission or pattern to the user's set.
	TypeGrant GrantType = "GRANT"
	// TypeDeny removes a concrete permission from the user's set. Denies are
	// defined only against concrete codes.
	TypeDeny GrantType = "DENY"
)

// RoleGrant is one permission row attached to a role, optionally scoped to a
// group and bounded by a validity window.
type RoleGrant struct {
	ID         int64
	RoleID     int64
	Grant      wildcard.Grant
	GroupID    *int64
	ValidFrom  *time.Time
	ValidUntil *time.Time
	IsActive   bool
}

// UserGrant is a direct, role-independent grant or deny for one user.
type UserGrant struct {
	ID       int64
	UserID   int64
	Grant    wildcard.Grant
	Type     GrantType
	IsActive bool
}

// Set is an actor's effective permission set: concrete codes and patterns
// mixed, normalized to lower case. Pattern expansion is deferred to query
// time via the wildcard matcher.
type Set map[string]struct{}

// NewSet builds a set from pre-normalized values.
func NewSet(values ...string) Set {
	set := make(Set, len(values))
	for _, v := range values {
		set.Add(v)
	}
	return set
}

// Add inserts a normalized value.
func (s Set) Add(value string) {
	normalized := wildcard.Normalize(value)
	if normalized == "" {
		return
	}
	s[normalized] = struct{}{}
}

// Remove drops a value from the set.
func (s Set) Remove(value string) {
	delete(s, wildcard.Normalize(value))
}

// Union merges other into s.
func (s Set) Union(other Set) {
	for v := range other {
		s[v] = struct{}{}
	}
}

// Contains reports literal membership of a normalized value.
func (s Set) Contains(value string) bool {
	_, ok := s[wildcard.Normalize(value)]
	return ok
}

// Values returns the members sorted for stable output.
func (s Set) Values() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// HasPermission reports whether the set covers the requested concrete code,
// either literally or through any contained wildcard pattern.
func HasPermission(set Set, code string) bool {
	normalized := wildcard.Normalize(code)
	if normalized == "" {
		return false
	}
	if set.Contains(normalized) {
		return true
	}
	for value := range set {
		if wildcard.IsPattern(value) && wildcard.Matches(value, normalized) {
			return true
		}
	}
	return false
}
