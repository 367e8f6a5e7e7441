package wildcard

// GrantKind discriminates concrete permission codes from wildcard patterns.
type GrantKind int

const (
	// KindConcrete is a fully specified permission code.
	KindConcrete GrantKind = iota
	// KindPattern is a wildcard pattern covering multiple codes.
	KindPattern
)

// Grant is a typed permission entry: either a concrete code or a wildcard
// pattern. Keeping the distinction explicit means callers cannot hand the
// matcher an unchecked string bag.
type Grant struct {
	Kind  GrantKind
	Value string
}

// ParseGrant classifies and normalizes a stored permission value. Pattern
// values are syntax-checked; a malformed pattern is rejected here rather than
// silently matching nothing later.
func ParseGrant(value string) (Grant, error) {
	normalized := Normalize(value)
	if normalized == "" {
		return Grant{}, ErrInvalidPattern
	}
	if IsPattern(normalized) {
		if err := ValidatePattern(normalized); err != nil {
			return Grant{}, err
		}
		return Grant{Kind: KindPattern, Value: normalized}, nil
	}
	return Grant{Kind: KindConcrete, Value: normalized}, nil
}

// Covers reports whether the grant applies to the concrete code.
func (g Grant) Covers(code string) bool {
	if g.Kind == KindConcrete {
		return Normalize(code) == g.Value
	}
	return Matches(g.Value, code)
}
