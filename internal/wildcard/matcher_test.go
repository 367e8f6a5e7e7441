package wildcard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		code    string
		want    bool
	}{
		{"exact", "Identity.Users.Read", "Identity.Users.Read", true},
		{"exact case insensitive", "identity.users.read", "Identity.Users.Read", true},
		{"exact mismatch", "Identity.Users.Read", "Identity.Users.Write", false},
		{"single segment wildcard", "Identity.*.*", "Identity.Users.Read", true},
		{"wildcard wrong service", "Identity.*.*", "Other.Users.Read", false},
		{"wildcard too few segments", "Identity.*.*", "Identity.Users", false},
		{"wildcard too many segments", "Identity.*.*", "Identity.Users.Read.Extra", false},
		{"all segments wildcard", "*.*.*", "Billing.Invoices.Approve", true},
		{"suffix wildcard deep", "SpeedReading.**", "SpeedReading.Texts.Update.Bulk", true},
		{"suffix wildcard zero trailing", "Identity.Users.**", "Identity.Users", true},
		{"suffix wildcard four segments", "Identity.**", "Identity.Users.Read.Extra", true},
		{"suffix wildcard wrong prefix", "Identity.**", "Billing.Invoices.Read", false},
		{"middle double star is malformed", "Identity.**.Read", "Identity.Users.Read", false},
		{"embedded star is malformed", "Identity.Us*rs.Read", "Identity.Users.Read", false},
		{"empty pattern", "", "Identity.Users.Read", false},
		{"empty code", "Identity.*.*", "", false},
		{"empty segment is malformed", "Identity..Read", "Identity.Users.Read", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Matches(tc.pattern, tc.code))
		})
	}
}

func TestMatchesIsIdempotent(t *testing.T) {
	for i := 0; i < 3; i++ {
		assert.True(t, Matches("Identity.*.*", "Identity.Users.Read"))
		assert.False(t, Matches("Identity.Users.Read", "Identity.Users.Write"))
	}
}

func TestMatchesAny(t *testing.T) {
	patterns := []string{"Billing.Invoices.Read", "Identity.**"}
	assert.True(t, MatchesAny(patterns, "Identity.Sessions.Revoke"))
	assert.False(t, MatchesAny(patterns, "Billing.Invoices.Write"))
	assert.False(t, MatchesAny(nil, "Billing.Invoices.Write"))
}

func TestValidatePattern(t *testing.T) {
	require.NoError(t, ValidatePattern("Identity.*.*"))
	require.NoError(t, ValidatePattern("Identity.Users.Read"))
	require.NoError(t, ValidatePattern("Identity.**"))
	require.NoError(t, ValidatePattern("**"))

	assert.ErrorIs(t, ValidatePattern(""), ErrInvalidPattern)
	assert.ErrorIs(t, ValidatePattern("Identity..Read"), ErrInvalidPattern)
	assert.ErrorIs(t, ValidatePattern("Identity.**.Read"), ErrInvalidPattern)
	assert.ErrorIs(t, ValidatePattern("Identity.Us*rs.Read"), ErrInvalidPattern)
	assert.ErrorIs(t, ValidatePattern("Identity.***"), ErrInvalidPattern)
}

func TestParseGrant(t *testing.T) {
	g, err := ParseGrant(" Identity.Users.Read ")
	require.NoError(t, err)
	assert.Equal(t, KindConcrete, g.Kind)
	assert.Equal(t, "identity.users.read", g.Value)

	g, err = ParseGrant("Identity.*.*")
	require.NoError(t, err)
	assert.Equal(t, KindPattern, g.Kind)

	_, err = ParseGrant("Identity.**.Read")
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = ParseGrant("   ")
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestGrantCovers(t *testing.T) {
	concrete := Grant{Kind: KindConcrete, Value: "identity.users.read"}
	assert.True(t, concrete.Covers("Identity.Users.Read"))
	assert.False(t, concrete.Covers("Identity.Users.Write"))

	pattern := Grant{Kind: KindPattern, Value: "identity.**"}
	assert.True(t, pattern.Covers("Identity.Users.Read.Extra"))
	assert.False(t, pattern.Covers("Billing.Invoices.Read"))
}
