package batch

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra-iam/sentra/internal/permcache"
)

type stubBulkRepo struct {
	roleRows  []BulkRoleGrantRow
	userRows  []BulkUserGrantRow
	roleCalls int
	lastUsers []int64
}

func (s *stubBulkRepo) BulkRoleGrants(ctx context.Context, userIDs []int64, groupID *int64, at time.Time) ([]BulkRoleGrantRow, error) {
	s.roleCalls++
	s.lastUsers = userIDs
	return s.roleRows, nil
}

func (s *stubBulkRepo) BulkUserGrants(ctx context.Context, userIDs []int64) ([]BulkUserGrantRow, error) {
	return s.userRows, nil
}

func newTestOptimizer(t *testing.T, repo RepositoryPort) (*Optimizer, *permcache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := permcache.New(client, time.Minute, time.Minute, nil)
	return NewOptimizer(repo, cache, client, nil, nil, 4, 4), cache, mr
}

func TestCheckManyEvaluatesAndCaches(t *testing.T) {
	repo := &stubBulkRepo{
		roleRows: []BulkRoleGrantRow{
			{UserID: 7, Value: "Identity.*.*"},
			{UserID: 7, Value: "Billing.Invoices.Read"},
		},
	}
	opt, _, _ := newTestOptimizer(t, repo)
	ctx := context.Background()

	codes := []string{"Identity.Users.Read", "Billing.Invoices.Read", "Billing.Invoices.Approve"}
	result, err := opt.CheckMany(ctx, 7, codes, nil)
	require.NoError(t, err)
	assert.True(t, result["Identity.Users.Read"])
	assert.True(t, result["Billing.Invoices.Read"])
	assert.False(t, result["Billing.Invoices.Approve"])
	assert.Equal(t, 1, repo.roleCalls)

	// Second call with the same inputs is served from the decision cache.
	result, err = opt.CheckMany(ctx, 7, codes, nil)
	require.NoError(t, err)
	assert.True(t, result["Identity.Users.Read"])
	assert.Equal(t, 1, repo.roleCalls)
}

func TestCheckManyCacheIgnoresLetterCase(t *testing.T) {
	repo := &stubBulkRepo{
		roleRows: []BulkRoleGrantRow{{UserID: 7, Value: "Identity.*.*"}},
	}
	opt, _, _ := newTestOptimizer(t, repo)
	ctx := context.Background()

	result, err := opt.CheckMany(ctx, 7, []string{"Identity.Users.Read"}, nil)
	require.NoError(t, err)
	assert.True(t, result["Identity.Users.Read"])
	assert.Equal(t, 1, repo.roleCalls)

	// The same permission lowercased hits the same decision entry and stays
	// allowed, keyed by the caller's spelling.
	result, err = opt.CheckMany(ctx, 7, []string{"identity.users.read"}, nil)
	require.NoError(t, err)
	assert.True(t, result["identity.users.read"])
	assert.Equal(t, 1, repo.roleCalls)
}

func TestCheckManyRejectsOversizedInput(t *testing.T) {
	opt, _, _ := newTestOptimizer(t, &stubBulkRepo{})

	codes := []string{"A.B.C", "D.E.F", "G.H.I", "J.K.L", "M.N.O"}
	_, err := opt.CheckMany(context.Background(), 7, codes, nil)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestResolveManyPartitionsPerUser(t *testing.T) {
	repo := &stubBulkRepo{
		roleRows: []BulkRoleGrantRow{
			{UserID: 1, Value: "Identity.Users.Read"},
			{UserID: 2, Value: "Billing.**"},
		},
		userRows: []BulkUserGrantRow{
			{UserID: 1, Value: "Reports.Exports.Run", GrantType: "GRANT"},
			{UserID: 1, Value: "Identity.Users.Read", GrantType: "DENY"},
		},
	}
	opt, _, _ := newTestOptimizer(t, repo)

	sets, err := opt.ResolveMany(context.Background(), []int64{1, 2, 3, 1}, nil)
	require.NoError(t, err)
	require.Len(t, sets, 3)
	assert.Equal(t, []int64{1, 2, 3}, repo.lastUsers, "duplicate ids deduped before the bulk read")

	assert.False(t, sets[1].Contains("identity.users.read"), "deny wins over role grant")
	assert.True(t, sets[1].Contains("reports.exports.run"))
	assert.True(t, sets[2].Contains("billing.**"))
	assert.Empty(t, sets[3], "user with no rows still gets an empty set")
}

func TestResolveManyRejectsOversizedInput(t *testing.T) {
	opt, _, _ := newTestOptimizer(t, &stubBulkRepo{})

	_, err := opt.ResolveMany(context.Background(), []int64{1, 2, 3, 4, 5}, nil)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestPreloadWarmsPermissionCache(t *testing.T) {
	repo := &stubBulkRepo{
		roleRows: []BulkRoleGrantRow{
			{UserID: 1, Value: "Identity.Users.Read"},
			{UserID: 2, Value: "Identity.Users.Write"},
		},
	}
	opt, cache, _ := newTestOptimizer(t, repo)
	ctx := context.Background()

	require.NoError(t, opt.Preload(ctx, []int64{1, 2}, nil))

	set, hit, err := cache.Get(ctx, permcache.Key(permcache.ActorUser, 1, nil))
	require.NoError(t, err)
	require.True(t, hit)
	assert.True(t, set.Contains("identity.users.read"))

	set, hit, err = cache.Get(ctx, permcache.Key(permcache.ActorUser, 2, nil))
	require.NoError(t, err)
	require.True(t, hit)
	assert.True(t, set.Contains("identity.users.write"))
}

func TestDecisionKeyTruncatesInput(t *testing.T) {
	opt, _, _ := newTestOptimizer(t, &stubBulkRepo{})

	base := make([]string, keyInputBound)
	for i := range base {
		base[i] = "aaa.bbb.ccc"
	}
	withExtra := append(append([]string{}, base...), "zzz.yyy.xxx")

	// Past the bound the key no longer distinguishes inputs; that collision
	// is the documented tradeoff for bounded key cardinality.
	assert.Equal(t, opt.decisionKey(7, base, nil), opt.decisionKey(7, withExtra, nil))
	assert.NotEqual(t, opt.decisionKey(7, base, nil), opt.decisionKey(8, base, nil))
}
