package batch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"github.com/sentra-iam/sentra/internal/audit"
	"github.com/sentra-iam/sentra/internal/permcache"
	"github.com/sentra-iam/sentra/internal/resolver"
	"github.com/sentra-iam/sentra/internal/wildcard"
)

// keyInputBound caps how many ids or codes feed the composite decision key.
// Inputs are sorted and truncated before digesting, so two calls differing
// only past the bound can collide on the same key. Bounded key cardinality is
// worth that small hit-ratio loss.
const keyInputBound = 32

const decisionTTL = 5 * time.Minute

// DecisionKeyPrefix namespaces cached CheckMany decision maps in Redis.
// Mutation paths sweep this prefix because decision entries are keyed by
// input digest, not by actor, and cannot be invalidated individually.
const DecisionKeyPrefix = "permq:"

// RepositoryPort defines the bulk reads the optimizer partitions in memory.
type RepositoryPort interface {
	BulkRoleGrants(ctx context.Context, userIDs []int64, groupID *int64, at time.Time) ([]BulkRoleGrantRow, error)
	BulkUserGrants(ctx context.Context, userIDs []int64) ([]BulkUserGrantRow, error)
}

// Optimizer amortizes resolution cost across many actors or permissions: one
// bulk join instead of one round trip per actor.
type Optimizer struct {
	repo     RepositoryPort
	cache    *permcache.Cache
	client   *redis.Client
	auditor  *audit.Service
	logger   *slog.Logger
	maxUsers int
	maxPerms int
	now      func() time.Time
}

// NewOptimizer builds an Optimizer. The bounds cap how many users or
// permission codes one call may resolve.
func NewOptimizer(repo RepositoryPort, cache *permcache.Cache, client *redis.Client, auditor *audit.Service, logger *slog.Logger, maxUsers, maxPerms int) *Optimizer {
	if maxUsers <= 0 {
		maxUsers = 256
	}
	if maxPerms <= 0 {
		maxPerms = 128
	}
	return &Optimizer{
		repo:     repo,
		cache:    cache,
		client:   client,
		auditor:  auditor,
		logger:   logger,
		maxUsers: maxUsers,
		maxPerms: maxPerms,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CheckMany evaluates many permission codes for one user in a single pass.
// The decision map is cached under a composite key derived from the bounded,
// truncated input set.
func (o *Optimizer) CheckMany(ctx context.Context, userID int64, codes []string, groupID *int64) (map[string]bool, error) {
	if len(codes) == 0 {
		return map[string]bool{}, nil
	}
	if len(codes) > o.maxPerms {
		return nil, fmt.Errorf("%w: %d permission codes, bound %d", ErrBatchTooLarge, len(codes), o.maxPerms)
	}

	// Decisions are keyed and stored by normalized code so two spellings of
	// the same input hit the same cache entry; the caller's original
	// spellings come back on the way out.
	normalized := make([]string, len(codes))
	for i, code := range codes {
		normalized[i] = wildcard.Normalize(code)
	}

	key := o.decisionKey(userID, normalized, groupID)
	if cached, ok := o.getDecisions(ctx, key); ok {
		return remapDecisions(codes, normalized, cached), nil
	}

	sets, err := o.resolveBulk(ctx, []int64{userID}, groupID)
	if err != nil {
		return nil, err
	}
	set := sets[userID]

	decisions := make(map[string]bool, len(normalized))
	for _, code := range normalized {
		decisions[code] = resolver.HasPermission(set, code)
	}
	o.putDecisions(ctx, key, decisions)

	o.auditor.Record(ctx, audit.Entry{
		Action:  audit.ActionBulkChecked,
		ActorID: userID,
		Success: true,
		Meta:    map[string]any{"codes": len(codes)},
	})
	return remapDecisions(codes, normalized, decisions), nil
}

func remapDecisions(codes, normalized []string, decisions map[string]bool) map[string]bool {
	out := make(map[string]bool, len(codes))
	for i, code := range codes {
		out[code] = decisions[normalized[i]]
	}
	return out
}

// ResolveMany computes effective sets for many users with one bulk read and
// partitions the rows back per user in memory. Every requested user gets an
// entry, possibly empty.
func (o *Optimizer) ResolveMany(ctx context.Context, userIDs []int64, groupID *int64) (map[int64]resolver.Set, error) {
	if len(userIDs) == 0 {
		return map[int64]resolver.Set{}, nil
	}
	if len(userIDs) > o.maxUsers {
		return nil, fmt.Errorf("%w: %d users, bound %d", ErrBatchTooLarge, len(userIDs), o.maxUsers)
	}
	return o.resolveBulk(ctx, dedupe(userIDs), groupID)
}

// Preload forces resolution and caching for the given users, typically after
// a large role-permission change. A cache-write failure for one user is
// logged and does not abort the rest of the batch.
func (o *Optimizer) Preload(ctx context.Context, userIDs []int64, groupID *int64) error {
	sets, err := o.ResolveMany(ctx, userIDs, groupID)
	if err != nil {
		return err
	}
	warmed := 0
	for userID, set := range sets {
		if err := o.cache.Set(ctx, permcache.Key(permcache.ActorUser, userID, groupID), set, permcache.ActorUser); err != nil {
			if o.logger != nil {
				o.logger.Warn("batch: preload user", slog.Int64("user_id", userID), slog.Any("error", err))
			}
			continue
		}
		warmed++
	}
	o.auditor.Record(ctx, audit.Entry{
		Action:  audit.ActionBulkPreloaded,
		Success: true,
		Meta:    map[string]any{"requested": len(userIDs), "warmed": warmed},
	})
	return nil
}

func (o *Optimizer) resolveBulk(ctx context.Context, userIDs []int64, groupID *int64) (map[int64]resolver.Set, error) {
	roleRows, err := o.repo.BulkRoleGrants(ctx, userIDs, groupID, o.now())
	if err != nil {
		return nil, fmt.Errorf("batch: bulk role grants: %w", err)
	}
	userRows, err := o.repo.BulkUserGrants(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("batch: bulk user grants: %w", err)
	}

	sets := make(map[int64]resolver.Set, len(userIDs))
	for _, id := range userIDs {
		sets[id] = make(resolver.Set)
	}
	for _, row := range roleRows {
		set, ok := sets[row.UserID]
		if !ok {
			continue
		}
		grant, err := wildcard.ParseGrant(row.Value)
		if err != nil {
			o.warnMalformed(row.UserID, row.Value)
			continue
		}
		set.Add(grant.Value)
	}

	var denies []BulkUserGrantRow
	for _, row := range userRows {
		set, ok := sets[row.UserID]
		if !ok {
			continue
		}
		grant, err := wildcard.ParseGrant(row.Value)
		if err != nil {
			o.warnMalformed(row.UserID, row.Value)
			continue
		}
		switch resolver.GrantType(row.GrantType) {
		case resolver.TypeGrant:
			set.Add(grant.Value)
		case resolver.TypeDeny:
			denies = append(denies, row)
		}
	}
	// Denies strictly after every grant path.
	for _, row := range denies {
		if wildcard.IsPattern(row.Value) {
			o.warnMalformed(row.UserID, row.Value)
			continue
		}
		sets[row.UserID].Remove(row.Value)
	}
	return sets, nil
}

// decisionKey digests the sorted, truncated inputs to a fixed-size key.
func (o *Optimizer) decisionKey(userID int64, codes []string, groupID *int64) string {
	normalized := make([]string, 0, len(codes))
	for _, c := range codes {
		normalized = append(normalized, wildcard.Normalize(c))
	}
	sort.Strings(normalized)
	if len(normalized) > keyInputBound {
		normalized = normalized[:keyInputBound]
	}

	h, _ := blake2b.New(16, nil)
	fmt.Fprintf(h, "u%d|", userID)
	if groupID != nil {
		fmt.Fprintf(h, "g%d|", *groupID)
	}
	for _, c := range normalized {
		h.Write([]byte(c))
		h.Write([]byte{0})
	}
	return DecisionKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

func (o *Optimizer) getDecisions(ctx context.Context, key string) (map[string]bool, bool) {
	if o.client == nil {
		return nil, false
	}
	payload, err := o.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		if o.logger != nil {
			o.logger.Warn("batch: read decision cache", slog.String("key", key), slog.Any("error", err))
		}
		return nil, false
	}
	var decisions map[string]bool
	if err := json.Unmarshal(payload, &decisions); err != nil {
		return nil, false
	}
	return decisions, true
}

func (o *Optimizer) putDecisions(ctx context.Context, key string, decisions map[string]bool) {
	if o.client == nil || ctx.Err() != nil {
		return
	}
	payload, err := json.Marshal(decisions)
	if err != nil {
		return
	}
	if err := o.client.Set(ctx, key, payload, decisionTTL).Err(); err != nil && o.logger != nil {
		o.logger.Warn("batch: store decision cache", slog.String("key", key), slog.Any("error", err))
	}
}

func (o *Optimizer) warnMalformed(userID int64, value string) {
	if o.logger != nil {
		o.logger.Warn("batch: skipping malformed grant value",
			slog.Int64("user_id", userID),
			slog.String("value", value))
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
