package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sentra-iam/sentra/internal/audit"
	"github.com/sentra-iam/sentra/internal/authz"
	"github.com/sentra-iam/sentra/internal/batch"
	"github.com/sentra-iam/sentra/internal/catalog"
	"github.com/sentra-iam/sentra/jobs"
)

// ErrUnknownCommand indicates an unrecognized admin subcommand.
var ErrUnknownCommand = errors.New("cli: unknown command")

// AdminCLI exposes the engine's administrative operations as subcommands. The
// engine carries no domain HTTP surface; this is how operators grant, revoke
// and inspect directly against the store.
type AdminCLI struct {
	Authz     *authz.Service
	Catalog   *catalog.Service
	Audit     *audit.Service
	Optimizer *batch.Optimizer
	Jobs      *jobs.Client
	Out       io.Writer
}

// Usage describes the available subcommands.
const Usage = `admin commands:
  check               -user -perm [-group]
  check-many          -user -perms code,code,... [-group]
  grant-role          -role -perm -actor [-group]
  revoke-role         -role -perm -actor
  grant-user          -user -perm -actor
  deny-user           -user -perm -actor
  revoke-user         -user -perm -actor
  move-role           -role -actor [-parent]
  ensure-permission   -code [-category]
  deactivate-permission -code
  audit-stats         [-days]
  enqueue-warmup      [-group] [-chunk]
  enqueue-audit-cleanup`

// Run dispatches one admin subcommand.
func (c *AdminCLI) Run(ctx context.Context, command string, args []string) error {
	switch command {
	case "check":
		return c.check(ctx, args)
	case "check-many":
		return c.checkMany(ctx, args)
	case "grant-role":
		return c.grantRole(ctx, args)
	case "revoke-role":
		return c.revokeRole(ctx, args)
	case "grant-user":
		return c.grantUser(ctx, args)
	case "deny-user":
		return c.denyUser(ctx, args)
	case "revoke-user":
		return c.revokeUser(ctx, args)
	case "move-role":
		return c.moveRole(ctx, args)
	case "ensure-permission":
		return c.ensurePermission(ctx, args)
	case "deactivate-permission":
		return c.deactivatePermission(ctx, args)
	case "audit-stats":
		return c.auditStats(ctx, args)
	case "enqueue-warmup":
		return c.enqueueWarmup(ctx, args)
	case "enqueue-audit-cleanup":
		return c.enqueueAuditCleanup(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func (c *AdminCLI) check(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	user := fs.Int64("user", 0, "user id")
	perm := fs.String("perm", "", "permission code")
	group := fs.Int64("group", 0, "group scope (0 = unscoped)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.Authz.IsAllowed(ctx, *user, *perm, optionalID(*group)) {
		fmt.Fprintln(c.Out, "allowed")
	} else {
		fmt.Fprintln(c.Out, "denied")
	}
	return nil
}

func (c *AdminCLI) checkMany(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check-many", flag.ContinueOnError)
	user := fs.Int64("user", 0, "user id")
	perms := fs.String("perms", "", "comma-separated permission codes")
	group := fs.Int64("group", 0, "group scope (0 = unscoped)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	codes := splitCodes(*perms)
	decisions, err := c.Optimizer.CheckMany(ctx, *user, codes, optionalID(*group))
	if err != nil {
		return err
	}
	for _, code := range codes {
		verdict := "denied"
		if decisions[code] {
			verdict = "allowed"
		}
		fmt.Fprintf(c.Out, "%s\t%s\n", code, verdict)
	}
	return nil
}

func (c *AdminCLI) grantRole(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("grant-role", flag.ContinueOnError)
	role := fs.Int64("role", 0, "role id")
	perm := fs.String("perm", "", "permission code or pattern")
	actor := fs.Int64("actor", 0, "acting user id")
	group := fs.Int64("group", 0, "group scope (0 = unscoped)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.Authz.GrantToRole(ctx, authz.GrantRoleRequest{
		RoleID:     *role,
		Permission: *perm,
		GroupID:    optionalID(*group),
		ActorID:    *actor,
	}); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "granted %s to role %d\n", *perm, *role)
	return nil
}

func (c *AdminCLI) revokeRole(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke-role", flag.ContinueOnError)
	role := fs.Int64("role", 0, "role id")
	perm := fs.String("perm", "", "permission code or pattern")
	actor := fs.Int64("actor", 0, "acting user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.Authz.RevokeFromRole(ctx, authz.RevokeRoleRequest{
		RoleID:     *role,
		Permission: *perm,
		ActorID:    *actor,
	}); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "revoked %s from role %d\n", *perm, *role)
	return nil
}

func (c *AdminCLI) grantUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("grant-user", flag.ContinueOnError)
	user := fs.Int64("user", 0, "user id")
	perm := fs.String("perm", "", "permission code or pattern")
	actor := fs.Int64("actor", 0, "acting user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.Authz.GrantToUser(ctx, authz.GrantUserRequest{
		UserID:     *user,
		Permission: *perm,
		ActorID:    *actor,
	}); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "granted %s to user %d\n", *perm, *user)
	return nil
}

func (c *AdminCLI) denyUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("deny-user", flag.ContinueOnError)
	user := fs.Int64("user", 0, "user id")
	perm := fs.String("perm", "", "concrete permission code")
	actor := fs.Int64("actor", 0, "acting user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.Authz.DenyUser(ctx, authz.DenyUserRequest{
		UserID:     *user,
		Permission: *perm,
		ActorID:    *actor,
	}); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "denied %s for user %d\n", *perm, *user)
	return nil
}

func (c *AdminCLI) revokeUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke-user", flag.ContinueOnError)
	user := fs.Int64("user", 0, "user id")
	perm := fs.String("perm", "", "permission code or pattern")
	actor := fs.Int64("actor", 0, "acting user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.Authz.RevokeFromUser(ctx, authz.RevokeUserRequest{
		UserID:     *user,
		Permission: *perm,
		ActorID:    *actor,
	}); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "revoked %s from user %d\n", *perm, *user)
	return nil
}

func (c *AdminCLI) moveRole(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("move-role", flag.ContinueOnError)
	role := fs.Int64("role", 0, "role id")
	parent := fs.Int64("parent", 0, "new parent role id (0 = detach to root)")
	actor := fs.Int64("actor", 0, "acting user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.Authz.MoveRole(ctx, authz.MoveRoleRequest{
		RoleID:      *role,
		NewParentID: optionalID(*parent),
		ActorID:     *actor,
	}); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "moved role %d\n", *role)
	return nil
}

func (c *AdminCLI) ensurePermission(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ensure-permission", flag.ContinueOnError)
	code := fs.String("code", "", "Service.Resource.Action code")
	category := fs.String("category", "", "catalog category")
	if err := fs.Parse(args); err != nil {
		return err
	}
	perm, err := c.Catalog.Ensure(ctx, *code, *category)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "permission %s (id %d)\n", perm.Code, perm.ID)
	return nil
}

func (c *AdminCLI) deactivatePermission(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("deactivate-permission", flag.ContinueOnError)
	code := fs.String("code", "", "Service.Resource.Action code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.Catalog.Deactivate(ctx, *code); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "deactivated %s\n", *code)
	return nil
}

func (c *AdminCLI) auditStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit-stats", flag.ContinueOnError)
	days := fs.Int("days", 7, "window size in days, ending now")
	if err := fs.Parse(args); err != nil {
		return err
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -*days)
	stats, err := c.Audit.Statistics(ctx, from, to)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "checked=%d allowed=%d denied=%d granted=%d revoked=%d success=%.2f\n",
		stats.Checked, stats.Allowed, stats.Denied, stats.Granted, stats.Revoked, stats.SuccessRatio)
	for _, cc := range stats.TopCodes {
		fmt.Fprintf(c.Out, "%s\t%d\n", cc.Code, cc.Count)
	}
	return nil
}

// enqueueWarmup schedules a cache warmup pass, typically after a grant change
// touching many users.
func (c *AdminCLI) enqueueWarmup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("enqueue-warmup", flag.ContinueOnError)
	group := fs.Int64("group", 0, "group scope (0 = unscoped)")
	chunk := fs.Int("chunk", 0, "users per bulk resolution (0 = default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.Jobs == nil {
		return errors.New("cli: jobs client not configured")
	}
	info, err := c.Jobs.EnqueueCacheWarmup(ctx, jobs.CacheWarmupPayload{
		GroupID:   optionalID(*group),
		ChunkSize: *chunk,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "enqueued %s (%s)\n", info.Type, info.ID)
	return nil
}

func (c *AdminCLI) enqueueAuditCleanup(ctx context.Context) error {
	if c.Jobs == nil {
		return errors.New("cli: jobs client not configured")
	}
	info, err := c.Jobs.EnqueueAuditCleanup(ctx, jobs.AuditCleanupPayload{})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "enqueued %s (%s)\n", info.Type, info.ID)
	return nil
}

func optionalID(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}

func splitCodes(raw string) []string {
	parts := strings.Split(raw, ",")
	codes := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		codes = append(codes, p)
	}
	return codes
}
