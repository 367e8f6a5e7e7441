package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action identifies what kind of event an entry records.
type Action string

const (
	// ActionChecked is a single permission decision; Success carries the outcome.
	ActionChecked Action = "PERMISSION_CHECKED"
	// ActionGranted records a grant to a role or user.
	ActionGranted Action = "PERMISSION_GRANTED"
	// ActionRevoked records a revocation from a role or user.
	ActionRevoked Action = "PERMISSION_REVOKED"
	// ActionDenySet records a direct deny placed on a user.
	ActionDenySet Action = "PERMISSION_DENY_SET"
	// ActionRoleMoved records a parent reassignment in the role tree.
	ActionRoleMoved Action = "ROLE_MOVED"
	// ActionBulkChecked is a batch permission evaluation.
	ActionBulkChecked Action = "BULK_CHECKED"
	// ActionBulkPreloaded is a proactive cache warmup pass.
	ActionBulkPreloaded Action = "BULK_PRELOADED"
)

// Entry is one immutable audit record. Created once, deleted only by
// retention cleanup.
type Entry struct {
	ID             uuid.UUID
	Action         Action
	PermissionCode string
	ActorID        int64
	TargetUserID   *int64
	TargetRoleID   *int64
	Success        bool
	IP             string
	RequestID      string
	Meta           map[string]any
	OccurredAt     time.Time
	DeleteAfter    time.Time
}

// Filter narrows an audit query. Zero values mean "no constraint";
// SecurityOnly restricts to denials and bulk operations.
type Filter struct {
	UserID         *int64
	RoleID         *int64
	PermissionCode string
	SecurityOnly   bool
	From           time.Time
	To             time.Time
	Page           int
	PageSize       int
}

// PagingInfo describes the page returned by Query.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result wraps a page of entries with paging information.
type Result struct {
	Entries []Entry
	Paging  PagingInfo
}

// Stats aggregates a date window of entries.
type Stats struct {
	Checked      int64
	Allowed      int64
	Denied       int64
	Granted      int64
	Revoked      int64
	TopCodes     []CodeCount
	SuccessRatio float64
}

// CodeCount is one permission code with its event frequency.
type CodeCount struct {
	Code  string
	Count int64
}
