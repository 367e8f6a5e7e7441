package hierarchy

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested role does not exist.
	ErrNotFound = errors.New("hierarchy: role not found")
	// ErrCycleDetected indicates a parent reassignment that would create a cycle.
	ErrCycleDetected = errors.New("hierarchy: cycle detected")
)

// Role is a node in the role tree. Level and Path are denormalized from the
// parent chain and rebuilt synchronously whenever the parent edge changes.
type Role struct {
	ID                 int64
	Name               string
	ParentID           *int64
	Level              int
	Path               string
	Priority           int
	InheritPermissions bool
	GroupID            *int64
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsRoot reports whether the role has no parent.
func (r Role) IsRoot() bool {
	return r.ParentID == nil
}

// Depth bonus added to a role's own priority: roles closer to the root get a
// larger boost, capped so the bonus never goes negative past level 10.
const (
	priorityBonusBase = 100
	priorityBonusStep = 10
)

// EffectivePriority combines the role's own priority with its hierarchy bonus.
// Used to break ties when one actor holds multiple roles at the same level.
func EffectivePriority(r Role) int {
	bonus := priorityBonusBase - r.Level*priorityBonusStep
	if bonus < 0 {
		bonus = 0
	}
	return r.Priority + bonus
}

// CanManage reports whether the manager role outranks the target role: a
// strictly lower level (closer to the root) always wins, and at equal level a
// strictly higher priority does.
func CanManage(manager, target Role) bool {
	if manager.Level < target.Level {
		return true
	}
	return manager.Level == target.Level && manager.Priority > target.Priority
}
