package batch

import "errors"

// ErrBatchTooLarge indicates an input set above the configured fan-out bound.
// The bound protects the store from unbounded bulk queries; exceeding it is a
// caller error, never a silent truncation.
var ErrBatchTooLarge = errors.New("batch: input exceeds configured bound")

// BulkRoleGrantRow is one (user, permission value) pair produced by the bulk
// membership × role-permission join. Value is a concrete code or a pattern.
type BulkRoleGrantRow struct {
	UserID int64
	Value  string
}

// BulkUserGrantRow is one direct user grant or deny from the bulk read.
type BulkUserGrantRow struct {
	UserID    int64
	Value     string
	GrantType string
}
