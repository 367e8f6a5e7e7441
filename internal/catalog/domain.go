package catalog

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates that the requested permission does not exist.
	ErrNotFound = errors.New("catalog: permission not found")
	// ErrCodeExists indicates a duplicate permission code.
	ErrCodeExists = errors.New("catalog: permission code already exists")
	// ErrInvalidCode indicates a code that is not Service.Resource.Action shaped.
	ErrInvalidCode = errors.New("catalog: invalid permission code")
)

// Permission is a catalog entry describing one concrete capability. Entries
// are seeded administratively and never mutated by the authorization engine.
type Permission struct {
	ID        int64
	Code      string
	Service   string
	Resource  string
	Action    string
	Category  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SplitCode decomposes a Service.Resource.Action code into its parts.
func SplitCode(code string) (service, resource, action string, err error) {
	code = strings.TrimSpace(code)
	parts := strings.Split(code, ".")
	if len(parts) != 3 {
		return "", "", "", ErrInvalidCode
	}
	for _, p := range parts {
		if p == "" || strings.Contains(p, "*") {
			return "", "", "", ErrInvalidCode
		}
	}
	return parts[0], parts[1], parts[2], nil
}
