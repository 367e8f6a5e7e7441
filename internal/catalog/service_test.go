package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	perms     map[string]Permission
	nextID    int64
	setActive map[string]bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{perms: make(map[string]Permission), setActive: make(map[string]bool)}
}

func (s *stubRepo) List(ctx context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	return out, nil
}

// The stub keys by lower(code), matching the repository's unique index.
func (s *stubRepo) GetByCode(ctx context.Context, code string) (Permission, error) {
	p, ok := s.perms[strings.ToLower(code)]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

func (s *stubRepo) Upsert(ctx context.Context, p Permission) (Permission, error) {
	key := strings.ToLower(p.Code)
	if existing, ok := s.perms[key]; ok {
		p.ID = existing.ID
	} else {
		s.nextID++
		p.ID = s.nextID
	}
	s.perms[key] = p
	return p, nil
}

func (s *stubRepo) SetActive(ctx context.Context, code string, active bool) error {
	key := strings.ToLower(code)
	if _, ok := s.perms[key]; !ok {
		return ErrNotFound
	}
	s.setActive[key] = active
	return nil
}

type stubFlusher struct {
	flushes int
}

func (s *stubFlusher) FlushAll(ctx context.Context) error {
	s.flushes++
	return nil
}

func TestSplitCode(t *testing.T) {
	service, resource, action, err := SplitCode("Identity.Users.Read")
	require.NoError(t, err)
	assert.Equal(t, "Identity", service)
	assert.Equal(t, "Users", resource)
	assert.Equal(t, "Read", action)

	_, _, _, err = SplitCode("Identity.Users")
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, _, _, err = SplitCode("Identity..Read")
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, _, _, err = SplitCode("Identity.*.Read")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestEnsureDerivesMetadataAndFlushes(t *testing.T) {
	repo := newStubRepo()
	flusher := &stubFlusher{}
	svc := NewService(repo, flusher, nil)

	perm, err := svc.Ensure(context.Background(), "Identity.Users.Read", "core")
	require.NoError(t, err)
	assert.Equal(t, "Identity", perm.Service)
	assert.Equal(t, "Users", perm.Resource)
	assert.Equal(t, "Read", perm.Action)
	assert.True(t, perm.IsActive)
	assert.Equal(t, 1, flusher.flushes)

	_, err = svc.Ensure(context.Background(), "not-a-code", "core")
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.Equal(t, 1, flusher.flushes)
}

func TestEnsureUpsertsCaseInsensitively(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo, nil, nil)

	first, err := svc.Ensure(context.Background(), "Identity.Users.Read", "core")
	require.NoError(t, err)
	second, err := svc.Ensure(context.Background(), "IDENTITY.USERS.READ", "core")
	require.NoError(t, err)

	// One catalog row per code regardless of spelling.
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.perms, 1)
}

func TestDeactivateFlushesWholeCache(t *testing.T) {
	repo := newStubRepo()
	repo.perms["identity.users.read"] = Permission{ID: 1, Code: "Identity.Users.Read", IsActive: true}
	flusher := &stubFlusher{}
	svc := NewService(repo, flusher, nil)

	require.NoError(t, svc.Deactivate(context.Background(), "Identity.Users.Read"))
	assert.False(t, repo.setActive["identity.users.read"])
	assert.Equal(t, 1, flusher.flushes)

	err := svc.Deactivate(context.Background(), "Missing.Code.Here")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, flusher.flushes)
}
