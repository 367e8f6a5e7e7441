package hierarchy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTreeRepo struct {
	roles   map[int64]*Role
	rebases int
}

func newStubTreeRepo(roles ...Role) *stubTreeRepo {
	repo := &stubTreeRepo{roles: make(map[int64]*Role, len(roles))}
	for i := range roles {
		r := roles[i]
		repo.roles[r.ID] = &r
	}
	return repo
}

func (s *stubTreeRepo) Get(ctx context.Context, id int64) (Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return *r, nil
}

func (s *stubTreeRepo) ChildrenOf(ctx context.Context, id int64) ([]Role, error) {
	var children []Role
	for _, r := range s.roles {
		if r.ParentID != nil && *r.ParentID == id {
			children = append(children, *r)
		}
	}
	return children, nil
}

func (s *stubTreeRepo) Rebase(ctx context.Context, roleID int64, parentID *int64, updates []DerivedUpdate) error {
	s.rebases++
	s.roles[roleID].ParentID = parentID
	for _, u := range updates {
		s.roles[u.RoleID].Level = u.Level
		s.roles[u.RoleID].Path = u.Path
	}
	return nil
}

func ptr(v int64) *int64 { return &v }

// superAdmin(1) -> admin(2) -> manager(3) -> student(4); guest(5) is a root.
func seedTree() *stubTreeRepo {
	return newStubTreeRepo(
		Role{ID: 1, Name: "SuperAdmin", Level: 0, Path: "/SuperAdmin", Priority: 100, InheritPermissions: true, IsActive: true},
		Role{ID: 2, Name: "Admin", ParentID: ptr(1), Level: 1, Path: "/SuperAdmin/Admin", Priority: 80, InheritPermissions: true, IsActive: true},
		Role{ID: 3, Name: "Manager", ParentID: ptr(2), Level: 2, Path: "/SuperAdmin/Admin/Manager", Priority: 60, InheritPermissions: true, IsActive: true},
		Role{ID: 4, Name: "Student", ParentID: ptr(3), Level: 3, Path: "/SuperAdmin/Admin/Manager/Student", Priority: 40, InheritPermissions: true, IsActive: true},
		Role{ID: 5, Name: "Guest", Level: 0, Path: "/Guest", Priority: 10, InheritPermissions: false, IsActive: true},
	)
}

func TestSetParentRebuildsSubtree(t *testing.T) {
	repo := seedTree()
	svc := NewService(repo, nil)

	// Move Manager (and its subtree) under Guest.
	require.NoError(t, svc.SetParent(context.Background(), 3, ptr(5)))

	manager := repo.roles[3]
	assert.Equal(t, 1, manager.Level)
	assert.Equal(t, "/Guest/Manager", manager.Path)

	student := repo.roles[4]
	assert.Equal(t, 2, student.Level)
	assert.Equal(t, "/Guest/Manager/Student", student.Path)
}

func TestSetParentDetachToRoot(t *testing.T) {
	repo := seedTree()
	svc := NewService(repo, nil)

	require.NoError(t, svc.SetParent(context.Background(), 2, nil))

	admin := repo.roles[2]
	assert.Nil(t, admin.ParentID)
	assert.Equal(t, 0, admin.Level)
	assert.Equal(t, "/Admin", admin.Path)
	assert.Equal(t, 1, repo.roles[3].Level)
	assert.Equal(t, "/Admin/Manager", repo.roles[3].Path)
}

// trackingTreeRepo counts Gets of one role and lets a test mutate the tree
// mid-flight, simulating a concurrent move landing between root discovery and
// lock acquisition.
type trackingTreeRepo struct {
	*stubTreeRepo
	trackID int64
	gets    int
	onGet   func(gets int)
}

func (r *trackingTreeRepo) Get(ctx context.Context, id int64) (Role, error) {
	if id == r.trackID {
		r.gets++
		if r.onGet != nil {
			r.onGet(r.gets)
		}
	}
	return r.stubTreeRepo.Get(ctx, id)
}

func TestSetParentRederivesRootsAfterLocking(t *testing.T) {
	inner := seedTree()
	repo := &trackingTreeRepo{stubTreeRepo: inner, trackID: 3}
	repo.onGet = func(gets int) {
		// Admin detaches to its own root while the first root derivation is
		// being verified, so Manager's root shifts from SuperAdmin to Admin.
		if gets == 2 {
			inner.roles[2].ParentID = nil
		}
	}
	svc := NewService(repo, nil)

	require.NoError(t, svc.SetParent(context.Background(), 3, ptr(5)))

	// The shifted root forces a release-and-retry: two derivations before the
	// mutation, a fresh pair after it, then the locked re-read.
	assert.GreaterOrEqual(t, repo.gets, 5)

	manager := inner.roles[3]
	assert.Equal(t, 1, manager.Level)
	assert.Equal(t, "/Guest/Manager", manager.Path)
	assert.Equal(t, 2, inner.roles[4].Level)
	assert.Equal(t, "/Guest/Manager/Student", inner.roles[4].Path)
}

func TestSetParentRejectsCycles(t *testing.T) {
	repo := seedTree()
	svc := NewService(repo, nil)

	// Student is a descendant of Manager.
	err := svc.SetParent(context.Background(), 3, ptr(4))
	assert.ErrorIs(t, err, ErrCycleDetected)
	assert.Zero(t, repo.rebases)
	assert.Equal(t, 2, repo.roles[3].Level)
	assert.Equal(t, "/SuperAdmin/Admin/Manager/Student", repo.roles[4].Path)

	err = svc.SetParent(context.Background(), 3, ptr(3))
	assert.ErrorIs(t, err, ErrCycleDetected)
	assert.Zero(t, repo.rebases)
}

func TestSetParentUnknownRole(t *testing.T) {
	repo := seedTree()
	svc := NewService(repo, nil)

	assert.ErrorIs(t, svc.SetParent(context.Background(), 99, ptr(1)), ErrNotFound)
	assert.ErrorIs(t, svc.SetParent(context.Background(), 4, ptr(99)), ErrNotFound)
}

func TestChildren(t *testing.T) {
	repo := seedTree()
	svc := NewService(repo, nil)

	direct, err := svc.Children(context.Background(), 1, false)
	require.NoError(t, err)
	require.Len(t, direct, 1)
	assert.Equal(t, int64(2), direct[0].ID)

	all, err := svc.Children(context.Background(), 1, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestChildrenSurvivesOutOfBandCycle(t *testing.T) {
	repo := seedTree()
	// Corrupt the data: SuperAdmin's parent becomes Student.
	repo.roles[1].ParentID = ptr(4)
	svc := NewService(repo, nil)

	all, err := svc.Children(context.Background(), 1, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAncestorsRootFirst(t *testing.T) {
	repo := seedTree()
	svc := NewService(repo, nil)

	chain, err := svc.Ancestors(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, "SuperAdmin", chain[0].Name)
	assert.Equal(t, "Admin", chain[1].Name)
	assert.Equal(t, "Manager", chain[2].Name)

	chain, err = svc.Ancestors(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestLevelAndPathInvariant(t *testing.T) {
	repo := seedTree()
	svc := NewService(repo, nil)
	require.NoError(t, svc.SetParent(context.Background(), 3, ptr(5)))

	for _, r := range repo.roles {
		if r.ParentID == nil {
			assert.Equal(t, 0, r.Level)
			continue
		}
		parent := repo.roles[*r.ParentID]
		assert.Equal(t, parent.Level+1, r.Level, "role %s", r.Name)
		assert.Equal(t, parent.Path+"/"+r.Name, r.Path, "role %s", r.Name)
	}
}

func TestCanManage(t *testing.T) {
	repo := newStubTreeRepo(
		Role{ID: 1, Name: "Admin", Level: 1, Priority: 50},
		Role{ID: 2, Name: "Manager", Level: 2, Priority: 90},
		Role{ID: 3, Name: "Lead", Level: 2, Priority: 60},
	)
	svc := NewService(repo, nil)

	ok, err := svc.CanManage(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, ok, "lower level outranks higher priority")

	ok, err = svc.CanManage(context.Background(), 2, 3)
	require.NoError(t, err)
	assert.True(t, ok, "same level, higher priority wins")

	ok, err = svc.CanManage(context.Background(), 3, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.CanManage(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEffectivePriority(t *testing.T) {
	assert.Equal(t, 150, EffectivePriority(Role{Priority: 50, Level: 0}))
	assert.Equal(t, 120, EffectivePriority(Role{Priority: 50, Level: 3}))
	assert.Equal(t, 50, EffectivePriority(Role{Priority: 50, Level: 12}))
}
