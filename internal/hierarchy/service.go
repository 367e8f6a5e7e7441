package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
)

// RepositoryPort defines data access methods for the role tree.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Role, error)
	ChildrenOf(ctx context.Context, id int64) ([]Role, error)
	Rebase(ctx context.Context, roleID int64, parentID *int64, updates []DerivedUpdate) error
}

// Service maintains the role hierarchy and its denormalized level/path fields.
type Service struct {
	repo   RepositoryPort
	locks  *subtreeLocks
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, locks: newSubtreeLocks(), logger: logger}
}

// Get fetches a role by ID.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	return s.repo.Get(ctx, id)
}

// SetParent moves a role under a new parent (nil detaches it to a root) and
// synchronously rebuilds level and path for the moved role and every
// descendant. Both affected trees are locked for the duration so concurrent
// moves over overlapping subtrees cannot interleave their rebuilds.
func (s *Service) SetParent(ctx context.Context, roleID int64, newParentID *int64) error {
	if newParentID != nil && *newParentID == roleID {
		return ErrCycleDetected
	}

	release, err := s.lockAffectedRoots(ctx, roleID, newParentID)
	if err != nil {
		return err
	}
	defer release()

	role, err := s.repo.Get(ctx, roleID)
	if err != nil {
		return err
	}
	var parent *Role
	if newParentID != nil {
		p, err := s.repo.Get(ctx, *newParentID)
		if err != nil {
			return fmt.Errorf("hierarchy: load new parent: %w", err)
		}
		parent = &p
		descendant, err := s.isDescendant(ctx, roleID, *newParentID)
		if err != nil {
			return err
		}
		if descendant {
			return ErrCycleDetected
		}
	}

	level := 0
	path := "/" + role.Name
	if parent != nil {
		level = parent.Level + 1
		path = parent.Path + "/" + role.Name
	}
	updates := []DerivedUpdate{{RoleID: roleID, Level: level, Path: path}}
	updates, err = s.appendSubtreeUpdates(ctx, roleID, level, path, updates, map[int64]struct{}{roleID: {}})
	if err != nil {
		return err
	}
	if err := s.repo.Rebase(ctx, roleID, newParentID, updates); err != nil {
		return fmt.Errorf("hierarchy: rebase role %d: %w", roleID, err)
	}
	if s.logger != nil {
		s.logger.Info("role moved",
			slog.Int64("role_id", roleID),
			slog.String("path", path),
			slog.Int("subtree_size", len(updates)))
	}
	return nil
}

// Children returns direct or transitive children of a role. The walk keeps a
// visited set so hierarchy data edited out-of-band cannot loop it.
func (s *Service) Children(ctx context.Context, roleID int64, recursive bool) ([]Role, error) {
	if _, err := s.repo.Get(ctx, roleID); err != nil {
		return nil, err
	}
	direct, err := s.repo.ChildrenOf(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !recursive {
		return direct, nil
	}
	visited := map[int64]struct{}{roleID: {}}
	var all []Role
	queue := direct
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, seen := visited[next.ID]; seen {
			if s.logger != nil {
				s.logger.Warn("cycle encountered in role tree walk", slog.Int64("role_id", next.ID))
			}
			continue
		}
		visited[next.ID] = struct{}{}
		all = append(all, next)
		children, err := s.repo.ChildrenOf(ctx, next.ID)
		if err != nil {
			return nil, err
		}
		queue = append(queue, children...)
	}
	return all, nil
}

// Ancestors walks the parent chain and returns it ordered from the root down
// to the immediate parent.
func (s *Service) Ancestors(ctx context.Context, roleID int64) ([]Role, error) {
	role, err := s.repo.Get(ctx, roleID)
	if err != nil {
		return nil, err
	}
	visited := map[int64]struct{}{role.ID: {}}
	var chain []Role
	for role.ParentID != nil {
		parent, err := s.repo.Get(ctx, *role.ParentID)
		if err != nil {
			return nil, err
		}
		if _, seen := visited[parent.ID]; seen {
			if s.logger != nil {
				s.logger.Warn("cycle encountered in ancestor walk", slog.Int64("role_id", parent.ID))
			}
			break
		}
		visited[parent.ID] = struct{}{}
		chain = append([]Role{parent}, chain...)
		role = parent
	}
	return chain, nil
}

// CanManage reports whether the manager role has authority over the target
// role: closer to the root always wins, equal depth falls back to priority.
func (s *Service) CanManage(ctx context.Context, managerID, targetID int64) (bool, error) {
	manager, err := s.repo.Get(ctx, managerID)
	if err != nil {
		return false, err
	}
	target, err := s.repo.Get(ctx, targetID)
	if err != nil {
		return false, err
	}
	return CanManage(manager, target), nil
}

// EffectivePriority returns the role's priority adjusted by its depth bonus.
func (s *Service) EffectivePriority(ctx context.Context, roleID int64) (int, error) {
	role, err := s.repo.Get(ctx, roleID)
	if err != nil {
		return 0, err
	}
	return EffectivePriority(role), nil
}

// lockAffectedRoots locks the roots of the trees a move touches. Roots are
// discovered before the locks are held, so a concurrent move can shift them in
// between; re-derive after acquiring and retry until the held locks still
// cover the affected trees.
func (s *Service) lockAffectedRoots(ctx context.Context, roleID int64, newParentID *int64) (func(), error) {
	for {
		rootIDs, err := s.affectedRoots(ctx, roleID, newParentID)
		if err != nil {
			return nil, err
		}
		release := s.locks.acquire(rootIDs...)
		current, err := s.affectedRoots(ctx, roleID, newParentID)
		if err != nil {
			release()
			return nil, err
		}
		if sameRoots(rootIDs, current) {
			return release, nil
		}
		release()
	}
}

func (s *Service) affectedRoots(ctx context.Context, roleID int64, newParentID *int64) ([]int64, error) {
	role, err := s.repo.Get(ctx, roleID)
	if err != nil {
		return nil, err
	}
	oldRoot, err := s.rootOf(ctx, role)
	if err != nil {
		return nil, err
	}
	rootIDs := []int64{oldRoot}
	if newParentID != nil {
		parent, err := s.repo.Get(ctx, *newParentID)
		if err != nil {
			return nil, fmt.Errorf("hierarchy: load new parent: %w", err)
		}
		newRoot, err := s.rootOf(ctx, parent)
		if err != nil {
			return nil, err
		}
		rootIDs = append(rootIDs, newRoot)
	}
	return rootIDs, nil
}

func sameRoots(a, b []int64) bool {
	seen := make(map[int64]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			return false
		}
	}
	rev := make(map[int64]struct{}, len(b))
	for _, id := range b {
		rev[id] = struct{}{}
	}
	for _, id := range a {
		if _, ok := rev[id]; !ok {
			return false
		}
	}
	return true
}

func (s *Service) rootOf(ctx context.Context, role Role) (int64, error) {
	visited := map[int64]struct{}{role.ID: {}}
	for role.ParentID != nil {
		parent, err := s.repo.Get(ctx, *role.ParentID)
		if err != nil {
			return 0, err
		}
		if _, seen := visited[parent.ID]; seen {
			break
		}
		visited[parent.ID] = struct{}{}
		role = parent
	}
	return role.ID, nil
}

func (s *Service) isDescendant(ctx context.Context, ancestorID, candidateID int64) (bool, error) {
	visited := map[int64]struct{}{ancestorID: {}}
	queue := []int64{ancestorID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := s.repo.ChildrenOf(ctx, current)
		if err != nil {
			return false, err
		}
		for _, child := range children {
			if child.ID == candidateID {
				return true, nil
			}
			if _, seen := visited[child.ID]; seen {
				continue
			}
			visited[child.ID] = struct{}{}
			queue = append(queue, child.ID)
		}
	}
	return false, nil
}

func (s *Service) appendSubtreeUpdates(ctx context.Context, roleID int64, level int, path string, updates []DerivedUpdate, visited map[int64]struct{}) ([]DerivedUpdate, error) {
	children, err := s.repo.ChildrenOf(ctx, roleID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if _, seen := visited[child.ID]; seen {
			continue
		}
		visited[child.ID] = struct{}{}
		childLevel := level + 1
		childPath := path + "/" + child.Name
		updates = append(updates, DerivedUpdate{RoleID: child.ID, Level: childLevel, Path: childPath})
		updates, err = s.appendSubtreeUpdates(ctx, child.ID, childLevel, childPath, updates, visited)
		if err != nil {
			return nil, err
		}
	}
	return updates, nil
}
