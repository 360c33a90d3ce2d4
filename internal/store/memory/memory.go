// Package memory implements the gatehouse stores in process memory. It backs
// single-node development runs and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gatehouse.dev/internal/auth"
)

// Store implements auth.PermissionStore and auth.CredentialStore with
// in-process concurrency safety.
type Store struct {
	mu      sync.RWMutex
	seq     int64
	perms   map[int64]*auth.Permission
	codes   map[string]int64
	edges   map[int64][]int64 // role id -> permission ids
	users   map[string]auth.Identity
	nowFunc func() time.Time
}

var (
	_ auth.PermissionStore = (*Store)(nil)
	_ auth.CredentialStore = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		perms:   make(map[int64]*auth.Permission),
		codes:   make(map[string]int64),
		edges:   make(map[int64][]int64),
		users:   make(map[string]auth.Identity),
		nowFunc: time.Now,
	}
}

// WithClock replaces the timestamp source and returns s.
func (s *Store) WithClock(fn func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = fn
	return s
}

// AddIdentity registers a login identity.
func (s *Store) AddIdentity(id auth.Identity) error {
	name := strings.TrimSpace(id.Username)
	if name == "" {
		return fmt.Errorf("%w: username is required", auth.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[name]; ok {
		return fmt.Errorf("%w: username %s", auth.ErrCodeConflict, name)
	}
	id.Username = name
	s.users[name] = id
	return nil
}

func (s *Store) FindByUsername(_ context.Context, username string) (auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.users[username]
	if !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	return id, nil
}

func (s *Store) CreatePermission(_ context.Context, p auth.Permission) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[p.Code]; ok {
		return auth.Permission{}, fmt.Errorf("%w: %s", auth.ErrCodeConflict, p.Code)
	}
	s.seq++
	now := s.nowFunc().UTC()
	p.ID = s.seq
	p.Deleted = false
	p.CreatedAt = now
	p.UpdatedAt = now
	stored := p
	s.perms[p.ID] = &stored
	s.codes[p.Code] = p.ID
	return p, nil
}

func (s *Store) UpdatePermission(_ context.Context, id int64, upd auth.PermissionUpdate) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.live(id)
	if !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.ParentID != nil {
		p.ParentID = *upd.ParentID
	}
	if upd.Path != nil {
		p.Path = *upd.Path
	}
	if upd.Icon != nil {
		p.Icon = *upd.Icon
	}
	if upd.SortOrder != nil {
		p.SortOrder = *upd.SortOrder
	}
	if upd.Enabled != nil {
		p.Enabled = *upd.Enabled
	}
	p.UpdatedAt = s.nowFunc().UTC()
	return *p, nil
}

func (s *Store) SetPermissionEnabled(_ context.Context, id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.live(id)
	if !ok {
		return auth.ErrNotFound
	}
	p.Enabled = enabled
	p.UpdatedAt = s.nowFunc().UTC()
	return nil
}

func (s *Store) DeletePermissions(_ context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := s.nowFunc().UTC()
	for _, id := range ids {
		p, ok := s.live(id)
		if !ok {
			continue
		}
		p.Deleted = true
		p.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *Store) GetPermission(_ context.Context, id int64) (auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.live(id)
	if !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	return *p, nil
}

func (s *Store) GetPermissionByCode(_ context.Context, code string) (auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	if !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	p, ok := s.live(id)
	if !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	return *p, nil
}

func (s *Store) CodeExists(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.codes[code]
	return ok, nil
}

func (s *Store) ListPermissions(_ context.Context, filter auth.PermissionFilter) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Permission, 0, len(s.perms))
	for _, p := range s.perms {
		if p.Deleted {
			continue
		}
		if filter.Kind != "" && p.Kind != filter.Kind {
			continue
		}
		if filter.EnabledOnly && !p.Enabled {
			continue
		}
		out = append(out, *p)
	}
	// map order is random; settle ties by id before the stable sort
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	auth.SortPermissions(out)
	return out, nil
}

// SetRolePermissions swaps the whole edge set under the write lock, so no
// reader sees a partial assignment.
func (s *Store) SetRolePermissions(_ context.Context, roleID int64, permissionIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(permissionIDs) == 0 {
		delete(s.edges, roleID)
		return nil
	}
	for _, id := range permissionIDs {
		if _, ok := s.perms[id]; !ok {
			return fmt.Errorf("%w: permission %d", auth.ErrNotFound, id)
		}
	}
	s.edges[roleID] = append([]int64(nil), permissionIDs...)
	return nil
}

func (s *Store) RolePermissions(_ context.Context, roleIDs []int64) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]struct{})
	var out []auth.Permission
	for _, roleID := range roleIDs {
		for _, id := range s.edges[roleID] {
			if _, ok := seen[id]; ok {
				continue
			}
			p, ok := s.live(id)
			if !ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	auth.SortPermissions(out)
	return out, nil
}

func (s *Store) RolePermissionIDs(_ context.Context, roleID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int64{}, s.edges[roleID]...), nil
}

func (s *Store) live(id int64) (*auth.Permission, bool) {
	p, ok := s.perms[id]
	if !ok || p.Deleted {
		return nil, false
	}
	return p, true
}
