package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// PermissionGraph manages the permission catalog and role assignments.
type PermissionGraph struct {
	store PermissionStore
	log   *zap.Logger
}

// NewPermissionGraph wraps store. A nil logger disables logging.
func NewPermissionGraph(store PermissionStore, logger *zap.Logger) (*PermissionGraph, error) {
	if store == nil {
		return nil, errors.New("permission store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionGraph{store: store, log: logger}, nil
}

func (g *PermissionGraph) Create(ctx context.Context, in NewPermission) (Permission, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return Permission{}, fmt.Errorf("%w: code is required", ErrValidation)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Permission{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	kind, ok := ParseKind(in.Kind)
	if !ok {
		return Permission{}, fmt.Errorf("%w: unsupported type %q", ErrValidation, in.Kind)
	}
	exists, err := g.store.CodeExists(ctx, code)
	if err != nil {
		return Permission{}, err
	}
	if exists {
		return Permission{}, fmt.Errorf("%w: %s", ErrCodeConflict, code)
	}

	p := Permission{
		Code:    code,
		Name:    name,
		Kind:    kind,
		Path:    strings.TrimSpace(in.Path),
		Icon:    strings.TrimSpace(in.Icon),
		Enabled: true,
	}
	if in.ParentID != nil {
		if *in.ParentID < 0 {
			return Permission{}, fmt.Errorf("%w: parent id must not be negative", ErrValidation)
		}
		p.ParentID = *in.ParentID
	}
	if in.SortOrder != nil {
		p.SortOrder = *in.SortOrder
	}
	if in.Enabled != nil {
		p.Enabled = *in.Enabled
	}

	created, err := g.store.CreatePermission(ctx, p)
	if err != nil {
		return Permission{}, err
	}
	g.log.Info("permission created", zap.Int64("id", created.ID), zap.String("code", created.Code))
	return created, nil
}

// Update applies the non-nil fields of upd. Code and kind never change.
func (g *PermissionGraph) Update(ctx context.Context, id int64, upd PermissionUpdate) (Permission, error) {
	if id <= 0 {
		return Permission{}, fmt.Errorf("%w: id must be positive", ErrValidation)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Permission{}, fmt.Errorf("%w: name is required", ErrValidation)
		}
		upd.Name = &name
	}
	if upd.ParentID != nil {
		if *upd.ParentID < 0 {
			return Permission{}, fmt.Errorf("%w: parent id must not be negative", ErrValidation)
		}
		if *upd.ParentID == id {
			return Permission{}, fmt.Errorf("%w: a permission cannot be its own parent", ErrValidation)
		}
	}
	if upd.Path != nil {
		path := strings.TrimSpace(*upd.Path)
		upd.Path = &path
	}
	if upd.Icon != nil {
		icon := strings.TrimSpace(*upd.Icon)
		upd.Icon = &icon
	}
	if upd.Empty() {
		return g.FindByID(ctx, id)
	}
	updated, err := g.store.UpdatePermission(ctx, id, upd)
	if err != nil {
		return Permission{}, err
	}
	g.log.Info("permission updated", zap.Int64("id", id))
	return updated, nil
}

func (g *PermissionGraph) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if id <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrValidation)
	}
	if err := g.store.SetPermissionEnabled(ctx, id, enabled); err != nil {
		return err
	}
	g.log.Info("permission status changed", zap.Int64("id", id), zap.Bool("enabled", enabled))
	return nil
}

// Delete soft-deletes one node.
func (g *PermissionGraph) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrValidation)
	}
	n, err := g.store.DeletePermissions(ctx, []int64{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	g.log.Info("permission deleted", zap.Int64("id", id))
	return nil
}

// DeleteMany soft-deletes every listed node and returns how many changed.
func (g *PermissionGraph) DeleteMany(ctx context.Context, ids []int64) (int64, error) {
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: at least one id is required", ErrValidation)
	}
	n, err := g.store.DeletePermissions(ctx, ids)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	g.log.Info("permissions deleted", zap.Int64s("ids", ids), zap.Int64("affected", n))
	return n, nil
}

func (g *PermissionGraph) ListAll(ctx context.Context) ([]Permission, error) {
	return g.store.ListPermissions(ctx, PermissionFilter{})
}

func (g *PermissionGraph) ListByType(ctx context.Context, kind string) ([]Permission, error) {
	k, ok := ParseKind(kind)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported type %q", ErrValidation, kind)
	}
	return g.store.ListPermissions(ctx, PermissionFilter{Kind: k})
}

func (g *PermissionGraph) ListEnabled(ctx context.Context) ([]Permission, error) {
	return g.store.ListPermissions(ctx, PermissionFilter{EnabledOnly: true})
}

func (g *PermissionGraph) FindByID(ctx context.Context, id int64) (Permission, error) {
	if id <= 0 {
		return Permission{}, fmt.Errorf("%w: id must be positive", ErrValidation)
	}
	return g.store.GetPermission(ctx, id)
}

func (g *PermissionGraph) FindByCode(ctx context.Context, code string) (Permission, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Permission{}, fmt.Errorf("%w: code is required", ErrValidation)
	}
	return g.store.GetPermissionByCode(ctx, code)
}

// CodeAvailable reports whether code can be used by a new node.
func (g *PermissionGraph) CodeAvailable(ctx context.Context, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, fmt.Errorf("%w: code is required", ErrValidation)
	}
	exists, err := g.store.CodeExists(ctx, code)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// Tree returns every live node arranged under the virtual root.
func (g *PermissionGraph) Tree(ctx context.Context) ([]*TreeNode, error) {
	nodes, err := g.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return BuildTree(nodes, 0), nil
}

// AssignToRole replaces the role's permission set. An empty list clears it.
func (g *PermissionGraph) AssignToRole(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if roleID <= 0 {
		return fmt.Errorf("%w: role id must be positive", ErrValidation)
	}
	for _, id := range permissionIDs {
		if id <= 0 {
			return fmt.Errorf("%w: permission ids must be positive", ErrValidation)
		}
	}
	ids := dedupeIDs(permissionIDs)
	if err := g.store.SetRolePermissions(ctx, roleID, ids); err != nil {
		return err
	}
	g.log.Info("role permissions assigned", zap.Int64("role_id", roleID), zap.Int64s("permission_ids", ids))
	return nil
}

func (g *PermissionGraph) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	if roleID <= 0 {
		return nil, fmt.Errorf("%w: role id must be positive", ErrValidation)
	}
	return g.store.RolePermissions(ctx, []int64{roleID})
}

// PermissionsForRoles returns the union of the roles' permissions, each once.
func (g *PermissionGraph) PermissionsForRoles(ctx context.Context, roleIDs []int64) ([]Permission, error) {
	roleIDs = dedupeIDs(roleIDs)
	if len(roleIDs) == 0 {
		return []Permission{}, nil
	}
	perms, err := g.store.RolePermissions(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func (g *PermissionGraph) PermissionIDsForRole(ctx context.Context, roleID int64) ([]int64, error) {
	if roleID <= 0 {
		return nil, fmt.Errorf("%w: role id must be positive", ErrValidation)
	}
	return g.store.RolePermissionIDs(ctx, roleID)
}

func dedupeIDs(values []int64) []int64 {
	if len(values) == 0 {
		return nil
	}
	set := make(map[int64]struct{}, len(values))
	result := make([]int64, 0, len(values))
	for _, v := range values {
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
