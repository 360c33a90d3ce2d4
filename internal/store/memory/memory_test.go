package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gatehouse.dev/internal/auth"
)

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newGraph(t *testing.T) (*auth.PermissionGraph, *Store) {
	t.Helper()
	clock := &tickingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := New().WithClock(clock.Now)
	graph, err := auth.NewPermissionGraph(store, nil)
	if err != nil {
		t.Fatalf("NewPermissionGraph: %v", err)
	}
	return graph, store
}

func intPtr(v int) *int       { return &v }
func idPtr(v int64) *int64    { return &v }
func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }

func mustCreate(t *testing.T, g *auth.PermissionGraph, in auth.NewPermission) auth.Permission {
	t.Helper()
	p, err := g.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create(%s): %v", in.Code, err)
	}
	return p
}

func TestCreateAppliesDefaults(t *testing.T) {
	g, _ := newGraph(t)
	p := mustCreate(t, g, auth.NewPermission{Code: "system", Name: "System", Kind: "menu"})
	if p.ID == 0 {
		t.Fatalf("expected id to be assigned")
	}
	if p.ParentID != 0 || p.SortOrder != 0 || !p.Enabled {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	if p.Kind != auth.KindMenu {
		t.Fatalf("expected kind to be normalised, got %s", p.Kind)
	}
}

func TestCreateDuplicateCodeConflictsEvenAfterDelete(t *testing.T) {
	g, _ := newGraph(t)
	ctx := context.Background()
	p := mustCreate(t, g, auth.NewPermission{Code: "user:create", Name: "Create user", Kind: "BUTTON"})

	if _, err := g.Create(ctx, auth.NewPermission{Code: "user:create", Name: "Again", Kind: "BUTTON"}); !errors.Is(err, auth.ErrCodeConflict) {
		t.Fatalf("expected ErrCodeConflict, got %v", err)
	}
	if err := g.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := g.Create(ctx, auth.NewPermission{Code: "user:create", Name: "Again", Kind: "BUTTON"}); !errors.Is(err, auth.ErrCodeConflict) {
		t.Fatalf("expected deleted code to stay reserved, got %v", err)
	}
	ok, err := g.CodeAvailable(ctx, "user:create")
	if err != nil {
		t.Fatalf("CodeAvailable: %v", err)
	}
	if ok {
		t.Fatalf("expected deleted code to be unavailable")
	}
}

func TestUpdateIgnoresCodeAndKind(t *testing.T) {
	g, _ := newGraph(t)
	ctx := context.Background()
	p := mustCreate(t, g, auth.NewPermission{Code: "report", Name: "Report", Kind: "MENU", Path: "/report"})

	got, err := g.Update(ctx, p.ID, auth.PermissionUpdate{Name: strPtr("  Reports "), SortOrder: intPtr(7)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Code != "report" || got.Kind != auth.KindMenu {
		t.Fatalf("code or kind changed: %+v", got)
	}
	if got.Name != "Reports" || got.SortOrder != 7 || got.Path != "/report" {
		t.Fatalf("partial update not applied: %+v", got)
	}

	if _, err := g.Update(ctx, 999, auth.PermissionUpdate{Name: strPtr("x")}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReadPathsOrderAndExcludeDeleted(t *testing.T) {
	g, _ := newGraph(t)
	ctx := context.Background()
	a := mustCreate(t, g, auth.NewPermission{Code: "a", Name: "A", Kind: "MENU", SortOrder: intPtr(2)})
	b := mustCreate(t, g, auth.NewPermission{Code: "b", Name: "B", Kind: "MENU", SortOrder: intPtr(1)})
	c := mustCreate(t, g, auth.NewPermission{Code: "c", Name: "C", Kind: "API", SortOrder: intPtr(1)})
	d := mustCreate(t, g, auth.NewPermission{Code: "d", Name: "D", Kind: "API", Enabled: boolPtr(false)})
	e := mustCreate(t, g, auth.NewPermission{Code: "e", Name: "E", Kind: "BUTTON"})

	if err := g.Delete(ctx, e.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	all, err := g.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	// sort asc, then newest first within equal sort
	want := []int64{d.ID, c.ID, b.ID, a.ID}
	if len(all) != len(want) {
		t.Fatalf("expected %d nodes, got %d", len(want), len(all))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Fatalf("position %d: expected id %d, got %d", i, id, all[i].ID)
		}
	}

	enabled, err := g.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	for _, p := range enabled {
		if p.ID == d.ID || p.ID == e.ID {
			t.Fatalf("disabled or deleted node %d listed as enabled", p.ID)
		}
	}
	if len(enabled) != 3 {
		t.Fatalf("expected 3 enabled nodes, got %d", len(enabled))
	}

	apis, err := g.ListByType(ctx, "api")
	if err != nil {
		t.Fatalf("ListByType: %v", err)
	}
	if len(apis) != 2 {
		t.Fatalf("expected 2 API nodes, got %d", len(apis))
	}

	if _, err := g.FindByID(ctx, e.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected deleted node to be hidden, got %v", err)
	}
	if _, err := g.FindByCode(ctx, "e"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected deleted code lookup to miss, got %v", err)
	}
}

func TestSetEnabledAndDeleteMany(t *testing.T) {
	g, _ := newGraph(t)
	ctx := context.Background()
	a := mustCreate(t, g, auth.NewPermission{Code: "a", Name: "A", Kind: "MENU"})
	b := mustCreate(t, g, auth.NewPermission{Code: "b", Name: "B", Kind: "MENU"})

	if err := g.SetEnabled(ctx, a.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	got, err := g.FindByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Enabled {
		t.Fatalf("expected node to be disabled")
	}

	n, err := g.DeleteMany(ctx, []int64{a.ID, b.ID, b.ID})
	if err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deletions, got %d", n)
	}
	if _, err := g.DeleteMany(ctx, []int64{a.ID}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := g.SetEnabled(ctx, a.ID, true); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for deleted node, got %v", err)
	}
}

func TestTreeFromStore(t *testing.T) {
	g, _ := newGraph(t)
	ctx := context.Background()
	root := mustCreate(t, g, auth.NewPermission{Code: "sys", Name: "System", Kind: "MENU"})
	first := mustCreate(t, g, auth.NewPermission{Code: "sys:user", Name: "Users", Kind: "MENU", ParentID: idPtr(root.ID), SortOrder: intPtr(1)})
	second := mustCreate(t, g, auth.NewPermission{Code: "sys:role", Name: "Roles", Kind: "MENU", ParentID: idPtr(root.ID), SortOrder: intPtr(2)})
	gone := mustCreate(t, g, auth.NewPermission{Code: "sys:gone", Name: "Gone", Kind: "MENU", ParentID: idPtr(root.ID)})
	if err := g.Delete(ctx, gone.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	tree, err := g.Tree(ctx)
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if len(tree) != 1 || tree[0].ID != root.ID {
		t.Fatalf("expected single root %d, got %+v", root.ID, tree)
	}
	kids := tree[0].Children
	if len(kids) != 2 || kids[0].ID != first.ID || kids[1].ID != second.ID {
		t.Fatalf("unexpected children: %+v", kids)
	}
	if kids[0].Children != nil {
		t.Fatalf("expected leaf to have no children slice")
	}
}

func TestAssignToRoleReplacesSet(t *testing.T) {
	g, _ := newGraph(t)
	ctx := context.Background()
	p1 := mustCreate(t, g, auth.NewPermission{Code: "p1", Name: "P1", Kind: "API"})
	p2 := mustCreate(t, g, auth.NewPermission{Code: "p2", Name: "P2", Kind: "API"})
	p3 := mustCreate(t, g, auth.NewPermission{Code: "p3", Name: "P3", Kind: "API"})

	if err := g.AssignToRole(ctx, 7, []int64{p3.ID}); err != nil {
		t.Fatalf("AssignToRole: %v", err)
	}
	if err := g.AssignToRole(ctx, 7, []int64{p1.ID, p2.ID, p1.ID}); err != nil {
		t.Fatalf("AssignToRole: %v", err)
	}
	ids, err := g.PermissionIDsForRole(ctx, 7)
	if err != nil {
		t.Fatalf("PermissionIDsForRole: %v", err)
	}
	if len(ids) != 2 || ids[0] != p1.ID || ids[1] != p2.ID {
		t.Fatalf("expected exactly {p1,p2}, got %v", ids)
	}

	if err := g.AssignToRole(ctx, 7, nil); err != nil {
		t.Fatalf("AssignToRole(empty): %v", err)
	}
	ids, err = g.PermissionIDsForRole(ctx, 7)
	if err != nil {
		t.Fatalf("PermissionIDsForRole: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty set, got %v", ids)
	}

	if err := g.AssignToRole(ctx, 7, []int64{999}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown permission, got %v", err)
	}
}

func TestPermissionsForRolesUnion(t *testing.T) {
	g, _ := newGraph(t)
	ctx := context.Background()
	p1 := mustCreate(t, g, auth.NewPermission{Code: "p1", Name: "P1", Kind: "API"})
	p2 := mustCreate(t, g, auth.NewPermission{Code: "p2", Name: "P2", Kind: "API"})
	p3 := mustCreate(t, g, auth.NewPermission{Code: "p3", Name: "P3", Kind: "API"})

	if err := g.AssignToRole(ctx, 1, []int64{p1.ID, p2.ID}); err != nil {
		t.Fatalf("AssignToRole: %v", err)
	}
	if err := g.AssignToRole(ctx, 2, []int64{p2.ID, p3.ID}); err != nil {
		t.Fatalf("AssignToRole: %v", err)
	}
	if err := g.Delete(ctx, p3.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	union, err := g.PermissionsForRoles(ctx, []int64{1, 2})
	if err != nil {
		t.Fatalf("PermissionsForRoles: %v", err)
	}
	if len(union) != 2 {
		t.Fatalf("expected deduplicated live union of 2, got %d", len(union))
	}

	single, err := g.PermissionsForRole(ctx, 2)
	if err != nil {
		t.Fatalf("PermissionsForRole: %v", err)
	}
	if len(single) != 1 || single[0].ID != p2.ID {
		t.Fatalf("expected only p2 for role 2, got %+v", single)
	}

	none, err := g.PermissionsForRoles(ctx, nil)
	if err != nil {
		t.Fatalf("PermissionsForRoles(nil): %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty result, got %v", none)
	}
}

func TestRolePermissionsMatchListOrder(t *testing.T) {
	g, _ := newGraph(t)
	ctx := context.Background()
	older := mustCreate(t, g, auth.NewPermission{Code: "older", Name: "Older", Kind: "API"})
	newer := mustCreate(t, g, auth.NewPermission{Code: "newer", Name: "Newer", Kind: "API"})
	first := mustCreate(t, g, auth.NewPermission{Code: "first", Name: "First", Kind: "API", SortOrder: intPtr(-1)})

	if err := g.AssignToRole(ctx, 7, []int64{older.ID, newer.ID, first.ID}); err != nil {
		t.Fatalf("AssignToRole: %v", err)
	}
	byRole, err := g.PermissionsForRole(ctx, 7)
	if err != nil {
		t.Fatalf("PermissionsForRole: %v", err)
	}
	all, err := g.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}

	want := []int64{first.ID, newer.ID, older.ID}
	for name, got := range map[string][]auth.Permission{"role": byRole, "list": all} {
		if len(got) != len(want) {
			t.Fatalf("%s: expected %d permissions, got %d", name, len(want), len(got))
		}
		for i, p := range got {
			if p.ID != want[i] {
				t.Fatalf("%s: position %d is %s, want id %d", name, i, p.Code, want[i])
			}
		}
	}
}

func TestFindByUsername(t *testing.T) {
	s := New()
	if err := s.AddIdentity(auth.Identity{ID: 1, Username: "admin", PasswordHash: "x", RoleCode: "ADMIN"}); err != nil {
		t.Fatalf("AddIdentity: %v", err)
	}
	if err := s.AddIdentity(auth.Identity{ID: 2, Username: "admin"}); !errors.Is(err, auth.ErrCodeConflict) {
		t.Fatalf("expected duplicate username to conflict, got %v", err)
	}
	id, err := s.FindByUsername(context.Background(), "admin")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if id.ID != 1 || id.RoleCode != "ADMIN" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if _, err := s.FindByUsername(context.Background(), "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
