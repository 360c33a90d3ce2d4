package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"gatehouse.dev/internal/auth"
)

func (c *apiClient) createPermission(token string, body map[string]any) auth.Permission {
	c.t.Helper()
	env := decode[auth.Permission](c.t, c.post("/api/v1/permissions", body, bearerOf(token)))
	if env.Code != http.StatusOK {
		c.t.Fatalf("create %v: %d %s", body["code"], env.Code, env.Message)
	}
	return env.Data
}

func TestPermissionRoutesRequireAdmin(t *testing.T) {
	c := newTestAPI(t)
	user := c.login("bob", "bobpass")

	paths := []string{
		"/api/v1/permissions",
		"/api/v1/permissions/tree",
		"/api/v1/role-permissions/1",
	}
	for _, p := range paths {
		if env := decode[any](t, c.get(p, nil, nil)); env.Code != http.StatusUnauthorized {
			t.Errorf("%s without session: got %d, want 401", p, env.Code)
		}
		if env := decode[any](t, c.get(p, nil, bearerOf(user))); env.Code != http.StatusForbidden {
			t.Errorf("%s as USER: got %d, want 403", p, env.Code)
		}
	}

	resp := c.get("/api/v1/permissions", nil, nil)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate on 401")
	}
	resp.Body.Close()
}

func TestPermissionCRUD(t *testing.T) {
	c := newTestAPI(t)
	admin := c.login("admin", "admin123")
	h := bearerOf(admin)

	root := c.createPermission(admin, map[string]any{"code": "system", "name": "System", "type": "MENU", "sort": 1})
	if !root.Enabled || root.ParentID != 0 {
		t.Fatalf("expected defaults on create: %+v", root)
	}
	child := c.createPermission(admin, map[string]any{"code": "system:user", "name": "Users", "type": "menu", "parentId": root.ID})
	if child.Kind != auth.KindMenu {
		t.Fatalf("kind = %q, want normalised MENU", child.Kind)
	}

	dup := decode[any](t, c.post("/api/v1/permissions", map[string]any{"code": "system", "name": "Again", "type": "MENU"}, h))
	if dup.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate code, got %d", dup.Code)
	}
	bad := decode[any](t, c.post("/api/v1/permissions", map[string]any{"code": "x", "name": "X", "type": "WIDGET"}, h))
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on unknown type, got %d", bad.Code)
	}

	avail := decode[bool](t, c.get("/api/v1/permissions/check-code", url.Values{"code": {"system"}}, h))
	if avail.Data {
		t.Fatalf("expected taken code to be unavailable")
	}
	avail = decode[bool](t, c.get("/api/v1/permissions/check-code", url.Values{"code": {"audit"}}, h))
	if !avail.Data {
		t.Fatalf("expected fresh code to be available")
	}

	byCode := decode[auth.Permission](t, c.get("/api/v1/permissions/code/system:user", nil, h))
	if byCode.Data.ID != child.ID {
		t.Fatalf("lookup by code returned %+v", byCode.Data)
	}

	upd := decode[auth.Permission](t, c.do(http.MethodPut, fmt.Sprintf("/api/v1/permissions/%d", child.ID),
		map[string]any{"name": "People", "code": "ignored", "type": "API"}, h))
	if upd.Code != http.StatusOK || upd.Data.Name != "People" {
		t.Fatalf("update: %d %+v", upd.Code, upd.Data)
	}
	if upd.Data.Code != "system:user" || upd.Data.Kind != auth.KindMenu {
		t.Fatalf("code and type must not change: %+v", upd.Data)
	}

	tree := decode[[]auth.TreeNode](t, c.get("/api/v1/permissions/tree", nil, h))
	if len(tree.Data) != 1 || len(tree.Data[0].Children) != 1 || tree.Data[0].Children[0].ID != child.ID {
		t.Fatalf("unexpected tree: %+v", tree.Data)
	}

	toggle := decode[any](t, c.do(http.MethodPatch, fmt.Sprintf("/api/v1/permissions/%d/enabled?enabled=false", child.ID), nil, h))
	if toggle.Code != http.StatusOK {
		t.Fatalf("toggle: %d %s", toggle.Code, toggle.Message)
	}
	enabled := decode[[]auth.Permission](t, c.get("/api/v1/permissions/enabled", nil, h))
	if len(enabled.Data) != 1 || enabled.Data[0].ID != root.ID {
		t.Fatalf("expected only the root enabled, got %+v", enabled.Data)
	}
	badToggle := decode[any](t, c.do(http.MethodPatch, fmt.Sprintf("/api/v1/permissions/%d/enabled?enabled=maybe", child.ID), nil, h))
	if badToggle.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad flag, got %d", badToggle.Code)
	}

	del := decode[any](t, c.do(http.MethodDelete, fmt.Sprintf("/api/v1/permissions/%d", child.ID), nil, h))
	if del.Code != http.StatusOK {
		t.Fatalf("delete: %d", del.Code)
	}
	gone := decode[any](t, c.get(fmt.Sprintf("/api/v1/permissions/%d", child.ID), nil, h))
	if gone.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", gone.Code)
	}
	reuse := decode[any](t, c.post("/api/v1/permissions", map[string]any{"code": "system:user", "name": "Users", "type": "MENU"}, h))
	if reuse.Code != http.StatusConflict {
		t.Fatalf("deleted codes stay reserved, got %d", reuse.Code)
	}

	badID := decode[any](t, c.get("/api/v1/permissions/0", nil, h))
	if badID.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for id 0, got %d", badID.Code)
	}
}

func TestPermissionListFilterAndBatchDelete(t *testing.T) {
	c := newTestAPI(t)
	admin := c.login("admin", "admin123")
	h := bearerOf(admin)

	menu := c.createPermission(admin, map[string]any{"code": "orders", "name": "Orders", "type": "MENU"})
	btn := c.createPermission(admin, map[string]any{"code": "orders:export", "name": "Export", "type": "BUTTON", "parentId": menu.ID})
	api := c.createPermission(admin, map[string]any{"code": "orders:list", "name": "List", "type": "API", "parentId": menu.ID})

	buttons := decode[[]auth.Permission](t, c.get("/api/v1/permissions", url.Values{"type": {"button"}}, h))
	if len(buttons.Data) != 1 || buttons.Data[0].ID != btn.ID {
		t.Fatalf("type filter returned %+v", buttons.Data)
	}

	empty := decode[any](t, c.do(http.MethodDelete, "/api/v1/permissions/batch", []int64{}, h))
	if empty.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty batch, got %d", empty.Code)
	}

	batch := decode[batchDeleteResult](t, c.do(http.MethodDelete, "/api/v1/permissions/batch", []int64{btn.ID, api.ID}, h))
	if batch.Code != http.StatusOK || batch.Data.Deleted != 2 {
		t.Fatalf("batch delete: %d %+v", batch.Code, batch.Data)
	}
	all := decode[[]auth.Permission](t, c.get("/api/v1/permissions", nil, h))
	if len(all.Data) != 1 || all.Data[0].ID != menu.ID {
		t.Fatalf("expected only the menu left, got %+v", all.Data)
	}
}

func TestRolePermissionAssignment(t *testing.T) {
	c := newTestAPI(t)
	admin := c.login("admin", "admin123")
	h := bearerOf(admin)

	a := c.createPermission(admin, map[string]any{"code": "a", "name": "A", "type": "API"})
	b := c.createPermission(admin, map[string]any{"code": "b", "name": "B", "type": "API"})

	assign := decode[any](t, c.post("/api/v1/role-permissions/7", []int64{a.ID, b.ID, a.ID}, h))
	if assign.Code != http.StatusOK {
		t.Fatalf("assign: %d %s", assign.Code, assign.Message)
	}
	ids := decode[[]int64](t, c.get("/api/v1/role-permissions/7/ids", nil, h))
	if len(ids.Data) != 2 {
		t.Fatalf("expected duplicates collapsed, got %v", ids.Data)
	}
	perms := decode[[]auth.Permission](t, c.get("/api/v1/role-permissions/7", nil, h))
	if len(perms.Data) != 2 {
		t.Fatalf("expected 2 permissions, got %+v", perms.Data)
	}

	cleared := decode[any](t, c.post("/api/v1/role-permissions/7", []int64{}, h))
	if cleared.Code != http.StatusOK {
		t.Fatalf("clear: %d", cleared.Code)
	}
	ids = decode[[]int64](t, c.get("/api/v1/role-permissions/7/ids", nil, h))
	if ids.Data == nil || len(ids.Data) != 0 {
		t.Fatalf("expected an empty list, got %v", ids.Data)
	}

	noBody := decode[any](t, c.do(http.MethodPost, "/api/v1/role-permissions/7", nil, h))
	if noBody.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a body, got %d", noBody.Code)
	}
}
