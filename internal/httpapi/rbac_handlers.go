package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"gatehouse.dev/internal/auth"
)

type createPermissionRequest struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	ParentID *int64 `json:"parentId"`
	Path     string `json:"path"`
	Icon     string `json:"icon"`
	Sort     *int   `json:"sort"`
	Enabled  *bool  `json:"enabled"`
}

// updatePermissionRequest accepts code and type so clients can send back a
// full record; both are ignored.
type updatePermissionRequest struct {
	Code     *string `json:"code"`
	Type     *string `json:"type"`
	Name     *string `json:"name"`
	ParentID *int64  `json:"parentId"`
	Path     *string `json:"path"`
	Icon     *string `json:"icon"`
	Sort     *int    `json:"sort"`
	Enabled  *bool   `json:"enabled"`
}

type batchDeleteResult struct {
	Deleted int64 `json:"deleted"`
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	var (
		list []auth.Permission
		err  error
	)
	if kind := strings.TrimSpace(r.URL.Query().Get("type")); kind != "" {
		list, err = a.svc.Permissions.ListByType(r.Context(), kind)
	} else {
		list, err = a.svc.Permissions.ListAll(r.Context())
	}
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeResult(w, r, nonNil(list))
}

func (a *API) handlePermissionTree(w http.ResponseWriter, r *http.Request) {
	tree, err := a.svc.Permissions.Tree(r.Context())
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeResult(w, r, nonNil(tree))
}

func (a *API) handleEnabledPermissions(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.Permissions.ListEnabled(r.Context())
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeResult(w, r, nonNil(list))
}

func (a *API) handleCheckCode(w http.ResponseWriter, r *http.Request) {
	ok, err := a.svc.Permissions.CodeAvailable(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeResult(w, r, ok)
}

func (a *API) handlePermissionByCode(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.Permissions.FindByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeResult(w, r, p)
}

func (a *API) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	p, err := a.svc.Permissions.FindByID(r.Context(), id)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeResult(w, r, p)
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respondErr(w, r, err)
		return
	}
	p, err := a.svc.Permissions.Create(r.Context(), auth.NewPermission{
		Code:      req.Code,
		Name:      req.Name,
		Kind:      req.Type,
		ParentID:  req.ParentID,
		Path:      req.Path,
		Icon:      req.Icon,
		SortOrder: req.Sort,
		Enabled:   req.Enabled,
	})
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	a.logAdmin(r, "permission created", zap.Int64("permission_id", p.ID), zap.String("code", p.Code))
	writeResult(w, r, p)
}

func (a *API) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	var req updatePermissionRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respondErr(w, r, err)
		return
	}
	p, err := a.svc.Permissions.Update(r.Context(), id, auth.PermissionUpdate{
		Name:      req.Name,
		ParentID:  req.ParentID,
		Path:      req.Path,
		Icon:      req.Icon,
		SortOrder: req.Sort,
		Enabled:   req.Enabled,
	})
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	a.logAdmin(r, "permission updated", zap.Int64("permission_id", id))
	writeResult(w, r, p)
}

func (a *API) handleSetPermissionEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		a.respondErr(w, r, fmt.Errorf("%w: enabled must be true or false", auth.ErrValidation))
		return
	}
	if err := a.svc.Permissions.SetEnabled(r.Context(), id, enabled); err != nil {
		a.respondErr(w, r, err)
		return
	}
	a.logAdmin(r, "permission toggled", zap.Int64("permission_id", id), zap.Bool("enabled", enabled))
	writeResult(w, r, nil)
}

func (a *API) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	if err := a.svc.Permissions.Delete(r.Context(), id); err != nil {
		a.respondErr(w, r, err)
		return
	}
	a.logAdmin(r, "permission deleted", zap.Int64("permission_id", id))
	writeResult(w, r, nil)
}

func (a *API) handleDeletePermissions(w http.ResponseWriter, r *http.Request) {
	var ids []int64
	if err := decodeJSON(r, &ids); err != nil {
		a.respondErr(w, r, err)
		return
	}
	n, err := a.svc.Permissions.DeleteMany(r.Context(), ids)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	a.logAdmin(r, "permissions deleted", zap.Int64s("permission_ids", ids))
	writeResult(w, r, batchDeleteResult{Deleted: n})
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleId")
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	list, err := a.svc.Permissions.PermissionsForRole(r.Context(), roleID)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeResult(w, r, nonNil(list))
}

func (a *API) handleRolePermissionIDs(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleId")
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	ids, err := a.svc.Permissions.PermissionIDsForRole(r.Context(), roleID)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeResult(w, r, nonNil(ids))
}

func (a *API) handleAssignRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleId")
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	var ids []int64
	if err := decodeJSON(r, &ids); err != nil {
		a.respondErr(w, r, err)
		return
	}
	if ids == nil {
		a.respondErr(w, r, fmt.Errorf("%w: permission id list must not be null", auth.ErrValidation))
		return
	}
	if err := a.svc.Permissions.AssignToRole(r.Context(), roleID, ids); err != nil {
		a.respondErr(w, r, err)
		return
	}
	a.logAdmin(r, "role permissions assigned", zap.Int64("role_id", roleID), zap.Int("count", len(ids)))
	writeResult(w, r, nil)
}

func (a *API) logAdmin(r *http.Request, msg string, fields ...zap.Field) {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		fields = append(fields, zap.String("actor", p.Username))
	}
	fields = append(fields, zap.String("request_id", RequestIDFromContext(r.Context())))
	a.log.Info(msg, fields...)
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", auth.ErrValidation, name)
	}
	return id, nil
}

// nonNil keeps empty lists as [] rather than null in responses.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
