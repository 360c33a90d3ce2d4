package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"gatehouse.dev/internal/auth"
)

var permissionCols = []string{
	"id", "code", "name", "type", "parent_id", "path", "icon",
	"sort", "enabled", "is_deleted", "create_time", "update_time",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestCreatePermissionMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into sys_permission").
		WithArgs("sys:user", "Users", "MENU", int64(0), "", "", 0, true).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreatePermission(context.Background(), auth.Permission{
		Code: "sys:user", Name: "Users", Kind: auth.KindMenu, Enabled: true,
	})
	if !errors.Is(err, auth.ErrCodeConflict) {
		t.Fatalf("expected ErrCodeConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreatePermissionScansRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("insert into sys_permission").
		WillReturnRows(sqlmock.NewRows(permissionCols).
			AddRow(int64(12), "sys:user", "Users", "MENU", int64(0), "/users", "", 3, true, false, now, now))

	p, err := store.CreatePermission(context.Background(), auth.Permission{
		Code: "sys:user", Name: "Users", Kind: auth.KindMenu, Path: "/users", SortOrder: 3, Enabled: true,
	})
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	if p.ID != 12 || p.Kind != auth.KindMenu || p.Path != "/users" || p.SortOrder != 3 || !p.CreatedAt.Equal(now) {
		t.Fatalf("unexpected permission: %+v", p)
	}
}

func TestGetPermissionNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select .* from sys_permission where id = \\$1 and is_deleted = false").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(permissionCols))

	if _, err := store.GetPermission(context.Background(), 99); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPermissionsFilters(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("where is_deleted = false and type = $1 and enabled = true order by sort asc, create_time desc")).
		WithArgs("API").
		WillReturnRows(sqlmock.NewRows(permissionCols).
			AddRow(int64(1), "a", "A", "API", int64(0), "", "", 0, true, false, now, now).
			AddRow(int64(2), "b", "B", "API", int64(1), "", "", 1, true, false, now, now))

	got, err := store.ListPermissions(context.Background(), auth.PermissionFilter{Kind: auth.KindAPI, EnabledOnly: true})
	if err != nil {
		t.Fatalf("ListPermissions: %v", err)
	}
	if len(got) != 2 || got[1].ParentID != 1 {
		t.Fatalf("unexpected rows: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdatePermissionBuildsPartialSet(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	name := "Renamed"
	sort := 7
	mock.ExpectQuery(regexp.QuoteMeta("update sys_permission set name = $1, sort = $2, update_time = now() where id = $3 and is_deleted = false")).
		WithArgs("Renamed", 7, int64(4)).
		WillReturnRows(sqlmock.NewRows(permissionCols).
			AddRow(int64(4), "x", "Renamed", "BUTTON", int64(0), "", "", 7, true, false, now, now))

	p, err := store.UpdatePermission(context.Background(), 4, auth.PermissionUpdate{Name: &name, SortOrder: &sort})
	if err != nil {
		t.Fatalf("UpdatePermission: %v", err)
	}
	if p.Name != "Renamed" || p.SortOrder != 7 {
		t.Fatalf("unexpected permission: %+v", p)
	}
}

func TestDeletePermissionsExpandsIDs(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("where is_deleted = false and id in ($1, $2, $3)")).
		WithArgs(int64(1), int64(2), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.DeletePermissions(context.Background(), []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("DeletePermissions: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows affected, got %d", n)
	}
}

func TestSetPermissionEnabledMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update sys_permission set enabled").
		WithArgs(false, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.SetPermissionEnabled(context.Background(), 5, false); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetRolePermissionsCommits(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from sys_role_permission").WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("insert into sys_role_permission").WithArgs(int64(3), int64(10)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into sys_role_permission").WithArgs(int64(3), int64(11)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := store.SetRolePermissions(context.Background(), 3, []int64{10, 11}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSetRolePermissionsRollsBackOnInsertFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from sys_role_permission").WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into sys_role_permission").WithArgs(int64(3), int64(10)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into sys_role_permission").WithArgs(int64(3), int64(404)).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	err := store.SetRolePermissions(context.Background(), 3, []int64{10, 404})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRolePermissionsUsesInClause(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("where role_id in ($1, $2)")).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows(permissionCols).
			AddRow(int64(8), "p", "P", "MENU", int64(0), "", "", 0, true, false, now, now))

	got, err := store.RolePermissions(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("RolePermissions: %v", err)
	}
	if len(got) != 1 || got[0].ID != 8 {
		t.Fatalf("unexpected permissions: %+v", got)
	}
}

func TestFindByUsername(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("from sys_user").
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password", "role"}).
			AddRow(int64(1), "admin", "0192023a7bbd73250516f069df18b500", "ADMIN"))
	mock.ExpectQuery("from sys_user").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password", "role"}))

	id, err := store.FindByUsername(context.Background(), "admin")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if id.ID != 1 || id.RoleCode != "ADMIN" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if _, err := store.FindByUsername(context.Background(), "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
