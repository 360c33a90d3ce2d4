package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"gatehouse.dev/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var _ auth.PermissionStore = (*Store)(nil)

const permissionColumns = `id, code, name, type, parent_id, coalesce(path, '') as path,
	coalesce(icon, '') as icon, sort, enabled, is_deleted, create_time, update_time`

const permissionOrder = `order by sort asc, create_time desc, id desc`

type permissionRow struct {
	ID         int64     `db:"id"`
	Code       string    `db:"code"`
	Name       string    `db:"name"`
	Type       string    `db:"type"`
	ParentID   int64     `db:"parent_id"`
	Path       string    `db:"path"`
	Icon       string    `db:"icon"`
	Sort       int       `db:"sort"`
	Enabled    bool      `db:"enabled"`
	IsDeleted  bool      `db:"is_deleted"`
	CreateTime time.Time `db:"create_time"`
	UpdateTime time.Time `db:"update_time"`
}

func (r permissionRow) permission() auth.Permission {
	return auth.Permission{
		ID:        r.ID,
		Code:      r.Code,
		Name:      r.Name,
		Kind:      auth.Kind(r.Type),
		ParentID:  r.ParentID,
		Path:      r.Path,
		Icon:      r.Icon,
		SortOrder: r.Sort,
		Enabled:   r.Enabled,
		Deleted:   r.IsDeleted,
		CreatedAt: r.CreateTime,
		UpdatedAt: r.UpdateTime,
	}
}

func permissions(rows []permissionRow) []auth.Permission {
	out := make([]auth.Permission, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.permission())
	}
	return out
}

func (s *Store) CreatePermission(ctx context.Context, p auth.Permission) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errDBUnavailable
	}
	var row permissionRow
	err := s.db.QueryRowxContext(ctx, `
		insert into sys_permission (code, name, type, parent_id, path, icon, sort, enabled)
		values ($1, $2, $3, $4, nullif($5, ''), nullif($6, ''), $7, $8)
		returning `+permissionColumns,
		p.Code, p.Name, string(p.Kind), p.ParentID, p.Path, p.Icon, p.SortOrder, p.Enabled,
	).StructScan(&row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.Permission{}, fmt.Errorf("%w: %s", auth.ErrCodeConflict, p.Code)
		}
		return auth.Permission{}, err
	}
	return row.permission(), nil
}

func (s *Store) UpdatePermission(ctx context.Context, id int64, upd auth.PermissionUpdate) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errDBUnavailable
	}

	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	add := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.ParentID != nil {
		add("parent_id", *upd.ParentID)
	}
	if upd.Path != nil {
		add("path", nullIfEmpty(*upd.Path))
	}
	if upd.Icon != nil {
		add("icon", nullIfEmpty(*upd.Icon))
	}
	if upd.SortOrder != nil {
		add("sort", *upd.SortOrder)
	}
	if upd.Enabled != nil {
		add("enabled", *upd.Enabled)
	}
	if len(setClauses) == 0 {
		return s.GetPermission(ctx, id)
	}
	setClauses = append(setClauses, "update_time = now()")
	args = append(args, id)

	query := fmt.Sprintf(`update sys_permission set %s where id = $%d and is_deleted = false returning %s`,
		strings.Join(setClauses, ", "), idx, permissionColumns)

	var row permissionRow
	err := s.db.QueryRowxContext(ctx, query, args...).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Permission{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Permission{}, err
	}
	return row.permission(), nil
}

func (s *Store) SetPermissionEnabled(ctx context.Context, id int64, enabled bool) error {
	if s.db == nil {
		return errDBUnavailable
	}
	res, err := s.db.ExecContext(ctx, `
		update sys_permission set enabled = $1, update_time = now()
		where id = $2 and is_deleted = false
	`, enabled, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// DeletePermissions soft-deletes ids and returns how many live rows changed.
func (s *Store) DeletePermissions(ctx context.Context, ids []int64) (int64, error) {
	if s.db == nil {
		return 0, errDBUnavailable
	}
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`
		update sys_permission set is_deleted = true, update_time = now()
		where is_deleted = false and id in (?)
	`, ids)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) GetPermission(ctx context.Context, id int64) (auth.Permission, error) {
	return s.getPermission(ctx, `id = $1`, id)
}

func (s *Store) GetPermissionByCode(ctx context.Context, code string) (auth.Permission, error) {
	return s.getPermission(ctx, `code = $1`, code)
}

func (s *Store) getPermission(ctx context.Context, cond string, arg any) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errDBUnavailable
	}
	var row permissionRow
	err := s.db.GetContext(ctx, &row,
		`select `+permissionColumns+` from sys_permission where `+cond+` and is_deleted = false`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Permission{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Permission{}, err
	}
	return row.permission(), nil
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	if s.db == nil {
		return false, errDBUnavailable
	}
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `select exists(select 1 from sys_permission where code = $1)`, code); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) ListPermissions(ctx context.Context, filter auth.PermissionFilter) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	where := []string{"is_deleted = false"}
	var args []any
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.EnabledOnly {
		where = append(where, "enabled = true")
	}
	query := `select ` + permissionColumns + ` from sys_permission where ` +
		strings.Join(where, " and ") + ` ` + permissionOrder

	var rows []permissionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return permissions(rows), nil
}

// SetRolePermissions replaces the role's edges in one transaction.
func (s *Store) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if s.db == nil {
		return errDBUnavailable
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from sys_role_permission where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into sys_role_permission (role_id, permission_id)
			values ($1, $2)
		`, roleID, permID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: permission %d", auth.ErrNotFound, permID)
			}
			return err
		}
	}
	return tx.Commit()
}

// RolePermissions returns the live nodes granted to any of roleIDs, each once.
func (s *Store) RolePermissions(ctx context.Context, roleIDs []int64) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	if len(roleIDs) == 0 {
		return []auth.Permission{}, nil
	}
	query, args, err := sqlx.In(`select `+permissionColumns+` from sys_permission
		where is_deleted = false
		and id in (select permission_id from sys_role_permission where role_id in (?))
		`+permissionOrder, roleIDs)
	if err != nil {
		return nil, err
	}
	var rows []permissionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return permissions(rows), nil
}

// RolePermissionIDs returns the raw edge targets, deleted nodes included.
func (s *Store) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	if s.db == nil {
		return nil, errDBUnavailable
	}
	ids := []int64{}
	if err := s.db.SelectContext(ctx, &ids, `
		select permission_id from sys_role_permission
		where role_id = $1
		order by permission_id
	`, roleID); err != nil {
		return nil, err
	}
	return ids, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
