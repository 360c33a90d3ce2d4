package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatehouse.dev/internal/auth"
)

var _ auth.CredentialStore = (*Store)(nil)

type identityRow struct {
	ID       int64  `db:"id"`
	Username string `db:"username"`
	Password string `db:"password"`
	Role     string `db:"role"`
}

// FindByUsername returns the live sys_user row for username.
func (s *Store) FindByUsername(ctx context.Context, username string) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errDBUnavailable
	}
	var row identityRow
	err := s.db.GetContext(ctx, &row, `
		select id, username, password, coalesce(role, '') as role
		from sys_user
		where username = $1 and is_deleted = false
	`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Identity{}, err
	}
	return auth.Identity{
		ID:           row.ID,
		Username:     row.Username,
		PasswordHash: row.Password,
		RoleCode:     row.Role,
	}, nil
}
