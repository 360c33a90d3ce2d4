package auth

import (
	"context"
	"time"
)

// CredentialStore resolves login identities. Implementations return
// ErrNotFound when the username is unknown.
type CredentialStore interface {
	FindByUsername(ctx context.Context, username string) (Identity, error)
}

// SessionStore holds live sessions. Every method is a single atomic step.
type SessionStore interface {
	// Replace installs s and drops whatever session s.UserID held before.
	Replace(ctx context.Context, s Session) error
	// Get returns the session for token; ok is false when absent.
	Get(ctx context.Context, token string) (Session, bool, error)
	// Delete removes token; absent tokens are a no-op.
	Delete(ctx context.Context, token string) error
	// DeleteUser removes the session owned by userID, if any.
	DeleteUser(ctx context.Context, userID int64) error
	// DeleteExpired removes sessions expired at now and returns how many.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	// Len reports the number of stored sessions, expired ones included.
	Len(ctx context.Context) (int, error)
}

// PermissionStore persists permission nodes and role edges.
type PermissionStore interface {
	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	UpdatePermission(ctx context.Context, id int64, upd PermissionUpdate) (Permission, error)
	SetPermissionEnabled(ctx context.Context, id int64, enabled bool) error
	DeletePermissions(ctx context.Context, ids []int64) (int64, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	GetPermissionByCode(ctx context.Context, code string) (Permission, error)
	// CodeExists counts soft-deleted nodes too.
	CodeExists(ctx context.Context, code string) (bool, error)
	ListPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error)

	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	RolePermissions(ctx context.Context, roleIDs []int64) ([]Permission, error)
	RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error)
}
