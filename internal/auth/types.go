package auth

import (
	"strings"
	"time"
)

// Identity is the stored login record returned by a CredentialStore.
type Identity struct {
	ID           int64
	Username     string
	PasswordHash string
	RoleCode     string
}

// Session is a live bearer session. At most one exists per UserID.
type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	RoleCode  string    `json:"role"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Kind classifies a permission node.
type Kind string

const (
	KindMenu   Kind = "MENU"
	KindButton Kind = "BUTTON"
	KindAPI    Kind = "API"
)

// ParseKind normalises s and reports whether it names a known kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case KindMenu, KindButton, KindAPI:
		return k, true
	}
	return "", false
}

// Permission is a node of the permission forest. ParentID 0 marks a root.
type Permission struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"type"`
	ParentID  int64     `json:"parentId"`
	Path      string    `json:"path,omitempty"`
	Icon      string    `json:"icon,omitempty"`
	SortOrder int       `json:"sort"`
	Enabled   bool      `json:"enabled"`
	Deleted   bool      `json:"-"`
	CreatedAt time.Time `json:"createTime"`
	UpdatedAt time.Time `json:"updateTime"`
}

// NewPermission carries the caller-supplied fields of a create request.
// Nil pointers take their defaults.
type NewPermission struct {
	Code      string
	Name      string
	Kind      string
	ParentID  *int64
	Path      string
	Icon      string
	SortOrder *int
	Enabled   *bool
}

// PermissionUpdate is a partial update. Code and kind are absent on purpose:
// they cannot change after creation.
type PermissionUpdate struct {
	Name      *string
	ParentID  *int64
	Path      *string
	Icon      *string
	SortOrder *int
	Enabled   *bool
}

// Empty reports whether the update carries no fields.
func (u PermissionUpdate) Empty() bool {
	return u.Name == nil && u.ParentID == nil && u.Path == nil && u.Icon == nil &&
		u.SortOrder == nil && u.Enabled == nil
}

// PermissionFilter narrows list queries. Deleted nodes are always excluded.
type PermissionFilter struct {
	Kind        Kind
	EnabledOnly bool
}

// LoginResult is the identity summary returned by login and whoami.
type LoginResult struct {
	Token     string `json:"token"`
	TokenType string `json:"tokenType"`
	ExpiresIn int64  `json:"expiresIn"`
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	Role      string `json:"role"`
}
