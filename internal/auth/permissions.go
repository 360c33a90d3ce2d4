package auth

// DefaultAdminRole is the role code allowed to manage permissions.
const DefaultAdminRole = "ADMIN"

// TokenTypeBearer is the token type reported to clients.
const TokenTypeBearer = "Bearer"
