package identity

import "time"

// User is the identity record for a back-office operator or service account.
// Users are never hard-deleted; deactivation flips IsActive.
type User struct {
	ID                 string
	Username           string
	Email              string
	PasswordHash       string
	Salt               string
	FullName           string
	Department         string
	Position           string
	IsActive           bool
	IsLocked           bool
	FailedLoginAttempts int
	LastLoginAt        *time.Time
	LockedUntil        *time.Time
	MfaEnabled         bool
	MfaSecret          string
	RefreshToken       string
	RefreshTokenExpiry *time.Time
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Role groups permissions. System roles are immutable built-ins.
type Role struct {
	ID           string
	Name         string
	DisplayName  string
	Description  string
	Priority     int
	IsActive     bool
	IsSystemRole bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Permission is a fine-grained capability identified by a stable code.
// Authorization checks compare codes, never IDs.
type Permission struct {
	ID        string
	Code      string
	Name      string
	Module    string
	Resource  string
	Action    string
	IsActive  bool
	CreatedAt time.Time
}

// RoleGrant links a user to a role for a bounded period.
// At most one active grant exists per (user, role) pair.
type RoleGrant struct {
	ID         string
	UserID     string
	RoleID     string
	AssignedAt time.Time
	AssignedBy string
	ExpiresAt  *time.Time
	IsActive   bool
}

// PermissionGrant is a direct user->permission grant that bypasses roles.
type PermissionGrant struct {
	ID           string
	UserID       string
	PermissionID string
	IsGranted    bool
	GrantedAt    time.Time
	GrantedBy    string
	ExpiresAt    *time.Time
}

// AuditRecord is an append-only trace of a security-relevant transition.
type AuditRecord struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IsSuccess bool
	Detail    string
	IPAddress string
	Timestamp time.Time
}

// Live reports whether the grant is currently effective.
func (g RoleGrant) Live(now time.Time) bool {
	return g.IsActive && (g.ExpiresAt == nil || g.ExpiresAt.After(now))
}

// Live reports whether the direct grant is currently effective.
func (g PermissionGrant) Live(now time.Time) bool {
	return g.IsGranted && (g.ExpiresAt == nil || g.ExpiresAt.After(now))
}
