package identity

import (
	"context"
	"time"
)

// Store describes the directory persistence required by the identity core,
// split per aggregate. Implementations own uniqueness enforcement and wrap
// every storage fault into StorageError.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	Audit(ctx context.Context) AuditStore

	// Begin opens a transactional unit of work. The returned Tx must be
	// resolved with exactly one Commit or Rollback; misuse is a programmer
	// error and panics.
	Begin(ctx context.Context) (Tx, error)
}

// Tx scopes the aggregate stores to one transaction.
type Tx interface {
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	Audit() AuditStore
	Commit() error
	Rollback() error
}

// LoginFailure is the outcome of an atomically recorded failed attempt.
type LoginFailure struct {
	Attempts    int
	Locked      bool
	LockedUntil *time.Time
}

// UserStore manages user records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByRefreshToken(ctx context.Context, token string) (*User, error)
	Update(ctx context.Context, u *User) error
	Deactivate(ctx context.Context, id string) error
	UsernameExists(ctx context.Context, username, excludeID string) (bool, error)
	EmailExists(ctx context.Context, email, excludeID string) (bool, error)

	// RecordLoginFailure increments the failed-attempt counter and applies
	// the lockout in one atomic per-row update, so concurrent failures
	// cannot under-count.
	RecordLoginFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration, now time.Time) (*LoginFailure, error)

	// RecordLoginSuccess resets counters, clears the lock, stamps the login
	// time and stores the rotated refresh token in one atomic update.
	RecordLoginSuccess(ctx context.Context, userID, refreshToken string, refreshExpiry, now time.Time) error

	// RotateRefreshToken overwrites the stored refresh token, invalidating
	// the previous one. Login state is left untouched.
	RotateRefreshToken(ctx context.Context, userID, refreshToken string, refreshExpiry time.Time) error

	// ClearRefreshToken drops the stored refresh token. Missing users are a
	// no-op so logout stays idempotent.
	ClearRefreshToken(ctx context.Context, userID string) error
}

// RoleStore manages roles and time-bounded role grants.
type RoleStore interface {
	Create(ctx context.Context, r *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	ActiveRoles(ctx context.Context) ([]*Role, error)
	LiveRolesForUser(ctx context.Context, userID string, now time.Time) ([]*Role, error)
	Assign(ctx context.Context, grant *RoleGrant) error
	Revoke(ctx context.Context, userID, roleID string) error
}

// PermissionStore manages the permission catalog and direct grants.
type PermissionStore interface {
	Create(ctx context.Context, p *Permission) error
	Find(ctx context.Context, id string) (*Permission, error)
	FindByCode(ctx context.Context, code string) (*Permission, error)
	ActivePermissions(ctx context.Context) ([]*Permission, error)
	ForRole(ctx context.Context, roleID string) ([]*Permission, error)
	ForUser(ctx context.Context, userID string, now time.Time) ([]*Permission, error)
	Grant(ctx context.Context, grant *PermissionGrant) error
}

// AuditStore appends immutable records.
type AuditStore interface {
	Append(ctx context.Context, rec *AuditRecord) error
	ListForUser(ctx context.Context, userID string, limit int) ([]*AuditRecord, error)
}
