package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CreateUserRequest carries the fields for provisioning a new account.
type CreateUserRequest struct {
	Username   string
	Email      string
	Password   string
	FullName   string
	Department string
	Position   string
}

// Accounts provides the provisioning and administration operations around
// user records: creation, password changes, role assignment and direct
// permission grants.
type Accounts struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

// AccountsOption configures Accounts behavior.
type AccountsOption func(*Accounts)

// WithAccountsClock overrides the time source (useful for tests).
func WithAccountsClock(fn func() time.Time) AccountsOption {
	return func(a *Accounts) {
		if fn != nil {
			a.now = fn
		}
	}
}

// WithAccountsLogger sets the structured logger.
func WithAccountsLogger(log *zap.Logger) AccountsOption {
	return func(a *Accounts) {
		if log != nil {
			a.log = log
		}
	}
}

// NewAccounts constructs the provisioning service.
func NewAccounts(store Store, opts ...AccountsOption) (*Accounts, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	a := &Accounts{store: store, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// CreateUser provisions an account after uniqueness and strength checks.
// Username and email are normalized to lower case before storage, so
// lookups and uniqueness are effectively case-insensitive.
func (a *Accounts) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if !IsPasswordStrong(req.Password) {
		return nil, fmt.Errorf("%w: password does not meet the policy", ErrInvalidInput)
	}
	hash, salt, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	tx, err := a.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	if exists, err := tx.Users().UsernameExists(ctx, username, ""); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: username %q", ErrAlreadyExists, username)
	}
	if exists, err := tx.Users().EmailExists(ctx, email, ""); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: email %q", ErrAlreadyExists, email)
	}

	user := &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Salt:         salt,
		FullName:     strings.TrimSpace(req.FullName),
		Department:   strings.TrimSpace(req.Department),
		Position:     strings.TrimSpace(req.Position),
		IsActive:     true,
	}
	if err := tx.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	if err := tx.Audit().Append(ctx, &AuditRecord{
		UserID:    user.ID,
		Action:    "user.create",
		Resource:  "user",
		IsSuccess: true,
		Timestamp: a.now().UTC(),
	}); err != nil {
		return nil, err
	}
	// Commit resolves the tx either way, so the deferred rollback must not
	// fire after it.
	committing := tx
	tx = nil
	if err := committing.Commit(); err != nil {
		return nil, err
	}

	a.log.Info("user created", zap.String("user_id", user.ID), zap.String("username", username))
	return user, nil
}

// ChangePassword verifies the current password, enforces the policy on the
// new one and rehashes under a fresh salt.
func (a *Accounts) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := a.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if !VerifyPassword(current, user.PasswordHash, user.Salt) {
		return ErrInvalidCredentials
	}
	if !IsPasswordStrong(next) {
		return fmt.Errorf("%w: password does not meet the policy", ErrInvalidInput)
	}
	hash, salt, err := HashPassword(next)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.Salt = salt
	if err := a.store.Users(ctx).Update(ctx, user); err != nil {
		return err
	}
	a.log.Info("password changed", zap.String("user_id", userID))
	return nil
}

// AssignRole grants a role to a user, optionally bounded by an expiry.
// The store keeps at most one active grant per (user, role) pair.
func (a *Accounts) AssignRole(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) error {
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user and role are required", ErrInvalidInput)
	}
	grant := &RoleGrant{
		UserID:     userID,
		RoleID:     roleID,
		AssignedAt: a.now().UTC(),
		AssignedBy: assignedBy,
		ExpiresAt:  expiresAt,
		IsActive:   true,
	}
	return a.store.Roles(ctx).Assign(ctx, grant)
}

// GrantPermission records a direct user->permission grant.
func (a *Accounts) GrantPermission(ctx context.Context, userID, permissionID, grantedBy string, expiresAt *time.Time) error {
	if userID == "" || permissionID == "" {
		return fmt.Errorf("%w: user and permission are required", ErrInvalidInput)
	}
	grant := &PermissionGrant{
		UserID:       userID,
		PermissionID: permissionID,
		IsGranted:    true,
		GrantedAt:    a.now().UTC(),
		GrantedBy:    grantedBy,
		ExpiresAt:    expiresAt,
	}
	return a.store.Permissions(ctx).Grant(ctx, grant)
}

// DeactivateUser soft-deactivates the account. Users are never hard-deleted.
func (a *Accounts) DeactivateUser(ctx context.Context, userID string) error {
	if err := a.store.Users(ctx).Deactivate(ctx, userID); err != nil {
		return err
	}
	a.log.Info("user deactivated", zap.String("user_id", userID))
	return nil
}
