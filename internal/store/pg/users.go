package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"govdesk.org/internal/identity"
	"govdesk.org/internal/ids"
)

type userStore struct{ q querier }

var _ identity.UserStore = (*userStore)(nil)

const userColumns = `id, username, email, password_hash, salt, full_name, department, position,
	is_active, is_locked, failed_login_attempts, last_login_at, locked_until,
	mfa_enabled, mfa_secret, refresh_token, refresh_token_expiry, version, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*identity.User, error) {
	var (
		u            identity.User
		mfaSecret    sql.NullString
		refreshToken sql.NullString
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Salt, &u.FullName, &u.Department, &u.Position,
		&u.IsActive, &u.IsLocked, &u.FailedLoginAttempts, &u.LastLoginAt, &u.LockedUntil,
		&u.MfaEnabled, &mfaSecret, &refreshToken, &u.RefreshTokenExpiry, &u.Version, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.MfaSecret = mfaSecret.String
	u.RefreshToken = refreshToken.String
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *identity.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into users (id, username, email, password_hash, salt, full_name, department, position,
			is_active, is_locked, failed_login_attempts, mfa_enabled, mfa_secret, version)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,false,0,$10,nullif($11,''),1)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Salt, u.FullName, u.Department, u.Position,
		u.IsActive, u.MfaEnabled, u.MfaSecret)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrAlreadyExists
		}
		return identity.NewStorageError("create user", err)
	}
	u.Version = 1
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*identity.User, error) {
	return s.findBy(ctx, "find user", `where id = $1`, id)
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*identity.User, error) {
	return s.findBy(ctx, "find user by username", `where username = $1`, username)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	return s.findBy(ctx, "find user by email", `where email = $1`, email)
}

func (s *userStore) FindByRefreshToken(ctx context.Context, token string) (*identity.User, error) {
	return s.findBy(ctx, "find user by refresh token", `where refresh_token = $1`, token)
}

func (s *userStore) findBy(ctx context.Context, op, where string, arg any) (*identity.User, error) {
	row := s.q.QueryRowContext(ctx, `select `+userColumns+` from users `+where, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, identity.NewStorageError(op, err)
	}
	return u, nil
}

// Update writes the mutable profile and credential fields under an
// optimistic version check. A stale version reads as a storage conflict.
func (s *userStore) Update(ctx context.Context, u *identity.User) error {
	res, err := s.q.ExecContext(ctx, `
		update users set
			email = $2, password_hash = $3, salt = $4, full_name = $5, department = $6,
			position = $7, is_active = $8, mfa_enabled = $9, mfa_secret = nullif($10,''),
			version = version + 1, updated_at = now()
		where id = $1 and version = $11
	`, u.ID, u.Email, u.PasswordHash, u.Salt, u.FullName, u.Department,
		u.Position, u.IsActive, u.MfaEnabled, u.MfaSecret, u.Version)
	if err != nil {
		return identity.NewStorageError("update user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return identity.NewStorageError("update user", err)
	}
	if n == 0 {
		return identity.NewStorageError("update user", errors.New("row missing or version stale"))
	}
	u.Version++
	return nil
}

func (s *userStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `
		update users set is_active = false, version = version + 1, updated_at = now() where id = $1
	`, id)
	if err != nil {
		return identity.NewStorageError("deactivate user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *userStore) UsernameExists(ctx context.Context, username, excludeID string) (bool, error) {
	return s.exists(ctx, "check username", `username = $1`, username, excludeID)
}

func (s *userStore) EmailExists(ctx context.Context, email, excludeID string) (bool, error) {
	return s.exists(ctx, "check email", `email = $1`, email, excludeID)
}

func (s *userStore) exists(ctx context.Context, op, cond, value, excludeID string) (bool, error) {
	var found bool
	err := s.q.QueryRowContext(ctx,
		`select exists(select 1 from users where `+cond+` and ($2 = '' or id <> $2))`,
		value, excludeID,
	).Scan(&found)
	if err != nil {
		return false, identity.NewStorageError(op, err)
	}
	return found, nil
}

// RecordLoginFailure increments the counter and applies the lock in one
// statement, so two racing logins cannot under-count attempts.
func (s *userStore) RecordLoginFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration, now time.Time) (*identity.LoginFailure, error) {
	lockUntil := now.Add(lockFor)
	row := s.q.QueryRowContext(ctx, `
		update users set
			failed_login_attempts = failed_login_attempts + 1,
			is_locked = is_locked or (failed_login_attempts + 1 >= $2),
			locked_until = case when failed_login_attempts + 1 >= $2 then $3 else locked_until end,
			version = version + 1,
			updated_at = $4
		where id = $1
		returning failed_login_attempts, is_locked, locked_until
	`, userID, threshold, lockUntil, now)

	var out identity.LoginFailure
	if err := row.Scan(&out.Attempts, &out.Locked, &out.LockedUntil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, identity.NewStorageError("record login failure", err)
	}
	return &out, nil
}

func (s *userStore) RecordLoginSuccess(ctx context.Context, userID, refreshToken string, refreshExpiry, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		update users set
			failed_login_attempts = 0,
			is_locked = false,
			locked_until = null,
			last_login_at = $2,
			refresh_token = $3,
			refresh_token_expiry = $4,
			version = version + 1,
			updated_at = $2
		where id = $1
	`, userID, now, refreshToken, refreshExpiry)
	if err != nil {
		return identity.NewStorageError("record login success", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *userStore) RotateRefreshToken(ctx context.Context, userID, refreshToken string, refreshExpiry time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		update users set
			refresh_token = $2,
			refresh_token_expiry = $3,
			version = version + 1,
			updated_at = now()
		where id = $1
	`, userID, refreshToken, refreshExpiry)
	if err != nil {
		return identity.NewStorageError("rotate refresh token", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *userStore) ClearRefreshToken(ctx context.Context, userID string) error {
	// Missing users are a no-op: logout is idempotent.
	_, err := s.q.ExecContext(ctx, `
		update users set
			refresh_token = null,
			refresh_token_expiry = null,
			version = version + 1,
			updated_at = now()
		where id = $1
	`, userID)
	if err != nil {
		return identity.NewStorageError("clear refresh token", err)
	}
	return nil
}
