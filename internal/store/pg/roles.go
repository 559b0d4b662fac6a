package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"govdesk.org/internal/identity"
	"govdesk.org/internal/ids"
)

type roleStore struct{ q querier }

var _ identity.RoleStore = (*roleStore)(nil)

const roleColumns = `id, name, display_name, description, priority, is_active, is_system_role, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (*identity.Role, error) {
	var r identity.Role
	err := row.Scan(&r.ID, &r.Name, &r.DisplayName, &r.Description, &r.Priority,
		&r.IsActive, &r.IsSystemRole, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *roleStore) Create(ctx context.Context, r *identity.Role) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into roles (id, name, display_name, description, priority, is_active, is_system_role)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, r.ID, r.Name, r.DisplayName, r.Description, r.Priority, r.IsActive, r.IsSystemRole)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrAlreadyExists
		}
		return identity.NewStorageError("create role", err)
	}
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*identity.Role, error) {
	row := s.q.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id)
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, identity.NewStorageError("find role", err)
	}
	return r, nil
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*identity.Role, error) {
	row := s.q.QueryRowContext(ctx, `select `+roleColumns+` from roles where name = $1`, name)
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, identity.NewStorageError("find role by name", err)
	}
	return r, nil
}

func (s *roleStore) ActiveRoles(ctx context.Context) ([]*identity.Role, error) {
	rows, err := s.q.QueryContext(ctx, `
		select `+roleColumns+` from roles
		where is_active
		order by priority, name
	`)
	if err != nil {
		return nil, identity.NewStorageError("list active roles", err)
	}
	defer rows.Close()
	return collectRoles(rows, "list active roles")
}

// LiveRolesForUser returns roles reachable through grants that are active
// and not yet expired at the given instant.
func (s *roleStore) LiveRolesForUser(ctx context.Context, userID string, now time.Time) ([]*identity.Role, error) {
	rows, err := s.q.QueryContext(ctx, `
		select r.id, r.name, r.display_name, r.description, r.priority, r.is_active, r.is_system_role, r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		  and ur.is_active
		  and (ur.expires_at is null or ur.expires_at > $2)
		order by r.priority, r.name
	`, userID, now)
	if err != nil {
		return nil, identity.NewStorageError("list user roles", err)
	}
	defer rows.Close()
	return collectRoles(rows, "list user roles")
}

// Assign records a time-bounded grant. The previous active grant for the
// same pair, if any, is retired first so at most one stays active.
func (s *roleStore) Assign(ctx context.Context, grant *identity.RoleGrant) error {
	if grant.ID == "" {
		grant.ID = ids.New()
	}
	_, err := s.q.ExecContext(ctx, `
		update user_roles set is_active = false
		where user_id = $1 and role_id = $2 and is_active
	`, grant.UserID, grant.RoleID)
	if err != nil {
		return identity.NewStorageError("retire role grant", err)
	}
	_, err = s.q.ExecContext(ctx, `
		insert into user_roles (id, user_id, role_id, assigned_at, assigned_by, expires_at, is_active)
		values ($1,$2,$3,$4,nullif($5,''),$6,$7)
	`, grant.ID, grant.UserID, grant.RoleID, grant.AssignedAt, grant.AssignedBy, grant.ExpiresAt, grant.IsActive)
	if err != nil {
		if isForeignKeyViolation(err) {
			return identity.ErrNotFound
		}
		return identity.NewStorageError("assign role", err)
	}
	return nil
}

func (s *roleStore) Revoke(ctx context.Context, userID, roleID string) error {
	res, err := s.q.ExecContext(ctx, `
		update user_roles set is_active = false
		where user_id = $1 and role_id = $2 and is_active
	`, userID, roleID)
	if err != nil {
		return identity.NewStorageError("revoke role", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func collectRoles(rows *sql.Rows, op string) ([]*identity.Role, error) {
	var result []*identity.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, identity.NewStorageError(op, err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, identity.NewStorageError(op, err)
	}
	return result, nil
}
