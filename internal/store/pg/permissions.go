package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"govdesk.org/internal/identity"
	"govdesk.org/internal/ids"
)

type permissionStore struct{ q querier }

var _ identity.PermissionStore = (*permissionStore)(nil)

const permColumns = `id, code, name, module, resource, action, is_active, created_at`

func scanPermission(row interface{ Scan(...any) error }) (*identity.Permission, error) {
	var p identity.Permission
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Module, &p.Resource, &p.Action, &p.IsActive, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *permissionStore) Create(ctx context.Context, p *identity.Permission) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into permissions (id, code, name, module, resource, action, is_active)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, p.ID, p.Code, p.Name, p.Module, p.Resource, p.Action, p.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return identity.ErrAlreadyExists
		}
		return identity.NewStorageError("create permission", err)
	}
	return nil
}

func (s *permissionStore) Find(ctx context.Context, id string) (*identity.Permission, error) {
	row := s.q.QueryRowContext(ctx, `select `+permColumns+` from permissions where id = $1`, id)
	p, err := scanPermission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, identity.NewStorageError("find permission", err)
	}
	return p, nil
}

func (s *permissionStore) FindByCode(ctx context.Context, code string) (*identity.Permission, error) {
	row := s.q.QueryRowContext(ctx, `select `+permColumns+` from permissions where code = $1`, code)
	p, err := scanPermission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, identity.NewStorageError("find permission by code", err)
	}
	return p, nil
}

func (s *permissionStore) ActivePermissions(ctx context.Context) ([]*identity.Permission, error) {
	rows, err := s.q.QueryContext(ctx, `
		select `+permColumns+` from permissions
		where is_active
		order by module, resource, action
	`)
	if err != nil {
		return nil, identity.NewStorageError("list active permissions", err)
	}
	defer rows.Close()
	return collectPermissions(rows, "list active permissions")
}

func (s *permissionStore) ForRole(ctx context.Context, roleID string) ([]*identity.Permission, error) {
	rows, err := s.q.QueryContext(ctx, `
		select p.id, p.code, p.name, p.module, p.resource, p.action, p.is_active, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1 and p.is_active
		order by p.module, p.resource, p.action
	`, roleID)
	if err != nil {
		return nil, identity.NewStorageError("list role permissions", err)
	}
	defer rows.Close()
	return collectPermissions(rows, "list role permissions")
}

// ForUser merges role-derived and directly granted permissions in one pass.
// A direct grant with is_granted = false is simply absent from the result;
// it does not subtract role-derived permissions.
func (s *permissionStore) ForUser(ctx context.Context, userID string, now time.Time) ([]*identity.Permission, error) {
	rows, err := s.q.QueryContext(ctx, `
		select distinct p.id, p.code, p.name, p.module, p.resource, p.action, p.is_active, p.created_at
		from permissions p
		where p.is_active and p.id in (
			select rp.permission_id
			from user_roles ur
			join role_permissions rp on rp.role_id = ur.role_id
			where ur.user_id = $1
			  and ur.is_active
			  and (ur.expires_at is null or ur.expires_at > $2)
			union
			select up.permission_id
			from user_permissions up
			where up.user_id = $1
			  and up.is_granted
			  and (up.expires_at is null or up.expires_at > $2)
		)
		order by p.module, p.resource, p.action
	`, userID, now)
	if err != nil {
		return nil, identity.NewStorageError("list user permissions", err)
	}
	defer rows.Close()
	return collectPermissions(rows, "list user permissions")
}

func (s *permissionStore) Grant(ctx context.Context, grant *identity.PermissionGrant) error {
	if grant.ID == "" {
		grant.ID = ids.New()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into user_permissions (id, user_id, permission_id, is_granted, granted_at, granted_by, expires_at)
		values ($1,$2,$3,$4,$5,nullif($6,''),$7)
	`, grant.ID, grant.UserID, grant.PermissionID, grant.IsGranted, grant.GrantedAt, grant.GrantedBy, grant.ExpiresAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return identity.ErrNotFound
		}
		return identity.NewStorageError("grant permission", err)
	}
	return nil
}

func collectPermissions(rows *sql.Rows, op string) ([]*identity.Permission, error) {
	var result []*identity.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, identity.NewStorageError(op, err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, identity.NewStorageError(op, err)
	}
	return result, nil
}
