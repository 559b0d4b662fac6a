package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store used across the package tests. All
// aggregate stores share one mutex; transactions operate on the same state
// and only track resolution for the misuse checks.
type memStore struct {
	mu        sync.Mutex
	seq       int
	users     map[string]*User
	roles     map[string]*Role
	perms     map[string]*Permission
	rolePerms map[string][]string
	roleGrant []*RoleGrant
	permGrant []*PermissionGrant
	audits    []*AuditRecord
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*User),
		roles:     make(map[string]*Role),
		perms:     make(map[string]*Permission),
		rolePerms: make(map[string][]string),
	}
}

func (m *memStore) nextID() string {
	m.seq++
	return fmt.Sprintf("id-%04d", m.seq)
}

func (m *memStore) Users(context.Context) UserStore             { return (*memUsers)(m) }
func (m *memStore) Roles(context.Context) RoleStore             { return (*memRoles)(m) }
func (m *memStore) Permissions(context.Context) PermissionStore { return (*memPerms)(m) }
func (m *memStore) Audit(context.Context) AuditStore            { return (*memAudit)(m) }

func (m *memStore) Begin(context.Context) (Tx, error) {
	return &memTx{store: m}, nil
}

type memTx struct {
	store *memStore
	done  bool
}

func (t *memTx) Users() UserStore             { return (*memUsers)(t.store) }
func (t *memTx) Roles() RoleStore             { return (*memRoles)(t.store) }
func (t *memTx) Permissions() PermissionStore { return (*memPerms)(t.store) }
func (t *memTx) Audit() AuditStore            { return (*memAudit)(t.store) }

func (t *memTx) Commit() error {
	if t.done {
		panic("memstore: commit without an open transaction")
	}
	t.done = true
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		panic("memstore: rollback without an open transaction")
	}
	t.done = true
	return nil
}

// test helpers

func (m *memStore) mustAddUser(u *User) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = m.nextID()
	}
	if u.Version == 0 {
		u.Version = 1
	}
	cp := *u
	m.users[u.ID] = &cp
	return u
}

func (m *memStore) mustAddRole(name string) *Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &Role{ID: m.nextID(), Name: name, IsActive: true}
	m.roles[r.ID] = r
	return r
}

func (m *memStore) mustAddPermission(code string, active bool) *Permission {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &Permission{ID: m.nextID(), Code: code, IsActive: active}
	m.perms[p.ID] = p
	return p
}

func (m *memStore) linkRolePermission(roleID, permID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolePerms[roleID] = append(m.rolePerms[roleID], permID)
}

func (m *memStore) userSnapshot(id string) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

func (m *memStore) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.audits))
	for _, rec := range m.audits {
		out = append(out, rec.Action)
	}
	return out
}

// UserStore

type memUsers memStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return ErrAlreadyExists
		}
	}
	if u.ID == "" {
		u.ID = (*memStore)(m).nextID()
	}
	u.Version = 1
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	return m.findBy(func(u *User) bool { return u.ID == id })
}

func (m *memUsers) FindByUsername(_ context.Context, username string) (*User, error) {
	return m.findBy(func(u *User) bool { return u.Username == username })
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	return m.findBy(func(u *User) bool { return u.Email == email })
}

func (m *memUsers) FindByRefreshToken(_ context.Context, token string) (*User, error) {
	return m.findBy(func(u *User) bool { return u.RefreshToken != "" && u.RefreshToken == token })
}

func (m *memUsers) findBy(match func(*User) bool) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	u.Version++
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsActive = false
	return nil
}

func (m *memUsers) UsernameExists(_ context.Context, username, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username && u.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) EmailExists(_ context.Context, email, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email && u.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) RecordLoginFailure(_ context.Context, userID string, threshold int, lockFor time.Duration, now time.Time) (*LoginFailure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	u.FailedLoginAttempts++
	result := &LoginFailure{Attempts: u.FailedLoginAttempts}
	if u.FailedLoginAttempts >= threshold {
		until := now.Add(lockFor)
		u.IsLocked = true
		u.LockedUntil = &until
		result.Locked = true
		result.LockedUntil = &until
	}
	return result, nil
}

func (m *memUsers) RecordLoginSuccess(_ context.Context, userID, refreshToken string, refreshExpiry, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FailedLoginAttempts = 0
	u.IsLocked = false
	u.LockedUntil = nil
	u.LastLoginAt = &now
	u.RefreshToken = refreshToken
	u.RefreshTokenExpiry = &refreshExpiry
	return nil
}

func (m *memUsers) RotateRefreshToken(_ context.Context, userID, refreshToken string, refreshExpiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.RefreshToken = refreshToken
	u.RefreshTokenExpiry = &refreshExpiry
	return nil
}

func (m *memUsers) ClearRefreshToken(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.RefreshToken = ""
		u.RefreshTokenExpiry = nil
	}
	return nil
}

// RoleStore

type memRoles memStore

func (m *memRoles) Create(_ context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == r.Name {
			return ErrAlreadyExists
		}
	}
	if r.ID == "" {
		r.ID = (*memStore)(m).nextID()
	}
	cp := *r
	m.roles[r.ID] = &cp
	return nil
}

func (m *memRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRoles) FindByName(_ context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRoles) ActiveRoles(_ context.Context) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Role
	for _, r := range m.roles {
		if r.IsActive {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRoles) LiveRolesForUser(_ context.Context, userID string, now time.Time) ([]*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Role
	for _, g := range m.roleGrant {
		if g.UserID != userID || !g.Live(now) {
			continue
		}
		if r, ok := m.roles[g.RoleID]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRoles) Assign(_ context.Context, grant *RoleGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.roleGrant {
		if g.UserID == grant.UserID && g.RoleID == grant.RoleID {
			g.IsActive = false
		}
	}
	if grant.ID == "" {
		grant.ID = (*memStore)(m).nextID()
	}
	cp := *grant
	m.roleGrant = append(m.roleGrant, &cp)
	return nil
}

func (m *memRoles) Revoke(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	revoked := false
	for _, g := range m.roleGrant {
		if g.UserID == userID && g.RoleID == roleID && g.IsActive {
			g.IsActive = false
			revoked = true
		}
	}
	if !revoked {
		return ErrNotFound
	}
	return nil
}

// PermissionStore

type memPerms memStore

func (m *memPerms) Create(_ context.Context, p *Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.perms {
		if existing.Code == p.Code {
			return ErrAlreadyExists
		}
	}
	if p.ID == "" {
		p.ID = (*memStore)(m).nextID()
	}
	cp := *p
	m.perms[p.ID] = &cp
	return nil
}

func (m *memPerms) Find(_ context.Context, id string) (*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPerms) FindByCode(_ context.Context, code string) (*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.perms {
		if p.Code == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memPerms) ActivePermissions(_ context.Context) ([]*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Permission
	for _, p := range m.perms {
		if p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memPerms) ForRole(_ context.Context, roleID string) ([]*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Permission
	for _, id := range m.rolePerms[roleID] {
		if p, ok := m.perms[id]; ok && p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPerms) ForUser(_ context.Context, userID string, now time.Time) ([]*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[string]struct{})
	for _, g := range m.roleGrant {
		if g.UserID != userID || !g.Live(now) {
			continue
		}
		for _, id := range m.rolePerms[g.RoleID] {
			ids[id] = struct{}{}
		}
	}
	for _, g := range m.permGrant {
		if g.UserID == userID && g.Live(now) {
			ids[g.PermissionID] = struct{}{}
		}
	}
	var out []*Permission
	for id := range ids {
		if p, ok := m.perms[id]; ok && p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memPerms) Grant(_ context.Context, grant *PermissionGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if grant.ID == "" {
		grant.ID = (*memStore)(m).nextID()
	}
	cp := *grant
	m.permGrant = append(m.permGrant, &cp)
	return nil
}

// AuditStore

type memAudit memStore

func (m *memAudit) Append(_ context.Context, rec *AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = (*memStore)(m).nextID()
	}
	cp := *rec
	m.audits = append(m.audits, &cp)
	return nil
}

func (m *memAudit) ListForUser(_ context.Context, userID string, limit int) ([]*AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*AuditRecord
	for i := len(m.audits) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.audits[i].UserID == userID {
			cp := *m.audits[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}
