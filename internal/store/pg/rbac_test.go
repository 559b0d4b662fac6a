package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"govdesk.org/internal/identity"
)

var permRowColumns = []string{"id", "code", "name", "module", "resource", "action", "is_active", "created_at"}

func TestForUserMergesRoleAndDirectGrants(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(permRowColumns).
		AddRow("perm-1", "document.record.read", "Read", "document", "record", "read", true, now).
		AddRow("perm-2", "document.record.update", "Update", "document", "record", "update", true, now)
	mock.ExpectQuery("select distinct p.id, p.code").WithArgs("user-1", now).WillReturnRows(rows)

	perms, err := store.Permissions(context.Background()).ForUser(context.Background(), "user-1", now)
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("got %d permissions, want 2", len(perms))
	}
	if perms[0].Code != "document.record.read" || perms[1].Code != "document.record.update" {
		t.Fatalf("unexpected permissions: %v, %v", perms[0], perms[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestForUserWithoutGrants(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select distinct p.id, p.code").
		WithArgs("user-1", now).
		WillReturnRows(sqlmock.NewRows(permRowColumns))

	perms, err := store.Permissions(context.Background()).ForUser(context.Background(), "user-1", now)
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(perms) != 0 {
		t.Fatalf("got %d permissions, want 0", len(perms))
	}
}

func TestLiveRolesForUser(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "name", "display_name", "description", "priority", "is_active", "is_system_role", "created_at", "updated_at"}).
		AddRow("role-1", "clerk", "Clerk", "", 3, true, true, now, now)
	mock.ExpectQuery("select r.id, r.name").WithArgs("user-1", now).WillReturnRows(rows)

	roles, err := store.Roles(context.Background()).LiveRolesForUser(context.Background(), "user-1", now)
	if err != nil {
		t.Fatalf("LiveRolesForUser: %v", err)
	}
	if len(roles) != 1 || roles[0].Name != "clerk" {
		t.Fatalf("unexpected roles: %+v", roles)
	}
}

func TestAssignRetiresPreviousGrant(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("update user_roles set is_active = false").
		WithArgs("user-1", "role-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into user_roles").
		WillReturnResult(sqlmock.NewResult(1, 1))

	grant := &identity.RoleGrant{UserID: "user-1", RoleID: "role-1", AssignedAt: now, IsActive: true}
	if err := store.Roles(context.Background()).Assign(context.Background(), grant); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if grant.ID == "" {
		t.Fatal("grant ID not assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAssignUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update user_roles set is_active = false").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into user_roles").
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "user_roles_user_id_fkey"})

	err := store.Roles(context.Background()).Assign(context.Background(), &identity.RoleGrant{UserID: "ghost", RoleID: "role-1"})
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRevokeWithoutActiveGrant(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update user_roles set is_active = false").
		WithArgs("user-1", "role-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Roles(context.Background()).Revoke(context.Background(), "user-1", "role-1")
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAuditAppend(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("insert into audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := &identity.AuditRecord{UserID: "user-1", Action: "auth.login", IsSuccess: true, Timestamp: now}
	if err := store.Audit(context.Background()).Append(context.Background(), rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("record ID not assigned")
	}
}
