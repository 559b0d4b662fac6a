// Package pg implements the identity directory store on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"govdesk.org/internal/identity"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so every repository
// works inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements identity.Store over a pgx-driven connection pool.
type Store struct {
	db *sql.DB
}

var _ identity.Store = (*Store)(nil)

// Open connects to PostgreSQL and tunes the pool for request-scoped work.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle (used by tests with sqlmock).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users(ctx context.Context) identity.UserStore {
	return &userStore{q: s.db}
}

func (s *Store) Roles(ctx context.Context) identity.RoleStore {
	return &roleStore{q: s.db}
}

func (s *Store) Permissions(ctx context.Context) identity.PermissionStore {
	return &permissionStore{q: s.db}
}

func (s *Store) Audit(ctx context.Context) identity.AuditStore {
	return &auditStore{q: s.db}
}

// Begin opens a transactional unit of work scoped to one logical operation.
func (s *Store) Begin(ctx context.Context) (identity.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, identity.NewStorageError("begin transaction", err)
	}
	return &pgTx{tx: tx}, nil
}
