package pg

import (
	"database/sql"

	"govdesk.org/internal/identity"
)

// pgTx binds the aggregate stores to one database transaction. Committing
// or rolling back twice is a programmer error and panics: the unit of work
// must be resolved exactly once.
type pgTx struct {
	tx   *sql.Tx
	done bool
}

var _ identity.Tx = (*pgTx)(nil)

func (t *pgTx) Users() identity.UserStore             { return &userStore{q: t.tx} }
func (t *pgTx) Roles() identity.RoleStore             { return &roleStore{q: t.tx} }
func (t *pgTx) Permissions() identity.PermissionStore { return &permissionStore{q: t.tx} }
func (t *pgTx) Audit() identity.AuditStore            { return &auditStore{q: t.tx} }

func (t *pgTx) Commit() error {
	if t.done {
		panic("pg: commit without an open transaction")
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		// A failed commit leaves the transaction in an undefined state;
		// attempt rollback before surfacing the error.
		_ = t.tx.Rollback()
		return identity.NewStorageError("commit transaction", err)
	}
	return nil
}

func (t *pgTx) Rollback() error {
	if t.done {
		panic("pg: rollback without an open transaction")
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return identity.NewStorageError("rollback transaction", err)
	}
	return nil
}
