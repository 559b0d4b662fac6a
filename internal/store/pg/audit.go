package pg

import (
	"context"

	"govdesk.org/internal/identity"
	"govdesk.org/internal/ids"
)

type auditStore struct{ q querier }

var _ identity.AuditStore = (*auditStore)(nil)

// Append inserts one immutable record. There is no update or delete path;
// the table is append-only by construction.
func (s *auditStore) Append(ctx context.Context, rec *identity.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into audit_logs (id, user_id, action, resource, is_success, detail, ip_address, ts)
		values ($1,nullif($2,''),$3,$4,$5,$6,$7,$8)
	`, rec.ID, rec.UserID, rec.Action, rec.Resource, rec.IsSuccess, rec.Detail, rec.IPAddress, rec.Timestamp)
	if err != nil {
		return identity.NewStorageError("append audit record", err)
	}
	return nil
}

func (s *auditStore) ListForUser(ctx context.Context, userID string, limit int) ([]*identity.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx, `
		select id, coalesce(user_id, ''), action, resource, is_success, detail, ip_address, ts
		from audit_logs
		where user_id = $1
		order by ts desc
		limit $2
	`, userID, limit)
	if err != nil {
		return nil, identity.NewStorageError("list audit records", err)
	}
	defer rows.Close()

	var result []*identity.AuditRecord
	for rows.Next() {
		var rec identity.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Action, &rec.Resource,
			&rec.IsSuccess, &rec.Detail, &rec.IPAddress, &rec.Timestamp); err != nil {
			return nil, identity.NewStorageError("list audit records", err)
		}
		result = append(result, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, identity.NewStorageError("list audit records", err)
	}
	return result, nil
}
