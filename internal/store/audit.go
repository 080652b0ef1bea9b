package store

import (
	"context"
	"fmt"
	"time"
)

// AuditEntry records an entity changing container.
type AuditEntry struct {
	ID            int64
	EntityType    string
	EntityID      string
	FromContainer string
	ToContainer   string
	FromOrder     int
	ToOrder       int
	CreatedAt     time.Time
}

// AuditLogger is an append-only audit writer. Its failures never fail the
// move that produced the entry.
type AuditLogger interface {
	RecordMove(ctx context.Context, entry AuditEntry) error
}

// SQLAuditLog appends entries to the audit_log table of a store.
type SQLAuditLog struct {
	store *Store
}

// NewSQLAuditLog returns an AuditLogger backed by s. The store must have
// been opened and its schema initialized.
func NewSQLAuditLog(s *Store) *SQLAuditLog {
	return &SQLAuditLog{store: s}
}

// RecordMove appends one entry.
func (a *SQLAuditLog) RecordMove(ctx context.Context, e AuditEntry) error {
	_, err := a.store.conn.ExecContext(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, from_container, to_container, from_order, to_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.EntityType, e.EntityID, e.FromContainer, e.ToContainer, e.FromOrder, e.ToOrder, now())
	if err != nil {
		return fmt.Errorf("failed to append audit entry for %s: %w", e.EntityID, err)
	}
	return nil
}

// SetAudit installs the audit logger used after committed moves. A nil
// logger disables auditing.
func (s *Store) SetAudit(a AuditLogger) {
	s.config.Audit = a
}

// ListAudit returns the audit entries of an entity, oldest first.
func (s *Store) ListAudit(ctx context.Context, entityID string) ([]AuditEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, from_container, to_container, from_order, to_order, created_at
		FROM audit_log WHERE entity_id = ? ORDER BY id ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var created string
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.FromContainer, &e.ToContainer, &e.FromOrder, &e.ToOrder, &created); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return out, nil
}
