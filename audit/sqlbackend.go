package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SQLBackend persists Records to a relational audit_records table via the
// standard database/sql interface. The insert statement uses PostgreSQL-style
// $n placeholders, so the caller's driver must accept that placeholder form.
type SQLBackend struct {
	db *sql.DB

	stmtInsert *sql.Stmt
}

// NewSQLBackend prepares the insert statement against db. The caller owns
// db's lifecycle and the audit_records table's schema.
func NewSQLBackend(db *sql.DB) (*SQLBackend, error) {
	stmt, err := db.Prepare(`
		INSERT INTO audit_records
			(id, ts, action, actor_id, resource_kind, resource_id, success, error_message, trace_id, context)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return nil, fmt.Errorf("preparing audit insert statement: %w", err)
	}
	return &SQLBackend{db: db, stmtInsert: stmt}, nil
}

// Write inserts r as a single row. Context marshals to JSON; a nil map
// writes as SQL NULL rather than the literal string "null".
func (b *SQLBackend) Write(ctx context.Context, r Record) error {
	var contextJSON any
	if r.Context != nil {
		encoded, err := json.Marshal(r.Context)
		if err != nil {
			return fmt.Errorf("marshaling audit record context: %w", err)
		}
		contextJSON = encoded
	}

	_, err := b.stmtInsert.ExecContext(ctx,
		r.ID, r.Timestamp, r.Action, r.ActorID, r.ResourceKind, r.ResourceID,
		r.Success, r.ErrorMessage, r.TraceID, contextJSON,
	)
	if err != nil {
		return fmt.Errorf("writing audit record %s: %w", r.ID, err)
	}
	return nil
}

// Close releases the prepared statement. It does not close the underlying
// *sql.DB, which the caller may share with other backends.
func (b *SQLBackend) Close() error {
	return b.stmtInsert.Close()
}
