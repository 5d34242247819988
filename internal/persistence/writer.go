package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EventRow is a row in audit.events.
type EventRow struct {
	Sequence  int64
	EventType string
	Component string
	Payload   []byte // JSON-encoded event payload
	Timestamp time.Time
}

// RequestRow mirrors one cross-chain request's lifecycle in
// audit.cross_chain_requests.
type RequestRow struct {
	RequestID   string
	Destination string
	MessageType string
	Asset       string
	Amount      int64
	State       string
	UpdatedAt   time.Time
}

// AuditWriter writes audit rows to Postgres using multi-row INSERTs.
// Writes are idempotent: re-flushing a batch after a mid-commit crash
// hits the conflict target and changes nothing.
type AuditWriter struct {
	db *sql.DB
}

func NewAuditWriter(db *sql.DB) *AuditWriter {
	return &AuditWriter{db: db}
}

// WriteEventBatch inserts a batch of audit events inside tx.
func (w *AuditWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO audit.events
		(sequence, event_type, component, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*5)

	for i, e := range events {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, e.Sequence, e.EventType, e.Component, e.Payload, e.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertRequest records a request lifecycle transition inside tx. The row
// is keyed by request ID; later transitions overwrite the state.
func (w *AuditWriter) UpsertRequest(ctx context.Context, tx *sql.Tx, r RequestRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit.cross_chain_requests
			(request_id, destination, message_type, asset, amount, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (request_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`, r.RequestID, r.Destination, r.MessageType, r.Asset, r.Amount, r.State, r.UpdatedAt)
	return err
}

// DB exposes the underlying handle for the worker's transactions.
func (w *AuditWriter) DB() *sql.DB {
	return w.db
}
