package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"CreditLedger/internal/engine"
)

// EventLogWriter writes event envelopes to Postgres using multi-row
// INSERTs. Batch size and flush cadence are owned by the Worker.
type EventLogWriter struct {
	db *sql.DB
}

// EnvelopeRow represents a row in ledger_log.events.
type EnvelopeRow struct {
	Sequence  int64
	RequestID string
	Kind      string
	Vault     *string
	Payload   []byte // JSON-encoded event payload
	Timestamp time.Time
}

// RowFromOutput converts an engine output to its storage row.
func RowFromOutput(out engine.Output) EnvelopeRow {
	env := out.Envelope
	return EnvelopeRow{
		Sequence:  env.Sequence,
		RequestID: env.RequestID.String(),
		Kind:      env.Kind.String(),
		Vault:     env.Vault,
		Payload:   env.Payload,
		Timestamp: env.Timestamp,
	}
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

func (w *EventLogWriter) DB() *sql.DB { return w.db }

// WriteEnvelopeBatch writes a batch of envelopes inside the given
// transaction. Conflicting sequences are skipped, making replays after a
// crash idempotent.
func (w *EventLogWriter) WriteEnvelopeBatch(ctx context.Context, tx *sql.Tx, rows []EnvelopeRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO ledger_log.events
		(sequence, request_id, kind, vault, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*6)

	for i, r := range rows {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, r.Sequence, r.RequestID, r.Kind, r.Vault, r.Payload, r.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
