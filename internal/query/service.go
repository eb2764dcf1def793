// Package query serves read-only history from the durable event log.
// Live state (pools, accounts, balances) is answered by the engine; this
// package answers "what happened", straight from Postgres.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const maxPageSize = 500

// Service reads ledger_log.events. All responses carry AsOfSequence, the
// highest sequence visible to the query, so callers can reason about
// freshness.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Filter narrows an event history query. Zero values mean "no filter";
// FromSequence is inclusive.
type Filter struct {
	Vault        string
	Kind         string
	FromSequence int64
	Limit        int
}

// Events returns matching envelopes in ascending sequence order.
func (s *Service) Events(ctx context.Context, f Filter) (*EventPage, error) {
	asOf, err := s.head(ctx)
	if err != nil {
		return nil, err
	}

	limit := f.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	var (
		conds = []string{"sequence >= $1"}
		args  = []interface{}{f.FromSequence}
	)
	if f.Vault != "" {
		args = append(args, f.Vault)
		conds = append(conds, fmt.Sprintf("vault = $%d", len(args)))
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	args = append(args, limit)

	q := fmt.Sprintf(`SELECT sequence, request_id, kind, vault, payload, timestamp
		FROM ledger_log.events
		WHERE %s
		ORDER BY sequence ASC
		LIMIT $%d`, strings.Join(conds, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	page := &EventPage{AsOfSequence: asOf}
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.Sequence, &ev.RequestID, &ev.Kind, &ev.Vault, &ev.Payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		page.Events = append(page.Events, ev)
	}
	return page, rows.Err()
}

// Event returns a single envelope by sequence, sql.ErrNoRows when absent.
func (s *Service) Event(ctx context.Context, sequence int64) (*EventRecord, error) {
	var ev EventRecord
	err := s.db.QueryRowContext(ctx, `SELECT sequence, request_id, kind, vault, payload, timestamp
		FROM ledger_log.events WHERE sequence = $1`, sequence).
		Scan(&ev.Sequence, &ev.RequestID, &ev.Kind, &ev.Vault, &ev.Payload, &ev.Timestamp)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// Liquidations returns the liquidation lifecycle records for one owner,
// newest first. It filters on the payload's owner field.
func (s *Service) Liquidations(ctx context.Context, owner string, limit int) (*EventPage, error) {
	asOf, err := s.head(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	rows, err := s.db.QueryContext(ctx, `SELECT sequence, request_id, kind, vault, payload, timestamp
		FROM ledger_log.events
		WHERE kind IN ('LiquidationStarted', 'LiquidationStepFailed', 'LiquidationCompleted')
		  AND payload->>'owner' = $1
		ORDER BY sequence DESC
		LIMIT $2`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("query liquidations: %w", err)
	}
	defer rows.Close()

	page := &EventPage{AsOfSequence: asOf}
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.Sequence, &ev.RequestID, &ev.Kind, &ev.Vault, &ev.Payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan liquidation: %w", err)
		}
		page.Events = append(page.Events, ev)
	}
	return page, rows.Err()
}

func (s *Service) head(ctx context.Context) (int64, error) {
	var head sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM ledger_log.events`).Scan(&head); err != nil {
		return 0, fmt.Errorf("event log head: %w", err)
	}
	if !head.Valid {
		return -1, nil
	}
	return head.Int64, nil
}

// EventRecord is one stored envelope, payload verbatim.
type EventRecord struct {
	Sequence  int64           `json:"sequence"`
	RequestID string          `json:"request_id"`
	Kind      string          `json:"kind"`
	Vault     *string         `json:"vault,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventPage is a bounded slice of history plus its freshness watermark.
type EventPage struct {
	AsOfSequence int64         `json:"as_of_sequence"`
	Events       []EventRecord `json:"events"`
}
