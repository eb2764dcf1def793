package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotStore persists full engine-state snapshots so a restart can skip
// replaying the whole event log: load the latest snapshot, then replay
// events from its sequence forward.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save persists one snapshot. Sequence is the first event sequence NOT
// covered by the snapshot.
func (s *SnapshotStore) Save(ctx context.Context, sequence int64, data []byte, takenAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_log.snapshots
			(snapshot_id, sequence, data, size_bytes, format_version, created_at)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, size_bytes = $4, created_at = $5
	`, uuid.New(), sequence, data, len(data), takenAt)
	return err
}

// LoadLatest returns the most recent snapshot and its sequence. A nil data
// slice means cold start: no snapshot exists yet.
func (s *SnapshotStore) LoadLatest(ctx context.Context) ([]byte, int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data, sequence FROM ledger_log.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	var sequence int64
	if err := row.Scan(&data, &sequence); err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("load snapshot: %w", err)
	}
	return data, sequence, nil
}

// LoadEventsFrom loads envelopes from a given sequence for replay.
func (s *SnapshotStore) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EnvelopeRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, request_id, kind, vault, payload, timestamp
		FROM ledger_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EnvelopeRow
	for rows.Next() {
		var r EnvelopeRow
		if err := rows.Scan(&r.Sequence, &r.RequestID, &r.Kind, &r.Vault, &r.Payload, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestSequence returns the highest sequence in the event log, -1 when
// the log is empty.
func (s *SnapshotStore) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM ledger_log.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
