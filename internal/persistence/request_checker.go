package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// RequestChecker is the durable idempotency tier. Request IDs for keyed
// requests are derived deterministically from kind and key, so the event
// log itself answers whether a key was already applied.
type RequestChecker struct {
	db *sql.DB
}

func NewRequestChecker(db *sql.DB) *RequestChecker {
	return &RequestChecker{db: db}
}

// Seen reports whether any event for the (kind, key) request exists.
func (c *RequestChecker) Seen(kind, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	requestID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+":"+key))

	var exists int
	err := c.db.QueryRowContext(ctx, `
		SELECT 1 FROM ledger_log.events WHERE request_id = $1 LIMIT 1
	`, requestID.String()).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
