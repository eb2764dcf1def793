package persistence

import "fmt"

// SequenceGuard tracks the next expected envelope sequence flowing into
// the event log. The engine assigns sequences monotonically, so anything
// else here means events were reordered or lost between the engine and
// the worker. Not thread-safe; only the worker goroutine touches it.
type SequenceGuard struct {
	next    int64
	started bool
}

// NewSequenceGuard starts expecting from next. Pass the recovered log
// head + 1 so a restart picks up where the previous process stopped.
func NewSequenceGuard(next int64) *SequenceGuard {
	return &SequenceGuard{next: next, started: next > 0}
}

// Check validates one sequence and advances the expectation.
//
// Regressions are returned as errors: the batch insert is idempotent on
// sequence, so a replayed envelope is harmless in the log, but a NEW
// envelope below the watermark means the channel delivered out of order.
// Gaps advance the expectation and are reported so the caller can count
// them; the envelope itself is still persisted.
func (g *SequenceGuard) Check(seq int64) (gap bool, err error) {
	if !g.started {
		g.next = seq
		g.started = true
	}

	switch {
	case seq < g.next:
		return false, fmt.Errorf("sequence regression: expected >= %d, got %d", g.next, seq)
	case seq > g.next:
		gap = true
	}
	g.next = seq + 1
	return gap, nil
}

// Next returns the next expected sequence.
func (g *SequenceGuard) Next() int64 {
	return g.next
}
