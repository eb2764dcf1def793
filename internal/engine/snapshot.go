package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"CreditLedger/internal/bank"
	"CreditLedger/internal/credit"
	"CreditLedger/internal/ledger"
)

// Snapshot is the full serialized engine state. Sequence is the next event
// sequence, so restart replay resumes exactly where the snapshot left off.
type Snapshot struct {
	Sequence    int64                          `json:"sequence"`
	TakenAt     time.Time                      `json:"taken_at"`
	Vaults      map[string]*ledger.Vault       `json:"vaults"`
	Custody     *bank.Ledger                   `json:"custody"`
	Preferences map[string]*credit.Preferences `json:"preferences"`
	Collaterals []credit.CollateralParam       `json:"collaterals"`
}

// Snapshot serializes the current state. The engine stays locked only for
// the deep copy; marshaling runs on the copy.
func (e *Engine) Snapshot() ([]byte, int64, error) {
	e.mu.Lock()
	work := e.st.clone()
	seq := e.sequence
	now := e.clock()
	e.mu.Unlock()

	snap := Snapshot{
		Sequence:    seq,
		TakenAt:     now,
		Vaults:      work.vaults,
		Custody:     work.custody,
		Preferences: work.prefs,
		Collaterals: work.collaterals,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, 0, fmt.Errorf("engine: marshal snapshot: %w", err)
	}
	return data, seq, nil
}

// Restore replaces the engine state with a decoded snapshot. Meant for
// startup, before the engine serves requests.
func (e *Engine) Restore(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("engine: unmarshal snapshot: %w", err)
	}
	if snap.Vaults == nil || snap.Custody == nil {
		return fmt.Errorf("engine: snapshot missing vaults or custody")
	}
	for denom, v := range snap.Vaults {
		if err := v.Config.Validate(); err != nil {
			return fmt.Errorf("engine: snapshot vault %s: %w", denom, err)
		}
	}
	if snap.Preferences == nil {
		snap.Preferences = make(map[string]*credit.Preferences)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.st = &state{
		vaults:      snap.Vaults,
		custody:     snap.Custody,
		prefs:       snap.Preferences,
		collaterals: snap.Collaterals,
	}
	e.sequence = snap.Sequence
	return nil
}
