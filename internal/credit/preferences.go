package credit

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Bounds on stored liquidation preferences. Both are enforced at write time
// so the liquidation path never pays for unbounded owner-supplied state.
const (
	MaxPreferenceMsgs  = 100
	MaxPreferenceBytes = 8 * 1024
)

// Preferences is an account owner's stored liquidation plan: an optional
// list of settlement steps and a partial order over vault denoms deciding
// which debts a generic plan repays first.
type Preferences struct {
	Msgs []Step
	// order maps denom -> the denom that must settle before it. The chain
	// is kept acyclic at insertion, so walking it always terminates.
	order map[string]string
}

func NewPreferences() *Preferences {
	return &Preferences{order: make(map[string]string)}
}

// SetMsgs replaces the stored step list, enforcing the entry and byte
// budgets.
func (p *Preferences) SetMsgs(steps []Step) error {
	if len(steps) > MaxPreferenceMsgs {
		return fmt.Errorf("%w: %d steps (max %d)", ErrTooManyPreferenceEntries, len(steps), MaxPreferenceMsgs)
	}
	encoded, err := MarshalSteps(steps)
	if err != nil {
		return err
	}
	if len(encoded) > MaxPreferenceBytes {
		return fmt.Errorf("%w: %d bytes encoded (max %d)", ErrTooManyPreferenceEntries, len(encoded), MaxPreferenceBytes)
	}
	p.Msgs = append([]Step(nil), steps...)
	return nil
}

// SetOrder records that debt in denom settles only after debt in first.
// The insertion is rejected if it would close a cycle.
func (p *Preferences) SetOrder(denom, first string) error {
	if denom == first {
		return fmt.Errorf("%w: %s depends on itself", ErrPreferenceCycle, denom)
	}
	if len(p.order) >= MaxPreferenceMsgs {
		if _, ok := p.order[denom]; !ok {
			return fmt.Errorf("%w: %d order entries (max %d)", ErrTooManyPreferenceEntries, len(p.order), MaxPreferenceMsgs)
		}
	}
	// Walk the chain upward from first; reaching denom means a cycle.
	seen := map[string]bool{denom: true}
	for cur := first; cur != ""; cur = p.order[cur] {
		if seen[cur] {
			return fmt.Errorf("%w: %s -> %s", ErrPreferenceCycle, denom, first)
		}
		seen[cur] = true
	}
	p.order[denom] = first
	return nil
}

// OrderLen reports how many ordering entries are stored.
func (p *Preferences) OrderLen() int { return len(p.order) }

// ClearOrder drops the ordering entry for denom, if any.
func (p *Preferences) ClearOrder(denom string) {
	delete(p.order, denom)
}

// OrderDenoms sorts the given debt denoms so that every denom's declared
// predecessor chain settles before it. Denoms without ordering keep their
// input position.
func (p *Preferences) OrderDenoms(denoms []string) []string {
	rank := make(map[string]int, len(denoms))
	for _, d := range denoms {
		rank[d] = p.depth(d)
	}
	out := append([]string(nil), denoms...)
	// Stable insertion sort: bounded input, keeps input order within rank.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank[out[j]] < rank[out[j-1]]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// OrderSteps sorts the stored steps so repay steps follow the declared
// denom ordering. Non-repay steps and unordered denoms keep their input
// position.
func (p *Preferences) OrderSteps() []Step {
	out := append([]Step(nil), p.Msgs...)
	rank := func(s Step) int {
		if r, ok := s.(RepayStep); ok {
			return p.depth(r.Vault)
		}
		return 0
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank(out[j]) < rank(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// depth is the length of the predecessor chain above denom. Acyclicity is
// an insertion invariant, so the walk terminates.
func (p *Preferences) depth(denom string) int {
	n := 0
	for cur := p.order[denom]; cur != ""; cur = p.order[cur] {
		n++
	}
	return n
}

type preferencesJSON struct {
	Msgs  json.RawMessage   `json:"msgs,omitempty"`
	Order map[string]string `json:"order,omitempty"`
}

func (p *Preferences) MarshalJSON() ([]byte, error) {
	msgs, err := MarshalSteps(p.Msgs)
	if err != nil {
		return nil, err
	}
	return json.Marshal(preferencesJSON{Msgs: msgs, Order: p.order})
}

func (p *Preferences) UnmarshalJSON(data []byte) error {
	var v preferencesJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	p.order = v.Order
	if p.order == nil {
		p.order = make(map[string]string)
	}
	p.Msgs = nil
	if len(v.Msgs) > 0 {
		steps, err := UnmarshalSteps(v.Msgs)
		if err != nil {
			return err
		}
		p.Msgs = steps
	}
	return nil
}

// Clone deep-copies the preferences, including step payloads.
func (p *Preferences) Clone() *Preferences {
	cp := NewPreferences()
	for k, v := range p.order {
		cp.order[k] = v
	}
	cp.Msgs = make([]Step, len(p.Msgs))
	for i, s := range p.Msgs {
		switch st := s.(type) {
		case RepayStep:
			c := RepayStep{Vault: st.Vault}
			if st.Amount != nil {
				c.Amount = new(big.Int).Set(st.Amount)
			}
			cp.Msgs[i] = c
		case ExecuteStep:
			cp.Msgs[i] = ExecuteStep{Target: st.Target, Msg: append([]byte(nil), st.Msg...)}
		default:
			cp.Msgs[i] = s
		}
	}
	return cp
}
