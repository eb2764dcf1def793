package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
)

// Ledger is the in-memory custody implementation of Bank and ReceiptMinter.
// It is not concurrency-safe on its own; the engine serializes access and
// uses Clone for commit-or-discard units of work.
type Ledger struct {
	balances map[string]map[string]*big.Int // addr -> denom -> amount
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]map[string]*big.Int)}
}

func (l *Ledger) Balance(_ context.Context, addr, denom string) (*big.Int, error) {
	if held, ok := l.balances[addr]; ok {
		if b, ok := held[denom]; ok {
			return new(big.Int).Set(b), nil
		}
	}
	return new(big.Int), nil
}

func (l *Ledger) Send(_ context.Context, from, to, denom string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroPayment
	}
	if err := l.debit(from, denom, amount); err != nil {
		return err
	}
	l.credit(to, denom, amount)
	return nil
}

// Mint creates receipt tokens out of thin air for to.
func (l *Ledger) Mint(_ context.Context, to, denom string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroPayment
	}
	l.credit(to, denom, amount)
	return nil
}

// Burn destroys receipt tokens held by from.
func (l *Ledger) Burn(_ context.Context, from, denom string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroPayment
	}
	return l.debit(from, denom, amount)
}

func (l *Ledger) credit(addr, denom string, amount *big.Int) {
	held, ok := l.balances[addr]
	if !ok {
		held = make(map[string]*big.Int)
		l.balances[addr] = held
	}
	if b, ok := held[denom]; ok {
		b.Add(b, amount)
	} else {
		held[denom] = new(big.Int).Set(amount)
	}
}

func (l *Ledger) debit(addr, denom string, amount *big.Int) error {
	held, ok := l.balances[addr]
	if !ok || held[denom] == nil || held[denom].Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds less than %s %s", ErrInsufficient, addr, amount, denom)
	}
	held[denom].Sub(held[denom], amount)
	if held[denom].Sign() == 0 {
		delete(held, denom)
	}
	return nil
}

// Denoms returns the denoms addr currently holds, sorted.
func (l *Ledger) Denoms(addr string) []string {
	held := l.balances[addr]
	out := make([]string, 0, len(held))
	for d := range held {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.balances)
}

func (l *Ledger) UnmarshalJSON(data []byte) error {
	m := make(map[string]map[string]*big.Int)
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	l.balances = m
	return nil
}

// Clone deep-copies the ledger for a unit of work.
func (l *Ledger) Clone() *Ledger {
	cp := NewLedger()
	for addr, held := range l.balances {
		m := make(map[string]*big.Int, len(held))
		for denom, b := range held {
			m[denom] = new(big.Int).Set(b)
		}
		cp.balances[addr] = m
	}
	return cp
}
