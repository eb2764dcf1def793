package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
)

// Borrower tracks one address's slice of the debt pool. Delegates is a
// sub-ledger of Shares: entries are debt shares borrowed on behalf of a
// third party and can never sum past Shares.
type Borrower struct {
	Addr      string
	Shares    *big.Int
	Limit     *big.Int // zero means unlimited
	Delegates map[string]*big.Int
}

func (b *Borrower) delegateTotal() *big.Int {
	total := big.NewInt(0)
	for _, s := range b.Delegates {
		total.Add(total, s)
	}
	return total
}

// Borrowers is the per-borrower share bookkeeping layered on a vault's debt
// pool. sum(borrower.shares) always equals debt_pool.shares.
type Borrowers struct {
	byAddr map[string]*Borrower
}

func NewBorrowers() *Borrowers {
	return &Borrowers{byAddr: make(map[string]*Borrower)}
}

func (l *Borrowers) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.byAddr)
}

func (l *Borrowers) UnmarshalJSON(data []byte) error {
	m := make(map[string]*Borrower)
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for addr, b := range m {
		b.Addr = addr
		if b.Shares == nil {
			b.Shares = big.NewInt(0)
		}
		if b.Limit == nil {
			b.Limit = big.NewInt(0)
		}
		if b.Delegates == nil {
			b.Delegates = make(map[string]*big.Int)
		}
	}
	l.byAddr = m
	return nil
}

func (l *Borrowers) Get(addr string) (*Borrower, bool) {
	b, ok := l.byAddr[addr]
	return b, ok
}

// SharesOf returns the borrower's total debt shares, zero when unknown.
func (l *Borrowers) SharesOf(addr string) *big.Int {
	if b, ok := l.byAddr[addr]; ok {
		return new(big.Int).Set(b.Shares)
	}
	return big.NewInt(0)
}

// SetLimit sets a borrower's share limit, creating the record if needed.
func (l *Borrowers) SetLimit(addr string, limit *big.Int) {
	b := l.ensure(addr)
	b.Limit = new(big.Int).Set(limit)
}

func (l *Borrowers) ensure(addr string) *Borrower {
	b, ok := l.byAddr[addr]
	if !ok {
		b = &Borrower{
			Addr:      addr,
			Shares:    big.NewInt(0),
			Limit:     big.NewInt(0),
			Delegates: make(map[string]*big.Int),
		}
		l.byAddr[addr] = b
	}
	return b
}

// RecordBorrow credits freshly minted debt shares to a borrower, and to the
// delegate sub-ledger when the borrow ran on a delegate's behalf. Enforces
// the borrower's limit against the resulting total.
func (l *Borrowers) RecordBorrow(addr, delegate string, shares *big.Int) error {
	b := l.ensure(addr)

	next := new(big.Int).Add(b.Shares, shares)
	if b.Limit.Sign() > 0 && next.Cmp(b.Limit) > 0 {
		return fmt.Errorf("%w: %s + %s > limit %s", ErrBorrowLimit, b.Shares, shares, b.Limit)
	}

	b.Shares = next
	if delegate != "" {
		cur, ok := b.Delegates[delegate]
		if !ok {
			cur = big.NewInt(0)
		}
		b.Delegates[delegate] = new(big.Int).Add(cur, shares)
	}
	return nil
}

// RecordRepay burns shares from a borrower's bookkeeping.
//
// Direct path (delegate == ""): the borrower total shrinks first, then any
// delegate entries are proportionally scaled down so they never exceed the
// new total. Stale delegate accounting after a direct repay is the classic
// desynchronization defect this guards against.
//
// Delegate path: the delegate entry absorbs as much as it can; the remainder
// burns against the borrower's non-delegated shares instead of being
// discarded. The borrower total always shrinks by the full share count.
func (l *Borrowers) RecordRepay(addr, delegate string, shares *big.Int) error {
	b, ok := l.byAddr[addr]
	if !ok || b.Shares.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}

	oldTotal := new(big.Int).Set(b.Shares)
	b.Shares = new(big.Int).Sub(b.Shares, shares)

	if delegate != "" {
		entry, ok := b.Delegates[delegate]
		if !ok {
			entry = big.NewInt(0)
		}
		if entry.Cmp(shares) >= 0 {
			entry = new(big.Int).Sub(entry, shares)
		} else {
			// Entry exhausted; the remainder was already burned from the
			// borrower total above.
			entry = big.NewInt(0)
		}
		if entry.Sign() == 0 {
			delete(b.Delegates, delegate)
		} else {
			b.Delegates[delegate] = entry
		}
	}

	// True up: after any repay the delegate sub-ledger may not exceed the
	// new borrower total. Scale entries down proportionally, flooring.
	if b.delegateTotal().Cmp(b.Shares) > 0 {
		for d, s := range b.Delegates {
			scaled := mulDivFloor(s, b.Shares, oldTotal)
			if scaled.Sign() == 0 {
				delete(b.Delegates, d)
			} else {
				b.Delegates[d] = scaled
			}
		}
		if b.delegateTotal().Cmp(b.Shares) > 0 {
			return fmt.Errorf("%w: delegate shares exceed borrower total after true-up", ErrInvariantBroken)
		}
	}

	if b.Shares.Sign() == 0 && len(b.Delegates) == 0 && b.Limit.Sign() == 0 {
		delete(l.byAddr, addr)
	}
	return nil
}

// DelegateShares returns the shares borrowed by addr on behalf of delegate.
func (l *Borrowers) DelegateShares(addr, delegate string) *big.Int {
	if b, ok := l.byAddr[addr]; ok {
		if s, ok := b.Delegates[delegate]; ok {
			return new(big.Int).Set(s)
		}
	}
	return big.NewInt(0)
}

// TotalShares sums all borrower shares; it must equal debt_pool.shares.
func (l *Borrowers) TotalShares() *big.Int {
	total := big.NewInt(0)
	for _, b := range l.byAddr {
		total.Add(total, b.Shares)
	}
	return total
}

// Addrs returns all borrower addresses in deterministic order.
func (l *Borrowers) Addrs() []string {
	addrs := make([]string, 0, len(l.byAddr))
	for a := range l.byAddr {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	return addrs
}

// Clone deep-copies the ledger for the unit-of-work layer.
func (l *Borrowers) Clone() *Borrowers {
	out := NewBorrowers()
	for addr, b := range l.byAddr {
		nb := &Borrower{
			Addr:      b.Addr,
			Shares:    new(big.Int).Set(b.Shares),
			Limit:     new(big.Int).Set(b.Limit),
			Delegates: make(map[string]*big.Int, len(b.Delegates)),
		}
		for d, s := range b.Delegates {
			nb.Delegates[d] = new(big.Int).Set(s)
		}
		out.byAddr[addr] = nb
	}
	return out
}

func mulDivFloor(a, b, c *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}
