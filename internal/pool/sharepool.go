package pool

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrZeroIssuance is returned when a nonzero deposit is too small to mint
	// a single share at the current size/shares ratio. The caller decides the
	// deferral policy; the pool never silently absorbs the amount.
	ErrZeroIssuance = errors.New("pool: amount too small to issue shares")

	// ErrZeroAmount is returned from Leave when zero shares are presented.
	ErrZeroAmount = errors.New("pool: zero shares")

	// ErrShareOverflow is returned from Leave when more shares are presented
	// than the pool has issued.
	ErrShareOverflow = errors.New("pool: shares exceed total issued")
)

// SharePool is a proportional-ownership ledger: size is denominated in
// underlying units, shares in fractional ownership units. Ownership of s
// shares is floor(size * s / shares). size == 0 iff shares == 0.
//
// The pool is mutated only through Join, JoinCeil, Leave and Deposit so the
// invariant survives every call order.
type SharePool struct {
	size   *big.Int
	shares *big.Int
}

func NewSharePool() *SharePool {
	return &SharePool{size: big.NewInt(0), shares: big.NewInt(0)}
}

type sharePoolJSON struct {
	Size   *big.Int `json:"size"`
	Shares *big.Int `json:"shares"`
}

func (p *SharePool) MarshalJSON() ([]byte, error) {
	return json.Marshal(sharePoolJSON{Size: p.size, Shares: p.shares})
}

func (p *SharePool) UnmarshalJSON(data []byte) error {
	var v sharePoolJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Size == nil {
		v.Size = big.NewInt(0)
	}
	if v.Shares == nil {
		v.Shares = big.NewInt(0)
	}
	if v.Size.Sign() < 0 || v.Shares.Sign() < 0 {
		return fmt.Errorf("pool: negative size or shares in encoded pool")
	}
	if (v.Size.Sign() == 0) != (v.Shares.Sign() == 0) {
		return fmt.Errorf("pool: encoded pool breaks size/shares emptiness invariant")
	}
	p.size, p.shares = v.Size, v.Shares
	return nil
}

// Size returns the pool size in underlying units.
func (p *SharePool) Size() *big.Int { return clone(p.size) }

// Shares returns the total issued shares.
func (p *SharePool) Shares() *big.Int { return clone(p.shares) }

// Join adds amount to the pool and mints shares at the current ratio,
// rounding down. An empty pool mints 1:1. Returns ErrZeroIssuance when a
// nonzero amount would mint zero shares.
func (p *SharePool) Join(amount *big.Int) (*big.Int, error) {
	return p.join(amount, false)
}

// JoinCeil is Join with ceiling rounding: a nonzero amount always mints at
// least one share. Used on the debt side, where a borrow must never be
// rejected for being too small.
func (p *SharePool) JoinCeil(amount *big.Int) (*big.Int, error) {
	return p.join(amount, true)
}

func (p *SharePool) join(amount *big.Int, ceil bool) (*big.Int, error) {
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("pool: negative join amount %s", amount)
	}
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if p.shares.Sign() == 0 {
		p.size.Add(p.size, amount)
		p.shares.Add(p.shares, amount)
		return clone(amount), nil
	}

	var minted *big.Int
	if ceil {
		minted = mulDivCeil(p.shares, amount, p.size)
	} else {
		minted = mulDivFloor(p.shares, amount, p.size)
		if minted.Sign() == 0 {
			return nil, ErrZeroIssuance
		}
	}

	p.size.Add(p.size, amount)
	p.shares.Add(p.shares, minted)
	return minted, nil
}

// Leave burns shares and returns the claim in underlying units, rounding
// down. The returned claim is authoritative: it is the exact amount removed
// from the pool, and callers must not re-derive their own rounding of it.
// Burning every issued share returns the full size and zeroes the pool, so
// an exact exit never strands dust.
func (p *SharePool) Leave(shares *big.Int) (*big.Int, error) {
	if shares.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if shares.Cmp(p.shares) > 0 {
		return nil, ErrShareOverflow
	}
	if shares.Cmp(p.shares) == 0 {
		claim := clone(p.size)
		p.size.SetInt64(0)
		p.shares.SetInt64(0)
		return claim, nil
	}

	claim := mulDivFloor(p.size, shares, p.shares)
	p.size.Sub(p.size, claim)
	p.shares.Sub(p.shares, shares)
	return claim, nil
}

// Ownership returns the current claim of the given shares without mutating
// the pool.
func (p *SharePool) Ownership(shares *big.Int) *big.Int {
	if p.shares.Sign() == 0 || shares.Sign() <= 0 {
		return big.NewInt(0)
	}
	if shares.Cmp(p.shares) >= 0 {
		return clone(p.size)
	}
	return mulDivFloor(p.size, shares, p.shares)
}

// Deposit grows size without minting shares, strictly increasing the
// size/shares ratio. This is the interest-distribution primitive.
func (p *SharePool) Deposit(amount *big.Int) {
	if amount.Sign() <= 0 {
		return
	}
	p.size.Add(p.size, amount)
}

// Clone returns a deep copy, used by the unit-of-work layer.
func (p *SharePool) Clone() *SharePool {
	return &SharePool{size: clone(p.size), shares: clone(p.shares)}
}
