// Package bank defines the transfer-side collaborators: balance custody,
// exact-payment collection, refunds, and receipt-token minting. The engine
// never moves value except through these interfaces.
package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrZeroPayment  = errors.New("bank: payment amount must be positive")
	ErrWrongDenom   = errors.New("bank: wrong payment denom")
	ErrInsufficient = errors.New("bank: insufficient balance")
)

// Bank is the custody collaborator. Send moves held funds between
// addresses; Balance reads holdings.
type Bank interface {
	Balance(ctx context.Context, addr, denom string) (*big.Int, error)
	Send(ctx context.Context, from, to, denom string, amount *big.Int) error
}

// ReceiptMinter mints and burns the fungible receipt representing
// deposit-pool shares. It is only invoked with amounts already validated by
// pool operations.
type ReceiptMinter interface {
	Mint(ctx context.Context, to, denom string, amount *big.Int) error
	Burn(ctx context.Context, from, denom string, amount *big.Int) error
}

// Payment is the funds attached to a request.
type Payment struct {
	Payer  string   `json:"payer"`
	Denom  string   `json:"denom"`
	Amount *big.Int `json:"amount"`
}

// MustPay returns the paid amount if the payment is a positive amount of
// exactly the wanted denom, rejecting otherwise before any state changes.
func (p Payment) MustPay(denom string) (*big.Int, error) {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return nil, ErrZeroPayment
	}
	if p.Denom != denom {
		return nil, fmt.Errorf("%w: paid %s, want %s", ErrWrongDenom, p.Denom, denom)
	}
	return new(big.Int).Set(p.Amount), nil
}
