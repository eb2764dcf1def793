package engine

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	"CreditLedger/internal/credit"
)

// VaultStatus is the query view of one vault after a fresh accrual.
type VaultStatus struct {
	Denom         string          `json:"denom"`
	DepositSize   *big.Int        `json:"deposit_size"`
	DepositShares *big.Int        `json:"deposit_shares"`
	DebtSize      *big.Int        `json:"debt_size"`
	DebtShares    *big.Int        `json:"debt_shares"`
	Utilization   decimal.Decimal `json:"utilization"`
	Rate          decimal.Decimal `json:"rate"`
	UnmintedFees  *big.Int        `json:"unminted_fees"`
}

// BorrowerStatus is the query view of one account's position in a vault.
type BorrowerStatus struct {
	Debt     *big.Int `json:"debt"`
	Shares   *big.Int `json:"shares"`
	Limit    *big.Int `json:"limit"`
	Headroom *big.Int `json:"headroom"`
}

// Status reports every vault's pools and current rate. The accrual runs on
// a copy, so queries never mutate live state.
func (e *Engine) Status() ([]VaultStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	work := e.st.clone()

	out := make([]VaultStatus, 0, len(work.vaults))
	for _, denom := range sortedDenoms(work.vaults) {
		v := work.vaults[denom]
		if _, err := v.Accrue(now); err != nil {
			return nil, err
		}
		util, err := v.State.Utilization()
		if err != nil {
			return nil, err
		}
		out = append(out, VaultStatus{
			Denom:         denom,
			DepositSize:   v.State.Deposits.Size(),
			DepositShares: v.State.Deposits.Shares(),
			DebtSize:      v.State.Debt.Size(),
			DebtShares:    v.State.Debt.Shares(),
			Utilization:   util,
			Rate:          v.Config.Curve.Rate(util),
			UnmintedFees:  new(big.Int).Set(v.State.UnmintedFees),
		})
	}
	return out, nil
}

// Borrower reports an account's debt and remaining headroom in one vault.
func (e *Engine) Borrower(vault, owner string) (*BorrowerStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	work := e.st.clone()
	v, err := work.vault(vault)
	if err != nil {
		return nil, err
	}
	if _, err := v.Accrue(now); err != nil {
		return nil, err
	}

	ref := AccountAddr(owner)
	limit := big.NewInt(0)
	if b, ok := v.Borrowers.Get(ref); ok {
		limit = new(big.Int).Set(b.Limit)
	}
	return &BorrowerStatus{
		Debt:     v.DebtOf(ref),
		Shares:   v.Borrowers.SharesOf(ref),
		Limit:    limit,
		Headroom: v.Headroom(ref),
	}, nil
}

// CustodyBalance reads one custody balance at the committed state.
func (e *Engine) CustodyBalance(ctx context.Context, addr, denom string) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.custody.Balance(ctx, addr, denom)
}

// Account reports the full valuation of an owner's credit account.
func (e *Engine) Account(ctx context.Context, owner string) (*AccountView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	work := e.st.clone()
	for _, denom := range sortedDenoms(work.vaults) {
		if _, err := work.vaults[denom].Accrue(now); err != nil {
			return nil, err
		}
	}

	acct, err := e.loader(work).Load(ctx, owner, AccountAddr(owner))
	if err != nil {
		return nil, err
	}
	return &AccountView{Account: acct, LTV: acct.AdjustedLTV()}, nil
}

// AccountView pairs an account snapshot with its computed LTV.
type AccountView struct {
	Account *credit.Account `json:"account"`
	LTV     decimal.Decimal `json:"ltv"`
}
