package credit

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"CreditLedger/internal/bank"
	"CreditLedger/internal/oracle"
)

// MaxLTV is the sentinel for "infinitely unsafe": positive debt against zero
// adjusted collateral. It routes straight into the liquidatable branch
// without ever dividing by zero.
var MaxLTV = decimal.New(1, 18)

// CollateralParam configures one accepted collateral denom. Ratio is the
// collateralization haircut in (0,1]: value_adjusted = value_usd * ratio.
type CollateralParam struct {
	Denom  string          `yaml:"denom" json:"denom"`
	Symbol string          `yaml:"symbol" json:"symbol"`
	Ratio  decimal.Decimal `yaml:"ratio" json:"ratio"`
}

func (p CollateralParam) Validate() error {
	if p.Denom == "" || p.Symbol == "" {
		return fmt.Errorf("credit: collateral denom and symbol required")
	}
	if !p.Ratio.IsPositive() || p.Ratio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("credit: collateral ratio for %s must be in (0,1]", p.Denom)
	}
	return nil
}

// CollateralValuation is point-in-time derived data, recomputed on every
// load and never persisted.
type CollateralValuation struct {
	Denom         string          `json:"denom"`
	Amount        *big.Int        `json:"amount"`
	ValueUSD      decimal.Decimal `json:"value_usd"`
	ValueAdjusted decimal.Decimal `json:"value_adjusted"`
}

// DebtValuation values one vault's debt ownership for the account.
type DebtValuation struct {
	Denom    string          `json:"denom"`
	Amount   *big.Int        `json:"amount"`
	ValueUSD decimal.Decimal `json:"value_usd"`
}

// Account aggregates an owner's collateral and debt valuations into a
// loan-to-value ratio.
type Account struct {
	Owner       string                `json:"owner"`
	Ref         string                `json:"ref"`
	Collaterals []CollateralValuation `json:"collaterals"`
	Debts       []DebtValuation       `json:"debts"`
}

// AdjustedLTV is total for every reachable (collateral, debt) pair: zero
// debt is 0, positive debt against zero adjusted collateral is MaxLTV.
func (a *Account) AdjustedLTV() decimal.Decimal {
	debt := decimal.Zero
	for _, d := range a.Debts {
		debt = debt.Add(d.ValueUSD)
	}
	if !debt.IsPositive() {
		return decimal.Zero
	}
	collateral := decimal.Zero
	for _, c := range a.Collaterals {
		collateral = collateral.Add(c.ValueAdjusted)
	}
	if !collateral.IsPositive() {
		return MaxLTV
	}
	return debt.Div(collateral)
}

// CollateralUSD sums unadjusted collateral value.
func (a *Account) CollateralUSD() decimal.Decimal {
	total := decimal.Zero
	for _, c := range a.Collaterals {
		total = total.Add(c.ValueUSD)
	}
	return total
}

// DebtUSD sums debt value.
func (a *Account) DebtUSD() decimal.Decimal {
	total := decimal.Zero
	for _, d := range a.Debts {
		total = total.Add(d.ValueUSD)
	}
	return total
}

// CollateralAmount returns the held amount of one denom, zero if unheld.
func (a *Account) CollateralAmount(denom string) *big.Int {
	for _, c := range a.Collaterals {
		if c.Denom == denom {
			return new(big.Int).Set(c.Amount)
		}
	}
	return big.NewInt(0)
}

// CheckSafe fails with ErrUnsafe unless ltv < threshold.
func (a *Account) CheckSafe(threshold decimal.Decimal) error {
	if ltv := a.AdjustedLTV(); ltv.GreaterThanOrEqual(threshold) {
		return fmt.Errorf("%w: ltv %s >= %s", ErrUnsafe, ltv, threshold)
	}
	return nil
}

// CheckUnsafe fails with ErrSafe unless ltv >= threshold.
func (a *Account) CheckUnsafe(threshold decimal.Decimal) error {
	if ltv := a.AdjustedLTV(); ltv.LessThan(threshold) {
		return fmt.Errorf("%w: ltv %s < %s", ErrSafe, ltv, threshold)
	}
	return nil
}

// DebtSource exposes the vault layer's post-accrual debt balances for one
// account reference.
type DebtSource interface {
	DebtBalances(ref string) []DebtBalance
	DebtSymbol(denom string) string
}

type DebtBalance struct {
	Denom  string
	Amount *big.Int
}

// Loader computes fresh account valuations. The oracle is queried only for
// denoms with a strictly positive balance, so a delisted or unquoted asset
// the account does not hold can never fail a load. A missing price for a
// held denom is a hard failure, propagated as ErrOracleUnavailable.
type Loader struct {
	Oracle      oracle.Source
	Bank        bank.Bank
	Debts       DebtSource
	Collaterals []CollateralParam
}

func (l *Loader) Load(ctx context.Context, owner, ref string) (*Account, error) {
	acct := &Account{Owner: owner, Ref: ref}

	for _, param := range l.Collaterals {
		balance, err := l.Bank.Balance(ctx, ref, param.Denom)
		if err != nil {
			return nil, fmt.Errorf("credit: balance %s/%s: %w", ref, param.Denom, err)
		}
		if balance.Sign() <= 0 {
			continue
		}
		price, err := l.Oracle.PriceUSD(ctx, param.Symbol)
		if err != nil {
			if errors.Is(err, oracle.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrOracleUnavailable, param.Denom)
			}
			return nil, err
		}
		valueUSD := decimal.NewFromBigInt(balance, 0).Mul(price)
		if !valueUSD.IsPositive() {
			continue
		}
		acct.Collaterals = append(acct.Collaterals, CollateralValuation{
			Denom:         param.Denom,
			Amount:        balance,
			ValueUSD:      valueUSD,
			ValueAdjusted: valueUSD.Mul(param.Ratio),
		})
	}

	for _, db := range l.Debts.DebtBalances(ref) {
		if db.Amount.Sign() <= 0 {
			continue
		}
		price, err := l.Oracle.PriceUSD(ctx, l.Debts.DebtSymbol(db.Denom))
		if err != nil {
			if errors.Is(err, oracle.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrOracleUnavailable, db.Denom)
			}
			return nil, err
		}
		valueUSD := decimal.NewFromBigInt(db.Amount, 0).Mul(price)
		if !valueUSD.IsPositive() {
			continue
		}
		acct.Debts = append(acct.Debts, DebtValuation{
			Denom:    db.Denom,
			Amount:   db.Amount,
			ValueUSD: valueUSD,
		})
	}

	return acct, nil
}
