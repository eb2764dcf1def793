package engine

import (
	"math/big"

	"github.com/shopspring/decimal"

	"CreditLedger/internal/bank"
	"CreditLedger/internal/credit"
	"CreditLedger/internal/pool"
)

// Request is the closed set of state-mutating operations the engine
// accepts. Dispatch is a type switch in Apply; every request runs as one
// atomic unit of work.
type Request interface {
	requestKind() string
}

// Deposit supplies underlying liquidity to a vault. Receipt tokens for the
// minted shares go to the payer.
type Deposit struct {
	Vault   string
	Payment bank.Payment
}

// Withdraw redeems receipt tokens for underlying. The payment carries the
// receipt denom; the claim goes back to the payer.
type Withdraw struct {
	Vault   string
	Payment bank.Payment
}

// Borrow draws underlying from a vault against the owner's credit account.
// Debt shares are recorded on the account; an optional delegate is tracked
// in the per-borrower sub-ledger. The request fails unless the account ends
// below the adjustment threshold.
type Borrow struct {
	Vault    string
	Owner    string
	Amount   *big.Int
	Delegate string
}

// Repay pays down the debt of Owner's account. Anyone may pay; the refund
// for any excess routes to the payer, never to the account.
type Repay struct {
	Vault    string
	Owner    string
	Delegate string
	Payment  bank.Payment
}

// AccountUpdate runs owner-declared settlement steps against the owner's
// account, then requires the account to end below the adjustment threshold.
type AccountUpdate struct {
	Owner string
	Steps []credit.Step
}

// CheckAccount re-validates an account's safety without mutating anything.
type CheckAccount struct {
	Owner string
}

// Liquidate runs the liquidation pipeline against an unsafe account.
type Liquidate struct {
	Owner      string
	Liquidator string
	Steps      []credit.Step
}

// SetBorrowerLimit caps an account's debt shares in one vault. A zero limit
// removes the cap.
type SetBorrowerLimit struct {
	Vault string
	Owner string
	Limit *big.Int
}

// SetRateCurve swaps a vault's interest curve, settling accrued interest
// under the old curve first.
type SetRateCurve struct {
	Vault string
	Curve pool.RateCurve
}

// SetCollateralRatio adjusts the haircut for one collateral denom.
type SetCollateralRatio struct {
	Denom string
	Ratio decimal.Decimal
}

// SetPreferenceMsgs stores the owner's liquidation step list.
type SetPreferenceMsgs struct {
	Owner string
	Steps []credit.Step
}

// SetPreferenceOrder records that Owner's debt in Denom settles only after
// debt in First.
type SetPreferenceOrder struct {
	Owner string
	Denom string
	First string
}

func (Deposit) requestKind() string            { return "deposit" }
func (Withdraw) requestKind() string           { return "withdraw" }
func (Borrow) requestKind() string             { return "borrow" }
func (Repay) requestKind() string              { return "repay" }
func (AccountUpdate) requestKind() string      { return "account_update" }
func (CheckAccount) requestKind() string       { return "check_account" }
func (Liquidate) requestKind() string          { return "liquidate" }
func (SetBorrowerLimit) requestKind() string   { return "set_borrower_limit" }
func (SetRateCurve) requestKind() string       { return "set_rate_curve" }
func (SetCollateralRatio) requestKind() string { return "set_collateral_ratio" }
func (SetPreferenceMsgs) requestKind() string  { return "set_preference_msgs" }
func (SetPreferenceOrder) requestKind() string { return "set_preference_order" }

// Responses per request kind.

type DepositResult struct {
	Receipts *big.Int `json:"receipts"`
}

type WithdrawResult struct {
	Claim *big.Int `json:"claim"`
}

type BorrowResult struct {
	Shares *big.Int        `json:"shares"`
	LTV    decimal.Decimal `json:"ltv"`
}

type RepayResult struct {
	Claim        *big.Int `json:"claim"`
	SharesBurned *big.Int `json:"shares_burned"`
	Refund       *big.Int `json:"refund"`
}

type AccountResult struct {
	StepsRun int             `json:"steps_run"`
	LTV      decimal.Decimal `json:"ltv"`
}

type CheckResult struct {
	LTV  decimal.Decimal `json:"ltv"`
	Safe bool            `json:"safe"`
}

type LiquidateResult struct {
	StepsRun           int             `json:"steps_run"`
	PreferenceFailures int             `json:"preference_failures"`
	FinalLTV           decimal.Decimal `json:"final_ltv"`
	DebtReducedUSD     decimal.Decimal `json:"debt_reduced_usd"`
	CollateralTakenUSD decimal.Decimal `json:"collateral_taken_usd"`
}
