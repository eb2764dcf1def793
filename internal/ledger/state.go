package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"CreditLedger/internal/pool"
)

const secondsPerYear = 365 * 24 * 60 * 60

var (
	secondsPerYearDec = decimal.NewFromInt(secondsPerYear)
	nanosPerSecondDec = decimal.NewFromInt(int64(time.Second))
)

// State owns the deposit and debt share pools of one vault plus the carry
// accumulators that keep per-period truncation from discarding value.
//
// Invariant after every mutating operation: deposits.size >= debt.size.
// Mutations run through the SharePool API only.
type State struct {
	Deposits *pool.SharePool
	Debt     *pool.SharePool

	// PendingInterest and PendingFees hold the sub-unit remainder left after
	// each accrual truncation, in [0,1). They re-enter the next period's
	// computation before truncation, so long-run drift stays below one unit.
	PendingInterest decimal.Decimal
	PendingFees     decimal.Decimal

	// UnmintedFees is whole fee value already charged to the debt pool whose
	// protocol-share minting failed with ZeroIssuance. It is retried on every
	// accrual. Charging and minting are deliberately decoupled: a failed mint
	// never reduces what borrowers owe.
	UnmintedFees *big.Int

	LastAccrued time.Time
}

func NewState(now time.Time) *State {
	return &State{
		Deposits:        pool.NewSharePool(),
		Debt:            pool.NewSharePool(),
		PendingInterest: decimal.Zero,
		PendingFees:     decimal.Zero,
		UnmintedFees:    big.NewInt(0),
		LastAccrued:     now,
	}
}

// Accrual reports what one Accrue call did.
type Accrual struct {
	Elapsed     time.Duration
	Rate        decimal.Decimal
	GrossCharge *big.Int // added to debt pool size
	NetCredit   *big.Int // added to deposit pool size, unminted
	FeeShares   *big.Int // protocol shares minted this period
	FeeCarried  bool     // fee mint failed, value parked in UnmintedFees
}

// Utilization returns debt as a fraction of deposits, 0 for an empty deposit
// pool. The subtraction is checked: a debt pool larger than the deposit pool
// is a broken invariant, not a value to clamp.
func (s *State) Utilization() (decimal.Decimal, error) {
	depositSize := s.Deposits.Size()
	if depositSize.Sign() == 0 {
		return decimal.Zero, nil
	}
	free := new(big.Int).Sub(depositSize, s.Debt.Size())
	if free.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("%w: debt %s exceeds deposits %s",
			ErrInvariantBroken, s.Debt.Size(), depositSize)
	}
	freeRatio := decimal.NewFromBigInt(free, 0).Div(decimal.NewFromBigInt(depositSize, 0))
	return decimal.NewFromInt(1).Sub(freeRatio), nil
}

// Accrue distributes interest for the interval since LastAccrued: the debt
// pool is charged the full gross amount, the deposit pool is credited the net
// amount, and protocol-fee shares are minted when the ratio allows. Every
// state transition and read runs Accrue first so it always sees current pool
// ratios.
func (s *State) Accrue(now time.Time, curve pool.RateCurve, feeRate decimal.Decimal) (*Accrual, error) {
	acc := &Accrual{
		GrossCharge: big.NewInt(0),
		NetCredit:   big.NewInt(0),
		FeeShares:   big.NewInt(0),
	}

	elapsed := now.Sub(s.LastAccrued)
	if elapsed < 0 {
		return nil, fmt.Errorf("ledger: accrual time went backwards: last=%s now=%s", s.LastAccrued, now)
	}
	acc.Elapsed = elapsed

	util, err := s.Utilization()
	if err != nil {
		return nil, err
	}
	acc.Rate = curve.Rate(util)

	var grossD decimal.Decimal
	if elapsed > 0 && s.Debt.Size().Sign() > 0 {
		debtSize := decimal.NewFromBigInt(s.Debt.Size(), 0)
		// Full nanosecond precision: sub-second intervals must still feed
		// the pending remainders, or frequent accrual undercharges.
		dt := decimal.NewFromInt(elapsed.Nanoseconds()).Div(nanosPerSecondDec)
		grossD = debtSize.Mul(acc.Rate).Mul(dt).Div(secondsPerYearDec)
	}
	s.LastAccrued = now

	feeD := grossD.Mul(feeRate)
	netD := grossD.Sub(feeD)

	// Fold in the carried remainders before truncating, keep the new
	// remainders for the next period.
	netTotal := netD.Add(s.PendingInterest)
	netInt := netTotal.Floor().BigInt()
	s.PendingInterest = netTotal.Sub(netTotal.Floor())

	feeTotal := feeD.Add(s.PendingFees)
	feeInt := feeTotal.Floor().BigInt()
	s.PendingFees = feeTotal.Sub(feeTotal.Floor())

	gross := new(big.Int).Add(netInt, feeInt)
	if gross.Sign() > 0 {
		// The full gross amount is charged to borrowers regardless of
		// whether fee shares can be minted below.
		s.Debt.Deposit(gross)
		s.Deposits.Deposit(netInt)
	}
	acc.GrossCharge = gross
	acc.NetCredit = netInt

	feeToMint := new(big.Int).Add(feeInt, s.UnmintedFees)
	if feeToMint.Sign() > 0 {
		shares, err := s.Deposits.Join(feeToMint)
		switch {
		case err == nil:
			acc.FeeShares = shares
			s.UnmintedFees = big.NewInt(0)
		case errors.Is(err, pool.ErrZeroIssuance):
			// Collection deferred, charging already done.
			s.UnmintedFees = feeToMint
			acc.FeeCarried = true
		default:
			return nil, err
		}
	}

	return acc, nil
}

// Deposit joins the deposit pool and returns the minted shares.
func (s *State) Deposit(amount *big.Int) (*big.Int, error) {
	return s.Deposits.Join(amount)
}

// Withdraw burns deposit shares and returns the claim. A withdrawal that
// would leave the deposit pool smaller than the debt pool is rejected with
// ErrInsufficientLiquidity and the pool state restored; this is an expected
// recoverable condition, not a fault.
func (s *State) Withdraw(shares *big.Int) (*big.Int, error) {
	saved := s.Deposits.Clone()
	claim, err := s.Deposits.Leave(shares)
	if err != nil {
		return nil, err
	}
	if s.Deposits.Size().Cmp(s.Debt.Size()) < 0 {
		s.Deposits = saved
		return nil, ErrInsufficientLiquidity
	}
	return claim, nil
}

// Borrow joins the debt pool with ceiling share rounding (a legitimate small
// borrow is never rejected for dust) and returns the minted debt shares.
// Rejected when the free liquidity cannot cover the amount.
func (s *State) Borrow(amount *big.Int) (*big.Int, error) {
	free := new(big.Int).Sub(s.Deposits.Size(), s.Debt.Size())
	if free.Sign() < 0 {
		return nil, fmt.Errorf("%w: debt exceeds deposits", ErrInvariantBroken)
	}
	if amount.Cmp(free) > 0 {
		return nil, ErrInsufficientLiquidity
	}
	return s.Debt.JoinCeil(amount)
}

// Repay converts amount to debt shares with ceiling rounding, bounded by the
// caller's ownership, burns them and returns the pool's claim. Ceiling
// rounding is what lets a position's final dust of debt be driven to exactly
// zero. The returned claim, not the requested amount, is the authoritative
// amount removed; any excess collected beyond it is the caller's to refund.
func (s *State) Repay(amount, ownedShares *big.Int) (claim, burned *big.Int, err error) {
	if amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("ledger: non-positive repay amount %s", amount)
	}
	if ownedShares.Sign() <= 0 {
		return nil, nil, ErrInsufficientShares
	}
	debtSize := s.Debt.Size()
	if debtSize.Sign() == 0 {
		return nil, nil, ErrInsufficientShares
	}

	shares := mulDivCeil(amount, s.Debt.Shares(), debtSize)
	if shares.Cmp(ownedShares) > 0 {
		shares = new(big.Int).Set(ownedShares)
	}

	claim, err = s.Debt.Leave(shares)
	if err != nil {
		return nil, nil, err
	}
	return claim, shares, nil
}

// Clone deep-copies the state for the unit-of-work layer.
func (s *State) Clone() *State {
	return &State{
		Deposits:        s.Deposits.Clone(),
		Debt:            s.Debt.Clone(),
		PendingInterest: s.PendingInterest,
		PendingFees:     s.PendingFees,
		UnmintedFees:    new(big.Int).Set(s.UnmintedFees),
		LastAccrued:     s.LastAccrued,
	}
}

func mulDivCeil(a, b, c *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(num, c, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
