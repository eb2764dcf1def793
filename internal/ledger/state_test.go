package ledger_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"CreditLedger/internal/ledger"
	"CreditLedger/internal/pool"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func flatCurve(rate string) pool.RateCurve {
	// step slopes of zero make the rate independent of utilization, which
	// keeps accrual arithmetic exact in tests.
	return pool.RateCurve{
		BaseRate:          dec(rate),
		Step1:             decimal.Zero,
		Step2:             decimal.Zero,
		TargetUtilization: dec("0.8"),
	}
}

func newState(t *testing.T, deposits, debt int64) *ledger.State {
	t.Helper()
	s := ledger.NewState(t0)
	if deposits > 0 {
		_, err := s.Deposit(bi(deposits))
		require.NoError(t, err)
	}
	if debt > 0 {
		_, err := s.Borrow(bi(debt))
		require.NoError(t, err)
	}
	return s
}

func TestState_UtilizationEmptyPool(t *testing.T) {
	s := ledger.NewState(t0)
	u, err := s.Utilization()
	require.NoError(t, err)
	require.True(t, u.IsZero())
}

func TestState_Utilization(t *testing.T) {
	s := newState(t, 1000, 800)
	u, err := s.Utilization()
	require.NoError(t, err)
	require.True(t, u.Equal(dec("0.8")), "utilization = %s", u)
}

// Debt pool {800,800}, 10% rate, 10% fee, one second of
// accrual. Gross interest is below one unit, so both remainders become
// nonzero and nothing integer is charged yet.
func TestState_AccrueSubUnitCarriesRemainder(t *testing.T) {
	s := newState(t, 1000, 800)

	acc, err := s.Accrue(t0.Add(time.Second), flatCurve("0.10"), dec("0.10"))
	require.NoError(t, err)

	require.Zero(t, acc.GrossCharge.Sign(), "no whole unit accrues in one second")
	require.True(t, s.PendingInterest.IsPositive(), "pending interest carried")
	require.True(t, s.PendingFees.IsPositive(), "pending fees carried")
	require.Equal(t, int64(800), s.Debt.Size().Int64())

	// gross = 800 * 0.10 / seconds_per_year; fee = 10% of gross
	gross := dec("80").Div(decimal.NewFromInt(365 * 24 * 3600))
	wantFee := gross.Mul(dec("0.10"))
	require.True(t, s.PendingFees.Equal(wantFee), "pending fees = %s, want %s", s.PendingFees, wantFee)
	require.True(t, s.PendingInterest.Equal(gross.Sub(wantFee)))
}

// Sub-second accrual intervals carry their fraction of a second into the
// pending remainders. Accruing every 500ms must charge the same total as one
// accrual spanning the whole window; whole-second truncation of the interval
// would charge zero forever.
func TestState_AccrueSubSecondCadenceMatchesSingleAccrual(t *testing.T) {
	curve := flatCurve("0.50")

	// 1e9 debt at 50% over 20s: gross = 1e9*0.5*20/31536000 = 317.09...
	coarse := newState(t, 2_000_000_000, 1_000_000_000)
	accOnce, err := coarse.Accrue(t0.Add(20*time.Second), curve, decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, int64(317), accOnce.GrossCharge.Int64())

	fine := newState(t, 2_000_000_000, 1_000_000_000)
	charged := big.NewInt(0)
	for i := 1; i <= 40; i++ {
		acc, err := fine.Accrue(t0.Add(time.Duration(i)*500*time.Millisecond), curve, decimal.Zero)
		require.NoError(t, err)
		charged.Add(charged, acc.GrossCharge)
	}

	require.Equal(t, int64(317), charged.Int64(),
		"fine cadence charged %s, single accrual charged %s", charged, accOnce.GrossCharge)

	// The very first half-second interval already feeds the remainder.
	short := newState(t, 2_000_000_000, 1_000_000_000)
	_, err = short.Accrue(t0.Add(500*time.Millisecond), curve, decimal.Zero)
	require.NoError(t, err)
	require.True(t, short.PendingInterest.IsPositive(), "half-second interval must carry pending interest")
}

// Across an accrual with an integer yield, the debt pool is charged the full
// gross amount and the deposit pool gains net plus minted fee value.
func TestState_AccrueChargesFullGross(t *testing.T) {
	s := newState(t, 1000, 800)

	// One year at 10%: gross 80, fee 8, net 72.
	acc, err := s.Accrue(t0.Add(365*24*time.Hour), flatCurve("0.10"), dec("0.10"))
	require.NoError(t, err)

	require.Equal(t, int64(80), acc.GrossCharge.Int64())
	require.Equal(t, int64(72), acc.NetCredit.Int64())
	require.False(t, acc.FeeCarried)
	require.Positive(t, acc.FeeShares.Sign())

	require.Equal(t, int64(880), s.Debt.Size().Int64())
	// 1000 + 72 net + 8 minted fee
	require.Equal(t, int64(1080), s.Deposits.Size().Int64())
	require.True(t, s.PendingInterest.IsZero())
	require.True(t, s.PendingFees.IsZero())
}

// When fee-share minting fails with ZeroIssuance the fee is parked in
// UnmintedFees, but the debt pool is still charged net + fee. Borrowers
// never ride free on a deferred fee mint.
func TestState_AccrueFeeMintFailureStillChargesDebt(t *testing.T) {
	s := ledger.NewState(t0)
	// Huge size per share so a small fee mints zero shares.
	_, err := s.Deposit(bi(1))
	require.NoError(t, err)
	s.Deposits.Deposit(bi(1_000_000))
	_, err = s.Borrow(bi(900_000))
	require.NoError(t, err)

	debtBefore := s.Debt.Size()

	// One year at 10%, 10% fee: gross 90000, fee 9000. 9000 against a
	// 1000001:1 ratio floors to zero shares.
	acc, err := s.Accrue(t0.Add(365*24*time.Hour), flatCurve("0.10"), dec("0.10"))
	require.NoError(t, err)

	require.True(t, acc.FeeCarried)
	require.Zero(t, acc.FeeShares.Sign())
	require.Equal(t, int64(9000), s.UnmintedFees.Int64())

	charged := new(big.Int).Sub(s.Debt.Size(), debtBefore)
	require.Equal(t, int64(90_000), charged.Int64(), "debt charged net + fee despite failed mint")
}

func TestState_WithdrawLiquidityGuard(t *testing.T) {
	s := newState(t, 1000, 800)

	// Withdrawing 300 of 1000 would leave deposits at 700 < debt 800.
	_, err := s.Withdraw(bi(300))
	require.ErrorIs(t, err, ledger.ErrInsufficientLiquidity)

	// State restored exactly.
	require.Equal(t, int64(1000), s.Deposits.Size().Int64())
	require.Equal(t, int64(1000), s.Deposits.Shares().Int64())

	// A withdrawal within free liquidity succeeds.
	claim, err := s.Withdraw(bi(200))
	require.NoError(t, err)
	require.Equal(t, int64(200), claim.Int64())
	require.Equal(t, int64(800), s.Deposits.Size().Int64())
}

func TestState_BorrowInsufficientLiquidity(t *testing.T) {
	s := newState(t, 1000, 800)
	_, err := s.Borrow(bi(201))
	require.ErrorIs(t, err, ledger.ErrInsufficientLiquidity)
}

func TestState_BorrowSmallAmountMintsShare(t *testing.T) {
	s := ledger.NewState(t0)
	_, err := s.Deposit(bi(20_000_000))
	require.NoError(t, err)
	_, err = s.Borrow(bi(1_000_000))
	require.NoError(t, err)
	// Inflate debt size per share.
	s.Debt.Deposit(bi(9_000_000))

	shares, err := s.Borrow(bi(3))
	require.NoError(t, err)
	require.Equal(t, int64(1), shares.Int64(), "dust borrow mints one share, never rejected")
}

// Repay uses ceiling share rounding so the final dust of a position can
// always be driven to exactly zero debt.
func TestState_RepayCompletability(t *testing.T) {
	s := ledger.NewState(t0)
	_, err := s.Deposit(bi(10_000))
	require.NoError(t, err)

	owned, err := s.Borrow(bi(3))
	require.NoError(t, err)
	// Interest inflates debt to a ratio where floor(amount*shares/size)
	// would round to zero shares.
	s.Debt.Deposit(bi(7)) // debt pool now {10, 3}

	debt := s.Debt.Ownership(owned)
	require.Equal(t, int64(10), debt.Int64())

	claim, burned, err := s.Repay(debt, owned)
	require.NoError(t, err)
	require.Equal(t, int64(10), claim.Int64())
	require.Equal(t, int64(3), burned.Int64())
	require.Zero(t, s.Debt.Ownership(big.NewInt(0)).Sign())
	require.Zero(t, s.Debt.Size().Sign(), "position driven to exactly zero")
}

func TestState_RepayClaimIsAuthoritative(t *testing.T) {
	s := ledger.NewState(t0)
	_, err := s.Deposit(bi(10_000))
	require.NoError(t, err)
	owned, err := s.Borrow(bi(1000))
	require.NoError(t, err)

	// Overpay: claim caps at the borrower's ownership.
	claim, burned, err := s.Repay(bi(5000), owned)
	require.NoError(t, err)
	require.Equal(t, int64(1000), claim.Int64())
	require.Equal(t, owned.String(), burned.String())
}

// Conservation over a mixed operation sequence: tokens in minus tokens out
// equals deposits minus debt, with sub-unit pending drift.
func TestState_ConservationAcrossSequence(t *testing.T) {
	s := ledger.NewState(t0)
	in := big.NewInt(0)
	out := big.NewInt(0)
	now := t0
	curve := flatCurve("0.12")
	fee := dec("0.15")

	deposit := func(a int64) *big.Int {
		shares, err := s.Deposit(bi(a))
		require.NoError(t, err)
		in.Add(in, bi(a))
		return shares
	}
	borrow := func(a int64) *big.Int {
		shares, err := s.Borrow(bi(a))
		require.NoError(t, err)
		out.Add(out, bi(a))
		return shares
	}
	accrue := func(d time.Duration) {
		now = now.Add(d)
		_, err := s.Accrue(now, curve, fee)
		require.NoError(t, err)
	}

	dShares := deposit(100_000)
	bShares := borrow(60_000)
	accrue(90 * 24 * time.Hour)
	deposit(5_000)
	accrue(33 * 24 * time.Hour)

	debt := s.Debt.Ownership(bShares)
	claim, _, err := s.Repay(debt, bShares)
	require.NoError(t, err)
	in.Add(in, claim)

	accrue(7 * 24 * time.Hour)
	wClaim, err := s.Withdraw(dShares)
	require.NoError(t, err)
	out.Add(out, wClaim)

	// in - out == deposits.size + unminted/pending - debt.size
	lhs := new(big.Int).Sub(in, out)
	rhs := new(big.Int).Sub(s.Deposits.Size(), s.Debt.Size())
	rhs.Add(rhs, s.UnmintedFees)

	drift := new(big.Int).Sub(lhs, rhs)
	require.True(t, drift.CmpAbs(big.NewInt(1)) <= 0,
		"conservation drift %s exceeds one unit (pending %s / %s)",
		drift, s.PendingInterest, s.PendingFees)
}
