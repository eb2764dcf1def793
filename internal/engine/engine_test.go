package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CreditLedger/internal/bank"
	"CreditLedger/internal/credit"
	"CreditLedger/internal/event"
	"CreditLedger/internal/ledger"
	"CreditLedger/internal/pool"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
func bi(v int64) *big.Int          { return big.NewInt(v) }

type fakeOracle struct {
	prices map[string]decimal.Decimal
}

func (o *fakeOracle) PriceUSD(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := o.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no quote for %s", symbol)
	}
	return p, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// swapMsg drives the test executor: sell collateral out of the account,
// credit the proceeds back in.
type swapMsg struct {
	SellDenom  string `json:"sell_denom"`
	SellAmount int64  `json:"sell_amount"`
	BuyDenom   string `json:"buy_denom"`
	BuyAmount  int64  `json:"buy_amount"`
}

type swapExecutor struct{}

func (swapExecutor) Execute(ctx context.Context, custody *bank.Ledger, acctAddr, target string, msg json.RawMessage) error {
	if target != "amm" {
		return fmt.Errorf("unknown target %q", target)
	}
	var m swapMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return err
	}
	if err := custody.Send(ctx, acctAddr, "amm", m.SellDenom, big.NewInt(m.SellAmount)); err != nil {
		return err
	}
	return custody.Mint(ctx, acctAddr, m.BuyDenom, big.NewInt(m.BuyAmount))
}

func sellStep(t *testing.T, sellDenom string, sellAmount int64, buyDenom string, buyAmount int64) credit.ExecuteStep {
	t.Helper()
	msg, err := json.Marshal(swapMsg{
		SellDenom: sellDenom, SellAmount: sellAmount,
		BuyDenom: buyDenom, BuyAmount: buyAmount,
	})
	require.NoError(t, err)
	return credit.ExecuteStep{Target: "amm", Msg: msg}
}

func testEngineConfig() Config {
	return Config{
		Vaults: []ledger.VaultConfig{{
			Denom:        "uusd",
			Symbol:       "USD",
			ReceiptDenom: "cl/uusd",
			ReserveAddr:  "reserve",
			Curve: pool.RateCurve{
				BaseRate:          dec("0.02"),
				Step1:             dec("0.18"),
				Step2:             dec("2"),
				TargetUtilization: dec("0.8"),
			},
			FeeRate: dec("0.1"),
		}},
		Collaterals: []credit.CollateralParam{
			{Denom: "uatom", Symbol: "ATOM", Ratio: dec("0.5")},
		},
		Thresholds: credit.Thresholds{
			Adjustment:  dec("0.8"),
			Liquidation: dec("0.9"),
			MaxSlip:     dec("0.05"),
		},
	}
}

type fixture struct {
	eng    *Engine
	oracle *fakeOracle
	clock  *fakeClock
}

// newFixture funds alice with uusd liquidity and bob's account with uatom
// collateral.
func newFixture(t *testing.T, deps ...func(*Deps)) *fixture {
	t.Helper()
	ctx := context.Background()

	custody := bank.NewLedger()
	require.NoError(t, custody.Mint(ctx, "alice", "uusd", bi(1_000_000)))
	require.NoError(t, custody.Mint(ctx, AccountAddr("bob"), "uatom", bi(100)))

	o := &fakeOracle{prices: map[string]decimal.Decimal{
		"USD":  dec("1"),
		"ATOM": dec("10"),
	}}
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}

	d := Deps{
		Oracle:   o,
		Custody:  custody,
		Executor: swapExecutor{},
		Clock:    clk.Now,
		Logger:   zerolog.Nop(),
	}
	for _, fn := range deps {
		fn(&d)
	}

	eng, err := New(testEngineConfig(), d, 0)
	require.NoError(t, err)
	return &fixture{eng: eng, oracle: o, clock: clk}
}

func (f *fixture) balance(t *testing.T, addr, denom string) int64 {
	t.Helper()
	b, err := f.eng.CustodyBalance(context.Background(), addr, denom)
	require.NoError(t, err)
	return b.Int64()
}

func (f *fixture) deposit(t *testing.T, payer string, amount int64) DepositResult {
	t.Helper()
	resp, err := f.eng.Apply(context.Background(), Deposit{
		Vault:   "uusd",
		Payment: bank.Payment{Payer: payer, Denom: "uusd", Amount: bi(amount)},
	})
	require.NoError(t, err)
	return resp.(DepositResult)
}

func (f *fixture) borrow(t *testing.T, owner string, amount int64) BorrowResult {
	t.Helper()
	resp, err := f.eng.Apply(context.Background(), Borrow{
		Vault:  "uusd",
		Owner:  owner,
		Amount: bi(amount),
	})
	require.NoError(t, err)
	return resp.(BorrowResult)
}

func TestEngine_DepositMintsReceipts(t *testing.T) {
	f := newFixture(t)

	res := f.deposit(t, "alice", 1000)
	assert.Equal(t, int64(1000), res.Receipts.Int64())

	assert.Equal(t, int64(999_000), f.balance(t, "alice", "uusd"))
	assert.Equal(t, int64(1000), f.balance(t, VaultAddr("uusd"), "uusd"))
	assert.Equal(t, int64(1000), f.balance(t, "alice", "cl/uusd"))
}

func TestEngine_WithdrawBurnsReceipts(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "alice", 1000)

	resp, err := f.eng.Apply(context.Background(), Withdraw{
		Vault:   "uusd",
		Payment: bank.Payment{Payer: "alice", Denom: "cl/uusd", Amount: bi(400)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(400), resp.(WithdrawResult).Claim.Int64())

	assert.Equal(t, int64(600), f.balance(t, "alice", "cl/uusd"))
	assert.Equal(t, int64(999_400), f.balance(t, "alice", "uusd"))
	assert.Equal(t, int64(600), f.balance(t, VaultAddr("uusd"), "uusd"))
}

func TestEngine_WithdrawBlockedByBorrowedLiquidity(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "alice", 1000)
	f.borrow(t, "bob", 300)

	_, err := f.eng.Apply(context.Background(), Withdraw{
		Vault:   "uusd",
		Payment: bank.Payment{Payer: "alice", Denom: "cl/uusd", Amount: bi(800)},
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientLiquidity)

	// The rejected unit of work left nothing behind.
	assert.Equal(t, int64(1000), f.balance(t, "alice", "cl/uusd"))
	assert.Equal(t, int64(700), f.balance(t, VaultAddr("uusd"), "uusd"))
}

func TestEngine_BorrowChecksAccountSafety(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "alice", 1000)

	// Adjusted collateral is 100 * $10 * 0.5 = $500; a 450 borrow lands
	// exactly on the 0.9 LTV which the 0.8 adjustment threshold rejects.
	_, err := f.eng.Apply(context.Background(), Borrow{Vault: "uusd", Owner: "bob", Amount: bi(450)})
	require.ErrorIs(t, err, credit.ErrUnsafe)

	assert.Equal(t, int64(0), f.balance(t, "bob", "uusd"))
	assert.Equal(t, int64(1000), f.balance(t, VaultAddr("uusd"), "uusd"))
	st, err := f.eng.Borrower("uusd", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Debt.Int64())
}

func TestEngine_BorrowAndRepayWithRefund(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "alice", 1000)

	res := f.borrow(t, "bob", 300)
	assert.Equal(t, int64(300), res.Shares.Int64())
	assert.True(t, res.LTV.Equal(dec("0.6")), "ltv %s", res.LTV)
	assert.Equal(t, int64(300), f.balance(t, "bob", "uusd"))

	// Anyone can repay; carol overpays and the excess refunds to carol.
	require.NoError(t, f.eng.st.custody.Mint(context.Background(), "carol", "uusd", bi(400)))
	resp, err := f.eng.Apply(context.Background(), Repay{
		Vault:   "uusd",
		Owner:   "bob",
		Payment: bank.Payment{Payer: "carol", Denom: "uusd", Amount: bi(400)},
	})
	require.NoError(t, err)
	rr := resp.(RepayResult)
	assert.Equal(t, int64(300), rr.Claim.Int64())
	assert.Equal(t, int64(100), rr.Refund.Int64())

	assert.Equal(t, int64(100), f.balance(t, "carol", "uusd"))
	assert.Equal(t, int64(300), f.balance(t, "bob", "uusd"))
	st, err := f.eng.Borrower("uusd", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Debt.Int64())
}

func TestEngine_BorrowLimitEnforced(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "alice", 1000)

	_, err := f.eng.Apply(context.Background(), SetBorrowerLimit{Vault: "uusd", Owner: "bob", Limit: bi(200)})
	require.NoError(t, err)

	_, err = f.eng.Apply(context.Background(), Borrow{Vault: "uusd", Owner: "bob", Amount: bi(300)})
	require.ErrorIs(t, err, ledger.ErrBorrowLimit)

	_, err = f.eng.Apply(context.Background(), Borrow{Vault: "uusd", Owner: "bob", Amount: bi(200)})
	require.NoError(t, err)
}

func TestEngine_InterestAccruesOverTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.eng.st.custody.Mint(ctx, AccountAddr("bob"), "uatom", bi(300)))

	f.deposit(t, "alice", 1000)
	f.borrow(t, "bob", 800)

	f.clock.Advance(365 * 24 * time.Hour)

	status, err := f.eng.Status()
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, 1, status[0].DebtSize.Cmp(bi(800)), "debt should have grown, got %s", status[0].DebtSize)
	assert.Equal(t, 1, status[0].DepositSize.Cmp(bi(1000)), "deposits should have grown, got %s", status[0].DepositSize)

	// Committing the accrual mints the reserve's fee receipts.
	_, err = f.eng.Apply(ctx, CheckAccount{Owner: "bob"})
	require.NoError(t, err)
	assert.Greater(t, f.balance(t, "reserve", "cl/uusd"), int64(0))
}

func TestEngine_ApplyWithKeyDeduplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := Deposit{
		Vault:   "uusd",
		Payment: bank.Payment{Payer: "alice", Denom: "uusd", Amount: bi(1000)},
	}
	_, err := f.eng.ApplyWithKey(ctx, "dep-1", req)
	require.NoError(t, err)

	_, err = f.eng.ApplyWithKey(ctx, "dep-1", req)
	require.ErrorIs(t, err, ErrDuplicateRequest)

	assert.Equal(t, int64(1000), f.balance(t, "alice", "cl/uusd"))

	// A failed request does not consume its key.
	bad := Borrow{Vault: "uusd", Owner: "bob", Amount: bi(450)}
	_, err = f.eng.ApplyWithKey(ctx, "bor-1", bad)
	require.ErrorIs(t, err, credit.ErrUnsafe)
	_, err = f.eng.ApplyWithKey(ctx, "bor-1", Borrow{Vault: "uusd", Owner: "bob", Amount: bi(100)})
	require.NoError(t, err)
}

func TestEngine_AccountUpdateRunsSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", 1000)
	f.borrow(t, "bob", 300)
	require.NoError(t, f.eng.st.custody.Mint(ctx, AccountAddr("bob"), "uusd", bi(100)))

	resp, err := f.eng.Apply(ctx, AccountUpdate{
		Owner: "bob",
		Steps: []credit.Step{credit.RepayStep{Vault: "uusd"}},
	})
	require.NoError(t, err)
	ar := resp.(AccountResult)
	assert.Equal(t, 1, ar.StepsRun)
	assert.True(t, ar.LTV.Equal(dec("0.4")), "ltv %s", ar.LTV)

	st, err := f.eng.Borrower("uusd", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(200), st.Debt.Int64())
	assert.Equal(t, int64(0), f.balance(t, AccountAddr("bob"), "uusd"))
}

func TestEngine_AccountUpdateFailedStepRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.eng.st.custody.Mint(ctx, AccountAddr("bob"), "uusd", bi(50)))

	// No debt in the vault, so the repay step is rejected outright.
	_, err := f.eng.Apply(ctx, AccountUpdate{
		Owner: "bob",
		Steps: []credit.Step{credit.RepayStep{Vault: "uusd"}},
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientShares)

	assert.Equal(t, int64(50), f.balance(t, AccountAddr("bob"), "uusd"))
}

func TestEngine_LiquidateReachesWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", 1000)
	f.borrow(t, "bob", 300)

	// ATOM halves-ish: adjusted collateral drops to $300 against $300 of
	// debt, LTV 1.0, past the 0.9 liquidation threshold.
	f.oracle.prices["ATOM"] = dec("6")

	resp, err := f.eng.Apply(ctx, Liquidate{
		Owner:      "bob",
		Liquidator: "liq",
		Steps: []credit.Step{
			sellStep(t, "uatom", 10, "uusd", 60),
			credit.RepayStep{Vault: "uusd"},
		},
	})
	require.NoError(t, err)
	lr := resp.(LiquidateResult)
	assert.Equal(t, 2, lr.StepsRun)
	assert.Equal(t, 0, lr.PreferenceFailures)
	assert.True(t, lr.DebtReducedUSD.Equal(dec("60")), "debt reduced %s", lr.DebtReducedUSD)
	assert.True(t, lr.CollateralTakenUSD.Equal(dec("60")), "collateral taken %s", lr.CollateralTakenUSD)
	assert.True(t, lr.FinalLTV.GreaterThanOrEqual(dec("0.8")) && lr.FinalLTV.LessThan(dec("0.9")),
		"final ltv %s outside window", lr.FinalLTV)

	st, err := f.eng.Borrower("uusd", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(240), st.Debt.Int64())
	assert.Equal(t, int64(90), f.balance(t, AccountAddr("bob"), "uatom"))
}

func TestEngine_LiquidateRejectsSafeAccount(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "alice", 1000)
	f.borrow(t, "bob", 300)

	_, err := f.eng.Apply(context.Background(), Liquidate{
		Owner:      "bob",
		Liquidator: "liq",
		Steps:      []credit.Step{credit.RepayStep{Vault: "uusd"}},
	})
	require.ErrorIs(t, err, credit.ErrSafe)
}

func TestEngine_LiquidateOvershootRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", 1000)
	f.borrow(t, "bob", 300)
	f.oracle.prices["ATOM"] = dec("6")

	// Selling 40 uatom repays far past the adjustment floor.
	_, err := f.eng.Apply(ctx, Liquidate{
		Owner:      "bob",
		Liquidator: "liq",
		Steps: []credit.Step{
			sellStep(t, "uatom", 40, "uusd", 240),
			credit.RepayStep{Vault: "uusd"},
		},
	})
	require.ErrorIs(t, err, credit.ErrOverLiquidated)

	st, err := f.eng.Borrower("uusd", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(300), st.Debt.Int64())
	assert.Equal(t, int64(100), f.balance(t, AccountAddr("bob"), "uatom"))
}

func TestEngine_LiquidatePreferenceFailureTolerated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", 1000)
	f.borrow(t, "bob", 300)

	// Bob's declared preference repays from an account that holds no uusd,
	// so the step fails; liquidation continues with the liquidator's steps.
	_, err := f.eng.Apply(ctx, SetPreferenceMsgs{
		Owner: "bob",
		Steps: []credit.Step{credit.RepayStep{Vault: "uusd"}},
	})
	require.NoError(t, err)

	f.oracle.prices["ATOM"] = dec("6")
	resp, err := f.eng.Apply(ctx, Liquidate{
		Owner:      "bob",
		Liquidator: "liq",
		Steps: []credit.Step{
			sellStep(t, "uatom", 10, "uusd", 60),
			credit.RepayStep{Vault: "uusd"},
		},
	})
	require.NoError(t, err)
	lr := resp.(LiquidateResult)
	assert.Equal(t, 2, lr.StepsRun)
	assert.Equal(t, 1, lr.PreferenceFailures)
}

func TestEngine_SetPreferenceOrderRejectsCycle(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Vaults = append(cfg.Vaults, ledger.VaultConfig{
		Denom:        "uosmo",
		Symbol:       "OSMO",
		ReceiptDenom: "cl/uosmo",
		ReserveAddr:  "reserve",
		Curve:        cfg.Vaults[0].Curve,
		FeeRate:      dec("0.1"),
	})

	custody := bank.NewLedger()
	o := &fakeOracle{prices: map[string]decimal.Decimal{"USD": dec("1"), "OSMO": dec("1")}}
	eng, err := New(cfg, Deps{Oracle: o, Custody: custody, Logger: zerolog.Nop()}, 0)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = eng.Apply(ctx, SetPreferenceOrder{Owner: "bob", Denom: "uusd", First: "uosmo"})
	require.NoError(t, err)
	_, err = eng.Apply(ctx, SetPreferenceOrder{Owner: "bob", Denom: "uosmo", First: "uusd"})
	require.ErrorIs(t, err, credit.ErrPreferenceCycle)

	_, err = eng.Apply(ctx, SetPreferenceOrder{Owner: "bob", Denom: "uusd", First: "nope"})
	require.Error(t, err)
}

func TestEngine_EmitsEnvelopes(t *testing.T) {
	persist := make(chan Output, 64)
	events := make(chan Output, 64)
	f := newFixture(t, func(d *Deps) {
		d.PersistChan = persist
		d.EventChan = events
	})

	f.deposit(t, "alice", 1000)
	f.borrow(t, "bob", 300)

	require.Len(t, persist, 2)
	require.Len(t, events, 2)

	out := <-persist
	assert.Equal(t, int64(0), out.Envelope.Sequence)
	assert.Equal(t, event.KindDeposited, out.Envelope.Kind)
	require.NotNil(t, out.Envelope.Vault)
	assert.Equal(t, "uusd", *out.Envelope.Vault)

	var dep event.Deposited
	require.NoError(t, json.Unmarshal(out.Envelope.Payload, &dep))
	assert.Equal(t, "alice", dep.Addr)
	assert.Equal(t, int64(1000), dep.Amount.Int64())

	out = <-persist
	assert.Equal(t, int64(1), out.Envelope.Sequence)
	assert.Equal(t, event.KindBorrowed, out.Envelope.Kind)
}

func TestEngine_SnapshotRestoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", 1000)
	f.borrow(t, "bob", 300)
	_, err := f.eng.Apply(ctx, SetPreferenceMsgs{
		Owner: "bob",
		Steps: []credit.Step{credit.RepayStep{Vault: "uusd", Amount: bi(50)}},
	})
	require.NoError(t, err)

	data, seq, err := f.eng.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)

	restored, err := New(testEngineConfig(), Deps{
		Oracle:  f.oracle,
		Custody: bank.NewLedger(),
		Clock:   f.clock.Now,
		Logger:  zerolog.Nop(),
	}, 0)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(data))

	want, err := f.eng.Status()
	require.NoError(t, err)
	got, err := restored.Status()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	st, err := restored.Borrower("uusd", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(300), st.Debt.Int64())

	b, err := restored.CustodyBalance(ctx, "alice", "cl/uusd")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b.Int64())

	view, err := restored.Account(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, view.LTV.Equal(dec("0.6")), "ltv %s", view.LTV)
}

func TestEngine_ConfigValidation(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Vaults = append(cfg.Vaults, cfg.Vaults[0])
	require.Error(t, cfg.Validate())

	cfg = testEngineConfig()
	cfg.Thresholds.Adjustment = dec("0.95")
	require.Error(t, cfg.Validate())

	cfg = testEngineConfig()
	require.NoError(t, cfg.Validate())
}
