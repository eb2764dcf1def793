package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"CreditLedger/internal/credit"
	"CreditLedger/internal/event"
	"CreditLedger/internal/ledger"
)

// accrueVault settles a vault's interest, mints the reserve's fee receipts
// and reports the accrual event when anything moved. Handlers call this
// before touching a vault so every computation sees current pool ratios;
// the vault's own internal accrual at the same timestamp is then a no-op.
func (e *Engine) accrueVault(ctx context.Context, st *state, v *ledger.Vault, now time.Time) ([]event.Event, error) {
	acc, err := v.Accrue(now)
	if err != nil {
		return nil, err
	}
	if acc.FeeShares.Sign() > 0 {
		if err := st.custody.Mint(ctx, v.Config.ReserveAddr, v.Config.ReceiptDenom, acc.FeeShares); err != nil {
			return nil, err
		}
	}
	if acc.GrossCharge.Sign() == 0 && acc.FeeShares.Sign() == 0 {
		return nil, nil
	}
	return []event.Event{&event.Accrued{
		Vault:       v.Config.Denom,
		Elapsed:     int64(acc.Elapsed / time.Second),
		Rate:        acc.Rate,
		GrossCharge: acc.GrossCharge,
		NetCredit:   acc.NetCredit,
		FeeShares:   acc.FeeShares,
		FeeCarried:  acc.FeeCarried,
	}}, nil
}

// accrueAll settles every vault, for the account-level paths whose debt
// valuations span vaults.
func (e *Engine) accrueAll(ctx context.Context, st *state, now time.Time) ([]event.Event, error) {
	var evts []event.Event
	for _, denom := range sortedDenoms(st.vaults) {
		more, err := e.accrueVault(ctx, st, st.vaults[denom], now)
		if err != nil {
			return nil, err
		}
		evts = append(evts, more...)
	}
	return evts, nil
}

func (e *Engine) handleDeposit(ctx context.Context, st *state, now time.Time, r Deposit) (any, []event.Event, error) {
	v, err := st.vault(r.Vault)
	if err != nil {
		return nil, nil, err
	}
	amount, err := r.Payment.MustPay(v.Config.Denom)
	if err != nil {
		return nil, nil, err
	}

	evts, err := e.accrueVault(ctx, st, v, now)
	if err != nil {
		return nil, nil, err
	}
	if err := st.custody.Send(ctx, r.Payment.Payer, VaultAddr(v.Config.Denom), v.Config.Denom, amount); err != nil {
		return nil, nil, err
	}
	shares, err := v.Deposit(now, amount)
	if err != nil {
		return nil, nil, err
	}
	if err := st.custody.Mint(ctx, r.Payment.Payer, v.Config.ReceiptDenom, shares); err != nil {
		return nil, nil, err
	}

	evts = append(evts, &event.Deposited{
		Vault:    v.Config.Denom,
		Addr:     r.Payment.Payer,
		Amount:   amount,
		Receipts: shares,
	})
	return DepositResult{Receipts: shares}, evts, nil
}

func (e *Engine) handleWithdraw(ctx context.Context, st *state, now time.Time, r Withdraw) (any, []event.Event, error) {
	v, err := st.vault(r.Vault)
	if err != nil {
		return nil, nil, err
	}
	receipts, err := r.Payment.MustPay(v.Config.ReceiptDenom)
	if err != nil {
		return nil, nil, err
	}

	evts, err := e.accrueVault(ctx, st, v, now)
	if err != nil {
		return nil, nil, err
	}
	if err := st.custody.Burn(ctx, r.Payment.Payer, v.Config.ReceiptDenom, receipts); err != nil {
		return nil, nil, err
	}
	claim, err := v.Withdraw(now, receipts)
	if err != nil {
		return nil, nil, err
	}
	if claim.Sign() > 0 {
		if err := st.custody.Send(ctx, VaultAddr(v.Config.Denom), r.Payment.Payer, v.Config.Denom, claim); err != nil {
			return nil, nil, err
		}
	}

	evts = append(evts, &event.Withdrawn{
		Vault:    v.Config.Denom,
		Addr:     r.Payment.Payer,
		Receipts: receipts,
		Claim:    claim,
	})
	return WithdrawResult{Claim: claim}, evts, nil
}

func (e *Engine) handleBorrow(ctx context.Context, st *state, now time.Time, r Borrow) (any, []event.Event, error) {
	v, err := st.vault(r.Vault)
	if err != nil {
		return nil, nil, err
	}
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("engine: borrow amount must be positive")
	}

	evts, err := e.accrueAll(ctx, st, now)
	if err != nil {
		return nil, nil, err
	}

	ref := AccountAddr(r.Owner)
	shares, err := v.Borrow(now, ref, r.Delegate, r.Amount)
	if err != nil {
		return nil, nil, err
	}
	if err := st.custody.Send(ctx, VaultAddr(v.Config.Denom), r.Owner, v.Config.Denom, r.Amount); err != nil {
		return nil, nil, err
	}

	acct, err := e.loader(st).Load(ctx, r.Owner, ref)
	if err != nil {
		return nil, nil, err
	}
	if err := acct.CheckSafe(e.thresholds.Adjustment); err != nil {
		return nil, nil, err
	}

	evts = append(evts, &event.Borrowed{
		Vault:    v.Config.Denom,
		Addr:     r.Owner,
		Delegate: r.Delegate,
		Amount:   r.Amount,
		Shares:   shares,
	})
	return BorrowResult{Shares: shares, LTV: acct.AdjustedLTV()}, evts, nil
}

func (e *Engine) handleRepay(ctx context.Context, st *state, now time.Time, r Repay) (any, []event.Event, error) {
	v, err := st.vault(r.Vault)
	if err != nil {
		return nil, nil, err
	}
	amount, err := r.Payment.MustPay(v.Config.Denom)
	if err != nil {
		return nil, nil, err
	}

	evts, err := e.accrueVault(ctx, st, v, now)
	if err != nil {
		return nil, nil, err
	}
	if err := st.custody.Send(ctx, r.Payment.Payer, VaultAddr(v.Config.Denom), v.Config.Denom, amount); err != nil {
		return nil, nil, err
	}
	res, err := v.Repay(now, AccountAddr(r.Owner), r.Delegate, amount)
	if err != nil {
		return nil, nil, err
	}
	// Excess goes back to whoever paid, not to the account.
	if res.Refund.Sign() > 0 {
		if err := st.custody.Send(ctx, VaultAddr(v.Config.Denom), r.Payment.Payer, v.Config.Denom, res.Refund); err != nil {
			return nil, nil, err
		}
	}

	evts = append(evts, &event.Repaid{
		Vault:        v.Config.Denom,
		Addr:         r.Owner,
		Delegate:     r.Delegate,
		Claim:        res.Claim,
		SharesBurned: res.SharesBurned,
		Refund:       res.Refund,
	})
	return RepayResult{Claim: res.Claim, SharesBurned: res.SharesBurned, Refund: res.Refund}, evts, nil
}

func (e *Engine) handleAccountUpdate(ctx context.Context, st *state, now time.Time, r AccountUpdate) (any, []event.Event, error) {
	if len(r.Steps) > credit.MaxPreferenceMsgs {
		return nil, nil, fmt.Errorf("%w: %d steps", credit.ErrTooManyPreferenceEntries, len(r.Steps))
	}

	evts, err := e.accrueAll(ctx, st, now)
	if err != nil {
		return nil, nil, err
	}

	runner := e.newStepRunner(st, r.Owner, now)
	for i, step := range r.Steps {
		if err := runner.RunStep(ctx, step, false); err != nil {
			return nil, nil, fmt.Errorf("account step %d: %w", i, err)
		}
	}

	acct, err := runner.Reload(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := acct.CheckSafe(e.thresholds.Adjustment); err != nil {
		return nil, nil, err
	}

	ltv := acct.AdjustedLTV()
	evts = append(evts, &event.AccountUpdated{Owner: r.Owner, StepsRun: len(r.Steps), FinalLTV: ltv})
	return AccountResult{StepsRun: len(r.Steps), LTV: ltv}, evts, nil
}

func (e *Engine) handleCheckAccount(ctx context.Context, st *state, now time.Time, r CheckAccount) (any, []event.Event, error) {
	evts, err := e.accrueAll(ctx, st, now)
	if err != nil {
		return nil, nil, err
	}
	acct, err := e.loader(st).Load(ctx, r.Owner, AccountAddr(r.Owner))
	if err != nil {
		return nil, nil, err
	}
	ltv := acct.AdjustedLTV()
	return CheckResult{LTV: ltv, Safe: ltv.LessThan(e.thresholds.Adjustment)}, evts, nil
}

func (e *Engine) handleLiquidate(ctx context.Context, st *state, now time.Time, r Liquidate) (any, []event.Event, error) {
	if len(r.Steps) > credit.MaxPreferenceMsgs {
		return nil, nil, fmt.Errorf("%w: %d liquidator steps", credit.ErrTooManyPreferenceEntries, len(r.Steps))
	}

	evts, err := e.accrueAll(ctx, st, now)
	if err != nil {
		return nil, nil, err
	}
	acct, err := e.loader(st).Load(ctx, r.Owner, AccountAddr(r.Owner))
	if err != nil {
		return nil, nil, err
	}

	runner := e.newStepRunner(st, r.Owner, now)
	liq := credit.NewLiquidator(e.thresholds, runner, e.log)
	out, err := liq.Run(ctx, acct, st.prefs[r.Owner], r.Steps)
	if err != nil {
		return nil, nil, err
	}

	evts = append(evts, &event.LiquidationStarted{
		Owner:      r.Owner,
		Liquidator: r.Liquidator,
		LTV:        acct.AdjustedLTV(),
		QueueLen:   out.StepsRun + len(out.PreferenceFailures),
	})
	for _, f := range out.PreferenceFailures {
		evts = append(evts, &event.LiquidationStepFailed{
			Owner:     r.Owner,
			StepIndex: f.Index,
			Reason:    f.Err.Error(),
		})
	}
	evts = append(evts, &event.LiquidationCompleted{
		Owner:              r.Owner,
		Liquidator:         r.Liquidator,
		StepsRun:           out.StepsRun,
		FinalLTV:           out.FinalLTV,
		DebtReducedUSD:     out.DebtReducedUSD,
		CollateralTakenUSD: out.CollateralTakenUSD,
	})

	if e.metrics != nil {
		e.metrics.LiquidationsCompleted.Inc()
	}
	return LiquidateResult{
		StepsRun:           out.StepsRun,
		PreferenceFailures: len(out.PreferenceFailures),
		FinalLTV:           out.FinalLTV,
		DebtReducedUSD:     out.DebtReducedUSD,
		CollateralTakenUSD: out.CollateralTakenUSD,
	}, evts, nil
}

func (e *Engine) handleSetBorrowerLimit(st *state, r SetBorrowerLimit) (any, []event.Event, error) {
	v, err := st.vault(r.Vault)
	if err != nil {
		return nil, nil, err
	}
	if r.Limit == nil || r.Limit.Sign() < 0 {
		return nil, nil, fmt.Errorf("engine: borrow limit must be zero or positive")
	}
	v.Borrowers.SetLimit(AccountAddr(r.Owner), r.Limit)
	return nil, []event.Event{&event.LimitSet{Vault: r.Vault, Addr: r.Owner, Limit: r.Limit}}, nil
}

func (e *Engine) handleSetRateCurve(st *state, now time.Time, r SetRateCurve) (any, []event.Event, error) {
	v, err := st.vault(r.Vault)
	if err != nil {
		return nil, nil, err
	}
	// SetRateCurve settles under the old curve before swapping.
	if err := v.SetRateCurve(now, r.Curve); err != nil {
		return nil, nil, err
	}
	return nil, []event.Event{&event.RateCurveSet{
		Vault:             r.Vault,
		BaseRate:          r.Curve.BaseRate,
		Step1:             r.Curve.Step1,
		Step2:             r.Curve.Step2,
		TargetUtilization: r.Curve.TargetUtilization,
	}}, nil
}

func (e *Engine) handleSetCollateralRatio(st *state, r SetCollateralRatio) (any, []event.Event, error) {
	for i, cp := range st.collaterals {
		if cp.Denom != r.Denom {
			continue
		}
		updated := cp
		updated.Ratio = r.Ratio
		if err := updated.Validate(); err != nil {
			return nil, nil, err
		}
		st.collaterals[i] = updated
		return nil, []event.Event{&event.CollateralRatioSet{Denom: r.Denom, Ratio: r.Ratio}}, nil
	}
	return nil, nil, fmt.Errorf("engine: unknown collateral denom %q", r.Denom)
}

func (e *Engine) handleSetPreferenceMsgs(st *state, r SetPreferenceMsgs) (any, []event.Event, error) {
	for i, step := range r.Steps {
		if rs, ok := step.(credit.RepayStep); ok {
			if _, err := st.vault(rs.Vault); err != nil {
				return nil, nil, fmt.Errorf("preference step %d: %w", i, err)
			}
		}
	}
	p := st.preferences(r.Owner)
	if err := p.SetMsgs(r.Steps); err != nil {
		return nil, nil, err
	}
	return nil, []event.Event{&event.PreferenceSet{
		Owner:     r.Owner,
		MsgCount:  len(r.Steps),
		OrderSize: p.OrderLen(),
	}}, nil
}

func (e *Engine) handleSetPreferenceOrder(st *state, r SetPreferenceOrder) (any, []event.Event, error) {
	if _, err := st.vault(r.Denom); err != nil {
		return nil, nil, err
	}
	if _, err := st.vault(r.First); err != nil {
		return nil, nil, err
	}
	p := st.preferences(r.Owner)
	if err := p.SetOrder(r.Denom, r.First); err != nil {
		return nil, nil, err
	}
	return nil, []event.Event{&event.PreferenceSet{
		Owner:     r.Owner,
		MsgCount:  len(p.Msgs),
		OrderSize: p.OrderLen(),
	}}, nil
}

func sortedDenoms(vaults map[string]*ledger.Vault) []string {
	denoms := make([]string, 0, len(vaults))
	for d := range vaults {
		denoms = append(denoms, d)
	}
	sort.Strings(denoms)
	return denoms
}
