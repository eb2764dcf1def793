package engine

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"CreditLedger/internal/credit"
	"CreditLedger/internal/ledger"
)

// stepRunner executes settlement steps against one unit of work on behalf
// of a single account. Every precondition is checked before the first
// transfer so a rejected step leaves the unit of work untouched.
type stepRunner struct {
	eng   *Engine
	st    *state
	owner string
	ref   string
	now   time.Time
}

func (e *Engine) newStepRunner(st *state, owner string, now time.Time) *stepRunner {
	return &stepRunner{eng: e, st: st, owner: owner, ref: AccountAddr(owner), now: now}
}

func (r *stepRunner) RunStep(ctx context.Context, step credit.Step, _ bool) error {
	switch s := step.(type) {
	case credit.RepayStep:
		return r.runRepay(ctx, s)
	case credit.ExecuteStep:
		if r.eng.executor == nil {
			return fmt.Errorf("engine: no step executor configured for target %q", s.Target)
		}
		return r.eng.executor.Execute(ctx, r.st.custody, r.ref, s.Target, s.Msg)
	default:
		return fmt.Errorf("engine: unknown step type %T", step)
	}
}

// runRepay pays vault debt out of the account's own collateral balance. A
// nil amount repays as much as the balance covers; the amount is always
// capped at the balance so the transfer cannot fail midway.
func (r *stepRunner) runRepay(ctx context.Context, s credit.RepayStep) error {
	v, err := r.st.vault(s.Vault)
	if err != nil {
		return err
	}
	if v.DebtOf(r.ref).Sign() == 0 {
		return ledger.ErrInsufficientShares
	}

	balance, err := r.st.custody.Balance(ctx, r.ref, v.Config.Denom)
	if err != nil {
		return err
	}
	pay := balance
	if s.Amount != nil && s.Amount.Cmp(balance) < 0 {
		pay = new(big.Int).Set(s.Amount)
	}
	if pay.Sign() <= 0 {
		return fmt.Errorf("engine: account holds no %s to repay with", v.Config.Denom)
	}

	if err := r.st.custody.Send(ctx, r.ref, VaultAddr(v.Config.Denom), v.Config.Denom, pay); err != nil {
		return err
	}
	res, err := v.Repay(r.now, r.ref, "", pay)
	if err != nil {
		return err
	}
	if res.Refund.Sign() > 0 {
		// The account paid, so the excess routes back to the account.
		if err := r.st.custody.Send(ctx, VaultAddr(v.Config.Denom), r.ref, v.Config.Denom, res.Refund); err != nil {
			return err
		}
	}
	return nil
}

func (r *stepRunner) Reload(ctx context.Context) (*credit.Account, error) {
	return r.eng.loader(r.st).Load(ctx, r.owner, r.ref)
}
