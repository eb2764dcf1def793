package credit

import (
	"context"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Phase tracks where a liquidation run is in its lifecycle. The run is a
// strict pipeline: Pending -> Stepping -> Safe or UnsafeExhausted.
type Phase string

const (
	PhasePending         Phase = "pending"
	PhaseStepping        Phase = "stepping"
	PhaseSafe            Phase = "safe"
	PhaseUnsafeExhausted Phase = "unsafe_exhausted"
)

// Thresholds carries the LTV bounds and slip budget for one vault family.
type Thresholds struct {
	// Adjustment is the LTV an owner-driven Account call must end below,
	// and the floor a liquidation must not undershoot.
	Adjustment decimal.Decimal `yaml:"adjustment" json:"adjustment"`
	// Liquidation is the LTV at or above which an account is seizable.
	Liquidation decimal.Decimal `yaml:"liquidation" json:"liquidation"`
	// MaxSlip bounds how much collateral value a liquidation may remove
	// beyond the debt value it retires, as a fraction of the debt reduced.
	MaxSlip decimal.Decimal `yaml:"max_slip" json:"max_slip"`
}

func (t Thresholds) Validate() error {
	if t.Adjustment.Sign() <= 0 || t.Liquidation.Sign() <= 0 {
		return fmt.Errorf("credit: thresholds must be positive")
	}
	if !t.Adjustment.LessThan(t.Liquidation) {
		return fmt.Errorf("credit: adjustment threshold %s must be below liquidation threshold %s",
			t.Adjustment, t.Liquidation)
	}
	if t.MaxSlip.Sign() < 0 {
		return fmt.Errorf("credit: max slip must not be negative")
	}
	return nil
}

// StepRunner executes one settlement step against live state and reloads
// the account afterwards. The caller owns atomicity: all effects performed
// through the runner must be discarded together if Run returns an error.
type StepRunner interface {
	RunStep(ctx context.Context, step Step, preference bool) error
	Reload(ctx context.Context) (*Account, error)
}

// StepFailure records a tolerated preference-step failure.
type StepFailure struct {
	Index int
	Step  Step
	Err   error
}

// Outcome reports a finished run. Phase is PhaseSafe on the success path;
// every other terminal condition is surfaced as an error from Run.
type Outcome struct {
	Phase              Phase
	StepsRun           int
	PreferenceFailures []StepFailure
	FinalLTV           decimal.Decimal
	DebtReducedUSD     decimal.Decimal
	CollateralTakenUSD decimal.Decimal
}

type queuedStep struct {
	step       Step
	preference bool
}

// Liquidator drives the liquidation pipeline for a single account within
// one unit of work. It holds no state across runs.
type Liquidator struct {
	thresholds Thresholds
	runner     StepRunner
	log        zerolog.Logger
}

func NewLiquidator(t Thresholds, runner StepRunner, log zerolog.Logger) *Liquidator {
	return &Liquidator{
		thresholds: t,
		runner:     runner,
		log:        log.With().Str("component", "liquidator").Logger(),
	}
}

// Run executes the liquidation queue for acct: owner preference steps
// first (ordered, failures tolerated), then liquidator steps (failures
// fatal). It terminates successfully the moment the reloaded account's LTV
// lands in [adjustment, liquidation), then enforces the seizure
// post-conditions. Any returned error means the caller must discard every
// effect of the run.
func (l *Liquidator) Run(ctx context.Context, acct *Account, prefs *Preferences, liquidatorSteps []Step) (*Outcome, error) {
	if err := acct.CheckUnsafe(l.thresholds.Liquidation); err != nil {
		return nil, err
	}

	var queue []queuedStep
	if prefs != nil {
		for _, s := range prefs.OrderSteps() {
			queue = append(queue, queuedStep{step: s, preference: true})
		}
	}
	for _, s := range liquidatorSteps {
		queue = append(queue, queuedStep{step: s})
	}

	before := snapshotHoldings(acct)
	out := &Outcome{Phase: PhasePending}

	l.log.Info().
		Str("owner", acct.Owner).
		Str("ref", acct.Ref).
		Int("queue", len(queue)).
		Stringer("ltv", acct.AdjustedLTV()).
		Msg("liquidation started")

	out.Phase = PhaseStepping
	cur := acct
	for i, q := range queue {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := l.runner.RunStep(ctx, q.step, q.preference); err != nil {
			if !q.preference {
				return nil, fmt.Errorf("liquidator step %d: %w", i, err)
			}
			// Owner-declared steps can never block liquidation.
			out.PreferenceFailures = append(out.PreferenceFailures, StepFailure{Index: i, Step: q.step, Err: err})
			l.log.Warn().Int("step", i).Err(err).Msg("preference step failed, continuing")
			continue
		}
		out.StepsRun++

		reloaded, err := l.runner.Reload(ctx)
		if err != nil {
			return nil, fmt.Errorf("reload after step %d: %w", i, err)
		}
		cur = reloaded

		ltv := cur.AdjustedLTV()
		if ltv.LessThan(l.thresholds.Liquidation) && !ltv.LessThan(l.thresholds.Adjustment) {
			return l.finish(out, before, cur, ltv)
		}
		if ltv.LessThan(l.thresholds.Adjustment) {
			// Stepped past the window: more value was taken than the
			// minimum adjustment allows.
			return nil, fmt.Errorf("%w: ltv %s below adjustment threshold %s",
				ErrOverLiquidated, ltv, l.thresholds.Adjustment)
		}
	}

	out.Phase = PhaseUnsafeExhausted
	return nil, fmt.Errorf("%w: ltv %s after %d steps",
		ErrLiquidationExhausted, cur.AdjustedLTV(), out.StepsRun)
}

// finish validates the seizure post-conditions and seals the outcome.
func (l *Liquidator) finish(out *Outcome, before holdings, after *Account, ltv decimal.Decimal) (*Outcome, error) {
	for _, c := range after.Collaterals {
		prev, ok := before.amounts[c.Denom]
		if !ok {
			prev = new(big.Int)
		}
		if c.Amount.Cmp(prev) > 0 {
			return nil, fmt.Errorf("%w: collateral %s grew during liquidation",
				ErrOverLiquidated, c.Denom)
		}
	}

	debtReduced := before.debtUSD.Sub(after.DebtUSD())
	taken := before.collateralUSD.Sub(after.CollateralUSD())
	budget := debtReduced.Mul(decimal.NewFromInt(1).Add(l.thresholds.MaxSlip))
	if taken.GreaterThan(budget) {
		return nil, fmt.Errorf("%w: removed %s USD of collateral against %s USD debt reduction (budget %s)",
			ErrOverLiquidated, taken, debtReduced, budget)
	}

	out.Phase = PhaseSafe
	out.FinalLTV = ltv
	out.DebtReducedUSD = debtReduced
	out.CollateralTakenUSD = taken
	l.log.Info().
		Int("steps", out.StepsRun).
		Int("preference_failures", len(out.PreferenceFailures)).
		Stringer("ltv", ltv).
		Msg("liquidation reached safety")
	return out, nil
}

type holdings struct {
	amounts       map[string]*big.Int
	collateralUSD decimal.Decimal
	debtUSD       decimal.Decimal
}

func snapshotHoldings(acct *Account) holdings {
	h := holdings{
		amounts:       make(map[string]*big.Int, len(acct.Collaterals)),
		collateralUSD: acct.CollateralUSD(),
		debtUSD:       acct.DebtUSD(),
	}
	for _, c := range acct.Collaterals {
		h.amounts[c.Denom] = new(big.Int).Set(c.Amount)
	}
	return h
}
