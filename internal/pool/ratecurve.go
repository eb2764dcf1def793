package pool

import (
	"errors"

	"github.com/shopspring/decimal"
)

var decimalOne = decimal.NewFromInt(1)

var (
	ErrCurveTarget = errors.New("pool: target utilization must be in (0,1)")
	ErrCurveSlope  = errors.New("pool: rate curve slopes must be non-negative")
)

// RateCurve is a piecewise-linear borrow-rate function of utilization:
// BaseRate at zero utilization, rising by Step1 up to TargetUtilization,
// then by Step2 up to 100% utilization.
type RateCurve struct {
	BaseRate          decimal.Decimal `json:"base_rate" yaml:"base_rate"`
	Step1             decimal.Decimal `json:"step1" yaml:"step1"`
	Step2             decimal.Decimal `json:"step2" yaml:"step2"`
	TargetUtilization decimal.Decimal `json:"target_utilization" yaml:"target_utilization"`
}

func (c RateCurve) Validate() error {
	if c.TargetUtilization.LessThanOrEqual(decimal.Zero) || c.TargetUtilization.GreaterThanOrEqual(decimalOne) {
		return ErrCurveTarget
	}
	if c.BaseRate.IsNegative() || c.Step1.IsNegative() || c.Step2.IsNegative() {
		return ErrCurveSlope
	}
	return nil
}

// Rate returns the annual borrow rate at the given utilization. Utilization
// outside [0,1] is clamped; the ledger never produces such a value, but the
// curve itself stays total.
func (c RateCurve) Rate(utilization decimal.Decimal) decimal.Decimal {
	if utilization.IsNegative() {
		utilization = decimal.Zero
	}
	if utilization.GreaterThan(decimalOne) {
		utilization = decimalOne
	}

	if utilization.LessThanOrEqual(c.TargetUtilization) {
		// base + step1 * u / target
		return c.BaseRate.Add(c.Step1.Mul(utilization).Div(c.TargetUtilization))
	}

	// base + step1 + step2 * (u - target) / (1 - target)
	over := utilization.Sub(c.TargetUtilization)
	span := decimalOne.Sub(c.TargetUtilization)
	return c.BaseRate.Add(c.Step1).Add(c.Step2.Mul(over).Div(span))
}
