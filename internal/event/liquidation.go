package event

import "github.com/shopspring/decimal"

type LiquidationStarted struct {
	Owner      string          `json:"owner"`
	Liquidator string          `json:"liquidator"`
	LTV        decimal.Decimal `json:"ltv"`
	QueueLen   int             `json:"queue_len"`
}

func (l *LiquidationStarted) EventKind() Kind { return KindLiquidationStarted }

func (l *LiquidationStarted) VaultID() *string { return nil }

// LiquidationStepFailed records a tolerated preference-step failure. A
// liquidator step's failure aborts the run and emits nothing.
type LiquidationStepFailed struct {
	Owner     string `json:"owner"`
	StepIndex int    `json:"step_index"`
	Reason    string `json:"reason"`
}

func (l *LiquidationStepFailed) EventKind() Kind { return KindLiquidationStepFailed }

func (l *LiquidationStepFailed) VaultID() *string { return nil }

type LiquidationCompleted struct {
	Owner              string          `json:"owner"`
	Liquidator         string          `json:"liquidator"`
	StepsRun           int             `json:"steps_run"`
	FinalLTV           decimal.Decimal `json:"final_ltv"`
	DebtReducedUSD     decimal.Decimal `json:"debt_reduced_usd"`
	CollateralTakenUSD decimal.Decimal `json:"collateral_taken_usd"`
}

func (l *LiquidationCompleted) EventKind() Kind { return KindLiquidationCompleted }

func (l *LiquidationCompleted) VaultID() *string { return nil }
