package event

import (
	"math/big"

	"github.com/shopspring/decimal"
)

type LimitSet struct {
	Vault string   `json:"vault"`
	Addr  string   `json:"addr"`
	Limit *big.Int `json:"limit"`
}

func (l *LimitSet) EventKind() Kind { return KindLimitSet }

func (l *LimitSet) VaultID() *string { return &l.Vault }

type RateCurveSet struct {
	Vault             string          `json:"vault"`
	BaseRate          decimal.Decimal `json:"base_rate"`
	Step1             decimal.Decimal `json:"step1"`
	Step2             decimal.Decimal `json:"step2"`
	TargetUtilization decimal.Decimal `json:"target_utilization"`
}

func (r *RateCurveSet) EventKind() Kind { return KindRateCurveSet }

func (r *RateCurveSet) VaultID() *string { return &r.Vault }

type CollateralRatioSet struct {
	Denom string          `json:"denom"`
	Ratio decimal.Decimal `json:"ratio"`
}

func (c *CollateralRatioSet) EventKind() Kind { return KindCollateralRatioSet }

func (c *CollateralRatioSet) VaultID() *string { return nil }

type PreferenceSet struct {
	Owner     string `json:"owner"`
	MsgCount  int    `json:"msg_count"`
	OrderSize int    `json:"order_size"`
}

func (p *PreferenceSet) EventKind() Kind { return KindPreferenceSet }

func (p *PreferenceSet) VaultID() *string { return nil }

type AccountUpdated struct {
	Owner    string          `json:"owner"`
	StepsRun int             `json:"steps_run"`
	FinalLTV decimal.Decimal `json:"final_ltv"`
}

func (a *AccountUpdated) EventKind() Kind { return KindAccountUpdated }

func (a *AccountUpdated) VaultID() *string { return nil }
