package event

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Accrued is emitted for every interest distribution with a nonzero charge.
type Accrued struct {
	Vault       string          `json:"vault"`
	Elapsed     int64           `json:"elapsed_seconds"`
	Rate        decimal.Decimal `json:"rate"`
	GrossCharge *big.Int        `json:"gross_charge"`
	NetCredit   *big.Int        `json:"net_credit"`
	FeeShares   *big.Int        `json:"fee_shares"`
	// FeeCarried is true when fee-share minting failed this period and the
	// fee value was parked for a later retry. The debt side is still
	// charged the full gross amount.
	FeeCarried bool `json:"fee_carried"`
}

func (a *Accrued) EventKind() Kind { return KindAccrued }

func (a *Accrued) VaultID() *string { return &a.Vault }
