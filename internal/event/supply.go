package event

import "math/big"

type Deposited struct {
	Vault    string   `json:"vault"`
	Addr     string   `json:"addr"`
	Amount   *big.Int `json:"amount"`
	Receipts *big.Int `json:"receipts"`
}

func (d *Deposited) EventKind() Kind { return KindDeposited }

func (d *Deposited) VaultID() *string { return &d.Vault }

type Withdrawn struct {
	Vault    string   `json:"vault"`
	Addr     string   `json:"addr"`
	Receipts *big.Int `json:"receipts"`
	Claim    *big.Int `json:"claim"`
}

func (w *Withdrawn) EventKind() Kind { return KindWithdrawn }

func (w *Withdrawn) VaultID() *string { return &w.Vault }
