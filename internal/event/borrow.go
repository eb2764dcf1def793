package event

import "math/big"

type Borrowed struct {
	Vault    string   `json:"vault"`
	Addr     string   `json:"addr"`
	Delegate string   `json:"delegate,omitempty"`
	Amount   *big.Int `json:"amount"`
	Shares   *big.Int `json:"shares"`
}

func (b *Borrowed) EventKind() Kind { return KindBorrowed }

func (b *Borrowed) VaultID() *string { return &b.Vault }

type Repaid struct {
	Vault        string   `json:"vault"`
	Addr         string   `json:"addr"`
	Delegate     string   `json:"delegate,omitempty"`
	Claim        *big.Int `json:"claim"`
	SharesBurned *big.Int `json:"shares_burned"`
	Refund       *big.Int `json:"refund"`
}

func (r *Repaid) EventKind() Kind { return KindRepaid }

func (r *Repaid) VaultID() *string { return &r.Vault }
