package ledger

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"CreditLedger/internal/pool"
)

// VaultConfig is the per-denom money-market configuration.
type VaultConfig struct {
	Denom        string          `yaml:"denom" json:"denom"`
	Symbol       string          `yaml:"symbol" json:"symbol"`
	ReceiptDenom string          `yaml:"receipt_denom" json:"receipt_denom"`
	ReserveAddr  string          `yaml:"reserve_addr" json:"reserve_addr"`
	Curve        pool.RateCurve  `yaml:"curve" json:"curve"`
	FeeRate      decimal.Decimal `yaml:"fee_rate" json:"fee_rate"`
}

func (c VaultConfig) Validate() error {
	if c.Denom == "" || c.ReceiptDenom == "" {
		return fmt.Errorf("vault %q: denom and receipt_denom required", c.Denom)
	}
	if c.Symbol == "" {
		return fmt.Errorf("vault %q: oracle symbol required", c.Denom)
	}
	if c.ReserveAddr == "" {
		return fmt.Errorf("vault %q: reserve_addr required", c.Denom)
	}
	if c.FeeRate.IsNegative() || c.FeeRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("vault %q: fee_rate must be in [0,1]", c.Denom)
	}
	return c.Curve.Validate()
}

// Vault is one denom's money market: a ledger state, its borrower
// bookkeeping, and the rate configuration. All mutating entry points accrue
// interest first so every computation sees current pool ratios.
type Vault struct {
	Config    VaultConfig
	State     *State
	Borrowers *Borrowers
}

func NewVault(cfg VaultConfig, now time.Time) *Vault {
	return &Vault{
		Config:    cfg,
		State:     NewState(now),
		Borrowers: NewBorrowers(),
	}
}

// RepayResult reports the authoritative outcome of a repay: Claim is the
// exact amount removed from the debt pool, Refund what must return to the
// payer.
type RepayResult struct {
	Claim        *big.Int
	SharesBurned *big.Int
	Refund       *big.Int
}

func (v *Vault) Accrue(now time.Time) (*Accrual, error) {
	return v.State.Accrue(now, v.Config.Curve, v.Config.FeeRate)
}

// Deposit accrues, then joins the deposit pool. Returns the shares to mint
// as receipt tokens.
func (v *Vault) Deposit(now time.Time, amount *big.Int) (*big.Int, error) {
	if _, err := v.Accrue(now); err != nil {
		return nil, err
	}
	return v.State.Deposit(amount)
}

// Withdraw accrues, then burns deposit shares, subject to the liquidity
// guard. Returns the pool's claim.
func (v *Vault) Withdraw(now time.Time, shares *big.Int) (*big.Int, error) {
	if _, err := v.Accrue(now); err != nil {
		return nil, err
	}
	return v.State.Withdraw(shares)
}

// Borrow accrues, joins the debt pool and records the shares against the
// borrower (and delegate, when set).
func (v *Vault) Borrow(now time.Time, addr, delegate string, amount *big.Int) (*big.Int, error) {
	if _, err := v.Accrue(now); err != nil {
		return nil, err
	}
	shares, err := v.State.Borrow(amount)
	if err != nil {
		return nil, err
	}
	if err := v.Borrowers.RecordBorrow(addr, delegate, shares); err != nil {
		// Caller runs inside a unit of work; the partial pool join is
		// discarded with it.
		return nil, err
	}
	return shares, nil
}

// Repay accrues, burns up to the borrower's owned shares with ceiling
// rounding and reports the claim plus the refund owed to the payer.
func (v *Vault) Repay(now time.Time, addr, delegate string, amount *big.Int) (*RepayResult, error) {
	if _, err := v.Accrue(now); err != nil {
		return nil, err
	}

	owned := v.Borrowers.SharesOf(addr)
	if delegate != "" {
		// A delegate-path repay is bounded by the delegate entry plus the
		// spillover the sub-ledger can absorb, which RecordRepay handles;
		// the pool bound stays the borrower total.
		if owned.Sign() == 0 {
			return nil, ErrInsufficientShares
		}
	}

	claim, burned, err := v.State.Repay(amount, owned)
	if err != nil {
		return nil, err
	}
	if err := v.Borrowers.RecordRepay(addr, delegate, burned); err != nil {
		return nil, err
	}

	refund := new(big.Int).Sub(amount, claim)
	if refund.Sign() < 0 {
		return nil, fmt.Errorf("%w: repay claim %s exceeds paid %s", ErrInvariantBroken, claim, amount)
	}
	return &RepayResult{Claim: claim, SharesBurned: burned, Refund: refund}, nil
}

// SetRateCurve settles interest earned under the old curve before the new
// one takes effect. Applying a new rate across the unaccrued interval would
// reprice interest retroactively.
func (v *Vault) SetRateCurve(now time.Time, curve pool.RateCurve) error {
	if err := curve.Validate(); err != nil {
		return err
	}
	if _, err := v.Accrue(now); err != nil {
		return err
	}
	v.Config.Curve = curve
	return nil
}

// DebtOf returns a borrower's current debt in underlying units.
func (v *Vault) DebtOf(addr string) *big.Int {
	return v.State.Debt.Ownership(v.Borrowers.SharesOf(addr))
}

// Headroom returns how much addr can still borrow: the share-limit headroom
// converted to units, capped by free pool liquidity. Both subtractions are
// checked; an over-limit borrower simply has zero headroom.
func (v *Vault) Headroom(addr string) *big.Int {
	free := new(big.Int).Sub(v.State.Deposits.Size(), v.State.Debt.Size())
	if free.Sign() < 0 {
		free = big.NewInt(0)
	}

	b, ok := v.Borrowers.Get(addr)
	if !ok || b.Limit.Sign() == 0 {
		return free
	}
	spare := new(big.Int).Sub(b.Limit, b.Shares)
	if spare.Sign() <= 0 {
		return big.NewInt(0)
	}
	// Convert spare shares to units at the current debt ratio; an empty
	// debt pool converts 1:1.
	byLimit := new(big.Int).Set(spare)
	if totalShares := v.State.Debt.Shares(); totalShares.Sign() > 0 {
		byLimit = mulDivFloor(spare, v.State.Debt.Size(), totalShares)
	}
	if byLimit.Cmp(free) > 0 {
		return free
	}
	return byLimit
}

// Clone deep-copies the vault for the unit-of-work layer.
func (v *Vault) Clone() *Vault {
	return &Vault{
		Config:    v.Config,
		State:     v.State.Clone(),
		Borrowers: v.Borrowers.Clone(),
	}
}
