package pool_test

import (
	"errors"
	"math/big"
	"testing"

	"CreditLedger/internal/pool"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func seedPool(t *testing.T, size, shares int64) *pool.SharePool {
	t.Helper()
	p := pool.NewSharePool()
	if shares > 0 {
		if _, err := p.Join(bi(shares)); err != nil {
			t.Fatalf("seed join: %v", err)
		}
		// Grow size without shares to reach the desired ratio.
		p.Deposit(bi(size - shares))
	}
	return p
}

// ============================================================================
// Test: Join
// ============================================================================

func TestSharePool_JoinEmptyMintsOneToOne(t *testing.T) {
	p := pool.NewSharePool()

	minted, err := p.Join(bi(1000))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if minted.Cmp(bi(1000)) != 0 {
		t.Errorf("minted = %s, want 1000", minted)
	}
	if p.Size().Cmp(bi(1000)) != 0 || p.Shares().Cmp(bi(1000)) != 0 {
		t.Errorf("pool = {%s, %s}, want {1000, 1000}", p.Size(), p.Shares())
	}
}

func TestSharePool_JoinProportional(t *testing.T) {
	p := seedPool(t, 1000, 100) // ratio 10:1

	minted, err := p.Join(bi(250))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if minted.Cmp(bi(25)) != 0 {
		t.Errorf("minted = %s, want 25", minted)
	}
	if p.Size().Cmp(bi(1250)) != 0 || p.Shares().Cmp(bi(125)) != 0 {
		t.Errorf("pool = {%s, %s}, want {1250, 125}", p.Size(), p.Shares())
	}
}

func TestSharePool_JoinDustFailsZeroIssuance(t *testing.T) {
	p := seedPool(t, 1000, 1) // ratio 1000:1

	_, err := p.Join(bi(999))
	if !errors.Is(err, pool.ErrZeroIssuance) {
		t.Fatalf("err = %v, want ErrZeroIssuance", err)
	}
	// Failed join must not mutate the pool.
	if p.Size().Cmp(bi(1000)) != 0 || p.Shares().Cmp(bi(1)) != 0 {
		t.Errorf("pool mutated by failed join: {%s, %s}", p.Size(), p.Shares())
	}
}

func TestSharePool_JoinCeilMintsAtLeastOne(t *testing.T) {
	p := seedPool(t, 1000, 1)

	minted, err := p.JoinCeil(bi(999))
	if err != nil {
		t.Fatalf("join ceil: %v", err)
	}
	if minted.Cmp(bi(1)) != 0 {
		t.Errorf("minted = %s, want 1", minted)
	}
}

// ============================================================================
// Test: Leave
// ============================================================================

func TestSharePool_LeaveRoundsDown(t *testing.T) {
	// {size:1000, shares:3}, leave(1) -> claim 333, {667, 2}.
	p := seedPool(t, 1000, 3)

	claim, err := p.Leave(bi(1))
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if claim.Cmp(bi(333)) != 0 {
		t.Errorf("claim = %s, want 333", claim)
	}
	if p.Size().Cmp(bi(667)) != 0 || p.Shares().Cmp(bi(2)) != 0 {
		t.Errorf("pool = {%s, %s}, want {667, 2}", p.Size(), p.Shares())
	}
}

func TestSharePool_LeaveExactExitZeroesPool(t *testing.T) {
	p := seedPool(t, 1000, 3)

	claim, err := p.Leave(bi(3))
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if claim.Cmp(bi(1000)) != 0 {
		t.Errorf("claim = %s, want full size 1000", claim)
	}
	if p.Size().Sign() != 0 || p.Shares().Sign() != 0 {
		t.Errorf("pool not zeroed: {%s, %s}", p.Size(), p.Shares())
	}
}

func TestSharePool_LeaveZeroShares(t *testing.T) {
	p := seedPool(t, 1000, 3)
	if _, err := p.Leave(bi(0)); !errors.Is(err, pool.ErrZeroAmount) {
		t.Fatalf("err = %v, want ErrZeroAmount", err)
	}
}

func TestSharePool_LeaveOverflow(t *testing.T) {
	p := seedPool(t, 1000, 3)
	if _, err := p.Leave(bi(4)); !errors.Is(err, pool.ErrShareOverflow) {
		t.Fatalf("err = %v, want ErrShareOverflow", err)
	}
}

// ============================================================================
// Test: Ownership / Deposit
// ============================================================================

func TestSharePool_OwnershipMatchesLeave(t *testing.T) {
	p := seedPool(t, 1000, 3)

	owned := p.Ownership(bi(1))
	claim, err := p.Leave(bi(1))
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if owned.Cmp(claim) != 0 {
		t.Errorf("ownership %s != leave claim %s", owned, claim)
	}
}

func TestSharePool_DepositRaisesRatio(t *testing.T) {
	p := seedPool(t, 1000, 100)

	before := p.Ownership(bi(100))
	p.Deposit(bi(500))
	after := p.Ownership(bi(100))

	if after.Cmp(bi(1500)) != 0 {
		t.Errorf("ownership after deposit = %s, want 1500", after)
	}
	if p.Shares().Cmp(bi(100)) != 0 {
		t.Errorf("deposit minted shares: %s", p.Shares())
	}
	if after.Cmp(before) <= 0 {
		t.Error("deposit did not increase the size/shares ratio")
	}
}

// Conservation: across many joins and leaves, pool size equals the sum of
// claims still inside it; nothing created or destroyed by rounding.
func TestSharePool_ConservationUnderChurn(t *testing.T) {
	p := pool.NewSharePool()

	paidIn := big.NewInt(0)
	paidOut := big.NewInt(0)

	amounts := []int64{1000, 7, 333, 919, 12, 500000, 1}
	var held []*big.Int

	for _, a := range amounts {
		minted, err := p.Join(bi(a))
		if err != nil {
			if errors.Is(err, pool.ErrZeroIssuance) {
				continue
			}
			t.Fatalf("join(%d): %v", a, err)
		}
		paidIn.Add(paidIn, bi(a))
		held = append(held, minted)
	}

	// Interest-style deposits between exits.
	p.Deposit(bi(12345))
	paidIn.Add(paidIn, bi(12345))

	for _, s := range held {
		claim, err := p.Leave(s)
		if err != nil {
			t.Fatalf("leave(%s): %v", s, err)
		}
		paidOut.Add(paidOut, claim)
	}

	residual := new(big.Int).Sub(paidIn, paidOut)
	if residual.Cmp(p.Size()) != 0 {
		t.Errorf("paidIn-paidOut = %s, pool size = %s", residual, p.Size())
	}
	if p.Shares().Sign() != 0 {
		t.Errorf("shares left after full exit: %s", p.Shares())
	}
}
