package credit

import (
	"context"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"CreditLedger/internal/oracle"
)

type fakeOracle map[string]decimal.Decimal

func (f fakeOracle) PriceUSD(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := f[symbol]
	if !ok {
		return decimal.Zero, oracle.ErrNotFound
	}
	return p, nil
}

type fakeBank map[string]map[string]*big.Int // addr -> denom -> balance

func (f fakeBank) Balance(_ context.Context, addr, denom string) (*big.Int, error) {
	if held, ok := f[addr]; ok {
		if b, ok := held[denom]; ok {
			return new(big.Int).Set(b), nil
		}
	}
	return big.NewInt(0), nil
}

func (f fakeBank) Send(_ context.Context, from, to, denom string, amount *big.Int) error {
	return nil
}

type fakeDebts struct {
	balances map[string][]DebtBalance
	symbols  map[string]string
}

func (f *fakeDebts) DebtBalances(ref string) []DebtBalance { return f.balances[ref] }
func (f *fakeDebts) DebtSymbol(denom string) string        { return f.symbols[denom] }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func bi(v int64) *big.Int { return big.NewInt(v) }

func testLoader(o fakeOracle, b fakeBank, d *fakeDebts) *Loader {
	return &Loader{
		Oracle: o,
		Bank:   b,
		Debts:  d,
		Collaterals: []CollateralParam{
			{Denom: "uatom", Symbol: "ATOM", Ratio: dec("0.8")},
			{Denom: "uosmo", Symbol: "OSMO", Ratio: dec("0.6")},
		},
	}
}

func TestAccount_AdjustedLTVTotality(t *testing.T) {
	// No debt at all.
	empty := &Account{}
	require.True(t, empty.AdjustedLTV().IsZero())

	// Debt but zero collateral: maximal sentinel, never a division fault.
	underwater := &Account{
		Debts: []DebtValuation{{Denom: "uusd", Amount: bi(100), ValueUSD: dec("100")}},
	}
	require.True(t, underwater.AdjustedLTV().Equal(MaxLTV))
	require.Error(t, underwater.CheckSafe(dec("0.85")))

	// Ordinary case: 100 debt over 80 adjusted collateral.
	normal := &Account{
		Collaterals: []CollateralValuation{
			{Denom: "uatom", Amount: bi(10), ValueUSD: dec("100"), ValueAdjusted: dec("80")},
		},
		Debts: []DebtValuation{{Denom: "uusd", Amount: bi(100), ValueUSD: dec("100")}},
	}
	require.True(t, normal.AdjustedLTV().Equal(dec("1.25")))
}

func TestAccount_CheckSafeUnsafe(t *testing.T) {
	acct := &Account{
		Collaterals: []CollateralValuation{
			{Denom: "uatom", Amount: bi(10), ValueUSD: dec("200"), ValueAdjusted: dec("160")},
		},
		Debts: []DebtValuation{{Denom: "uusd", Amount: bi(80), ValueUSD: dec("80")}},
	}
	// ltv = 0.5
	require.NoError(t, acct.CheckSafe(dec("0.85")))
	err := acct.CheckUnsafe(dec("0.85"))
	require.ErrorIs(t, err, ErrSafe)

	require.NoError(t, acct.CheckUnsafe(dec("0.5")))
	require.ErrorIs(t, acct.CheckSafe(dec("0.5")), ErrUnsafe)
}

func TestLoader_AppliesHaircut(t *testing.T) {
	o := fakeOracle{"ATOM": dec("10"), "USD": dec("1")}
	b := fakeBank{"acct-1": {"uatom": bi(50)}}
	d := &fakeDebts{
		balances: map[string][]DebtBalance{"acct-1": {{Denom: "uusd", Amount: bi(200)}}},
		symbols:  map[string]string{"uusd": "USD"},
	}

	acct, err := testLoader(o, b, d).Load(context.Background(), "alice", "acct-1")
	require.NoError(t, err)

	require.Len(t, acct.Collaterals, 1)
	require.True(t, acct.Collaterals[0].ValueUSD.Equal(dec("500")))
	require.True(t, acct.Collaterals[0].ValueAdjusted.Equal(dec("400")))
	require.True(t, acct.DebtUSD().Equal(dec("200")))
	require.True(t, acct.AdjustedLTV().Equal(dec("0.5")))
}

func TestLoader_OracleFaultIsolation(t *testing.T) {
	// OSMO has no quote, but the account does not hold uosmo, so the load
	// must never ask for it.
	o := fakeOracle{"ATOM": dec("10"), "USD": dec("1")}
	b := fakeBank{"acct-1": {"uatom": bi(50)}}
	d := &fakeDebts{
		balances: map[string][]DebtBalance{"acct-1": {{Denom: "uusd", Amount: bi(100)}}},
		symbols:  map[string]string{"uusd": "USD"},
	}

	acct, err := testLoader(o, b, d).Load(context.Background(), "alice", "acct-1")
	require.NoError(t, err)
	require.Len(t, acct.Collaterals, 1)
	require.Equal(t, "uatom", acct.Collaterals[0].Denom)
}

func TestLoader_HeldDenomWithoutPriceFails(t *testing.T) {
	o := fakeOracle{"USD": dec("1")} // no ATOM quote
	b := fakeBank{"acct-1": {"uatom": bi(50)}}
	d := &fakeDebts{balances: map[string][]DebtBalance{}, symbols: map[string]string{}}

	_, err := testLoader(o, b, d).Load(context.Background(), "alice", "acct-1")
	require.ErrorIs(t, err, ErrOracleUnavailable)
}

func TestCollateralParam_Validate(t *testing.T) {
	require.NoError(t, CollateralParam{Denom: "uatom", Symbol: "ATOM", Ratio: dec("1")}.Validate())
	require.Error(t, CollateralParam{Denom: "uatom", Symbol: "ATOM", Ratio: dec("0")}.Validate())
	require.Error(t, CollateralParam{Denom: "uatom", Symbol: "ATOM", Ratio: dec("1.01")}.Validate())
	require.Error(t, CollateralParam{Symbol: "ATOM", Ratio: dec("0.5")}.Validate())
}
