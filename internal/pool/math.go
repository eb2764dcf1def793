package pool

import "math/big"

var one = big.NewInt(1)

// mulDivFloor returns floor(a * b / c). c must be nonzero.
func mulDivFloor(a, b, c *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}

// mulDivCeil returns ceil(a * b / c). c must be nonzero.
func mulDivCeil(a, b, c *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(num, c, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, one)
	}
	return q
}

// checkedSub returns a - b, or ok=false when the result would be negative.
// Callers are expected to treat a negative result as a broken invariant,
// not a value to clamp.
func checkedSub(a, b *big.Int) (*big.Int, bool) {
	if a.Cmp(b) < 0 {
		return nil, false
	}
	return new(big.Int).Sub(a, b), true
}

func clone(v *big.Int) *big.Int {
	return new(big.Int).Set(v)
}
