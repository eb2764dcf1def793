package credit

import "errors"

var (
	// ErrSafe / ErrUnsafe are LTV precondition failures, surfaced distinctly
	// so callers can branch on them.
	ErrSafe   = errors.New("credit: account is safe")
	ErrUnsafe = errors.New("credit: account is unsafe")

	// ErrOracleUnavailable wraps a missing price for a held denom. It is
	// never produced for denoms an account does not hold.
	ErrOracleUnavailable = errors.New("credit: oracle unavailable for held denom")

	// ErrTooManyPreferenceEntries rejects preference lists over the entry or
	// byte budget. The bound is load-bearing: it is what keeps liquidation
	// cost independent of owner-chosen preference size.
	ErrTooManyPreferenceEntries = errors.New("credit: preference entries exceed bound")

	// ErrPreferenceCycle rejects an order insert whose chain does not
	// terminate.
	ErrPreferenceCycle = errors.New("credit: preference order contains a cycle")

	// ErrLiquidationExhausted is the Unsafe-Exhausted terminal state: the
	// step queue ran out with the account still unsafe. The whole sequence
	// aborts with it.
	ErrLiquidationExhausted = errors.New("credit: step queue exhausted, account still unsafe")

	// ErrOverLiquidated aborts a liquidation whose post-conditions failed:
	// collateral increased, the account ended below the adjustment
	// threshold, or removed value exceeded the slip bound.
	ErrOverLiquidated = errors.New("credit: liquidation post-condition violated")
)
