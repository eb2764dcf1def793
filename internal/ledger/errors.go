package ledger

import "errors"

var (
	// ErrInsufficientLiquidity is a normal, recoverable condition: the
	// withdrawal or borrow would leave the deposit pool smaller than the
	// debt pool. State is left untouched.
	ErrInsufficientLiquidity = errors.New("ledger: insufficient free liquidity")

	// ErrInsufficientShares is returned when a caller presents more shares
	// than they own.
	ErrInsufficientShares = errors.New("ledger: insufficient shares")

	// ErrBorrowLimit is returned when a borrow would push a borrower's debt
	// past their configured limit.
	ErrBorrowLimit = errors.New("ledger: borrow limit exceeded")

	// ErrInvariantBroken marks a state that must be structurally unreachable
	// (debt pool larger than deposit pool, delegate shares exceeding borrower
	// shares). It is fatal to the unit of work that observes it.
	ErrInvariantBroken = errors.New("ledger: invariant broken")
)
