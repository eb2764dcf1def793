package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminator for event payloads
type Kind int32

const (
	KindUnknown Kind = iota
	KindDeposited
	KindWithdrawn
	KindBorrowed
	KindRepaid
	KindAccrued
	KindLimitSet
	KindRateCurveSet
	KindCollateralRatioSet
	KindPreferenceSet
	KindAccountUpdated
	KindLiquidationStarted
	KindLiquidationStepFailed
	KindLiquidationCompleted
)

// Envelope wraps every event in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Request that produced this event
	RequestID uuid.UUID

	// Event kind discriminator
	Kind Kind

	// Vault context (nullable for account-level events)
	Vault *string

	// Engine clock at application time
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// EventKind returns the discriminator
	EventKind() Kind

	// VaultID returns the vault context (nil for account-level events)
	VaultID() *string
}

func (k Kind) String() string {
	switch k {
	case KindDeposited:
		return "Deposited"
	case KindWithdrawn:
		return "Withdrawn"
	case KindBorrowed:
		return "Borrowed"
	case KindRepaid:
		return "Repaid"
	case KindAccrued:
		return "Accrued"
	case KindLimitSet:
		return "LimitSet"
	case KindRateCurveSet:
		return "RateCurveSet"
	case KindCollateralRatioSet:
		return "CollateralRatioSet"
	case KindPreferenceSet:
		return "PreferenceSet"
	case KindAccountUpdated:
		return "AccountUpdated"
	case KindLiquidationStarted:
		return "LiquidationStarted"
	case KindLiquidationStepFailed:
		return "LiquidationStepFailed"
	case KindLiquidationCompleted:
		return "LiquidationCompleted"
	default:
		return "Unknown"
	}
}
