package ledger

import "errors"

var (
	// Validation errors, rejected before any state mutation.
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInvalidAddress       = errors.New("invalid address")
	ErrTimelockOutOfRange   = errors.New("timelock out of range")
	ErrInvalidAuctionParams = errors.New("invalid auction parameters")

	// State conflicts, rejected with no mutation.
	ErrAlreadyExists    = errors.New("escrow already exists")
	ErrAlreadyWithdrawn = errors.New("escrow already withdrawn")
	ErrAlreadyCancelled = errors.New("escrow already cancelled")
	ErrNotFound         = errors.New("escrow not found")

	// Authorization errors.
	ErrUnauthorized = errors.New("unauthorized")

	// Timing errors.
	ErrTimelockNotExpired = errors.New("timelock not expired")
	ErrNoAuction          = errors.New("escrow has no auction")

	// Protocol violations. A wrong secret is unrecoverable for the order.
	ErrInvalidSecret = errors.New("secret does not match secret hash")
)

// Class buckets ledger errors for the coordinator's handling policy.
type Class uint8

const (
	ClassUnknown Class = iota
	ClassValidation
	ClassStateConflict
	ClassAuthorization
	ClassTiming
	ClassProtocolViolation
)

func Classify(err error) Class {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrTimelockOutOfRange),
		errors.Is(err, ErrInvalidAuctionParams):
		return ClassValidation
	case errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrAlreadyWithdrawn),
		errors.Is(err, ErrAlreadyCancelled),
		errors.Is(err, ErrNotFound):
		return ClassStateConflict
	case errors.Is(err, ErrUnauthorized):
		return ClassAuthorization
	case errors.Is(err, ErrTimelockNotExpired), errors.Is(err, ErrNoAuction):
		return ClassTiming
	case errors.Is(err, ErrInvalidSecret):
		return ClassProtocolViolation
	default:
		return ClassUnknown
	}
}
