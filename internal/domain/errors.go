package domain

import (
	"errors"
	"fmt"
)

// ─── Error Kinds ────────────────────────────────────────────────────────────
// Every engine error wraps exactly one kind sentinel so the caller (order
// pipeline, admin API, CLI) can decide how to render it with errors.Is.

var (
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrState         = errors.New("invalid state")
	ErrConfiguration = errors.New("configuration error")
)

// ─── Specific Errors ────────────────────────────────────────────────────────

var (
	// Lookups
	ErrAccountNotFound    = fmt.Errorf("%w: account", ErrNotFound)
	ErrTierNotFound       = fmt.Errorf("%w: tier", ErrNotFound)
	ErrRewardNotFound     = fmt.Errorf("%w: reward", ErrNotFound)
	ErrRedemptionNotFound = fmt.Errorf("%w: referral redemption", ErrNotFound)
	ErrCodeNotFound       = fmt.Errorf("%w: referral code", ErrNotFound)
	ErrOrderNotFound      = fmt.Errorf("%w: order", ErrNotFound)
	ErrNoSnapshot         = fmt.Errorf("%w: no snapshot published yet", ErrNotFound)

	// Points
	ErrInsufficientPoints = fmt.Errorf("%w: insufficient points", ErrState)
	ErrNegativeAmount     = fmt.Errorf("%w: amount must not be negative", ErrValidation)

	// Referrals
	ErrSelfReferral       = fmt.Errorf("%w: an account cannot redeem its own referral code", ErrState)
	ErrAlreadyRedeemed    = fmt.Errorf("%w: account already redeemed a referral code", ErrConflict)
	ErrRedemptionSettled  = fmt.Errorf("%w: referral redemption is no longer pending", ErrState)
	ErrInvalidCode        = fmt.Errorf("%w: malformed referral code", ErrValidation)
	ErrCodeCollision      = fmt.Errorf("%w: referral code collision", ErrConflict)

	// Orders
	ErrOrderAccountMismatch = fmt.Errorf("%w: order belongs to another account", ErrConflict)
	ErrOrderFrozen          = fmt.Errorf("%w: order discount already frozen", ErrState)

	// Tier configuration
	ErrTierCycle         = fmt.Errorf("%w: tier inheritance cycle", ErrConfiguration)
	ErrTierDepth         = fmt.Errorf("%w: tier inheritance deeper than one level", ErrConfiguration)
	ErrThresholdOrdering = fmt.Errorf("%w: percentile thresholds not strictly ordered", ErrConfiguration)
	ErrBaselineCount     = fmt.Errorf("%w: exactly one baseline tier is required", ErrConfiguration)

	// Batch jobs
	ErrStaleSnapshot = errors.New("snapshot superseded by a newer run")
	ErrLeaseHeld     = errors.New("job lease held by another worker")

	// Admin confirmation
	ErrCancelled = errors.New("action cancelled")
)

// Kind classifies an error into the engine taxonomy.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindState         Kind = "state"
	KindConfiguration Kind = "configuration"
	KindCancelled     Kind = "cancelled"
	KindInternal      Kind = "internal"
)

// KindOf returns the taxonomy kind of err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrState):
		return KindState
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	default:
		return KindInternal
	}
}

// Validationf builds a validation error with a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Configurationf builds a configuration error with a formatted detail.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
