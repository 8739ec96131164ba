package amm

import "errors"

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

var (
	// ErrInput is returned for malformed quote inputs: missing or ambiguous
	// option selector, non-positive amounts, invalid fee configuration.
	ErrInput = errors.New("invalid quote input")

	// ErrMath is returned when the LMSR math cannot produce a usable result:
	// amount too small after fees and rounding, desired payout beyond the
	// theoretical maximum, or a non-finite intermediate value.
	ErrMath = errors.New("quote math error")

	// ErrNotFound is returned when the pool or its option state is absent.
	ErrNotFound = errors.New("pool not found")
)
