package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ──────────────────────────────────────────────────────────────────────────────
// ExecError — machine-coded errors surfaced to API clients
// ──────────────────────────────────────────────────────────────────────────────

// ExecError carries a stable machine code and an HTTP status hint alongside a
// human-readable message. Compare with errors.Is against the sentinel values
// below; two ExecErrors match when their codes match, so wrapped copies with
// contextual messages still satisfy errors.Is.
type ExecError struct {
	Code       string `json:"code"`
	HTTPStatus int    `json:"-"`
	Message    string `json:"message"`
}

func (e *ExecError) Error() string {
	return e.Message
}

// Is matches by code so detail-enriched copies compare equal to sentinels.
func (e *ExecError) Is(target error) bool {
	var t *ExecError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithMessagef returns a copy of the sentinel with a formatted message.
// The code and status hint are preserved.
func (e *ExecError) WithMessagef(format string, args ...any) *ExecError {
	return &ExecError{
		Code:       e.Code,
		HTTPStatus: e.HTTPStatus,
		Message:    fmt.Sprintf(format, args...),
	}
}

func execErr(code string, status int, msg string) *ExecError {
	return &ExecError{Code: code, HTTPStatus: status, Message: msg}
}

// Not-found errors (404)
var (
	ErrMarketNotFound    = execErr("MARKET_NOT_FOUND", http.StatusNotFound, "market not found")
	ErrEventNotFound     = execErr("EVENT_NOT_FOUND", http.StatusNotFound, "event not found")
	ErrOptionNotFound    = execErr("OPTION_NOT_FOUND", http.StatusNotFound, "market option not found")
	ErrPoolNotFound      = execErr("POOL_NOT_FOUND", http.StatusNotFound, "amm pool not found")
	ErrPoolStateNotFound = execErr("POOL_STATE_NOT_FOUND", http.StatusNotFound, "amm pool option state not found")
	ErrWalletNotFound    = execErr("WALLET_NOT_FOUND", http.StatusNotFound, "wallet not found")
)

// Trading-state errors (400)
var (
	ErrMarketNotActive     = execErr("MARKET_NOT_ACTIVE", http.StatusBadRequest, "market is not active")
	ErrMarketClosed        = execErr("MARKET_CLOSED", http.StatusBadRequest, "market trading deadline has passed")
	ErrEventNotActive      = execErr("EVENT_NOT_ACTIVE", http.StatusBadRequest, "event is not active")
	ErrOptionNotActive     = execErr("OPTION_NOT_ACTIVE", http.StatusBadRequest, "market option is not active")
	ErrInsufficientBalance = execErr("INSUFFICIENT_BALANCE", http.StatusBadRequest, "insufficient available balance")
	ErrNoPosition          = execErr("NO_POSITION", http.StatusBadRequest, "no position in this option")
	ErrInsufficientShares  = execErr("INSUFFICIENT_SHARES", http.StatusBadRequest, "position has fewer shares than requested")
	ErrAmountTooLow        = execErr("AMOUNT_TOO_LOW", http.StatusBadRequest, "amount is too low to produce any shares")
	ErrSlippageProtection  = execErr("SLIPPAGE_PROTECTION", http.StatusBadRequest, "quote moved beyond the allowed slippage")
	ErrInvalidParam        = execErr("INVALID_PARAM", http.StatusBadRequest, "invalid request parameter")
)

// Pool-integrity errors (422)
var (
	ErrPoolInvalid      = execErr("POOL_INVALID", http.StatusUnprocessableEntity, "amm pool is misconfigured")
	ErrPoolMappingError = execErr("POOL_MAPPING_ERROR", http.StatusUnprocessableEntity, "no-to-yes option mapping is corrupted")
	ErrPoolMismatch     = execErr("POOL_MISMATCH", http.StatusUnprocessableEntity, "pool does not belong to this market or event")
	ErrQuoteMath        = execErr("QUOTE_MATH_ERROR", http.StatusUnprocessableEntity, "quote computation failed")
)

// Settlement errors
var (
	ErrAlreadyResolved      = execErr("ALREADY_RESOLVED", http.StatusConflict, "market is already resolved")
	ErrNotResolved          = execErr("NOT_RESOLVED", http.StatusBadRequest, "market is not resolved yet")
	ErrNoResolvedOption     = execErr("NO_RESOLVED_OPTION", http.StatusBadRequest, "market has no resolved option index")
	ErrInvalidStatus        = execErr("INVALID_STATUS", http.StatusBadRequest, "market status does not allow this operation")
	ErrInsufficientFunds    = execErr("INSUFFICIENT_FUNDS", http.StatusBadRequest, "pool cash and collateral cannot cover the payout")
	ErrInvalidGroupRule     = execErr("INVALID_GROUP_RULE", http.StatusBadRequest, "operation not valid for this event group rule")
	ErrInvalidPartialOption = execErr("INVALID_PARTIAL_OPTION", http.StatusBadRequest, "only no-side outcomes may be partially settled in exclusive events")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// IsNotFound returns true when err carries a 404-class ExecError.
func IsNotFound(err error) bool {
	var e *ExecError
	return errors.As(err, &e) && e.HTTPStatus == http.StatusNotFound
}

// IsConflict returns true for state-conflict errors (double resolution).
func IsConflict(err error) bool {
	var e *ExecError
	return errors.As(err, &e) && e.HTTPStatus == http.StatusConflict
}

// HTTPStatusOf translates an error chain to an HTTP status. Unknown errors
// map to 500 so handler code can pass any service error straight through.
func HTTPStatusOf(err error) int {
	var e *ExecError
	if errors.As(err, &e) && e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

// CodeOf returns the machine code of an error chain, or INTERNAL_ERROR.
func CodeOf(err error) string {
	var e *ExecError
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL_ERROR"
}
