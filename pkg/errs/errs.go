// Package errs defines the typed error kinds surfaced by every mutating
// and read operation in clobvault, so the API layer can map a failure to
// an HTTP status without parsing strings.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	InvalidPair          Kind = "invalid_pair"
	InsufficientBalance  Kind = "insufficient_balance"
	InsufficientDecimals Kind = "insufficient_decimals"
	AmountBelowMinimum   Kind = "amount_below_minimum"
	NoLiquidity          Kind = "no_liquidity"
	NotActive            Kind = "not_active"
	NotAuthorized        Kind = "not_authorized"
	InvalidSignature     Kind = "invalid_signature"
	ReplayedApprovalID   Kind = "replayed_approval_id"
	UnknownOrder         Kind = "unknown_order"
	Overflow             Kind = "overflow"
	Internal             Kind = "internal"
)

// Error is the concrete error type returned by clobvault components. Kind
// is stable across releases and is what callers should switch on, never
// the message text.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
