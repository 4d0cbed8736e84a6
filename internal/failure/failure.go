// Package failure defines the error taxonomy shared by the cashier engine.
//
// Every error that reaches the operator is one of three kinds:
//
//   - validation: local, blocks the action, fixed by operator correction
//     (insufficient payment, credit limit, duplicate unit line, ...)
//   - network: a remote collaborator could not be reached or answered with
//     an error (rate fetch, sale submission)
//   - persistence: the durable store failed to read or write
//
// Errors carry a stable Code for programmatic checks and are matched with
// errors.As, so wrapping with fmt.Errorf("...: %w") keeps them recognizable.
package failure

import (
	"errors"
	"fmt"
)

// Kind categorizes an Error.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNetwork     Kind = "network"
	KindPersistence Kind = "persistence"
)

// Codes used across packages.
const (
	CodeDuplicateLine        = "DUPLICATE_LINE"
	CodeUnknownProduct       = "UNKNOWN_PRODUCT"
	CodeUnknownUnit          = "UNKNOWN_UNIT"
	CodeOutOfStock           = "OUT_OF_STOCK"
	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodeItemNotInCart        = "ITEM_NOT_IN_CART"
	CodeNoActiveCart         = "NO_ACTIVE_CART"
	CodeInvalidDiscount      = "INVALID_DISCOUNT"
	CodeInvalidQuantity      = "INVALID_QUANTITY"
	CodeEmptyCart            = "EMPTY_CART"
	CodeInvalidAmount        = "INVALID_AMOUNT"
	CodeCreditLimitExceeded  = "CREDIT_LIMIT_EXCEEDED"
	CodeAmountExceedsTotal   = "AMOUNT_EXCEEDS_TOTAL"
	CodeCustomerRequired     = "CUSTOMER_REQUIRED"
	CodeInvalidCurrency      = "INVALID_CURRENCY"
	CodeInvalidRate          = "INVALID_RATE"
	CodeMissingSession       = "MISSING_SESSION"
	CodeRateUnavailable      = "RATE_UNAVAILABLE"
	CodeSubmitFailed         = "SUBMIT_FAILED"
	CodeRemoteUnavailable    = "REMOTE_UNAVAILABLE"
	CodeRejected             = "REJECTED"
	CodeStoreWrite           = "STORE_WRITE"
	CodeStoreRead            = "STORE_READ"
	CodeConflictingOperation = "CONFLICTING_OPERATION"
)

// Error is a classified error with a stable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a validation error.
func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Network wraps err as a network error.
func Network(code, message string, err error) *Error {
	return &Error{Kind: KindNetwork, Code: code, Message: message, Err: err}
}

// Persistence wraps err as a persistence error.
func Persistence(code, message string, err error) *Error {
	return &Error{Kind: KindPersistence, Code: code, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

func IsValidation(err error) bool  { return KindOf(err) == KindValidation }
func IsNetwork(err error) bool     { return KindOf(err) == KindNetwork }
func IsPersistence(err error) bool { return KindOf(err) == KindPersistence }

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}
