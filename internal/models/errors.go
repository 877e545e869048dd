package models

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers; it is safe to show to end users.
type Kind string

const (
	KindInvalidAmount         Kind = "InvalidAmount"
	KindInvalidRecipient      Kind = "InvalidRecipient"
	KindUnauthorized          Kind = "Unauthorized"
	KindForbidden             Kind = "Forbidden"
	KindInsufficientFunds     Kind = "InsufficientFunds"
	KindNotFound              Kind = "NotFound"
	KindProductInactive       Kind = "ProductInactive"
	KindAmountTooLow          Kind = "AmountTooLow"
	KindNotMatured            Kind = "NotMatured"
	KindAlreadyWithdrawn      Kind = "AlreadyWithdrawn"
	KindConflict              Kind = "Conflict"
	KindInvalidRequest        Kind = "InvalidRequest"
	KindStorageUnavailable    Kind = "StorageUnavailable"
	KindPartialAccrualFailure Kind = "PartialAccrualFailure"
)

// Error is a classified failure. Reason is human readable and never carries
// backend error text; Err keeps the internal cause for logs.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether the caller may safely retry the operation.
func (e *Error) Retryable() bool { return e.Kind == KindStorageUnavailable }

var (
	ErrInvalidAmount         = &Error{Kind: KindInvalidAmount, Reason: "amount must be greater than zero"}
	ErrInvalidRecipient      = &Error{Kind: KindInvalidRecipient, Reason: "recipient does not resolve to another account"}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized, Reason: "missing or invalid credential"}
	ErrForbidden             = &Error{Kind: KindForbidden, Reason: "operation not permitted for this identity"}
	ErrInsufficientFunds     = &Error{Kind: KindInsufficientFunds, Reason: "insufficient funds"}
	ErrNotFound              = &Error{Kind: KindNotFound, Reason: "not found"}
	ErrProductInactive       = &Error{Kind: KindProductInactive, Reason: "savings product is not active"}
	ErrAmountTooLow          = &Error{Kind: KindAmountTooLow, Reason: "amount is below the product minimum deposit"}
	ErrNotMatured            = &Error{Kind: KindNotMatured, Reason: "savings account has not matured"}
	ErrAlreadyWithdrawn      = &Error{Kind: KindAlreadyWithdrawn, Reason: "savings account already withdrawn"}
	ErrConflict              = &Error{Kind: KindConflict, Reason: "resource already exists"}
	ErrInvalidRequest        = &Error{Kind: KindInvalidRequest, Reason: "malformed request"}
	ErrStorageUnavailable    = &Error{Kind: KindStorageUnavailable, Reason: "storage temporarily unavailable, retry later"}
	ErrPartialAccrualFailure = &Error{Kind: KindPartialAccrualFailure, Reason: "some savings accounts failed to accrue"}
)

// Errorf builds an *Error of kind with a formatted reason.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Unavailable wraps an internal storage failure. The cause is kept for logs
// only; Reason stays generic.
func Unavailable(cause error) *Error {
	return &Error{Kind: KindStorageUnavailable, Reason: ErrStorageUnavailable.Reason, Err: cause}
}

// AsError extracts the classified error from err. Unclassified errors are
// reported as StorageUnavailable so backend text never reaches a client.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Unavailable(err)
}
