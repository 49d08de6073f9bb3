package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Local validation failures. The intent never leaves Idle.
var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidIntent  = errors.New("invalid intent kind")
	ErrExceedsBalance = errors.New("amount exceeds available balance")
)

// Precondition failures. Nothing is mutated.
var (
	ErrTransactionInFlight = errors.New("another transaction is in flight")
	ErrApprovalRequired    = errors.New("allowance is below the requested amount, approve first")
	ErrNotCancellable      = errors.New("transaction can only be cancelled while awaiting signature")
	ErrNothingToDismiss    = errors.New("no failed transaction to dismiss")
	ErrWrongChain          = errors.New("intent chain does not match session chain")
)

// Transaction path failures, surfaced to the user.
var (
	ErrUserRejected = errors.New("signature request rejected")
	ErrTxNotFound   = errors.New("transaction not found")
	ErrReverted     = errors.New("transaction reverted")
	ErrSubmitFailed = errors.New("transaction could not be submitted")
)

// ErrReadUnavailable marks a failed view call. It never reaches the user.
var ErrReadUnavailable = errors.New("read unavailable")

// ValidationError is a LocalValidationError: bad amount or address input.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError wraps one of the local validation sentinels.
func NewValidationError(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// IsValidationError reports whether err is a LocalValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// TxError describes why a transaction ended Failed.
type TxError struct {
	Kind   FailureKind
	Reason string
	Hash   common.Hash
}

func (e *TxError) Error() string {
	base := e.sentinel().Error()
	if e.Reason == "" || e.Reason == base {
		return base
	}
	return base + ": " + e.Reason
}

func (e *TxError) Unwrap() error {
	return e.sentinel()
}

func (e *TxError) sentinel() error {
	switch e.Kind {
	case FailureUserRejected:
		return ErrUserRejected
	case FailureNotFound:
		return ErrTxNotFound
	case FailureReverted:
		return ErrReverted
	default:
		return ErrSubmitFailed
	}
}

// FailureOf classifies an error returned by the chain client.
func FailureOf(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrUserRejected):
		return FailureUserRejected
	case errors.Is(err, ErrTxNotFound):
		return FailureNotFound
	case errors.Is(err, ErrReverted):
		return FailureReverted
	default:
		return FailureSubmitFailed
	}
}
