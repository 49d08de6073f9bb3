package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type TxStatus int

const (
	StatusIdle TxStatus = iota
	StatusAwaitingSignature
	StatusSubmitted
	StatusConfirming
	StatusConfirmed
	StatusFailed
)

func (s TxStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusAwaitingSignature:
		return "awaiting_signature"
	case StatusSubmitted:
		return "submitted"
	case StatusConfirming:
		return "confirming"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// InFlight reports whether a record in this status blocks a new intent.
func (s TxStatus) InFlight() bool {
	return s == StatusAwaitingSignature || s == StatusSubmitted || s == StatusConfirming
}

type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureUserRejected
	FailureNotFound
	FailureReverted
	FailureSubmitFailed
)

func (f FailureKind) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureUserRejected:
		return "user_rejected"
	case FailureNotFound:
		return "not_found"
	case FailureReverted:
		return "reverted"
	case FailureSubmitFailed:
		return "submit_failed"
	default:
		return "unknown"
	}
}

// TransactionRecord tracks one submitted intent. Only the orchestrator mutates it.
type TransactionRecord struct {
	ID          string
	Intent      TransactionIntent
	Hash        common.Hash
	Status      TxStatus
	Failure     FailureKind
	Error       string
	BlockNumber uint64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasHash reports whether the wallet accepted the intent.
func (r TransactionRecord) HasHash() bool {
	return r.Hash != (common.Hash{})
}

// Err returns the failure as a *TxError, or nil unless the record is Failed.
func (r TransactionRecord) Err() error {
	if r.Status != StatusFailed {
		return nil
	}
	return &TxError{Kind: r.Failure, Reason: r.Error, Hash: r.Hash}
}

// Copy detaches the record from the orchestrator's copy.
func (r TransactionRecord) Copy() TransactionRecord {
	c := r
	c.Intent = r.Intent.Copy()
	return c
}

type ReceiptStatus int

const (
	ReceiptSuccess ReceiptStatus = iota
	ReceiptReverted
)

// Receipt is the execution outcome of an included transaction.
type Receipt struct {
	Hash         common.Hash
	Status       ReceiptStatus
	BlockNumber  uint64
	RevertReason string
}
