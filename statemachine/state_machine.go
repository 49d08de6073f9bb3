// Package statemachine holds the transaction lifecycle transition table.
//
//	Idle --Request--> AwaitingSignature
//	AwaitingSignature --Reject--> Failed(UserRejected)
//	AwaitingSignature --Accept--> Submitted
//	AwaitingSignature --SubmitError--> Failed(SubmitFailed)
//	Submitted --Drop--> Failed(NotFound)
//	Submitted --Include--> Confirming
//	Confirming --Succeed--> Confirmed
//	Confirming --Revert--> Failed(Reverted)
//	Confirmed --Refreshed--> Idle
//	Failed --Dismiss--> Idle
package statemachine

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celer-network/go-dsu/types"
)

type Event int

const (
	EventRequest Event = iota
	EventReject
	EventAccept
	EventSubmitError
	EventDrop
	EventInclude
	EventSucceed
	EventRevert
	EventRefreshed
	EventDismiss
)

func (e Event) String() string {
	switch e {
	case EventRequest:
		return "request"
	case EventReject:
		return "reject"
	case EventAccept:
		return "accept"
	case EventSubmitError:
		return "submit_error"
	case EventDrop:
		return "drop"
	case EventInclude:
		return "include"
	case EventSucceed:
		return "succeed"
	case EventRevert:
		return "revert"
	case EventRefreshed:
		return "refreshed"
	case EventDismiss:
		return "dismiss"
	default:
		return "unknown"
	}
}

var ErrIllegalTransition = errors.New("illegal transition")

type edge struct {
	from  types.TxStatus
	event Event
}

type target struct {
	to      types.TxStatus
	failure types.FailureKind
}

var transitions = map[edge]target{
	{types.StatusIdle, EventRequest}:                  {types.StatusAwaitingSignature, types.FailureNone},
	{types.StatusAwaitingSignature, EventReject}:      {types.StatusFailed, types.FailureUserRejected},
	{types.StatusAwaitingSignature, EventAccept}:      {types.StatusSubmitted, types.FailureNone},
	{types.StatusAwaitingSignature, EventSubmitError}: {types.StatusFailed, types.FailureSubmitFailed},
	{types.StatusSubmitted, EventDrop}:                {types.StatusFailed, types.FailureNotFound},
	{types.StatusSubmitted, EventInclude}:             {types.StatusConfirming, types.FailureNone},
	{types.StatusConfirming, EventSucceed}:            {types.StatusConfirmed, types.FailureNone},
	{types.StatusConfirming, EventRevert}:             {types.StatusFailed, types.FailureReverted},
	{types.StatusConfirmed, EventRefreshed}:           {types.StatusIdle, types.FailureNone},
	{types.StatusFailed, EventDismiss}:                {types.StatusIdle, types.FailureNone},
}

// Next returns the status reached from `from` on event, and the failure kind
// when that status is Failed.
func Next(from types.TxStatus, event Event) (types.TxStatus, types.FailureKind, error) {
	t, ok := transitions[edge{from, event}]
	if !ok {
		return from, types.FailureNone, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, event, from)
	}
	return t.to, t.failure, nil
}

// Update carries the data an event attaches to the record.
type Update struct {
	Hash        common.Hash
	BlockNumber uint64
	Reason      string
}

// Machine drives one TransactionRecord through the table. It is not safe for
// concurrent use; the orchestrator serialises access.
type Machine struct {
	record types.TransactionRecord
	now    func() time.Time
}

// NewMachine returns a machine resting in Idle.
func NewMachine(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{
		record: types.TransactionRecord{Status: types.StatusIdle},
		now:    now,
	}
}

// Record returns a copy of the current record.
func (m *Machine) Record() types.TransactionRecord {
	return m.record.Copy()
}

func (m *Machine) Status() types.TxStatus {
	return m.record.Status
}

// Begin moves Idle -> AwaitingSignature with a fresh record for intent.
func (m *Machine) Begin(id string, intent types.TransactionIntent) error {
	to, _, err := Next(m.record.Status, EventRequest)
	if err != nil {
		return err
	}
	now := m.now()
	m.record = types.TransactionRecord{
		ID:        id,
		Intent:    intent.Copy(),
		Status:    to,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// Fire applies event. Reaching Idle clears the record.
func (m *Machine) Fire(event Event, update Update) error {
	to, failure, err := Next(m.record.Status, event)
	if err != nil {
		return err
	}
	if to == types.StatusIdle {
		m.record = types.TransactionRecord{Status: types.StatusIdle}
		return nil
	}

	m.record.Status = to
	m.record.UpdatedAt = m.now()
	if update.Hash != (common.Hash{}) {
		m.record.Hash = update.Hash
	}
	if update.BlockNumber != 0 {
		m.record.BlockNumber = update.BlockNumber
	}
	if to == types.StatusFailed {
		m.record.Failure = failure
		m.record.Error = update.Reason
		if m.record.Error == "" {
			m.record.Error = m.record.Err().Error()
		}
	}
	return nil
}
