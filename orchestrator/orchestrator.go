// Package orchestrator runs mint, stake and unstake intents through the
// transaction lifecycle, one at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/celer-network/go-dsu/contracts"
	"github.com/celer-network/go-dsu/log"
	"github.com/celer-network/go-dsu/metrics"
	"github.com/celer-network/go-dsu/statemachine"
	"github.com/celer-network/go-dsu/types"
)

var logger = log.NewLogger("orchestrator")

const (
	DefaultReceiptTimeout = 2 * time.Minute
	defaultRefreshTimeout = 30 * time.Second
)

var confirmationPoll = time.Second

// Submitter signs and tracks writes. chainclient.Client implements it.
type Submitter interface {
	Submit(ctx context.Context, chainID uint64, to common.Address, signature string, args []interface{}, from common.Address) (common.Hash, error)
	AwaitReceipt(ctx context.Context, chainID uint64, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context, chainID uint64) (uint64, error)
}

// StateReader is the part of reader.Reader the orchestrator depends on.
type StateReader interface {
	State() types.AccountState
	Refresh(ctx context.Context) error
}

type AddressBook interface {
	AddressesFor(chainID uint64) types.ChainContracts
}

// Journal records every status a transaction passes through. storage.Storage
// implements it.
type Journal interface {
	PutRecord(r types.TransactionRecord) error
}

type Option func(*Orchestrator)

// WithReceiptTimeout bounds Submitted -> Confirming. Past it the transaction
// fails with NotFound.
func WithReceiptTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.receiptTimeout = timeout
		}
	}
}

// WithConfirmations makes Confirming wait for n blocks on top of inclusion.
func WithConfirmations(n uint64) Option {
	return func(o *Orchestrator) { o.confirmations = n }
}

func WithRefreshTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.refreshTimeout = timeout
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

type Orchestrator struct {
	submitter Submitter
	reader    StateReader
	contracts types.ChainContracts
	chainID   uint64
	account   common.Address

	receiptTimeout time.Duration
	refreshTimeout time.Duration
	confirmations  uint64
	metrics        *metrics.Metrics
	journal        Journal

	mu         sync.Mutex
	machine    *statemachine.Machine
	cancelSign context.CancelFunc
	cancelled  bool
	startedAt  time.Time

	subMu  sync.Mutex
	subs   map[int]chan types.TransactionRecord
	nextID int

	wg sync.WaitGroup
}

func New(submitter Submitter, reader StateReader, book AddressBook, chainID uint64, account common.Address, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		submitter:      submitter,
		reader:         reader,
		contracts:      book.AddressesFor(chainID),
		chainID:        chainID,
		account:        account,
		receiptTimeout: DefaultReceiptTimeout,
		refreshTimeout: defaultRefreshTimeout,
		subs:           make(map[int]chan types.TransactionRecord),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.machine = statemachine.NewMachine(time.Now)
	return o
}

// Record returns a copy of the active record. It is Idle when nothing is in
// flight.
func (o *Orchestrator) Record() types.TransactionRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.machine.Record()
}

// Wait blocks until no lifecycle goroutine is running.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// NextAction resolves what submitting kind for amount would do right now.
// A deposit above the current allowance resolves to Approve.
func (o *Orchestrator) NextAction(kind types.IntentKind, amount *big.Int) (types.Action, error) {
	if !types.ValidAmount(amount) {
		return types.ActionNone, types.NewValidationError("amount", types.ErrInvalidAmount)
	}
	switch kind {
	case types.IntentApprove:
		return types.ActionApprove, nil
	case types.IntentMint:
		return types.ActionMint, nil
	case types.IntentWithdraw:
		return types.ActionWithdraw, nil
	case types.IntentDeposit:
		if amount.Cmp(o.reader.State().Allowance) > 0 {
			return types.ActionApprove, nil
		}
		return types.ActionDeposit, nil
	}
	return types.ActionNone, types.NewValidationError("kind", types.ErrInvalidIntent)
}

// MaxAmount is the ceiling offered by "max": the token balance for deposit
// and mint, the staked assets for withdraw.
func (o *Orchestrator) MaxAmount(kind types.IntentKind) *big.Int {
	s := o.reader.State()
	switch kind {
	case types.IntentDeposit, types.IntentMint:
		return s.TokenBalance
	case types.IntentWithdraw:
		return s.StakedAssets
	}
	return new(big.Int)
}

// Stake submits an Approve for amount when the allowance is short, and the
// Deposit otherwise. Call it again after the approval confirms.
func (o *Orchestrator) Stake(ctx context.Context, amount *big.Int) (*Pending, error) {
	action, err := o.NextAction(types.IntentDeposit, amount)
	if err != nil {
		return nil, err
	}
	if action == types.ActionApprove {
		return o.Submit(ctx, types.TransactionIntent{Kind: types.IntentApprove, Amount: amount, Target: o.contracts.Vault})
	}
	return o.Submit(ctx, types.TransactionIntent{Kind: types.IntentDeposit, Amount: amount, Target: o.account})
}

func (o *Orchestrator) Unstake(ctx context.Context, amount *big.Int) (*Pending, error) {
	return o.Submit(ctx, types.TransactionIntent{Kind: types.IntentWithdraw, Amount: amount, Target: o.account})
}

func (o *Orchestrator) Mint(ctx context.Context, recipient common.Address, amount *big.Int) (*Pending, error) {
	return o.Submit(ctx, types.TransactionIntent{Kind: types.IntentMint, Amount: amount, Target: recipient})
}

func (o *Orchestrator) normalize(intent types.TransactionIntent) (types.TransactionIntent, error) {
	intent = intent.Copy()
	if intent.ChainID == 0 {
		intent.ChainID = o.chainID
	}
	if intent.ChainID != o.chainID {
		return intent, fmt.Errorf("%w: %d, session is on %d", types.ErrWrongChain, intent.ChainID, o.chainID)
	}
	if !intent.Kind.Valid() {
		return intent, types.NewValidationError("kind", types.ErrInvalidIntent)
	}
	if !types.ValidAmount(intent.Amount) {
		return intent, types.NewValidationError("amount", types.ErrInvalidAmount)
	}

	zero := common.Address{}
	switch intent.Kind {
	case types.IntentApprove:
		if intent.Target == zero {
			intent.Target = o.contracts.Vault
		}
	case types.IntentMint:
		if intent.Target == zero {
			return intent, types.NewValidationError("recipient", types.ErrInvalidAddress)
		}
	case types.IntentDeposit, types.IntentWithdraw:
		if intent.Target == zero {
			intent.Target = o.account
		}
	}

	s := o.reader.State()
	switch intent.Kind {
	case types.IntentDeposit:
		if intent.Amount.Cmp(s.TokenBalance) > 0 {
			return intent, types.NewValidationError("amount", types.ErrExceedsBalance)
		}
	case types.IntentWithdraw:
		if intent.Amount.Cmp(s.StakedAssets) > 0 {
			return intent, types.NewValidationError("amount", types.ErrExceedsBalance)
		}
	}
	return intent, nil
}

// call maps an intent onto its contract call.
func (o *Orchestrator) call(intent types.TransactionIntent) (common.Address, string, []interface{}) {
	switch intent.Kind {
	case types.IntentApprove:
		return o.contracts.Token, contracts.Approve, []interface{}{intent.Target, intent.Amount}
	case types.IntentMint:
		return o.contracts.Token, contracts.Mint, []interface{}{intent.Target, intent.Amount}
	case types.IntentDeposit:
		return o.contracts.Vault, contracts.Deposit, []interface{}{intent.Amount, intent.Target}
	default:
		return o.contracts.Vault, contracts.Withdraw, []interface{}{intent.Amount, intent.Target, o.account}
	}
}

// Submit validates intent and starts its lifecycle. Validation failures are
// *types.ValidationError; a transaction already in flight or a deposit above
// the allowance are precondition errors. Neither changes the active record.
// A Failed record is dismissed by the new submission.
func (o *Orchestrator) Submit(ctx context.Context, intent types.TransactionIntent) (*Pending, error) {
	intent, err := o.normalize(intent)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	status := o.machine.Status()
	if status != types.StatusIdle && status != types.StatusFailed {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", types.ErrTransactionInFlight, o.machine.Record().Intent.Kind, status)
	}
	if intent.Kind == types.IntentDeposit && intent.Amount.Cmp(o.reader.State().Allowance) > 0 {
		o.mu.Unlock()
		return nil, types.ErrApprovalRequired
	}
	if status == types.StatusFailed {
		if err = o.machine.Fire(statemachine.EventDismiss, statemachine.Update{}); err != nil {
			o.mu.Unlock()
			return nil, err
		}
	}
	id := uuid.NewString()
	if err = o.machine.Begin(id, intent); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	signCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancelSign = cancel
	o.cancelled = false
	o.startedAt = time.Now()
	record := o.machine.Record()
	o.mu.Unlock()

	o.metrics.SetInFlight(true)
	o.persist(record)
	o.publish(record)
	logger.Info().Str("id", id).Str("kind", intent.Kind.String()).Str("amount", intent.Amount.String()).
		Str("target", intent.Target.Hex()).Msg("awaiting signature")

	pending := newPending(id)
	o.wg.Add(1)
	go o.run(signCtx, cancel, intent, pending)
	return pending, nil
}

// Cancel aborts the signature request. It fails with types.ErrNotCancellable
// once the wallet has produced a hash.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.machine.Status() != types.StatusAwaitingSignature || o.cancelSign == nil {
		return types.ErrNotCancellable
	}
	o.cancelled = true
	o.cancelSign()
	return nil
}

// Dismiss returns a Failed record to Idle.
func (o *Orchestrator) Dismiss() error {
	o.mu.Lock()
	if o.machine.Status() != types.StatusFailed {
		o.mu.Unlock()
		return types.ErrNothingToDismiss
	}
	err := o.machine.Fire(statemachine.EventDismiss, statemachine.Update{})
	record := o.machine.Record()
	o.mu.Unlock()
	if err != nil {
		return err
	}
	o.publish(record)
	return nil
}

// Subscribe returns a channel holding the newest record. Call cancel to
// release it.
func (o *Orchestrator) Subscribe() (<-chan types.TransactionRecord, func()) {
	ch := make(chan types.TransactionRecord, 1)

	o.subMu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = ch
	ch <- o.Record()
	o.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subMu.Lock()
			delete(o.subs, id)
			o.subMu.Unlock()
			close(ch)
		})
	}
}

func (o *Orchestrator) publish(record types.TransactionRecord) {
	o.subMu.Lock()
	defer o.subMu.Unlock()

	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- record.Copy():
		default:
		}
	}
}

func (o *Orchestrator) persist(record types.TransactionRecord) {
	if o.journal == nil || record.ID == "" {
		return
	}
	if err := o.journal.PutRecord(record); err != nil {
		logger.Warn().Err(err).Str("id", record.ID).Msg("failed to journal transaction")
	}
}

// fire applies event and returns the resulting record.
func (o *Orchestrator) fire(event statemachine.Event, update statemachine.Update) (types.TransactionRecord, error) {
	o.mu.Lock()
	err := o.machine.Fire(event, update)
	record := o.machine.Record()
	o.mu.Unlock()
	if err != nil {
		return record, err
	}
	o.persist(record)
	o.publish(record)
	return record, nil
}

func (o *Orchestrator) run(signCtx context.Context, cancelSign context.CancelFunc, intent types.TransactionIntent, pending *Pending) {
	defer o.wg.Done()
	defer cancelSign()
	defer func() {
		if panicMsg := recover(); panicMsg != nil {
			logger.Error().Str("callstack", log.PanicInvoker(2)).Interface("panic", panicMsg).Msg("transaction lifecycle panicked")
			o.abort(intent, pending, fmt.Sprint(panicMsg))
		}
	}()

	to, signature, args := o.call(intent)
	hash, err := o.submitter.Submit(signCtx, o.chainID, to, signature, args, o.account)

	o.mu.Lock()
	cancelled := o.cancelled
	o.cancelSign = nil
	o.mu.Unlock()

	if err != nil {
		event := statemachine.EventSubmitError
		// a cancel only counts while the prompt was still open
		if types.FailureOf(err) == types.FailureUserRejected || (cancelled && errors.Is(err, context.Canceled)) {
			event = statemachine.EventReject
		}
		record, _ := o.fire(event, statemachine.Update{Reason: err.Error()})
		o.finish(intent, record, pending)
		return
	}
	if _, err = o.fire(statemachine.EventAccept, statemachine.Update{Hash: hash}); err != nil {
		o.abort(intent, pending, err.Error())
		return
	}
	logger.Info().Str("id", pending.ID).Str("hash", hash.Hex()).Msg("submitted")

	base := context.WithoutCancel(signCtx)
	receiptCtx, cancel := context.WithTimeout(base, o.receiptTimeout)
	defer cancel()

	receipt, err := o.submitter.AwaitReceipt(receiptCtx, o.chainID, hash)
	if err != nil {
		record, _ := o.fire(statemachine.EventDrop, statemachine.Update{Reason: err.Error()})
		o.finish(intent, record, pending)
		return
	}
	if _, err = o.fire(statemachine.EventInclude, statemachine.Update{BlockNumber: receipt.BlockNumber}); err != nil {
		o.abort(intent, pending, err.Error())
		return
	}

	o.awaitConfirmations(receiptCtx, receipt.BlockNumber)

	if receipt.Status == types.ReceiptReverted {
		record, _ := o.fire(statemachine.EventRevert, statemachine.Update{Reason: receipt.RevertReason})
		o.finish(intent, record, pending)
		return
	}

	confirmed, _ := o.fire(statemachine.EventSucceed, statemachine.Update{})
	logger.Info().Str("id", pending.ID).Uint64("block", receipt.BlockNumber).Msg("confirmed")

	refreshCtx, cancelRefresh := context.WithTimeout(base, o.refreshTimeout)
	if err = o.reader.Refresh(refreshCtx); err != nil {
		logger.Warn().Err(err).Str("id", pending.ID).Msg("refresh after confirmation was incomplete")
	}
	cancelRefresh()

	if _, err = o.fire(statemachine.EventRefreshed, statemachine.Update{}); err != nil {
		logger.Error().Err(err).Msg("unexpected transition")
	}
	o.finish(intent, confirmed, pending)
}

// abort drives the record to a resting status after a lifecycle bug and
// resolves pending.
func (o *Orchestrator) abort(intent types.TransactionIntent, pending *Pending, reason string) {
	var event statemachine.Event
	record := o.Record()
	switch record.Status {
	case types.StatusAwaitingSignature:
		event = statemachine.EventSubmitError
	case types.StatusSubmitted:
		event = statemachine.EventDrop
	case types.StatusConfirming:
		event = statemachine.EventRevert
	case types.StatusConfirmed:
		event = statemachine.EventRefreshed
	default:
		event = -1
	}
	if event >= 0 {
		var err error
		if record, err = o.fire(event, statemachine.Update{Reason: reason}); err != nil {
			logger.Error().Err(err).Msg("unexpected transition")
		}
	}
	select {
	case <-pending.Done():
	default:
		o.finish(intent, record, pending)
	}
}

// awaitConfirmations blocks until the head is o.confirmations blocks past
// block, or ctx ends. Either way the receipt already decided the outcome.
func (o *Orchestrator) awaitConfirmations(ctx context.Context, block uint64) {
	if o.confirmations == 0 {
		return
	}
	ticker := time.NewTicker(confirmationPoll)
	defer ticker.Stop()
	for {
		head, err := o.submitter.BlockNumber(ctx, o.chainID)
		if err == nil && head >= block+o.confirmations {
			return
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Warn().Err(err).Msg("block number poll failed")
		}
		select {
		case <-ctx.Done():
			logger.Warn().Uint64("block", block).Uint64("confirmations", o.confirmations).Msg("deadline before enough confirmations")
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) finish(intent types.TransactionIntent, record types.TransactionRecord, pending *Pending) {
	o.mu.Lock()
	startedAt := o.startedAt
	o.mu.Unlock()

	o.metrics.SetInFlight(false)
	o.metrics.ObserveTx(intent.Kind.String(), outcome(record), startedAt)
	if record.Status == types.StatusFailed {
		logger.Warn().Str("id", record.ID).Str("kind", intent.Kind.String()).Str("failure", record.Failure.String()).
			Str("error", record.Error).Msg("transaction failed")
	}
	pending.resolve(record)
}

func outcome(record types.TransactionRecord) string {
	if record.Status != types.StatusFailed {
		return metrics.OutcomeConfirmed
	}
	switch record.Failure {
	case types.FailureUserRejected:
		return metrics.OutcomeRejected
	case types.FailureNotFound:
		return metrics.OutcomeNotFound
	case types.FailureReverted:
		return metrics.OutcomeReverted
	default:
		return metrics.OutcomeFailed
	}
}
