// Package reader keeps a polled, eventually consistent view of one account's
// token and vault position.
package reader

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/celer-network/go-dsu/contracts"
	"github.com/celer-network/go-dsu/log"
	"github.com/celer-network/go-dsu/metrics"
	"github.com/celer-network/go-dsu/types"
)

var logger = log.NewLogger("reader")

const (
	DefaultInterval    = 5 * time.Second
	defaultCallTimeout = 10 * time.Second
)

// Caller runs view functions. chainclient.Client implements it.
type Caller interface {
	Call(ctx context.Context, chainID uint64, to common.Address, signature string, args ...interface{}) ([]byte, error)
}

// AddressBook resolves contract addresses. registry.Registry implements it.
type AddressBook interface {
	AddressesFor(chainID uint64) types.ChainContracts
}

// SnapshotStore persists the last known good state. storage.Storage implements it.
type SnapshotStore interface {
	PutSnapshot(state types.AccountState) error
	Snapshot(chainID uint64, account common.Address) (types.AccountState, bool, error)
}

type Query int

const (
	QueryBalance Query = iota
	QueryShares
	QueryTotalAssets
	QueryAllowance
	QueryTotalSupply
	numQueries
)

// Queries lists every query the reader polls.
var Queries = []Query{QueryBalance, QueryShares, QueryTotalAssets, QueryAllowance, QueryTotalSupply}

func (q Query) String() string {
	switch q {
	case QueryBalance:
		return "balance"
	case QueryShares:
		return "shares"
	case QueryTotalAssets:
		return "total_assets"
	case QueryAllowance:
		return "allowance"
	case QueryTotalSupply:
		return "total_supply"
	default:
		return "unknown"
	}
}

// ParseQuery is the inverse of Query.String.
func ParseQuery(name string) (Query, bool) {
	for _, q := range Queries {
		if q.String() == name {
			return q, true
		}
	}
	return 0, false
}

type Option func(*Reader)

// WithInterval sets the poll interval of every query.
func WithInterval(interval time.Duration) Option {
	return func(r *Reader) {
		if interval <= 0 {
			return
		}
		for q := range r.intervals {
			r.intervals[q] = interval
		}
	}
}

// WithQueryInterval sets the poll interval of a single query.
func WithQueryInterval(q Query, interval time.Duration) Option {
	return func(r *Reader) {
		if q >= 0 && q < numQueries && interval > 0 {
			r.intervals[q] = interval
		}
	}
}

func WithCallTimeout(timeout time.Duration) Option {
	return func(r *Reader) {
		if timeout > 0 {
			r.callTimeout = timeout
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reader) { r.metrics = m }
}

func WithSnapshotStore(store SnapshotStore) Option {
	return func(r *Reader) { r.store = store }
}

// Reader owns the AccountState of one (chain, account) pair. Nothing else
// mutates it.
type Reader struct {
	caller    Caller
	chainID   uint64
	account   common.Address
	contracts types.ChainContracts

	intervals   [numQueries]time.Duration
	callTimeout time.Duration
	metrics     *metrics.Metrics
	store       SnapshotStore

	mu         sync.RWMutex
	state      types.AccountState
	dispatched [numQueries]uint64
	applied    [numQueries]uint64

	subMu  sync.Mutex
	subs   map[int]chan types.AccountState
	nextID int

	wg sync.WaitGroup
}

func New(caller Caller, book AddressBook, chainID uint64, account common.Address, opts ...Option) *Reader {
	r := &Reader{
		caller:      caller,
		chainID:     chainID,
		account:     account,
		contracts:   book.AddressesFor(chainID),
		callTimeout: defaultCallTimeout,
		state:       types.NewAccountState(chainID, account),
		subs:        make(map[int]chan types.AccountState),
	}
	for q := range r.intervals {
		r.intervals[q] = DefaultInterval
	}
	for _, opt := range opts {
		opt(r)
	}
	r.seed()
	return r
}

func (r *Reader) seed() {
	if r.store == nil {
		return
	}
	state, ok, err := r.store.Snapshot(r.chainID, r.account)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load the last known state")
		return
	}
	if ok {
		r.state = state.Clone()
		logger.Debug().Uint64("chain", r.chainID).Str("account", r.account.Hex()).
			Time("updatedAt", state.UpdatedAt).Msg("seeded from snapshot")
	}
}

func (r *Reader) ChainID() uint64 {
	return r.chainID
}

func (r *Reader) Account() common.Address {
	return r.account
}

// State returns a copy of the current view.
func (r *Reader) State() types.AccountState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

// Start polls every query on its own schedule until ctx is done.
func (r *Reader) Start(ctx context.Context) {
	for _, q := range Queries {
		r.wg.Add(1)
		go r.poll(ctx, q)
	}
}

// Wait blocks until every poller started by Start has returned.
func (r *Reader) Wait() {
	r.wg.Wait()
}

func (r *Reader) poll(ctx context.Context, q Query) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.intervals[q])
	defer ticker.Stop()

	for {
		// failures are logged and counted in run
		_ = r.run(ctx, q)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh runs every query once and waits for all of them. Failed queries
// keep their previous values; their errors are joined in the result.
func (r *Reader) Refresh(ctx context.Context) error {
	return r.RefreshQueries(ctx, Queries...)
}

// RefreshQueries is Refresh restricted to qs.
func (r *Reader) RefreshQueries(ctx context.Context, qs ...Query) error {
	errs := make([]error, len(qs))
	var g errgroup.Group
	for i, q := range qs {
		i, q := i, q
		g.Go(func() error {
			errs[i] = r.run(ctx, q)
			return nil
		})
	}
	_ = g.Wait()

	landed := 0
	for _, err := range errs {
		if err == nil {
			landed++
		}
	}
	if r.store != nil && landed > 0 {
		if putErr := r.store.PutSnapshot(r.State()); putErr != nil {
			logger.Warn().Err(putErr).Msg("failed to persist state")
		}
	}
	return errors.Join(errs...)
}

// Subscribe returns a channel that always holds the newest state. The current
// state is delivered immediately. Call cancel to release the channel.
func (r *Reader) Subscribe() (<-chan types.AccountState, func()) {
	ch := make(chan types.AccountState, 1)

	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	ch <- r.State()
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
			close(ch)
		})
	}
}

// publish hands every subscriber the state as of now, so a late publish never
// overwrites a newer one.
func (r *Reader) publish() {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	state := r.State()
	for _, ch := range r.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- state.Clone():
		default:
		}
	}
}

func (r *Reader) run(ctx context.Context, q Query) error {
	r.mu.Lock()
	r.dispatched[q]++
	seq := r.dispatched[q]
	r.mu.Unlock()

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	values, err := r.fetch(callCtx, q)
	cancel()
	r.metrics.ObserveRead(q.String(), start, err)
	if err != nil {
		logger.Warn().Err(err).Str("query", q.String()).Uint64("chain", r.chainID).Msg("read failed, keeping previous value")
		return fmt.Errorf("%w: %s: %v", types.ErrReadUnavailable, q, err)
	}

	r.apply(q, seq, values)
	return nil
}

func (r *Reader) fetch(ctx context.Context, q Query) ([]*big.Int, error) {
	c := r.contracts
	switch q {
	case QueryBalance:
		return r.call(ctx, c.Token, contracts.BalanceOf, r.account)
	case QueryShares:
		shares, err := r.call(ctx, c.Vault, contracts.BalanceOf, r.account)
		if err != nil {
			return nil, err
		}
		if shares[0].Sign() == 0 {
			return []*big.Int{shares[0], new(big.Int)}, nil
		}
		assets, err := r.call(ctx, c.Vault, contracts.ConvertToAssets, shares[0])
		if err != nil {
			return nil, err
		}
		return []*big.Int{shares[0], assets[0]}, nil
	case QueryTotalAssets:
		return r.call(ctx, c.Vault, contracts.TotalAssets)
	case QueryAllowance:
		return r.call(ctx, c.Token, contracts.Allowance, r.account, c.Vault)
	case QueryTotalSupply:
		return r.call(ctx, c.Token, contracts.TotalSupply)
	}
	return nil, fmt.Errorf("unknown query %d", q)
}

func (r *Reader) call(ctx context.Context, to common.Address, signature string, args ...interface{}) ([]*big.Int, error) {
	ret, err := r.caller.Call(ctx, r.chainID, to, signature, args...)
	if err != nil {
		return nil, err
	}
	v, err := contracts.DecodeUint256(ret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", signature, err)
	}
	return []*big.Int{v}, nil
}

// apply stores values unless a newer dispatch of q already landed.
func (r *Reader) apply(q Query, seq uint64, values []*big.Int) {
	r.mu.Lock()
	if seq <= r.applied[q] {
		r.mu.Unlock()
		logger.Debug().Str("query", q.String()).Uint64("seq", seq).Msg("dropping stale read")
		return
	}
	r.applied[q] = seq

	s := &r.state
	switch q {
	case QueryBalance:
		s.TokenBalance = values[0]
	case QueryShares:
		s.VaultShares = values[0]
		s.StakedAssets = values[1]
	case QueryTotalAssets:
		s.TotalVaultAssets = values[0]
	case QueryAllowance:
		s.Allowance = values[0]
	case QueryTotalSupply:
		s.TotalSupply = values[0]
	}
	s.UpdatedAt = time.Now()
	r.mu.Unlock()

	r.publish()
}
