package reader

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celer-network/go-dsu/contracts"
	"github.com/celer-network/go-dsu/db/memorydb"
	"github.com/celer-network/go-dsu/metrics"
	"github.com/celer-network/go-dsu/registry"
	"github.com/celer-network/go-dsu/storage"
	"github.com/celer-network/go-dsu/test"
	"github.com/celer-network/go-dsu/types"
)

const chainID = 31337

var account = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func assertAmount(t *testing.T, want, got *big.Int, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, want.String(), got.String(), msgAndArgs...)
}

func newChain() *test.Chain {
	c := registry.Default().AddressesFor(chainID)
	return test.NewChain(chainID, c.Token, c.Vault)
}

func TestRefreshReadsEverything(t *testing.T) {
	chain := newChain()
	chain.Fund(account, e18(1000))
	chain.SeedVault(e18(2000), e18(1000))

	r := New(chain, registry.Default(), chainID, account)
	assert.Zero(t, r.State().TokenBalance.Sign(), "zero before the first read")

	require.NoError(t, r.Refresh(context.Background()))
	s := r.State()
	assertAmount(t, e18(1000), s.TokenBalance)
	assertAmount(t, e18(2000), s.TotalVaultAssets)
	assertAmount(t, e18(3000), s.TotalSupply)
	assert.Zero(t, s.VaultShares.Sign())
	assert.Zero(t, s.StakedAssets.Sign())
	assert.Zero(t, s.Allowance.Sign())
	assert.False(t, s.UpdatedAt.IsZero())

	// no conversion call for an empty position
	assert.Zero(t, chain.Calls(contracts.ConvertToAssets))
}

func TestStateIsACopy(t *testing.T) {
	chain := newChain()
	chain.Fund(account, e18(5))
	r := New(chain, registry.Default(), chainID, account)
	require.NoError(t, r.Refresh(context.Background()))

	s := r.State()
	s.TokenBalance.SetInt64(0)
	assertAmount(t, e18(5), r.State().TokenBalance)
}

func TestReadFailureKeepsLastGoodValue(t *testing.T) {
	chain := newChain()
	chain.Fund(account, e18(10))
	m := metrics.New(prometheus.NewRegistry())
	r := New(chain, registry.Default(), chainID, account, WithMetrics(m))
	require.NoError(t, r.Refresh(context.Background()))

	chain.Fund(account, e18(10))
	chain.FailCall(contracts.BalanceOf, errors.New("connection refused"))
	err := r.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrReadUnavailable)

	s := r.State()
	assertAmount(t, e18(10), s.TokenBalance, "previous value kept")
	assertAmount(t, e18(20), s.TotalSupply, "other queries still land")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadFailures.WithLabelValues("balance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadFailures.WithLabelValues("shares")))

	chain.FailCall(contracts.BalanceOf, nil)
	require.NoError(t, r.Refresh(context.Background()))
	assertAmount(t, e18(20), r.State().TokenBalance)
}

func TestStaleReadIsDropped(t *testing.T) {
	r := New(newChain(), registry.Default(), chainID, account)

	r.mu.Lock()
	r.dispatched[QueryBalance] = 2
	r.mu.Unlock()

	// the newer dispatch completes first
	r.apply(QueryBalance, 2, []*big.Int{big.NewInt(200)})
	r.apply(QueryBalance, 1, []*big.Int{big.NewInt(100)})
	assert.Equal(t, int64(200), r.State().TokenBalance.Int64())

	r.apply(QueryBalance, 3, []*big.Int{big.NewInt(300)})
	assert.Equal(t, int64(300), r.State().TokenBalance.Int64())
}

func TestSubscribeDeliversNewest(t *testing.T) {
	chain := newChain()
	r := New(chain, registry.Default(), chainID, account)

	ch, cancel := r.Subscribe()
	first := <-ch
	assert.Zero(t, first.TokenBalance.Sign())

	chain.Fund(account, e18(7))
	require.NoError(t, r.Refresh(context.Background()))

	// the buffer holds only the newest state
	latest := <-ch
	assertAmount(t, e18(7), latest.TokenBalance)
	select {
	case <-ch:
		t.Fatal("expected a single buffered state")
	default:
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestSubscribeDuringUpdatesHoldsLatest(t *testing.T) {
	chain := newChain()
	r := New(chain, registry.Default(), chainID, account)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			chain.Fund(account, big.NewInt(1))
			assert.NoError(t, r.RefreshQueries(context.Background(), QueryBalance))
		}
	}()

	var subs []<-chan types.AccountState
	for i := 0; i < 50; i++ {
		ch, cancel := r.Subscribe()
		defer cancel()
		subs = append(subs, ch)
	}
	<-done

	want := r.State().TokenBalance
	assertAmount(t, big.NewInt(50), want)
	for i, ch := range subs {
		assertAmount(t, want, (<-ch).TokenBalance, "subscriber %d", i)
	}
}

func TestQueryOptions(t *testing.T) {
	for _, q := range Queries {
		got, ok := ParseQuery(q.String())
		assert.True(t, ok)
		assert.Equal(t, q, got)
	}
	_, ok := ParseQuery("price")
	assert.False(t, ok)

	r := New(newChain(), registry.Default(), chainID, account,
		WithInterval(time.Second),
		WithQueryInterval(QueryTotalSupply, time.Minute),
		WithQueryInterval(numQueries, time.Hour),
		WithCallTimeout(3*time.Second),
	)
	assert.Equal(t, time.Minute, r.intervals[QueryTotalSupply])
	assert.Equal(t, time.Second, r.intervals[QueryBalance])
	assert.Equal(t, 3*time.Second, r.callTimeout)
}

func TestStartPollsUntilDone(t *testing.T) {
	chain := newChain()
	r := New(chain, registry.Default(), chainID, account, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	chain.Fund(account, e18(3))
	assert.Eventually(t, func() bool {
		return r.State().TokenBalance.Cmp(e18(3)) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	r.Wait()
	calls := chain.Calls(contracts.TotalSupply)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, chain.Calls(contracts.TotalSupply), "no polling after stop")
}

func TestSnapshotSeedsAndPersists(t *testing.T) {
	store := storage.NewStorage(memorydb.NewDB())
	chain := newChain()
	chain.Fund(account, e18(42))

	r := New(chain, registry.Default(), chainID, account, WithSnapshotStore(store))
	require.NoError(t, r.Refresh(context.Background()))

	// a new session serves the last known state before any read lands
	chain.FailCall(contracts.BalanceOf, errors.New("down"))
	r2 := New(chain, registry.Default(), chainID, account, WithSnapshotStore(store))
	assertAmount(t, e18(42), r2.State().TokenBalance)
	assert.Error(t, r2.Refresh(context.Background()))
	assertAmount(t, e18(42), r2.State().TokenBalance)
}

func TestConcurrentRefresh(t *testing.T) {
	chain := newChain()
	chain.Fund(account, e18(1))
	r := New(chain, registry.Default(), chainID, account)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Refresh(context.Background()))
		}()
	}
	wg.Wait()
	assertAmount(t, e18(1), r.State().TokenBalance)
}
