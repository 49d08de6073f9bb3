package chainclient

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celer-network/go-dsu/contracts"
	"github.com/celer-network/go-dsu/types"
)

const chainID = 31337

// Error(string) with "insufficient allowance"
const revertData = "0x08c379a0" +
	"0000000000000000000000000000000000000000000000000000000000000020" +
	"0000000000000000000000000000000000000000000000000000000000000016" +
	"696e73756666696369656e7420616c6c6f77616e636500000000000000000000"

type dataError struct {
	data string
}

func (e *dataError) Error() string          { return "execution reverted" }
func (e *dataError) ErrorData() interface{} { return e.data }

type fakeBackend struct {
	mu       sync.Mutex
	calls    []ethereum.CallMsg
	sent     []*ethtypes.Transaction
	receipts map[common.Hash]*ethtypes.Receipt
	known    map[common.Hash]bool
	callErr  error
	gasErr   error
	sendErr  error
	callRet  []byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		receipts: make(map[common.Hash]*ethtypes.Receipt),
		known:    make(map[common.Hash]bool),
	}
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.callRet, f.callErr
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 50000, f.gasErr
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1e9), nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.known[tx.Hash()] = true
	// the node accepted the tx; a cancelled caller only loses the reply
	return ctx.Err()
}

func (f *fakeBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if tx.Hash() == hash && f.known[hash] {
			_, mined := f.receipts[hash]
			return tx, !mined, nil
		}
	}
	return nil, false, ethereum.NotFound
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	return 100, nil
}

func (f *fakeBackend) mine(hash common.Hash, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = &ethtypes.Receipt{Status: status, BlockNumber: big.NewInt(101), TxHash: hash}
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeBackend, *Signer) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := NewSigner(key)
	backend := newFakeBackend()
	opts = append([]Option{WithPollInterval(5 * time.Millisecond)}, opts...)
	return New(map[uint64]Backend{chainID: backend}, signer, opts...), backend, signer
}

var (
	token = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	vault = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

func TestCall(t *testing.T) {
	c, backend, signer := newTestClient(t)
	backend.callRet = common.LeftPadBytes(big.NewInt(7).Bytes(), 32)

	ret, err := c.Call(context.Background(), chainID, token, contracts.BalanceOf, signer.Address())
	require.NoError(t, err)
	v, err := contracts.DecodeUint256(ret)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Int64())

	require.Len(t, backend.calls, 1)
	assert.Equal(t, token, *backend.calls[0].To)
	want, _ := contracts.Calldata(contracts.BalanceOf, signer.Address())
	assert.Equal(t, want, backend.calls[0].Data)

	_, err = c.Call(context.Background(), 1, token, contracts.BalanceOf, signer.Address())
	assert.ErrorIs(t, err, ErrUnknownChain)
}

func TestSubmitSignsAndSends(t *testing.T) {
	var prompted SignRequest
	c, backend, signer := newTestClient(t, WithConfirmer(func(ctx context.Context, req SignRequest) error {
		prompted = req
		return nil
	}))
	amount := big.NewInt(500)

	hash, err := c.Submit(context.Background(), chainID, token, contracts.Approve, []interface{}{vault, amount}, signer.Address())
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, token, *tx.To())
	assert.Equal(t, uint64(60000), tx.Gas())
	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(chainID)), tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)
	assert.Equal(t, contracts.Approve, prompted.Signature)
}

func TestSubmitFailures(t *testing.T) {
	c, backend, signer := newTestClient(t, WithConfirmer(func(ctx context.Context, req SignRequest) error {
		return errors.New("declined")
	}))
	args := []interface{}{vault, big.NewInt(1)}

	_, err := c.Submit(context.Background(), chainID, token, contracts.Approve, args, signer.Address())
	assert.ErrorIs(t, err, types.ErrUserRejected)
	assert.Empty(t, backend.sent)

	c, backend, signer = newTestClient(t)
	_, err = c.Submit(context.Background(), chainID, token, contracts.Approve, args, common.HexToAddress("0x01"))
	assert.ErrorIs(t, err, types.ErrSubmitFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Submit(ctx, chainID, token, contracts.Approve, args, signer.Address())
	assert.ErrorIs(t, err, types.ErrUserRejected)

	backend.gasErr = &dataError{data: revertData}
	_, err = c.Submit(context.Background(), chainID, token, contracts.Approve, args, signer.Address())
	assert.ErrorIs(t, err, types.ErrSubmitFailed)
	assert.Contains(t, err.Error(), "insufficient allowance")

	backend.gasErr = nil
	backend.sendErr = errors.New("nonce too low")
	_, err = c.Submit(context.Background(), chainID, token, contracts.Approve, args, signer.Address())
	assert.ErrorIs(t, err, types.ErrSubmitFailed)
	assert.Empty(t, backend.sent)
}

func TestCancelAfterApprovalStillSends(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, backend, signer := newTestClient(t, WithConfirmer(func(context.Context, SignRequest) error {
		cancel()
		return nil
	}))

	hash, err := c.Submit(ctx, chainID, token, contracts.Approve, []interface{}{vault, big.NewInt(1)}, signer.Address())
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, backend.sent[0].Hash(), hash)
}

func TestAwaitReceipt(t *testing.T) {
	c, backend, signer := newTestClient(t)
	hash, err := c.Submit(context.Background(), chainID, vault, contracts.Deposit,
		[]interface{}{big.NewInt(5), signer.Address()}, signer.Address())
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		backend.mine(hash, ethtypes.ReceiptStatusSuccessful)
	}()

	receipt, err := c.AwaitReceipt(context.Background(), chainID, hash)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptSuccess, receipt.Status)
	assert.Equal(t, uint64(101), receipt.BlockNumber)
}

func TestAwaitReceiptReverted(t *testing.T) {
	c, backend, signer := newTestClient(t)
	hash, err := c.Submit(context.Background(), chainID, vault, contracts.Deposit,
		[]interface{}{big.NewInt(5), signer.Address()}, signer.Address())
	require.NoError(t, err)
	backend.mine(hash, ethtypes.ReceiptStatusFailed)
	backend.callErr = &dataError{data: revertData}

	receipt, err := c.AwaitReceipt(context.Background(), chainID, hash)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptReverted, receipt.Status)
	assert.Equal(t, "insufficient allowance", receipt.RevertReason)

	reason, err := c.RevertReason(context.Background(), chainID, hash)
	require.NoError(t, err)
	assert.Equal(t, "insufficient allowance", reason)
}

func TestAwaitReceiptNotFound(t *testing.T) {
	c, _, _ := newTestClient(t)

	// never seen by the node
	_, err := c.AwaitReceipt(context.Background(), chainID, common.HexToHash("0x01"))
	assert.ErrorIs(t, err, types.ErrTxNotFound)

	// pending forever
	c, _, signer := newTestClient(t)
	hash, err := c.Submit(context.Background(), chainID, token, contracts.Approve,
		[]interface{}{vault, big.NewInt(1)}, signer.Address())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = c.AwaitReceipt(ctx, chainID, hash)
	assert.ErrorIs(t, err, types.ErrTxNotFound)
}

func TestDropThreshold(t *testing.T) {
	// a single miss is enough; the hour long poll interval is never waited out
	c, _, _ := newTestClient(t, WithDropThreshold(1), WithPollInterval(time.Hour))
	done := make(chan error, 1)
	go func() {
		_, err := c.AwaitReceipt(context.Background(), chainID, common.HexToHash("0x02"))
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, types.ErrTxNotFound)
	case <-time.After(5 * time.Second):
		t.Fatal("drop threshold ignored")
	}
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, "insufficient allowance", reasonOf(&dataError{data: revertData}))
	assert.Equal(t, "execution reverted", reasonOf(&dataError{data: hexutil.Encode([]byte{1, 2})}))
	assert.Equal(t, "boom", reasonOf(errors.New("boom")))
}
