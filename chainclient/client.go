// Package chainclient talks to EVM nodes for the reader and the orchestrator:
// view calls, signed writes and receipt tracking.
package chainclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/celer-network/go-dsu/contracts"
	"github.com/celer-network/go-dsu/log"
	"github.com/celer-network/go-dsu/types"
)

var logger = log.NewLogger("chainclient")

var (
	ErrUnknownChain = errors.New("no rpc endpoint for chain")
	ErrNoSigner     = errors.New("no signing key for account")
)

const (
	defaultPollInterval = 2 * time.Second
	// consecutive polls where the node no longer knows the hash
	defaultDropThreshold = 3
	gasHeadroomPercent   = 120
)

// Backend is the subset of ethclient.Client the client needs.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var _ Backend = (*ethclient.Client)(nil)

// SignRequest is what the signer is asked to approve.
type SignRequest struct {
	ChainID   uint64
	From      common.Address
	To        common.Address
	Signature string
	Args      []interface{}
}

// Confirmer plays the wallet prompt. Returning an error declines the request.
type Confirmer func(ctx context.Context, req SignRequest) error

type Option func(*Client)

func WithConfirmer(confirm Confirmer) Option {
	return func(c *Client) { c.confirm = confirm }
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

func WithDropThreshold(polls int) Option {
	return func(c *Client) {
		if polls > 0 {
			c.dropThreshold = polls
		}
	}
}

type Client struct {
	backends      map[uint64]Backend
	signer        *Signer
	confirm       Confirmer
	pollInterval  time.Duration
	dropThreshold int
}

// New wraps already connected backends keyed by chain id. signer may be nil
// for a read-only client.
func New(backends map[uint64]Backend, signer *Signer, opts ...Option) *Client {
	c := &Client{
		backends:      make(map[uint64]Backend, len(backends)),
		signer:        signer,
		pollInterval:  defaultPollInterval,
		dropThreshold: defaultDropThreshold,
	}
	for id, b := range backends {
		c.backends[id] = b
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to every endpoint in rpcs and checks that each node serves
// the chain it is configured for.
func Dial(ctx context.Context, rpcs map[uint64]string, signer *Signer, opts ...Option) (*Client, error) {
	backends := make(map[uint64]Backend, len(rpcs))
	for chainID, url := range rpcs {
		ec, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("dial chain %d: %w", chainID, err)
		}
		served, err := ec.ChainID(ctx)
		if err != nil {
			ec.Close()
			return nil, fmt.Errorf("chain %d: %w", chainID, err)
		}
		if served.Uint64() != chainID {
			ec.Close()
			return nil, fmt.Errorf("rpc %s serves chain %s, configured as %d", url, served, chainID)
		}
		logger.Info().Uint64("chain", chainID).Str("rpc", url).Msg("connected")
		backends[chainID] = ec
	}
	return New(backends, signer, opts...), nil
}

func (c *Client) backend(chainID uint64) (Backend, error) {
	b, ok := c.backends[chainID]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownChain, chainID)
	}
	return b, nil
}

// Call runs a view function and returns the raw return data.
func (c *Client) Call(ctx context.Context, chainID uint64, to common.Address, signature string, args ...interface{}) ([]byte, error) {
	b, err := c.backend(chainID)
	if err != nil {
		return nil, err
	}
	data, err := contracts.Calldata(signature, args...)
	if err != nil {
		return nil, err
	}
	return b.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// BlockNumber returns the latest block height of chainID.
func (c *Client) BlockNumber(ctx context.Context, chainID uint64) (uint64, error) {
	b, err := c.backend(chainID)
	if err != nil {
		return 0, err
	}
	return b.BlockNumber(ctx)
}

// Submit asks the confirmer for a signature, then signs and broadcasts a call
// of signature on to. A declined prompt returns types.ErrUserRejected; any
// failure before the node accepts the transaction wraps types.ErrSubmitFailed.
// ctx only governs the prompt: once approved, the transaction is sent even if
// ctx is cancelled.
func (c *Client) Submit(ctx context.Context, chainID uint64, to common.Address, signature string, args []interface{}, from common.Address) (common.Hash, error) {
	b, err := c.backend(chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", types.ErrSubmitFailed, err)
	}
	if c.signer == nil || c.signer.Address() != from {
		return common.Hash{}, fmt.Errorf("%w: %v %s", types.ErrSubmitFailed, ErrNoSigner, from.Hex())
	}
	data, err := contracts.Calldata(signature, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", types.ErrSubmitFailed, err)
	}

	if c.confirm != nil {
		req := SignRequest{ChainID: chainID, From: from, To: to, Signature: signature, Args: args}
		if err = c.confirm(ctx, req); err != nil {
			return common.Hash{}, fmt.Errorf("%w: %v", types.ErrUserRejected, err)
		}
	} else if ctx.Err() != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", types.ErrUserRejected, ctx.Err())
	}
	ctx = context.WithoutCancel(ctx)

	nonce, err := b.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: nonce: %v", types.ErrSubmitFailed, err)
	}
	gasPrice, err := b.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: gas price: %v", types.ErrSubmitFailed, err)
	}
	gas, err := b.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: estimate gas: %s", types.ErrSubmitFailed, reasonOf(err))
	}
	gas = gas * gasHeadroomPercent / 100

	opts, err := c.signer.TransactOpts(chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", types.ErrSubmitFailed, err)
	}
	tx, err := opts.Signer(from, ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	}))
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: sign: %v", types.ErrSubmitFailed, err)
	}
	if err = b.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", types.ErrSubmitFailed, err)
	}

	logger.Debug().Uint64("chain", chainID).Str("method", signature).Uint64("nonce", nonce).
		Str("hash", tx.Hash().Hex()).Msg("transaction sent")
	return tx.Hash(), nil
}

// AwaitReceipt polls until hash is included. It returns types.ErrTxNotFound
// when the node forgets the transaction or ctx expires first.
func (c *Client) AwaitReceipt(ctx context.Context, chainID uint64, hash common.Hash) (*types.Receipt, error) {
	b, err := c.backend(chainID)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	misses := 0
	for {
		receipt, err := b.TransactionReceipt(ctx, hash)
		if err == nil {
			return c.toReceipt(ctx, b, hash, receipt), nil
		}
		if errors.Is(err, ethereum.NotFound) {
			_, _, err = b.TransactionByHash(ctx, hash)
			switch {
			case errors.Is(err, ethereum.NotFound):
				misses++
				if misses >= c.dropThreshold {
					return nil, fmt.Errorf("%w: %s dropped by the node", types.ErrTxNotFound, hash.Hex())
				}
			case err == nil:
				misses = 0
			}
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			logger.Warn().Err(err).Str("hash", hash.Hex()).Msg("receipt poll failed")
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: no receipt for %s before deadline", types.ErrTxNotFound, hash.Hex())
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) toReceipt(ctx context.Context, b Backend, hash common.Hash, r *ethtypes.Receipt) *types.Receipt {
	out := &types.Receipt{
		Hash:   hash,
		Status: types.ReceiptSuccess,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	if r.Status != ethtypes.ReceiptStatusSuccessful {
		out.Status = types.ReceiptReverted
		reason, err := revertReason(ctx, b, hash, r.BlockNumber)
		if err != nil {
			logger.Debug().Err(err).Str("hash", hash.Hex()).Msg("no revert reason")
		}
		out.RevertReason = reason
	}
	return out
}
