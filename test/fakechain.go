// Package test provides an in-memory token and vault deployment for exercising
// the reader and the orchestrator without a node.
package test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/celer-network/go-dsu/contracts"
	"github.com/celer-network/go-dsu/types"
)

var ErrUnknownCall = errors.New("fake chain: unsupported call")

type sentTx struct {
	from      common.Address
	to        common.Address
	signature string
	args      []interface{}
}

// Chain mimics one ERC-20 token and one ERC-4626 vault over that token.
// Submitted transactions execute when their receipt is awaited.
type Chain struct {
	mu sync.Mutex

	ID    uint64
	Token common.Address
	Vault common.Address

	balances    map[common.Address]*big.Int
	allowances  map[[2]common.Address]*big.Int
	shares      map[common.Address]*big.Int
	totalShares *big.Int
	supply      *big.Int

	block   uint64
	nonce   uint64
	pending map[common.Hash]sentTx
	mined   map[common.Hash]*types.Receipt

	callErrs  map[string]error
	calls     map[string]int
	submitted []sentTx

	// Sign, when set, is called before a submission is accepted. A non-nil
	// error rejects it, as a wallet prompt would.
	Sign func(ctx context.Context) error
	// Hold, when set, delays every receipt until it is closed.
	Hold chan struct{}
	// RevertNext makes the next executed transaction revert with RevertReason,
	// which may be empty.
	RevertNext   bool
	RevertReason string
	// DropNext makes the next awaited transaction disappear.
	DropNext bool
}

func NewChain(id uint64, token, vault common.Address) *Chain {
	return &Chain{
		ID:          id,
		Token:       token,
		Vault:       vault,
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[[2]common.Address]*big.Int),
		shares:      make(map[common.Address]*big.Int),
		totalShares: new(big.Int),
		supply:      new(big.Int),
		block:       1,
		pending:     make(map[common.Hash]sentTx),
		mined:       make(map[common.Hash]*types.Receipt),
		callErrs:    make(map[string]error),
		calls:       make(map[string]int),
	}
}

func get(m map[common.Address]*big.Int, a common.Address) *big.Int {
	if v, ok := m[a]; ok {
		return v
	}
	return new(big.Int)
}

// Fund mints amount tokens to account.
func (c *Chain) Fund(account common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mint(account, amount)
}

// SeedVault gives the vault a position owned by a third party so the share
// price is assets/shares instead of 1.
func (c *Chain) SeedVault(assets, shares *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	whale := common.HexToAddress("0x000000000000000000000000000000000000dead")
	c.balances[c.Vault] = new(big.Int).Add(get(c.balances, c.Vault), assets)
	c.supply.Add(c.supply, assets)
	c.shares[whale] = new(big.Int).Add(get(c.shares, whale), shares)
	c.totalShares.Add(c.totalShares, shares)
}

// FailCall makes every call of signature fail with err until cleared with nil.
func (c *Chain) FailCall(signature string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.callErrs, signature)
		return
	}
	c.callErrs[signature] = err
}

// Calls returns how often signature was called.
func (c *Chain) Calls(signature string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[signature]
}

// Submitted returns the signatures of accepted submissions in order.
func (c *Chain) Submitted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.submitted))
	for i, tx := range c.submitted {
		out[i] = tx.signature
	}
	return out
}

func (c *Chain) Allowance(owner, spender common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.allowance(owner, spender))
}

func (c *Chain) allowance(owner, spender common.Address) *big.Int {
	if v, ok := c.allowances[[2]common.Address{owner, spender}]; ok {
		return v
	}
	return new(big.Int)
}

func (c *Chain) totalAssets() *big.Int {
	return get(c.balances, c.Vault)
}

func (c *Chain) toAssets(shares *big.Int) *big.Int {
	if c.totalShares.Sign() == 0 {
		return new(big.Int).Set(shares)
	}
	v := new(big.Int).Mul(shares, c.totalAssets())
	return v.Div(v, c.totalShares)
}

func (c *Chain) toShares(assets *big.Int, roundUp bool) *big.Int {
	if c.totalShares.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	v := new(big.Int).Mul(assets, c.totalShares)
	q, m := new(big.Int).DivMod(v, c.totalAssets(), new(big.Int))
	if roundUp && m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func (c *Chain) mint(to common.Address, amount *big.Int) {
	c.balances[to] = new(big.Int).Add(get(c.balances, to), amount)
	c.supply.Add(c.supply, amount)
}

func addressArg(args []interface{}, i int) (common.Address, error) {
	if i >= len(args) {
		return common.Address{}, ErrUnknownCall
	}
	a, ok := args[i].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: arg %d is %T", ErrUnknownCall, i, args[i])
	}
	return a, nil
}

func intArg(args []interface{}, i int) (*big.Int, error) {
	if i >= len(args) {
		return nil, ErrUnknownCall
	}
	v, ok := args[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: arg %d is %T", ErrUnknownCall, i, args[i])
	}
	return v, nil
}

func (c *Chain) Call(ctx context.Context, chainID uint64, to common.Address, signature string, args ...interface{}) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[signature]++
	if chainID != c.ID {
		return nil, fmt.Errorf("fake chain %d asked for chain %d", c.ID, chainID)
	}
	if err := c.callErrs[signature]; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var v *big.Int
	switch {
	case to == c.Token && signature == contracts.BalanceOf:
		a, err := addressArg(args, 0)
		if err != nil {
			return nil, err
		}
		v = get(c.balances, a)
	case to == c.Token && signature == contracts.Allowance:
		owner, err := addressArg(args, 0)
		if err != nil {
			return nil, err
		}
		spender, err := addressArg(args, 1)
		if err != nil {
			return nil, err
		}
		v = c.allowance(owner, spender)
	case to == c.Token && signature == contracts.TotalSupply:
		v = c.supply
	case to == c.Vault && signature == contracts.BalanceOf:
		a, err := addressArg(args, 0)
		if err != nil {
			return nil, err
		}
		v = get(c.shares, a)
	case to == c.Vault && signature == contracts.TotalAssets:
		v = c.totalAssets()
	case to == c.Vault && signature == contracts.ConvertToAssets:
		shares, err := intArg(args, 0)
		if err != nil {
			return nil, err
		}
		v = c.toAssets(shares)
	case to == c.Vault && signature == contracts.ConvertToShares:
		assets, err := intArg(args, 0)
		if err != nil {
			return nil, err
		}
		v = c.toShares(assets, false)
	default:
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownCall, signature, to.Hex())
	}
	return contracts.EncodeUint256(v)
}

func (c *Chain) Submit(ctx context.Context, chainID uint64, to common.Address, signature string, args []interface{}, from common.Address) (common.Hash, error) {
	if sign := c.Sign; sign != nil {
		if err := sign(ctx); err != nil {
			return common.Hash{}, fmt.Errorf("%w: %v", types.ErrUserRejected, err)
		}
	}
	if _, err := contracts.Calldata(signature, args...); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", types.ErrSubmitFailed, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if chainID != c.ID {
		return common.Hash{}, fmt.Errorf("%w: wrong chain %d", types.ErrSubmitFailed, chainID)
	}
	c.nonce++
	hash := crypto.Keccak256Hash(from.Bytes(), new(big.Int).SetUint64(c.nonce).Bytes())
	tx := sentTx{from: from, to: to, signature: signature, args: args}
	c.pending[hash] = tx
	c.submitted = append(c.submitted, tx)
	return hash, nil
}

func (c *Chain) AwaitReceipt(ctx context.Context, chainID uint64, hash common.Hash) (*types.Receipt, error) {
	if hold := c.Hold; hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", types.ErrTxNotFound, ctx.Err())
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.mined[hash]; ok {
		return r, nil
	}
	tx, ok := c.pending[hash]
	if !ok || c.DropNext {
		c.DropNext = false
		delete(c.pending, hash)
		return nil, fmt.Errorf("%w: %s", types.ErrTxNotFound, hash.Hex())
	}
	delete(c.pending, hash)

	c.block++
	receipt := &types.Receipt{Hash: hash, BlockNumber: c.block, Status: types.ReceiptSuccess}
	if c.RevertNext {
		c.RevertNext = false
		receipt.Status = types.ReceiptReverted
		receipt.RevertReason = c.RevertReason
	} else if reason := c.execute(tx); reason != "" {
		receipt.Status = types.ReceiptReverted
		receipt.RevertReason = reason
	}
	c.mined[hash] = receipt
	return receipt, nil
}

func (c *Chain) BlockNumber(ctx context.Context, chainID uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, nil
}

// Mine advances the head by n empty blocks.
func (c *Chain) Mine(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block += n
}

// execute applies tx and returns a revert reason, or "" on success.
func (c *Chain) execute(tx sentTx) string {
	switch {
	case tx.to == c.Token && tx.signature == contracts.Approve:
		spender, _ := addressArg(tx.args, 0)
		amount, _ := intArg(tx.args, 1)
		c.allowances[[2]common.Address{tx.from, spender}] = new(big.Int).Set(amount)
	case tx.to == c.Token && tx.signature == contracts.Mint:
		to, _ := addressArg(tx.args, 0)
		amount, _ := intArg(tx.args, 1)
		c.mint(to, amount)
	case tx.to == c.Vault && tx.signature == contracts.Deposit:
		assets, _ := intArg(tx.args, 0)
		receiver, _ := addressArg(tx.args, 1)
		allowed := c.allowance(tx.from, c.Vault)
		if allowed.Cmp(assets) < 0 {
			return "ERC20: insufficient allowance"
		}
		if get(c.balances, tx.from).Cmp(assets) < 0 {
			return "ERC20: transfer amount exceeds balance"
		}
		shares := c.toShares(assets, false)
		c.allowances[[2]common.Address{tx.from, c.Vault}] = new(big.Int).Sub(allowed, assets)
		c.balances[tx.from] = new(big.Int).Sub(get(c.balances, tx.from), assets)
		c.balances[c.Vault] = new(big.Int).Add(c.totalAssets(), assets)
		c.shares[receiver] = new(big.Int).Add(get(c.shares, receiver), shares)
		c.totalShares.Add(c.totalShares, shares)
	case tx.to == c.Vault && tx.signature == contracts.Withdraw:
		assets, _ := intArg(tx.args, 0)
		receiver, _ := addressArg(tx.args, 1)
		owner, _ := addressArg(tx.args, 2)
		shares := c.toShares(assets, true)
		if get(c.shares, owner).Cmp(shares) < 0 {
			return "ERC4626: withdraw more than max"
		}
		c.shares[owner] = new(big.Int).Sub(get(c.shares, owner), shares)
		c.totalShares.Sub(c.totalShares, shares)
		c.balances[c.Vault] = new(big.Int).Sub(c.totalAssets(), assets)
		c.balances[receiver] = new(big.Int).Add(get(c.balances, receiver), assets)
	default:
		return "function selector was not recognized"
	}
	return ""
}
