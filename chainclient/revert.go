package chainclient

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// RevertReason replays hash as an eth_call at its block and decodes the
// Error(string) payload.
func (c *Client) RevertReason(ctx context.Context, chainID uint64, hash common.Hash) (string, error) {
	b, err := c.backend(chainID)
	if err != nil {
		return "", err
	}
	receipt, err := b.TransactionReceipt(ctx, hash)
	if err != nil {
		return "", err
	}
	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		return "", nil
	}
	return revertReason(ctx, b, hash, receipt.BlockNumber)
}

func revertReason(ctx context.Context, b Backend, hash common.Hash, block *big.Int) (string, error) {
	tx, _, err := b.TransactionByHash(ctx, hash)
	if err != nil {
		return "", err
	}
	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return "", err
	}
	msg := ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	_, err = b.CallContract(ctx, msg, block)
	if err == nil {
		return "", errors.New("replay did not revert")
	}
	return reasonOf(err), nil
}

// reasonOf extracts a readable revert reason from a node error.
func reasonOf(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(s); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}
