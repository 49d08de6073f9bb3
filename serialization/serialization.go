// Package serialization encodes journal values with the contract ABI codec so
// records stay readable by any ABI decoder.
package serialization

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/celer-network/go-dsu/types"
)

var errUnexpectedLayout = errors.New("unexpected encoded layout")

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	addressType = mustType("address")
	uint8Type   = mustType("uint8")
	uint64Type  = mustType("uint64")
	int64Type   = mustType("int64")
	uint256Type = mustType("uint256")
	bytes32Type = mustType("bytes32")
	stringType  = mustType("string")
)

var accountStateArguments = abi.Arguments{
	{Name: "chainId", Type: uint64Type},
	{Name: "account", Type: addressType},
	{Name: "tokenBalance", Type: uint256Type},
	{Name: "vaultShares", Type: uint256Type},
	{Name: "stakedAssets", Type: uint256Type},
	{Name: "totalVaultAssets", Type: uint256Type},
	{Name: "allowance", Type: uint256Type},
	{Name: "totalSupply", Type: uint256Type},
	{Name: "updatedAt", Type: int64Type},
}

var recordArguments = abi.Arguments{
	{Name: "id", Type: stringType},
	{Name: "kind", Type: uint8Type},
	{Name: "amount", Type: uint256Type},
	{Name: "target", Type: addressType},
	{Name: "chainId", Type: uint64Type},
	{Name: "hash", Type: bytes32Type},
	{Name: "status", Type: uint8Type},
	{Name: "failure", Type: uint8Type},
	{Name: "error", Type: stringType},
	{Name: "blockNumber", Type: uint64Type},
	{Name: "createdAt", Type: int64Type},
	{Name: "updatedAt", Type: int64Type},
}

func SerializeAccountState(s types.AccountState) ([]byte, error) {
	s = s.Clone()
	return accountStateArguments.Pack(
		s.ChainID,
		s.Account,
		s.TokenBalance,
		s.VaultShares,
		s.StakedAssets,
		s.TotalVaultAssets,
		s.Allowance,
		s.TotalSupply,
		unixNano(s.UpdatedAt),
	)
}

func DeserializeAccountState(data []byte) (types.AccountState, error) {
	values, err := accountStateArguments.Unpack(data)
	if err != nil {
		return types.AccountState{}, err
	}
	if len(values) != len(accountStateArguments) {
		return types.AccountState{}, errUnexpectedLayout
	}

	var s types.AccountState
	var ok [9]bool
	s.ChainID, ok[0] = values[0].(uint64)
	s.Account, ok[1] = values[1].(common.Address)
	s.TokenBalance, ok[2] = values[2].(*big.Int)
	s.VaultShares, ok[3] = values[3].(*big.Int)
	s.StakedAssets, ok[4] = values[4].(*big.Int)
	s.TotalVaultAssets, ok[5] = values[5].(*big.Int)
	s.Allowance, ok[6] = values[6].(*big.Int)
	s.TotalSupply, ok[7] = values[7].(*big.Int)
	var updatedAt int64
	updatedAt, ok[8] = values[8].(int64)
	for i, good := range ok {
		if !good {
			return types.AccountState{}, fmt.Errorf("%w: field %s", errUnexpectedLayout, accountStateArguments[i].Name)
		}
	}
	s.UpdatedAt = fromUnixNano(updatedAt)
	return s, nil
}

func SerializeRecord(r types.TransactionRecord) ([]byte, error) {
	amount := r.Intent.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	return recordArguments.Pack(
		r.ID,
		uint8(r.Intent.Kind),
		amount,
		r.Intent.Target,
		r.Intent.ChainID,
		[32]byte(r.Hash),
		uint8(r.Status),
		uint8(r.Failure),
		r.Error,
		r.BlockNumber,
		unixNano(r.CreatedAt),
		unixNano(r.UpdatedAt),
	)
}

func DeserializeRecord(data []byte) (types.TransactionRecord, error) {
	values, err := recordArguments.Unpack(data)
	if err != nil {
		return types.TransactionRecord{}, err
	}
	if len(values) != len(recordArguments) {
		return types.TransactionRecord{}, errUnexpectedLayout
	}

	var (
		r                    types.TransactionRecord
		ok                   [12]bool
		kind, status, fail   uint8
		hash                 [32]byte
		createdAt, updatedAt int64
	)
	r.ID, ok[0] = values[0].(string)
	kind, ok[1] = values[1].(uint8)
	r.Intent.Amount, ok[2] = values[2].(*big.Int)
	r.Intent.Target, ok[3] = values[3].(common.Address)
	r.Intent.ChainID, ok[4] = values[4].(uint64)
	hash, ok[5] = values[5].([32]byte)
	status, ok[6] = values[6].(uint8)
	fail, ok[7] = values[7].(uint8)
	r.Error, ok[8] = values[8].(string)
	r.BlockNumber, ok[9] = values[9].(uint64)
	createdAt, ok[10] = values[10].(int64)
	updatedAt, ok[11] = values[11].(int64)
	for i, good := range ok {
		if !good {
			return types.TransactionRecord{}, fmt.Errorf("%w: field %s", errUnexpectedLayout, recordArguments[i].Name)
		}
	}

	r.Intent.Kind = types.IntentKind(kind)
	r.Hash = common.Hash(hash)
	r.Status = types.TxStatus(status)
	r.Failure = types.FailureKind(fail)
	r.CreatedAt = fromUnixNano(createdAt)
	r.UpdatedAt = fromUnixNano(updatedAt)
	return r, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
