package serialization

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celer-network/go-dsu/types"
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestAccountState(t *testing.T) {
	s := types.NewAccountState(31337, common.HexToAddress("0xaa"))
	s.TokenBalance = e18(1000)
	s.Allowance = e18(500)
	s.TotalSupply = e18(1000000)
	s.UpdatedAt = time.Unix(1700000000, 42)

	data, err := SerializeAccountState(s)
	require.NoError(t, err)

	got, err := DeserializeAccountState(data)
	require.NoError(t, err)
	assert.Equal(t, s.ChainID, got.ChainID)
	assert.Equal(t, s.Account, got.Account)
	assert.Equal(t, 0, s.TokenBalance.Cmp(got.TokenBalance))
	assert.Equal(t, 0, s.Allowance.Cmp(got.Allowance))
	assert.Equal(t, 0, s.TotalSupply.Cmp(got.TotalSupply))
	assert.Zero(t, got.VaultShares.Sign())
	assert.True(t, s.UpdatedAt.Equal(got.UpdatedAt))
}

func TestRecordKeepsFailure(t *testing.T) {
	r := types.TransactionRecord{
		ID: "0b6f8b1e-0000-4000-8000-000000000000",
		Intent: types.TransactionIntent{
			Kind:    types.IntentWithdraw,
			Amount:  e18(3),
			Target:  common.HexToAddress("0xbb"),
			ChainID: 11155111,
		},
		Hash:        common.HexToHash("0xdead"),
		Status:      types.StatusFailed,
		Failure:     types.FailureReverted,
		Error:       "ERC4626: withdraw more than max",
		BlockNumber: 77,
		CreatedAt:   time.Unix(1700000000, 0),
	}

	data, err := SerializeRecord(r)
	require.NoError(t, err)

	got, err := DeserializeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.Intent.Kind, got.Intent.Kind)
	assert.Equal(t, r.Intent.Target, got.Intent.Target)
	assert.Equal(t, r.Hash, got.Hash)
	assert.Equal(t, r.Failure, got.Failure)
	assert.ErrorIs(t, got.Err(), types.ErrReverted)
	assert.True(t, got.UpdatedAt.IsZero())
}

func TestDeserializeGarbage(t *testing.T) {
	_, err := DeserializeRecord([]byte{1, 2, 3})
	assert.Error(t, err)
	_, err = DeserializeAccountState(nil)
	assert.Error(t, err)
}
