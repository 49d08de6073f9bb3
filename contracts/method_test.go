package contracts

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectors(t *testing.T) {
	tests := []struct {
		signature string
		selector  string
	}{
		{BalanceOf, "70a08231"},
		{Allowance, "dd62ed3e"},
		{TotalSupply, "18160ddd"},
		{Approve, "095ea7b3"},
		{Mint, "40c10f19"},
		{TotalAssets, "01e1d114"},
		{ConvertToAssets, "07a2d13a"},
		{ConvertToShares, "c6e6f592"},
		{Deposit, "6e553f65"},
		{Withdraw, "b460af94"},
		{Redeem, "ba087652"},
	}
	for _, test := range tests {
		t.Run(test.signature, func(t *testing.T) {
			m, err := ParseMethod(test.signature)
			require.NoError(t, err)
			assert.Equal(t, test.selector, hex.EncodeToString(m.Selector[:]))
		})
	}
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("withdraw(uint256, address, address)")
	require.NoError(t, err)
	assert.Equal(t, "withdraw", m.Name)
	assert.Equal(t, Withdraw, m.Signature)
	assert.Len(t, m.Inputs, 3)

	m, err = ParseMethod(TotalAssets)
	require.NoError(t, err)
	assert.Empty(t, m.Inputs)

	for _, bad := range []string{"", "balanceOf", "(address)", "balanceOf(address", "f((uint256,address))", "f(foo)"} {
		_, err := ParseMethod(bad)
		assert.ErrorIs(t, err, ErrBadSignature, bad)
	}
}

func TestCalldata(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	data, err := Calldata(BalanceOf, owner)
	require.NoError(t, err)
	require.Len(t, data, 4+32)
	assert.Equal(t, "70a08231", hex.EncodeToString(data[:4]))
	assert.Equal(t, owner, common.BytesToAddress(data[4:]))

	amount := new(big.Int).Mul(big.NewInt(500), big.NewInt(1e18))
	data, err = Calldata(Deposit, amount, owner)
	require.NoError(t, err)
	require.Len(t, data, 4+64)
	assert.Equal(t, 0, amount.Cmp(new(big.Int).SetBytes(data[4:36])))

	_, err = Calldata(Approve, owner)
	assert.Error(t, err)
	_, err = Calldata(Approve, owner, "not a number")
	assert.Error(t, err)
}

func TestCalldataRejectsOutOfRange(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	maxUint := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	data, err := Calldata(Mint, owner, maxUint)
	require.NoError(t, err)
	assert.Equal(t, 0, maxUint.Cmp(new(big.Int).SetBytes(data[36:])))

	// 2^256+5 would otherwise encode as 5
	over := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(5))
	_, err = Calldata(Mint, owner, over)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = Calldata(Approve, owner, big.NewInt(-1))
	assert.ErrorIs(t, err, ErrOutOfRange)

	m, err := ParseMethod("f(int256,uint256)")
	require.NoError(t, err)
	half := new(big.Int).Lsh(big.NewInt(1), 255)
	_, err = m.Pack(new(big.Int).Neg(half), maxUint)
	assert.NoError(t, err)
	_, err = m.Pack(half, big.NewInt(0))
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestUint256Codec(t *testing.T) {
	v := new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))
	data, err := EncodeUint256(v)
	require.NoError(t, err)
	assert.Len(t, data, 32)

	got, err := DecodeUint256(data)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Cmp(got))

	_, err = DecodeUint256(nil)
	assert.Error(t, err)
	_, err = DecodeUint256([]byte{1, 2, 3})
	assert.Error(t, err)
}
