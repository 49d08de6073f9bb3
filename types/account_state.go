package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AccountState is the cached view of one account on one chain. Every quantity is
// a non-negative integer in the token's smallest unit.
type AccountState struct {
	ChainID uint64
	Account common.Address

	TokenBalance     *big.Int
	VaultShares      *big.Int
	StakedAssets     *big.Int
	TotalVaultAssets *big.Int
	Allowance        *big.Int
	TotalSupply      *big.Int

	UpdatedAt time.Time
}

// NewAccountState returns a state with every quantity set to zero.
func NewAccountState(chainID uint64, account common.Address) AccountState {
	return AccountState{
		ChainID:          chainID,
		Account:          account,
		TokenBalance:     new(big.Int),
		VaultShares:      new(big.Int),
		StakedAssets:     new(big.Int),
		TotalVaultAssets: new(big.Int),
		Allowance:        new(big.Int),
		TotalSupply:      new(big.Int),
	}
}

// Clone returns a deep copy so callers can never mutate the reader's cache.
func (s AccountState) Clone() AccountState {
	c := s
	c.TokenBalance = cloneInt(s.TokenBalance)
	c.VaultShares = cloneInt(s.VaultShares)
	c.StakedAssets = cloneInt(s.StakedAssets)
	c.TotalVaultAssets = cloneInt(s.TotalVaultAssets)
	c.Allowance = cloneInt(s.Allowance)
	c.TotalSupply = cloneInt(s.TotalSupply)
	return c
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
