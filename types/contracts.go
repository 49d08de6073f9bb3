package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// ChainContracts is the set of protocol contracts deployed on one chain.
type ChainContracts struct {
	Token   common.Address
	Vault   common.Address
	Minting common.Address
}

// Complete reports whether the token and the vault are both set.
// The minting module is optional.
func (c ChainContracts) Complete() bool {
	return c.Token != (common.Address{}) && c.Vault != (common.Address{})
}
