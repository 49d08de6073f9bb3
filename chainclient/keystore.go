package chainclient

import (
	"crypto/ecdsa"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func GetPrivateKeyFromKeystore(path string, password string) (*ecdsa.PrivateKey, error) {
	ksBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := keystore.DecryptKey(ksBytes, password)
	if err != nil {
		return nil, err
	}
	return key.PrivateKey, nil
}

// Signer holds the account key and builds per-chain transactors from it.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func NewSignerFromKeystore(path string, password string) (*Signer, error) {
	key, err := GetPrivateKeyFromKeystore(path, password)
	if err != nil {
		return nil, err
	}
	return NewSigner(key), nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// TransactOpts returns EIP-155 transact options for chainID.
func (s *Signer) TransactOpts(chainID uint64) (*bind.TransactOpts, error) {
	return bind.NewKeyedTransactorWithChainID(s.key, new(big.Int).SetUint64(chainID))
}
