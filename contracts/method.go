// Package contracts encodes calls to the DSU token and vault from plain
// function signatures such as "balanceOf(address)".
package contracts

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"golang.org/x/crypto/sha3"
)

// Token functions.
const (
	BalanceOf   = "balanceOf(address)"
	Allowance   = "allowance(address,address)"
	TotalSupply = "totalSupply()"
	Approve     = "approve(address,uint256)"
	Mint        = "mint(address,uint256)"
)

// ERC-4626 vault functions. BalanceOf applies to vault shares as well.
const (
	TotalAssets     = "totalAssets()"
	ConvertToAssets = "convertToAssets(uint256)"
	ConvertToShares = "convertToShares(uint256)"
	Deposit         = "deposit(uint256,address)"
	Withdraw        = "withdraw(uint256,address,address)"
	Redeem          = "redeem(uint256,address,address)"
)

var (
	ErrBadSignature = errors.New("malformed function signature")
	ErrOutOfRange   = errors.New("integer argument out of range")
)

// Method is a parsed function signature.
type Method struct {
	Name      string
	Signature string
	Selector  [4]byte
	Inputs    abi.Arguments
}

// ParseMethod parses "name(type,type,...)". Tuple types are not supported.
func ParseMethod(signature string) (*Method, error) {
	signature = strings.ReplaceAll(signature, " ", "")
	open := strings.IndexByte(signature, '(')
	if open <= 0 || !strings.HasSuffix(signature, ")") {
		return nil, fmt.Errorf("%w: %q", ErrBadSignature, signature)
	}
	name := signature[:open]
	params := signature[open+1 : len(signature)-1]
	if strings.ContainsAny(params, "()") {
		return nil, fmt.Errorf("%w: tuple parameters in %q", ErrBadSignature, signature)
	}

	var inputs abi.Arguments
	if params != "" {
		for _, param := range strings.Split(params, ",") {
			typ, err := abi.NewType(param, "", nil)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrBadSignature, signature, err)
			}
			inputs = append(inputs, abi.Argument{Type: typ})
		}
	}

	m := &Method{
		Name:      name,
		Signature: signature,
		Inputs:    inputs,
	}
	copy(m.Selector[:], keccak256([]byte(signature))[:4])
	return m, nil
}

// Pack returns selector || abi-encoded args.
func (m *Method) Pack(args ...interface{}) ([]byte, error) {
	if len(args) != len(m.Inputs) {
		return nil, fmt.Errorf("%s: expected %d arguments, got %d", m.Signature, len(m.Inputs), len(args))
	}
	for i, arg := range args {
		if err := checkRange(m.Inputs[i].Type, arg); err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", m.Signature, i, err)
		}
	}
	encoded, err := m.Inputs.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Signature, err)
	}
	return append(m.Selector[:], encoded...), nil
}

// checkRange rejects big integers the abi encoder would silently truncate.
func checkRange(typ abi.Type, arg interface{}) error {
	n, ok := arg.(*big.Int)
	if !ok || n == nil {
		return nil
	}
	switch typ.T {
	case abi.UintTy:
		if n.Sign() < 0 || n.BitLen() > typ.Size {
			return fmt.Errorf("%w: %s does not fit %s", ErrOutOfRange, n, typ)
		}
	case abi.IntTy:
		bound := new(big.Int).Lsh(big.NewInt(1), uint(typ.Size-1))
		if n.Cmp(bound) >= 0 || n.Cmp(new(big.Int).Neg(bound)) < 0 {
			return fmt.Errorf("%w: %s does not fit %s", ErrOutOfRange, n, typ)
		}
	}
	return nil
}

// Calldata parses signature and packs args.
func Calldata(signature string, args ...interface{}) ([]byte, error) {
	m, err := ParseMethod(signature)
	if err != nil {
		return nil, err
	}
	return m.Pack(args...)
}

var uint256Arguments abi.Arguments

func init() {
	uint256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Arguments = abi.Arguments{{Type: uint256}}
}

// DecodeUint256 decodes a single uint256 return value.
func DecodeUint256(data []byte) (*big.Int, error) {
	if len(data) == 0 {
		return nil, errors.New("empty return data")
	}
	values, err := uint256Arguments.Unpack(data)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected return type %T", values[0])
	}
	return v, nil
}

// EncodeUint256 is the inverse of DecodeUint256.
func EncodeUint256(v *big.Int) ([]byte, error) {
	return uint256Arguments.Pack(v)
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
