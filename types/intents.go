package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type IntentKind int

const (
	IntentApprove IntentKind = iota
	IntentMint
	IntentDeposit
	IntentWithdraw
)

func (k IntentKind) String() string {
	switch k {
	case IntentApprove:
		return "approve"
	case IntentMint:
		return "mint"
	case IntentDeposit:
		return "deposit"
	case IntentWithdraw:
		return "withdraw"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the known intent kinds.
func (k IntentKind) Valid() bool {
	return k >= IntentApprove && k <= IntentWithdraw
}

// MaxUint256 is the largest amount a uint256 contract argument can carry.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ValidAmount reports whether v is positive and fits in a uint256.
func ValidAmount(v *big.Int) bool {
	return v != nil && v.Sign() > 0 && v.BitLen() <= 256
}

// TransactionIntent is the unit of work created when a user confirms an amount.
// Target is the spender for Approve, the recipient for Mint and the receiver for
// Deposit and Withdraw.
type TransactionIntent struct {
	Kind    IntentKind
	Amount  *big.Int
	Target  common.Address
	ChainID uint64
}

// Copy detaches the intent from the caller's amount.
func (i TransactionIntent) Copy() TransactionIntent {
	c := i
	if i.Amount != nil {
		c.Amount = new(big.Int).Set(i.Amount)
	}
	return c
}

// Action is what the user-facing button for an operation currently resolves to.
type Action int

const (
	ActionNone Action = iota
	ActionApprove
	ActionMint
	ActionDeposit
	ActionWithdraw
)

func (a Action) String() string {
	switch a {
	case ActionApprove:
		return "approve"
	case ActionMint:
		return "mint"
	case ActionDeposit:
		return "deposit"
	case ActionWithdraw:
		return "withdraw"
	default:
		return "none"
	}
}

// Kind maps the action onto the intent it submits.
func (a Action) Kind() (IntentKind, bool) {
	switch a {
	case ActionApprove:
		return IntentApprove, true
	case ActionMint:
		return IntentMint, true
	case ActionDeposit:
		return IntentDeposit, true
	case ActionWithdraw:
		return IntentWithdraw, true
	}
	return 0, false
}
