package engine

import (
	"errors"
	"fmt"
)

var (
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrAccountNotExists     = errors.New("account does not exist")
	ErrExceedBankCap        = errors.New("deposit exceeds bank cap")
	ErrInvalidDeposit       = errors.New("invalid deposit amount")
	ErrTokenNotSupported    = errors.New("token not supported")
	ErrTransferFailed       = errors.New("transfer failed")
	ErrReentrant            = errors.New("reentrant call")
	ErrUnauthorized         = errors.New("unauthorized")
)

// ExceedWithdrawAmountError reports a withdrawal above the per-operation
// ceiling. The limit and the requested amount are carried so the caller can
// retry with a valid amount.
type ExceedWithdrawAmountError struct {
	Limit     uint64
	Requested uint64
}

func (e *ExceedWithdrawAmountError) Error() string {
	return fmt.Sprintf("withdraw amount %d exceeds limit %d", e.Requested, e.Limit)
}

// InsufficientFundsError reports a withdrawal above the available balance.
type InsufficientFundsError struct {
	Available uint64
	Requested uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %d, requested %d", e.Available, e.Requested)
}
