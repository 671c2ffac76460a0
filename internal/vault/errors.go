package vault

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount covers zero, negative, and non-integral native
	// amounts.
	ErrInvalidAmount = errors.New("amount must be a positive integer in native units")

	// ErrInvalidPrincipal rejects empty principal identifiers.
	ErrInvalidPrincipal = errors.New("invalid principal")

	// ErrInsufficientBalance is returned when a debit exceeds the
	// account's balance for the asset.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrZeroLimit rejects zero capacity or withdrawal limit values.
	ErrZeroLimit = errors.New("limit must be non-zero")
)

// CapacityExceededError reports a deposit whose canonical value would push
// the global total above capacity.
type CapacityExceededError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("vault capacity exceeded: requested %s, available %s",
		e.Requested, e.Available)
}

// WithdrawalLimitError reports a withdrawal whose canonical value exceeds
// the per-operation limit.
type WithdrawalLimitError struct {
	Requested decimal.Decimal
	Limit     decimal.Decimal
}

func (e *WithdrawalLimitError) Error() string {
	return fmt.Sprintf("withdrawal limit exceeded: requested %s, limit %s",
		e.Requested, e.Limit)
}

// TransferError wraps a failed external asset transfer. Transfers are never
// retried; the whole operation aborts.
type TransferError struct {
	Direction string // "in" or "out"
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("external transfer %s failed: %v", e.Direction, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
