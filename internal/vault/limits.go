package vault

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Limits holds the global capacity and the per-operation withdrawal
// ceiling, both in canonical units, both non-zero.
type Limits struct {
	mu              sync.RWMutex
	capacity        decimal.Decimal
	withdrawalLimit decimal.Decimal
}

// NewLimits creates the limit set. Both values must be positive.
func NewLimits(capacity, withdrawalLimit decimal.Decimal) (*Limits, error) {
	if capacity.Sign() <= 0 || withdrawalLimit.Sign() <= 0 {
		return nil, ErrZeroLimit
	}
	return &Limits{capacity: capacity, withdrawalLimit: withdrawalLimit}, nil
}

// Capacity returns the current global capacity.
func (l *Limits) Capacity() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.capacity
}

// WithdrawalLimit returns the current per-operation withdrawal ceiling.
func (l *Limits) WithdrawalLimit() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.withdrawalLimit
}

// SetCapacity replaces the capacity, returning the previous value.
func (l *Limits) SetCapacity(v decimal.Decimal) (decimal.Decimal, error) {
	if v.Sign() <= 0 {
		return decimal.Zero, ErrZeroLimit
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.capacity
	l.capacity = v
	return prev, nil
}

// SetWithdrawalLimit replaces the withdrawal ceiling, returning the
// previous value.
func (l *Limits) SetWithdrawalLimit(v decimal.Decimal) (decimal.Decimal, error) {
	if v.Sign() <= 0 {
		return decimal.Zero, ErrZeroLimit
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.withdrawalLimit
	l.withdrawalLimit = v
	return prev, nil
}

// CheckCapacity fails when value + currentTotal would exceed capacity.
// Pure predicate; evaluated after valuation, before any mutation.
func (l *Limits) CheckCapacity(value, currentTotal decimal.Decimal) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if value.Add(currentTotal).GreaterThan(l.capacity) {
		return &CapacityExceededError{
			Requested: value,
			Available: l.capacity.Sub(currentTotal),
		}
	}
	return nil
}

// CheckWithdrawal fails when value exceeds the per-operation limit,
// regardless of account balance sufficiency.
func (l *Limits) CheckWithdrawal(value decimal.Decimal) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if value.GreaterThan(l.withdrawalLimit) {
		return &WithdrawalLimitError{Requested: value, Limit: l.withdrawalLimit}
	}
	return nil
}
