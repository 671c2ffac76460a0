package vault

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger is the per-account, per-asset balance store plus the global
// canonical total and the operation counters. Balances are non-negative
// integers in the asset's native unit; accounts are created implicitly on
// first credit and never destroyed (a zero balance is a valid terminal
// state).
//
// The canonical total is a snapshot taken at conversion time. It is not
// revalued when prices move after a deposit; that drift is an accepted
// trade-off, not something the ledger reconciles.
type Ledger struct {
	mu              sync.RWMutex
	balances        map[string]map[string]decimal.Decimal // principal -> asset -> native amount
	canonicalTotal  decimal.Decimal
	depositCount    uint64
	withdrawalCount uint64
}

// NewLedger creates an empty ledger. All totals and counters start at zero.
func NewLedger() *Ledger {
	return &Ledger{
		balances:       make(map[string]map[string]decimal.Decimal),
		canonicalTotal: decimal.Zero,
	}
}

// Balance returns the native-unit balance for (principal, asset).
func (l *Ledger) Balance(principal, asset string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.balances[principal][asset]
}

// CanonicalTotal returns the global canonical-unit total currently held.
func (l *Ledger) CanonicalTotal() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.canonicalTotal
}

// Counters returns the deposit and withdrawal counts.
func (l *Ledger) Counters() (deposits, withdrawals uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.depositCount, l.withdrawalCount
}

// Credit increases the account's balance, the global canonical total, and
// the deposit counter. Returns the balance before and after.
func (l *Ledger) Credit(principal, asset string, native, canonical decimal.Decimal) (before, after decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[principal] == nil {
		l.balances[principal] = make(map[string]decimal.Decimal)
	}
	before = l.balances[principal][asset]
	after = before.Add(native)
	l.balances[principal][asset] = after
	l.canonicalTotal = l.canonicalTotal.Add(canonical)
	l.depositCount++
	return before, after
}

// Debit decreases the account's balance, the global canonical total, and
// increments the withdrawal counter. It must execute strictly before any
// external transfer of the same operation. Fails with
// ErrInsufficientBalance when the balance does not cover the amount; a
// negative canonical total is clamped to zero rather than wrapped, since
// conversion-time snapshots can lag the recorded total.
func (l *Ledger) Debit(principal, asset string, native, canonical decimal.Decimal) (before, after decimal.Decimal, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	before = l.balances[principal][asset]
	after = before.Sub(native)
	if after.IsNegative() {
		return before, before, ErrInsufficientBalance
	}
	if l.balances[principal] == nil {
		l.balances[principal] = make(map[string]decimal.Decimal)
	}
	l.balances[principal][asset] = after

	l.canonicalTotal = l.canonicalTotal.Sub(canonical)
	if l.canonicalTotal.IsNegative() {
		l.canonicalTotal = decimal.Zero
	}
	l.withdrawalCount++
	return before, after, nil
}

// rollbackCredit reverses a credit whose follow-up bookkeeping failed,
// including the counter. Only the service's deposit abort path calls it.
func (l *Ledger) rollbackCredit(principal, asset string, native, canonical decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[principal][asset] = l.balances[principal][asset].Sub(native)
	l.canonicalTotal = l.canonicalTotal.Sub(canonical)
	if l.canonicalTotal.IsNegative() {
		l.canonicalTotal = decimal.Zero
	}
	if l.depositCount > 0 {
		l.depositCount--
	}
}

// restoreDebit reverses a debit whose external transfer failed, including
// the counter. Only the service's transfer-failure path calls it.
func (l *Ledger) restoreDebit(principal, asset string, native, canonical decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[principal][asset] = l.balances[principal][asset].Add(native)
	l.canonicalTotal = l.canonicalTotal.Add(canonical)
	if l.withdrawalCount > 0 {
		l.withdrawalCount--
	}
}
