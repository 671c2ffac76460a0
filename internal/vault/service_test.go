package vault

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencustody/assetvault/internal/assets"
	"github.com/opencustody/assetvault/internal/guard"
	"github.com/opencustody/assetvault/internal/rbac"
)

type transferCall struct {
	direction, principal, asset string
	amount                      decimal.Decimal
}

type fakeTransferor struct {
	mu      sync.Mutex
	calls   []transferCall
	pullErr error
	pushErr error
	onPull  func() // runs inside Pull before returning
	onPush  func() // runs inside Push before returning
}

func (f *fakeTransferor) Pull(ctx context.Context, principal, asset string, amount decimal.Decimal) error {
	f.mu.Lock()
	f.calls = append(f.calls, transferCall{"in", principal, asset, amount})
	f.mu.Unlock()
	if f.onPull != nil {
		f.onPull()
	}
	return f.pullErr
}

func (f *fakeTransferor) Push(ctx context.Context, principal, asset string, amount decimal.Decimal) error {
	f.mu.Lock()
	f.calls = append(f.calls, transferCall{"out", principal, asset, amount})
	f.mu.Unlock()
	if f.onPush != nil {
		f.onPush()
	}
	return f.pushErr
}

func (f *fakeTransferor) pushes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.direction == "out" {
			n++
		}
	}
	return n
}

func (f *fakeTransferor) lastPush() (transferCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].direction == "out" {
			return f.calls[i], true
		}
	}
	return transferCall{}, false
}

// identityValuer values every asset 1:1 in the canonical unit, which keeps
// the limit arithmetic in the tests legible. It counts calls so the tests
// can assert that withdrawals never take the trading path.
type identityValuer struct {
	quoteN, estimateN int
	quoteErr          error
}

func (v *identityValuer) Quote(ctx context.Context, a assets.Asset, amount decimal.Decimal) (decimal.Decimal, error) {
	v.quoteN++
	if v.quoteErr != nil {
		return decimal.Zero, v.quoteErr
	}
	return amount, nil
}

func (v *identityValuer) Estimate(ctx context.Context, a assets.Asset, amount decimal.Decimal) (decimal.Decimal, error) {
	v.estimateN++
	return amount, nil
}

// tradingValuer mimics the pool strategy: Quote executes the exchange and
// returns the realized proceeds, Estimate prices against reserves without
// trading, and the two can disagree the way a live pool's output can.
type tradingValuer struct {
	estimated decimal.Decimal
	realized  decimal.Decimal
	swaps     int
}

func (v *tradingValuer) Quote(ctx context.Context, a assets.Asset, amount decimal.Decimal) (decimal.Decimal, error) {
	v.swaps++
	return v.realized, nil
}

func (v *tradingValuer) Estimate(ctx context.Context, a assets.Asset, amount decimal.Decimal) (decimal.Decimal, error) {
	return v.estimated, nil
}

type okChecker struct{}

func (okChecker) CheckSource(ctx context.Context, src assets.ValuationSource) error { return nil }

type okProber struct{}

func (okProber) Probe(ctx context.Context, assetID string) error { return nil }

type fakeSink struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakeSink) Publish(ctx context.Context, subject string, data interface{}) error {
	f.mu.Lock()
	f.subjects = append(f.subjects, subject)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) count(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

type fixture struct {
	svc        *Service
	transferor *fakeTransferor
	valuer     *identityValuer
	sink       *fakeSink
	ledger     *Ledger
	registry   *assets.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := assets.NewRegistry(assets.Asset{
		ID:       "settlement",
		Decimals: 0,
		Source:   assets.ValuationSource{Kind: assets.SourceOracle, Ref: "settlement-usd"},
	}, okChecker{}, okProber{})
	require.NoError(t, registry.Add(context.Background(), "tok", 0,
		assets.ValuationSource{Kind: assets.SourceOracle, Ref: "tok-usd"}))

	limits, err := NewLimits(d(1000), d(10))
	require.NoError(t, err)

	roles := rbac.NewRegistry("root")
	require.NoError(t, roles.Grant("root", "ops", rbac.RolePauser))
	require.NoError(t, roles.Grant("root", "mgr", rbac.RoleManager))

	f := &fixture{
		transferor: &fakeTransferor{},
		valuer:     &identityValuer{},
		sink:       &fakeSink{},
		ledger:     NewLedger(),
		registry:   registry,
	}
	f.svc = NewService(Config{
		Registry:   registry,
		Ledger:     f.ledger,
		Limits:     limits,
		Roles:      roles,
		Valuer:     f.valuer,
		Transferor: f.transferor,
		Sink:       f.sink,
	})
	return f
}

func newPoolFixture(t *testing.T, v Valuer) *fixture {
	t.Helper()

	registry := assets.NewRegistry(assets.Asset{
		ID:     "settlement",
		Source: assets.ValuationSource{Kind: assets.SourceOracle, Ref: "settlement-usd"},
	}, okChecker{}, okProber{})
	require.NoError(t, registry.Add(context.Background(), "ptok", 0,
		assets.ValuationSource{Kind: assets.SourcePool, Ref: "ptok"}))

	limits, err := NewLimits(d(1000), d(10))
	require.NoError(t, err)

	f := &fixture{
		transferor: &fakeTransferor{},
		sink:       &fakeSink{},
		ledger:     NewLedger(),
		registry:   registry,
	}
	f.svc = NewService(Config{
		Registry:   registry,
		Ledger:     f.ledger,
		Limits:     limits,
		Roles:      rbac.NewRegistry("root"),
		Valuer:     v,
		Transferor: f.transferor,
		Sink:       f.sink,
	})
	return f
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()

	t.Run("credits the account and the canonical total", func(t *testing.T) {
		f := newFixture(t)

		r, err := f.svc.Deposit(ctx, "alice", "tok", d(5))
		require.NoError(t, err)
		assert.Equal(t, "alice", r.Principal)
		assert.True(t, r.NativeAmount.Equal(d(5)))
		assert.True(t, r.CanonicalValue.Equal(d(5)))
		assert.True(t, r.BalanceBefore.IsZero())
		assert.True(t, r.BalanceAfter.Equal(d(5)))
		assert.True(t, r.CanonicalTotal.Equal(d(5)))

		assert.True(t, f.svc.GetBalance("alice", "tok").Equal(d(5)))
		assert.True(t, f.svc.CanonicalTotal().Equal(d(5)))
		assert.Equal(t, 1, f.sink.count("vault.deposit.made"))

		a, err := f.registry.Get("tok")
		require.NoError(t, err)
		assert.True(t, a.Held.Equal(d(5)))
	})

	t.Run("capacity overflow refunds the pull and mutates nothing", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Deposit(ctx, "alice", "tok", d(5))
		require.NoError(t, err)

		_, err = f.svc.Deposit(ctx, "alice", "tok", d(996))
		var capErr *CapacityExceededError
		require.ErrorAs(t, err, &capErr)
		assert.True(t, capErr.Available.Equal(d(995)))

		assert.True(t, f.svc.GetBalance("alice", "tok").Equal(d(5)))
		assert.True(t, f.svc.CanonicalTotal().Equal(d(5)))
		assert.Equal(t, 1, f.transferor.pushes(), "the pulled amount must be returned")

		deposits, _ := f.ledger.Counters()
		assert.Equal(t, uint64(1), deposits)
	})

	t.Run("valuation failure refunds the pull", func(t *testing.T) {
		f := newFixture(t)
		f.valuer.quoteErr = errors.New("feed down")

		_, err := f.svc.Deposit(ctx, "alice", "tok", d(5))
		require.Error(t, err)
		assert.Equal(t, 1, f.transferor.pushes())
		assert.True(t, f.svc.CanonicalTotal().IsZero())
	})

	t.Run("pull failure aborts before any valuation", func(t *testing.T) {
		f := newFixture(t)
		f.transferor.pullErr = errors.New("wallet rejected")

		_, err := f.svc.Deposit(ctx, "alice", "tok", d(5))
		var xferErr *TransferError
		require.ErrorAs(t, err, &xferErr)
		assert.Equal(t, "in", xferErr.Direction)
		assert.Zero(t, f.valuer.quoteN)
		assert.True(t, f.svc.CanonicalTotal().IsZero())
	})

	t.Run("input validation", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Deposit(ctx, "alice", "tok", decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = f.svc.Deposit(ctx, "alice", "tok", d(-3))
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = f.svc.Deposit(ctx, "alice", "tok", decimal.NewFromFloat(1.5))
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = f.svc.Deposit(ctx, "", "tok", d(5))
		assert.ErrorIs(t, err, ErrInvalidPrincipal)

		_, err = f.svc.Deposit(ctx, "alice", "ghost", d(5))
		assert.ErrorIs(t, err, assets.ErrUnsupportedAsset)

		assert.Empty(t, f.transferor.calls, "no external call may precede validation")
	})
}

func TestPoolDepositCompensation(t *testing.T) {
	ctx := context.Background()

	t.Run("estimate over capacity aborts before any trade", func(t *testing.T) {
		v := &tradingValuer{estimated: d(2000), realized: d(2000)}
		f := newPoolFixture(t, v)

		_, err := f.svc.Deposit(ctx, "alice", "ptok", d(100))
		var capErr *CapacityExceededError
		require.ErrorAs(t, err, &capErr)
		assert.Zero(t, v.swaps, "a doomed deposit must not trade")

		push, ok := f.transferor.lastPush()
		require.True(t, ok)
		assert.Equal(t, "ptok", push.asset)
		assert.True(t, push.amount.Equal(d(100)))
		assert.True(t, f.svc.CanonicalTotal().IsZero())
	})

	t.Run("post-swap capacity breach refunds the settlement proceeds", func(t *testing.T) {
		// The estimate fits but the realized output lands over capacity.
		v := &tradingValuer{estimated: d(900), realized: d(1200)}
		f := newPoolFixture(t, v)

		_, err := f.svc.Deposit(ctx, "alice", "ptok", d(100))
		var capErr *CapacityExceededError
		require.ErrorAs(t, err, &capErr)
		assert.Equal(t, 1, v.swaps)

		// Custody holds the swapped proceeds, not the traded asset; the
		// compensation must return exactly those.
		push, ok := f.transferor.lastPush()
		require.True(t, ok)
		assert.Equal(t, "settlement", push.asset)
		assert.True(t, push.amount.Equal(d(1200)))

		assert.True(t, f.svc.GetBalance("alice", "ptok").IsZero())
		assert.True(t, f.svc.CanonicalTotal().IsZero())
		deposits, _ := f.ledger.Counters()
		assert.Equal(t, uint64(0), deposits)
	})

	t.Run("realized value within capacity is credited", func(t *testing.T) {
		v := &tradingValuer{estimated: d(900), realized: d(880)}
		f := newPoolFixture(t, v)

		r, err := f.svc.Deposit(ctx, "alice", "ptok", d(100))
		require.NoError(t, err)
		assert.True(t, r.CanonicalValue.Equal(d(880)))
		assert.True(t, f.svc.CanonicalTotal().Equal(d(880)))
		assert.Zero(t, f.transferor.pushes())
	})
}

func TestDepositAggregateFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Deregister the asset while the pull is in flight; the held-amount
	// update then fails after the credit has been applied.
	f.transferor.onPull = func() {
		require.NoError(t, f.registry.Remove("tok"))
	}

	_, err := f.svc.Deposit(ctx, "alice", "tok", d(5))
	require.ErrorIs(t, err, assets.ErrUnsupportedAsset)

	assert.True(t, f.svc.GetBalance("alice", "tok").IsZero())
	assert.True(t, f.svc.CanonicalTotal().IsZero())
	assert.Equal(t, 1, f.transferor.pushes(), "the pulled amount must be returned")

	deposits, _ := f.ledger.Counters()
	assert.Equal(t, uint64(0), deposits)
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("debits and pushes, valuing without trading", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Deposit(ctx, "alice", "tok", d(5))
		require.NoError(t, err)

		r, err := f.svc.Withdraw(ctx, "alice", "tok", d(5))
		require.NoError(t, err)
		assert.True(t, r.BalanceAfter.IsZero())
		assert.True(t, r.CanonicalTotal.IsZero())

		assert.True(t, f.svc.GetBalance("alice", "tok").IsZero())
		assert.True(t, f.svc.CanonicalTotal().IsZero())
		assert.Equal(t, 1, f.transferor.pushes())
		assert.Equal(t, 1, f.valuer.estimateN)
		assert.Equal(t, 1, f.valuer.quoteN, "only the deposit quotes")
		assert.Equal(t, 1, f.sink.count("vault.withdrawal.made"))

		a, err := f.registry.Get("tok")
		require.NoError(t, err)
		assert.True(t, a.Held.IsZero())
	})

	t.Run("per-operation limit", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Deposit(ctx, "alice", "tok", d(50))
		require.NoError(t, err)

		_, err = f.svc.Withdraw(ctx, "alice", "tok", d(11))
		var limErr *WithdrawalLimitError
		require.ErrorAs(t, err, &limErr)
		assert.True(t, f.svc.GetBalance("alice", "tok").Equal(d(50)))

		_, err = f.svc.Withdraw(ctx, "alice", "tok", d(10))
		assert.NoError(t, err)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Withdraw(ctx, "alice", "tok", d(1))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Zero(t, f.transferor.pushes())
	})

	t.Run("failed push restores the debit and the aggregate", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Deposit(ctx, "alice", "tok", d(5))
		require.NoError(t, err)
		f.transferor.pushErr = errors.New("wallet unreachable")

		_, err = f.svc.Withdraw(ctx, "alice", "tok", d(5))
		var xferErr *TransferError
		require.ErrorAs(t, err, &xferErr)
		assert.Equal(t, "out", xferErr.Direction)

		assert.True(t, f.svc.GetBalance("alice", "tok").Equal(d(5)))
		assert.True(t, f.svc.CanonicalTotal().Equal(d(5)))

		a, err := f.registry.Get("tok")
		require.NoError(t, err)
		assert.True(t, a.Held.Equal(d(5)))

		_, withdrawals := f.ledger.Counters()
		assert.Equal(t, uint64(0), withdrawals)
	})
}

func TestReentrancy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Deposit(ctx, "alice", "tok", d(10))
	require.NoError(t, err)

	var inner error
	f.transferor.onPush = func() {
		// A reentrant call arriving during the outbound transfer must be
		// rejected outright, not queued.
		_, inner = f.svc.Withdraw(ctx, "alice", "tok", d(1))
		f.transferor.onPush = nil
	}

	_, err = f.svc.Withdraw(ctx, "alice", "tok", d(5))
	require.NoError(t, err)
	assert.ErrorIs(t, inner, guard.ErrReentrantCall)

	assert.True(t, f.svc.GetBalance("alice", "tok").Equal(d(5)))
	_, withdrawals := f.ledger.Counters()
	assert.Equal(t, uint64(1), withdrawals)
}

func TestPauseGating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.Pause(ctx, "ops"))
	assert.True(t, f.svc.Paused())

	_, err := f.svc.Deposit(ctx, "alice", "tok", d(5))
	assert.ErrorIs(t, err, guard.ErrPaused)
	_, err = f.svc.Withdraw(ctx, "alice", "tok", d(5))
	assert.ErrorIs(t, err, guard.ErrPaused)

	// Admins pass the gate.
	_, err = f.svc.Deposit(ctx, "root", "tok", d(5))
	assert.NoError(t, err)

	// Reads stay available while paused.
	assert.True(t, f.svc.IsSupported("tok"))
	assert.Len(t, f.svc.ListSupported(), 2)

	// Pausing again re-emits the event.
	require.NoError(t, f.svc.Pause(ctx, "ops"))
	assert.Equal(t, 2, f.sink.count("vault.paused"))

	require.NoError(t, f.svc.Unpause(ctx, "ops"))
	_, err = f.svc.Deposit(ctx, "alice", "tok", d(5))
	assert.NoError(t, err)

	assert.ErrorIs(t, f.svc.Pause(ctx, "alice"), rbac.ErrUnauthorized)
}

func TestAdminOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("asset management is admin only", func(t *testing.T) {
		f := newFixture(t)
		src := assets.ValuationSource{Kind: assets.SourceOracle, Ref: "new-usd"}

		assert.ErrorIs(t, f.svc.AddAsset(ctx, "mgr", "new", 6, src), rbac.ErrUnauthorized)
		require.NoError(t, f.svc.AddAsset(ctx, "root", "new", 6, src))
		assert.Equal(t, 1, f.sink.count("vault.asset.added"))

		assert.ErrorIs(t, f.svc.RemoveAsset(ctx, "mgr", "new"), rbac.ErrUnauthorized)
		require.NoError(t, f.svc.RemoveAsset(ctx, "root", "new"))
		assert.Equal(t, 1, f.sink.count("vault.asset.removed"))
	})

	t.Run("held assets cannot be removed", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Deposit(ctx, "alice", "tok", d(5))
		require.NoError(t, err)

		assert.ErrorIs(t, f.svc.RemoveAsset(ctx, "root", "tok"), assets.ErrAssetHeld)

		_, err = f.svc.Withdraw(ctx, "alice", "tok", d(5))
		require.NoError(t, err)
		assert.NoError(t, f.svc.RemoveAsset(ctx, "root", "tok"))
	})

	t.Run("limits accept admin and manager", func(t *testing.T) {
		f := newFixture(t)

		assert.ErrorIs(t, f.svc.SetCapacity(ctx, "alice", d(2000)), rbac.ErrUnauthorized)
		require.NoError(t, f.svc.SetCapacity(ctx, "mgr", d(2000)))
		require.NoError(t, f.svc.SetWithdrawalLimit(ctx, "root", d(20)))
		assert.Equal(t, 1, f.sink.count("vault.limit.capacity_updated"))
		assert.Equal(t, 1, f.sink.count("vault.limit.withdrawal_updated"))

		assert.ErrorIs(t, f.svc.SetCapacity(ctx, "root", decimal.Zero), ErrZeroLimit)

		_, err := f.svc.Deposit(ctx, "alice", "tok", d(1500))
		assert.NoError(t, err)
		_, err = f.svc.Withdraw(ctx, "alice", "tok", d(20))
		assert.NoError(t, err)
	})

	t.Run("role events flow through the sink", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, f.svc.GrantRole(ctx, "root", "bob", rbac.RolePauser))
		assert.True(t, f.svc.HasRole("bob", rbac.RolePauser))
		assert.Equal(t, 1, f.sink.count("vault.role.granted"))

		require.NoError(t, f.svc.RevokeRole(ctx, "root", "bob", rbac.RolePauser))
		assert.False(t, f.svc.HasRole("bob", rbac.RolePauser))
		assert.Equal(t, 1, f.sink.count("vault.role.revoked"))

		assert.ErrorIs(t, f.svc.GrantRole(ctx, "mgr", "bob", rbac.RolePauser), rbac.ErrUnauthorized)
	})
}
