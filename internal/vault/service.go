package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opencustody/assetvault/internal/assets"
	"github.com/opencustody/assetvault/internal/guard"
	"github.com/opencustody/assetvault/internal/rbac"
	"github.com/opencustody/assetvault/pkg/messaging"
)

// Transferor moves assets between a principal's external wallet and the
// vault's custody. Both directions are synchronous external calls; a
// failure aborts the whole operation, it is never retried.
type Transferor interface {
	Pull(ctx context.Context, principal, asset string, amount decimal.Decimal) error
	Push(ctx context.Context, principal, asset string, amount decimal.Decimal) error
}

// Valuer converts an (asset, amount) pair into canonical-unit value.
// Quote may move value for pool-sourced assets; Estimate never does.
// Satisfied by pricing.Provider.
type Valuer interface {
	Quote(ctx context.Context, asset assets.Asset, amount decimal.Decimal) (decimal.Decimal, error)
	Estimate(ctx context.Context, asset assets.Asset, amount decimal.Decimal) (decimal.Decimal, error)
}

// Metrics receives operation measurements. Implementations must be safe to
// call with a nil receiver absent; the service checks for nil.
type Metrics interface {
	RecordOperation(kind, asset string, native, canonical, total decimal.Decimal)
}

// Receipt describes a completed deposit or withdrawal.
type Receipt struct {
	OperationID    uuid.UUID
	Principal      string
	Asset          string
	NativeAmount   decimal.Decimal
	CanonicalValue decimal.Decimal
	BalanceBefore  decimal.Decimal
	BalanceAfter   decimal.Decimal
	CanonicalTotal decimal.Decimal
	Timestamp      time.Time
}

// Service orchestrates deposits, withdrawals, and the role-gated
// administrative operations. Each operation runs the stages
// validate -> value -> limit-check -> mutate -> transfer, with the
// reentrancy guard held across every external call and any failure
// aborting with no partial mutation.
type Service struct {
	registry   *assets.Registry
	ledger     *Ledger
	limits     *Limits
	roles      *rbac.Registry
	gate       *guard.PauseGate
	entrant    *guard.ReentrancyGuard
	valuer     Valuer
	transferor Transferor
	sink       messaging.Sink
	journal    Journal
	metrics    Metrics
	now        func() time.Time
}

// Config wires the service's collaborators. Journal, Sink, and Metrics are
// optional.
type Config struct {
	Registry   *assets.Registry
	Ledger     *Ledger
	Limits     *Limits
	Roles      *rbac.Registry
	Valuer     Valuer
	Transferor Transferor
	Sink       messaging.Sink
	Journal    Journal
	Metrics    Metrics
}

// NewService creates the vault service.
func NewService(cfg Config) *Service {
	j := cfg.Journal
	if j == nil {
		j = NopJournal{}
	}
	return &Service{
		registry:   cfg.Registry,
		ledger:     cfg.Ledger,
		limits:     cfg.Limits,
		roles:      cfg.Roles,
		gate:       guard.NewPauseGate(),
		entrant:    guard.NewReentrancyGuard(),
		valuer:     cfg.Valuer,
		transferor: cfg.Transferor,
		sink:       cfg.Sink,
		journal:    j,
		metrics:    cfg.Metrics,
		now:        time.Now,
	}
}

// Deposit pulls amount of asset from the principal's wallet into custody,
// values it, enforces capacity against the canonical value, and credits
// the account. Returns a receipt on success.
func (s *Service) Deposit(ctx context.Context, principal, asset string, amount decimal.Decimal) (*Receipt, error) {
	if err := s.checkMutable(principal); err != nil {
		return nil, err
	}
	if err := validateAmount(principal, amount); err != nil {
		return nil, err
	}
	meta, err := s.registry.Get(asset)
	if err != nil {
		return nil, err
	}

	// Guard held across the pull, the (possibly trading) valuation, the
	// credit, and release on every exit path.
	if err := s.entrant.Enter(); err != nil {
		return nil, err
	}
	defer s.entrant.Exit()

	if err := s.transferor.Pull(ctx, principal, asset, amount); err != nil {
		return nil, &TransferError{Direction: "in", Err: err}
	}

	// Custody holds the pulled asset until a pool-sourced valuation trades
	// it away; track what a compensating push must return.
	refundAsset, refundAmount := asset, amount

	if meta.Source.Kind == assets.SourcePool {
		// Pre-check capacity against a trade-free estimate so a plain
		// capacity breach aborts before any value moves.
		est, err := s.valuer.Estimate(ctx, meta, amount)
		if err != nil {
			s.refund(ctx, principal, refundAsset, refundAmount)
			return nil, err
		}
		if err := s.limits.CheckCapacity(est, s.ledger.CanonicalTotal()); err != nil {
			s.refund(ctx, principal, refundAsset, refundAmount)
			return nil, err
		}
	}

	value, err := s.valuer.Quote(ctx, meta, amount)
	if err != nil {
		s.refund(ctx, principal, refundAsset, refundAmount)
		return nil, err
	}
	if meta.Source.Kind == assets.SourcePool {
		// The swap has executed; custody now holds settlement proceeds, so
		// any later compensation must return those, not the traded asset.
		refundAsset, refundAmount = s.registry.BaseAsset(), value
	}

	if err := s.limits.CheckCapacity(value, s.ledger.CanonicalTotal()); err != nil {
		s.refund(ctx, principal, refundAsset, refundAmount)
		return nil, err
	}

	before, after := s.ledger.Credit(principal, asset, amount, value)
	if err := s.registry.AddHeld(asset, amount); err != nil {
		// Reachable when the asset is deregistered while this operation is
		// in flight; undo the credit and return what custody holds.
		s.ledger.rollbackCredit(principal, asset, amount, value)
		s.refund(ctx, principal, refundAsset, refundAmount)
		return nil, fmt.Errorf("aggregate update: %w", err)
	}

	r := s.receipt(principal, asset, amount, value, before, after)
	s.finish(ctx, "deposit", messaging.EventTypeDepositMade, r)
	return r, nil
}

// Withdraw debits the account and pushes amount of asset back to the
// principal's wallet. The canonical value is estimated without trading and
// checked against the per-operation limit; the debit commits strictly
// before the external transfer.
func (s *Service) Withdraw(ctx context.Context, principal, asset string, amount decimal.Decimal) (*Receipt, error) {
	if err := s.checkMutable(principal); err != nil {
		return nil, err
	}
	if err := validateAmount(principal, amount); err != nil {
		return nil, err
	}
	meta, err := s.registry.Get(asset)
	if err != nil {
		return nil, err
	}

	if err := s.entrant.Enter(); err != nil {
		return nil, err
	}
	defer s.entrant.Exit()

	value, err := s.valuer.Estimate(ctx, meta, amount)
	if err != nil {
		return nil, err
	}
	if err := s.limits.CheckWithdrawal(value); err != nil {
		return nil, err
	}

	before, after, err := s.ledger.Debit(principal, asset, amount, value)
	if err != nil {
		return nil, err
	}
	if err := s.registry.SubHeld(asset, amount); err != nil {
		s.ledger.restoreDebit(principal, asset, amount, value)
		return nil, fmt.Errorf("aggregate update: %w", err)
	}

	// Checks-effects-interactions: the debit above is observable before
	// the external push, so a reentrant caller sees the reduced balance
	// even though the guard rejects it anyway.
	if err := s.transferor.Push(ctx, principal, asset, amount); err != nil {
		s.ledger.restoreDebit(principal, asset, amount, value)
		s.registry.AddHeld(asset, amount)
		return nil, &TransferError{Direction: "out", Err: err}
	}

	r := s.receipt(principal, asset, amount, value, before, after)
	s.finish(ctx, "withdrawal", messaging.EventTypeWithdrawalMade, r)
	return r, nil
}

// GetBalance returns the principal's native-unit balance for asset.
func (s *Service) GetBalance(principal, asset string) decimal.Decimal {
	return s.ledger.Balance(principal, asset)
}

// CanonicalTotal returns the global canonical total currently held.
func (s *Service) CanonicalTotal() decimal.Decimal {
	return s.ledger.CanonicalTotal()
}

// IsSupported reports whether asset is registered. Callable while paused.
func (s *Service) IsSupported(asset string) bool {
	return s.registry.IsSupported(asset)
}

// ListSupported enumerates registered assets. Callable while paused.
func (s *Service) ListSupported() []assets.Asset {
	return s.registry.ListSupported()
}

// AddAsset registers an asset. Admin only.
func (s *Service) AddAsset(ctx context.Context, caller, id string, decimals int32, src assets.ValuationSource) error {
	if err := s.requireRole(caller, rbac.RoleAdmin); err != nil {
		return err
	}
	if err := s.registry.Add(ctx, id, decimals, src); err != nil {
		return err
	}
	s.publish(ctx, messaging.EventTypeAssetAdded, messaging.AssetEvent{
		Asset: id, Decimals: decimals,
		SourceKind: string(src.Kind), SourceRef: src.Ref,
		Actor: caller,
	})
	return nil
}

// RemoveAsset deregisters an asset with a zero aggregate held amount.
// Admin only; the base asset always fails.
func (s *Service) RemoveAsset(ctx context.Context, caller, id string) error {
	if err := s.requireRole(caller, rbac.RoleAdmin); err != nil {
		return err
	}
	if err := s.registry.Remove(id); err != nil {
		return err
	}
	s.publish(ctx, messaging.EventTypeAssetRemoved, messaging.AssetEvent{Asset: id, Actor: caller})
	return nil
}

// SetCapacity replaces the global capacity. Admin or Manager.
func (s *Service) SetCapacity(ctx context.Context, caller string, v decimal.Decimal) error {
	if err := s.requireRole(caller, rbac.RoleAdmin, rbac.RoleManager); err != nil {
		return err
	}
	prev, err := s.limits.SetCapacity(v)
	if err != nil {
		return err
	}
	s.publish(ctx, messaging.EventTypeCapacityUpdated, messaging.LimitEvent{
		Previous: prev.String(), Current: v.String(), Actor: caller,
	})
	return nil
}

// SetWithdrawalLimit replaces the per-operation withdrawal ceiling. Admin
// or Manager.
func (s *Service) SetWithdrawalLimit(ctx context.Context, caller string, v decimal.Decimal) error {
	if err := s.requireRole(caller, rbac.RoleAdmin, rbac.RoleManager); err != nil {
		return err
	}
	prev, err := s.limits.SetWithdrawalLimit(v)
	if err != nil {
		return err
	}
	s.publish(ctx, messaging.EventTypeWithdrawalLimitUpdated, messaging.LimitEvent{
		Previous: prev.String(), Current: v.String(), Actor: caller,
	})
	return nil
}

// Pause halts state-mutating operations for non-admin callers. Pauser only.
// Pausing while already paused re-emits the event.
func (s *Service) Pause(ctx context.Context, caller string) error {
	if err := s.requireRole(caller, rbac.RolePauser); err != nil {
		return err
	}
	s.gate.Pause()
	s.publish(ctx, messaging.EventTypePaused, messaging.PauseEvent{Paused: true, Actor: caller})
	return nil
}

// Unpause restores normal operation. Pauser only.
func (s *Service) Unpause(ctx context.Context, caller string) error {
	if err := s.requireRole(caller, rbac.RolePauser); err != nil {
		return err
	}
	s.gate.Unpause()
	s.publish(ctx, messaging.EventTypeUnpaused, messaging.PauseEvent{Paused: false, Actor: caller})
	return nil
}

// Paused reports the pause gate state.
func (s *Service) Paused() bool {
	return s.gate.Paused()
}

// GrantRole assigns a role. The registry enforces that only admins grant.
func (s *Service) GrantRole(ctx context.Context, caller, principal string, role rbac.Role) error {
	if err := s.roles.Grant(caller, principal, role); err != nil {
		return err
	}
	s.publish(ctx, messaging.EventTypeRoleGranted, messaging.RoleEvent{
		Principal: principal, Role: string(role), Actor: caller,
	})
	return nil
}

// RevokeRole removes a role. The registry enforces that only admins revoke.
func (s *Service) RevokeRole(ctx context.Context, caller, principal string, role rbac.Role) error {
	if err := s.roles.Revoke(caller, principal, role); err != nil {
		return err
	}
	s.publish(ctx, messaging.EventTypeRoleRevoked, messaging.RoleEvent{
		Principal: principal, Role: string(role), Actor: caller,
	})
	return nil
}

// HasRole reports whether principal holds role.
func (s *Service) HasRole(principal string, role rbac.Role) bool {
	return s.roles.Has(principal, role)
}

func (s *Service) checkMutable(principal string) error {
	return s.gate.Check(s.roles.Has(principal, rbac.RoleAdmin))
}

func (s *Service) requireRole(caller string, roles ...rbac.Role) error {
	for _, r := range roles {
		if s.roles.Has(caller, r) {
			return nil
		}
	}
	return rbac.ErrUnauthorized
}

func validateAmount(principal string, amount decimal.Decimal) error {
	if principal == "" {
		return ErrInvalidPrincipal
	}
	if amount.Sign() <= 0 || !amount.IsInteger() {
		return ErrInvalidAmount
	}
	return nil
}

// refund returns a pulled asset after a post-pull stage failed. Best
// effort: the operation already failed and the original error stands.
func (s *Service) refund(ctx context.Context, principal, asset string, amount decimal.Decimal) {
	_ = s.transferor.Push(ctx, principal, asset, amount)
}

func (s *Service) receipt(principal, asset string, native, value, before, after decimal.Decimal) *Receipt {
	return &Receipt{
		OperationID:    uuid.New(),
		Principal:      principal,
		Asset:          asset,
		NativeAmount:   native,
		CanonicalValue: value,
		BalanceBefore:  before,
		BalanceAfter:   after,
		CanonicalTotal: s.ledger.CanonicalTotal(),
		Timestamp:      s.now(),
	}
}

// finish records the advisory artifacts of a committed operation: journal
// row, metrics point, and the operation event.
func (s *Service) finish(ctx context.Context, kind, subject string, r *Receipt) {
	_ = s.journal.Record(ctx, JournalEntry{
		OperationID:    r.OperationID,
		Kind:           kind,
		Principal:      r.Principal,
		Asset:          r.Asset,
		NativeAmount:   r.NativeAmount,
		CanonicalValue: r.CanonicalValue,
		BalanceBefore:  r.BalanceBefore,
		BalanceAfter:   r.BalanceAfter,
		CreatedAt:      r.Timestamp,
	})
	if s.metrics != nil {
		s.metrics.RecordOperation(kind, r.Asset, r.NativeAmount, r.CanonicalValue, r.CanonicalTotal)
	}
	s.publish(ctx, subject, messaging.OperationEvent{
		OperationID:    r.OperationID,
		Principal:      r.Principal,
		Asset:          r.Asset,
		NativeAmount:   r.NativeAmount.String(),
		CanonicalValue: r.CanonicalValue.String(),
		BalanceBefore:  r.BalanceBefore.String(),
		BalanceAfter:   r.BalanceAfter.String(),
		CanonicalTotal: r.CanonicalTotal.String(),
		Timestamp:      r.Timestamp,
	})
}

func (s *Service) publish(ctx context.Context, subject string, data interface{}) {
	if s.sink == nil {
		return
	}
	s.sink.Publish(ctx, subject, data)
}
