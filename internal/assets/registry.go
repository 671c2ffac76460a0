package assets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MaxDecimals bounds the native precision an asset may declare.
const MaxDecimals = 24

var (
	ErrInvalidAsset      = errors.New("asset failed liveness check")
	ErrInvalidDecimals   = errors.New("asset decimals exceed supported bound")
	ErrUnsupportedAsset  = errors.New("asset not supported")
	ErrAlreadySupported  = errors.New("asset already supported")
	ErrAssetHeld         = errors.New("asset aggregate held amount is not zero")
	ErrBaseAssetRemoval  = errors.New("base asset cannot be removed")
	ErrNegativeAggregate = errors.New("asset aggregate held amount would go negative")
)

// SourceKind selects the valuation strategy for an asset.
type SourceKind string

const (
	SourceOracle SourceKind = "oracle"
	SourcePool   SourceKind = "pool"
)

// ValuationSource is a weak reference to an external price feed or AMM pair.
// The registry never mutates the referenced venue.
type ValuationSource struct {
	Kind SourceKind `json:"kind"`
	Ref  string     `json:"ref"`
}

// Asset is the registered metadata for a supported asset. Held is the
// aggregate native-unit amount currently in custody across all accounts.
type Asset struct {
	ID       string          `json:"id"`
	Decimals int32           `json:"decimals"`
	Source   ValuationSource `json:"source"`
	Held     decimal.Decimal `json:"held"`
}

// SourceChecker validates that a valuation source is reachable and fresh
// before an asset depending on it is admitted.
type SourceChecker interface {
	CheckSource(ctx context.Context, src ValuationSource) error
}

// Prober answers whether an asset identifier behaves like the expected
// asset interface at its external venue.
type Prober interface {
	Probe(ctx context.Context, assetID string) error
}

// Registry maps asset ids to metadata and keeps an index-addressable id
// slice for enumeration. Removal swaps the victim with the end of the slice
// and pops, so enumeration order is not stable and callers must not rely
// on it.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]int
	list    []*Asset
	base    string
	checker SourceChecker
	prober  Prober
}

// NewRegistry creates a registry with the base/settlement asset already
// registered. The base asset is always supported and can never be removed.
func NewRegistry(base Asset, checker SourceChecker, prober Prober) *Registry {
	b := base
	b.Held = decimal.Zero
	return &Registry{
		byID:    map[string]int{base.ID: 0},
		list:    []*Asset{&b},
		base:    base.ID,
		checker: checker,
		prober:  prober,
	}
}

// BaseAsset returns the id of the protected settlement asset.
func (r *Registry) BaseAsset() string {
	return r.base
}

// Add registers an asset after validation: the id must pass the liveness
// probe, decimals must be within bound, the valuation source must be
// reachable and fresh, and the id must not already be registered.
func (r *Registry) Add(ctx context.Context, id string, decimals int32, src ValuationSource) error {
	if id == "" {
		return ErrInvalidAsset
	}
	if decimals < 0 || decimals > MaxDecimals {
		return ErrInvalidDecimals
	}

	r.mu.RLock()
	_, exists := r.byID[id]
	r.mu.RUnlock()
	if exists {
		return ErrAlreadySupported
	}

	if err := r.prober.Probe(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}
	if err := r.checker.CheckSource(ctx, src); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return ErrAlreadySupported
	}
	r.byID[id] = len(r.list)
	r.list = append(r.list, &Asset{ID: id, Decimals: decimals, Source: src, Held: decimal.Zero})
	return nil
}

// Remove deregisters an asset. The aggregate held amount must be zero and
// the base asset is protected.
func (r *Registry) Remove(id string) error {
	if id == r.base {
		return ErrBaseAssetRemoval
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok {
		return ErrUnsupportedAsset
	}
	if !r.list[idx].Held.IsZero() {
		return ErrAssetHeld
	}

	last := len(r.list) - 1
	if idx != last {
		r.list[idx] = r.list[last]
		r.byID[r.list[idx].ID] = idx
	}
	r.list = r.list[:last]
	delete(r.byID, id)
	return nil
}

// Get returns a snapshot of the asset's metadata.
func (r *Registry) Get(id string) (Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byID[id]
	if !ok {
		return Asset{}, ErrUnsupportedAsset
	}
	return *r.list[idx], nil
}

// IsSupported reports whether id is registered. Safe to call while paused.
func (r *Registry) IsSupported(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byID[id]
	return ok
}

// ListSupported returns snapshots of all registered assets. Order is not
// stable across removals. Safe to call while paused.
func (r *Registry) ListSupported() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Asset, 0, len(r.list))
	for _, a := range r.list {
		out = append(out, *a)
	}
	return out
}

// AddHeld increases the asset's aggregate held amount. Driven only by
// ledger credits.
func (r *Registry) AddHeld(id string, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok {
		return ErrUnsupportedAsset
	}
	r.list[idx].Held = r.list[idx].Held.Add(amount)
	return nil
}

// SubHeld decreases the asset's aggregate held amount. A negative result is
// a fatal accounting fault, never wrapped.
func (r *Registry) SubHeld(id string, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok {
		return ErrUnsupportedAsset
	}
	next := r.list[idx].Held.Sub(amount)
	if next.IsNegative() {
		return ErrNegativeAggregate
	}
	r.list[idx].Held = next
	return nil
}
