package assets

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct{ err error }

func (s stubChecker) CheckSource(ctx context.Context, src ValuationSource) error { return s.err }

type stubProber struct{ err error }

func (s stubProber) Probe(ctx context.Context, assetID string) error { return s.err }

func newTestRegistry() *Registry {
	return NewRegistry(Asset{
		ID:       "settlement",
		Decimals: 0,
		Source:   ValuationSource{Kind: SourceOracle, Ref: "settlement-usd"},
	}, stubChecker{}, stubProber{})
}

func oracleSrc(ref string) ValuationSource {
	return ValuationSource{Kind: SourceOracle, Ref: ref}
}

func TestRegistryAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("registers a valid asset", func(t *testing.T) {
		r := newTestRegistry()
		require.NoError(t, r.Add(ctx, "tok", 18, oracleSrc("tok-usd")))
		assert.True(t, r.IsSupported("tok"))

		a, err := r.Get("tok")
		require.NoError(t, err)
		assert.Equal(t, int32(18), a.Decimals)
		assert.True(t, a.Held.IsZero())
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		r := newTestRegistry()
		require.NoError(t, r.Add(ctx, "tok", 18, oracleSrc("tok-usd")))
		assert.ErrorIs(t, r.Add(ctx, "tok", 18, oracleSrc("tok-usd")), ErrAlreadySupported)
	})

	t.Run("rejects excessive decimals", func(t *testing.T) {
		r := newTestRegistry()
		assert.ErrorIs(t, r.Add(ctx, "tok", 25, oracleSrc("tok-usd")), ErrInvalidDecimals)
	})

	t.Run("rejects assets failing the liveness probe", func(t *testing.T) {
		r := NewRegistry(Asset{ID: "settlement"}, stubChecker{}, stubProber{err: errors.New("no code at address")})
		assert.ErrorIs(t, r.Add(ctx, "tok", 18, oracleSrc("tok-usd")), ErrInvalidAsset)
	})

	t.Run("rejects unreachable valuation sources", func(t *testing.T) {
		srcErr := errors.New("feed not live")
		r := NewRegistry(Asset{ID: "settlement"}, stubChecker{err: srcErr}, stubProber{})
		assert.ErrorIs(t, r.Add(ctx, "tok", 18, oracleSrc("tok-usd")), srcErr)
	})
}

func TestRegistryRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("removes an empty asset", func(t *testing.T) {
		r := newTestRegistry()
		require.NoError(t, r.Add(ctx, "tok", 18, oracleSrc("tok-usd")))
		require.NoError(t, r.Remove("tok"))
		assert.False(t, r.IsSupported("tok"))
	})

	t.Run("base asset can never be removed", func(t *testing.T) {
		r := newTestRegistry()
		assert.ErrorIs(t, r.Remove("settlement"), ErrBaseAssetRemoval)
		assert.True(t, r.IsSupported("settlement"))
	})

	t.Run("held assets stay registered", func(t *testing.T) {
		r := newTestRegistry()
		require.NoError(t, r.Add(ctx, "tok", 18, oracleSrc("tok-usd")))
		require.NoError(t, r.AddHeld("tok", decimal.NewFromInt(5)))

		assert.ErrorIs(t, r.Remove("tok"), ErrAssetHeld)
		assert.True(t, r.IsSupported("tok"))

		require.NoError(t, r.SubHeld("tok", decimal.NewFromInt(5)))
		assert.NoError(t, r.Remove("tok"))
	})

	t.Run("unknown asset", func(t *testing.T) {
		r := newTestRegistry()
		assert.ErrorIs(t, r.Remove("ghost"), ErrUnsupportedAsset)
	})

	t.Run("swap-and-pop keeps the remaining set intact", func(t *testing.T) {
		r := newTestRegistry()
		for _, id := range []string{"a", "b", "c", "d"} {
			require.NoError(t, r.Add(ctx, id, 6, oracleSrc(id+"-usd")))
		}
		require.NoError(t, r.Remove("b"))

		ids := make(map[string]bool)
		for _, a := range r.ListSupported() {
			ids[a.ID] = true
		}
		assert.Equal(t, map[string]bool{"settlement": true, "a": true, "c": true, "d": true}, ids)

		// Every survivor is still addressable after the swap.
		for id := range ids {
			_, err := r.Get(id)
			assert.NoError(t, err)
		}
	})
}

func TestRegistryHeld(t *testing.T) {
	r := newTestRegistry()

	require.NoError(t, r.AddHeld("settlement", decimal.NewFromInt(10)))
	a, err := r.Get("settlement")
	require.NoError(t, err)
	assert.True(t, a.Held.Equal(decimal.NewFromInt(10)))

	assert.ErrorIs(t, r.SubHeld("settlement", decimal.NewFromInt(11)), ErrNegativeAggregate)
	require.NoError(t, r.SubHeld("settlement", decimal.NewFromInt(10)))

	a, err = r.Get("settlement")
	require.NoError(t, err)
	assert.True(t, a.Held.IsZero())
}
