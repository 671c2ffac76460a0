package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opencustody/assetvault/internal/assets"
)

// StalenessBound is the maximum age of an oracle reading before it is
// rejected.
const StalenessBound = time.Hour

// Quote is one oracle reading: a price in canonical units per whole asset
// unit scale, and the time the feed last updated it.
type Quote struct {
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// PriceFeedError reports a feed that is unreachable, stale, or publishing
// an invalid price.
type PriceFeedError struct {
	Feed   string
	Reason string
}

func (e *PriceFeedError) Error() string {
	return fmt.Sprintf("price feed %s: %s", e.Feed, e.Reason)
}

// Feed resolves oracle references to their latest readings.
type Feed interface {
	LatestQuote(ctx context.Context, ref string) (Quote, error)
	Live(ctx context.Context, ref string) bool
}

// Converter is the AMM-backed strategy. Convert moves value; Estimate does
// not. Satisfied by amm.Converter.
type Converter interface {
	Convert(ctx context.Context, assetID string, amountIn decimal.Decimal) (decimal.Decimal, error)
	Estimate(ctx context.Context, assetID string, amountIn decimal.Decimal) (decimal.Decimal, error)
	CheckPair(ctx context.Context, assetID string) error
}

// Provider converts an (asset, amount) pair into canonical-unit value using
// the asset's configured valuation source. For oracle-sourced assets the
// quote is referentially transparent; for pool-sourced assets Quote
// performs the actual exchange, so callers must not assume it is free of
// side effects.
type Provider struct {
	feed      Feed
	converter Converter
	now       func() time.Time
}

// NewProvider creates a provider over the given feed and converter.
func NewProvider(feed Feed, converter Converter) *Provider {
	return &Provider{feed: feed, converter: converter, now: time.Now}
}

// Quote values amount of the asset in canonical units. Pool-sourced assets
// are swapped; the value returned is the settlement amount actually
// received, which is what gets credited.
func (p *Provider) Quote(ctx context.Context, asset assets.Asset, amount decimal.Decimal) (decimal.Decimal, error) {
	switch asset.Source.Kind {
	case assets.SourcePool:
		return p.converter.Convert(ctx, asset.ID, amount)
	case assets.SourceOracle:
		return p.oracleValue(ctx, asset, amount)
	default:
		return decimal.Zero, unknownKind(asset.Source)
	}
}

// Estimate values amount without side effects for either strategy.
// Pool-sourced assets are priced against current reserves without trading.
func (p *Provider) Estimate(ctx context.Context, asset assets.Asset, amount decimal.Decimal) (decimal.Decimal, error) {
	switch asset.Source.Kind {
	case assets.SourcePool:
		return p.converter.Estimate(ctx, asset.ID, amount)
	case assets.SourceOracle:
		return p.oracleValue(ctx, asset, amount)
	default:
		return decimal.Zero, unknownKind(asset.Source)
	}
}

// CheckSource validates a valuation source for asset admission: oracle
// feeds must be live, fresh, and publishing a positive price; pool sources
// must have an existing, liquid pair.
func (p *Provider) CheckSource(ctx context.Context, src assets.ValuationSource) error {
	switch src.Kind {
	case assets.SourcePool:
		return p.converter.CheckPair(ctx, src.Ref)
	case assets.SourceOracle:
		if !p.feed.Live(ctx, src.Ref) {
			return &PriceFeedError{Feed: src.Ref, Reason: "feed not live"}
		}
		_, err := p.freshQuote(ctx, src.Ref)
		return err
	default:
		return unknownKind(src)
	}
}

func unknownKind(src assets.ValuationSource) *PriceFeedError {
	return &PriceFeedError{Feed: src.Ref, Reason: "unknown source kind " + string(src.Kind)}
}

// oracleValue computes amount * price / 10^decimals, multiplying before
// dividing and flooring the remainder. Users never receive rounding credit.
func (p *Provider) oracleValue(ctx context.Context, asset assets.Asset, amount decimal.Decimal) (decimal.Decimal, error) {
	q, err := p.freshQuote(ctx, asset.Source.Ref)
	if err != nil {
		return decimal.Zero, err
	}
	scale := decimal.New(1, asset.Decimals)
	value, _ := amount.Mul(q.Price).QuoRem(scale, 0)
	return value, nil
}

func (p *Provider) freshQuote(ctx context.Context, ref string) (Quote, error) {
	q, err := p.feed.LatestQuote(ctx, ref)
	if err != nil {
		return Quote{}, &PriceFeedError{Feed: ref, Reason: err.Error()}
	}
	if q.Price.Sign() <= 0 {
		return Quote{}, &PriceFeedError{Feed: ref, Reason: "non-positive price " + q.Price.String()}
	}
	if age := p.now().Sub(q.UpdatedAt); age > StalenessBound {
		return Quote{}, &PriceFeedError{Feed: ref, Reason: fmt.Sprintf("stale reading, age %s exceeds %s", age, StalenessBound)}
	}
	return q, nil
}
