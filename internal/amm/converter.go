package amm

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// slippage tolerance: minimum acceptable output is 99.5% of the pre-trade
// expectation against current reserves.
var (
	slippageNumerator   = decimal.NewFromInt(995)
	slippageDenominator = decimal.NewFromInt(1000)
)

// Converter exchanges a custodied asset for the settlement asset against a
// constant-product pool, enforcing minimum-output slippage protection.
type Converter struct {
	pool       Pool
	wrapper    Wrapper
	settlement string
	native     string
}

// NewConverter creates a converter targeting the settlement asset. native
// identifies the base currency that must be wrapped before trading.
func NewConverter(pool Pool, wrapper Wrapper, settlement, native string) *Converter {
	return &Converter{pool: pool, wrapper: wrapper, settlement: settlement, native: native}
}

// Convert swaps amountIn of assetID (already in custody) into the
// settlement asset and returns the amount actually received. The returned
// value is what must be credited: a pre-trade estimate would not match the
// realized output.
func (c *Converter) Convert(ctx context.Context, assetID string, amountIn decimal.Decimal) (decimal.Decimal, error) {
	tradeAsset := assetID
	if assetID == c.native {
		// Wrap before reading reserves; the wrap itself moves value.
		if err := c.wrapper.Wrap(ctx, amountIn); err != nil {
			return decimal.Zero, fmt.Errorf("wrap native: %w", err)
		}
		tradeAsset = c.wrapper.WrappedID()
	}

	reserveIn, reserveOut, err := c.reserves(ctx, tradeAsset)
	if err != nil {
		return decimal.Zero, err
	}

	expected := amountOut(amountIn, reserveIn, reserveOut)
	minOut, _ := expected.Mul(slippageNumerator).QuoRem(slippageDenominator, 0)

	actual, err := c.pool.Swap(ctx, tradeAsset, c.settlement, amountIn, minOut)
	if err != nil {
		return decimal.Zero, fmt.Errorf("swap %s: %w", tradeAsset, err)
	}
	if actual.IsZero() {
		return decimal.Zero, ErrZeroOutput
	}
	if actual.LessThan(minOut) {
		return decimal.Zero, &SlippageError{Expected: expected, MinOut: minOut, Actual: actual}
	}
	return actual, nil
}

// Estimate computes the settlement-asset output the pool would produce for
// amountIn against current reserves, without trading. Used when a canonical
// value is needed but no exchange should occur.
func (c *Converter) Estimate(ctx context.Context, assetID string, amountIn decimal.Decimal) (decimal.Decimal, error) {
	tradeAsset := assetID
	if assetID == c.native {
		tradeAsset = c.wrapper.WrappedID()
	}
	reserveIn, reserveOut, err := c.reserves(ctx, tradeAsset)
	if err != nil {
		return decimal.Zero, err
	}
	return amountOut(amountIn, reserveIn, reserveOut), nil
}

// CheckPair verifies an exchange venue exists and is liquid for the asset.
func (c *Converter) CheckPair(ctx context.Context, assetID string) error {
	tradeAsset := assetID
	if assetID == c.native {
		tradeAsset = c.wrapper.WrappedID()
	}
	_, _, err := c.reserves(ctx, tradeAsset)
	return err
}

func (c *Converter) reserves(ctx context.Context, tradeAsset string) (decimal.Decimal, decimal.Decimal, error) {
	reserveIn, reserveOut, err := c.pool.Reserves(ctx, tradeAsset, c.settlement)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s/%s", ErrPairNotFound, tradeAsset, c.settlement)
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return decimal.Zero, decimal.Zero, ErrInsufficientLiquidity
	}
	return reserveIn, reserveOut, nil
}
