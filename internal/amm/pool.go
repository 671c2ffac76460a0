package amm

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrPairNotFound          = errors.New("no exchange pair for asset")
	ErrInsufficientLiquidity = errors.New("pair has a zero reserve")
	ErrZeroOutput            = errors.New("swap produced zero output")
)

// SlippageError reports a swap whose realized output fell short of the
// tolerated minimum.
type SlippageError struct {
	Expected decimal.Decimal
	MinOut   decimal.Decimal
	Actual   decimal.Decimal
}

func (e *SlippageError) Error() string {
	return "slippage exceeded: expected " + e.Expected.String() +
		", minimum " + e.MinOut.String() + ", got " + e.Actual.String()
}

// Pool is a constant-product exchange venue holding reserves for
// (assetIn, assetOut) pairs. Implementations are injected; the converter
// never assumes a concrete venue.
type Pool interface {
	// Reserves returns the current (reserveIn, reserveOut) for the pair,
	// or ErrPairNotFound.
	Reserves(ctx context.Context, assetIn, assetOut string) (decimal.Decimal, decimal.Decimal, error)
	// Swap trades amountIn of assetIn for assetOut and returns the amount
	// actually received.
	Swap(ctx context.Context, assetIn, assetOut string, amountIn, minOut decimal.Decimal) (decimal.Decimal, error)
}

// Wrapper turns the native currency into its tradable representation.
// Wrapping is an external call and must complete before reserves are read,
// otherwise the reserves observed would be stale relative to the trade.
type Wrapper interface {
	Wrap(ctx context.Context, amount decimal.Decimal) error
	WrappedID() string
}

var (
	feeNumerator   = decimal.NewFromInt(997)
	feeDenominator = decimal.NewFromInt(1000)
)

// amountOut applies the constant-product formula with the 0.3% fee baked
// in: out = in*997*reserveOut / (reserveIn*1000 + in*997), floored.
func amountOut(amountIn, reserveIn, reserveOut decimal.Decimal) decimal.Decimal {
	inWithFee := amountIn.Mul(feeNumerator)
	numerator := inWithFee.Mul(reserveOut)
	denominator := reserveIn.Mul(feeDenominator).Add(inWithFee)
	q, _ := numerator.QuoRem(denominator, 0)
	return q
}
