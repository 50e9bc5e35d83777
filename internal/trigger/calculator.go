// Package trigger computes conditional buy prices from a reference price and
// places them on the exchange. All arithmetic is decimal.
package trigger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNonPositivePrice = errors.New("reference price must be positive")
	ErrZeroSize         = errors.New("order size rounds to zero")
)

// DefaultOffsets bracket the base trigger price by ±0.1%.
var DefaultOffsets = []decimal.Decimal{
	decimal.RequireFromString("99.9"),
	decimal.RequireFromString("100.1"),
}

type Calculator struct {
	Offsets   []decimal.Decimal // percent of the base price
	SigDigits int32
}

// Base returns ref × coefficient / 100.
func Base(ref, coefficient decimal.Decimal) decimal.Decimal {
	return ref.Mul(coefficient).Shift(-2)
}

// Prices returns one trigger price per offset, rounded half-up to scale, or to
// the scale derived from the base price when scale is nil.
func (c *Calculator) Prices(ref, coefficient decimal.Decimal, scale *int32) ([]decimal.Decimal, error) {
	if !ref.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrNonPositivePrice, ref)
	}
	if !coefficient.IsPositive() {
		return nil, fmt.Errorf("coefficient must be positive, got %s", coefficient)
	}

	base := Base(ref, coefficient)
	places := ScaleFor(base, c.SigDigits)
	if scale != nil {
		places = *scale
	}

	offsets := c.Offsets
	if len(offsets) == 0 {
		offsets = DefaultOffsets
	}
	prices := make([]decimal.Decimal, 0, len(offsets))
	for _, off := range offsets {
		p := base.Mul(off).Shift(-2).Round(places)
		if !p.IsPositive() {
			return nil, fmt.Errorf("trigger price for offset %s rounds to zero at scale %d", off, places)
		}
		prices = append(prices, p)
	}
	return prices, nil
}

// ScaleFor returns the number of decimal places that keeps sig significant
// digits of v: max(0, sig - intDigits) for v >= 1, leadingZeros + sig below 1.
func ScaleFor(v decimal.Decimal, sig int32) int32 {
	if v.IsZero() {
		return sig
	}
	// Position of the most significant digit relative to the decimal point:
	// 39960 -> 5, 0.5 -> 0, 0.00123 -> -2.
	mag := int32(v.Abs().NumDigits()) + v.Abs().Exponent()
	return max(0, sig-mag)
}

// SizeFor returns notional / price rounded down to 4, 6 or 8 decimals
// depending on magnitude.
func SizeFor(notional, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNonPositivePrice, price)
	}
	raw := notional.DivRound(price, 16)

	var places int32
	switch {
	case raw.GreaterThanOrEqual(decimal.RequireFromString("0.01")):
		places = 4
	case raw.GreaterThanOrEqual(decimal.RequireFromString("0.0001")):
		places = 6
	default:
		places = 8
	}
	size := raw.Truncate(places)
	if !size.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s / %s", ErrZeroSize, notional, price)
	}
	return size, nil
}
