package contracts

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseUnits converts a decimal string into integer base units.
// More fractional digits than decimals is an error, not a rounding.
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("amount %q is not a decimal number", amount)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}
	return scaled.BigInt(), nil
}

func FormatUnits(units *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(units, -decimals).String()
}

// ApplySlippage returns floor(amount * (10000 - bps) / 10000)
func ApplySlippage(amount *big.Int, bps uint32) *big.Int {
	d := decimal.NewFromBigInt(amount, 0).
		Mul(decimal.NewFromInt(int64(10000 - bps))).
		Div(decimal.NewFromInt(10000)).
		Floor()
	return d.BigInt()
}

// Rescale moves an amount between tokens of different decimals, flooring
func Rescale(amount *big.Int, from, to int32) *big.Int {
	return decimal.NewFromBigInt(amount, -from).Shift(to).Floor().BigInt()
}
