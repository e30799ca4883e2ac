package pricing

import "github.com/shopspring/decimal"

// TickDecimals returns the number of decimal places a tick size carries,
// e.g. 0.01 -> 2, 0.001 -> 3.
func TickDecimals(tick float64) int32 {
	d := decimal.NewFromFloat(tick)
	if exp := d.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}

// Round rounds half away from zero to the given number of decimals.
func Round(x float64, decimals int32) float64 {
	return decimal.NewFromFloat(x).Round(decimals).InexactFloat64()
}

func RoundUp(x float64, decimals int32) float64 {
	return decimal.NewFromFloat(x).RoundCeil(decimals).InexactFloat64()
}

func RoundDown(x float64, decimals int32) float64 {
	return decimal.NewFromFloat(x).RoundFloor(decimals).InexactFloat64()
}
