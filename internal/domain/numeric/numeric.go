// Package numeric holds the rounding and clamping rules shared by the engine.
package numeric

import "math"

// Decimal places used when values are persisted or compared.
const (
	RatioPlaces  = 6
	AmountPlaces = 2
)

// Finite coerces NaN and infinities to zero.
func Finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

// Round rounds x half away from zero to the given number of decimal places.
// Non-finite input rounds to 0.
func Round(x float64, places int) float64 {
	x = Finite(x)
	if places < 0 {
		places = 0
	}
	p := math.Pow(10, float64(places))
	r := math.Round(x*p) / p
	if r == 0 {
		// normalise -0
		return 0
	}
	return r
}

// Ratio rounds to RatioPlaces.
func Ratio(x float64) float64 { return Round(x, RatioPlaces) }

// Amount rounds to AmountPlaces.
func Amount(x float64) float64 { return Round(x, AmountPlaces) }

// Clamp bounds x to [lo, hi]. NaN clamps to lo.
func Clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	return math.Max(lo, math.Min(hi, x))
}

// NonNegative returns x when it is finite and positive, otherwise 0.
func NonNegative(x float64) float64 {
	x = Finite(x)
	if x < 0 {
		return 0
	}
	return x
}

// Deref returns *p or 0 when p is nil.
func Deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return Finite(*p)
}
