package amm

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// sharesPlaces is the fixed shares precision: 8 decimal places.
const sharesPlaces = 8

// DefaultMoneyQuant is the default money quantization step (cents).
var DefaultMoneyQuant = decimal.New(1, -2) // 0.01

// FeeRateFromBps converts a basis-point fee to a decimal rate.
// fee_bps == 10000 means a 100% fee, which makes the gross-up divide by zero,
// so only [0, 9999] is accepted.
func FeeRateFromBps(feeBps int) (decimal.Decimal, error) {
	if feeBps < 0 || feeBps >= 10000 {
		return decimal.Zero, fmt.Errorf("%w: fee_bps must be in [0, 9999]", ErrInput)
	}
	return decimal.New(int64(feeBps), -4), nil
}

// BpsFromProbabilities converts a probability vector to integer basis points,
// clamping each component to [0, 1] first.
func BpsFromProbabilities(probs []float64) []int {
	out := make([]int, len(probs))
	for i, p := range probs {
		if p < 0 {
			p = 0
		} else if p > 1 {
			p = 1
		}
		out[i] = int(math.Round(p * 10000.0))
	}
	return out
}

// quantizeMoneyUp rounds x up (away from the user's favor) to the quant step.
func quantizeMoneyUp(x, quant decimal.Decimal) decimal.Decimal {
	return x.RoundUp(-quant.Exponent())
}

// quantizeMoneyDown rounds x down to the quant step.
func quantizeMoneyDown(x, quant decimal.Decimal) decimal.Decimal {
	return x.RoundDown(-quant.Exponent())
}

// quantizeShares quantizes a float share count to 8 decimal places,
// rounding down to be conservative.
func quantizeShares(x float64) decimal.Decimal {
	return decimal.NewFromFloat(x).RoundDown(sharesPlaces)
}

// decimalToFiniteFloat converts a decimal to float64, rejecting non-finite
// results before they can reach the LMSR math.
func decimalToFiniteFloat(x decimal.Decimal, field string) (float64, error) {
	v, _ := x.Float64()
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("%w: %s must be finite", ErrInput, field)
	}
	return v, nil
}
