package broadcast

import (
	"math"
	"strconv"
	"strings"
)

// RoundToStep rounds v to the nearest multiple of step, then re-rounds
// to the decimal precision implied by the step. The second pass removes
// binary floating-point residue so a step of 0.0001 yields exactly four
// decimal places.
func RoundToStep(v, step float64) float64 {
	return roundStep(v, step, math.Round)
}

// FloorToStep rounds v down to a multiple of step.
func FloorToStep(v, step float64) float64 {
	return roundStep(v, step, math.Floor)
}

// CeilToStep rounds v up to a multiple of step.
func CeilToStep(v, step float64) float64 {
	return roundStep(v, step, math.Ceil)
}

func roundStep(v, step float64, round func(float64) float64) float64 {
	if step <= 0 {
		return v
	}
	ratio := v / step
	// Snap near-integer ratios before flooring/ceiling so representation
	// error cannot swallow a whole step.
	ratio = math.Round(ratio*1e9) / 1e9
	result := round(ratio) * step
	prec := stepPrecision(step)
	pow := math.Pow(10, float64(prec))
	return math.Round(result*pow) / pow
}

// stepPrecision returns the number of decimal places implied by a step,
// e.g. 0.001 -> 3, 1 -> 0.
func stepPrecision(step float64) int {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}
