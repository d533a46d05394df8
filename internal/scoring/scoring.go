// Package scoring maps raw rule metrics onto the 0-100 severity score scale.
package scoring

import "math"

const (
	Ceiling = 100.0

	// Two-point curves place these scores at the info and warning limits.
	InfoScore    = 25.0
	WarningScore = 75.0
)

var maxScore = math.Nextafter(Ceiling, 0)

// Score maps value against limit so that Score(0, l) = 0, Score(l, l) = 50 and the
// result grows monotonically towards, but never reaches, 100.
func Score(value, limit float64) float64 {
	if math.IsNaN(value) || value <= 0 {
		return 0
	}
	if limit <= 0 || math.IsInf(value, 1) {
		return maxScore
	}
	return clamp(Ceiling*(1-math.Pow(0.5, value/limit)), Ceiling)
}

// MapExp maps value onto an exponential curve approaching ceiling, passing through (x1, y1).
// Negative values map to 0.
func MapExp(value, ceiling, x1, y1 float64) float64 {
	if math.IsNaN(value) || value <= 0 {
		return 0
	}
	if x1 <= 0 || y1 <= 0 || y1 >= ceiling {
		return clamp(ceiling, ceiling)
	}
	k := math.Log(1-y1/ceiling) / x1
	return clamp(ceiling*(1-math.Exp(k*value)), ceiling)
}

// MapExp100 scores 75 at x1.
func MapExp100(value, x1 float64) float64 {
	return MapExp(value, Ceiling, x1, WarningScore)
}

// MapExp74 keeps the result below the warning threshold, scoring 25 at x1.
func MapExp74(value, x1 float64) float64 {
	return MapExp(value, WarningScore-1, x1, InfoScore)
}

func MapExp100Y(value, x1, y1 float64) float64 {
	return MapExp(value, Ceiling, x1, y1)
}

// MapExp100Two is linear up to the info limit x1 (score 25) and exponential past it,
// scoring 75 at the warning limit x2.
func MapExp100Two(value, x1, x2 float64) float64 {
	return mapExpTwo(value, Ceiling, x1, InfoScore, x2, WarningScore)
}

func mapExpTwo(value, ceiling, x1, y1, x2, y2 float64) float64 {
	if math.IsNaN(value) || value <= 0 {
		return 0
	}
	if x1 <= 0 {
		return MapExp(value, ceiling, x2, y2)
	}
	if value < x1 {
		return y1 / x1 * value
	}
	if x2 <= x1 {
		return clamp(y1+MapExp(value-x1, ceiling-y1, 1, y2-y1), ceiling)
	}
	return clamp(y1+MapExp(value-x1, ceiling-y1, x2-x1, y2-y1), ceiling)
}

// MapLin100 maps a ratio in [0, 1] onto three linear segments: 0 to 25 up to x1,
// 25 to 75 up to x2 and 75 towards 100 up to 1. Limits outside 0 < x1 < x2 < 1 fall
// back to a single line.
func MapLin100(value, x1, x2 float64) float64 {
	if math.IsNaN(value) || value <= 0 {
		return 0
	}
	if value >= 1 {
		return maxScore
	}
	if x1 <= 0 || x2 <= x1 || x2 >= 1 {
		return clamp(Ceiling*value, Ceiling)
	}
	switch {
	case value <= x1:
		return value * InfoScore / x1
	case value <= x2:
		return InfoScore + (value-x1)*(WarningScore-InfoScore)/(x2-x1)
	}
	return clamp(WarningScore+(value-x2)*(Ceiling-WarningScore)/(1-x2), Ceiling)
}

// MapSigmoid maps input onto a logistic curve between min and min+max.
func MapSigmoid(input, min, max, lowFit, inflection, highFit float64) float64 {
	return min + max/(1+math.Exp(lowFit*(inflection-input))+math.Exp(highFit*(inflection-input)))
}

func clamp(v, ceiling float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v >= ceiling {
		return math.Nextafter(ceiling, 0)
	}
	return v
}
