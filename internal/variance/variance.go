// Package variance implements the deterministic variance comparator used at
// every drill-down level. Compare is a pure function; the caller attaches the
// result to the owning level's VarianceDetail tree.
package variance

import (
	"math"

	"navrecon/internal/types"
)

// Tolerance holds the level-specific materiality thresholds. Absolute is a
// dollar threshold against |a-b|; Relative is a fraction against |(a-b)/b|.
type Tolerance struct {
	Absolute float64
	Relative float64
}

// Compare computes the absolute and relative variance between two values and
// flags materiality against the absolute tolerance. Division by zero on the
// relative term is defined as zero, not an error. The materiality flag is
// bound at compare time with the level's threshold and never recomputed.
func Compare(component string, a, b float64, tol Tolerance) types.VarianceDetail {
	abs := a - b
	rel := 0.0
	if b != 0 {
		rel = abs / b
	}
	return types.VarianceDetail{
		Component:        component,
		CPUValue:         a,
		IncumbentValue:   b,
		VarianceAbsolute: abs,
		VarianceRelative: rel,
		IsMaterial:       math.Abs(abs) > tol.Absolute,
	}
}

// MaterialRelative reports whether the detail's relative variance exceeds
// the tolerance's relative threshold.
func MaterialRelative(d types.VarianceDetail, tol Tolerance) bool {
	return math.Abs(d.VarianceRelative) > tol.Relative
}
