package stage

import "math"

// moveEpsilonMM is the displacement below which an axis component is
// considered zero and omitted from the generated G-code.
const moveEpsilonMM = 1e-6

// MoveVector is a relative displacement across the machine axes, in
// millimeters for the linear axes and degrees for the rotaries.
type MoveVector struct {
	X float64
	Y float64
	Z float64
	A float64
	B float64
	C float64
}

// AxisValue pairs a G-code axis letter with its displacement.
type AxisValue struct {
	Axis  string
	Value float64
}

// Components returns the vector components in G-code axis order.
func (v MoveVector) Components() []AxisValue {
	return []AxisValue{
		{"X", v.X},
		{"Y", v.Y},
		{"Z", v.Z},
		{"A", v.A},
		{"B", v.B},
		{"C", v.C},
	}
}

// IsZero reports whether every component is below tol in magnitude.
func (v MoveVector) IsZero(tol float64) bool {
	for _, av := range v.Components() {
		if math.Abs(av.Value) >= tol {
			return false
		}
	}
	return true
}
