package model

import "math"

// WrapToPi normalizes angle a (in radians) into (-Pi, Pi].
func WrapToPi(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}

	return a - math.Pi
}
