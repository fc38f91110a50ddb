package statistics

import "math"

// Source supplies uniform draws in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// StandardNormal draws from N(0, 1) with the Box-Muller transform.
func StandardNormal(src Source) float64 {
	u1 := 1 - src.Float64() // (0, 1]
	u2 := src.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// Gamma draws from Gamma(shape, 1) using the Marsaglia-Tsang squeeze.
// Shapes below one are boosted and scaled back by U^(1/shape).
func Gamma(src Source, shape float64) float64 {
	if shape <= 0 {
		return 0
	}
	if shape < 1 {
		u := 1 - src.Float64()
		return Gamma(src, shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := StandardNormal(src)
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := src.Float64()
		x2 := x * x
		if u < 1-0.0331*x2*x2 {
			return d * v
		}
		if u > 0 && math.Log(u) < 0.5*x2+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// Beta draws from Beta(alpha, beta) as a ratio of two gamma draws.
func Beta(src Source, alpha, beta float64) float64 {
	x := Gamma(src, alpha)
	y := Gamma(src, beta)
	if x+y == 0 {
		return 0
	}
	return x / (x + y)
}
