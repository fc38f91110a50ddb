// Package statistics holds the numerical routines behind significance
// testing and adaptive allocation.
package statistics

import "math"

// Abramowitz and Stegun formula 7.1.26.
const (
	erfA1 = 0.254829592
	erfA2 = -0.284496736
	erfA3 = 1.421413741
	erfA4 = -1.453152027
	erfA5 = 1.061405429
	erfP  = 0.3275911
)

// DefaultConfidenceLevel is used when an experiment does not name one.
const DefaultConfidenceLevel = 95.0

// Erf approximates the error function with an absolute error below 1.5e-7.
func Erf(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1.0
		x = -x
	}
	t := 1.0 / (1.0 + erfP*x)
	y := 1.0 - (((((erfA5*t+erfA4)*t)+erfA3)*t+erfA2)*t+erfA1)*t*math.Exp(-x*x)
	return sign * y
}

// NormalCDF is the standard normal cumulative distribution function.
func NormalCDF(x float64) float64 {
	return 0.5 * (1.0 + Erf(x/math.Sqrt2))
}

// CriticalZ returns the two-tailed critical value for a confidence level
// given in percent. Unknown levels fall back to 95%.
func CriticalZ(confidenceLevel float64) float64 {
	switch confidenceLevel {
	case 90:
		return 1.645
	case 99:
		return 2.576
	default:
		return 1.960
	}
}

// Sample is the observed outcome of one arm.
type Sample struct {
	Trials    int64
	Successes int64
}

// Rate returns successes/trials, or 0 with no trials.
func (s Sample) Rate() float64 {
	if s.Trials <= 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Trials)
}

// ZTestResult is the outcome of a two-proportion z-test.
type ZTestResult struct {
	PValue         float64
	ZScore         float64
	Significant    bool
	ImprovementPct float64
	Lower          float64
	Upper          float64
	// Degenerate is set when either arm has no trials.
	Degenerate bool
}

// TwoProportionZTest compares treatment against control at the given
// confidence level. An arm without trials yields p=1, z=0 and an empty
// interval instead of an error.
func TwoProportionZTest(control, treatment Sample, confidenceLevel float64) ZTestResult {
	if control.Trials <= 0 || treatment.Trials <= 0 {
		return ZTestResult{PValue: 1, Degenerate: true}
	}

	n1 := float64(control.Trials)
	n2 := float64(treatment.Trials)
	p1 := control.Rate()
	p2 := treatment.Rate()

	pooled := float64(control.Successes+treatment.Successes) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))

	var z float64
	if se > 0 {
		z = (p2 - p1) / se
	}
	pValue := 2 * (1 - NormalCDF(math.Abs(z)))
	critical := CriticalZ(confidenceLevel)

	var improvement float64
	if p1 > 0 {
		improvement = (p2 - p1) / p1 * 100
	}

	seDiff := math.Sqrt(p1*(1-p1)/n1 + p2*(1-p2)/n2)
	margin := critical * seDiff

	return ZTestResult{
		PValue:         pValue,
		ZScore:         z,
		Significant:    math.Abs(z) > critical,
		ImprovementPct: improvement,
		Lower:          p2 - margin,
		Upper:          p2 + margin,
	}
}
