package statistics

import (
	"math/rand"
	"testing"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

func draw(n int, fn func() float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = fn()
	}
	return out
}

func TestStandardNormal_Moments(t *testing.T) {
	src := rand.New(rand.NewSource(7))
	samples := draw(50000, func() float64 { return StandardNormal(src) })

	mean, err := stats.Mean(samples)
	require.NoError(t, err)
	sd, err := stats.StandardDeviation(samples)
	require.NoError(t, err)

	assert.InDelta(t, 0, mean, 0.02)
	assert.InDelta(t, 1, sd, 0.02)
}

func TestGamma_Mean(t *testing.T) {
	src := rand.New(rand.NewSource(11))
	for _, shape := range []float64{0.5, 1, 3.5, 40} {
		samples := draw(40000, func() float64 { return Gamma(src, shape) })
		mean, err := stats.Mean(samples)
		require.NoError(t, err)

		ref := distuv.Gamma{Alpha: shape, Beta: 1}
		assert.InDelta(t, ref.Mean(), mean, 0.03*ref.Mean()+0.01, "shape=%v", shape)
		for _, s := range samples {
			require.GreaterOrEqual(t, s, 0.0)
		}
	}
}

func TestBeta_MeanAndRange(t *testing.T) {
	src := rand.New(rand.NewSource(3))
	samples := draw(40000, func() float64 { return Beta(src, 3, 7) })

	mean, err := stats.Mean(samples)
	require.NoError(t, err)
	ref := distuv.Beta{Alpha: 3, Beta: 7}
	assert.InDelta(t, ref.Mean(), mean, 0.01)

	lo, _ := stats.Min(samples)
	hi, _ := stats.Max(samples)
	assert.GreaterOrEqual(t, lo, 0.0)
	assert.LessOrEqual(t, hi, 1.0)
}

func TestGamma_NonPositiveShape(t *testing.T) {
	src := rand.New(rand.NewSource(1))
	assert.Equal(t, 0.0, Gamma(src, 0))
	assert.Equal(t, 0.0, Beta(src, 0, 0))
}
