package statistics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat/distuv"
)

func TestNormalCDF_MatchesReference(t *testing.T) {
	for _, x := range []float64{-4, -2.576, -1.96, -1, -0.5, 0, 0.25, 1, 1.645, 2.5, 3.9} {
		assert.InDelta(t, distuv.UnitNormal.CDF(x), NormalCDF(x), 1e-6, "x=%v", x)
	}
}

func TestErf_IsOdd(t *testing.T) {
	assert.InDelta(t, 0, Erf(0), 1e-8)
	assert.InDelta(t, -Erf(0.7), Erf(-0.7), 1e-12)
	assert.InDelta(t, math.Erf(1.3), Erf(1.3), 2e-7)
}

func TestCriticalZ(t *testing.T) {
	assert.Equal(t, 1.645, CriticalZ(90))
	assert.Equal(t, 1.960, CriticalZ(95))
	assert.Equal(t, 2.576, CriticalZ(99))
	assert.Equal(t, 1.960, CriticalZ(80))
}

func TestTwoProportionZTest(t *testing.T) {
	t.Run("detects a lift from 5% to 8%", func(t *testing.T) {
		res := TwoProportionZTest(Sample{Trials: 1000, Successes: 50}, Sample{Trials: 1000, Successes: 80}, 95)

		assert.True(t, res.Significant)
		assert.False(t, res.Degenerate)
		assert.InDelta(t, 60.0, res.ImprovementPct, 1e-9)
		assert.InDelta(t, 2.721, res.ZScore, 0.001)
		assert.Less(t, res.PValue, 0.05)
		assert.InDelta(t, 0.08, (res.Lower+res.Upper)/2, 1e-12)
		assert.Less(t, res.Lower, 0.08)
	})

	t.Run("same lift is not significant at 99% on a small sample", func(t *testing.T) {
		res := TwoProportionZTest(Sample{Trials: 200, Successes: 10}, Sample{Trials: 200, Successes: 16}, 99)

		assert.False(t, res.Significant)
		assert.InDelta(t, 60.0, res.ImprovementPct, 1e-9)
	})

	t.Run("negative lift keeps its sign", func(t *testing.T) {
		res := TwoProportionZTest(Sample{Trials: 1000, Successes: 80}, Sample{Trials: 1000, Successes: 50}, 95)

		assert.True(t, res.Significant)
		assert.Less(t, res.ZScore, 0.0)
		assert.InDelta(t, -37.5, res.ImprovementPct, 1e-9)
	})

	t.Run("zero impressions degrade to a neutral result", func(t *testing.T) {
		res := TwoProportionZTest(Sample{Trials: 1000, Successes: 50}, Sample{}, 95)

		assert.True(t, res.Degenerate)
		assert.Equal(t, 1.0, res.PValue)
		assert.Equal(t, 0.0, res.ZScore)
		assert.False(t, res.Significant)
		assert.Equal(t, 0.0, res.ImprovementPct)
		assert.Equal(t, 0.0, res.Lower)
		assert.Equal(t, 0.0, res.Upper)
	})

	t.Run("no conversions anywhere gives z of zero", func(t *testing.T) {
		res := TwoProportionZTest(Sample{Trials: 500}, Sample{Trials: 500}, 95)

		assert.Equal(t, 0.0, res.ZScore)
		assert.InDelta(t, 1.0, res.PValue, 1e-6)
		assert.False(t, res.Significant)
		assert.Equal(t, 0.0, res.ImprovementPct)
	})
}
