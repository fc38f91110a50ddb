// Package allocation maps subjects onto experiment variants.
package allocation

import (
	"crypto/md5"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/statistics"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

// Engine picks variants under the random, hash and adaptive algorithms.
// It is safe for concurrent use.
type Engine struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine creates an engine seeded from the wall clock.
func NewEngine() *Engine {
	return NewSeededEngine(time.Now().UnixNano())
}

// NewSeededEngine creates an engine with a fixed seed.
func NewSeededEngine(seed int64) *Engine {
	return &Engine{rng: rand.New(rand.NewSource(seed))}
}

// Float64 implements statistics.Source under the engine lock.
func (e *Engine) Float64() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64()
}

// Assign returns the variant for subjectID. The control variant is returned
// when no active variant exists or the cumulative walk falls short. Variants
// must be loaded on the experiment.
func (e *Engine) Assign(experiment *entities.Experiment, subjectID string, algorithm entities.AllocationAlgorithm) (*entities.ExperimentVariant, error) {
	control := experiment.Control()
	active := experiment.ActiveVariants()
	if len(active) == 0 {
		if control == nil {
			return nil, apperrors.NewValidationError("experiment has no variants to assign")
		}
		return control, nil
	}

	var chosen *entities.ExperimentVariant
	switch algorithm {
	case entities.AllocationHash:
		chosen = Walk(active, HashPoint(experiment.ID, subjectID))
	case entities.AllocationAdaptive:
		chosen = ThompsonSample(active, e)
	case entities.AllocationRandom:
		chosen = Walk(active, e.Float64()*100)
	default:
		return nil, apperrors.NewValidationError("unknown allocation algorithm: " + string(algorithm))
	}

	if chosen != nil {
		return chosen, nil
	}
	if control != nil {
		return control, nil
	}
	return active[0], nil
}

// Walk accumulates traffic percentages in order and returns the first
// variant whose cumulative bound reaches point, or nil if none does.
// Variants with no traffic are never chosen.
func Walk(variants []*entities.ExperimentVariant, point float64) *entities.ExperimentVariant {
	var cumulative float64
	for _, v := range variants {
		if v.TrafficPercentage <= 0 {
			continue
		}
		cumulative += v.TrafficPercentage
		if cumulative >= point {
			return v
		}
	}
	return nil
}

// HashPoint maps (experimentID, subjectID) onto [0, 100) with two decimal
// places of resolution. The result is stable across processes.
func HashPoint(experimentID, subjectID string) float64 {
	sum := md5.Sum([]byte(experimentID + subjectID))
	bucket := binary.BigEndian.Uint32(sum[:4]) % 10000
	return float64(bucket) / 100
}

// ThompsonSample draws conversion rate from each variant's Beta posterior
// and returns the variant with the highest draw. Earlier variants win ties.
func ThompsonSample(variants []*entities.ExperimentVariant, src statistics.Source) *entities.ExperimentVariant {
	var best *entities.ExperimentVariant
	bestDraw := -1.0
	for _, v := range variants {
		failures := v.Impressions - v.Conversions
		if failures < 0 {
			failures = 0
		}
		draw := statistics.Beta(src, float64(v.Conversions+1), float64(failures+1))
		if draw > bestDraw {
			best, bestDraw = v, draw
		}
	}
	return best
}
