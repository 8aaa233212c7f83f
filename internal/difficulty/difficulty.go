// Package difficulty implements the retargeting algorithm of spec §4.4:
// every AdjustmentInterval blocks, recompute difficulty from the
// actual-vs-expected timespan, clamped and floored.
package difficulty

import (
	"github.com/pkg/errors"
)

const (
	// AdjustmentInterval is how often (in blocks) difficulty is
	// recomputed (spec §4.4, "e.g. 2016").
	AdjustmentInterval = 2016

	// InitialDifficulty is the genesis difficulty; the retarget floor is
	// InitialDifficulty/4 and never falls below it (spec §4.4).
	InitialDifficulty = 1.0

	// dampenerFactor is the source's unexplained 0.75 conservative
	// dampener. Preserved verbatim for behavioral equivalence per spec
	// §4.4 and §9's open question; treat it as a tunable, not a magic
	// constant to "fix".
	dampenerFactor = 0.75

	minClamp = 0.25
	maxClamp = 4.0
)

// Retarget computes the new difficulty given the old difficulty, the
// target average block time, the number of blocks in the adjustment
// window, and the actual wall-clock timespan (seconds) those blocks
// took.
//
//	expected := targetBlockTimeSeconds * interval
//	new := old * clamp(0.25, expected/actual * 0.75, 4.0)
//	floor := InitialDifficulty / 4
func Retarget(oldDifficulty float64, targetBlockTimeSeconds float64, interval int, actualTimespanSeconds float64) (float64, error) {
	if oldDifficulty <= 0 {
		return 0, errors.Errorf("old difficulty must be positive, got %f", oldDifficulty)
	}
	if actualTimespanSeconds <= 0 {
		return 0, errors.Errorf("actual timespan must be positive, got %f", actualTimespanSeconds)
	}
	if interval <= 0 {
		return 0, errors.Errorf("interval must be positive, got %d", interval)
	}

	expected := targetBlockTimeSeconds * float64(interval)
	ratio := (expected / actualTimespanSeconds) * dampenerFactor
	ratio = clamp(ratio, minClamp, maxClamp)

	newDifficulty := oldDifficulty * ratio
	floor := InitialDifficulty / 4
	if newDifficulty < floor {
		newDifficulty = floor
	}
	return newDifficulty, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
