// Package powtarget implements the big-integer target arithmetic of
// spec §4.1: difficulty<->target conversion and the "does this hash meet
// this target" comparison that gates every mined or received block.
package powtarget

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/daglabs/powvote-node/internal/chainhash"
)

// MaxTarget is the loosest possible target (difficulty == 1), the
// ceiling every other target is derived from division against.
var MaxTarget = func() *big.Int {
	// 2^255 - 1, following the btcd-family convention of a one-bit-shy-of-
	// full-width proof-of-work ceiling (see dagconfig.mainPowLimit in the
	// teacher repo).
	t := new(big.Int).Lsh(big.NewInt(1), 255)
	return t.Sub(t, big.NewInt(1))
}()

// FromDifficulty computes target = MAX_TARGET / floor(difficulty).
// Fails if difficulty <= 0 (spec §4.1).
func FromDifficulty(difficulty float64) (*big.Int, error) {
	if difficulty <= 0 {
		return nil, errors.Errorf("difficulty must be positive, got %f", difficulty)
	}
	floor := new(big.Int).SetInt64(int64(difficulty))
	if floor.Sign() == 0 {
		// difficulty in (0,1) floors to zero; treat as difficulty 1 the
		// same way the target never divides by zero.
		floor = big.NewInt(1)
	}
	target := new(big.Int).Div(MaxTarget, floor)
	return target, nil
}

// ToDifficulty computes the inverse conversion, target -> difficulty.
func ToDifficulty(target *big.Int) float64 {
	if target == nil || target.Sign() <= 0 {
		return 0
	}
	quotient := new(big.Rat).SetFrac(MaxTarget, target)
	f, _ := quotient.Float64()
	return f
}

// HashToBig interprets a hash as an unsigned big-endian 256-bit integer
// (spec §4.1 meets_target, §6.1 "Target comparison").
func HashToBig(h chainhash.Hash) *big.Int {
	// chainhash.Hash is stored the same way it's displayed: big-endian.
	return new(big.Int).SetBytes(h[:])
}

// MeetsTarget reports whether hash, interpreted as an unsigned 256-bit
// big-endian integer, is less than or equal to target.
func MeetsTarget(h chainhash.Hash, target *big.Int) bool {
	if target == nil {
		return false
	}
	return HashToBig(h).Cmp(target) <= 0
}
