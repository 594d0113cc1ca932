package catalog

import (
	"math/rand/v2"

	"github.com/okian/lunchvote/internal/domain/model"
)

// pcgIncrement is the fixed second PCG word; only the seed varies per day.
const pcgIncrement = 0x9e3779b97f4a7c15

// Order returns a permutation of options that depends only on seed.
// The input slice is left untouched.
func Order(seed int64, options []model.Option) []model.Option {
	out := make([]model.Option, len(options))
	copy(out, options)
	if len(out) < 2 {
		return out
	}

	// Fisher-Yates over raw PCG output keeps the permutation stable across
	// Go releases; rand.Shuffle makes no such promise.
	src := rand.NewPCG(uint64(seed), pcgIncrement) //nolint:gosec // deterministic by contract
	for i := len(out) - 1; i > 0; i-- {
		j := int(src.Uint64() % uint64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}
