package partition

import (
	"fmt"
	"math/rand/v2"

	"github.com/aristath/quantlab/internal/domain"
)

// IIDIndices draws size indices in [0, n) uniformly with replacement
func IIDIndices(n, size int, rng *rand.Rand) ([]int, error) {
	if n < 1 {
		return nil, domain.Insufficient("cannot resample an empty series")
	}
	if size < 1 {
		return nil, domain.Invalid("resample size must be >= 1, got %d", size)
	}
	out := make([]int, size)
	for i := range out {
		out[i] = rng.IntN(n)
	}
	return out, nil
}

// BlockIndices concatenates contiguous blocks of blockSize observations whose
// starts are drawn uniformly with replacement from [0, n-blockSize], until size
// indices are collected. The last block is truncated.
func BlockIndices(n, blockSize, size int, rng *rand.Rand) ([]int, error) {
	if blockSize < 1 {
		return nil, domain.Invalid("block size must be >= 1, got %d", blockSize)
	}
	if blockSize > n {
		return nil, domain.Insufficient("block size %d exceeds series length %d", blockSize, n)
	}
	if size < 1 {
		return nil, domain.Invalid("resample size must be >= 1, got %d", size)
	}
	out := make([]int, 0, size)
	starts := n - blockSize + 1
	for len(out) < size {
		start := rng.IntN(starts)
		for k := 0; k < blockSize && len(out) < size; k++ {
			out = append(out, start+k)
		}
	}
	return out, nil
}

// IIDResample builds a resampled history of s with the same length
func IIDResample(s *domain.ReturnSeries, iteration int, rng *rand.Rand) (*domain.ReturnSeries, error) {
	idx, err := IIDIndices(s.Len(), s.Len(), rng)
	if err != nil {
		return nil, err
	}
	return s.Rebased(fmt.Sprintf("%s#iid%d", s.Name(), iteration), idx)
}

// BlockResample builds a block-bootstrapped history of s with the same length
func BlockResample(s *domain.ReturnSeries, blockSize, iteration int, rng *rand.Rand) (*domain.ReturnSeries, error) {
	idx, err := BlockIndices(s.Len(), blockSize, s.Len(), rng)
	if err != nil {
		return nil, err
	}
	return s.Rebased(fmt.Sprintf("%s#block%d", s.Name(), iteration), idx)
}
