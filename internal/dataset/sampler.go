package dataset

import "math/rand"

// Sampler splits record indices into minibatches.
type Sampler struct {
	BatchSize int
	Shuffle   bool
	DropLast  bool
	rng       *rand.Rand
}

// NewSampler returns a sampler. A zero seed falls back to 42 so shuffled
// runs stay reproducible.
func NewSampler(batchSize int, shuffle bool, seed int64) *Sampler {
	if batchSize <= 0 {
		batchSize = 1
	}
	if seed == 0 {
		seed = 42
	}
	return &Sampler{
		BatchSize: batchSize,
		Shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Batches returns the index batches of one epoch over n records. Shuffled
// samplers produce a new permutation on every call.
func (s *Sampler) Batches(n int) [][]int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if s.Shuffle {
		s.rng.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}
	var out [][]int
	for start := 0; start < n; start += s.BatchSize {
		end := min(start+s.BatchSize, n)
		if end-start < s.BatchSize && s.DropLast {
			break
		}
		out = append(out, indices[start:end])
	}
	return out
}
