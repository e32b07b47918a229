package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Initializer fills a parameter before training.
type Initializer interface {
	Initialize(p *mat.Dense, fanIn, fanOut int, rng *rand.Rand)
}

// XavierInitializer draws uniformly from ±sqrt(6 / (fanIn + fanOut)).
type XavierInitializer struct{}

// Initialize implements Initializer.
func (XavierInitializer) Initialize(p *mat.Dense, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	fill(p, func() float64 { return (rng.Float64()*2 - 1) * limit })
}

// NormalInitializer draws from N(0, Sigma²).
type NormalInitializer struct {
	Sigma float64
}

// Initialize implements Initializer.
func (n NormalInitializer) Initialize(p *mat.Dense, _, _ int, rng *rand.Rand) {
	fill(p, func() float64 { return rng.NormFloat64() * n.Sigma })
}

// ConstantInitializer sets every element to Value.
type ConstantInitializer struct {
	Value float64
}

// Initialize implements Initializer.
func (c ConstantInitializer) Initialize(p *mat.Dense, _, _ int, _ *rand.Rand) {
	fill(p, func() float64 { return c.Value })
}

// Zeros sets parameters to 0. Biases use it regardless of the model default.
var Zeros Initializer = ConstantInitializer{}

func fill(p *mat.Dense, next func() float64) {
	rows, cols := p.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			p.Set(i, j, next())
		}
	}
}
