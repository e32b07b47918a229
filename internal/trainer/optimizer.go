package trainer

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"digitforge/internal/model"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Update(params []*model.Parameter)
}

// Adam implements adaptive moment estimation.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step int
	m, v map[*model.Parameter][]float64
}

// NewAdam returns Adam with learning rate 0.001, betas 0.9/0.999 and epsilon
// 1e-8.
func NewAdam() *Adam {
	return &Adam{LearningRate: 0.001, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

// Update implements Optimizer.
func (a *Adam) Update(params []*model.Parameter) {
	if a.m == nil {
		a.m = make(map[*model.Parameter][]float64)
		a.v = make(map[*model.Parameter][]float64)
	}
	a.step++
	c1 := 1 - math.Pow(a.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.Beta2, float64(a.step))
	for _, p := range params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m, ok := a.m[p]
		if !ok {
			m = make([]float64, len(w))
			a.m[p] = m
			a.v[p] = make([]float64, len(w))
		}
		v := a.v[p]
		for i, gi := range g {
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*gi
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*gi*gi
			w[i] -= a.LearningRate * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.Epsilon)
		}
	}
}

// SGD is stochastic gradient descent with optional momentum.
type SGD struct {
	LearningRate float64
	Momentum     float64

	velocity map[*model.Parameter][]float64
}

// NewSGD returns plain SGD.
func NewSGD(lr, momentum float64) *SGD {
	return &SGD{LearningRate: lr, Momentum: momentum}
}

// Update implements Optimizer.
func (s *SGD) Update(params []*model.Parameter) {
	if s.velocity == nil {
		s.velocity = make(map[*model.Parameter][]float64)
	}
	for _, p := range params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		if s.Momentum == 0 {
			floats.AddScaled(w, -s.LearningRate, g)
			continue
		}
		vel, ok := s.velocity[p]
		if !ok {
			vel = make([]float64, len(w))
			s.velocity[p] = vel
		}
		floats.Scale(s.Momentum, vel)
		floats.AddScaled(vel, -s.LearningRate, g)
		floats.Add(w, vel)
	}
}
