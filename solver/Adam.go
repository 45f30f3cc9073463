package solver

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
)

// AdamConfig implements the configuration of an Adam solver.
type AdamConfig struct {
	StepSize float64
	Epsilon  float64
	Beta1    float64
	Beta2    float64
}

// NewAdam returns a new Adam solver with default moment decay rates.
// Gradients are clipped to maxGradNorm before each step if
// maxGradNorm > 0.
func NewAdam(stepSize, epsilon, maxGradNorm float64) (*Solver, error) {
	config := AdamConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Beta1:    0.9,
		Beta2:    0.999,
	}
	return newSolver(Adam, config, maxGradNorm)
}

// Create returns a new Adam stepper
func (a AdamConfig) Create() stepper {
	return &adam{
		lr:    a.StepSize,
		eps:   a.Epsilon,
		beta1: a.Beta1,
		beta2: a.Beta2,
	}
}

// ValidType returns whether t is a valid type for this configuration
func (a AdamConfig) ValidType(t Type) bool {
	return t == Adam
}

// adam implements the Adam solver with bias-corrected first and
// second moment estimates per learnable.
type adam struct {
	lr    float64
	eps   float64
	beta1 float64
	beta2 float64

	steps int
	m     [][]float64
	v     [][]float64
}

func (a *adam) step(model []G.ValueGrad) error {
	if a.m == nil {
		a.m = make([][]float64, len(model))
		a.v = make([][]float64, len(model))
	}
	if len(a.m) != len(model) {
		return fmt.Errorf("step: model size changed between steps "+
			"\n\twant(%v) \n\thave(%v)", len(a.m), len(model))
	}

	a.steps++
	correction1 := 1 - math.Pow(a.beta1, float64(a.steps))
	correction2 := 1 - math.Pow(a.beta2, float64(a.steps))

	for i, learnable := range model {
		weights, err := weightData(learnable)
		if err != nil {
			return fmt.Errorf("step: %v", err)
		}
		grad, err := gradData(learnable)
		if err != nil {
			return fmt.Errorf("step: %v", err)
		}
		if a.m[i] == nil {
			a.m[i] = make([]float64, len(weights))
			a.v[i] = make([]float64, len(weights))
		}

		m, v := a.m[i], a.v[i]
		for j := range weights {
			m[j] = a.beta1*m[j] + (1-a.beta1)*grad[j]
			v[j] = a.beta2*v[j] + (1-a.beta2)*grad[j]*grad[j]

			mHat := m[j] / correction1
			vHat := v[j] / correction2
			weights[j] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
	return nil
}

func (a *adam) setStepSize(stepSize float64) { a.lr = stepSize }

func (a *adam) stepSize() float64 { return a.lr }
