package solver

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
)

// RMSPropConfig implements the configuration of an RMSProp solver.
type RMSPropConfig struct {
	StepSize float64
	Decay    float64
	Epsilon  float64
}

// NewRMSProp returns a new RMSProp solver. Gradients are clipped to
// maxGradNorm before each step if maxGradNorm > 0.
func NewRMSProp(stepSize, decay, epsilon, maxGradNorm float64) (*Solver,
	error) {
	if decay < 0 || decay >= 1 {
		return nil, fmt.Errorf("newrmsprop: decay must be in [0, 1), "+
			"got %v", decay)
	}
	config := RMSPropConfig{StepSize: stepSize, Decay: decay, Epsilon: epsilon}
	return newSolver(RMSProp, config, maxGradNorm)
}

// Create returns a new RMSProp stepper
func (r RMSPropConfig) Create() stepper {
	return &rmsProp{lr: r.StepSize, decay: r.Decay, eps: r.Epsilon}
}

// ValidType returns whether t is a valid type for this configuration
func (r RMSPropConfig) ValidType(t Type) bool {
	return t == RMSProp
}

// rmsProp implements RMSProp with a running average of squared
// gradients per learnable.
type rmsProp struct {
	lr    float64
	decay float64
	eps   float64

	cache [][]float64
}

func (r *rmsProp) step(model []G.ValueGrad) error {
	if r.cache == nil {
		r.cache = make([][]float64, len(model))
	}
	if len(r.cache) != len(model) {
		return fmt.Errorf("step: model size changed between steps "+
			"\n\twant(%v) \n\thave(%v)", len(r.cache), len(model))
	}

	for i, learnable := range model {
		weights, err := weightData(learnable)
		if err != nil {
			return fmt.Errorf("step: %v", err)
		}
		grad, err := gradData(learnable)
		if err != nil {
			return fmt.Errorf("step: %v", err)
		}
		if r.cache[i] == nil {
			r.cache[i] = make([]float64, len(weights))
		}

		cache := r.cache[i]
		for j := range weights {
			cache[j] = r.decay*cache[j] + (1-r.decay)*grad[j]*grad[j]
			weights[j] -= r.lr * grad[j] / (math.Sqrt(cache[j]) + r.eps)
		}
	}
	return nil
}

func (r *rmsProp) setStepSize(stepSize float64) { r.lr = stepSize }

func (r *rmsProp) stepSize() float64 { return r.lr }
