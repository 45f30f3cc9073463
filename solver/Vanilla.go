package solver

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// VanillaConfig implements the configuration of a vanilla
// stochastic gradient descent solver.
type VanillaConfig struct {
	StepSize float64
}

// NewVanilla returns a new vanilla gradient descent solver. Gradients
// are clipped to maxGradNorm before each step if maxGradNorm > 0.
func NewVanilla(stepSize, maxGradNorm float64) (*Solver, error) {
	config := VanillaConfig{StepSize: stepSize}
	return newSolver(Vanilla, config, maxGradNorm)
}

// Create returns a new vanilla gradient descent stepper
func (v VanillaConfig) Create() stepper {
	return &vanilla{lr: v.StepSize}
}

// ValidType returns whether t is a valid type for this configuration
func (v VanillaConfig) ValidType(t Type) bool {
	return t == Vanilla
}

// vanilla implements plain stochastic gradient descent
type vanilla struct {
	lr float64
}

func (v *vanilla) step(model []G.ValueGrad) error {
	for _, learnable := range model {
		weights, err := weightData(learnable)
		if err != nil {
			return fmt.Errorf("step: %v", err)
		}
		grad, err := gradData(learnable)
		if err != nil {
			return fmt.Errorf("step: %v", err)
		}
		for i := range weights {
			weights[i] -= v.lr * grad[i]
		}
	}
	return nil
}

func (v *vanilla) setStepSize(stepSize float64) { v.lr = stepSize }

func (v *vanilla) stepSize() float64 { return v.lr }
