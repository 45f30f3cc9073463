package solver

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
)

// ClipGradNorm rescales the gradients of model in place so that their
// global L2 norm is at most maxNorm.
func ClipGradNorm(model []G.ValueGrad, maxNorm float64) error {
	if maxNorm <= 0 {
		return fmt.Errorf("clipgradnorm: maxNorm must be positive, got %v",
			maxNorm)
	}

	sqNorm := 0.0
	for _, learnable := range model {
		grad, err := gradData(learnable)
		if err != nil {
			return fmt.Errorf("clipgradnorm: %v", err)
		}
		for _, g := range grad {
			sqNorm += g * g
		}
	}

	norm := math.Sqrt(sqNorm)
	if norm <= maxNorm {
		return nil
	}

	scale := maxNorm / norm
	for _, learnable := range model {
		grad, err := gradData(learnable)
		if err != nil {
			return fmt.Errorf("clipgradnorm: %v", err)
		}
		for i := range grad {
			grad[i] *= scale
		}
	}
	return nil
}

// weightData returns the backing slice of a learnable's value. Writes
// to the returned slice modify the learnable in place.
func weightData(learnable G.ValueGrad) ([]float64, error) {
	data, ok := learnable.Value().Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("weightdata: learnable is not float64 backed")
	}
	return data, nil
}

// gradData returns the backing slice of a learnable's gradient. Writes
// to the returned slice modify the gradient in place.
func gradData(learnable G.ValueGrad) ([]float64, error) {
	grad, err := learnable.Grad()
	if err != nil {
		return nil, fmt.Errorf("graddata: no gradient for learnable: %v", err)
	}
	data, ok := grad.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("graddata: gradient is not float64 backed")
	}
	return data, nil
}
