package solver

import (
	"encoding/json"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// runQuadratic builds a graph computing sum(w^2) for a single vector
// learnable, runs one forward-backward pass, and returns the learnable.
// The gradient is 2w.
func runQuadratic(t *testing.T, init []float64) *G.Node {
	g := G.NewGraph()
	wVal := tensor.New(
		tensor.WithShape(len(init)),
		tensor.WithBacking(append([]float64{}, init...)),
	)
	w := G.NewVector(g, G.Float64, G.WithShape(len(init)),
		G.WithName("w"), G.WithValue(wVal))

	loss := G.Must(G.Sum(G.Must(G.Square(w))))
	if _, err := G.Grad(loss, w); err != nil {
		t.Fatalf("could not compute gradient: %v", err)
	}

	vm := G.NewTapeMachine(g, G.BindDualValues(w))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("could not run graph: %v", err)
	}
	return w
}

func TestVanillaStep(t *testing.T) {
	w := runQuadratic(t, []float64{1.0, -2.0, 3.0})

	solver, err := NewVanilla(0.1, 0)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}
	if err := solver.Step([]G.ValueGrad{w}); err != nil {
		t.Fatalf("could not step: %v", err)
	}

	// w' = w - 0.1 * 2w = 0.8w
	expected := []float64{0.8, -1.6, 2.4}
	got := w.Value().Data().([]float64)
	if !floats.EqualApprox(expected, got, 1e-10) {
		t.Errorf("unexpected weights after step \n\twant(%v) \n\thave(%v)",
			expected, got)
	}
}

func TestClipGradNorm(t *testing.T) {
	// Gradient of sum(w^2) at w = (3, 4) is (6, 8), norm 10
	w := runQuadratic(t, []float64{3.0, 4.0})

	if err := ClipGradNorm([]G.ValueGrad{w}, 5.0); err != nil {
		t.Fatalf("could not clip gradients: %v", err)
	}

	grad, err := w.Grad()
	if err != nil {
		t.Fatalf("could not get gradient: %v", err)
	}
	expected := []float64{3.0, 4.0}
	got := grad.Data().([]float64)
	if !floats.EqualApprox(expected, got, 1e-10) {
		t.Errorf("unexpected clipped gradient \n\twant(%v) \n\thave(%v)",
			expected, got)
	}
}

func TestClipGradNormBelowThresholdUnchanged(t *testing.T) {
	w := runQuadratic(t, []float64{3.0, 4.0})

	if err := ClipGradNorm([]G.ValueGrad{w}, 100.0); err != nil {
		t.Fatalf("could not clip gradients: %v", err)
	}

	grad, err := w.Grad()
	if err != nil {
		t.Fatalf("could not get gradient: %v", err)
	}
	expected := []float64{6.0, 8.0}
	got := grad.Data().([]float64)
	if !floats.EqualApprox(expected, got, 1e-10) {
		t.Errorf("gradient below threshold should be unchanged "+
			"\n\twant(%v) \n\thave(%v)", expected, got)
	}
}

func TestAdamFirstStepMovesByStepSize(t *testing.T) {
	w := runQuadratic(t, []float64{1.0, -2.0})

	stepSize := 0.01
	solver, err := NewAdam(stepSize, 1e-8, 0)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}
	if err := solver.Step([]G.ValueGrad{w}); err != nil {
		t.Fatalf("could not step: %v", err)
	}

	// On the first step the bias-corrected moments cancel the gradient
	// magnitude, so each weight moves by approximately stepSize against
	// the gradient sign.
	expected := []float64{1.0 - stepSize, -2.0 + stepSize}
	got := w.Value().Data().([]float64)
	if !floats.EqualApprox(expected, got, 1e-6) {
		t.Errorf("unexpected weights after step \n\twant(%v) \n\thave(%v)",
			expected, got)
	}
}

func TestSetStepSizeKeepsMomentState(t *testing.T) {
	w := runQuadratic(t, []float64{1.0})

	solver, err := NewRMSProp(0.1, 0.99, 1e-5, 0)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}
	if err := solver.Step([]G.ValueGrad{w}); err != nil {
		t.Fatalf("could not step: %v", err)
	}

	solver.SetStepSize(0.05)
	if solver.StepSize() != 0.05 {
		t.Errorf("unexpected step size \n\twant(%v) \n\thave(%v)",
			0.05, solver.StepSize())
	}

	// The squared-gradient cache survives the step size change, so the
	// second step's denominator carries the first step's contribution.
	// The recorded gradient at w = 1 is 2, giving a cache of
	// 0.01 * 4 after the first step and 0.99 * 0.04 + 0.01 * 4 after
	// the second.
	before := w.Value().Data().([]float64)[0]
	if err := solver.Step([]G.ValueGrad{w}); err != nil {
		t.Fatalf("could not step after changing step size: %v", err)
	}
	after := w.Value().Data().([]float64)[0]

	cache := 0.99*0.04 + 0.01*4.0
	expected := 0.05 * 2.0 / (math.Sqrt(cache) + 1e-5)
	if math.Abs((before-after)-expected) > 1e-10 {
		t.Errorf("unexpected step after changing step size "+
			"\n\twant(%v) \n\thave(%v)", expected, before-after)
	}
}

func TestSolverJSON(t *testing.T) {
	solver, err := NewAdam(0.001, 1e-5, 0.5)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}

	data, err := json.Marshal(solver)
	if err != nil {
		t.Fatalf("could not marshal solver: %v", err)
	}

	var loaded Solver
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("could not unmarshal solver: %v", err)
	}

	if loaded.Type != Adam {
		t.Errorf("unexpected solver type \n\twant(%v) \n\thave(%v)",
			Adam, loaded.Type)
	}
	if loaded.MaxGradNorm != 0.5 {
		t.Errorf("unexpected gradient norm \n\twant(%v) \n\thave(%v)",
			0.5, loaded.MaxGradNorm)
	}
	if loaded.StepSize() != 0.001 {
		t.Errorf("unexpected step size \n\twant(%v) \n\thave(%v)",
			0.001, loaded.StepSize())
	}
}
