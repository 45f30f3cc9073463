package a2c

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"

	"github.com/hzyjerry/onpolicy/policy"
	"github.com/hzyjerry/onpolicy/rollout"
	"github.com/hzyjerry/onpolicy/solver"
)

const (
	testNumSteps   int = 5
	testNumWorkers int = 3
	testObsDim     int = 4
	testNumActions int = 2
)

// newTestWindow fills a storage with a complete window of random
// transitions and computes its returns.
func newTestWindow(t *testing.T, seed uint64) *rollout.Storage {
	s, err := rollout.New(testNumSteps, testNumWorkers, testObsDim, 1, 0,
		seed)
	if err != nil {
		t.Fatalf("could not create storage: %v", err)
	}

	rng := rand.New(rand.NewSource(seed))
	randObs := func() []float64 {
		obs := make([]float64, testNumWorkers*testObsDim)
		for i := range obs {
			obs[i] = rng.NormFloat64()
		}
		return obs
	}
	ones := []float64{1, 1, 1}

	if err := s.CopyFirst(0, randObs(), nil, ones); err != nil {
		t.Fatalf("could not seed first slot: %v", err)
	}
	for step := 0; step < testNumSteps; step++ {
		actions := make([]float64, testNumWorkers)
		logProbs := make([]float64, testNumWorkers)
		values := make([]float64, testNumWorkers)
		rewards := make([]float64, testNumWorkers)
		for w := range actions {
			actions[w] = float64(rng.Intn(testNumActions))
			logProbs[w] = math.Log(0.5)
			values[w] = rng.NormFloat64()
			rewards[w] = rng.Float64()
		}
		err := s.Insert(0, randObs(), nil, actions, logProbs, values,
			rewards, ones)
		if err != nil {
			t.Fatalf("could not insert step %v: %v", step, err)
		}
	}

	bootstrap := make([]float64, testNumWorkers)
	if err := s.ComputeReturns(bootstrap, false, 0.99, 0.95); err != nil {
		t.Fatalf("could not compute returns: %v", err)
	}
	return s
}

func newTestUpdater(t *testing.T) (*A2C, *policy.CategoricalMLP) {
	pol, err := policy.NewCategoricalMLP(testObsDim, testNumActions,
		testNumWorkers, []int{8}, 1)
	if err != nil {
		t.Fatalf("could not create policy: %v", err)
	}
	sol, err := solver.NewRMSProp(7e-4, 0.99, 1e-5, 0.5)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}

	a, err := New(pol, sol, testNumSteps, testNumWorkers, 0.5, 0.01)
	if err != nil {
		t.Fatalf("could not create updater: %v", err)
	}
	return a, pol
}

func TestUpdateImprovesPolicyInPlace(t *testing.T) {
	a, pol := newTestUpdater(t)
	s := newTestWindow(t, 2)

	policyBefore := append([]float64{},
		pol.PolicyNet().Learnables()[0].Value().Data().([]float64)...)
	valueBefore := append([]float64{},
		pol.ValueNet().Learnables()[0].Value().Data().([]float64)...)

	losses, err := a.Update(s)
	if err != nil {
		t.Fatalf("could not update: %v", err)
	}

	for _, loss := range []float64{losses.Value, losses.Action,
		losses.Entropy} {
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			t.Errorf("non-finite loss: %+v", losses)
		}
	}
	if losses.Value < 0 {
		t.Errorf("squared value loss cannot be negative: %v",
			losses.Value)
	}
	if losses.Entropy < 0 ||
		losses.Entropy > math.Log(float64(testNumActions))+1e-8 {
		t.Errorf("entropy out of range [0, ln %v]: %v", testNumActions,
			losses.Entropy)
	}

	policyAfter := pol.PolicyNet().Learnables()[0].Value().
		Data().([]float64)
	valueAfter := pol.ValueNet().Learnables()[0].Value().
		Data().([]float64)
	if floats.Equal(policyBefore, policyAfter) {
		t.Error("update did not change the behaviour policy weights")
	}
	if floats.Equal(valueBefore, valueAfter) {
		t.Error("update did not change the behaviour critic weights")
	}
}

func TestRepeatedUpdatesStayFinite(t *testing.T) {
	a, _ := newTestUpdater(t)

	for i := 0; i < 5; i++ {
		s := newTestWindow(t, uint64(i+1))
		losses, err := a.Update(s)
		if err != nil {
			t.Fatalf("could not update on window %v: %v", i, err)
		}
		for _, loss := range []float64{losses.Value, losses.Action,
			losses.Entropy} {
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				t.Fatalf("non-finite loss on window %v: %+v", i, losses)
			}
		}
	}
}

func TestUpdateRejectsMismatchedWindow(t *testing.T) {
	a, _ := newTestUpdater(t)

	s, err := rollout.New(testNumSteps, testNumWorkers+1, testObsDim, 1,
		0, 1)
	if err != nil {
		t.Fatalf("could not create storage: %v", err)
	}
	if _, err := a.Update(s); err == nil {
		t.Error("expected an error for a mismatched window")
	}
}

func TestSetStepSize(t *testing.T) {
	a, _ := newTestUpdater(t)

	a.SetStepSize(1e-4)
	if a.sol.StepSize() != 1e-4 {
		t.Errorf("unexpected step size \n\twant(%v) \n\thave(%v)",
			1e-4, a.sol.StepSize())
	}
}
