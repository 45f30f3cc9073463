package rollout

import (
	"math"
	"testing"
)

const (
	testSteps   = 4
	testWorkers = 2
	testObsDim  = 3
	testActDim  = 1
	testHidDim  = 2
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(testSteps, testWorkers, testObsDim, testActDim, testHidDim,
		42)
	if err != nil {
		t.Fatalf("could not create storage: %v", err)
	}
	return s
}

// fillWindow inserts a full window where every per-step quantity is a
// deterministic function of (t, w).
func fillWindow(t *testing.T, s *Storage, reward, value,
	mask func(t, w int) float64) {
	t.Helper()

	W := s.Width()
	firstObs := make([]float64, W*s.ObsDim())
	firstHidden := make([]float64, W*s.HiddenDim())
	firstMasks := make([]float64, W)
	for w := range firstMasks {
		firstMasks[w] = 1
	}
	if err := s.CopyFirst(0, firstObs, firstHidden, firstMasks); err != nil {
		t.Fatalf("could not copy first slots: %v", err)
	}

	for step := 0; step < s.NumSteps(); step++ {
		obs := make([]float64, W*s.ObsDim())
		hidden := make([]float64, W*s.HiddenDim())
		actions := make([]float64, W*s.ActionDim())
		logProbs := make([]float64, W)
		values := make([]float64, W)
		rewards := make([]float64, W)
		masks := make([]float64, W)
		for w := 0; w < W; w++ {
			obs[w*s.ObsDim()] = float64(step*W + w)
			rewards[w] = reward(step, w)
			values[w] = value(step, w)
			masks[w] = mask(step, w)
			logProbs[w] = float64(step*W + w)
		}
		err := s.Insert(0, obs, hidden, actions, logProbs, values, rewards,
			masks)
		if err != nil {
			t.Fatalf("could not insert step %v: %v", step, err)
		}
	}
}

func TestInsertPastHorizonFails(t *testing.T) {
	s := newTestStorage(t)
	fillWindow(t, s,
		func(int, int) float64 { return 1 },
		func(int, int) float64 { return 0 },
		func(int, int) float64 { return 1 })

	W := s.Width()
	err := s.Insert(0, make([]float64, W*testObsDim),
		make([]float64, W*testHidDim), make([]float64, W*testActDim),
		make([]float64, W), make([]float64, W), make([]float64, W),
		make([]float64, W))
	if !IsOutOfCapacity(err) {
		t.Fatalf("expected out-of-capacity error, got %v", err)
	}
}

func TestPlainReturnsMatchClosedForm(t *testing.T) {
	s := newTestStorage(t)
	gamma := 0.9
	bootstrapVal := 7.5

	reward := func(step, w int) float64 { return float64(step + 1 + w) }
	fillWindow(t, s, reward,
		func(int, int) float64 { return 0 },
		func(int, int) float64 { return 1 })

	bootstrap := []float64{bootstrapVal, bootstrapVal}
	if err := s.ComputeReturns(bootstrap, false, gamma, 0.95); err != nil {
		t.Fatalf("could not compute returns: %v", err)
	}

	// With no terminations, R_t = sum_k gamma^k r_{t+k} +
	// gamma^(T-t) * bootstrap.
	for w := 0; w < testWorkers; w++ {
		for step := 0; step < testSteps; step++ {
			want := 0.0
			for k := step; k < testSteps; k++ {
				want += math.Pow(gamma, float64(k-step)) * reward(k, w)
			}
			want += math.Pow(gamma, float64(testSteps-step)) * bootstrapVal

			if got := s.Returns(step, w); math.Abs(got-want) > 1e-12 {
				t.Errorf("step %v worker %v: expected %v, got %v", step, w,
					want, got)
			}
		}
	}
}

func TestGAEReturnsMatchDirectSum(t *testing.T) {
	s := newTestStorage(t)
	gamma, tau := 0.99, 0.95

	reward := func(step, w int) float64 { return float64(step) - 0.5*float64(w) }
	value := func(step, w int) float64 { return 0.1 * float64(step*testWorkers+w) }
	mask := func(step, w int) float64 {
		// Worker 1 terminates at step 2
		if step == 2 && w == 1 {
			return 0
		}
		return 1
	}
	fillWindow(t, s, reward, value, mask)

	bootstrap := []float64{2.0, -1.0}
	if err := s.ComputeReturns(bootstrap, true, gamma, tau); err != nil {
		t.Fatalf("could not compute returns: %v", err)
	}

	// Directly compute A_t = sum_k (gamma*tau)^k delta_{t+k}, cutting
	// the sum at the first termination, and compare R_t = A_t + V_t.
	valueAt := func(step, w int) float64 {
		if step == testSteps {
			return bootstrap[w]
		}
		return value(step, w)
	}
	maskAfter := func(step, w int) float64 {
		// Continuation mask stored in slot step+1
		return mask(step, w)
	}
	for w := 0; w < testWorkers; w++ {
		for step := 0; step < testSteps; step++ {
			want := 0.0
			coef := 1.0
			for k := step; k < testSteps; k++ {
				delta := reward(k, w) +
					gamma*valueAt(k+1, w)*maskAfter(k, w) - value(k, w)
				want += coef * delta
				if maskAfter(k, w) == 0 {
					break
				}
				coef *= gamma * tau
			}
			want += value(step, w)

			if got := s.Returns(step, w); math.Abs(got-want) > 1e-10 {
				t.Errorf("step %v worker %v: expected %v, got %v", step, w,
					want, got)
			}
		}
	}
}

func TestTerminalMaskZeroesBootstrap(t *testing.T) {
	gamma := 0.95
	terminalStep := 1

	computeWith := func(bootstrapVal float64) *Storage {
		s := newTestStorage(t)
		fillWindow(t, s,
			func(step, w int) float64 { return float64(step + 1) },
			func(int, int) float64 { return 0.3 },
			func(step, w int) float64 {
				if step == terminalStep {
					return 0
				}
				return 1
			})
		bootstrap := []float64{bootstrapVal, bootstrapVal}
		if err := s.ComputeReturns(bootstrap, false, gamma, 0.95); err != nil {
			t.Fatalf("could not compute returns: %v", err)
		}
		return s
	}

	a := computeWith(0)
	b := computeWith(1234.5)

	// Returns at and before the terminal step must not see the
	// bootstrap value at all.
	for w := 0; w < testWorkers; w++ {
		for step := 0; step <= terminalStep; step++ {
			if a.Returns(step, w) != b.Returns(step, w) {
				t.Errorf("step %v worker %v: return depends on bootstrap "+
					"across a terminal: %v != %v", step, w,
					a.Returns(step, w), b.Returns(step, w))
			}
		}
	}

	// Past the terminal the bootstrap must still flow.
	if a.Returns(terminalStep+1, 0) == b.Returns(terminalStep+1, 0) {
		t.Error("return after the terminal should depend on bootstrap")
	}
}

func TestAfterUpdateCarriesFinalSlot(t *testing.T) {
	s := newTestStorage(t)
	fillWindow(t, s,
		func(step, w int) float64 { return 1 },
		func(int, int) float64 { return 0 },
		func(step, w int) float64 {
			if step == testSteps-1 && w == 0 {
				return 0
			}
			return 1
		})

	wantObs := s.LastObs()
	wantHidden := s.LastHidden()
	wantMasks := s.LastMasks()

	s.AfterUpdate()

	gotObs := s.FirstObs(0, testWorkers)
	for i := range wantObs {
		if gotObs[i] != wantObs[i] {
			t.Fatalf("obs slot 0 not carried over at %v: %v != %v", i,
				gotObs[i], wantObs[i])
		}
	}
	for w := 0; w < testWorkers; w++ {
		if s.Mask(0, w) != wantMasks[w] {
			t.Errorf("mask slot 0 not carried for worker %v", w)
		}
	}
	for i, h := range s.hidden[:testWorkers*testHidDim] {
		if h != wantHidden[i] {
			t.Errorf("hidden slot 0 not carried at %v", i)
		}
	}

	// A fresh all-zero window must not leak returns from before the
	// reset.
	fillWindow(t, s,
		func(int, int) float64 { return 0 },
		func(int, int) float64 { return 0 },
		func(int, int) float64 { return 1 })
	if err := s.ComputeReturns([]float64{0, 0}, false, 0.99, 0.95); err != nil {
		t.Fatalf("could not compute returns: %v", err)
	}
	for w := 0; w < testWorkers; w++ {
		for step := 0; step < testSteps; step++ {
			if s.Returns(step, w) != 0 {
				t.Errorf("stale return at step %v worker %v: %v", step, w,
					s.Returns(step, w))
			}
		}
	}
}

func TestRewindAllowsRecollection(t *testing.T) {
	s := newTestStorage(t)
	fillWindow(t, s,
		func(int, int) float64 { return 1 },
		func(int, int) float64 { return 0 },
		func(int, int) float64 { return 1 })

	s.Rewind()
	fillWindow(t, s,
		func(int, int) float64 { return 2 },
		func(int, int) float64 { return 0 },
		func(int, int) float64 { return 1 })

	if err := s.ComputeReturns([]float64{0, 0}, false, 1.0, 0.95); err != nil {
		t.Fatalf("could not compute returns: %v", err)
	}
	// Undiscounted return of 4 steps of reward 2
	if got := s.Returns(0, 0); got != 8 {
		t.Errorf("expected recollected return 8, got %v", got)
	}
}

func TestNormalizedAdvantagesAreStandardized(t *testing.T) {
	s := newTestStorage(t)
	fillWindow(t, s,
		func(step, w int) float64 { return float64(step*step + w) },
		func(step, w int) float64 { return float64(w) },
		func(int, int) float64 { return 1 })
	if err := s.ComputeReturns([]float64{1, 2}, true, 0.99, 0.95); err != nil {
		t.Fatalf("could not compute returns: %v", err)
	}

	adv := s.NormalizedAdvantages()
	var mean float64
	for _, a := range adv {
		mean += a
	}
	mean /= float64(len(adv))
	if math.Abs(mean) > 1e-10 {
		t.Errorf("expected zero mean, got %v", mean)
	}

	var variance float64
	for _, a := range adv {
		variance += (a - mean) * (a - mean)
	}
	std := math.Sqrt(variance / float64(len(adv)-1))
	if math.Abs(std-1) > 1e-6 {
		t.Errorf("expected unit standard deviation, got %v", std)
	}
}

func TestNormalizedAdvantagesDegenerateBatch(t *testing.T) {
	s := newTestStorage(t)
	// Constant rewards and zero values with gamma 0 give identical
	// advantages everywhere.
	fillWindow(t, s,
		func(int, int) float64 { return 3 },
		func(int, int) float64 { return 0 },
		func(int, int) float64 { return 1 })
	if err := s.ComputeReturns([]float64{0, 0}, false, 0, 0); err != nil {
		t.Fatalf("could not compute returns: %v", err)
	}

	for i, a := range s.NormalizedAdvantages() {
		if math.IsNaN(a) || math.IsInf(a, 0) {
			t.Fatalf("advantage %v is not finite: %v", i, a)
		}
	}
}

func TestComputeReturnsOnPartialWindowFails(t *testing.T) {
	s := newTestStorage(t)
	if err := s.ComputeReturns([]float64{0, 0}, true, 0.99, 0.95); err == nil {
		t.Error("expected error computing returns on an empty window")
	}
}
