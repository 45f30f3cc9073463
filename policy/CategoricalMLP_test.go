package policy

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

const (
	testObsDim     int = 4
	testNumActions int = 2
	testBatch      int = 3
)

func newTestPolicy(t *testing.T, seed uint64) *CategoricalMLP {
	p, err := NewCategoricalMLP(testObsDim, testNumActions, testBatch,
		[]int{8}, seed)
	if err != nil {
		t.Fatalf("could not create policy: %v", err)
	}
	return p
}

func testObs(seed uint64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	obs := make([]float64, testBatch*testObsDim)
	for i := range obs {
		obs[i] = rng.NormFloat64()
	}
	return obs
}

func TestActShapesAndRanges(t *testing.T) {
	p := newTestPolicy(t, 1)
	obs := testObs(2)

	values, actions, logProbs, newHidden, err := p.Act(obs, nil, nil,
		false)
	if err != nil {
		t.Fatalf("could not act: %v", err)
	}

	if len(values) != testBatch || len(actions) != testBatch ||
		len(logProbs) != testBatch {
		t.Fatalf("unexpected output sizes \n\twant(%v) \n\thave(%v, %v, "+
			"%v)", testBatch, len(values), len(actions), len(logProbs))
	}
	if len(newHidden) != 0 {
		t.Errorf("feed-forward policy should have no hidden state, "+
			"got size %v", len(newHidden))
	}
	for w, action := range actions {
		if action != math.Trunc(action) || action < 0 ||
			int(action) >= testNumActions {
			t.Errorf("invalid action for worker %v: %v", w, action)
		}
		if logProbs[w] > 0 {
			t.Errorf("log probability above 0 for worker %v: %v", w,
				logProbs[w])
		}
	}
}

func TestDeterministicActIsRepeatable(t *testing.T) {
	p := newTestPolicy(t, 1)
	obs := testObs(2)

	_, first, _, _, err := p.Act(obs, nil, nil, true)
	if err != nil {
		t.Fatalf("could not act: %v", err)
	}
	for i := 0; i < 5; i++ {
		_, actions, _, _, err := p.Act(obs, nil, nil, true)
		if err != nil {
			t.Fatalf("could not act: %v", err)
		}
		if !floats.Equal(first, actions) {
			t.Fatalf("deterministic actions changed between calls "+
				"\n\twant(%v) \n\thave(%v)", first, actions)
		}
	}
}

func TestEvaluateActionsConsistentWithAct(t *testing.T) {
	p := newTestPolicy(t, 3)
	obs := testObs(4)

	actValues, actions, actLogProbs, _, err := p.Act(obs, nil, nil, false)
	if err != nil {
		t.Fatalf("could not act: %v", err)
	}

	values, logProbs, entropy, err := p.EvaluateActions(obs, nil, nil,
		actions)
	if err != nil {
		t.Fatalf("could not evaluate actions: %v", err)
	}

	if !floats.EqualApprox(actValues, values, 1e-10) {
		t.Errorf("values differ between Act and EvaluateActions "+
			"\n\twant(%v) \n\thave(%v)", actValues, values)
	}
	if !floats.EqualApprox(actLogProbs, logProbs, 1e-10) {
		t.Errorf("log probabilities differ between Act and "+
			"EvaluateActions \n\twant(%v) \n\thave(%v)", actLogProbs,
			logProbs)
	}

	// Categorical entropy is bounded by the log of the action count
	if entropy < 0 || entropy > math.Log(float64(testNumActions))+1e-10 {
		t.Errorf("entropy out of range [0, ln %v]: %v", testNumActions,
			entropy)
	}
}

func TestGetValueMatchesAct(t *testing.T) {
	p := newTestPolicy(t, 5)
	obs := testObs(6)

	actValues, _, _, _, err := p.Act(obs, nil, nil, true)
	if err != nil {
		t.Fatalf("could not act: %v", err)
	}
	values, err := p.GetValue(obs, nil, nil)
	if err != nil {
		t.Fatalf("could not get values: %v", err)
	}

	if !floats.EqualApprox(actValues, values, 1e-10) {
		t.Errorf("values differ between Act and GetValue \n\twant(%v) "+
			"\n\thave(%v)", actValues, values)
	}
}

func TestGobRoundTripPreservesOutputs(t *testing.T) {
	p := newTestPolicy(t, 7)
	obs := testObs(8)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		t.Fatalf("could not encode policy: %v", err)
	}

	var loaded CategoricalMLP
	if err := gob.NewDecoder(&buf).Decode(&loaded); err != nil {
		t.Fatalf("could not decode policy: %v", err)
	}

	expected, expectedActions, _, _, err := p.Act(obs, nil, nil, true)
	if err != nil {
		t.Fatalf("could not act: %v", err)
	}
	values, actions, _, _, err := loaded.Act(obs, nil, nil, true)
	if err != nil {
		t.Fatalf("could not act with decoded policy: %v", err)
	}

	if !floats.EqualApprox(expected, values, 1e-10) {
		t.Errorf("values differ after decoding \n\twant(%v) \n\thave(%v)",
			expected, values)
	}
	if !floats.Equal(expectedActions, actions) {
		t.Errorf("actions differ after decoding \n\twant(%v) "+
			"\n\thave(%v)", expectedActions, actions)
	}
}
