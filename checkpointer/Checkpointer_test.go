package checkpointer

import (
	"testing"

	"gonum.org/v1/gonum/floats"

	"github.com/hzyjerry/onpolicy/environment/wrappers"
	"github.com/hzyjerry/onpolicy/policy"
)

func TestTimeToCheckpoint(t *testing.T) {
	n, err := NewNStep(10, 25, t.TempDir(), "Cartpole")
	if err != nil {
		t.Fatalf("could not create checkpointer: %v", err)
	}

	tests := []struct {
		update int
		save   bool
	}{
		{0, true},
		{1, false},
		{10, true},
		{19, false},
		{20, true},
		{24, true}, // final update of the run
	}
	for _, test := range tests {
		if n.TimeToCheckpoint(test.update) != test.save {
			t.Errorf("unexpected decision at update %v \n\twant(%v) "+
				"\n\thave(%v)", test.update, test.save, !test.save)
		}
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	n, err := NewNStep(1, 10, t.TempDir(), "Cartpole")
	if err != nil {
		t.Fatalf("could not create checkpointer: %v", err)
	}

	pol, err := policy.NewCategoricalMLP(4, 2, 3, []int{8}, 1)
	if err != nil {
		t.Fatalf("could not create policy: %v", err)
	}
	stats := wrappers.NewRunningMeanStd(4)
	stats.Update([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 2)

	if err := n.Checkpoint(0, pol, stats); err != nil {
		t.Fatalf("could not checkpoint: %v", err)
	}

	loaded, err := Load(n.Path())
	if err != nil {
		t.Fatalf("could not load checkpoint: %v", err)
	}

	if !floats.EqualApprox(stats.Mean, loaded.ObsStats.Mean, 1e-12) {
		t.Errorf("statistics changed through the round trip "+
			"\n\twant(%v) \n\thave(%v)", stats.Mean, loaded.ObsStats.Mean)
	}

	obs := make([]float64, 4*3)
	for i := range obs {
		obs[i] = float64(i) / 10
	}
	expected, _, _, _, err := pol.Act(obs, nil, nil, true)
	if err != nil {
		t.Fatalf("could not act: %v", err)
	}
	values, _, _, _, err := loaded.Policy.Act(obs, nil, nil, true)
	if err != nil {
		t.Fatalf("could not act with loaded policy: %v", err)
	}
	if !floats.EqualApprox(expected, values, 1e-10) {
		t.Errorf("policy changed through the round trip \n\twant(%v) "+
			"\n\thave(%v)", expected, values)
	}
}

func TestSkippedUpdateWritesNothing(t *testing.T) {
	dir := t.TempDir()
	n, err := NewNStep(10, 100, dir, "Cartpole")
	if err != nil {
		t.Fatalf("could not create checkpointer: %v", err)
	}

	pol, err := policy.NewCategoricalMLP(4, 2, 1, []int{4}, 1)
	if err != nil {
		t.Fatalf("could not create policy: %v", err)
	}
	if err := n.Checkpoint(5, pol, nil); err != nil {
		t.Fatalf("could not run checkpoint gate: %v", err)
	}

	if _, err := Load(n.Path()); err == nil {
		t.Error("expected no checkpoint file for a skipped update")
	}
}
