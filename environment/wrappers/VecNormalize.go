package wrappers

import (
	"fmt"
	"math"

	"github.com/hzyjerry/onpolicy/environment"
	"github.com/hzyjerry/onpolicy/utils/floatutils"
)

const (
	// normEpsilon guards the variance denominator
	normEpsilon float64 = 1e-8

	// initialCount seeds the running statistics so the first batch
	// does not divide by zero
	initialCount float64 = 1e-4

	// defaultObsClip bounds normalized observation features
	defaultObsClip float64 = 10.0
)

// RunningMeanStd tracks the per-feature mean and variance of a stream
// of observation batches. Batches are merged with the parallel
// variance update so the statistics are order independent within a
// batch.
type RunningMeanStd struct {
	Mean  []float64
	Var   []float64
	Count float64
}

// NewRunningMeanStd returns new zero-mean unit-variance running
// statistics over dim features.
func NewRunningMeanStd(dim int) *RunningMeanStd {
	r := &RunningMeanStd{
		Mean:  make([]float64, dim),
		Var:   make([]float64, dim),
		Count: initialCount,
	}
	for i := range r.Var {
		r.Var[i] = 1.0
	}
	return r
}

// Update merges a flat row-major batch of rows x dim observations into
// the running statistics.
func (r *RunningMeanStd) Update(batch []float64, rows int) {
	dim := len(r.Mean)
	batchMean := make([]float64, dim)
	batchVar := make([]float64, dim)

	for i := 0; i < rows; i++ {
		for j := 0; j < dim; j++ {
			batchMean[j] += batch[i*dim+j]
		}
	}
	for j := 0; j < dim; j++ {
		batchMean[j] /= float64(rows)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < dim; j++ {
			diff := batch[i*dim+j] - batchMean[j]
			batchVar[j] += diff * diff
		}
	}
	for j := 0; j < dim; j++ {
		batchVar[j] /= float64(rows)
	}

	batchCount := float64(rows)
	total := r.Count + batchCount
	for j := 0; j < dim; j++ {
		delta := batchMean[j] - r.Mean[j]

		mA := r.Var[j] * r.Count
		mB := batchVar[j] * batchCount
		m2 := mA + mB + delta*delta*r.Count*batchCount/total

		r.Mean[j] += delta * batchCount / total
		r.Var[j] = m2 / total
	}
	r.Count = total
}

// VecNormalize standardizes observations with running per-feature
// statistics before handing them to the policy. Statistics update only
// while training so evaluation environments can reuse a snapshot of
// the training statistics.
type VecNormalize struct {
	environment.VecEnv

	stats    *RunningMeanStd
	clipObs  float64
	training bool
}

// NewVecNormalize returns a new VecNormalize over env with fresh
// statistics.
func NewVecNormalize(env environment.VecEnv) *VecNormalize {
	return &VecNormalize{
		VecEnv:   env,
		stats:    NewRunningMeanStd(env.ObsDim()),
		clipObs:  defaultObsClip,
		training: true,
	}
}

// Reset implements the environment.VecEnv interface
func (v *VecNormalize) Reset() ([]float64, error) {
	obs, err := v.VecEnv.Reset()
	if err != nil {
		return nil, err
	}
	return v.normalize(obs), nil
}

// Step implements the environment.VecEnv interface
func (v *VecNormalize) Step(actions []float64) ([]float64, []float64,
	[]bool, []environment.Info, error) {
	obs, rewards, dones, infos, err := v.VecEnv.Step(actions)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return v.normalize(obs), rewards, dones, infos, nil
}

// normalize standardizes and clips a flat observation batch, updating
// the running statistics first when training.
func (v *VecNormalize) normalize(obs []float64) []float64 {
	if v.training {
		v.stats.Update(obs, v.NumWorkers())
	}

	dim := v.ObsDim()
	out := make([]float64, len(obs))
	for i := range obs {
		j := i % dim
		scaled := (obs[i] - v.stats.Mean[j]) /
			math.Sqrt(v.stats.Var[j]+normEpsilon)
		out[i] = floatutils.Clip(scaled, -v.clipObs, v.clipObs)
	}
	return out
}

// SetTraining controls whether the running statistics update on every
// batch.
func (v *VecNormalize) SetTraining(training bool) {
	v.training = training
}

// ObsStats returns the running observation statistics.
func (v *VecNormalize) ObsStats() *RunningMeanStd { return v.stats }

// SetObsStats replaces the running observation statistics, e.g. with a
// snapshot loaded from a checkpoint.
func (v *VecNormalize) SetObsStats(stats *RunningMeanStd) error {
	if len(stats.Mean) != v.ObsDim() {
		return fmt.Errorf("setobsstats: invalid feature count "+
			"\n\twant(%v) \n\thave(%v)", v.ObsDim(), len(stats.Mean))
	}
	v.stats = stats
	return nil
}
