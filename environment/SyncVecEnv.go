package environment

import (
	"fmt"
	"sync"
)

// SyncVecEnv steps a set of per-worker environments concurrently, one
// goroutine per worker per step, and joins before returning. All
// environments must agree on observation and action spaces.
type SyncVecEnv struct {
	envs       []Env
	obsDim     int
	numActions int
}

// NewSyncVecEnv returns a new SyncVecEnv over the given worker
// environments.
func NewSyncVecEnv(envs []Env) (*SyncVecEnv, error) {
	if len(envs) == 0 {
		return nil, fmt.Errorf("newsyncvecenv: no worker environments")
	}

	obsDim := envs[0].ObsDim()
	numActions := envs[0].NumActions()
	for i, e := range envs {
		if e.ObsDim() != obsDim || e.NumActions() != numActions {
			return nil, fmt.Errorf("newsyncvecenv: worker %v disagrees "+
				"on spaces \n\twant(%v obs, %v actions) \n\thave(%v "+
				"obs, %v actions)", i, obsDim, numActions, e.ObsDim(),
				e.NumActions())
		}
	}

	return &SyncVecEnv{
		envs:       envs,
		obsDim:     obsDim,
		numActions: numActions,
	}, nil
}

// Reset implements the VecEnv interface
func (v *SyncVecEnv) Reset() ([]float64, error) {
	obs := make([]float64, len(v.envs)*v.obsDim)
	errs := make([]error, len(v.envs))

	var wait sync.WaitGroup
	for w := range v.envs {
		wait.Add(1)
		go func(w int) {
			defer wait.Done()
			first, err := v.envs[w].Reset()
			if err != nil {
				errs[w] = err
				return
			}
			copy(obs[w*v.obsDim:(w+1)*v.obsDim], first)
		}(w)
	}
	wait.Wait()

	for w, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("reset: worker %v: %v", w, err)
		}
	}
	return obs, nil
}

// Step implements the VecEnv interface. Workers whose episodes end are
// reset before the call returns.
func (v *SyncVecEnv) Step(actions []float64) ([]float64, []float64,
	[]bool, []Info, error) {
	if len(actions) != len(v.envs) {
		return nil, nil, nil, nil, fmt.Errorf("step: invalid number of "+
			"actions \n\twant(%v) \n\thave(%v)", len(v.envs),
			len(actions))
	}

	obs := make([]float64, len(v.envs)*v.obsDim)
	rewards := make([]float64, len(v.envs))
	dones := make([]bool, len(v.envs))
	infos := make([]Info, len(v.envs))
	errs := make([]error, len(v.envs))

	var wait sync.WaitGroup
	for w := range v.envs {
		wait.Add(1)
		go func(w int) {
			defer wait.Done()

			next, reward, done, err := v.envs[w].Step(actions[w])
			if err != nil {
				errs[w] = err
				return
			}
			if done {
				next, err = v.envs[w].Reset()
				if err != nil {
					errs[w] = err
					return
				}
			}

			copy(obs[w*v.obsDim:(w+1)*v.obsDim], next)
			rewards[w] = reward
			dones[w] = done
		}(w)
	}
	wait.Wait()

	for w, err := range errs {
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("step: worker %v: %v",
				w, err)
		}
	}
	return obs, rewards, dones, infos, nil
}

// NumWorkers implements the VecEnv interface
func (v *SyncVecEnv) NumWorkers() int { return len(v.envs) }

// ObsDim implements the VecEnv interface
func (v *SyncVecEnv) ObsDim() int { return v.obsDim }

// NumActions implements the VecEnv interface
func (v *SyncVecEnv) NumActions() int { return v.numActions }
