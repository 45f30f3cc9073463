// Package wrappers provides environment wrappers that sit between a
// vectorized environment and the training loop.
package wrappers

import (
	"github.com/hzyjerry/onpolicy/environment"
)

// Monitor tracks the cumulative reward and length of every worker's
// episode and reports them through the step Info of the step that
// finished the episode. It must wrap the environment that performs
// auto-resetting so that rewards are attributed to the episode they
// were earned in.
type Monitor struct {
	environment.VecEnv
	returns []float64
	lengths []int
}

// NewMonitor returns a new Monitor over env.
func NewMonitor(env environment.VecEnv) *Monitor {
	return &Monitor{
		VecEnv:  env,
		returns: make([]float64, env.NumWorkers()),
		lengths: make([]int, env.NumWorkers()),
	}
}

// Reset implements the environment.VecEnv interface
func (m *Monitor) Reset() ([]float64, error) {
	for w := range m.returns {
		m.returns[w] = 0
		m.lengths[w] = 0
	}
	return m.VecEnv.Reset()
}

// Step implements the environment.VecEnv interface
func (m *Monitor) Step(actions []float64) ([]float64, []float64, []bool,
	[]environment.Info, error) {
	obs, rewards, dones, infos, err := m.VecEnv.Step(actions)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	for w := range rewards {
		m.returns[w] += rewards[w]
		m.lengths[w]++
		if dones[w] {
			infos[w].Episode = &environment.EpisodeStats{
				Return: m.returns[w],
				Length: m.lengths[w],
			}
			m.returns[w] = 0
			m.lengths[w] = 0
		}
	}
	return obs, rewards, dones, infos, nil
}
