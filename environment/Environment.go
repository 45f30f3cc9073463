// Package environment describes the environments that policies are
// trained on. Environments expose flat float64 observations and
// discrete actions. A VecEnv steps a fixed batch of workers in
// lockstep, which is the interface the training loop collects from.
package environment

// Env is a single sequential decision task.
type Env interface {
	// Reset starts a new episode and returns its first observation.
	Reset() ([]float64, error)

	// Step takes one environmental step given a discrete action and
	// returns the next observation, the reward, and whether the
	// episode ended.
	Step(action float64) ([]float64, float64, bool, error)

	ObsDim() int
	NumActions() int
}

// EpisodeStats summarizes a finished episode.
type EpisodeStats struct {
	Return float64
	Length int
}

// Info carries side-channel data about a single worker's step.
type Info struct {
	// Episode is set on the step that finished the worker's episode
	// when an episode monitor is installed, and nil otherwise.
	Episode *EpisodeStats
}

// VecEnv steps a batch of workers in lockstep. Observations are flat
// and row-major, one row per worker. When a worker's episode ends its
// environment is reset immediately and the returned observation row is
// the first observation of the next episode.
type VecEnv interface {
	// Reset starts every worker on a new episode.
	Reset() ([]float64, error)

	// Step advances every worker by one transition. The dones flags
	// refer to the episode the corresponding reward belongs to.
	Step(actions []float64) (obs []float64, rewards []float64,
		dones []bool, infos []Info, err error)

	NumWorkers() int
	ObsDim() int
	NumActions() int
}
