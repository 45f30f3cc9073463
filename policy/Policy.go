// Package policy implements actor-critic models for on-policy control.
// A Policy selects actions and predicts state values for a batch of
// workers at a time.
package policy

import (
	"github.com/hzyjerry/onpolicy/network"
)

// Policy is an actor-critic model over batches of observations. All
// slices are flat and row-major with one row per worker. Recurrent
// policies thread a hidden state through Act and zero it at episode
// boundaries using the masks; feed-forward policies carry an empty
// hidden state.
type Policy interface {
	// Act predicts state values and samples actions for a batch of
	// observations, returning the values, actions, the log
	// probabilities of the sampled actions, and the successor hidden
	// state. When deterministic is true the mode of the action
	// distribution is returned instead of a sample.
	Act(obs, hidden, masks []float64, deterministic bool) (values,
		actions, logProbs, newHidden []float64, err error)

	// GetValue predicts state values only.
	GetValue(obs, hidden, masks []float64) ([]float64, error)

	// EvaluateActions computes the state values, the log probabilities
	// of the given actions under the current action distribution, and
	// the mean entropy of that distribution.
	EvaluateActions(obs, hidden, masks, actions []float64) (values,
		logProbs []float64, entropy float64, err error)

	Batch() int
	ObsDim() int
	ActionDim() int

	// HiddenStateSize returns the per-worker hidden state size, 0 for
	// feed-forward policies.
	HiddenStateSize() int
}

// NetPolicy is a Policy whose actor and critic are networks that
// update engines can clone at training batch sizes to rebuild
// differentiable outputs. After stepping the cloned weights, engines
// copy them back with network.Set.
type NetPolicy interface {
	Policy

	PolicyNet() network.NeuralNet
	ValueNet() network.NeuralNet

	// NumActions returns the number of discrete actions, which is the
	// output size of the policy network.
	NumActions() int
}
