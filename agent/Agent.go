// Package agent defines the contract between the training loop and
// the gradient update engines.
package agent

import (
	"github.com/hzyjerry/onpolicy/rollout"
)

// Losses holds the diagnostic loss terms of one policy update.
type Losses struct {
	Value   float64
	Action  float64
	Entropy float64
}

// Updater consumes a completed rollout window and improves the policy
// in place. Returns must have been computed on the storage before the
// call.
type Updater interface {
	Update(*rollout.Storage) (Losses, error)
}

// StepSizeSetter is implemented by updaters whose optimizer step size
// can be rescheduled between updates.
type StepSizeSetter interface {
	SetStepSize(float64)
}

// ClipSetter is implemented by updaters with a reschedulable clipping
// parameter.
type ClipSetter interface {
	SetClip(float64)
}
