// Package checkpointer persists a policy and the observation
// statistics it was trained with, so that a run can be resumed or
// evaluated later. Checkpoints are gob encoded and keyed by
// environment name.
package checkpointer

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hzyjerry/onpolicy/environment/wrappers"
	"github.com/hzyjerry/onpolicy/policy"
)

// Serializable is an object that can be saved/serialized
type Serializable interface {
	gob.GobEncoder
	gob.GobDecoder
}

// Checkpoint pairs a policy with the running observation statistics
// of the environment it was trained on. ObsStats is nil when the run
// did not normalize observations.
type Checkpoint struct {
	Policy   policy.Policy
	ObsStats *wrappers.RunningMeanStd
}

// NStep checkpoints every interval updates and on the final update of
// a run, always overwriting the same file.
type NStep struct {
	interval   int
	numUpdates int
	path       string
}

// NewNStep returns a checkpointer that saves into dir every interval
// updates. The file is named after the environment.
func NewNStep(interval, numUpdates int, dir, envName string) (*NStep,
	error) {
	if interval < 1 {
		return nil, fmt.Errorf("newnstep: interval must be positive, "+
			"got %v", interval)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("newnstep: could not create save "+
			"directory: %v", err)
	}

	return &NStep{
		interval:   interval,
		numUpdates: numUpdates,
		path:       filepath.Join(dir, envName+".bin"),
	}, nil
}

// TimeToCheckpoint returns whether the given update index should be
// persisted.
func (n *NStep) TimeToCheckpoint(update int) bool {
	return update%n.interval == 0 || update == n.numUpdates-1
}

// Checkpoint saves the policy and statistics if the update index is at
// a checkpointing boundary.
func (n *NStep) Checkpoint(update int, pol policy.Policy,
	stats *wrappers.RunningMeanStd) error {
	if !n.TimeToCheckpoint(update) {
		return nil
	}

	file, err := os.Create(n.path)
	if err != nil {
		return fmt.Errorf("checkpoint: could not create file: %v", err)
	}
	defer file.Close()

	checkpoint := Checkpoint{Policy: pol, ObsStats: stats}
	if err := gob.NewEncoder(file).Encode(&checkpoint); err != nil {
		return fmt.Errorf("checkpoint: could not encode: %v", err)
	}
	return nil
}

// Path returns the file the checkpointer saves into.
func (n *NStep) Path() string { return n.path }

// Load reads a checkpoint back from a file.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load: could not open checkpoint: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := gob.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("load: could not decode checkpoint: %v",
			err)
	}
	return &checkpoint, nil
}
