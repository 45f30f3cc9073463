// Package scheduler decides when a collected time-window of experience
// becomes update-eligible. The configured number of rollouts per update
// may exceed the number of live workers, in which case several
// collection cycles accumulate sub-rollouts side by side in a wide
// storage window before a single learning update fires.
package scheduler

import (
	"fmt"

	"github.com/hzyjerry/onpolicy/config"
)

// Scheduler maps the monotonically increasing collection-cycle index
// onto sub-window offsets of the rollout storage and update
// eligibility. The cycle length is held as a plain integer, fixed at
// construction.
type Scheduler struct {
	numProcesses int
	numRollouts  int
	cycleLength  int
}

// New creates a Scheduler from a validated Config.
func New(c config.Config) (*Scheduler, error) {
	if c.NumRollouts <= 0 || c.NumRollouts%c.NumProcesses != 0 {
		return nil, fmt.Errorf("scheduler: NumRollouts = %v is not a "+
			"positive multiple of NumProcesses = %v", c.NumRollouts,
			c.NumProcesses)
	}

	return &Scheduler{
		numProcesses: c.NumProcesses,
		numRollouts:  c.NumRollouts,
		cycleLength:  c.NumRollouts / c.NumProcesses,
	}, nil
}

// CycleLength returns the number of collection cycles per update.
func (s *Scheduler) CycleLength() int { return s.cycleLength }

// StorageWidth returns the worker width of the rollout storage, which
// may exceed the live worker count.
func (s *Scheduler) StorageWidth() int { return s.numRollouts }

// SubWindow returns the index k of the sub-window that collection
// cycle j writes into. Sub-window k covers storage workers
// [k*NumProcesses, (k+1)*NumProcesses).
func (s *Scheduler) SubWindow(j int) int {
	return j % s.cycleLength
}

// WorkerOffset returns the first storage-worker column of the
// sub-window written by collection cycle j.
func (s *Scheduler) WorkerOffset(j int) int {
	return s.SubWindow(j) * s.numProcesses
}

// UpdateEligible reports whether the window is full after collection
// cycle j, i.e. whether the sub-window index wraps to 0 on the next
// cycle. Updates fire exactly once every CycleLength cycles.
func (s *Scheduler) UpdateEligible(j int) bool {
	return s.SubWindow(j) == s.cycleLength-1
}
