// Package rollout implements fixed-horizon storage of on-policy
// experience across parallel workers, along with return and
// generalized-advantage computation over the stored window.
package rollout

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
)

// advantageEpsilon stabilizes advantage normalization when the batch
// advantage variance is degenerate.
const advantageEpsilon = 1e-8

// Storage is a reuse-in-place sliding window of transitions: T+1
// timesteps by W workers, where W may exceed the live worker count
// when sub-rollouts are accumulated across collection cycles before an
// update. Slot 0 of every window carries the final observation, hidden
// state, and mask of the previous window.
//
// All buffers are flat float64 arenas indexed by an explicit write
// cursor; AfterUpdate rewinds the cursor and performs the carry
// rather than reallocating.
type Storage struct {
	numSteps   int // Horizon T
	numWorkers int // Storage width W
	obsDim     int
	actionDim  int
	hiddenDim  int

	cursor int // Timesteps inserted since the last AfterUpdate

	obs      []float64 // (T+1) x W x obsDim
	hidden   []float64 // (T+1) x W x hiddenDim
	actions  []float64 // T x W x actionDim
	logProbs []float64 // T x W
	values   []float64 // (T+1) x W; slot T holds the bootstrap value
	rewards  []float64 // T x W
	masks    []float64 // (T+1) x W
	returns  []float64 // (T+1) x W; derived, recomputed every update

	rng *rand.Rand
}

// New creates a Storage for numSteps timesteps of numWorkers workers.
// The seed drives minibatch shuffling only.
func New(numSteps, numWorkers, obsDim, actionDim, hiddenDim int,
	seed uint64) (*Storage, error) {
	if numSteps < 1 || numWorkers < 1 {
		return nil, fmt.Errorf("new: non-positive window %v x %v", numSteps,
			numWorkers)
	}
	if obsDim < 1 || actionDim < 1 || hiddenDim < 0 {
		return nil, fmt.Errorf("new: invalid feature dims obs(%v) action(%v) "+
			"hidden(%v)", obsDim, actionDim, hiddenDim)
	}

	return &Storage{
		numSteps:   numSteps,
		numWorkers: numWorkers,
		obsDim:     obsDim,
		actionDim:  actionDim,
		hiddenDim:  hiddenDim,
		obs:        make([]float64, (numSteps+1)*numWorkers*obsDim),
		hidden:     make([]float64, (numSteps+1)*numWorkers*hiddenDim),
		actions:    make([]float64, numSteps*numWorkers*actionDim),
		logProbs:   make([]float64, numSteps*numWorkers),
		values:     make([]float64, (numSteps+1)*numWorkers),
		rewards:    make([]float64, numSteps*numWorkers),
		masks:      make([]float64, (numSteps+1)*numWorkers),
		returns:    make([]float64, (numSteps+1)*numWorkers),
		rng:        rand.New(rand.NewSource(seed)),
	}, nil
}

// NumSteps returns the horizon T of the window.
func (s *Storage) NumSteps() int { return s.numSteps }

// Width returns the worker width W of the window.
func (s *Storage) Width() int { return s.numWorkers }

// ObsDim returns the observation feature count.
func (s *Storage) ObsDim() int { return s.obsDim }

// ActionDim returns the action feature count.
func (s *Storage) ActionDim() int { return s.actionDim }

// HiddenDim returns the recurrent state size, 0 for feed-forward
// policies.
func (s *Storage) HiddenDim() int { return s.hiddenDim }

// CopyFirst writes the slot-0 observation, hidden state, and mask for
// the width workers starting at column offset. The trainer calls this
// once at startup for every sub-window and at the start of each
// collection cycle so that slot 0 of the active sub-window always
// holds the live workers' current state.
func (s *Storage) CopyFirst(offset int, obs, hidden, masks []float64) error {
	width := len(masks)
	if err := s.checkColumns("copyfirst", offset, width); err != nil {
		return err
	}
	if len(obs) != width*s.obsDim {
		return &StorageError{Op: "copyfirst", Err: fmt.Errorf(
			"illegal obs length\n\twant(%v)\n\thave(%v)", width*s.obsDim,
			len(obs))}
	}
	if len(hidden) != width*s.hiddenDim {
		return &StorageError{Op: "copyfirst", Err: fmt.Errorf(
			"illegal hidden length\n\twant(%v)\n\thave(%v)",
			width*s.hiddenDim, len(hidden))}
	}

	copy(s.obs[offset*s.obsDim:], obs)
	copy(s.hidden[offset*s.hiddenDim:], hidden)
	copy(s.masks[offset:], masks)
	return nil
}

// Insert appends one timestep of experience for the width workers
// starting at column offset: the post-step observation, the new hidden
// state, and the action, log-probability, value estimate, reward, and
// continuation mask of the step. Fails with ErrOutOfCapacity once the
// horizon is full.
func (s *Storage) Insert(offset int, obs, hidden, actions, logProbs, values,
	rewards, masks []float64) error {
	if s.cursor >= s.numSteps {
		return &StorageError{Op: "insert", Err: ErrOutOfCapacity}
	}

	width := len(rewards)
	if err := s.checkColumns("insert", offset, width); err != nil {
		return err
	}
	if len(obs) != width*s.obsDim || len(actions) != width*s.actionDim ||
		len(hidden) != width*s.hiddenDim || len(logProbs) != width ||
		len(values) != width || len(masks) != width {
		return &StorageError{Op: "insert", Err: fmt.Errorf(
			"inconsistent slice lengths for width %v", width)}
	}

	t := s.cursor
	W := s.numWorkers

	// Post-step quantities land in slot t+1, per-step quantities in
	// slot t.
	copy(s.obs[((t+1)*W+offset)*s.obsDim:], obs)
	copy(s.hidden[((t+1)*W+offset)*s.hiddenDim:], hidden)
	copy(s.masks[(t+1)*W+offset:(t+1)*W+offset+width], masks)

	copy(s.actions[(t*W+offset)*s.actionDim:], actions)
	copy(s.logProbs[t*W+offset:t*W+offset+width], logProbs)
	copy(s.values[t*W+offset:t*W+offset+width], values)
	copy(s.rewards[t*W+offset:t*W+offset+width], rewards)

	s.cursor++
	return nil
}

// Rewind moves the write cursor back to the start of the window
// without touching the stored data. Collection-only cycles call this
// so the next cycle's sub-window reuses the same timestep range.
func (s *Storage) Rewind() { s.cursor = 0 }

// ComputeReturns computes returns for every stored step, seeded by the
// bootstrap value estimates of the final observations (one per storage
// worker). With useGAE the returns are generalized advantage estimates
// plus value predictions; otherwise they are plain discounted returns.
// The continuation masks gate every bootstrap term so no value leaks
// across episode boundaries.
func (s *Storage) ComputeReturns(bootstrap []float64, useGAE bool,
	gamma, tau float64) error {
	if s.cursor != s.numSteps {
		return &StorageError{Op: "computereturns", Err: fmt.Errorf(
			"window only has %v of %v steps", s.cursor, s.numSteps)}
	}
	W := s.numWorkers
	if len(bootstrap) != W {
		return &StorageError{Op: "computereturns", Err: fmt.Errorf(
			"illegal bootstrap length\n\twant(%v)\n\thave(%v)", W,
			len(bootstrap))}
	}

	copy(s.values[s.numSteps*W:], bootstrap)

	if useGAE {
		for w := 0; w < W; w++ {
			gae := 0.0
			for t := s.numSteps - 1; t >= 0; t-- {
				delta := s.rewards[t*W+w] +
					gamma*s.values[(t+1)*W+w]*s.masks[(t+1)*W+w] -
					s.values[t*W+w]
				gae = delta + gamma*tau*s.masks[(t+1)*W+w]*gae
				s.returns[t*W+w] = gae + s.values[t*W+w]
			}
		}
		return nil
	}

	copy(s.returns[s.numSteps*W:], bootstrap)
	for w := 0; w < W; w++ {
		for t := s.numSteps - 1; t >= 0; t-- {
			s.returns[t*W+w] = s.rewards[t*W+w] +
				gamma*s.returns[(t+1)*W+w]*s.masks[(t+1)*W+w]
		}
	}
	return nil
}

// AfterUpdate carries the final observation, hidden state, and mask of
// the window into slot 0 and rewinds the write cursor. All other
// stored data is logically discarded and overwritten by the next
// window.
func (s *Storage) AfterUpdate() {
	T, W := s.numSteps, s.numWorkers
	copy(s.obs[:W*s.obsDim], s.obs[T*W*s.obsDim:])
	copy(s.hidden[:W*s.hiddenDim], s.hidden[T*W*s.hiddenDim:])
	copy(s.masks[:W], s.masks[T*W:])
	s.cursor = 0
}

// LastObs returns a copy of the final stored observations, one row per
// storage worker. The trainer evaluates the bootstrap value on these.
func (s *Storage) LastObs() []float64 {
	out := make([]float64, s.numWorkers*s.obsDim)
	copy(out, s.obs[s.numSteps*s.numWorkers*s.obsDim:])
	return out
}

// LastHidden returns a copy of the final stored hidden states.
func (s *Storage) LastHidden() []float64 {
	out := make([]float64, s.numWorkers*s.hiddenDim)
	copy(out, s.hidden[s.numSteps*s.numWorkers*s.hiddenDim:])
	return out
}

// LastMasks returns a copy of the final stored continuation masks.
func (s *Storage) LastMasks() []float64 {
	out := make([]float64, s.numWorkers)
	copy(out, s.masks[s.numSteps*s.numWorkers:])
	return out
}

// FirstObs returns a copy of the slot-0 observations for the width
// workers starting at column offset.
func (s *Storage) FirstObs(offset, width int) []float64 {
	out := make([]float64, width*s.obsDim)
	copy(out, s.obs[offset*s.obsDim:])
	return out
}

// Advantages returns returns minus value predictions for every stored
// step, flattened time-major to T*W entries.
func (s *Storage) Advantages() []float64 {
	n := s.numSteps * s.numWorkers
	adv := make([]float64, n)
	for i := 0; i < n; i++ {
		adv[i] = s.returns[i] - s.values[i]
	}
	return adv
}

// NormalizedAdvantages returns the advantages standardized to mean 0
// and unit standard deviation. A small epsilon keeps a degenerate
// batch from dividing by zero.
func (s *Storage) NormalizedAdvantages() []float64 {
	adv := s.Advantages()
	mean := stat.Mean(adv, nil)
	std := stat.StdDev(adv, nil) + advantageEpsilon
	for i := range adv {
		adv[i] = (adv[i] - mean) / std
	}
	return adv
}

// FlatObs returns a copy of the first T observation slots flattened to
// (T*W) x obsDim rows, the forward-pass input of a full-batch update.
func (s *Storage) FlatObs() []float64 {
	out := make([]float64, s.numSteps*s.numWorkers*s.obsDim)
	copy(out, s.obs)
	return out
}

// FlatActions returns a copy of the stored actions flattened to
// (T*W) x actionDim rows.
func (s *Storage) FlatActions() []float64 {
	out := make([]float64, len(s.actions))
	copy(out, s.actions)
	return out
}

// FlatReturns returns a copy of the first T return slots, T*W entries.
func (s *Storage) FlatReturns() []float64 {
	out := make([]float64, s.numSteps*s.numWorkers)
	copy(out, s.returns)
	return out
}

// FlatValues returns a copy of the first T stored value predictions.
func (s *Storage) FlatValues() []float64 {
	out := make([]float64, s.numSteps*s.numWorkers)
	copy(out, s.values)
	return out
}

// FlatLogProbs returns a copy of the stored action log-probabilities.
func (s *Storage) FlatLogProbs() []float64 {
	out := make([]float64, len(s.logProbs))
	copy(out, s.logProbs)
	return out
}

// Returns exposes the return computed for worker w at step t.
func (s *Storage) Returns(t, w int) float64 {
	return s.returns[t*s.numWorkers+w]
}

// Mask exposes the continuation mask of worker w at step t.
func (s *Storage) Mask(t, w int) float64 {
	return s.masks[t*s.numWorkers+w]
}

func (s *Storage) checkColumns(op string, offset, width int) error {
	if width < 1 || offset < 0 || offset+width > s.numWorkers {
		return &StorageError{Op: op, Err: fmt.Errorf(
			"columns [%v, %v) outside storage width %v", offset,
			offset+width, s.numWorkers)}
	}
	return nil
}
