package rollout

import (
	"fmt"
)

// MiniBatch is one gradient computation's worth of transitions gathered
// from a Storage window. All tensors are flattened row-major with
// Size rows. For recurrent minibatches the rows are ordered time-major
// over NumSeqs worker sequences of SeqLen steps each, and Hidden holds
// only the sequence-initial hidden states (NumSeqs rows).
type MiniBatch struct {
	Obs         []float64
	Hidden      []float64
	Actions     []float64
	OldLogProbs []float64
	Values      []float64
	Returns     []float64
	Masks       []float64
	Advantages  []float64

	Size    int
	NumSeqs int
	SeqLen  int
}

type generatorKind int

const (
	feedForward generatorKind = iota
	recurrent
)

// Generator produces a lazy, finite, restartable sequence of
// minibatches over a full Storage window. Feed-forward generators
// partition a random permutation of the flattened (time x worker)
// index space; recurrent generators partition along the worker axis so
// no worker's temporal sequence is ever split across minibatches.
type Generator struct {
	s    *Storage
	adv  []float64
	kind generatorKind

	numMiniBatch int
	batches      [][]int // flat transition indices, or worker indices
	pos          int
}

// FeedForwardGenerator returns a Generator whose minibatches are
// near-equal random partitions of all T*W stored transitions. The
// advantages argument supplies the (possibly normalized) advantage for
// each flat transition index.
func (s *Storage) FeedForwardGenerator(advantages []float64,
	numMiniBatch int) (*Generator, error) {
	total := s.numSteps * s.numWorkers
	if len(advantages) != total {
		return nil, fmt.Errorf("feedforwardgenerator: illegal advantage "+
			"length\n\twant(%v)\n\thave(%v)", total, len(advantages))
	}
	if numMiniBatch < 1 || numMiniBatch > total {
		return nil, fmt.Errorf("feedforwardgenerator: cannot split %v "+
			"transitions into %v minibatches", total, numMiniBatch)
	}

	g := &Generator{
		s:            s,
		adv:          advantages,
		kind:         feedForward,
		numMiniBatch: numMiniBatch,
	}
	g.Reset()
	return g, nil
}

// RecurrentGenerator returns a Generator whose minibatches partition
// the worker axis into numMiniBatch groups of whole temporal
// sequences. The storage width must divide evenly into numMiniBatch.
func (s *Storage) RecurrentGenerator(advantages []float64,
	numMiniBatch int) (*Generator, error) {
	total := s.numSteps * s.numWorkers
	if len(advantages) != total {
		return nil, fmt.Errorf("recurrentgenerator: illegal advantage "+
			"length\n\twant(%v)\n\thave(%v)", total, len(advantages))
	}
	if numMiniBatch < 1 || s.numWorkers%numMiniBatch != 0 {
		return nil, fmt.Errorf("recurrentgenerator: storage width %v is "+
			"not divisible into %v minibatches", s.numWorkers, numMiniBatch)
	}

	g := &Generator{
		s:            s,
		adv:          advantages,
		kind:         recurrent,
		numMiniBatch: numMiniBatch,
	}
	g.Reset()
	return g, nil
}

// NumMiniBatches returns how many minibatches one full pass yields.
func (g *Generator) NumMiniBatches() int { return g.numMiniBatch }

// Reset reshuffles the index space and restarts the sequence. One full
// pass of Next calls after a Reset visits every transition exactly
// once.
func (g *Generator) Reset() {
	g.pos = 0

	switch g.kind {
	case feedForward:
		total := g.s.numSteps * g.s.numWorkers
		perm := g.s.rng.Perm(total)

		// Near-equal chunks: the first total%numMiniBatch chunks take
		// one extra index.
		base := total / g.numMiniBatch
		rem := total % g.numMiniBatch
		g.batches = make([][]int, 0, g.numMiniBatch)
		start := 0
		for i := 0; i < g.numMiniBatch; i++ {
			size := base
			if i < rem {
				size++
			}
			g.batches = append(g.batches, perm[start:start+size])
			start += size
		}
	case recurrent:
		perm := g.s.rng.Perm(g.s.numWorkers)
		per := g.s.numWorkers / g.numMiniBatch
		g.batches = make([][]int, 0, g.numMiniBatch)
		for i := 0; i < g.numMiniBatch; i++ {
			g.batches = append(g.batches, perm[i*per:(i+1)*per])
		}
	}
}

// Next returns the next minibatch of the pass, or false once the pass
// is exhausted.
func (g *Generator) Next() (*MiniBatch, bool) {
	if g.pos >= len(g.batches) {
		return nil, false
	}
	indices := g.batches[g.pos]
	g.pos++

	if g.kind == feedForward {
		return g.gatherFlat(indices), true
	}
	return g.gatherSequences(indices), true
}

// gatherFlat copies the transitions at the given flat (time-major)
// indices into a fresh MiniBatch.
func (g *Generator) gatherFlat(indices []int) *MiniBatch {
	s := g.s
	n := len(indices)
	mb := &MiniBatch{
		Obs:         make([]float64, n*s.obsDim),
		Hidden:      make([]float64, n*s.hiddenDim),
		Actions:     make([]float64, n*s.actionDim),
		OldLogProbs: make([]float64, n),
		Values:      make([]float64, n),
		Returns:     make([]float64, n),
		Masks:       make([]float64, n),
		Advantages:  make([]float64, n),
		Size:        n,
	}

	for row, i := range indices {
		copy(mb.Obs[row*s.obsDim:(row+1)*s.obsDim],
			s.obs[i*s.obsDim:(i+1)*s.obsDim])
		copy(mb.Hidden[row*s.hiddenDim:(row+1)*s.hiddenDim],
			s.hidden[i*s.hiddenDim:(i+1)*s.hiddenDim])
		copy(mb.Actions[row*s.actionDim:(row+1)*s.actionDim],
			s.actions[i*s.actionDim:(i+1)*s.actionDim])
		mb.OldLogProbs[row] = s.logProbs[i]
		mb.Values[row] = s.values[i]
		mb.Returns[row] = s.returns[i]
		mb.Masks[row] = s.masks[i]
		mb.Advantages[row] = g.adv[i]
	}
	return mb
}

// gatherSequences copies whole worker sequences, time-major, so hidden
// state continuity within the minibatch is preserved.
func (g *Generator) gatherSequences(workers []int) *MiniBatch {
	s := g.s
	T, W, n := s.numSteps, s.numWorkers, len(workers)
	size := T * n
	mb := &MiniBatch{
		Obs:         make([]float64, size*s.obsDim),
		Hidden:      make([]float64, n*s.hiddenDim),
		Actions:     make([]float64, size*s.actionDim),
		OldLogProbs: make([]float64, size),
		Values:      make([]float64, size),
		Returns:     make([]float64, size),
		Masks:       make([]float64, size),
		Advantages:  make([]float64, size),
		Size:        size,
		NumSeqs:     n,
		SeqLen:      T,
	}

	for seq, w := range workers {
		copy(mb.Hidden[seq*s.hiddenDim:(seq+1)*s.hiddenDim],
			s.hidden[w*s.hiddenDim:(w+1)*s.hiddenDim])

		for t := 0; t < T; t++ {
			row := t*n + seq
			i := t*W + w
			copy(mb.Obs[row*s.obsDim:(row+1)*s.obsDim],
				s.obs[i*s.obsDim:(i+1)*s.obsDim])
			copy(mb.Actions[row*s.actionDim:(row+1)*s.actionDim],
				s.actions[i*s.actionDim:(i+1)*s.actionDim])
			mb.OldLogProbs[row] = s.logProbs[i]
			mb.Values[row] = s.values[i]
			mb.Returns[row] = s.returns[i]
			mb.Masks[row] = s.masks[i]
			mb.Advantages[row] = g.adv[i]
		}
	}
	return mb
}
