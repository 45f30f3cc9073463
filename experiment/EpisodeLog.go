// Package experiment runs the training and evaluation loop.
package experiment

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// EpisodeLog is a bounded ring over the returns of the most recently
// finished training episodes. Summary statistics cover only the
// episodes still in the ring.
type EpisodeLog struct {
	returns []float64
	next    int
	count   int
}

// NewEpisodeLog returns a new EpisodeLog holding up to size returns.
func NewEpisodeLog(size int) *EpisodeLog {
	return &EpisodeLog{returns: make([]float64, size)}
}

// Push records the return of a finished episode, evicting the oldest
// recorded return when the ring is full.
func (e *EpisodeLog) Push(ret float64) {
	e.returns[e.next] = ret
	e.next = (e.next + 1) % len(e.returns)
	if e.count < len(e.returns) {
		e.count++
	}
}

// Len returns the number of recorded episodes.
func (e *EpisodeLog) Len() int { return e.count }

// Mean returns the mean recorded return.
func (e *EpisodeLog) Mean() float64 {
	return stat.Mean(e.returns[:e.count], nil)
}

// Median returns the median recorded return.
func (e *EpisodeLog) Median() float64 {
	sorted := append([]float64{}, e.returns[:e.count]...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// Min returns the smallest recorded return.
func (e *EpisodeLog) Min() float64 {
	min := e.returns[0]
	for _, ret := range e.returns[1:e.count] {
		if ret < min {
			min = ret
		}
	}
	return min
}

// Max returns the largest recorded return.
func (e *EpisodeLog) Max() float64 {
	max := e.returns[0]
	for _, ret := range e.returns[1:e.count] {
		if ret > max {
			max = ret
		}
	}
	return max
}
