// Package network implements feed-forward neural networks on Gorgonia
// graphs. Networks can be cloned to a new batch size or cloned into an
// existing graph with a shared input node, which is how update engines
// rebuild differentiable outputs at training batch sizes.
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet is a function approximator whose forward pass lives on a
// Gorgonia graph.
type NeuralNet interface {
	Graph() *G.ExprGraph
	Input() *G.Node
	Prediction() *G.Node
	Output() G.Value

	BatchSize() int
	Features() int
	Outputs() int

	SetInput([]float64) error
	Set(NeuralNet) error
	Learnables() G.Nodes
	Model() []G.ValueGrad

	// CloneWithBatch clones the network into a fresh graph with a new
	// input batch size.
	CloneWithBatch(int) (NeuralNet, error)

	// CloneWithInput clones the network into the graph of the given
	// input node and runs its forward pass on that node. The clone's
	// batch size is the input's row count.
	CloneWithInput(*G.Node) (NeuralNet, error)
}

// Set copies the weights of the src network into dest.
func Set(dest, src NeuralNet) error {
	return dest.Set(src)
}
