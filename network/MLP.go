package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func init() {
	// Checkpoints gob-encode networks behind the NeuralNet interface
	gob.Register(&mlp{})
}

// mlp implements a multi-layered perceptron with a single prediction
// head of Outputs() values per input row.
type mlp struct {
	g      *G.ExprGraph
	layers []Layer
	input  *G.Node

	features  int
	outputs   int
	batchSize int
	prefix    string

	// Data needed for gobbing and cloning
	hiddenSizes []int
	biases      []bool
	activations []*Activation

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value
}

// NewMLP creates and returns a multi-layered perceptron on graph g
// with len(hiddenSizes)+1 layers. A final linear layer with a bias
// unit and no activation is always added so that any input predicts
// outputs values. The prefix names the network's nodes, which keeps
// learnables distinct when several networks share one graph.
func NewMLP(features, batch, outputs int, g *G.ExprGraph, prefix string,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	if len(hiddenSizes) != len(activations) {
		return nil, fmt.Errorf("newmlp: invalid number of activations"+
			"\n\twant(%d)\n\thave(%d)", len(hiddenSizes), len(activations))
	}
	if len(hiddenSizes) != len(biases) {
		return nil, fmt.Errorf("newmlp: invalid number of biases"+
			"\n\twant(%d)\n\thave(%d)", len(hiddenSizes), len(biases))
	}

	hiddenSizes = append(append([]int{}, hiddenSizes...), outputs)
	biases = append(append([]bool{}, biases...), true)
	activations = append(append([]*Activation{}, activations...), Identity())

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName(prefix+"Input"), G.WithInit(G.Zeroes()))

	layers := addFCLayers(g, hiddenSizes, biases, activations, init, features,
		prefix)

	net := &mlp{
		g:           g,
		layers:      layers,
		input:       input,
		features:    features,
		outputs:     outputs,
		batchSize:   batch,
		prefix:      prefix,
		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
	}
	if err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("newmlp: could not compute forward pass: %v",
			err)
	}
	return net, nil
}

// Graph returns the computational graph of the mlp.
func (e *mlp) Graph() *G.ExprGraph { return e.g }

// Input returns the input node of the mlp.
func (e *mlp) Input() *G.Node { return e.input }

// BatchSize returns the batch size of inputs to the mlp.
func (e *mlp) BatchSize() int { return e.batchSize }

// Features returns the number of features in a single input row.
func (e *mlp) Features() int { return e.features }

// Outputs returns the number of predictions per input row.
func (e *mlp) Outputs() int { return e.outputs }

// SetInput sets the value of the input node before running the forward
// pass.
func (e *mlp) SetInput(input []float64) error {
	if len(input) != e.features*e.batchSize {
		return fmt.Errorf("setinput: invalid number of inputs"+
			"\n\twant(%v)\n\thave(%v)", e.features*e.batchSize, len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(e.input.Shape()...),
	)
	return G.Let(e.input, inputTensor)
}

// Set sets the weights of the mlp to be equal to those of another
// network.
func (e *mlp) Set(source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := e.Learnables()
	if len(sourceNodes) != len(nodes) {
		return fmt.Errorf("set: incompatible networks\n\twant(%v "+
			"learnables)\n\thave(%v)", len(nodes), len(sourceNodes))
	}
	for i, destLearnable := range nodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return err
		}
	}
	return nil
}

// Learnables returns the learnable nodes of the mlp.
func (e *mlp) Learnables() G.Nodes {
	// Lazy instantiation
	if e.learnables == nil {
		e.learnables = make(G.Nodes, 0, 2*len(e.layers))
		for i := range e.layers {
			e.learnables = append(e.learnables, e.layers[i].Weights())
			if bias := e.layers[i].Bias(); bias != nil {
				e.learnables = append(e.learnables, bias)
			}
		}
	}
	return e.learnables
}

// Model returns the learnable nodes with their gradients.
func (e *mlp) Model() []G.ValueGrad {
	// Lazy instantiation
	if e.model == nil {
		e.model = make([]G.ValueGrad, 0, 2*len(e.layers))
		for _, node := range e.Learnables() {
			e.model = append(e.model, node)
		}
	}
	return e.model
}

// CloneWithBatch clones the mlp into a fresh graph with a new input
// batch size.
func (e *mlp) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()
	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, e.features),
		G.WithName(e.prefix+"Input"),
		G.WithInit(G.Zeroes()),
	)
	return e.CloneWithInput(input)
}

// CloneWithInput clones the mlp into the graph of the input node and
// runs its forward pass on that node.
func (e *mlp) CloneWithInput(input *G.Node) (NeuralNet, error) {
	if !input.IsMatrix() {
		return nil, fmt.Errorf("clonewithinput: input must be a matrix node")
	}
	if input.Shape()[1] != e.features {
		return nil, fmt.Errorf("clonewithinput: input has %v features, "+
			"network needs %v", input.Shape()[1], e.features)
	}

	layers := make([]Layer, len(e.layers))
	for i := range e.layers {
		layers[i] = e.layers[i].CloneTo(input.Graph())
	}

	net := &mlp{
		g:           input.Graph(),
		layers:      layers,
		input:       input,
		features:    e.features,
		outputs:     e.outputs,
		batchSize:   input.Shape()[0],
		prefix:      e.prefix,
		hiddenSizes: e.hiddenSizes,
		biases:      e.biases,
		activations: e.activations,
	}
	if err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("clonewithinput: could not compute forward "+
			"pass: %v", err)
	}
	return net, nil
}

// fwd performs the forward pass of the mlp on the input node.
func (e *mlp) fwd(input *G.Node) error {
	pred := input
	var err error
	for i, l := range e.layers {
		if pred, err = l.fwd(pred); err != nil {
			return fmt.Errorf("fwd: could not compute forward pass of "+
				"layer %v: %v", i, err)
		}
	}

	e.prediction = pred
	G.Read(e.prediction, &e.predVal)
	return nil
}

// Output returns the last computed output of the mlp.
func (e *mlp) Output() G.Value { return e.predVal }

// Prediction returns the node of the computational graph that stores
// the output of the mlp.
func (e *mlp) Prediction() *G.Node { return e.prediction }

// GobEncode implements the gob.GobEncoder interface. The encoding
// captures the architecture and the learnable weights.
func (e *mlp) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	// The final layer is re-added on decode
	arch := struct {
		Features    int
		Outputs     int
		BatchSize   int
		Prefix      string
		HiddenSizes []int
		Biases      []bool
		Activations []*Activation
	}{
		Features:    e.features,
		Outputs:     e.outputs,
		BatchSize:   e.batchSize,
		Prefix:      e.prefix,
		HiddenSizes: e.hiddenSizes[:len(e.hiddenSizes)-1],
		Biases:      e.biases[:len(e.biases)-1],
		Activations: e.activations[:len(e.activations)-1],
	}
	if err := enc.Encode(arch); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode architecture: %v",
			err)
	}

	for i, learnable := range e.Learnables() {
		weights := struct {
			Shape []int
			Data  []float64
		}{
			Shape: learnable.Shape(),
			Data:  learnable.Value().Data().([]float64),
		}
		if err := enc.Encode(weights); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode learnable "+
				"%v: %v", i, err)
		}
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface.
func (e *mlp) GobDecode(in []byte) error {
	buf := bytes.NewReader(in)
	dec := gob.NewDecoder(buf)

	var arch struct {
		Features    int
		Outputs     int
		BatchSize   int
		Prefix      string
		HiddenSizes []int
		Biases      []bool
		Activations []*Activation
	}
	if err := dec.Decode(&arch); err != nil {
		return fmt.Errorf("gobdecode: could not decode architecture: %v", err)
	}

	newNet, err := NewMLP(arch.Features, arch.BatchSize, arch.Outputs,
		G.NewGraph(), arch.Prefix, arch.HiddenSizes, arch.Biases,
		G.Zeroes(), arch.Activations)
	if err != nil {
		return fmt.Errorf("gobdecode: could not construct new MLP: %v", err)
	}
	decoded := newNet.(*mlp)

	for i, learnable := range decoded.Learnables() {
		var weights struct {
			Shape []int
			Data  []float64
		}
		if err := dec.Decode(&weights); err != nil {
			return fmt.Errorf("gobdecode: could not decode learnable %v: %v",
				i, err)
		}
		t := tensor.New(tensor.WithShape(weights.Shape...),
			tensor.WithBacking(weights.Data))
		if err := G.Let(learnable, t); err != nil {
			return fmt.Errorf("gobdecode: could not set learnable %v: %v",
				i, err)
		}
	}

	*e = *decoded
	return nil
}
