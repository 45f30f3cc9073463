package policy

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/hzyjerry/onpolicy/network"
	"github.com/hzyjerry/onpolicy/utils/floatutils"
	G "gorgonia.org/gorgonia"
)

func init() {
	gob.Register(&CategoricalMLP{})
}

// CategoricalMLP is a feed-forward actor-critic over a discrete action
// space. The actor is an MLP producing one logit per action, and the
// critic is a separate MLP producing a single state value. Actions are
// sampled from the softmax distribution of the logits.
type CategoricalMLP struct {
	obsDim     int
	numActions int
	batch      int
	seed       uint64

	policyNet network.NeuralNet
	valueNet  network.NeuralNet
	policyVM  G.VM
	valueVM   G.VM

	rng *rand.Rand
}

// NewCategoricalMLP returns a new CategoricalMLP for a batch of
// workers, with tanh hidden layers of the given sizes for both the
// actor and the critic.
func NewCategoricalMLP(obsDim, numActions, batch int, hiddenSizes []int,
	seed uint64) (*CategoricalMLP, error) {
	if obsDim <= 0 || numActions <= 0 || batch <= 0 {
		return nil, fmt.Errorf("newcategoricalmlp: obsDim, numActions, "+
			"and batch must be positive \n\thave(%v, %v, %v)", obsDim,
			numActions, batch)
	}

	biases := make([]bool, len(hiddenSizes))
	activations := make([]*network.Activation, len(hiddenSizes))
	for i := range hiddenSizes {
		biases[i] = true
		activations[i] = network.TanH()
	}

	policyNet, err := network.NewMLP(obsDim, batch, numActions,
		G.NewGraph(), "Policy", hiddenSizes, biases, G.GlorotU(1.0),
		activations)
	if err != nil {
		return nil, fmt.Errorf("newcategoricalmlp: could not create "+
			"policy network: %v", err)
	}

	valueNet, err := network.NewMLP(obsDim, batch, 1, G.NewGraph(),
		"Value", hiddenSizes, biases, G.GlorotU(1.0), activations)
	if err != nil {
		return nil, fmt.Errorf("newcategoricalmlp: could not create "+
			"value network: %v", err)
	}

	p := &CategoricalMLP{
		obsDim:     obsDim,
		numActions: numActions,
		batch:      batch,
		seed:       seed,
		policyNet:  policyNet,
		valueNet:   valueNet,
		policyVM:   G.NewTapeMachine(policyNet.Graph()),
		valueVM:    G.NewTapeMachine(valueNet.Graph()),
		rng:        rand.New(rand.NewSource(seed)),
	}
	return p, nil
}

// Act implements the Policy interface. The hidden state is returned
// unchanged since the model is feed-forward.
func (c *CategoricalMLP) Act(obs, hidden, _ []float64,
	deterministic bool) ([]float64, []float64, []float64, []float64,
	error) {
	logits, err := c.forwardPolicy(obs)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("act: %v", err)
	}
	values, err := c.forwardValue(obs)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("act: %v", err)
	}

	actions := make([]float64, c.batch)
	logProbs := make([]float64, c.batch)
	for w := 0; w < c.batch; w++ {
		row := logits[w*c.numActions : (w+1)*c.numActions]

		var action int
		if deterministic {
			_, maxInd := floatutils.MaxSlice(row)
			action = maxInd[0]
		} else {
			action = c.sample(row)
		}

		actions[w] = float64(action)
		logProbs[w] = row[action] - floatutils.LogSumExp(row)
	}

	newHidden := make([]float64, len(hidden))
	copy(newHidden, hidden)
	return values, actions, logProbs, newHidden, nil
}

// GetValue implements the Policy interface.
func (c *CategoricalMLP) GetValue(obs, _, _ []float64) ([]float64,
	error) {
	values, err := c.forwardValue(obs)
	if err != nil {
		return nil, fmt.Errorf("getvalue: %v", err)
	}
	return values, nil
}

// EvaluateActions implements the Policy interface.
func (c *CategoricalMLP) EvaluateActions(obs, _, _,
	actions []float64) ([]float64, []float64, float64, error) {
	if len(actions) != c.batch {
		return nil, nil, 0, fmt.Errorf("evaluateactions: invalid "+
			"number of actions \n\twant(%v) \n\thave(%v)", c.batch,
			len(actions))
	}

	logits, err := c.forwardPolicy(obs)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("evaluateactions: %v", err)
	}
	values, err := c.forwardValue(obs)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("evaluateactions: %v", err)
	}

	logProbs := make([]float64, c.batch)
	entropy := 0.0
	for w := 0; w < c.batch; w++ {
		row := logits[w*c.numActions : (w+1)*c.numActions]
		lse := floatutils.LogSumExp(row)

		action := int(actions[w])
		if action < 0 || action >= c.numActions {
			return nil, nil, 0, fmt.Errorf("evaluateactions: action "+
				"out of range \n\twant(< %v) \n\thave(%v)", c.numActions,
				action)
		}
		logProbs[w] = row[action] - lse

		for _, logit := range row {
			logP := logit - lse
			entropy -= logP * math.Exp(logP)
		}
	}
	entropy /= float64(c.batch)

	return values, logProbs, entropy, nil
}

// sample draws an action index from the softmax distribution of a
// single row of logits.
func (c *CategoricalMLP) sample(logits []float64) int {
	probs := floatutils.Softmax(logits)

	r := c.rng.Float64()
	cumulative := 0.0
	for i, p := range probs {
		cumulative += p
		if r < cumulative {
			return i
		}
	}
	return len(probs) - 1
}

// forwardPolicy runs the actor network on a batch of observations and
// returns the flat batch x numActions logits.
func (c *CategoricalMLP) forwardPolicy(obs []float64) ([]float64,
	error) {
	if err := c.policyNet.SetInput(obs); err != nil {
		return nil, fmt.Errorf("could not set policy input: %v", err)
	}
	if err := c.policyVM.RunAll(); err != nil {
		return nil, fmt.Errorf("could not run policy network: %v", err)
	}
	c.policyVM.Reset()

	logits := c.policyNet.Output().Data().([]float64)
	out := make([]float64, len(logits))
	copy(out, logits)
	return out, nil
}

// forwardValue runs the critic network on a batch of observations and
// returns one value per worker.
func (c *CategoricalMLP) forwardValue(obs []float64) ([]float64, error) {
	if err := c.valueNet.SetInput(obs); err != nil {
		return nil, fmt.Errorf("could not set value input: %v", err)
	}
	if err := c.valueVM.RunAll(); err != nil {
		return nil, fmt.Errorf("could not run value network: %v", err)
	}
	c.valueVM.Reset()

	values := c.valueNet.Output().Data().([]float64)
	out := make([]float64, len(values))
	copy(out, values)
	return out, nil
}

// Batch returns the number of workers acted on per call.
func (c *CategoricalMLP) Batch() int { return c.batch }

// ObsDim returns the number of observation features per worker.
func (c *CategoricalMLP) ObsDim() int { return c.obsDim }

// ActionDim returns the number of action dimensions per worker, which
// is 1 for a discrete action space.
func (c *CategoricalMLP) ActionDim() int { return 1 }

// NumActions returns the number of discrete actions.
func (c *CategoricalMLP) NumActions() int { return c.numActions }

// HiddenStateSize implements the Policy interface.
func (c *CategoricalMLP) HiddenStateSize() int { return 0 }

// PolicyNet returns the actor network.
func (c *CategoricalMLP) PolicyNet() network.NeuralNet {
	return c.policyNet
}

// ValueNet returns the critic network.
func (c *CategoricalMLP) ValueNet() network.NeuralNet {
	return c.valueNet
}

// GobEncode implements the gob.GobEncoder interface
func (c *CategoricalMLP) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	for _, v := range []interface{}{
		c.obsDim, c.numActions, c.batch, c.seed,
	} {
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode "+
				"architecture: %v", err)
		}
	}
	if err := enc.Encode(&c.policyNet); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode policy "+
			"network: %v", err)
	}
	if err := enc.Encode(&c.valueNet); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode value "+
			"network: %v", err)
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (c *CategoricalMLP) GobDecode(in []byte) error {
	buf := bytes.NewReader(in)
	dec := gob.NewDecoder(buf)

	for _, v := range []interface{}{
		&c.obsDim, &c.numActions, &c.batch, &c.seed,
	} {
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("gobdecode: could not decode "+
				"architecture: %v", err)
		}
	}
	if err := dec.Decode(&c.policyNet); err != nil {
		return fmt.Errorf("gobdecode: could not decode policy "+
			"network: %v", err)
	}
	if err := dec.Decode(&c.valueNet); err != nil {
		return fmt.Errorf("gobdecode: could not decode value "+
			"network: %v", err)
	}

	c.policyVM = G.NewTapeMachine(c.policyNet.Graph())
	c.valueVM = G.NewTapeMachine(c.valueNet.Graph())
	c.rng = rand.New(rand.NewSource(c.seed))

	return nil
}
