// Package ppo implements proximal policy optimization with a clipped
// surrogate objective.
package ppo

import (
	"fmt"

	"github.com/hzyjerry/onpolicy/agent"
	"github.com/hzyjerry/onpolicy/network"
	"github.com/hzyjerry/onpolicy/policy"
	"github.com/hzyjerry/onpolicy/rollout"
	"github.com/hzyjerry/onpolicy/solver"
	"github.com/hzyjerry/onpolicy/utils/op"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// PPO updates a policy over several epochs of shuffled minibatches
// drawn from one rollout window. Each minibatch step maximizes
//
//	min(ratio * A, clip(ratio, 1-eps, 1+eps) * A)
//
// where ratio is the probability of the stored action under the
// current policy relative to the policy that collected it. Advantages
// are standardized once per update. The clip parameter is a graph
// input so SetClip can reschedule it without rebuilding the graph.
type PPO struct {
	pol policy.NetPolicy
	sol *solver.Solver

	numSteps     int
	numWorkers   int
	ppoEpoch     int
	numMiniBatch int
	mbSize       int
	clip         float64

	trainPolicy network.NeuralNet
	trainValue  network.NeuralNet
	actionHot   *G.Node
	advantages  *G.Node
	returns     *G.Node
	oldLogProbs *G.Node
	oldValues   *G.Node
	clipParam   *G.Node

	model []G.ValueGrad
	vm    G.VM

	valueLossVal  G.Value
	actionLossVal G.Value
	entropyVal    G.Value
}

// New returns a new PPO updater for windows of numSteps x numWorkers
// transitions. The window must divide evenly into numMiniBatch
// minibatches since the update graph is compiled at a fixed batch
// size.
func New(pol policy.NetPolicy, sol *solver.Solver, numSteps, numWorkers,
	ppoEpoch, numMiniBatch int, clipParam, valueLossCoef,
	entropyCoef float64, useClippedValueLoss bool) (*PPO, error) {
	if pol.HiddenStateSize() != 0 {
		return nil, fmt.Errorf("ppo: update graph requires a " +
			"feed-forward policy")
	}
	if ppoEpoch < 1 || numMiniBatch < 1 {
		return nil, fmt.Errorf("ppo: ppoEpoch and numMiniBatch must be "+
			"positive \n\thave(%v, %v)", ppoEpoch, numMiniBatch)
	}
	batch := numSteps * numWorkers
	if batch%numMiniBatch != 0 {
		return nil, fmt.Errorf("ppo: window size %v is not divisible "+
			"into %v minibatches", batch, numMiniBatch)
	}
	mbSize := batch / numMiniBatch

	trainPolicy, err := pol.PolicyNet().CloneWithBatch(mbSize)
	if err != nil {
		return nil, fmt.Errorf("ppo: could not clone policy network: %v",
			err)
	}
	trainValue, err := pol.ValueNet().CloneWithInput(trainPolicy.Input())
	if err != nil {
		return nil, fmt.Errorf("ppo: could not clone value network: %v",
			err)
	}

	g := trainPolicy.Graph()
	numActions := pol.NumActions()

	p := &PPO{
		pol:          pol,
		sol:          sol,
		numSteps:     numSteps,
		numWorkers:   numWorkers,
		ppoEpoch:     ppoEpoch,
		numMiniBatch: numMiniBatch,
		mbSize:       mbSize,
		clip:         clipParam,
		trainPolicy:  trainPolicy,
		trainValue:   trainValue,
		actionHot: G.NewMatrix(g, G.Float64,
			G.WithShape(mbSize, numActions), G.WithName("actionHot")),
		advantages: G.NewVector(g, G.Float64, G.WithShape(mbSize),
			G.WithName("advantages")),
		returns: G.NewVector(g, G.Float64, G.WithShape(mbSize),
			G.WithName("returns")),
		oldLogProbs: G.NewVector(g, G.Float64, G.WithShape(mbSize),
			G.WithName("oldLogProbs")),
		oldValues: G.NewVector(g, G.Float64, G.WithShape(mbSize),
			G.WithName("oldValues")),
		clipParam: G.NewScalar(g, G.Float64, G.WithName("clipParam")),
	}

	logProbs, entropy := categoricalTerms(trainPolicy.Prediction(),
		p.actionHot)

	one := G.NewConstant(1.0)
	low := G.Must(G.Sub(one, p.clipParam))
	high := G.Must(G.Add(one, p.clipParam))

	ratio := G.Must(G.Exp(G.Must(G.Sub(logProbs, p.oldLogProbs))))
	surrogate := G.Must(G.HadamardProd(ratio, p.advantages))
	clippedRatio, err := op.Clip(ratio, low, high)
	if err != nil {
		return nil, fmt.Errorf("ppo: could not clip ratio: %v", err)
	}
	clippedSurrogate := G.Must(G.HadamardProd(clippedRatio,
		p.advantages))
	objective, err := op.Min(surrogate, clippedSurrogate)
	if err != nil {
		return nil, fmt.Errorf("ppo: could not build objective: %v", err)
	}
	actionLoss := G.Must(G.Mean(objective))

	stateValues := G.Must(G.Ravel(trainValue.Prediction()))
	var valueLoss *G.Node
	if useClippedValueLoss {
		// Limit how far the value prediction may move from the one
		// that collected the window, and take the worse of the two
		// errors.
		delta, err := op.Clip(G.Must(G.Sub(stateValues, p.oldValues)),
			G.Must(G.Neg(p.clipParam)), p.clipParam)
		if err != nil {
			return nil, fmt.Errorf("ppo: could not clip values: %v", err)
		}
		clippedValues := G.Must(G.Add(p.oldValues, delta))

		plain := G.Must(G.Square(G.Must(G.Sub(stateValues, p.returns))))
		clipped := G.Must(G.Square(G.Must(G.Sub(clippedValues,
			p.returns))))
		worse, err := op.Max(plain, clipped)
		if err != nil {
			return nil, fmt.Errorf("ppo: could not build value loss: %v",
				err)
		}
		valueLoss = G.Must(G.Mean(worse))
	} else {
		valueLoss = G.Must(G.Mean(G.Must(G.Square(G.Must(G.Sub(
			p.returns, stateValues))))))
	}
	valueLoss = G.Must(G.Mul(valueLoss, G.NewConstant(0.5)))

	loss := G.Must(G.Sub(
		G.Must(G.Mul(valueLoss, G.NewConstant(valueLossCoef))),
		G.Must(G.Add(actionLoss,
			G.Must(G.Mul(entropy, G.NewConstant(entropyCoef))))),
	))

	G.Read(valueLoss, &p.valueLossVal)
	G.Read(actionLoss, &p.actionLossVal)
	G.Read(entropy, &p.entropyVal)

	learnables := make(G.Nodes, 0, len(trainPolicy.Learnables())+
		len(trainValue.Learnables()))
	learnables = append(learnables, trainPolicy.Learnables()...)
	learnables = append(learnables, trainValue.Learnables()...)
	if _, err := G.Grad(loss, learnables...); err != nil {
		return nil, fmt.Errorf("ppo: could not compute gradient: %v", err)
	}

	p.model = make([]G.ValueGrad, len(learnables))
	for i, learnable := range learnables {
		p.model[i] = learnable
	}
	p.vm = G.NewTapeMachine(g, G.BindDualValues(learnables...))

	return p, nil
}

// categoricalTerms returns the log probabilities of the indicated
// actions and the mean entropy of the softmax distribution of logits.
func categoricalTerms(logits, actionHot *G.Node) (*G.Node, *G.Node) {
	lse := op.LogSumExp(logits, 1)
	logSoftmax := G.Must(G.BroadcastSub(logits, lse, nil, []byte{1}))

	logProbs := G.Must(G.Sum(G.Must(G.HadamardProd(logSoftmax,
		actionHot)), 1))

	probs := G.Must(G.Exp(logSoftmax))
	entropy := G.Must(G.Neg(G.Must(G.Mean(G.Must(G.Sum(
		G.Must(G.HadamardProd(probs, logSoftmax)), 1))))))

	return logProbs, entropy
}

// Update implements the agent.Updater interface. The storage must hold
// a full window with computed returns. Losses are averaged over every
// minibatch step of the update.
func (p *PPO) Update(s *rollout.Storage) (agent.Losses, error) {
	if s.NumSteps() != p.numSteps || s.Width() != p.numWorkers {
		return agent.Losses{}, fmt.Errorf("update: storage window does "+
			"not match update graph \n\twant(%v x %v) \n\thave(%v x %v)",
			p.numSteps, p.numWorkers, s.NumSteps(), s.Width())
	}

	advantages := s.NormalizedAdvantages()

	var losses agent.Losses
	for epoch := 0; epoch < p.ppoEpoch; epoch++ {
		gen, err := s.FeedForwardGenerator(advantages, p.numMiniBatch)
		if err != nil {
			return agent.Losses{}, fmt.Errorf("update: %v", err)
		}

		for mb, ok := gen.Next(); ok; mb, ok = gen.Next() {
			stepLosses, err := p.step(mb)
			if err != nil {
				return agent.Losses{}, fmt.Errorf("update: %v", err)
			}
			losses.Value += stepLosses.Value
			losses.Action += stepLosses.Action
			losses.Entropy += stepLosses.Entropy
		}
	}

	if err := network.Set(p.pol.PolicyNet(), p.trainPolicy); err != nil {
		return agent.Losses{}, fmt.Errorf("update: could not sync "+
			"policy network: %v", err)
	}
	if err := network.Set(p.pol.ValueNet(), p.trainValue); err != nil {
		return agent.Losses{}, fmt.Errorf("update: could not sync "+
			"value network: %v", err)
	}

	steps := float64(p.ppoEpoch * p.numMiniBatch)
	losses.Value /= steps
	losses.Action /= steps
	losses.Entropy /= steps
	return losses, nil
}

// step runs one forward-backward pass and solver step on a minibatch.
func (p *PPO) step(mb *rollout.MiniBatch) (agent.Losses, error) {
	if mb.Size != p.mbSize {
		return agent.Losses{}, fmt.Errorf("step: minibatch size does "+
			"not match update graph \n\twant(%v) \n\thave(%v)", p.mbSize,
			mb.Size)
	}

	if err := p.trainPolicy.SetInput(mb.Obs); err != nil {
		return agent.Losses{}, fmt.Errorf("step: could not set "+
			"observations: %v", err)
	}

	hot, err := oneHot(mb.Actions, p.pol.NumActions())
	if err != nil {
		return agent.Losses{}, fmt.Errorf("step: %v", err)
	}
	lets := []struct {
		node    *G.Node
		backing []float64
		shape   tensor.Shape
	}{
		{p.actionHot, hot, tensor.Shape{p.mbSize, p.pol.NumActions()}},
		{p.advantages, mb.Advantages, tensor.Shape{p.mbSize}},
		{p.returns, mb.Returns, tensor.Shape{p.mbSize}},
		{p.oldLogProbs, mb.OldLogProbs, tensor.Shape{p.mbSize}},
		{p.oldValues, mb.Values, tensor.Shape{p.mbSize}},
	}
	for _, let := range lets {
		if err := G.Let(let.node, tensor.New(
			tensor.WithShape(let.shape...),
			tensor.WithBacking(let.backing))); err != nil {
			return agent.Losses{}, fmt.Errorf("step: could not set %v: "+
				"%v", let.node.Name(), err)
		}
	}
	if err := G.Let(p.clipParam, p.clip); err != nil {
		return agent.Losses{}, fmt.Errorf("step: could not set clip "+
			"parameter: %v", err)
	}

	if err := p.vm.RunAll(); err != nil {
		return agent.Losses{}, fmt.Errorf("step: could not run update "+
			"graph: %v", err)
	}
	if err := p.sol.Step(p.model); err != nil {
		p.vm.Reset()
		return agent.Losses{}, fmt.Errorf("step: could not step: %v", err)
	}
	p.vm.Reset()

	return agent.Losses{
		Value:   p.valueLossVal.Data().(float64),
		Action:  p.actionLossVal.Data().(float64),
		Entropy: p.entropyVal.Data().(float64),
	}, nil
}

// oneHot expands flat action indices into one-hot rows.
func oneHot(actions []float64, numActions int) ([]float64, error) {
	out := make([]float64, len(actions)*numActions)
	for i, a := range actions {
		action := int(a)
		if action < 0 || action >= numActions {
			return nil, fmt.Errorf("onehot: action out of range "+
				"\n\twant(< %v) \n\thave(%v)", numActions, action)
		}
		out[i*numActions+action] = 1.0
	}
	return out, nil
}

// SetStepSize adjusts the solver step size for scheduled decay.
func (p *PPO) SetStepSize(stepSize float64) {
	p.sol.SetStepSize(stepSize)
}

// SetClip adjusts the surrogate clipping parameter for scheduled
// decay.
func (p *PPO) SetClip(clip float64) {
	p.clip = clip
}
