// Package a2c implements synchronous advantage actor-critic updates.
// The same engine serves the natural-gradient configuration when it is
// constructed with a curvature-aware solver.
package a2c

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

// A2C updates a policy from a full rollout window in a single gradient
// step. The loss is
//
//	valueLossCoef * valueLoss - actionLoss - entropyCoef * entropy
//
// where the action loss weights the selected log probabilities by
// detached advantages.
type A2C struct {
	pol policy.NetPolicy
	sol *solver.Solver

	numSteps   int
	numWorkers int
	batch      int

	trainPolicy network.NeuralNet
	trainValue  network.NeuralNet
	actionHot   *G.Node
	advantages  *G.Node
	returns     *G.Node

	model []G.ValueGrad
	vm    G.VM

	valueLossVal  G.Value
	actionLossVal G.Value
	entropyVal    G.Value
}

// New returns a new A2C updater for windows of numSteps x numWorkers
// transitions.
func New(pol policy.NetPolicy, sol *solver.Solver, numSteps,
	numWorkers int, valueLossCoef, entropyCoef float64) (*A2C, error) {
	if pol.HiddenStateSize() != 0 {
		return nil, fmt.Errorf("a2c: update graph requires a " +
			"feed-forward policy")
	}
	batch := numSteps * numWorkers

	trainPolicy, err := pol.PolicyNet().CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("a2c: could not clone policy network: %v",
			err)
	}
	trainValue, err := pol.ValueNet().CloneWithInput(trainPolicy.Input())
	if err != nil {
		return nil, fmt.Errorf("a2c: could not clone value network: %v",
			err)
	}

	g := trainPolicy.Graph()
	numActions := pol.NumActions()

	actionHot := G.NewMatrix(g, G.Float64,
		G.WithShape(batch, numActions), G.WithName("actionHot"))
	advantages := G.NewVector(g, G.Float64, G.WithShape(batch),
		G.WithName("advantages"))
	returns := G.NewVector(g, G.Float64, G.WithShape(batch),
		G.WithName("returns"))

	a := &A2C{
		pol:         pol,
		sol:         sol,
		numSteps:    numSteps,
		numWorkers:  numWorkers,
		batch:       batch,
		trainPolicy: trainPolicy,
		trainValue:  trainValue,
		actionHot:   actionHot,
		advantages:  advantages,
		returns:     returns,
	}

	logProbs, entropy := categoricalTerms(trainPolicy.Prediction(),
		actionHot)

	actionLoss := G.Must(G.Mean(G.Must(G.HadamardProd(logProbs,
		advantages))))
	stateValues := G.Must(G.Ravel(trainValue.Prediction()))
	valueLoss := G.Must(G.Mean(G.Must(G.Square(G.Must(G.Sub(returns,
		stateValues))))))

	loss := G.Must(G.Sub(
		G.Must(G.Mul(valueLoss, G.NewConstant(valueLossCoef))),
		G.Must(G.Add(actionLoss,
			G.Must(G.Mul(entropy, G.NewConstant(entropyCoef))))),
	))

	G.Read(valueLoss, &a.valueLossVal)
	G.Read(actionLoss, &a.actionLossVal)
	G.Read(entropy, &a.entropyVal)

	learnables := make(G.Nodes, 0, len(trainPolicy.Learnables())+
		len(trainValue.Learnables()))
	learnables = append(learnables, trainPolicy.Learnables()...)
	learnables = append(learnables, trainValue.Learnables()...)
	if _, err := G.Grad(loss, learnables...); err != nil {
		return nil, fmt.Errorf("a2c: could not compute gradient: %v", err)
	}

	a.model = make([]G.ValueGrad, len(learnables))
	for i, learnable := range learnables {
		a.model[i] = learnable
	}
	a.vm = G.NewTapeMachine(g, G.BindDualValues(learnables...))

	return a, nil
}

// categoricalTerms returns the log probabilities of the indicated
// actions and the mean entropy of the softmax distribution of logits.
// The actionHot node holds one-hot rows indicating the taken actions.
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

// Update implements the agent.Updater interface. The storage must hold
// a full window with computed returns.
func (a *A2C) Update(s *rollout.Storage) (agent.Losses, error) {
	if s.NumSteps() != a.numSteps || s.Width() != a.numWorkers {
		return agent.Losses{}, fmt.Errorf("update: storage window does "+
			"not match update graph \n\twant(%v x %v) \n\thave(%v x %v)",
			a.numSteps, a.numWorkers, s.NumSteps(), s.Width())
	}

	if err := a.trainPolicy.SetInput(s.FlatObs()); err != nil {
		return agent.Losses{}, fmt.Errorf("update: could not set "+
			"observations: %v", err)
	}

	hot, err := oneHot(s.FlatActions(), a.pol.NumActions())
	if err != nil {
		return agent.Losses{}, fmt.Errorf("update: %v", err)
	}
	if err := G.Let(a.actionHot, tensor.New(
		tensor.WithShape(a.batch, a.pol.NumActions()),
		tensor.WithBacking(hot))); err != nil {
		return agent.Losses{}, fmt.Errorf("update: could not set "+
			"actions: %v", err)
	}
	if err := G.Let(a.advantages, tensor.New(tensor.WithShape(a.batch),
		tensor.WithBacking(s.Advantages()))); err != nil {
		return agent.Losses{}, fmt.Errorf("update: could not set "+
			"advantages: %v", err)
	}
	if err := G.Let(a.returns, tensor.New(tensor.WithShape(a.batch),
		tensor.WithBacking(s.FlatReturns()))); err != nil {
		return agent.Losses{}, fmt.Errorf("update: could not set "+
			"returns: %v", err)
	}

	if err := a.vm.RunAll(); err != nil {
		return agent.Losses{}, fmt.Errorf("update: could not run "+
			"update graph: %v", err)
	}
	if err := a.sol.Step(a.model); err != nil {
		a.vm.Reset()
		return agent.Losses{}, fmt.Errorf("update: could not step: %v",
			err)
	}
	a.vm.Reset()

	if err := network.Set(a.pol.PolicyNet(), a.trainPolicy); err != nil {
		return agent.Losses{}, fmt.Errorf("update: could not sync "+
			"policy network: %v", err)
	}
	if err := network.Set(a.pol.ValueNet(), a.trainValue); err != nil {
		return agent.Losses{}, fmt.Errorf("update: could not sync "+
			"value network: %v", err)
	}

	return agent.Losses{
		Value:   a.valueLossVal.Data().(float64),
		Action:  a.actionLossVal.Data().(float64),
		Entropy: a.entropyVal.Data().(float64),
	}, nil
}

// SetStepSize adjusts the solver step size for scheduled decay.
func (a *A2C) SetStepSize(stepSize float64) {
	a.sol.SetStepSize(stepSize)
}
