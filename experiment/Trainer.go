package experiment

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hzyjerry/onpolicy/agent"
	"github.com/hzyjerry/onpolicy/checkpointer"
	"github.com/hzyjerry/onpolicy/config"
	"github.com/hzyjerry/onpolicy/environment"
	"github.com/hzyjerry/onpolicy/environment/wrappers"
	"github.com/hzyjerry/onpolicy/policy"
	"github.com/hzyjerry/onpolicy/rollout"
	"github.com/hzyjerry/onpolicy/scheduler"
)

// evalEpisodes is the number of deterministic episodes per evaluation
const evalEpisodes int = 10

// Trainer owns the collection and update loop. Each collection cycle
// steps the live workers through a fixed horizon and writes into one
// sub-window of the rollout storage. An update fires when the storage
// window is full, which happens once every CycleLength cycles.
type Trainer struct {
	conf config.Config
	pol  policy.Policy
	upd  agent.Updater
	env  environment.VecEnv

	// evalEnv is stepped deterministically at eval intervals; nil
	// disables evaluation. normalizer is the training environment's
	// observation normalizer when one is installed; its statistics go
	// into checkpoints.
	evalEnv    environment.VecEnv
	normalizer *wrappers.VecNormalize
	check      *checkpointer.NStep

	storage    *rollout.Storage
	sched      *scheduler.Scheduler
	episodeLog *EpisodeLog
	log        zerolog.Logger

	// Live worker state threaded between collection cycles
	obs    []float64
	hidden []float64
	masks  []float64
}

// New constructs a Trainer over a validated configuration. The eval
// environment, normalizer, and checkpointer may each be nil to disable
// the corresponding feature.
func New(conf config.Config, pol policy.Policy, upd agent.Updater,
	env, evalEnv environment.VecEnv, normalizer *wrappers.VecNormalize,
	check *checkpointer.NStep, log zerolog.Logger) (*Trainer, error) {
	if env.NumWorkers() != conf.NumProcesses {
		return nil, fmt.Errorf("trainer: environment width does not "+
			"match configuration \n\twant(%v) \n\thave(%v)",
			conf.NumProcesses, env.NumWorkers())
	}
	if pol.Batch() != conf.NumProcesses {
		return nil, fmt.Errorf("trainer: policy batch does not match "+
			"configuration \n\twant(%v) \n\thave(%v)", conf.NumProcesses,
			pol.Batch())
	}
	if pol.ObsDim() != env.ObsDim() {
		return nil, fmt.Errorf("trainer: policy and environment "+
			"disagree on observations \n\twant(%v) \n\thave(%v)",
			env.ObsDim(), pol.ObsDim())
	}
	if evalEnv != nil && evalEnv.NumWorkers() != conf.NumProcesses {
		return nil, fmt.Errorf("trainer: eval environment width does "+
			"not match configuration \n\twant(%v) \n\thave(%v)",
			conf.NumProcesses, evalEnv.NumWorkers())
	}

	sched, err := scheduler.New(conf)
	if err != nil {
		return nil, fmt.Errorf("trainer: %v", err)
	}
	storage, err := rollout.New(conf.NumSteps, sched.StorageWidth(),
		env.ObsDim(), pol.ActionDim(), pol.HiddenStateSize(), conf.Seed)
	if err != nil {
		return nil, fmt.Errorf("trainer: %v", err)
	}

	return &Trainer{
		conf:       conf,
		pol:        pol,
		upd:        upd,
		env:        env,
		evalEnv:    evalEnv,
		normalizer: normalizer,
		check:      check,
		storage:    storage,
		sched:      sched,
		episodeLog: NewEpisodeLog(conf.EpisodeLogSize()),
		log:        log.With().Str("component", "trainer").Logger(),
	}, nil
}

// Run trains until the configured number of environment steps has been
// collected.
func (t *Trainer) Run() error {
	numProcesses := t.conf.NumProcesses
	numUpdates := t.conf.NumUpdates()

	obs, err := t.env.Reset()
	if err != nil {
		return fmt.Errorf("run: could not reset environment: %v", err)
	}
	t.obs = obs
	t.hidden = make([]float64, numProcesses*t.pol.HiddenStateSize())
	t.masks = make([]float64, numProcesses)
	for w := range t.masks {
		t.masks[w] = 1.0
	}

	t.log.Info().
		Int("updates", numUpdates).
		Int("cycleLength", t.sched.CycleLength()).
		Int("storageWidth", t.sched.StorageWidth()).
		Msg("starting training")

	start := time.Now()
	var lastLosses agent.Losses

	for j := 0; j < numUpdates; j++ {
		t.reschedule(j, numUpdates)

		if err := t.collectCycle(j); err != nil {
			return fmt.Errorf("run: cycle %v: %v", j, err)
		}

		if t.sched.UpdateEligible(j) {
			losses, err := t.update()
			if err != nil {
				return fmt.Errorf("run: cycle %v: %v", j, err)
			}
			lastLosses = losses
		} else {
			// Collection-only cycle: reopen the window for the next
			// sub-window without recomputing anything
			t.storage.Rewind()
		}

		totalSteps := (j + 1) * t.conf.NumSteps * numProcesses

		if err := t.checkpoint(j); err != nil {
			return fmt.Errorf("run: cycle %v: %v", j, err)
		}

		if t.conf.LogInterval > 0 && j%t.conf.LogInterval == 0 &&
			t.episodeLog.Len() > 1 {
			elapsed := time.Since(start).Seconds()
			t.log.Info().
				Int("update", j).
				Int("totalSteps", totalSteps).
				Float64("stepsPerSecond", float64(totalSteps)/elapsed).
				Int("episodes", t.episodeLog.Len()).
				Float64("meanReturn", t.episodeLog.Mean()).
				Float64("medianReturn", t.episodeLog.Median()).
				Float64("minReturn", t.episodeLog.Min()).
				Float64("maxReturn", t.episodeLog.Max()).
				Float64("valueLoss", lastLosses.Value).
				Float64("actionLoss", lastLosses.Action).
				Float64("entropy", lastLosses.Entropy).
				Msg("training")
		}

		if t.evalEnv != nil && t.conf.EvalInterval > 0 &&
			j%t.conf.EvalInterval == 0 && t.episodeLog.Len() > 1 {
			mean, n, err := Evaluate(t.pol, t.evalEnv, evalEpisodes)
			if err != nil {
				return fmt.Errorf("run: cycle %v: %v", j, err)
			}
			t.log.Info().
				Int("update", j).
				Int("episodes", n).
				Float64("meanReturn", mean).
				Msg("evaluation")
		}
	}
	return nil
}

// reschedule applies the linear decay schedules for cycle j.
func (t *Trainer) reschedule(j, numUpdates int) {
	progress := float64(j) / float64(numUpdates)

	if t.conf.UseLinearLRDecay {
		if setter, ok := t.upd.(agent.StepSizeSetter); ok {
			setter.SetStepSize(t.conf.LR * (1 - progress))
		}
	}
	if t.conf.UseLinearClipDecay {
		if setter, ok := t.upd.(agent.ClipSetter); ok {
			setter.SetClip(t.conf.ClipParam * (1 - progress))
		}
	}
}

// collectCycle steps the live workers through one fixed horizon,
// writing into the sub-window that cycle j owns.
func (t *Trainer) collectCycle(j int) error {
	offset := t.sched.WorkerOffset(j)

	err := t.storage.CopyFirst(offset, t.obs, t.hidden, t.masks)
	if err != nil {
		return fmt.Errorf("could not seed sub-window: %v", err)
	}

	for step := 0; step < t.conf.NumSteps; step++ {
		values, actions, logProbs, newHidden, err := t.pol.Act(t.obs,
			t.hidden, t.masks, false)
		if err != nil {
			return fmt.Errorf("could not act at step %v: %v", step, err)
		}

		obs, rewards, dones, infos, err := t.env.Step(actions)
		if err != nil {
			return fmt.Errorf("could not step at step %v: %v", step, err)
		}

		masks := make([]float64, len(dones))
		for w, done := range dones {
			if !done {
				masks[w] = 1.0
			}
		}
		for _, info := range infos {
			if info.Episode != nil {
				t.episodeLog.Push(info.Episode.Return)
			}
		}

		err = t.storage.Insert(offset, obs, newHidden, actions, logProbs,
			values, rewards, masks)
		if err != nil {
			return fmt.Errorf("could not insert at step %v: %v", step,
				err)
		}

		t.obs = obs
		t.hidden = newHidden
		t.masks = masks
	}
	return nil
}

// update computes returns over the full window, applies one policy
// update, and carries the window forward.
func (t *Trainer) update() (agent.Losses, error) {
	bootstrap, err := t.bootstrapValues()
	if err != nil {
		return agent.Losses{}, err
	}

	err = t.storage.ComputeReturns(bootstrap, t.conf.UseGAE,
		t.conf.Gamma, t.conf.Tau)
	if err != nil {
		return agent.Losses{}, fmt.Errorf("could not compute returns: "+
			"%v", err)
	}

	losses, err := t.upd.Update(t.storage)
	if err != nil {
		return agent.Losses{}, fmt.Errorf("could not update: %v", err)
	}

	t.storage.AfterUpdate()
	return losses, nil
}

// bootstrapValues predicts the value of every worker column's final
// observation, one policy batch at a time.
func (t *Trainer) bootstrapValues() ([]float64, error) {
	width := t.sched.StorageWidth()
	numProcesses := t.conf.NumProcesses
	obsDim := t.env.ObsDim()
	hiddenDim := t.pol.HiddenStateSize()

	lastObs := t.storage.LastObs()
	lastHidden := t.storage.LastHidden()
	lastMasks := t.storage.LastMasks()

	bootstrap := make([]float64, width)
	for offset := 0; offset < width; offset += numProcesses {
		values, err := t.pol.GetValue(
			lastObs[offset*obsDim:(offset+numProcesses)*obsDim],
			lastHidden[offset*hiddenDim:(offset+numProcesses)*hiddenDim],
			lastMasks[offset:offset+numProcesses])
		if err != nil {
			return nil, fmt.Errorf("could not bootstrap values at "+
				"column %v: %v", offset, err)
		}
		copy(bootstrap[offset:], values)
	}
	return bootstrap, nil
}

// checkpoint persists the policy and normalizer statistics when cycle
// j is at a checkpointing boundary.
func (t *Trainer) checkpoint(j int) error {
	if t.check == nil || !t.check.TimeToCheckpoint(j) {
		return nil
	}

	var stats *wrappers.RunningMeanStd
	if t.normalizer != nil {
		stats = t.normalizer.ObsStats()
	}
	if err := t.check.Checkpoint(j, t.pol, stats); err != nil {
		return fmt.Errorf("could not checkpoint: %v", err)
	}
	return nil
}

// Evaluate runs deterministic episodes on env and returns their mean
// return along with the episode count. The environment must report
// finished episodes through its step Info.
func Evaluate(pol policy.Policy, env environment.VecEnv,
	episodes int) (float64, int, error) {
	obs, err := env.Reset()
	if err != nil {
		return 0, 0, fmt.Errorf("evaluate: could not reset: %v", err)
	}

	hidden := make([]float64, env.NumWorkers()*pol.HiddenStateSize())
	masks := make([]float64, env.NumWorkers())
	for w := range masks {
		masks[w] = 1.0
	}

	var sum float64
	n := 0
	for n < episodes {
		_, actions, _, newHidden, err := pol.Act(obs, hidden, masks,
			true)
		if err != nil {
			return 0, 0, fmt.Errorf("evaluate: could not act: %v", err)
		}

		next, _, dones, infos, err := env.Step(actions)
		if err != nil {
			return 0, 0, fmt.Errorf("evaluate: could not step: %v", err)
		}

		for w, done := range dones {
			if done {
				masks[w] = 0.0
			} else {
				masks[w] = 1.0
			}
		}
		for _, info := range infos {
			if info.Episode != nil {
				sum += info.Episode.Return
				n++
			}
		}

		obs = next
		hidden = newHidden
	}
	return sum / float64(n), n, nil
}
