package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hzyjerry/onpolicy/agent"
	"github.com/hzyjerry/onpolicy/agent/a2c"
	"github.com/hzyjerry/onpolicy/agent/ppo"
	"github.com/hzyjerry/onpolicy/checkpointer"
	"github.com/hzyjerry/onpolicy/config"
	"github.com/hzyjerry/onpolicy/environment"
	"github.com/hzyjerry/onpolicy/environment/classiccontrol/cartpole"
	"github.com/hzyjerry/onpolicy/environment/wrappers"
	"github.com/hzyjerry/onpolicy/experiment"
	"github.com/hzyjerry/onpolicy/policy"
	"github.com/hzyjerry/onpolicy/solver"
)

// newVecEnv builds a monitored, observation-normalized vectorized
// cartpole with one worker per process, seeded consecutively from
// seed.
func newVecEnv(numProcesses int, seed uint64) (environment.VecEnv,
	*wrappers.VecNormalize, error) {
	envs := make([]environment.Env, numProcesses)
	for w := range envs {
		envs[w] = cartpole.New(seed + uint64(w))
	}

	sync, err := environment.NewSyncVecEnv(envs)
	if err != nil {
		return nil, nil, err
	}
	normalized := wrappers.NewVecNormalize(wrappers.NewMonitor(sync))
	return normalized, normalized, nil
}

// newUpdater builds the configured update engine over the full storage
// window.
func newUpdater(conf config.Config,
	pol policy.NetPolicy) (agent.Updater, error) {
	switch conf.Algorithm {
	case config.A2C:
		sol, err := solver.NewRMSProp(conf.LR, conf.Alpha, conf.Eps,
			conf.MaxGradNorm)
		if err != nil {
			return nil, err
		}
		return a2c.New(pol, sol, conf.NumSteps, conf.NumRollouts,
			conf.ValueLossCoef, conf.EntropyCoef)

	case config.PPO:
		sol, err := solver.NewAdam(conf.LR, conf.Eps, conf.MaxGradNorm)
		if err != nil {
			return nil, err
		}
		return ppo.New(pol, sol, conf.NumSteps, conf.NumRollouts,
			conf.PPOEpoch, conf.NumMiniBatch, conf.ClipParam,
			conf.ValueLossCoef, conf.EntropyCoef,
			conf.UseClippedValueLoss)

	case config.ACKTR:
		// The natural-gradient configuration reuses the a2c engine
		// with a curvature-aware solver supplied by the caller
		return nil, fmt.Errorf("acktr needs a caller-supplied " +
			"curvature-aware solver")

	default:
		return nil, fmt.Errorf("unknown algorithm %v", conf.Algorithm)
	}
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().
		Timestamp().
		Str("run", uuid.New().String()).
		Logger()

	conf := config.Default()
	conf.EnvName = "Cartpole"
	conf.Algorithm = config.PPO
	conf.NumProcesses = 8
	conf.NumSteps = 32
	conf.TotalEnvSteps = 100_000
	conf.UseGAE = true
	conf.PPOEpoch = 4
	conf.NumMiniBatch = 4
	conf.LR = 3e-4
	conf.EntropyCoef = 0.01
	conf.UseLinearLRDecay = true
	conf.LogInterval = 10
	conf.EvalInterval = 50
	conf.SaveDir = "trained"

	conf, err := conf.Validated()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	env, normalizer, err := newVecEnv(conf.NumProcesses, conf.Seed)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create environment")
	}
	evalEnv, evalNormalizer, err := newVecEnv(conf.NumProcesses,
		conf.Seed+uint64(conf.NumProcesses))
	if err != nil {
		log.Fatal().Err(err).Msg("could not create eval environment")
	}

	// The eval environment scales observations with the live training
	// statistics but never updates them
	evalNormalizer.SetTraining(false)
	if err := evalNormalizer.SetObsStats(normalizer.ObsStats()); err != nil {
		log.Fatal().Err(err).Msg("could not share statistics")
	}

	pol, err := policy.NewCategoricalMLP(env.ObsDim(), env.NumActions(),
		conf.NumProcesses, []int{64, 64}, conf.Seed)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create policy")
	}

	upd, err := newUpdater(conf, pol)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create updater")
	}

	var check *checkpointer.NStep
	if conf.SaveDir != "" {
		check, err = checkpointer.NewNStep(conf.SaveInterval,
			conf.NumUpdates(), conf.SaveDir, conf.EnvName)
		if err != nil {
			log.Fatal().Err(err).Msg("could not create checkpointer")
		}
	}

	trainer, err := experiment.New(conf, pol, upd, env, evalEnv,
		normalizer, check, log)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create trainer")
	}
	if err := trainer.Run(); err != nil {
		log.Fatal().Err(err).Msg("training failed")
	}
}
