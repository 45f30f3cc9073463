// Package config describes the hyperparameters and run settings of an
// on-policy training run. A Config is constructed once, validated, and
// then passed by reference to every component; no component reads any
// ambient global state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Algorithm determines which update rule the trainer uses.
type Algorithm string

// Available update rules
const (
	A2C   Algorithm = "a2c"
	PPO   Algorithm = "ppo"
	ACKTR Algorithm = "acktr"
)

// minEpisodeSample is the statistical floor on the number of rollouts
// used when no explicit rollout count is configured. It exists so that
// reward logging is computed over a reasonable sample of episodes.
const minEpisodeSample = 30

// ConfigurationError describes a Config that can never produce a valid
// training run. It is always surfaced before any training starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (c *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %v: %v", c.Field, c.Reason)
}

// Config holds every tunable of a training run.
type Config struct {
	EnvName   string
	Algorithm Algorithm
	Seed      uint64

	// RecurrentPolicy denotes whether the policy carries a recurrent
	// hidden state between timesteps.
	RecurrentPolicy bool

	// Rollout geometry. NumSteps is the horizon T of a single rollout
	// window, NumProcesses the number of live parallel workers, and
	// NumRollouts the total number of trajectories accumulated before
	// each update. NumRollouts == 0 means "one sub-rollout of width
	// NumProcesses", later raised to the minimum episode sample size.
	NumSteps      int
	NumProcesses  int
	NumRollouts   int
	TotalEnvSteps int

	// Return and advantage estimation
	Gamma  float64
	UseGAE bool
	Tau    float64

	// Optimization
	LR               float64
	Eps              float64 // Optimizer numerical stabilizer
	Alpha            float64 // RMSProp decay
	MaxGradNorm      float64
	ValueLossCoef    float64
	EntropyCoef      float64
	UseLinearLRDecay bool

	// PPO only
	ClipParam           float64
	PPOEpoch            int
	NumMiniBatch        int
	UseClippedValueLoss bool
	UseLinearClipDecay  bool

	// Reporting and persistence
	LogInterval  int
	SaveInterval int
	EvalInterval int // 0 disables evaluation
	SaveDir      string
}

// Default returns a Config with the conventional hyperparameters for
// vector-observation control tasks. The caller still needs to fill in
// EnvName and the rollout geometry.
func Default() Config {
	return Config{
		Algorithm:           A2C,
		Seed:                1,
		NumSteps:            5,
		NumProcesses:        16,
		TotalEnvSteps:       10_000_000,
		Gamma:               0.99,
		UseGAE:              false,
		Tau:                 0.95,
		LR:                  7e-4,
		Eps:                 1e-5,
		Alpha:               0.99,
		MaxGradNorm:         0.5,
		ValueLossCoef:       0.5,
		EntropyCoef:         0.01,
		ClipParam:           0.2,
		PPOEpoch:            4,
		NumMiniBatch:        32,
		UseClippedValueLoss: true,
		LogInterval:         10,
		SaveInterval:        100,
		SaveDir:             "./trained_models",
	}
}

// Validated returns a copy of the Config with the effective rollout
// count normalized, or a ConfigurationError if the Config can never
// produce a valid run.
func (c Config) Validated() (Config, error) {
	switch c.Algorithm {
	case A2C, PPO, ACKTR:
	default:
		return c, &ConfigurationError{
			Field:  "Algorithm",
			Reason: fmt.Sprintf("unknown algorithm %q", c.Algorithm),
		}
	}

	if c.RecurrentPolicy && c.Algorithm == ACKTR {
		return c, &ConfigurationError{
			Field:  "RecurrentPolicy",
			Reason: "recurrent policy is not implemented for ACKTR",
		}
	}

	if c.NumProcesses < 1 {
		return c, &ConfigurationError{
			Field:  "NumProcesses",
			Reason: "need at least one worker",
		}
	}
	if c.NumSteps < 1 {
		return c, &ConfigurationError{
			Field:  "NumSteps",
			Reason: "rollout horizon must be positive",
		}
	}

	if c.NumRollouts == 0 {
		// Smallest multiple of NumProcesses that clears the episode
		// sample floor.
		for c.NumRollouts < minEpisodeSample {
			c.NumRollouts += c.NumProcesses
		}
	}
	if c.NumRollouts%c.NumProcesses != 0 {
		return c, &ConfigurationError{
			Field: "NumRollouts",
			Reason: fmt.Sprintf("%v is not divisible by NumProcesses = %v",
				c.NumRollouts, c.NumProcesses),
		}
	}

	if c.Algorithm == PPO && c.NumMiniBatch < 1 {
		return c, &ConfigurationError{
			Field:  "NumMiniBatch",
			Reason: "PPO needs at least one minibatch",
		}
	}

	return c, nil
}

// NumUpdates returns the total number of collection cycles in the run.
func (c Config) NumUpdates() int {
	return c.TotalEnvSteps / c.NumSteps / c.NumProcesses
}

// CycleLength returns how many collection cycles make up one full
// rollout window.
func (c Config) CycleLength() int {
	return c.NumRollouts / c.NumProcesses
}

// EpisodeLogSize returns the capacity of the rolling log of finished
// episode returns used for reporting statistics.
func (c Config) EpisodeLogSize() int {
	if c.NumRollouts > 0 {
		return c.NumRollouts
	}
	if c.NumProcesses > 10 {
		return c.NumProcesses
	}
	return 10
}

// Load reads a JSON-encoded Config from a file and validates it.
func Load(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("load: could not read config: %v", err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("load: could not decode config: %v", err)
	}
	return c.Validated()
}

// Save writes the Config as JSON to a file.
func (c Config) Save(filename string) error {
	data, err := json.MarshalIndent(c, "", "\t")
	if err != nil {
		return fmt.Errorf("save: could not encode config: %v", err)
	}
	return os.WriteFile(filename, data, 0o644)
}
