// Package solver implements gradient-descent optimizers over Gorgonia
// model parameters so that they can be JSON serialized into
// configuration files. Unlike the stock Gorgonia solvers, these keep
// their step size mutable, which linear learning-rate decay schedules
// need, and clip gradients by global norm before stepping.
package solver

import (
	"encoding/json"
	"fmt"
	"reflect"

	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	RMSProp Type = "RMSProp"
	Vanilla Type = "Vanilla"
)

// stepper applies one gradient step to a model's parameters.
type stepper interface {
	step(model []G.ValueGrad) error
	setStepSize(float64)
	stepSize() float64
}

// Solver wraps a concrete optimizer so that it can be JSON marshalled
// and unmarshalled.
type Solver struct {
	Type
	Config

	// MaxGradNorm clips gradients to this global norm before each
	// step; 0 disables clipping.
	MaxGradNorm float64

	impl stepper
}

// newSolver returns a new solver with the given type, configuration,
// and gradient clipping norm.
func newSolver(t Type, c Config, maxGradNorm float64) (*Solver, error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("newsolver: invalid solver type %v for "+
			"configuration %T", t, c)
	}
	solver := Solver{Type: t, Config: c, MaxGradNorm: maxGradNorm}
	solver.impl = solver.Config.Create()

	return &solver, nil
}

// Step clips the model's gradients by global norm and applies one
// optimizer step.
func (s *Solver) Step(model []G.ValueGrad) error {
	if s.MaxGradNorm > 0 {
		if err := ClipGradNorm(model, s.MaxGradNorm); err != nil {
			return fmt.Errorf("step: %v", err)
		}
	}
	return s.impl.step(model)
}

// SetStepSize adjusts the solver's step size in place, keeping any
// accumulated moment state.
func (s *Solver) SetStepSize(stepSize float64) {
	s.impl.setStepSize(stepSize)
}

// StepSize returns the solver's current step size.
func (s *Solver) StepSize() float64 {
	return s.impl.stepSize()
}

// Config describes the construction of a concrete optimizer.
type Config interface {
	Create() stepper
	ValidType(Type) bool
}

// MarshalJSON implements the json.Marshaller interface
func (s *Solver) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"Type":        s.Type,
		"Config":      s.Config,
		"MaxGradNorm": s.MaxGradNorm,
	})
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (s *Solver) UnmarshalJSON(data []byte) error {
	var fields struct {
		MaxGradNorm float64
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	s.MaxGradNorm = fields.MaxGradNorm

	config, typeName, err := unmarshalConfig(
		data,
		"Type",
		"Config",
		map[string]reflect.Type{
			string(Vanilla): reflect.TypeOf(VanillaConfig{}),
			string(RMSProp): reflect.TypeOf(RMSPropConfig{}),
			string(Adam):    reflect.TypeOf(AdamConfig{}),
		})
	if err != nil {
		return err
	}

	s.Type = typeName
	s.Config = config
	s.impl = s.Config.Create()

	return nil
}

// unmarshalConfig uses reflection to unmarshal a Config into its
// concrete type. Both the Config and its Type are returned.
func unmarshalConfig(data []byte, typeJSONField, valueJSONField string,
	customTypes map[string]reflect.Type) (Config, Type, error) {
	m := map[string]interface{}{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", err
	}

	typeName, ok := m[typeJSONField].(string)
	if !ok {
		return nil, "", fmt.Errorf("unmarshalconfig: missing %v field",
			typeJSONField)
	}
	var value Config
	if ty, found := customTypes[typeName]; found {
		value = reflect.New(ty).Interface().(Config)
	} else {
		return nil, "", fmt.Errorf("unmarshalconfig: unknown solver type %v",
			typeName)
	}

	valueBytes, err := json.Marshal(m[valueJSONField])
	if err != nil {
		return nil, "", err
	}
	if err := json.Unmarshal(valueBytes, value); err != nil {
		return nil, "", err
	}

	return value, Type(typeName), nil
}
