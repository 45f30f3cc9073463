// Package cartpole implements the Cartpole classic control environment
package cartpole

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r1"
)

const (
	// Physical constants
	Gravity        float64 = 9.8
	CartMass       float64 = 1.0
	PoleMass       float64 = 0.1
	HalfPoleLength float64 = 0.5  // half of pole length
	ForceMag       float64 = 10.0 // Magnification of force applied
	Dt             float64 = 0.02 // seconds between state updates

	// Episode failure thresholds
	PositionThreshold float64 = 2.4
	AngleThreshold    float64 = 12.0 * math.Pi / 180.0

	// Starting state variables are drawn uniformly from
	// [-StartBound, StartBound]
	StartBound float64 = 0.05

	// MaxEpisodeSteps is the step limit after which an episode is cut
	MaxEpisodeSteps int = 500

	// Discrete Actions
	NumActions int = 2

	// ObsDim is the number of state observation features
	ObsDim int = 4
)

// Cartpole implements the classic control environment Cartpole. In
// this environment, a pole is attached to a cart, which can move
// horizontally. The agent must keep the pole balanced upright for as
// long as possible.
//
// The state features are continuous and consist of the cart's x
// position and speed, as well as the pole's angle from the positive
// y-axis and the pole's angular velocity. Episodes start from a state
// with all features drawn uniformly from [-StartBound, StartBound] and
// end when the cart leaves the track, when the pole falls past the
// failure angle, or at the step limit. The reward is 1.0 on every
// step.
//
// Actions are discrete and consist of the force applied to the cart:
//
//	Action	Meaning
//	  0		Accelerate left
//	  1		Accelerate right
type Cartpole struct {
	x     float64
	xDot  float64
	th    float64
	thDot float64

	positionBounds r1.Interval
	angleBounds    r1.Interval
	steps          int
	rng            *rand.Rand
}

// New constructs a new Cartpole environment
func New(seed uint64) *Cartpole {
	return &Cartpole{
		positionBounds: r1.Interval{
			Min: -PositionThreshold,
			Max: PositionThreshold,
		},
		angleBounds: r1.Interval{
			Min: -AngleThreshold,
			Max: AngleThreshold,
		},
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Reset resets the environment to a new uniformly drawn starting state
// and returns that state's observation
func (c *Cartpole) Reset() ([]float64, error) {
	c.x = c.uniform()
	c.xDot = c.uniform()
	c.th = c.uniform()
	c.thDot = c.uniform()
	c.steps = 0

	return c.observation(), nil
}

// Step takes one environmental step given action a and returns the
// next observation, the reward, and whether the episode ended
func (c *Cartpole) Step(a float64) ([]float64, float64, bool, error) {
	action := int(a)
	if action < 0 || action >= NumActions {
		return nil, 0, false, fmt.Errorf("step: illegal action %v "+
			"∉ [0, %v)", action, NumActions)
	}

	// Magnify the action force in the appropriate direction
	force := ForceMag
	if action == 0 {
		force = -ForceMag
	}

	// Calculate physical variables to determine the next state
	cosTheta := math.Cos(c.th)
	sinTheta := math.Sin(c.th)

	totalMass := PoleMass + CartMass
	poleMassLength := PoleMass * HalfPoleLength

	temp := (force + poleMassLength*c.thDot*c.thDot*sinTheta) / totalMass
	thAcc := (Gravity*sinTheta - cosTheta*temp) / (HalfPoleLength *
		(4.0/3.0 - PoleMass*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thAcc*cosTheta/totalMass

	// Update state variables using Euler kinematic integration
	c.x += Dt * c.xDot
	c.xDot += Dt * xAcc
	c.th += Dt * c.thDot
	c.thDot += Dt * thAcc
	c.steps++

	failed := c.x < c.positionBounds.Min || c.x > c.positionBounds.Max ||
		c.th < c.angleBounds.Min || c.th > c.angleBounds.Max
	done := failed || c.steps >= MaxEpisodeSteps

	return c.observation(), 1.0, done, nil
}

// ObsDim implements the environment.Env interface
func (c *Cartpole) ObsDim() int { return ObsDim }

// NumActions implements the environment.Env interface
func (c *Cartpole) NumActions() int { return NumActions }

func (c *Cartpole) String() string {
	msg := "Cartpole  |  Position: %v  | Speed: %v  |  Angle: %v" +
		"  |  Angular Velocity: %v"
	return fmt.Sprintf(msg, c.x, c.xDot, c.th, c.thDot)
}

func (c *Cartpole) observation() []float64 {
	return []float64{c.x, c.xDot, c.th, c.thDot}
}

// uniform draws a single starting state variable
func (c *Cartpole) uniform() float64 {
	return -StartBound + 2*StartBound*c.rng.Float64()
}
