package bandit

import (
	"errors"
	"fmt"
	"math"

	"github.com/fyrsmithlabs/velocity/internal/features"
)

// FlushMode selects when learned state is written to the Persister.
type FlushMode string

const (
	// FlushSync writes the whole store before Update returns.
	FlushSync FlushMode = "sync"

	// FlushAsync signals a background flusher that coalesces pending
	// writes. Updates made shortly before a crash may be lost.
	FlushAsync FlushMode = "async"
)

// DefaultEpsilon keeps confidence finite when uncertainty is zero.
const DefaultEpsilon = 1e-5

// DefaultModelVersion labels snapshots and decisions.
const DefaultModelVersion = "v1.0.0-linucb"

// RewardPolicy optionally clamps rewards into [Min, Max].
type RewardPolicy struct {
	Clamp bool
	Min   float64
	Max   float64
}

// Tuning is the subset of Config that can change while the engine runs.
type Tuning struct {
	Alpha  float64
	Reward RewardPolicy
}

// Config holds engine parameters.
type Config struct {
	// Alpha weights the exploration bonus. Zero means pure exploitation.
	Alpha        float64
	Dimension    int
	Epsilon      float64
	ModelVersion string
	Reward       RewardPolicy
	FlushMode    FlushMode
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Alpha:        0.5,
		Dimension:    features.Dimension,
		Epsilon:      DefaultEpsilon,
		ModelVersion: DefaultModelVersion,
		Reward:       RewardPolicy{Min: 0, Max: 1},
		FlushMode:    FlushSync,
	}
}

// Validate checks the engine parameters.
func (c Config) Validate() error {
	if math.IsNaN(c.Alpha) || math.IsInf(c.Alpha, 0) {
		return errors.New("alpha must be finite")
	}
	if c.Alpha < 0 {
		return fmt.Errorf("%w, got %v", ErrNegativeAlpha, c.Alpha)
	}
	if c.Dimension < 1 {
		return fmt.Errorf("dimension must be >= 1, got %d", c.Dimension)
	}
	if !(c.Epsilon > 0) || math.IsInf(c.Epsilon, 0) {
		return fmt.Errorf("epsilon must be a positive finite number, got %v", c.Epsilon)
	}
	if c.Reward.Clamp && c.Reward.Min > c.Reward.Max {
		return fmt.Errorf("reward min %v exceeds max %v", c.Reward.Min, c.Reward.Max)
	}
	switch c.FlushMode {
	case FlushSync, FlushAsync:
	default:
		return fmt.Errorf("flush mode must be %q or %q, got %q", FlushSync, FlushAsync, c.FlushMode)
	}
	return nil
}

// clamp applies the reward policy and reports whether r changed.
func (p RewardPolicy) clamp(r float64) (float64, bool) {
	if !p.Clamp {
		return r, false
	}
	c := math.Min(math.Max(r, p.Min), p.Max)
	return c, c != r
}
