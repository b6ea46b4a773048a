package bandit

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is wrapped by every *DimensionError.
	ErrDimensionMismatch = errors.New("feature vector dimension mismatch")

	// ErrNonFiniteFeature rejects NaN or infinite feature components.
	ErrNonFiniteFeature = errors.New("feature vector contains NaN or Inf")

	// ErrNonFiniteReward rejects NaN or infinite rewards.
	ErrNonFiniteReward = errors.New("reward is NaN or Inf")

	// ErrEmptyArmID rejects an empty arm identifier.
	ErrEmptyArmID = errors.New("arm id is empty")

	// ErrLengthMismatch means ids and vectors passed together differ in count.
	ErrLengthMismatch = errors.New("arm ids and feature vectors differ in length")

	// ErrNegativeAlpha rejects a negative exploration weight.
	ErrNegativeAlpha = errors.New("alpha must be >= 0")

	// ErrArmNotFound is returned by Inspect for an arm that has never been
	// scored or updated.
	ErrArmNotFound = errors.New("arm not found")

	// ErrClosed is returned by Update after Close.
	ErrClosed = errors.New("engine is closed")
)

// DimensionError reports a feature vector of the wrong length.
type DimensionError struct {
	Op    string
	ArmID string
	Want  int
	Got   int
}

func (e *DimensionError) Error() string {
	if e.ArmID == "" {
		return fmt.Sprintf("%s: feature vector has length %d, expected %d", e.Op, e.Got, e.Want)
	}
	return fmt.Sprintf("%s arm %q: feature vector has length %d, expected %d", e.Op, e.ArmID, e.Got, e.Want)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// IsValidation reports whether err was caused by bad caller input rather
// than an internal failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrNonFiniteFeature) ||
		errors.Is(err, ErrNonFiniteReward) ||
		errors.Is(err, ErrEmptyArmID) ||
		errors.Is(err, ErrLengthMismatch)
}
