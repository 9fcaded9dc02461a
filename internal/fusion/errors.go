package fusion

import (
	"errors"
	"fmt"
)

// Validation errors are detected before any model training starts.
var (
	// ErrNoOverlap means no shared feature columns remained after
	// exclusions. Supplying explicit overlap features corrects it.
	ErrNoOverlap = errors.New("no overlapping feature columns between datasets")

	// ErrNoTargets means neither dataset has an exclusive target column.
	// Supplying explicit targets corrects it.
	ErrNoTargets = errors.New("no target columns on either side")

	// ErrConfiguration marks an invalid configuration value.
	ErrConfiguration = errors.New("invalid fusion configuration")
)

// TargetError wraps a per-target training or prediction failure with the
// direction and target it belongs to, so callers can report which part of
// the fusion failed without discarding the other targets.
type TargetError struct {
	Direction string // "A->B" or "B->A"
	Target    string
	Err       error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("target %q (%s): %v", e.Target, e.Direction, e.Err)
}

func (e *TargetError) Unwrap() error { return e.Err }
