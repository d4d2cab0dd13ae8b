package inference

import (
	"errors"
	"fmt"
)

// ErrNoImages is returned when a run is requested without any images
var ErrNoImages = errors.New("no images supplied")

// MissingDependencyError means the inference backend cannot start, because one of its
// prerequisites (runtime library, model files, device) is unavailable.
type MissingDependencyError struct {
	Prerequisite string
	Err          error
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("Inference backend unavailable (%v): %v", e.Prerequisite, e.Err)
}

func (e *MissingDependencyError) Unwrap() error {
	return e.Err
}

// ModelLoadError means a checkpoint could not be read or applied to the model
type ModelLoadError struct {
	Label string
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("Failed to load weights from %v: %v", e.Label, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}
