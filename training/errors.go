package training

import (
	"errors"
)

// Error taxonomy for the training core. All construction and shape failures
// wrap one of these sentinels so callers can match with errors.Is.
var (
	// ErrShapeMismatch reports tensor dimension disagreement between
	// prediction, target, confidence or availability tensors.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrUnknownComponent reports an unresolvable model, optimizer,
	// scheduler or saliency strategy name. Raised at construction, before
	// any training step runs.
	ErrUnknownComponent = errors.New("unknown component name")

	// ErrInvalidConfig reports a hyperparameter value outside its valid
	// range, rejected at construction.
	ErrInvalidConfig = errors.New("invalid configuration")
)
