package kde

import "errors"

var (
	// ErrInvalidConfig reports a parameter or dimension the model cannot be
	// built with. Configuration is never clamped silently.
	ErrInvalidConfig = errors.New("kde: invalid configuration")

	// ErrOutOfOrder reports an operation called in the wrong lifecycle
	// state, for example ClassifyAndUpdate while still learning.
	ErrOutOfOrder = errors.New("kde: operation not valid in current state")

	// ErrFrameSize reports a frame or mask whose length does not match the
	// dimensions fixed at construction.
	ErrFrameSize = errors.New("kde: frame size mismatch")

	// ErrAllocation reports that the model's backing arrays could not be
	// allocated within the configured budget.
	ErrAllocation = errors.New("kde: allocation failed")
)
