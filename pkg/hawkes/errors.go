package hawkes

import "github.com/pkg/errors"

var (
	// ErrInvalidConfiguration is returned when a discretization parameter is
	// non-positive or when conflicting grid settings are supplied together.
	ErrInvalidConfiguration = errors.New("invalid discretization configuration")

	// ErrDimensionMismatch is returned when input shapes disagree with the
	// inferred number of nodes or the configured kernel size.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrUnsortedEvents is returned when a timestamp sequence decreases.
	// Input is never sorted silently.
	ErrUnsortedEvents = errors.New("unsorted event timestamps")

	// ErrEmptyInput is returned when no realization is supplied.
	ErrEmptyInput = errors.New("empty input")
)
