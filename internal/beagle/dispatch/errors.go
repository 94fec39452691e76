package dispatch

import "errors"

// ErrOutOfRange is returned for an invalid buffer, matrix or partition
// index in an operation.
var ErrOutOfRange = errors.New("dispatch: index out of range")

// ErrNoImplementation is returned when a requested combination of options
// is not supported by this back end — specifically, auto-scaling combined
// with partition-restricted operations (spec.md §9 Open Questions).
var ErrNoImplementation = errors.New("dispatch: not implemented")

// ErrUnidentified wraps a kernel-internal invariant violation.
var ErrUnidentified = errors.New("dispatch: unidentified exception")
