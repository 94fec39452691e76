package beagle

import (
	"errors"
	"fmt"

	"github.com/matsengrp/beagle-lib/internal/beagle/buffers"
	"github.com/matsengrp/beagle-lib/internal/beagle/dispatch"
	"github.com/matsengrp/beagle-lib/internal/beagle/eigen"
	"github.com/matsengrp/beagle-lib/internal/beagle/patterns"
	"github.com/matsengrp/beagle-lib/internal/beagle/reduce"
	"github.com/matsengrp/beagle-lib/internal/beagle/scale"
)

// ErrorCode mirrors the original library's negative integer error
// codes, so a caller migrating from the C API sees the same values.
type ErrorCode int

const (
	Success                ErrorCode = 0
	ErrorOutOfRange        ErrorCode = -1
	ErrorOutOfMemory       ErrorCode = -2
	ErrorUnidentified      ErrorCode = -3
	ErrorFloatingPoint     ErrorCode = -4
	ErrorNoImplementation  ErrorCode = -5
)

func (c ErrorCode) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case ErrorOutOfRange:
		return "OUT_OF_RANGE"
	case ErrorOutOfMemory:
		return "OUT_OF_MEMORY"
	case ErrorUnidentified:
		return "UNIDENTIFIED_EXCEPTION"
	case ErrorFloatingPoint:
		return "FLOATING_POINT_ERROR"
	case ErrorNoImplementation:
		return "NO_IMPLEMENTATION"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Error wraps a package-level sentinel from an internal/beagle/...
// subpackage with the ErrorCode a caller of the original C API would
// have received, while still supporting errors.Is/errors.As against the
// originating sentinel via Unwrap.
type Error struct {
	Code ErrorCode
	Op   string
	err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("beagle: %s: %s: %v", e.Op, e.Code, e.err)
	}
	return fmt.Sprintf("beagle: %s: %v", e.Code, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// wrapErr maps err to a beagle.Error carrying the ErrorCode matching
// whichever internal sentinel it wraps, per spec.md §7's propagation
// table. A nil err returns nil.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	code := ErrorUnidentified
	switch {
	case errors.Is(err, buffers.ErrOutOfMemory):
		code = ErrorOutOfMemory
	case errors.Is(err, patterns.ErrOutOfRange),
		errors.Is(err, eigen.ErrOutOfRange),
		errors.Is(err, scale.ErrOutOfRange),
		errors.Is(err, dispatch.ErrOutOfRange):
		code = ErrorOutOfRange
	case errors.Is(err, reduce.ErrNonPositiveLikelihood):
		code = ErrorFloatingPoint
	case errors.Is(err, dispatch.ErrNoImplementation):
		code = ErrorNoImplementation
	case errors.Is(err, dispatch.ErrUnidentified):
		code = ErrorUnidentified
	}
	return &Error{Code: code, Op: op, err: err}
}
