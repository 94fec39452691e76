package beagle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsengrp/beagle-lib/internal/beagle/buffers"
	"github.com/matsengrp/beagle-lib/internal/beagle/dispatch"
	"github.com/matsengrp/beagle-lib/internal/beagle/eigen"
	"github.com/matsengrp/beagle-lib/internal/beagle/patterns"
	"github.com/matsengrp/beagle-lib/internal/beagle/reduce"
	"github.com/matsengrp/beagle-lib/internal/beagle/scale"
)

func TestErrorCodeStrings(t *testing.T) {
	t.Parallel()
	cases := map[ErrorCode]string{
		Success:               "SUCCESS",
		ErrorOutOfRange:       "OUT_OF_RANGE",
		ErrorOutOfMemory:      "OUT_OF_MEMORY",
		ErrorUnidentified:     "UNIDENTIFIED_EXCEPTION",
		ErrorFloatingPoint:    "FLOATING_POINT_ERROR",
		ErrorNoImplementation: "NO_IMPLEMENTATION",
	}
	for code, want := range cases {
		assert.Equal(t, want, code.String())
	}
	assert.Contains(t, ErrorCode(42).String(), "42")
}

func TestWrapErrNilIsNil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, wrapErr("Op", nil))
}

func TestWrapErrMapsOutOfMemory(t *testing.T) {
	t.Parallel()
	err := wrapErr("Create", buffers.ErrOutOfMemory)
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, ErrorOutOfMemory, be.Code)
	assert.ErrorIs(t, err, buffers.ErrOutOfMemory)
}

func TestWrapErrMapsOutOfRangeAcrossSubpackages(t *testing.T) {
	t.Parallel()
	for _, sentinel := range []error{patterns.ErrOutOfRange, eigen.ErrOutOfRange, scale.ErrOutOfRange, dispatch.ErrOutOfRange} {
		err := wrapErr("SetTipStates", sentinel)
		var be *Error
		require.True(t, errors.As(err, &be))
		assert.Equal(t, ErrorOutOfRange, be.Code)
	}
}

func TestWrapErrMapsFloatingPointError(t *testing.T) {
	t.Parallel()
	err := wrapErr("CalculateRootLogLikelihoods", reduce.ErrNonPositiveLikelihood)
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, ErrorFloatingPoint, be.Code)
}

func TestWrapErrMapsNoImplementation(t *testing.T) {
	t.Parallel()
	err := wrapErr("UpdatePartialsByPartition", dispatch.ErrNoImplementation)
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, ErrorNoImplementation, be.Code)
}

func TestWrapErrDefaultsToUnidentified(t *testing.T) {
	t.Parallel()
	err := wrapErr("Op", errors.New("something else"))
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, ErrorUnidentified, be.Code)
}

func TestErrorMessageIncludesOpAndCode(t *testing.T) {
	t.Parallel()
	err := wrapErr("SetTipStates", dispatch.ErrOutOfRange)
	assert.Contains(t, err.Error(), "SetTipStates")
	assert.Contains(t, err.Error(), "OUT_OF_RANGE")
}
