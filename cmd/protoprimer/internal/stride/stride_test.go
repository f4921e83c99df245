// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stride

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLadder_IsStrictlyAscending(t *testing.T) {
	for i := 1; i < len(Ladder); i++ {
		assert.Less(t, int(Ladder[i-1]), int(Ladder[i]))
	}
	assert.Equal(t, -1, int(PyExecUnknown))
	assert.Equal(t, 6, int(PyExecClientUpdated))
}

func TestParsePyExec(t *testing.T) {
	for _, p := range Ladder {
		got, err := ParsePyExec(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	got, err := ParsePyExec("")
	require.NoError(t, err)
	assert.Equal(t, PyExecUnknown, got)

	_, err = ParsePyExec("py_exec_bogus")
	assert.ErrorIs(t, err, ErrUnknownPyExec)
}

func TestStride_PyExecMapping(t *testing.T) {
	assert.Equal(t, StrideStarted, FromPyExec(PyExecUnknown))
	assert.Equal(t, StridePyVenv, FromPyExec(PyExecVenv))
	assert.Equal(t, PyExecUnknown, StrideStarted.PyExec())
	assert.Equal(t, PyExecSrcUpdated, StridePySrcUpdated.PyExec())
	assert.Equal(t, "stride_py_deps_updated", StridePyDepsUpdated.String())
	assert.Equal(t, "stride(42)", Stride(42).String())
	assert.Equal(t, "py_exec(42)", PyExec(42).String())
}

func TestCursor_Monotonic(t *testing.T) {
	c := NewCursor(StrideStarted)

	require.NoError(t, c.Advance(StridePyArbitrary))
	require.NoError(t, c.Advance(StridePyArbitrary))
	require.NoError(t, c.Advance(StridePyVenv))

	assert.True(t, c.Reached(StridePyRequired))
	assert.False(t, c.Reached(StridePyDepsUpdated))

	err := c.Advance(StridePyRequired)
	assert.ErrorIs(t, err, ErrStrideRegression)
	assert.Equal(t, StridePyVenv, c.Current())
	assert.Equal(t, []Stride{StrideStarted, StridePyArbitrary, StridePyVenv}, c.History())
}
