// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stride models the interpreter phase ladder.
//
// A PyExec names how far the running process image has progressed:
//
//	py_exec_unknown < py_exec_arbitrary < py_exec_required < py_exec_venv
//	    < py_exec_deps_updated < py_exec_src_updated < py_exec_client_updated
//
// The value travels between process images in PROTOPRIMER_PY_EXEC. A Stride
// is the same ladder with an extra bottom rung, stride_started, for a brand
// new process that has not claimed any milestone yet. The Cursor enforces
// that a run only ever climbs.
package stride

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownPyExec is returned when a PyExec name is not on the ladder.
	ErrUnknownPyExec = errors.New("unknown py_exec name")

	// ErrStrideRegression is returned when a cursor is asked to step down.
	ErrStrideRegression = errors.New("stride must not decrease")
)

// =============================================================================
// PyExec
// =============================================================================

// PyExec is a category of the running interpreter.
type PyExec int

const (
	PyExecUnknown       PyExec = -1
	PyExecArbitrary     PyExec = 1
	PyExecRequired      PyExec = 2
	PyExecVenv          PyExec = 3
	PyExecDepsUpdated   PyExec = 4
	PyExecSrcUpdated    PyExec = 5
	PyExecClientUpdated PyExec = 6
)

var pyExecNames = map[PyExec]string{
	PyExecUnknown:       "py_exec_unknown",
	PyExecArbitrary:     "py_exec_arbitrary",
	PyExecRequired:      "py_exec_required",
	PyExecVenv:          "py_exec_venv",
	PyExecDepsUpdated:   "py_exec_deps_updated",
	PyExecSrcUpdated:    "py_exec_src_updated",
	PyExecClientUpdated: "py_exec_client_updated",
}

// Ladder lists every PyExec in ascending order.
var Ladder = []PyExec{
	PyExecUnknown,
	PyExecArbitrary,
	PyExecRequired,
	PyExecVenv,
	PyExecDepsUpdated,
	PyExecSrcUpdated,
	PyExecClientUpdated,
}

func (p PyExec) String() string {
	if name, ok := pyExecNames[p]; ok {
		return name
	}
	return fmt.Sprintf("py_exec(%d)", int(p))
}

// ParsePyExec converts a ladder name back to its PyExec.
//
// The empty string parses as PyExecUnknown, which is what a fresh process
// sees when PROTOPRIMER_PY_EXEC is unset.
func ParsePyExec(name string) (PyExec, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return PyExecUnknown, nil
	}
	for p, n := range pyExecNames {
		if n == name {
			return p, nil
		}
	}
	return PyExecUnknown, fmt.Errorf("%w: %q (expected one of %s)", ErrUnknownPyExec, name, strings.Join(Names(), ", "))
}

// Names returns every PyExec name in ladder order.
func Names() []string {
	names := make([]string, len(Ladder))
	for i, p := range Ladder {
		names[i] = p.String()
	}
	return names
}

// =============================================================================
// Stride
// =============================================================================

// Stride is a milestone of the phase ladder.
type Stride int

const (
	StrideStarted         Stride = 0
	StridePyArbitrary     Stride = Stride(PyExecArbitrary)
	StridePyRequired      Stride = Stride(PyExecRequired)
	StridePyVenv          Stride = Stride(PyExecVenv)
	StridePyDepsUpdated   Stride = Stride(PyExecDepsUpdated)
	StridePySrcUpdated    Stride = Stride(PyExecSrcUpdated)
	StridePyClientUpdated Stride = Stride(PyExecClientUpdated)
)

var strideNames = map[Stride]string{
	StrideStarted:         "stride_started",
	StridePyArbitrary:     "stride_py_arbitrary",
	StridePyRequired:      "stride_py_required",
	StridePyVenv:          "stride_py_venv",
	StridePyDepsUpdated:   "stride_py_deps_updated",
	StridePySrcUpdated:    "stride_py_src_updated",
	StridePyClientUpdated: "stride_py_client_updated",
}

func (s Stride) String() string {
	if name, ok := strideNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stride(%d)", int(s))
}

// FromPyExec maps an entry PyExec to the stride it guarantees.
func FromPyExec(p PyExec) Stride {
	if p < PyExecArbitrary {
		return StrideStarted
	}
	return Stride(p)
}

// PyExec maps a stride back to the interpreter category it names.
func (s Stride) PyExec() PyExec {
	if s <= StrideStarted {
		return PyExecUnknown
	}
	return PyExec(s)
}

// =============================================================================
// Cursor
// =============================================================================

// Cursor is the running stride of one process image.
//
// # Thread Safety
//
// Not thread-safe. The graph evaluates on a single goroutine.
type Cursor struct {
	current Stride
	history []Stride
}

// NewCursor starts a cursor at the given stride.
func NewCursor(start Stride) *Cursor {
	return &Cursor{current: start, history: []Stride{start}}
}

// Current returns the stride reached so far.
func (c *Cursor) Current() Stride {
	return c.current
}

// Reached reports whether the cursor is at or beyond s.
func (c *Cursor) Reached(s Stride) bool {
	return c.current >= s
}

// Advance moves the cursor to s.
//
// # Outputs
//
//   - error: ErrStrideRegression if s is below the current stride
func (c *Cursor) Advance(s Stride) error {
	if s < c.current {
		return fmt.Errorf("%w: %s -> %s", ErrStrideRegression, c.current, s)
	}
	if s == c.current {
		return nil
	}
	c.current = s
	c.history = append(c.history, s)
	return nil
}

// History returns every stride the cursor has held, oldest first.
func (c *Cursor) History() []Stride {
	return append([]Stride(nil), c.history...)
}
