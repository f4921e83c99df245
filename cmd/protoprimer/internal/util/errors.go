// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Subprocess Failures
// =============================================================================

// ErrSubprocessFail is the sentinel every CommandError matches with errors.Is.
var ErrSubprocessFail = errors.New("subprocess failed")

// CommandError is a package-manager or interpreter run that exited non-zero.
//
// The message prefers the child's stderr over the wrapped error, since
// pip and uv put the actionable part there.
//
//	err := NewCommandError("uv pip install", 2, "no matching distribution", exitErr)
//	err.Error()                       // "uv pip install (exit 2): no matching distribution"
//	errors.Is(err, ErrSubprocessFail) // true
type CommandError struct {
	Command  string
	ExitCode int // -1 when the process never ran
	Stderr   string
	Wrapped  error
}

func (e *CommandError) Error() string {
	detail := e.Stderr
	if detail == "" && e.Wrapped != nil {
		detail = e.Wrapped.Error()
	}
	if detail == "" {
		return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, detail)
}

func (e *CommandError) Unwrap() error { return e.Wrapped }

// Is matches ErrSubprocessFail.
func (e *CommandError) Is(target error) bool { return target == ErrSubprocessFail }

// NewCommandError builds a CommandError; stderr is trimmed.
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{Command: cmd, ExitCode: exitCode, Stderr: strings.TrimSpace(stderr), Wrapped: wrapped}
}
