// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

// These are programming errors in the state definitions. None of them is
// recoverable at runtime.
var (
	// ErrDuplicateState is returned when a state name is registered twice.
	ErrDuplicateState = errors.New("duplicate state")

	// ErrUnknownState is returned when a name is not registered.
	ErrUnknownState = errors.New("unknown state")

	// ErrUndeclaredParent is returned when a node reads a parent it did not declare.
	ErrUndeclaredParent = errors.New("undeclared parent")

	// ErrMissingState is returned by Validate when an expected state is not registered.
	ErrMissingState = errors.New("state not registered")

	// ErrCycle is returned when the parent relation is not acyclic.
	ErrCycle = errors.New("state cycle detected")

	// ErrValueType is returned when a parent's cached value has an unexpected type.
	ErrValueType = errors.New("unexpected state value type")

	// ErrNoEvaluator is returned when a node was built without an eval function.
	ErrNoEvaluator = errors.New("state has no evaluator")
)

// =============================================================================
// Error Types
// =============================================================================

// StateError attributes a failure to the state whose evaluation raised it.
//
// # Description
//
// Only the innermost failing state wraps the cause. Parents re-raising the
// same failure return it unchanged so the message names the state where
// the problem actually happened.
type StateError struct {
	// State is the name of the failing state.
	State string

	// Err is the underlying cause.
	Err error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: %v", e.State, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// CycleError reports a cycle as the path that closes it.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCycle, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycle
}

// wrapStateError attaches name unless err already carries a state.
func wrapStateError(name string, err error) error {
	var stateErr *StateError
	if errors.As(err, &stateErr) {
		return err
	}
	return &StateError{State: name, Err: err}
}
