// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package process abstracts subprocess execution.

All package-manager and interpreter-probe invocations go through the
Manager interface so that the driver and the version check can be tested
without a Python installation.

Process replacement (execve) is not a subprocess and lives behind the
kernel's Execer instead.
*/
package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/util"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Manager handles external process operations.
//
// # Context Handling
//
// All methods accept a context.Context; cancellation kills the child.
type Manager interface {
	// Run executes a command synchronously and returns its stdout.
	//
	// # Description
	//
	// Executes the command and waits for completion. On a non-zero exit
	// the returned error is a *util.CommandError carrying the exit code
	// and trimmed stderr.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation
	//   - name: The executable name or path
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - []byte: Captured stdout
	//   - error: *util.CommandError if the command fails
	//
	// # Examples
	//
	//   out, err := pm.Run(ctx, "/usr/bin/python3", "-c", "import sys; print(sys.version)")
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultManager implements Manager using os/exec.
type DefaultManager struct {
	// Env overrides the child environment when non-nil.
	Env []string
}

// NewDefaultManager creates a Manager that executes real processes.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run executes a command synchronously and returns its stdout.
func (pm *DefaultManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if pm.Env != nil {
		cmd.Env = pm.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return stdout.Bytes(), util.NewCommandError(CommandLine(name, args...), exitCode, stderr.String(), err)
	}

	return stdout.Bytes(), nil
}

// CommandLine joins a command for display in errors and logs.
func CommandLine(name string, args ...string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockManager is a test double for Manager.
//
// Configure the mock by setting RunFunc before use. A nil RunFunc makes
// every call succeed with empty output.
//
// # Examples
//
//	mock := &MockManager{
//	    RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
//	        return []byte("3.11.4\n"), nil
//	    },
//	}
type MockManager struct {
	// RunFunc is called when Run is invoked
	RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

	// Calls records all method invocations for verification
	Calls []Call

	mu sync.Mutex
}

// Call records a single invocation.
type Call struct {
	Name string
	Args []string
}

// Line returns the call as a single command line.
func (c Call) Line() string {
	return CommandLine(c.Name, c.Args...)
}

// Run delegates to RunFunc and records the call.
func (m *MockManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{Name: name, Args: append([]string(nil), args...)})
	fn := m.RunFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, name, args...)
}

// GetCalls returns a copy of all recorded calls.
func (m *MockManager) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Call, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Reset clears all recorded calls.
func (m *MockManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// Compile-time interface compliance check.
var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
)
