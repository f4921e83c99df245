// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// =============================================================================
// Execer
// =============================================================================

// Execer replaces the running process image.
type Execer interface {
	// Exec replaces the process with argv0 run as argv under env.
	//
	// On success a real implementation never returns.
	Exec(argv0 string, argv []string, env []string) error
}

// UnixExecer calls execve(2).
type UnixExecer struct{}

// Exec calls unix.Exec.
func (UnixExecer) Exec(argv0 string, argv []string, env []string) error {
	if err := unix.Exec(argv0, argv, env); err != nil {
		return fmt.Errorf("exec %s: %w", argv0, err)
	}
	return nil
}

// ExecCall is one recorded process replacement.
type ExecCall struct {
	Path string
	Argv []string
	Env  []string
}

// Getenv returns the value of key in the recorded environment.
func (c ExecCall) Getenv(key string) string {
	prefix := key + "="
	value := ""
	for _, kv := range c.Env {
		if strings.HasPrefix(kv, prefix) {
			value = strings.TrimPrefix(kv, prefix)
		}
	}
	return value
}

// RecordingExecer records exec calls and returns ErrProcessReplaced.
//
// # Thread Safety
//
// Safe for concurrent use.
type RecordingExecer struct {
	mu    sync.Mutex
	calls []ExecCall
}

// Exec records the call.
func (r *RecordingExecer) Exec(argv0 string, argv []string, env []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ExecCall{
		Path: argv0,
		Argv: append([]string(nil), argv...),
		Env:  append([]string(nil), env...),
	})
	return ErrProcessReplaced
}

// Calls returns a copy of the recorded calls.
func (r *RecordingExecer) Calls() []ExecCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ExecCall(nil), r.calls...)
}

// Last returns the most recent call.
func (r *RecordingExecer) Last() (ExecCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return ExecCall{}, false
	}
	return r.calls[len(r.calls)-1], true
}

// Compile-time interface compliance check.
var (
	_ Execer = UnixExecer{}
	_ Execer = (*RecordingExecer)(nil)
)
