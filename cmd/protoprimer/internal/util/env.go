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
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Package-level Variables
// =============================================================================

// envVarKeyPattern validates environment variable key names.
// Keys must start with a letter or underscore and contain only
// alphanumeric characters and underscores.
var envVarKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrInvalidEnvVarKey is returned when an environment variable key is invalid.
var ErrInvalidEnvVarKey = fmt.Errorf("invalid environment variable key")

// =============================================================================
// EnvVar Type
// =============================================================================

// EnvVar represents a single environment variable.
type EnvVar struct {
	// Key is the environment variable name.
	Key string

	// Value is the environment variable value. May be empty.
	Value string
}

// String returns the KEY=VALUE format used by execve.
func (e EnvVar) String() string {
	return fmt.Sprintf("%s=%s", e.Key, e.Value)
}

// Validate checks if the key is valid.
//
// # Description
//
// Validates the key against POSIX naming conventions.
//
// # Outputs
//
//   - error: ErrInvalidEnvVarKey wrapped with details if key is invalid
func (e EnvVar) Validate() error {
	if !envVarKeyPattern.MatchString(e.Key) {
		return fmt.Errorf("%w: %q must match pattern [a-zA-Z_][a-zA-Z0-9_]*", ErrInvalidEnvVarKey, e.Key)
	}
	return nil
}

// =============================================================================
// EnvVars Type
// =============================================================================

// EnvVars is an ordered environment.
//
// # Description
//
// Holds the environment handed to the next process image. Order of first
// insertion is preserved so the resulting slice is stable across runs,
// and Set replaces an existing key in place rather than appending a
// duplicate (execve would otherwise pass both values).
//
// # Thread Safety
//
// EnvVars is NOT thread-safe.
//
// # Example
//
//	envs := FromEnviron(os.Environ())
//	envs.MustSet("PROTOPRIMER_START_ID", startID)
//	argvEnv := envs.ToSlice()
type EnvVars struct {
	vars  []EnvVar
	index map[string]int
}

// EmptyEnvVars creates an empty environment.
func EmptyEnvVars() *EnvVars {
	return &EnvVars{index: make(map[string]int)}
}

// FromEnviron builds EnvVars from os.Environ()-style KEY=VALUE entries.
//
// # Description
//
// Entries without '=' are ignored. Entries whose key fails validation
// are kept verbatim: the inherited environment may legitimately carry
// names the primer itself would never set (e.g. shell function exports).
//
// # Inputs
//
//   - environ: Entries in KEY=VALUE form
//
// # Outputs
//
//   - *EnvVars: Environment with later duplicates overriding earlier ones
func FromEnviron(environ []string) *EnvVars {
	e := EmptyEnvVars()
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		e.set(key, value)
	}
	return e
}

// Set adds or replaces a variable.
//
// # Outputs
//
//   - error: ErrInvalidEnvVarKey if key is invalid
func (e *EnvVars) Set(key, value string) error {
	ev := EnvVar{Key: key, Value: value}
	if err := ev.Validate(); err != nil {
		return err
	}
	e.set(key, value)
	return nil
}

// MustSet is like Set but panics on an invalid key.
//
// Use only with compile-time constant keys.
func (e *EnvVars) MustSet(key, value string) {
	if err := e.Set(key, value); err != nil {
		panic(err)
	}
}

func (e *EnvVars) set(key, value string) {
	if i, ok := e.index[key]; ok {
		e.vars[i].Value = value
		return
	}
	e.index[key] = len(e.vars)
	e.vars = append(e.vars, EnvVar{Key: key, Value: value})
}

// Unset removes a variable if present.
func (e *EnvVars) Unset(key string) {
	i, ok := e.index[key]
	if !ok {
		return
	}
	e.vars = append(e.vars[:i], e.vars[i+1:]...)
	delete(e.index, key)
	for j := i; j < len(e.vars); j++ {
		e.index[e.vars[j].Key] = j
	}
}

// Get returns the value for key, or "" when absent.
func (e *EnvVars) Get(key string) string {
	if i, ok := e.index[key]; ok {
		return e.vars[i].Value
	}
	return ""
}

// Lookup returns the value for key and whether it is present.
func (e *EnvVars) Lookup(key string) (string, bool) {
	i, ok := e.index[key]
	if !ok {
		return "", false
	}
	return e.vars[i].Value, true
}

// Has reports whether key is present.
func (e *EnvVars) Has(key string) bool {
	_, ok := e.index[key]
	return ok
}

// Len returns the number of variables.
func (e *EnvVars) Len() int {
	return len(e.vars)
}

// ToSlice returns KEY=VALUE entries in insertion order.
func (e *EnvVars) ToSlice() []string {
	result := make([]string, len(e.vars))
	for i, v := range e.vars {
		result[i] = v.String()
	}
	return result
}

// ToMap returns a copy of the variables as a map.
func (e *EnvVars) ToMap() map[string]string {
	result := make(map[string]string, len(e.vars))
	for _, v := range e.vars {
		result[v.Key] = v.Value
	}
	return result
}

// Clone returns an independent copy.
func (e *EnvVars) Clone() *EnvVars {
	c := EmptyEnvVars()
	for _, v := range e.vars {
		c.set(v.Key, v.Value)
	}
	return c
}
