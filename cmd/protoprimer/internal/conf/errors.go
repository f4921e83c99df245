// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conf

import (
	"errors"
	"fmt"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrMissingConfig is returned when a config tier can neither be found nor generated.
	ErrMissingConfig = errors.New("missing config")

	// ErrBadConfig is returned when a config file or field has the wrong shape or value.
	ErrBadConfig = errors.New("bad config")
)

// =============================================================================
// Error Types
// =============================================================================

// FieldError attributes a config failure to a leap, file and field.
//
// # Description
//
// Field is empty when the failure concerns the whole file (unreadable,
// not a JSON object). Err is one of the sentinels above so callers can
// use errors.Is without inspecting the detail.
//
// # Example
//
//	err := &FieldError{Leap: LeapEnv, File: path, Field: FieldEnvPackageDriver,
//	    Err: ErrBadConfig, Detail: `"driver_conda" is not one of driver_pip driver_uv`}
type FieldError struct {
	Leap   Leap
	File   string
	Field  string
	Err    error
	Detail string
}

func (e *FieldError) Error() string {
	msg := fmt.Sprintf("%v in %s config", e.Err, e.Leap)
	if e.File != "" {
		msg += " " + e.File
	}
	if e.Field != "" {
		msg += ": field " + e.Field
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Missing builds an ErrMissingConfig FieldError.
func Missing(leap Leap, file, field, detail string) error {
	return &FieldError{Leap: leap, File: file, Field: field, Err: ErrMissingConfig, Detail: detail}
}

// Bad builds an ErrBadConfig FieldError.
func Bad(leap Leap, file, field, detail string) error {
	return &FieldError{Leap: leap, File: file, Field: field, Err: ErrBadConfig, Detail: detail}
}
