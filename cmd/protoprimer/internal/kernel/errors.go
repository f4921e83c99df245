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

import "errors"

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrPrecondVersion is returned when the required interpreter is too old.
	ErrPrecondVersion = errors.New("interpreter below minimum version")

	// ErrReadOnly is returned when a read-only run would have to change something.
	ErrReadOnly = errors.New("refusing to modify the environment in a read-only run")

	// ErrProcessReplaced is returned by Execer implementations that do not
	// actually replace the process. Evaluation stops at the exec point.
	ErrProcessReplaced = errors.New("process replaced")

	// ErrUnknownRunMode is returned for a run mode outside the known set.
	ErrUnknownRunMode = errors.New("unknown run mode")

	// ErrBadWizardStage is returned for an unknown --wizard_stage value.
	ErrBadWizardStage = errors.New("unknown wizard stage")

	// ErrChecksFailed is returned when at least one verification check fails.
	ErrChecksFailed = errors.New("environment checks failed")
)
