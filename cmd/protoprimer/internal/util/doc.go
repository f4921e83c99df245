// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package util provides foundational utilities for the primer.
//
// This package contains low-level utilities that have no dependencies on
// other internal packages, making it a leaf package in the dependency graph.
//
// # Overview
//
//   - Environment Variables: ordered, validated environment for execve
//   - Command Errors: rich error wrapping for subprocess failures
//   - File Writes: atomic replace-by-rename and byte-identical skip
//
// # Key Types
//
// Environment variables:
//
//	envs := util.FromEnviron(os.Environ())
//	envs.MustSet("PROTOPRIMER_PY_EXEC", "py_exec_venv")
//	unix.Exec(path, argv, envs.ToSlice())
//
// Command errors:
//
//	err := util.NewCommandError("python -m venv venv", 1, stderr, originalErr)
//	var cmdErr *util.CommandError
//	if errors.As(err, &cmdErr) {
//	    fmt.Println(cmdErr.Stderr)
//	}
//
// Atomic writes:
//
//	changed, err := util.WriteFileAtomic(path, data, 0o644)
//
// # Thread Safety
//
// [EnvVars] is NOT thread-safe. The primer is single-threaded, so none of
// these types synchronize.
package util
