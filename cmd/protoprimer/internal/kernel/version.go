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
	"context"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/graph"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/util"
)

// MinPythonVersion is the oldest interpreter the proto-kernel runs on.
const MinPythonVersion = "3.8.0"

// versionProbe prints the interpreter version as MAJOR.MINOR.PATCH.
const versionProbe = "import sys; print('%d.%d.%d' % sys.version_info[:3])"

// CheckPythonVersion compares a probed version against MinPythonVersion.
//
// # Outputs
//
//   - error: ErrPrecondVersion if version is older or unparsable
func CheckPythonVersion(version string) error {
	v := "v" + strings.TrimPrefix(strings.TrimSpace(version), "v")
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: cannot parse interpreter version %q", ErrPrecondVersion, version)
	}
	if semver.Compare(v, "v"+MinPythonVersion) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrPrecondVersion, strings.TrimPrefix(v, "v"), MinPythonVersion)
	}
	return nil
}

func (c *EnvContext) evalPythonVersion(ctx context.Context, n *graph.Node) (any, error) {
	python, err := graph.Parent[string](ctx, n, EnvLocalPythonFileAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	if !util.IsExecutable(python) {
		return nil, fmt.Errorf("%w: %s is not an executable file", ErrPrecondVersion, python)
	}
	out, err := c.deps.PM.Run(ctx, python, "-c", versionProbe)
	if err != nil {
		return nil, fmt.Errorf("probe %s version: %w", python, err)
	}
	version := strings.TrimSpace(string(out))
	if err := CheckPythonVersion(version); err != nil {
		return nil, fmt.Errorf("%s: %w", python, err)
	}
	c.logger.Debug("interpreter version verified", "python", python, "version", version)
	return version, nil
}
