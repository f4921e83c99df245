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
	"os"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/driver"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/graph"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/regen"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/util"
)

// Check is the outcome of one verification.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Check names.
const (
	CheckEnvConf       = "env_conf"
	CheckPythonVersion = "python_version"
	CheckVenv          = "venv"
	CheckDeps          = "deps"
	CheckProtoCode     = "proto_code"
)

// ChecksFailed returns the failed checks.
func ChecksFailed(checks []Check) []Check {
	var failed []Check
	for _, ch := range checks {
		if !ch.OK {
			failed = append(failed, ch)
		}
	}
	return failed
}

func pass(name, detail string) Check {
	return Check{Name: name, OK: true, Detail: detail}
}

func fail(name string, err error) Check {
	return Check{Name: name, Detail: err.Error()}
}

// evalChecks verifies a primed environment without changing it.
//
// Config tier failures abort evaluation; everything after the env file
// is reported as individual checks.
func (c *EnvContext) evalChecks(ctx context.Context, n *graph.Node) (any, error) {
	envFile, err := graph.Parent[ConfFile](ctx, n, EnvConfFileDataLoaded)
	if err != nil {
		return nil, err
	}
	checks := []Check{pass(CheckEnvConf, envFile.Path)}

	if version, err := graph.Parent[string](ctx, n, EnvPythonVersionVerified); err != nil {
		checks = append(checks, fail(CheckPythonVersion, err))
	} else {
		checks = append(checks, pass(CheckPythonVersion, version))
	}

	venvDir, err := graph.Parent[string](ctx, n, EnvLocalVenvDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	kind, err := graph.Parent[string](ctx, n, EnvPackageDriverEvalFinalized)
	if err != nil {
		return nil, err
	}
	projects, err := graph.Parent[map[string][]string](ctx, n, EnvProjectDescriptorsEvalFinalized)
	if err != nil {
		return nil, err
	}
	checks = append(checks, c.checkVenv(venvDir, kind, projects)...)

	protoCode, err := graph.Parent[string](ctx, n, InputProtoCodeFileAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	checks = append(checks, checkProtoCode(protoCode))
	return checks, nil
}

func (c *EnvContext) checkVenv(venvDir, kind string, projects map[string][]string) []Check {
	marker, ok := driver.MarkerKind(venvDir)
	switch {
	case !util.DirExists(venvDir):
		return []Check{
			fail(CheckVenv, fmt.Errorf("%s does not exist", venvDir)),
			fail(CheckDeps, fmt.Errorf("no venv")),
		}
	case !ok:
		return []Check{
			fail(CheckVenv, fmt.Errorf("%s has no protoprimer marker", venvDir)),
			fail(CheckDeps, fmt.Errorf("no venv")),
		}
	case marker != kind:
		return []Check{
			fail(CheckVenv, fmt.Errorf("%w: %s was created by %s, config says %s", driver.ErrWrongVenvKind, venvDir, marker, kind)),
			fail(CheckDeps, fmt.Errorf("no venv")),
		}
	}
	out := []Check{pass(CheckVenv, venvDir)}

	drv, err := driver.New(kind, c.deps.PM, c.logger)
	if err != nil {
		return append(out, fail(CheckDeps, err))
	}
	if !drv.StampMatches(venvDir, projects) {
		return append(out, fail(CheckDeps, fmt.Errorf("installed projects differ from the env config: run prime")))
	}
	return append(out, pass(CheckDeps, fmt.Sprintf("%d project(s)", len(projects))))
}

func checkProtoCode(path string) Check {
	content, err := os.ReadFile(path)
	if err != nil {
		return fail(CheckProtoCode, err)
	}
	if err := regen.VerifyCopy(content); err != nil {
		return fail(CheckProtoCode, fmt.Errorf("%s: %w", path, err))
	}
	return pass(CheckProtoCode, fmt.Sprintf("%s (%d banners)", path, regen.CountBanners(content)))
}
