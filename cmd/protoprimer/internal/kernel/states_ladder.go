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
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/stride"
)

// =============================================================================
// Phase Ladder
// =============================================================================
//
// Exec states either find the cursor already at their stride (the previous
// image climbed there) and return it, or replace the process. Side-effect
// states between two execs act only when the cursor is exactly at the
// stride below them, so each side effect happens in one image per run.

func (c *EnvContext) evalArbitrary(ctx context.Context, n *graph.Node) (any, error) {
	if _, err := graph.Parent[stride.PyExec](ctx, n, InputPyExecVarLoaded); err != nil {
		return nil, err
	}
	if err := c.cursor.Advance(max(c.cursor.Current(), stride.StridePyArbitrary)); err != nil {
		return nil, err
	}
	return c.cursor.Current(), nil
}

// execInputs reads what every process replacement carries forward.
func (c *EnvContext) execInputs(ctx context.Context, n *graph.Node) (string, error) {
	protoCode, err := graph.Parent[string](ctx, n, InputProtoCodeFileAbsPathEvalFinalized)
	if err != nil {
		return "", err
	}
	if _, err := graph.Parent[string](ctx, n, InputStartIDVarLoaded); err != nil {
		return "", err
	}
	if _, err := n.EvalParent(ctx, InputStderrLogLevelEvalFinalized); err != nil {
		return "", err
	}
	return protoCode, nil
}

// climb returns the cursor when it has reached target, or replaces the
// process with python to get there.
func (c *EnvContext) climb(ctx context.Context, n *graph.Node, target stride.Stride, python func() (string, error)) (any, error) {
	if c.cursor.Reached(target) {
		return c.cursor.Current(), nil
	}
	path, err := python()
	if err != nil {
		return nil, err
	}
	protoCode, err := c.execInputs(ctx, n)
	if err != nil {
		return nil, err
	}
	if err := c.replaceProcess(execRequest{target: target, python: path, protoCode: protoCode}); err != nil {
		return nil, err
	}
	// Only an Execer that does not replace the process gets here.
	return nil, fmt.Errorf("exec %s returned without replacing the process", path)
}

func (c *EnvContext) venvPython(ctx context.Context, n *graph.Node) func() (string, error) {
	return func() (string, error) {
		venvDir, err := graph.Parent[string](ctx, n, EnvLocalVenvDirAbsPathEvalFinalized)
		if err != nil {
			return "", err
		}
		return driver.VenvPython(venvDir), nil
	}
}

func (c *EnvContext) evalRequired(ctx context.Context, n *graph.Node) (any, error) {
	if _, err := graph.Parent[stride.Stride](ctx, n, PyExecArbitraryReached); err != nil {
		return nil, err
	}
	return c.climb(ctx, n, stride.StridePyRequired, func() (string, error) {
		python, err := graph.Parent[string](ctx, n, EnvLocalPythonFileAbsPathEvalFinalized)
		if err != nil {
			return "", err
		}
		if _, err := n.EvalParent(ctx, EnvPythonVersionVerified); err != nil {
			return "", err
		}
		return python, nil
	})
}

// newDriver builds the configured package driver.
func (c *EnvContext) newDriver(ctx context.Context, n *graph.Node) (driver.Driver, error) {
	kind, err := graph.Parent[string](ctx, n, EnvPackageDriverEvalFinalized)
	if err != nil {
		return nil, err
	}
	return driver.New(kind, c.deps.PM, c.logger)
}

// evalVenvCreated creates the venv in the py_required image.
func (c *EnvContext) evalVenvCreated(ctx context.Context, n *graph.Node) (any, error) {
	if _, err := graph.Parent[stride.Stride](ctx, n, PyExecRequiredReached); err != nil {
		return nil, err
	}
	venvDir, err := graph.Parent[string](ctx, n, EnvLocalVenvDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	if c.ReadOnly() {
		return nil, fmt.Errorf("%w: would create venv %s", ErrReadOnly, venvDir)
	}

	// Every image from py_required on logs to the env log directory.
	logDir, err := graph.Parent[string](ctx, n, EnvLocalLogDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	if err := c.logger.AttachDir(logDir); err != nil {
		return nil, err
	}
	if c.cursor.Current() != stride.StridePyRequired {
		return venvDir, nil
	}

	tmpDir, err := graph.Parent[string](ctx, n, EnvLocalTmpDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	python, err := graph.Parent[string](ctx, n, EnvLocalPythonFileAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	drv, err := c.newDriver(ctx, n)
	if err != nil {
		return nil, err
	}
	reinstall, err := graph.Parent[bool](ctx, n, InputReinstallEvalFinalized)
	if err != nil {
		return nil, err
	}
	if reinstall {
		if err := drv.RemoveVenv(ctx, venvDir); err != nil {
			return nil, err
		}
	}
	created, err := drv.CreateVenv(ctx, python, venvDir)
	if err != nil {
		return nil, err
	}
	if created {
		c.logger.Info("venv created", "venv", venvDir, "driver", drv.Kind())
	}
	return venvDir, nil
}

func (c *EnvContext) evalVenvReached(ctx context.Context, n *graph.Node) (any, error) {
	if _, err := graph.Parent[string](ctx, n, PyVenvDirCreated); err != nil {
		return nil, err
	}
	return c.climb(ctx, n, stride.StridePyVenv, c.venvPython(ctx, n))
}

// evalDepsInstalled installs the projects in the py_venv image.
//
// Returns whether an install ran.
func (c *EnvContext) evalDepsInstalled(ctx context.Context, n *graph.Node) (any, error) {
	if _, err := graph.Parent[stride.Stride](ctx, n, PyExecVenvReached); err != nil {
		return nil, err
	}
	if c.cursor.Current() != stride.StridePyVenv {
		return false, nil
	}
	venvDir, err := graph.Parent[string](ctx, n, EnvLocalVenvDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	projects, err := graph.Parent[map[string][]string](ctx, n, EnvProjectDescriptorsEvalFinalized)
	if err != nil {
		return nil, err
	}
	reinstall, err := graph.Parent[bool](ctx, n, InputReinstallEvalFinalized)
	if err != nil {
		return nil, err
	}
	drv, err := c.newDriver(ctx, n)
	if err != nil {
		return nil, err
	}
	if !reinstall && drv.StampMatches(venvDir, projects) {
		c.logger.Debug("dependencies up to date", "venv", venvDir)
		return false, nil
	}
	if c.ReadOnly() {
		return nil, fmt.Errorf("%w: would install into %s", ErrReadOnly, venvDir)
	}
	if err := drv.InstallDependencies(ctx, venvDir, projects); err != nil {
		return nil, err
	}
	c.logger.Info("dependencies installed", "venv", venvDir, "projects", len(projects))
	return true, nil
}

func (c *EnvContext) evalDepsUpdated(ctx context.Context, n *graph.Node) (any, error) {
	if _, err := graph.Parent[bool](ctx, n, PyDepsInstalled); err != nil {
		return nil, err
	}
	return c.climb(ctx, n, stride.StridePyDepsUpdated, c.venvPython(ctx, n))
}

// evalRegenerated rewrites the proto-kernel in the py_deps_updated image.
func (c *EnvContext) evalRegenerated(ctx context.Context, n *graph.Node) (any, error) {
	if _, err := graph.Parent[stride.Stride](ctx, n, PyExecDepsUpdatedReached); err != nil {
		return nil, err
	}
	if c.cursor.Current() != stride.StridePyDepsUpdated {
		return regen.Result{}, nil
	}
	protoCode, err := graph.Parent[string](ctx, n, InputProtoCodeFileAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	venvDir, err := graph.Parent[string](ctx, n, EnvLocalVenvDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	if c.ReadOnly() {
		return nil, fmt.Errorf("%w: would regenerate %s", ErrReadOnly, protoCode)
	}
	source, err := c.deps.Locator.Locate(ctx, driver.VenvPython(venvDir))
	if err != nil {
		return nil, err
	}
	return regen.Regenerate(source, protoCode, c.logger)
}

func (c *EnvContext) evalSrcUpdated(ctx context.Context, n *graph.Node) (any, error) {
	if _, err := graph.Parent[regen.Result](ctx, n, ProtoCodeRegenerated); err != nil {
		return nil, err
	}
	return c.climb(ctx, n, stride.StridePySrcUpdated, c.venvPython(ctx, n))
}
