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
	"path/filepath"
	"slices"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/conf"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/graph"
)

// =============================================================================
// Input Leap
// =============================================================================

func (c *EnvContext) evalStderrLogLevel(context.Context, *graph.Node) (any, error) {
	return c.level, nil
}

func (c *EnvContext) evalRunMode(context.Context, *graph.Node) (any, error) {
	mode := c.args.RunMode
	if mode == "" {
		mode = ModePrime
	}
	if !slices.Contains(RunModes, mode) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRunMode, mode)
	}
	return mode, nil
}

// DefaultFinalState returns the state a mode evaluates when --final_state
// is not given.
func DefaultFinalState(mode RunMode) string {
	switch mode {
	case ModeCheck:
		return ChecksVerified
	case ModeConfig:
		return EnvConfFileDataLoaded
	default:
		return PyExecSrcUpdatedReached
	}
}

func (c *EnvContext) evalFinalState(ctx context.Context, n *graph.Node) (any, error) {
	mode, err := graph.Parent[RunMode](ctx, n, InputRunModeArgLoaded)
	if err != nil {
		return nil, err
	}
	if c.args.FinalState == "" {
		return DefaultFinalState(mode), nil
	}
	if mode != ModePrime {
		return nil, fmt.Errorf("--final_state is only accepted by %s, not %s", ModePrime, mode)
	}
	if !IsStateName(c.args.FinalState) {
		return nil, &graph.StateError{State: c.args.FinalState, Err: graph.ErrUnknownState}
	}
	return c.args.FinalState, nil
}

func (c *EnvContext) evalWizardStage(context.Context, *graph.Node) (any, error) {
	switch c.args.WizardStage {
	case "":
		return WizardFinished, nil
	case WizardStarted, WizardFinished:
		return c.args.WizardStage, nil
	default:
		return nil, fmt.Errorf("%w: %q (expected %s or %s)", ErrBadWizardStage, c.args.WizardStage, WizardStarted, WizardFinished)
	}
}

func (c *EnvContext) evalReinstall(ctx context.Context, n *graph.Node) (any, error) {
	mode, err := graph.Parent[RunMode](ctx, n, InputRunModeArgLoaded)
	if err != nil {
		return nil, err
	}
	return c.args.Reinstall || mode == ModeUpgrade, nil
}

func (c *EnvContext) evalStartID(context.Context, *graph.Node) (any, error) {
	return c.startID, nil
}

func (c *EnvContext) evalPyExecVar(context.Context, *graph.Node) (any, error) {
	return c.pyExec, nil
}

func (c *EnvContext) evalCwd(context.Context, *graph.Node) (any, error) {
	cwd, err := c.deps.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	return filepath.Clean(cwd), nil
}

// absFrom makes p absolute against dir.
func absFrom(dir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(dir, p)
}

func (c *EnvContext) evalRefRootArg(ctx context.Context, n *graph.Node) (any, error) {
	if c.args.RefRoot == "" {
		return "", nil
	}
	cwd, err := graph.Parent[string](ctx, n, InputCwdDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	return absFrom(cwd, c.args.RefRoot), nil
}

func (c *EnvContext) evalEnvArg(context.Context, *graph.Node) (any, error) {
	return c.args.EnvDir, nil
}

// evalProtoCodeFile locates the proto-kernel script.
//
// Order: --proto_code, PROTOPRIMER_PROTO_CODE, <ref root arg>/proto_kernel.py,
// <cwd>/proto_kernel.py.
func (c *EnvContext) evalProtoCodeFile(ctx context.Context, n *graph.Node) (any, error) {
	cwd, err := graph.Parent[string](ctx, n, InputCwdDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	if c.args.ProtoCode != "" {
		return absFrom(cwd, c.args.ProtoCode), nil
	}
	if v := c.env.Get(EnvProtoCode); v != "" {
		return absFrom(cwd, v), nil
	}
	refRootArg, err := graph.Parent[string](ctx, n, InputRefRootDirAbsPathArgLoaded)
	if err != nil {
		return nil, err
	}
	if refRootArg != "" {
		return filepath.Join(refRootArg, conf.ProtoCodeBasename), nil
	}
	return filepath.Join(cwd, conf.ProtoCodeBasename), nil
}

func (c *EnvContext) evalProtoCodeDir(ctx context.Context, n *graph.Node) (any, error) {
	file, err := graph.Parent[string](ctx, n, InputProtoCodeFileAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	return filepath.Dir(file), nil
}

func (c *EnvContext) evalPrimerFile(ctx context.Context, n *graph.Node) (any, error) {
	dir, err := graph.Parent[string](ctx, n, InputProtoCodeDirAbsPathEvalFinalized)
	if err != nil {
		return nil, err
	}
	return filepath.Join(dir, conf.PrimerFileBasename), nil
}
