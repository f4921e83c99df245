// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package modes turns a run mode into what the CLI does with the graph.
package modes

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/graph"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/kernel"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/render"
	"github.com/AleutianAI/ProtoPrimer/pkg/ux"
)

// IO is where a mode writes.
type IO struct {
	// Out receives the mode's product: rendered config, the DAG, check
	// results and the final success line.
	Out *ux.Printer

	// Getenv reads the user environment for the start shell.
	Getenv func(string) string
}

// Mode runs one run mode against a context.
type Mode func(ctx context.Context, c *kernel.EnvContext, io IO) error

var registry = map[kernel.RunMode]Mode{
	kernel.ModePrime:   runPrime,
	kernel.ModeUpgrade: runPrime,
	kernel.ModeConfig:  runConfig,
	kernel.ModeCheck:   runCheck,
	kernel.ModeStart:   runStart,
	kernel.ModeDag:     runDag,
}

// Run dispatches on the run mode of c.
//
// # Outputs
//
//   - error: kernel.ErrUnknownRunMode, kernel.ErrProcessReplaced when a
//     test Execer stands in for execve, or the mode's failure
func Run(ctx context.Context, c *kernel.EnvContext, io IO) error {
	mode, ok := registry[c.Args().RunMode]
	if !ok {
		return fmt.Errorf("%w: %q", kernel.ErrUnknownRunMode, c.Args().RunMode)
	}
	return mode(ctx, c, io)
}

// =============================================================================
// prime / upgrade
// =============================================================================

func runPrime(ctx context.Context, c *kernel.EnvContext, io IO) error {
	value, err := c.Run(ctx)
	if err != nil {
		return err
	}
	final, _ := c.Eval(ctx, kernel.InputFinalStateEvalFinalized)
	io.Out.Success(fmt.Sprintf("%s: %v", final, value))
	return nil
}

// =============================================================================
// check
// =============================================================================

func runCheck(ctx context.Context, c *kernel.EnvContext, io IO) error {
	value, err := c.Run(ctx)
	if err != nil {
		return err
	}
	checks, ok := value.([]kernel.Check)
	if !ok {
		// --final_state is prime-only, so check always lands on checks_verified.
		return fmt.Errorf("check produced %T", value)
	}
	for _, ch := range checks {
		line := fmt.Sprintf("%s: %s", ch.Name, ch.Detail)
		if ch.OK {
			io.Out.Success(line)
		} else {
			io.Out.Warning(line)
		}
	}
	if failed := kernel.ChecksFailed(checks); len(failed) > 0 {
		return fmt.Errorf("%w: %d of %d", kernel.ErrChecksFailed, len(failed), len(checks))
	}
	return nil
}

// =============================================================================
// config
// =============================================================================

var confStates = []string{
	kernel.PrimerConfFileDataLoaded,
	kernel.ClientConfFileDataLoaded,
	kernel.EnvConfFileDataLoaded,
}

var derivedStates = []struct {
	name  string
	state string
}{
	{"ref_root", kernel.PrimerRefRootDirAbsPathEvalFinalized},
	{"env_dir", kernel.ClientConfEnvDirAbsPathEvalFinalized},
	{"python", kernel.EnvLocalPythonFileAbsPathEvalFinalized},
	{"venv_dir", kernel.EnvLocalVenvDirAbsPathEvalFinalized},
	{"log_dir", kernel.EnvLocalLogDirAbsPathEvalFinalized},
	{"tmp_dir", kernel.EnvLocalTmpDirAbsPathEvalFinalized},
	{"cache_dir", kernel.EnvLocalCacheDirAbsPathEvalFinalized},
	{"package_driver", kernel.EnvPackageDriverEvalFinalized},
	{"projects", kernel.EnvProjectDescriptorsEvalFinalized},
}

// runConfig renders every tier that loads, then the derived values.
//
// The tiers loaded before a failure are still rendered so the user sees
// where resolution stopped.
func runConfig(ctx context.Context, c *kernel.EnvContext, io IO) error {
	root := &render.RootNode{}
	var failure error

	for _, state := range confStates {
		value, err := c.Eval(ctx, state)
		if err != nil {
			failure = err
			break
		}
		f := value.(kernel.ConfFile)
		root.Sections = append(root.Sections, render.FileSection(render.File{
			Leap:   f.Leap,
			Path:   f.Path,
			Exists: f.Exists,
			Data:   f.Data,
		}))
	}

	if failure == nil {
		var pairs []render.Pair
		for _, d := range derivedStates {
			value, err := c.Eval(ctx, d.state)
			if err != nil {
				failure = err
				break
			}
			pairs = append(pairs, render.Pair{Name: d.name, Value: value})
		}
		root.Sections = append(root.Sections,
			render.ValuesSection("effective", "values derived from the files above", pairs))
	}

	if err := render.New(io.Out).Render(root); err != nil {
		return errors.Join(failure, err)
	}
	return failure
}

// =============================================================================
// dag
// =============================================================================

func runDag(ctx context.Context, c *kernel.EnvContext, io IO) error {
	final, err := c.Eval(ctx, kernel.InputFinalStateEvalFinalized)
	if err != nil {
		return err
	}
	return graph.NewSinkPrinter(c.Graph(), io.Out.Writer()).Print(final.(string))
}
