// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package modes

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/driver"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/kernel"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/util"
)

// DefaultShell is used when SHELL is unset.
const DefaultShell = "/bin/bash"

// ErrUnsupportedShell is returned for shells without an rc strategy.
var ErrUnsupportedShell = errors.New("unsupported shell")

// ShellPlan is the process start mode hands over to.
type ShellPlan struct {
	Shell  string
	Argv   []string
	Env    []string
	RcFile string
	Rc     string
}

// runStart primes the environment, then replaces the process with an
// interactive shell that has the venv activated.
func runStart(ctx context.Context, c *kernel.EnvContext, io IO) error {
	if _, err := c.Run(ctx); err != nil {
		return err
	}
	venvDir, err := evalString(ctx, c, kernel.EnvLocalVenvDirAbsPathEvalFinalized)
	if err != nil {
		return err
	}
	cacheDir, err := evalString(ctx, c, kernel.EnvLocalCacheDirAbsPathEvalFinalized)
	if err != nil {
		return err
	}

	env := c.Environ()
	// A nested prime inside the shell starts its own chain.
	for _, key := range []string{kernel.EnvPyExec, kernel.EnvStartID, kernel.EnvStderrLogLevel} {
		env.Unset(key)
	}

	plan, err := PlanShell(io.Getenv, env, venvDir, cacheDir, c.Args().Command)
	if err != nil {
		return err
	}
	if _, err := util.WriteFileAtomic(plan.RcFile, []byte(plan.Rc), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", plan.RcFile, err)
	}

	c.Logger().Info("starting shell", "shell", plan.Shell, "rc", plan.RcFile, "command", c.Args().Command)
	c.RunPreExecHooks(plan.Shell)
	return c.Execer().Exec(plan.Shell, plan.Argv, plan.Env)
}

func evalString(ctx context.Context, c *kernel.EnvContext, state string) (string, error) {
	value, err := c.Eval(ctx, state)
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// PlanShell builds the rc file and argv for the user's shell.
//
// # Description
//
// bash reads <cache>/bash/.bashrc through --init-file. zsh reads
// <cache>/zsh/.zshrc through ZDOTDIR. Both rc files source the user's
// own rc file when it exists, then the venv activation script. A
// non-empty command runs through -c in the interactive shell.
//
// # Inputs
//
//   - getenv: Reads SHELL, HOME and ZDOTDIR
//   - env: Environment of the shell; ZDOTDIR is set on it for zsh
//   - venvDir: Absolute venv directory
//   - cacheDir: Absolute env cache directory
//   - command: Command line to run, or empty for an interactive session
//
// # Outputs
//
//   - ShellPlan: What to write and exec
//   - error: ErrUnsupportedShell for anything but bash and zsh
func PlanShell(getenv func(string) string, env *util.EnvVars, venvDir, cacheDir, command string) (ShellPlan, error) {
	shell := getenv("SHELL")
	if shell == "" {
		shell = DefaultShell
	}
	home := getenv("HOME")
	activate := driver.VenvActivate(venvDir)

	var plan ShellPlan
	switch filepath.Base(shell) {
	case "bash":
		plan.RcFile = filepath.Join(cacheDir, "bash", ".bashrc")
		plan.Rc = rcBody(filepath.Join(home, ".bashrc"), activate)
		plan.Argv = []string{shell, "--init-file", plan.RcFile, "-i"}
	case "zsh":
		userDir := getenv("ZDOTDIR")
		if userDir == "" {
			userDir = home
		}
		zdotdir := filepath.Join(cacheDir, "zsh")
		plan.RcFile = filepath.Join(zdotdir, ".zshrc")
		plan.Rc = rcBody(filepath.Join(userDir, ".zshrc"), activate)
		plan.Argv = []string{shell, "-i"}
		env.MustSet("ZDOTDIR", zdotdir)
	default:
		return ShellPlan{}, fmt.Errorf("%w: %s (use bash or zsh)", ErrUnsupportedShell, shell)
	}
	if command != "" {
		plan.Argv = append(plan.Argv, "-c", command)
	}
	plan.Shell = shell
	plan.Env = env.ToSlice()
	return plan, nil
}

func rcBody(userRc, activate string) string {
	var b strings.Builder
	b.WriteString("# generated by protoprimer start\n")
	fmt.Fprintf(&b, "if [ -f %s ]; then\n    . %s\nfi\n", shellQuote(userRc), shellQuote(userRc))
	fmt.Fprintf(&b, ". %s\n", shellQuote(activate))
	return b.String()
}

// shellQuote wraps s in single quotes for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
