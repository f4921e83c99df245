// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/graph"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/kernel"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/modes"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/stride"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/telemetry"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/util"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/wizard"
	"github.com/AleutianAI/ProtoPrimer/pkg/ux"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// runError marks a failure that happened after the command line was
// accepted. Every other error out of cobra is misuse.
type runError struct {
	err error
}

func (e *runError) Error() string { return e.err.Error() }
func (e *runError) Unwrap() error { return e.err }

// app holds the process-level collaborators of one invocation.
type app struct {
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	environ    []string
	executable string

	// deps seeds kernel.Deps; zero fields get production defaults.
	deps kernel.Deps

	// dispatch runs a parsed command line.
	dispatch func(ctx context.Context, args kernel.Args) error
}

func newApp() *app {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	a := &app{
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		environ:    os.Environ(),
		executable: exe,
	}
	a.dispatch = a.execute
	return a
}

// run parses argv, runs the selected mode and maps the outcome to an
// exit code.
func (a *app) run(ctx context.Context, argv []string) int {
	root := newRootCmd(a, argv)
	root.SetArgs(argv)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	p := ux.NewPrinter(a.stderr)
	var rerr *runError
	if errors.As(err, &rerr) {
		p.Failure(rerr.err, a.executable, argv)
		return exitFailure
	}
	p.Warning("usage: " + err.Error())
	p.Muted("run 'protoprimer --help' for the command line")
	return exitUsage
}

// =============================================================================
// Command Tree
// =============================================================================

func newRootCmd(a *app, argv []string) *cobra.Command {
	args := &kernel.Args{Argv: argv}

	root := &cobra.Command{
		Use:   "protoprimer",
		Short: "Bootstrap and maintain a Python environment from layered JSON config",
		Long: `protoprimer resolves the primer, client and env config tiers under a
ref root, selects the active env through the lconf symlink, creates the
venv, installs the configured projects and refreshes the proto-kernel
script. Without a subcommand it runs prime.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          a.modeRunner(args, kernel.ModePrime),
	}
	pf := root.PersistentFlags()
	pf.BoolVarP(&args.Silent, "silent", "s", false, "log nothing to stderr")
	pf.BoolVarP(&args.Quiet, "quiet", "q", false, "log errors only")
	pf.CountVarP(&args.Verbosity, "verbose", "v", "log more (-v info, -vv debug)")

	primeCmd := &cobra.Command{
		Use:     "prime",
		Short:   "Prime the environment up to the final state",
		Args:    cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error { return validatePrimeArgs(args) },
		RunE:    a.modeRunner(args, kernel.ModePrime),
	}
	f := primeCmd.Flags()
	f.StringVar(&args.FinalState, "final_state", "", "stop after evaluating this state")
	f.StringVar(&args.EnvDir, "env", "", "env directory relative to the ref root")
	f.BoolVar(&args.Reinstall, "reinstall", false, "recreate the venv and reinstall projects")
	f.StringVar(&args.RefRoot, "ref_root", "", "ref root directory (first run only)")
	f.StringVar(&args.PyExec, "py_exec", "", "stride reached by the caller")
	f.StringVar(&args.ProtoCode, "proto_code", "", "path of the proto-kernel script")
	f.StringVar(&args.WizardStage, "wizard_stage", "", "wizard_started runs the config wizard")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Prime, then open a shell with the venv activated",
		Args:  cobra.NoArgs,
		RunE:  a.modeRunner(args, kernel.ModeStart),
	}
	startCmd.Flags().StringVarP(&args.Command, "command", "c", "", "command line to run in the shell")

	root.AddCommand(
		primeCmd,
		&cobra.Command{
			Use:   "upgrade",
			Short: "Recreate the venv and reinstall every project",
			Args:  cobra.NoArgs,
			RunE:  a.modeRunner(args, kernel.ModeUpgrade),
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE:  a.modeRunner(args, kernel.ModeConfig),
		},
		&cobra.Command{
			Use:   "check",
			Short: "Verify the primed environment without changing it",
			Args:  cobra.NoArgs,
			RunE:  a.modeRunner(args, kernel.ModeCheck),
		},
		startCmd,
		&cobra.Command{
			Use:   "dag",
			Short: "Print the state dependency tree",
			Args:  cobra.NoArgs,
			RunE:  a.modeRunner(args, kernel.ModeDag),
		},
	)
	return root
}

// validatePrimeArgs rejects prime flag values that can never evaluate.
func validatePrimeArgs(args *kernel.Args) error {
	if args.FinalState != "" && !kernel.IsStateName(args.FinalState) {
		return fmt.Errorf("--final_state: %w", &graph.StateError{State: args.FinalState, Err: graph.ErrUnknownState})
	}
	if args.PyExec != "" {
		if _, err := stride.ParsePyExec(args.PyExec); err != nil {
			return fmt.Errorf("--py_exec: %w", err)
		}
	}
	switch args.WizardStage {
	case "", kernel.WizardStarted, kernel.WizardFinished:
	default:
		return fmt.Errorf("--wizard_stage: %w: %q", kernel.ErrBadWizardStage, args.WizardStage)
	}
	return nil
}

func (a *app) modeRunner(args *kernel.Args, mode kernel.RunMode) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		args.RunMode = mode
		if err := a.dispatch(cmd.Context(), *args); err != nil {
			return &runError{err: err}
		}
		return nil
	}
}

// =============================================================================
// Execution
// =============================================================================

// execute runs one process image of the exec chain.
//
// # Description
//
// The start id is fixed here when the chain begins so telemetry of the
// first image carries it too. Deferred calls never run after execve, so
// telemetry is also shut down from a pre-exec hook.
func (a *app) execute(ctx context.Context, args kernel.Args) error {
	env := util.FromEnviron(a.environ)
	if env.Get(kernel.EnvStartID) == "" {
		env.MustSet(kernel.EnvStartID, uuid.NewString())
	}
	pyExec := args.PyExec
	if pyExec == "" {
		pyExec = env.Get(kernel.EnvPyExec)
	}
	if pyExec == "" {
		pyExec = stride.PyExecUnknown.String()
	}

	cfg := telemetry.ConfigFromEnv(env.Get)
	cfg.StartID = env.Get(kernel.EnvStartID)
	cfg.PyExec = pyExec
	tel, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			ux.NewPrinter(a.stderr).Warning("telemetry shutdown: " + err.Error())
		}
	}()

	deps := a.deps
	deps.Environ = env.ToSlice()
	deps.Stderr = a.stderr
	if deps.Stdin == nil && a.stdin != nil {
		deps.Stdin = wizard.NewLineReader(a.stdin)
	}
	deps.Tracer = tel.Tracer()
	deps.Observers = append(slices.Clone(deps.Observers), tel)
	if deps.LogExporter == nil {
		deps.LogExporter = tel.LogExporter()
	}

	c, err := kernel.New(args, deps)
	if err != nil {
		return err
	}
	defer c.Logger().Close()

	c.AddPreExecHook(func(target string) error {
		tel.ProcessReplaced(target)
		return tel.Shutdown(ctx)
	})

	return modes.Run(ctx, c, modes.IO{
		Out:    ux.NewPrinter(a.stdout),
		Getenv: env.Get,
	})
}
