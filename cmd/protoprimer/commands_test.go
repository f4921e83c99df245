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
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/graph"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/kernel"
)

// testApp records the parsed arguments instead of running a mode.
type testApp struct {
	*app
	stdout bytes.Buffer
	stderr bytes.Buffer
	calls  []kernel.Args
	err    error
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ta := &testApp{}
	ta.app = &app{
		stdin:      strings.NewReader(""),
		stdout:     &ta.stdout,
		stderr:     &ta.stderr,
		environ:    []string{},
		executable: "/usr/local/bin/protoprimer",
		deps: kernel.Deps{
			Getwd:  func() (string, error) { return t.TempDir(), nil },
			Execer: &kernel.RecordingExecer{},
		},
	}
	ta.dispatch = func(_ context.Context, args kernel.Args) error {
		ta.calls = append(ta.calls, args)
		return ta.err
	}
	return ta
}

func TestRun_PrimeFlags(t *testing.T) {
	ta := newTestApp(t)
	argv := []string{
		"-vv", "prime",
		"--env", "envs/dev",
		"--reinstall",
		"--ref_root", "/work/repo",
		"--final_state", kernel.PyDepsInstalled,
		"--py_exec", "py_exec_venv",
		"--proto_code", "/work/repo/proto_kernel.py",
		"--wizard_stage", kernel.WizardStarted,
	}

	require.Equal(t, exitOK, ta.run(context.Background(), argv), ta.stderr.String())
	require.Len(t, ta.calls, 1)
	got := ta.calls[0]
	assert.Equal(t, kernel.ModePrime, got.RunMode)
	assert.Equal(t, 2, got.Verbosity)
	assert.Equal(t, "envs/dev", got.EnvDir)
	assert.True(t, got.Reinstall)
	assert.Equal(t, "/work/repo", got.RefRoot)
	assert.Equal(t, kernel.PyDepsInstalled, got.FinalState)
	assert.Equal(t, "py_exec_venv", got.PyExec)
	assert.Equal(t, "/work/repo/proto_kernel.py", got.ProtoCode)
	assert.Equal(t, kernel.WizardStarted, got.WizardStage)
	assert.Equal(t, argv, got.Argv)
}

func TestRun_NoSubcommandPrimes(t *testing.T) {
	ta := newTestApp(t)
	require.Equal(t, exitOK, ta.run(context.Background(), []string{"-q"}))
	require.Len(t, ta.calls, 1)
	assert.Equal(t, kernel.ModePrime, ta.calls[0].RunMode)
	assert.True(t, ta.calls[0].Quiet)
}

func TestRun_Modes(t *testing.T) {
	for _, mode := range kernel.RunModes {
		t.Run(string(mode), func(t *testing.T) {
			ta := newTestApp(t)
			require.Equal(t, exitOK, ta.run(context.Background(), []string{"-s", string(mode)}))
			require.Len(t, ta.calls, 1)
			assert.Equal(t, mode, ta.calls[0].RunMode)
			assert.True(t, ta.calls[0].Silent)
		})
	}
}

func TestRun_StartCommand(t *testing.T) {
	ta := newTestApp(t)
	require.Equal(t, exitOK, ta.run(context.Background(), []string{"start", "-c", "make test"}))
	require.Len(t, ta.calls, 1)
	assert.Equal(t, "make test", ta.calls[0].Command)
}

func TestRun_MisuseExitsTwo(t *testing.T) {
	tests := []struct {
		name string
		argv []string
	}{
		{"final_state outside prime", []string{"check", "--final_state", kernel.ChecksVerified}},
		{"env outside prime", []string{"upgrade", "--env", "dev"}},
		{"unknown final_state", []string{"prime", "--final_state", "py_exec_nowhere"}},
		{"unknown py_exec", []string{"prime", "--py_exec", "py_exec_bogus"}},
		{"unknown wizard stage", []string{"prime", "--wizard_stage", "halfway"}},
		{"unknown subcommand", []string{"frobnicate"}},
		{"unknown flag", []string{"prime", "--nope"}},
		{"positional argument", []string{"dag", "extra"}},
		{"command outside start", []string{"prime", "-c", "ls"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestApp(t)
			assert.Equal(t, exitUsage, ta.run(context.Background(), tt.argv))
			assert.Empty(t, ta.calls)
			assert.Contains(t, ta.stderr.String(), "usage:")
		})
	}
}

func TestRun_FailureExitsOne(t *testing.T) {
	ta := newTestApp(t)
	ta.err = errors.New("venv exploded")

	assert.Equal(t, exitFailure, ta.run(context.Background(), []string{"prime", "--env", "dev"}))
	out := ta.stderr.String()
	assert.Contains(t, out, "FAILURE: venv exploded")
	assert.Contains(t, out, "/usr/local/bin/protoprimer prime --env dev")
}

// =============================================================================
// End to End
// =============================================================================

func TestExecute_DagPrintsTree(t *testing.T) {
	ta := newTestApp(t)
	ta.dispatch = ta.execute

	require.Equal(t, exitOK, ta.run(context.Background(), []string{"dag"}), ta.stderr.String())
	assert.True(t, strings.HasPrefix(ta.stdout.String(),
		kernel.PyExecSrcUpdatedReached+": "+kernel.ProtoCodeRegenerated))
}

func TestExecute_ConfigWithoutKernelFails(t *testing.T) {
	ta := newTestApp(t)
	ta.dispatch = ta.execute

	assert.Equal(t, exitFailure, ta.run(context.Background(), []string{"config"}))
	assert.Contains(t, ta.stderr.String(), "FAILURE:")
	assert.Empty(t, ta.deps.Execer.(*kernel.RecordingExecer).Calls())
}

type countingObserver struct {
	evaluated int
}

func (o *countingObserver) StateEvaluated(string, time.Duration, error) { o.evaluated++ }

func TestExecute_LeavesCallerObserversIntact(t *testing.T) {
	ta := newTestApp(t)
	ta.dispatch = ta.execute
	own := &countingObserver{}
	observers := make([]graph.Observer, 1, 2)
	observers[0] = own
	ta.deps.Observers = observers

	require.Equal(t, exitOK, ta.run(context.Background(), []string{"dag"}), ta.stderr.String())
	require.Len(t, ta.deps.Observers, 1)
	assert.Nil(t, observers[:2][1], "spare capacity of the caller's slice was written")
	assert.Same(t, own, ta.deps.Observers[0])
}
