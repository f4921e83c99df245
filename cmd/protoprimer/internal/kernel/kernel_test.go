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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/conf"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/driver"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/envlink"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/graph"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/process"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/regen"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/stride"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/wizard"
	"github.com/AleutianAI/ProtoPrimer/pkg/logging"
)

// =============================================================================
// Test Helpers
// =============================================================================

// fixture is a ref root with a fake interpreter and a fake installed kernel.
type fixture struct {
	t         *testing.T
	root      string
	python    string
	canonical string
	version   string
	pm        *process.MockManager
	execer    *RecordingExecer
	stderr    bytes.Buffer
	stdin     wizard.InputReader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		root:    t.TempDir(),
		version: "3.11.4",
		execer:  &RecordingExecer{},
	}

	tools := t.TempDir()
	f.python = filepath.Join(tools, "python3")
	require.NoError(t, os.WriteFile(f.python, []byte("#!/bin/sh\n"), 0o755))

	var src strings.Builder
	src.WriteString("#!/usr/bin/env python3\n")
	for i := 1; i < 45; i++ {
		fmt.Fprintf(&src, "kernel_line_%d = %d\n", i, i)
	}
	f.canonical = filepath.Join(tools, "proto_kernel.py")
	require.NoError(t, os.WriteFile(f.canonical, []byte(src.String()), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(f.root, conf.ProtoCodeBasename), []byte("#!/usr/bin/env python3\n"), 0o755))

	f.pm = &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if len(args) == 2 && args[0] == "-c" && strings.Contains(args[1], "version_info") {
				return []byte(f.version + "\n"), nil
			}
			return nil, nil
		},
	}
	return f
}

func (f *fixture) path(parts ...string) string {
	return filepath.Join(append([]string{f.root}, parts...)...)
}

func (f *fixture) mkdir(rel string) {
	require.NoError(f.t, os.MkdirAll(f.path(rel), 0o755))
}

// writeEnv creates an env directory with a minimal env config.
func (f *fixture) writeEnv(rel string) {
	f.mkdir(rel)
	_, err := conf.Save(f.path(rel, conf.EnvFileBasename), conf.Data{
		conf.FieldEnvLocalPythonFileAbsPath: f.python,
	})
	require.NoError(f.t, err)
}

func (f *fixture) newContext(args Args, environ []string) *EnvContext {
	f.t.Helper()
	if environ == nil {
		environ = []string{}
	}
	c, err := New(args, Deps{
		Environ:  environ,
		Getwd:    func() (string, error) { return f.root, nil },
		LookPath: func(string) (string, error) { return f.python, nil },
		Execer:   f.execer,
		PM:       f.pm,
		Locator:  regen.StaticLocator{Path: f.canonical},
		Stdin:    f.stdin,
		Stderr:   &f.stderr,
	})
	require.NoError(f.t, err)
	return c
}

// chain runs one exec chain to completion, re-entering after every
// recorded exec with the environment it carried.
func (f *fixture) chain(args Args) (any, []ExecCall, error) {
	f.t.Helper()
	before := len(f.execer.Calls())
	environ := []string{"PATH=/usr/bin", "HOME=" + f.root}
	for i := 0; i < 8; i++ {
		value, err := f.newContext(args, environ).Run(context.Background())
		if !errors.Is(err, ErrProcessReplaced) {
			return value, f.execer.Calls()[before:], err
		}
		last, _ := f.execer.Last()
		environ = last.Env
		args.PyExec = ""
	}
	f.t.Fatal("exec chain did not terminate")
	return nil, nil, nil
}

func primeArgs(argv ...string) Args {
	args := Args{RunMode: ModePrime, Argv: append([]string{"prime"}, argv...)}
	for i := 0; i < len(argv); i++ {
		switch argv[i] {
		case "--env":
			args.EnvDir = argv[i+1]
		case "--ref_root":
			args.RefRoot = argv[i+1]
		case "--reinstall":
			args.Reinstall = true
		}
	}
	return args
}

type fileState struct {
	content string
	modTime time.Time
}

func (f *fixture) snapshot(paths ...string) map[string]fileState {
	out := make(map[string]fileState, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(f.t, err, p)
		content, err := os.ReadFile(p)
		require.NoError(f.t, err, p)
		out[p] = fileState{content: string(content), modTime: info.ModTime()}
	}
	return out
}

func (f *fixture) callLines() []string {
	var lines []string
	for _, c := range f.pm.GetCalls() {
		lines = append(lines, c.Line())
	}
	return lines
}

func countContaining(lines []string, substr string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

// primed runs S1 and S2 so the tree is fully primed.
func primed(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	_, _, err := f.chain(primeArgs("--ref_root", f.root))
	require.ErrorIs(t, err, conf.ErrMissingConfig)
	f.writeEnv("default_env")
	value, calls, err := f.chain(primeArgs("--env", "default_env"))
	require.NoError(t, err)
	require.Len(t, calls, 4)
	require.Equal(t, stride.StridePySrcUpdated, value)
	return f
}

// =============================================================================
// Construction
// =============================================================================

func TestStateNames_ClosedAndRegistered(t *testing.T) {
	f := newFixture(t)
	c := f.newContext(Args{RunMode: ModePrime}, nil)

	names := StateNames()
	assert.Len(t, names, 39)
	assert.Equal(t, names, c.Graph().Names())
	assert.True(t, IsStateName(PyExecSrcUpdatedReached))
	assert.False(t, IsStateName("py_exec_nowhere"))
}

func TestNew_PyExecFlagWinsOverEnv(t *testing.T) {
	f := newFixture(t)
	c := f.newContext(Args{PyExec: "py_exec_venv"}, []string{EnvPyExec + "=py_exec_required"})
	assert.Equal(t, stride.PyExecVenv, c.PyExec())
	assert.Equal(t, stride.StridePyVenv, c.Cursor().Current())

	c = f.newContext(Args{}, []string{EnvPyExec + "=py_exec_required"})
	assert.Equal(t, stride.PyExecRequired, c.PyExec())
}

func TestNew_RejectsUnknownPyExec(t *testing.T) {
	_, err := New(Args{PyExec: "py_exec_bogus"}, Deps{Environ: []string{}})
	assert.ErrorIs(t, err, stride.ErrUnknownPyExec)
}

func TestNew_StartID(t *testing.T) {
	f := newFixture(t)
	c := f.newContext(Args{}, []string{EnvStartID + "=run-42"})
	assert.Equal(t, "run-42", c.StartID())

	a := f.newContext(Args{}, nil)
	b := f.newContext(Args{}, nil)
	assert.NotEmpty(t, a.StartID())
	assert.NotEqual(t, a.StartID(), b.StartID())
}

func TestResolveLogLevel(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args Args
		want logging.Level
	}{
		{"default", nil, Args{}, logging.LevelWarn},
		{"default var", map[string]string{EnvDefaultLogLevel: "INFO"}, Args{}, logging.LevelInfo},
		{"verbose beats default var", map[string]string{EnvDefaultLogLevel: "ERROR"}, Args{Verbosity: 1}, logging.LevelInfo},
		{"very verbose", nil, Args{Verbosity: 2}, logging.LevelDebug},
		{"quiet", nil, Args{Quiet: true}, logging.LevelError},
		{"silent", nil, Args{Silent: true, Verbosity: 2}, logging.LevelSilent},
		{"carried level beats flags", map[string]string{EnvStderrLogLevel: "DEBUG"}, Args{Quiet: true}, logging.LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveLogLevel(func(k string) string { return tt.env[k] }, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ResolveLogLevel(func(string) string { return "LOUD" }, Args{})
	assert.Error(t, err)
}

func TestStripPyExec(t *testing.T) {
	got := StripPyExec([]string{"prime", "--py_exec", "py_exec_venv", "--env", "e", "--py_exec=py_exec_required", "-v"})
	assert.Equal(t, []string{"prime", "--env", "e", "-v"}, got)
}

func TestCheckPythonVersion(t *testing.T) {
	assert.NoError(t, CheckPythonVersion("3.8.0"))
	assert.NoError(t, CheckPythonVersion("3.12.1\n"))
	assert.ErrorIs(t, CheckPythonVersion("3.7.17"), ErrPrecondVersion)
	assert.ErrorIs(t, CheckPythonVersion("2.7.18"), ErrPrecondVersion)
	assert.ErrorIs(t, CheckPythonVersion("Python 3.11"), ErrPrecondVersion)
}

// =============================================================================
// Input States
// =============================================================================

func TestFinalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for mode, want := range map[RunMode]string{
		ModePrime:  PyExecSrcUpdatedReached,
		ModeStart:  PyExecSrcUpdatedReached,
		ModeCheck:  ChecksVerified,
		ModeConfig: EnvConfFileDataLoaded,
	} {
		got, err := f.newContext(Args{RunMode: mode}, nil).Eval(ctx, InputFinalStateEvalFinalized)
		require.NoError(t, err)
		assert.Equal(t, want, got, mode)
	}

	_, err := f.newContext(Args{RunMode: ModeUpgrade, FinalState: EnvConfFileDataLoaded}, nil).Eval(ctx, InputFinalStateEvalFinalized)
	assert.Error(t, err)

	_, err = f.newContext(Args{RunMode: ModePrime, FinalState: "no_such_state"}, nil).Eval(ctx, InputFinalStateEvalFinalized)
	assert.ErrorIs(t, err, graph.ErrUnknownState)

	_, err = f.newContext(Args{RunMode: "deploy"}, nil).Eval(ctx, InputRunModeArgLoaded)
	assert.ErrorIs(t, err, ErrUnknownRunMode)
}

func TestWizardStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.newContext(Args{}, nil).Eval(ctx, InputWizardStageArgLoaded)
	require.NoError(t, err)
	assert.Equal(t, WizardFinished, got)

	_, err = f.newContext(Args{WizardStage: "wizard_halfway"}, nil).Eval(ctx, InputWizardStageArgLoaded)
	assert.ErrorIs(t, err, ErrBadWizardStage)
}

func TestReinstall_ImpliedByUpgrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.newContext(Args{RunMode: ModeUpgrade}, nil).Eval(ctx, InputReinstallEvalFinalized)
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = f.newContext(Args{RunMode: ModePrime}, nil).Eval(ctx, InputReinstallEvalFinalized)
	require.NoError(t, err)
	assert.Equal(t, false, got)
}

func TestProtoCodeFile_Resolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.newContext(Args{}, nil).Eval(ctx, InputProtoCodeFileAbsPathEvalFinalized)
	require.NoError(t, err)
	assert.Equal(t, f.path(conf.ProtoCodeBasename), got)

	got, err = f.newContext(Args{}, []string{EnvProtoCode + "=/srv/repo/proto_kernel.py"}).Eval(ctx, InputProtoCodeFileAbsPathEvalFinalized)
	require.NoError(t, err)
	assert.Equal(t, "/srv/repo/proto_kernel.py", got)

	got, err = f.newContext(Args{ProtoCode: "tools/pk.py"}, []string{EnvProtoCode + "=/srv/repo/proto_kernel.py"}).Eval(ctx, InputProtoCodeFileAbsPathEvalFinalized)
	require.NoError(t, err)
	assert.Equal(t, f.path("tools", "pk.py"), got)

	got, err = f.newContext(Args{RefRoot: "sub"}, nil).Eval(ctx, InputProtoCodeFileAbsPathEvalFinalized)
	require.NoError(t, err)
	assert.Equal(t, f.path("sub", conf.ProtoCodeBasename), got)
}

// =============================================================================
// Scenarios
// =============================================================================

func TestFirstPrime_NeedsEnv(t *testing.T) {
	f := newFixture(t)

	_, calls, err := f.chain(primeArgs("--ref_root", f.root))
	require.ErrorIs(t, err, conf.ErrMissingConfig)
	assert.Contains(t, err.Error(), "--env")
	assert.Empty(t, calls)

	primer, exists, err := conf.Load(conf.LeapPrimer, f.path(conf.PrimerFileBasename))
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, conf.Data{
		conf.FieldPrimerRefRootDirRelPath:     ".",
		conf.FieldPrimerConfClientFileRelPath: "gconf/proto_kernel.conf_client.json",
	}, primer)

	client, exists, err := conf.Load(conf.LeapClient, f.path("gconf", conf.ClientFileBasename))
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, "lconf", client[conf.FieldClientLinkNameDirRelPath])

	_, err = os.Lstat(f.path("lconf"))
	assert.True(t, os.IsNotExist(err))
}

func TestFirstPrime_NoRefRoot(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.chain(primeArgs())
	require.ErrorIs(t, err, conf.ErrMissingConfig)
	assert.Contains(t, err.Error(), "--ref_root")
	assert.NoFileExists(t, f.path(conf.PrimerFileBasename))
}

func TestPrimeWithEnv_ClimbsLadder(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.chain(primeArgs("--ref_root", f.root))
	require.ErrorIs(t, err, conf.ErrMissingConfig)
	f.writeEnv("default_env")

	value, calls, err := f.chain(primeArgs("--env", "default_env"))
	require.NoError(t, err)
	assert.Equal(t, stride.StridePySrcUpdated, value)
	require.Len(t, calls, 4)

	venvPython := driver.VenvPython(f.path("venv"))
	wantPaths := []string{f.python, venvPython, venvPython, venvPython}
	wantPyExec := []string{"py_exec_required", "py_exec_venv", "py_exec_deps_updated", "py_exec_src_updated"}
	for i, call := range calls {
		assert.Equal(t, wantPaths[i], call.Path)
		assert.Equal(t, []string{wantPaths[i], "-I", f.path(conf.ProtoCodeBasename), "prime", "--env", "default_env"}, call.Argv)
		assert.Equal(t, wantPyExec[i], call.Getenv(EnvPyExec))
		assert.Equal(t, f.path(conf.ProtoCodeBasename), call.Getenv(EnvProtoCode))
		assert.Equal(t, "WARNING", call.Getenv(EnvStderrLogLevel))
		assert.Equal(t, calls[0].Getenv(EnvStartID), call.Getenv(EnvStartID))
	}
	assert.NotEmpty(t, calls[0].Getenv(EnvStartID))

	target, err := os.Readlink(f.path("lconf"))
	require.NoError(t, err)
	assert.Equal(t, "default_env", target)

	kind, ok := driver.MarkerKind(f.path("venv"))
	require.True(t, ok)
	assert.Equal(t, conf.DriverPip, kind)

	lines := f.callLines()
	assert.Equal(t, 1, countContaining(lines, "-m venv "+f.path("venv")))
	assert.Equal(t, 1, countContaining(lines, "-m pip install -e "+f.root))

	kernel, err := os.ReadFile(f.path(conf.ProtoCodeBasename))
	require.NoError(t, err)
	assert.NoError(t, regen.VerifyCopy(kernel))
	assert.Equal(t, 2, regen.CountBanners(kernel))

	assert.DirExists(t, f.path("log"))
	assert.DirExists(t, f.path("tmp"))
}

func TestPrimeTwice_NoChanges(t *testing.T) {
	f := primed(t)
	paths := []string{
		f.path(conf.PrimerFileBasename),
		f.path("gconf", conf.ClientFileBasename),
		f.path("default_env", conf.EnvFileBasename),
		f.path(conf.ProtoCodeBasename),
		f.path("venv", driver.VenvMarkerBasename),
		f.path("venv", driver.DepsStampBasename),
	}
	before := f.snapshot(paths...)
	f.pm.Reset()

	value, calls, err := f.chain(primeArgs())
	require.NoError(t, err)
	assert.Equal(t, stride.StridePySrcUpdated, value)
	assert.Len(t, calls, 4)

	assert.Equal(t, before, f.snapshot(paths...))
	target, err := os.Readlink(f.path("lconf"))
	require.NoError(t, err)
	assert.Equal(t, "default_env", target)

	lines := f.callLines()
	assert.Zero(t, countContaining(lines, "-m venv"))
	assert.Zero(t, countContaining(lines, "pip install"))
}

func TestPrime_EnvMismatch(t *testing.T) {
	f := primed(t)
	f.writeEnv("other_env")

	_, calls, err := f.chain(primeArgs("--env", "other_env"))
	require.ErrorIs(t, err, envlink.ErrSymlinkTargetMismatch)
	assert.Empty(t, calls)

	target, err := os.Readlink(f.path("lconf"))
	require.NoError(t, err)
	assert.Equal(t, "default_env", target)
}

func TestUpgrade_RecreatesVenvAndReinstalls(t *testing.T) {
	f := primed(t)
	f.pm.Reset()

	value, calls, err := f.chain(Args{RunMode: ModeUpgrade, Argv: []string{"upgrade"}})
	require.NoError(t, err)
	assert.Equal(t, stride.StridePySrcUpdated, value)
	assert.Len(t, calls, 4)

	lines := f.callLines()
	assert.Equal(t, 1, countContaining(lines, "-m venv"))
	assert.Equal(t, 1, countContaining(lines, "pip install"))
}

func TestPrime_StampMismatchReinstalls(t *testing.T) {
	f := primed(t)
	f.mkdir("libs/extra")
	_, err := conf.Save(f.path("default_env", conf.EnvFileBasename), conf.Data{
		conf.FieldEnvLocalPythonFileAbsPath: f.python,
		conf.FieldEnvProjectRelPathToExtrasDict: map[string]any{
			".":          []any{},
			"libs/extra": []any{"test"},
		},
	})
	require.NoError(t, err)
	f.pm.Reset()

	_, _, err = f.chain(primeArgs())
	require.NoError(t, err)

	lines := f.callLines()
	assert.Zero(t, countContaining(lines, "-m venv"))
	assert.Equal(t, 1, countContaining(lines, "-e "+f.path("libs/extra")+"[test]"))
}

func TestPrime_WrongVenvKind(t *testing.T) {
	f := primed(t)
	_, err := conf.Save(f.path("default_env", conf.EnvFileBasename), conf.Data{
		conf.FieldEnvLocalPythonFileAbsPath: f.python,
		conf.FieldEnvPackageDriver:          conf.DriverUv,
	})
	require.NoError(t, err)

	_, calls, err := f.chain(Args{RunMode: ModeUpgrade, Argv: []string{"upgrade"}})
	require.ErrorIs(t, err, driver.ErrWrongVenvKind)
	// only the exec to py_required happened
	assert.Len(t, calls, 1)
}

func TestReinstall_KeepsUnownedVenvDir(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.chain(primeArgs("--ref_root", f.root))
	require.ErrorIs(t, err, conf.ErrMissingConfig)
	f.mkdir("default_env")
	_, err = conf.Save(f.path("default_env", conf.EnvFileBasename), conf.Data{
		conf.FieldEnvLocalPythonFileAbsPath: f.python,
		conf.FieldEnvLocalVenvDirRelPath:    "work",
	})
	require.NoError(t, err)
	f.mkdir("work")
	require.NoError(t, os.WriteFile(f.path("work", "precious.py"), []byte("x = 1\n"), 0o644))

	_, _, err = f.chain(primeArgs("--env", "default_env", "--reinstall"))
	require.ErrorIs(t, err, driver.ErrWrongVenvKind)
	assert.FileExists(t, f.path("work", "precious.py"))
}

func TestEnvConf_VenvAtRefRootRejected(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.chain(primeArgs("--ref_root", f.root))
	require.ErrorIs(t, err, conf.ErrMissingConfig)
	f.mkdir("default_env")
	_, err = conf.Save(f.path("default_env", conf.EnvFileBasename), conf.Data{
		conf.FieldEnvLocalPythonFileAbsPath: f.python,
		conf.FieldEnvLocalVenvDirRelPath:    ".",
	})
	require.NoError(t, err)

	_, calls, err := f.chain(primeArgs("--env", "default_env", "--reinstall"))
	require.ErrorIs(t, err, conf.ErrBadConfig)
	assert.Empty(t, calls)
	assert.FileExists(t, f.path(conf.ProtoCodeBasename))
}

func TestPrime_OldPython(t *testing.T) {
	f := newFixture(t)
	f.version = "3.7.9"
	_, _, err := f.chain(primeArgs("--ref_root", f.root))
	require.ErrorIs(t, err, conf.ErrMissingConfig)
	f.writeEnv("default_env")

	_, calls, err := f.chain(primeArgs("--env", "default_env"))
	require.ErrorIs(t, err, ErrPrecondVersion)
	assert.Empty(t, calls)
}

func TestPrime_FinalStateStopsEarly(t *testing.T) {
	f := primed(t)
	args := primeArgs()
	args.FinalState = EnvLocalVenvDirAbsPathEvalFinalized

	value, calls, err := f.chain(args)
	require.NoError(t, err)
	assert.Equal(t, f.path("venv"), value)
	assert.Empty(t, calls)
}

func TestPrime_MissingEnvFileIsGenerated(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.chain(primeArgs("--ref_root", f.root))
	require.ErrorIs(t, err, conf.ErrMissingConfig)
	f.mkdir("fresh_env")

	args := primeArgs("--env", "fresh_env")
	args.FinalState = EnvConfFileDataLoaded
	value, _, err := f.chain(args)
	require.NoError(t, err)

	file := value.(ConfFile)
	assert.False(t, file.Exists)
	assert.True(t, file.Written)
	assert.Equal(t, f.python, file.Data[conf.FieldEnvLocalPythonFileAbsPath])
	assert.FileExists(t, f.path("fresh_env", conf.EnvFileBasename))
}

func TestPrime_BadEnvField(t *testing.T) {
	f := primed(t)
	_, err := conf.Save(f.path("default_env", conf.EnvFileBasename), conf.Data{
		conf.FieldEnvLocalPythonFileAbsPath: "bin/python3",
	})
	require.NoError(t, err)

	_, _, err = f.chain(primeArgs())
	require.ErrorIs(t, err, conf.ErrBadConfig)
	var fieldErr *conf.FieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, conf.FieldEnvLocalPythonFileAbsPath, fieldErr.Field)
}

func TestEnvFields_FallBackToClient(t *testing.T) {
	f := primed(t)
	_, err := conf.Save(f.path("gconf", conf.ClientFileBasename), conf.Data{
		conf.FieldClientLinkNameDirRelPath: "lconf",
		conf.FieldEnvLocalVenvDirRelPath:   "shared_venv",
		conf.FieldEnvLocalCacheDirRelPath:  "client_cache",
	})
	require.NoError(t, err)
	_, err = conf.Save(f.path("default_env", conf.EnvFileBasename), conf.Data{
		conf.FieldEnvLocalPythonFileAbsPath: f.python,
		conf.FieldEnvLocalVenvDirRelPath:    "env_venv",
	})
	require.NoError(t, err)

	c := f.newContext(Args{RunMode: ModeConfig}, nil)
	ctx := context.Background()
	venv, err := c.Eval(ctx, EnvLocalVenvDirAbsPathEvalFinalized)
	require.NoError(t, err)
	assert.Equal(t, f.path("env_venv"), venv)

	cache, err := c.Eval(ctx, EnvLocalCacheDirAbsPathEvalFinalized)
	require.NoError(t, err)
	assert.Equal(t, f.path("client_cache"), cache)

	logDir, err := c.Eval(ctx, EnvLocalLogDirAbsPathEvalFinalized)
	require.NoError(t, err)
	assert.Equal(t, f.path("log"), logDir)
}

// =============================================================================
// Read-Only Runs
// =============================================================================

func TestCheck_PrimedTreePasses(t *testing.T) {
	f := primed(t)

	value, calls, err := f.chain(Args{RunMode: ModeCheck, Argv: []string{"check"}})
	require.NoError(t, err)
	assert.Empty(t, calls)

	checks := value.([]Check)
	assert.Empty(t, ChecksFailed(checks))
	names := make([]string, len(checks))
	for i, ch := range checks {
		names[i] = ch.Name
	}
	assert.Equal(t, []string{CheckEnvConf, CheckPythonVersion, CheckVenv, CheckDeps, CheckProtoCode}, names)
}

func TestCheck_ReportsProblems(t *testing.T) {
	f := primed(t)
	require.NoError(t, os.Remove(f.path("venv", driver.DepsStampBasename)))
	require.NoError(t, os.WriteFile(f.path(conf.ProtoCodeBasename), []byte("print('edited')\n"), 0o755))

	value, _, err := f.chain(Args{RunMode: ModeCheck})
	require.NoError(t, err)

	failed := ChecksFailed(value.([]Check))
	require.Len(t, failed, 2)
	assert.Equal(t, CheckDeps, failed[0].Name)
	assert.Equal(t, CheckProtoCode, failed[1].Name)
}

func TestCheck_NeverWrites(t *testing.T) {
	f := newFixture(t)

	_, calls, err := f.chain(Args{RunMode: ModeCheck, RefRoot: f.root})
	require.ErrorIs(t, err, conf.ErrMissingConfig)
	assert.Empty(t, calls)
	assert.NoFileExists(t, f.path(conf.PrimerFileBasename))
}

func TestConfig_MissingLinkIsReported(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.chain(primeArgs("--ref_root", f.root))
	require.ErrorIs(t, err, conf.ErrMissingConfig)
	f.writeEnv("default_env")

	_, _, err = f.chain(Args{RunMode: ModeConfig, EnvDir: "default_env"})
	require.ErrorIs(t, err, conf.ErrMissingConfig)
	_, err = os.Lstat(f.path("lconf"))
	assert.True(t, os.IsNotExist(err))
}

func TestReadOnly_RefusesExec(t *testing.T) {
	f := primed(t)
	c := f.newContext(Args{RunMode: ModeConfig}, nil)

	_, err := c.Eval(context.Background(), PyExecRequiredReached)
	require.ErrorIs(t, err, ErrReadOnly)
	assert.Len(t, f.execer.Calls(), 4)
}

// =============================================================================
// Wizard
// =============================================================================

func TestWizard_FirstImageOnly(t *testing.T) {
	f := newFixture(t)
	f.mkdir("default_env")
	f.stdin = wizard.NewLineReader(strings.NewReader(strings.Join([]string{
		"ok",    // ref root is given by --ref_root
		"", "y", // client file path
		"", "y", // link name
		"default_env", "y", // default env
		"", "y", // python
		"", "y", // venv
		"", "y", // driver
	}, "\n") + "\n"))

	args := primeArgs("--ref_root", f.root)
	args.WizardStage = WizardStarted
	value, calls, err := f.chain(args)
	require.NoError(t, err)
	assert.Equal(t, stride.StridePySrcUpdated, value)
	assert.Len(t, calls, 4)

	client, _, err := conf.Load(conf.LeapClient, f.path("gconf", conf.ClientFileBasename))
	require.NoError(t, err)
	assert.Equal(t, "default_env", client[conf.FieldClientDefaultEnvDirRelPath])

	target, err := os.Readlink(f.path("lconf"))
	require.NoError(t, err)
	assert.Equal(t, "default_env", target)

	env, _, err := conf.Load(conf.LeapEnv, f.path("default_env", conf.EnvFileBasename))
	require.NoError(t, err)
	assert.Equal(t, f.python, env[conf.FieldEnvLocalPythonFileAbsPath])
	assert.Equal(t, conf.DriverPip, env[conf.FieldEnvPackageDriver])
}

func TestWizard_InputClosed(t *testing.T) {
	f := newFixture(t)
	f.stdin = wizard.NewLineReader(strings.NewReader(""))

	args := primeArgs("--ref_root", f.root)
	args.WizardStage = WizardStarted
	_, _, err := f.chain(args)
	require.ErrorIs(t, err, wizard.ErrInputClosed)
	assert.NoFileExists(t, f.path(conf.PrimerFileBasename))
}

// =============================================================================
// Hooks
// =============================================================================

func TestPreExecHooks_RunBeforeExec(t *testing.T) {
	f := primed(t)
	c := f.newContext(primeArgs(), nil)

	var targets []string
	c.AddPreExecHook(func(target string) error {
		targets = append(targets, target)
		return errors.New("hook failures are logged, not fatal")
	})
	_, err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrProcessReplaced)
	assert.Equal(t, []string{"py_exec_required"}, targets)
}
