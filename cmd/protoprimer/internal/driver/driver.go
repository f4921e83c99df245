// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package driver abstracts venv creation and dependency installation.

Two package managers are supported, selected by env_package_driver:

	driver_pip: <python> -m venv <venv>
	            <venv>/bin/python -m pip install -e <project>[extras] ...
	driver_uv:  uv venv --python <python> <venv>
	            uv pip install --python <venv>/bin/python -e <project>[extras] ...

Every venv a driver creates carries a marker file naming the driver. A venv
without a marker, or with another driver's marker, is never reused.

A successful install also leaves a stamp of what was installed so that an
unchanged project set is not reinstalled on every run.
*/
package driver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/conf"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/process"
	"github.com/AleutianAI/ProtoPrimer/pkg/logging"
)

// =============================================================================
// Constants and Errors
// =============================================================================

const (
	// VenvMarkerBasename records which driver created a venv.
	VenvMarkerBasename = "protoprimer.venv.json"

	// DepsStampBasename records what the last successful install covered.
	DepsStampBasename = "protoprimer.deps.json"

	markerDriverField  = "package_driver"
	stampProjectsField = "projects"
	venvConfigBasename = "pyvenv.cfg"
)

var (
	// ErrWrongVenvKind is returned when an existing venv was not created by this driver.
	ErrWrongVenvKind = errors.New("venv was not created by this package driver")

	// ErrUnknownDriver is returned for an unsupported env_package_driver value.
	ErrUnknownDriver = errors.New("unknown package driver")
)

// =============================================================================
// Interface
// =============================================================================

// Driver creates venvs and installs projects into them.
type Driver interface {
	// Kind returns the env_package_driver value this driver serves.
	Kind() string

	// CreateVenv creates venvDir with the given interpreter.
	//
	// # Description
	//
	// Idempotent: a venv carrying this driver's marker is reused as-is.
	//
	// # Outputs
	//
	//   - bool: True if a new venv was created
	//   - error: ErrWrongVenvKind for a foreign venv, *util.CommandError on failure
	CreateVenv(ctx context.Context, pythonAbsPath, venvDirAbsPath string) (bool, error)

	// RemoveVenv deletes a venv this driver created. A missing venv is not
	// an error; any other existing path is ErrWrongVenvKind.
	RemoveVenv(ctx context.Context, venvDirAbsPath string) error

	// InstallDependencies installs every project in editable mode with its extras.
	//
	// # Inputs
	//
	//   - venvDirAbsPath: Venv created by CreateVenv
	//   - projects: Absolute project directory -> extras
	InstallDependencies(ctx context.Context, venvDirAbsPath string, projects map[string][]string) error

	// StampMatches reports whether the last install covered exactly projects.
	StampMatches(venvDirAbsPath string, projects map[string][]string) bool
}

// New returns the driver for kind.
func New(kind string, pm process.Manager, logger *logging.Logger) (Driver, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	b := base{kind: kind, pm: pm, logger: logger}
	switch kind {
	case conf.DriverPip:
		return &pipDriver{base: b}, nil
	case conf.DriverUv:
		return &uvDriver{base: b, uv: "uv"}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, kind)
	}
}

// VenvPython returns the interpreter inside a venv.
func VenvPython(venvDirAbsPath string) string {
	return filepath.Join(venvDirAbsPath, "bin", "python")
}

// VenvActivate returns the shell activation script of a venv.
func VenvActivate(venvDirAbsPath string) string {
	return filepath.Join(venvDirAbsPath, "bin", "activate")
}

// MarkerKind returns the driver recorded in a venv's marker.
//
// # Outputs
//
//   - string: The recorded env_package_driver value
//   - bool: Whether a readable marker exists
func MarkerKind(venvDirAbsPath string) (string, bool) {
	marker, exists, err := conf.Load(conf.LeapEnv, filepath.Join(venvDirAbsPath, VenvMarkerBasename))
	if err != nil || !exists {
		return "", false
	}
	kind, ok := marker.String(markerDriverField)
	return kind, ok
}

// =============================================================================
// Shared Implementation
// =============================================================================

type base struct {
	kind   string
	pm     process.Manager
	logger *logging.Logger
}

func (b *base) Kind() string {
	return b.kind
}

// checkVenv reports whether venvDir carries this driver's marker.
//
// A missing directory, or one that is not a venv yet, is not reusable but
// is not an error either.
func (b *base) checkVenv(venvDir string) (reuse bool, err error) {
	info, err := os.Stat(venvDir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%w: %s is not a directory", ErrWrongVenvKind, venvDir)
	}

	marker, exists, err := conf.Load(conf.LeapEnv, filepath.Join(venvDir, VenvMarkerBasename))
	if err != nil {
		return false, err
	}
	if !exists {
		if _, statErr := os.Stat(filepath.Join(venvDir, venvConfigBasename)); statErr == nil {
			return false, fmt.Errorf("%w: %s has no %s (expected %s)", ErrWrongVenvKind, venvDir, VenvMarkerBasename, b.kind)
		}
		return false, nil
	}
	got, _ := marker.String(markerDriverField)
	if got != b.kind {
		return false, fmt.Errorf("%w: %s was created by %q, configured driver is %q", ErrWrongVenvKind, venvDir, got, b.kind)
	}
	return true, nil
}

func (b *base) writeMarker(venvDir string) error {
	_, err := conf.Save(filepath.Join(venvDir, VenvMarkerBasename), conf.Data{markerDriverField: b.kind})
	return err
}

// RemoveVenv deletes a venv this driver created.
//
// A missing directory is a no-op. Any existing path without this driver's
// marker is refused with ErrWrongVenvKind and left untouched.
func (b *base) RemoveVenv(_ context.Context, venvDir string) error {
	if _, err := os.Lstat(venvDir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	reuse, err := b.checkVenv(venvDir)
	if err != nil {
		return err
	}
	if !reuse {
		return fmt.Errorf("%w: %s has no %s, refusing to remove it", ErrWrongVenvKind, venvDir, VenvMarkerBasename)
	}
	b.logger.Info("removing venv", "venv", venvDir, "driver", b.kind)
	return os.RemoveAll(venvDir)
}

func (b *base) createVenv(ctx context.Context, venvDir string, name string, args ...string) (bool, error) {
	reuse, err := b.checkVenv(venvDir)
	if err != nil {
		return false, err
	}
	if reuse {
		b.logger.Debug("reusing venv", "venv", venvDir, "driver", b.kind)
		return false, nil
	}
	b.logger.Info("creating venv", "venv", venvDir, "driver", b.kind)
	if _, err := b.pm.Run(ctx, name, args...); err != nil {
		return false, err
	}
	if err := b.writeMarker(venvDir); err != nil {
		return false, err
	}
	return true, nil
}

func (b *base) install(ctx context.Context, venvDir string, projects map[string][]string, name string, args ...string) error {
	args = append(args, EditableArgs(projects)...)
	b.logger.Info("installing dependencies", "venv", venvDir, "driver", b.kind, "projects", len(projects))
	if _, err := b.pm.Run(ctx, name, args...); err != nil {
		return err
	}
	_, err := conf.Save(filepath.Join(venvDir, DepsStampBasename), stampData(b.kind, projects))
	return err
}

func (b *base) StampMatches(venvDir string, projects map[string][]string) bool {
	stamp, exists, err := conf.Load(conf.LeapEnv, filepath.Join(venvDir, DepsStampBasename))
	if err != nil || !exists {
		return false
	}
	want, err := conf.Parse(mustMarshal(stampData(b.kind, projects)))
	if err != nil {
		return false
	}
	return reflect.DeepEqual(map[string]any(stamp), map[string]any(want))
}

// EditableArgs renders "-e <dir>[extras]" pairs in sorted project order.
func EditableArgs(projects map[string][]string) []string {
	dirs := make([]string, 0, len(projects))
	for dir := range projects {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	args := make([]string, 0, 2*len(dirs))
	for _, dir := range dirs {
		spec := dir
		if extras := projects[dir]; len(extras) > 0 {
			spec += "[" + strings.Join(extras, ",") + "]"
		}
		args = append(args, "-e", spec)
	}
	return args
}

func stampData(kind string, projects map[string][]string) conf.Data {
	p := make(map[string]any, len(projects))
	for dir, extras := range projects {
		list := make([]any, len(extras))
		for i, e := range extras {
			list[i] = e
		}
		p[dir] = list
	}
	return conf.Data{markerDriverField: kind, stampProjectsField: p}
}

func mustMarshal(d conf.Data) []byte {
	raw, err := conf.Marshal(d)
	if err != nil {
		return nil
	}
	return raw
}

// =============================================================================
// pip
// =============================================================================

type pipDriver struct {
	base
}

func (d *pipDriver) CreateVenv(ctx context.Context, python, venvDir string) (bool, error) {
	return d.createVenv(ctx, venvDir, python, "-m", "venv", venvDir)
}

func (d *pipDriver) InstallDependencies(ctx context.Context, venvDir string, projects map[string][]string) error {
	return d.install(ctx, venvDir, projects, VenvPython(venvDir), "-m", "pip", "install")
}

// =============================================================================
// uv
// =============================================================================

type uvDriver struct {
	base
	uv string
}

func (d *uvDriver) CreateVenv(ctx context.Context, python, venvDir string) (bool, error) {
	return d.createVenv(ctx, venvDir, d.uv, "venv", "--python", python, venvDir)
}

func (d *uvDriver) InstallDependencies(ctx context.Context, venvDir string, projects map[string][]string) error {
	return d.install(ctx, venvDir, projects, d.uv, "pip", "install", "--python", VenvPython(venvDir))
}

// Compile-time interface compliance check.
var (
	_ Driver = (*pipDriver)(nil)
	_ Driver = (*uvDriver)(nil)
)
