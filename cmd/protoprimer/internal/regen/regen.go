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
Package regen rewrites the client's proto-kernel copy from the canonical
kernel installed in the venv.

The output is the canonical source verbatim, with:

  - a header right after the shebang (or at the top without one),
  - a provenance banner after every LinesPerBanner source lines,
  - an empty line and the Sentinel line at the very end.

The canonical source must not contain the banner itself, which keeps a
generated copy from being regenerated from.
*/
package regen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/process"
	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/util"
	"github.com/AleutianAI/ProtoPrimer/pkg/logging"
)

// =============================================================================
// Constants and Errors
// =============================================================================

const (
	// LinesPerBanner is the number of source lines between two banners.
	LinesPerBanner = 20

	// Banner marks every LinesPerBanner-th line of a generated copy.
	Banner = "# ### GENERATED COPY: regenerated by `protoprimer` from the installed `protoprimer.proto_kernel` ###"

	// Header is emitted once near the top of a generated copy.
	Header = "# This file is overwritten on every prime. Change the installed package instead."

	// Sentinel is the last line of a generated copy.
	Sentinel = "###"

	// CanonicalModule is the import name of the installed canonical kernel.
	CanonicalModule = "protoprimer.proto_kernel"

	scriptPerm os.FileMode = 0o755
)

// ErrRegenMismatch is returned when banner counts fall outside the allowed range.
var ErrRegenMismatch = errors.New("regenerated proto-kernel banner mismatch")

// =============================================================================
// Rendering
// =============================================================================

// Result describes one regeneration.
type Result struct {
	// SourcePath is the canonical kernel that was read.
	SourcePath string

	// TargetPath is the written copy.
	TargetPath string

	// Lines is the number of source lines.
	Lines int

	// Banners is the number of banners in the output.
	Banners int

	// Changed reports whether the target was rewritten.
	Changed bool
}

// Render produces the generated copy of source.
//
// # Outputs
//
//   - []byte: The generated text
//   - int: Number of source lines
//   - error: ErrRegenMismatch if source already carries banners or the
//     output banner count is out of range
func Render(source []byte) ([]byte, int, error) {
	if n := CountBanners(source); n != 0 {
		return nil, 0, fmt.Errorf("%w: canonical source already contains %d banner(s)", ErrRegenMismatch, n)
	}

	text := strings.TrimSuffix(string(source), "\n")
	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}

	var buf bytes.Buffer
	headerDone := false
	for i, line := range lines {
		if i == 0 && !strings.HasPrefix(line, "#!") {
			buf.WriteString(Header + "\n")
			headerDone = true
		}
		buf.WriteString(line + "\n")
		if i == 0 && !headerDone {
			buf.WriteString(Header + "\n")
			headerDone = true
		}
		if (i+1)%LinesPerBanner == 0 {
			buf.WriteString(Banner + "\n")
		}
	}
	buf.WriteString("\n" + Sentinel + "\n")

	out := buf.Bytes()
	if err := Verify(out, len(lines)); err != nil {
		return nil, 0, err
	}
	return out, len(lines), nil
}

// Verify checks that a generated copy has between 2 and ceil(lines/N)
// banners and ends with the sentinel line.
func Verify(output []byte, sourceLines int) error {
	count := CountBanners(output)
	maxBanners := (sourceLines + LinesPerBanner - 1) / LinesPerBanner
	if count < 2 || count > maxBanners {
		return fmt.Errorf("%w: %d banner(s) for %d source lines, want 2..%d",
			ErrRegenMismatch, count, sourceLines, maxBanners)
	}
	if !bytes.HasSuffix(output, []byte("\n"+Sentinel+"\n")) {
		return fmt.Errorf("%w: missing trailing %q line", ErrRegenMismatch, Sentinel)
	}
	return nil
}

// VerifyCopy checks a generated copy when the canonical source is not at
// hand. The source line count is derived from the layout Render emits.
func VerifyCopy(output []byte) error {
	lines := bytes.Count(output, []byte("\n")) - CountBanners(output) - 3
	if lines < 0 {
		lines = 0
	}
	return Verify(output, lines)
}

// CountBanners returns how many times Banner occurs in text.
func CountBanners(text []byte) int {
	return bytes.Count(text, []byte(Banner))
}

// Regenerate renders sourcePath into targetPath.
//
// # Description
//
// The target is written atomically and only when its content changes, so a
// second regeneration from the same source leaves the file untouched.
func Regenerate(sourcePath, targetPath string, logger *logging.Logger) (Result, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	res := Result{SourcePath: sourcePath, TargetPath: targetPath}

	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return res, fmt.Errorf("read canonical proto-kernel: %w", err)
	}
	out, lines, err := Render(source)
	if err != nil {
		return res, fmt.Errorf("%s: %w", sourcePath, err)
	}
	res.Lines = lines
	res.Banners = CountBanners(out)

	changed, err := util.WriteFileAtomic(targetPath, out, scriptPerm)
	if err != nil {
		return res, fmt.Errorf("write proto-kernel: %w", err)
	}
	res.Changed = changed
	if changed {
		logger.Info("proto-kernel regenerated", "source", sourcePath, "target", targetPath, "banners", res.Banners)
	} else {
		logger.Debug("proto-kernel up to date", "target", targetPath)
	}
	return res, nil
}

// =============================================================================
// Locating the Canonical Kernel
// =============================================================================

// Locator finds the installed canonical kernel.
type Locator interface {
	Locate(ctx context.Context, venvPython string) (string, error)
}

// PythonLocator asks the venv interpreter where CanonicalModule lives.
type PythonLocator struct {
	pm process.Manager
}

// NewPythonLocator creates a locator running probes through pm.
func NewPythonLocator(pm process.Manager) *PythonLocator {
	return &PythonLocator{pm: pm}
}

// Locate runs `<venvPython> -c <find_spec probe>` and returns the origin.
func (l *PythonLocator) Locate(ctx context.Context, venvPython string) (string, error) {
	probe := fmt.Sprintf("import importlib.util; print(importlib.util.find_spec(%q).origin)", CanonicalModule)
	out, err := l.pm.Run(ctx, venvPython, "-c", probe)
	if err != nil {
		return "", fmt.Errorf("locate %s: %w", CanonicalModule, err)
	}
	origin := strings.TrimSpace(string(out))
	if origin == "" || origin == "None" || !filepath.IsAbs(origin) {
		return "", fmt.Errorf("locate %s: unexpected origin %q", CanonicalModule, origin)
	}
	return origin, nil
}

// StaticLocator always returns Path.
type StaticLocator struct {
	Path string
}

// Locate returns the configured path.
func (s StaticLocator) Locate(context.Context, string) (string, error) {
	return s.Path, nil
}

// Compile-time interface compliance check.
var (
	_ Locator = (*PythonLocator)(nil)
	_ Locator = StaticLocator{}
)
