// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package envlink manages the symlink that selects the active env directory.
//
// The link lives under the ref root (by default `@/lconf`) and points at an
// env directory given relative to the ref root. Once created it is never
// re-targeted implicitly: a different --env fails until the user removes
// the link.
package envlink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/conf"
	"github.com/AleutianAI/ProtoPrimer/pkg/logging"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrSymlinkTargetMismatch is returned when --env differs from the existing link.
	ErrSymlinkTargetMismatch = errors.New("symlink target mismatch")

	// ErrNotASymlink is returned when the link path exists but is not a symlink.
	ErrNotASymlink = errors.New("not a symlink")

	// ErrNotADir is returned when a target does not resolve to a directory.
	ErrNotADir = errors.New("not a directory")

	// ErrUnsafeTarget is returned for absolute targets or targets with "..".
	ErrUnsafeTarget = errors.New("unsafe symlink target")

	// ErrNoTarget is returned when the link is missing and no target is known.
	ErrNoTarget = errors.New("no env target known")

	// ErrLinkMissing is returned when the link is missing and creation is not allowed.
	ErrLinkMissing = errors.New("env link does not exist")
)

// =============================================================================
// Types
// =============================================================================

// Request describes one resolution of the env link.
type Request struct {
	// RefRoot is the absolute ref root directory.
	RefRoot string

	// LinkPath is the absolute path of the link.
	LinkPath string

	// EnvArg is the --env value, relative to the ref root. May be empty.
	EnvArg string

	// ClientDefault is client_default_env_dir_rel_path. May be empty.
	ClientDefault string

	// AllowCreate permits creating a missing link.
	AllowCreate bool
}

// Result is the resolved env selection.
type Result struct {
	// TargetRelPath is the normalized target relative to the ref root.
	TargetRelPath string

	// TargetAbsPath is the absolute env directory.
	TargetAbsPath string

	// Created reports whether this call created the link.
	Created bool
}

// =============================================================================
// Validation
// =============================================================================

// Normalize checks a proposed target and returns its cleaned form.
//
// # Outputs
//
//   - string: filepath.Clean of target
//   - error: ErrUnsafeTarget for empty, absolute or ".."-bearing paths
func Normalize(target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsafeTarget)
	}
	if filepath.IsAbs(target) {
		return "", fmt.Errorf("%w: %q is absolute", ErrUnsafeTarget, target)
	}
	if conf.HasDotDot(target) {
		return "", fmt.Errorf("%w: %q contains '..'", ErrUnsafeTarget, target)
	}
	clean := filepath.Clean(target)
	if clean == "." {
		return "", fmt.Errorf("%w: %q names the ref root itself", ErrUnsafeTarget, target)
	}
	return clean, nil
}

// Validate normalizes target and checks that it is an existing directory.
func Validate(refRoot, target string) (string, error) {
	clean, err := Normalize(target)
	if err != nil {
		return "", err
	}
	abs := filepath.Join(refRoot, clean)
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotADir, abs)
	}
	return clean, nil
}

// =============================================================================
// Link Operations
// =============================================================================

// Read returns the existing link target relative to refRoot.
//
// # Description
//
// Uses Lstat so a dangling link is still reported as existing.
//
// # Outputs
//
//   - string: Target relative to refRoot, cleaned
//   - bool: Whether anything exists at linkPath
//   - error: ErrNotASymlink if linkPath is a regular file or directory
func Read(refRoot, linkPath string) (string, bool, error) {
	info, err := os.Lstat(linkPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return "", true, fmt.Errorf("%w: %s", ErrNotASymlink, linkPath)
	}
	content, err := os.Readlink(linkPath)
	if err != nil {
		return "", true, err
	}
	abs := content
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(filepath.Dir(linkPath), content)
	}
	rel, err := filepath.Rel(refRoot, filepath.Clean(abs))
	if err != nil {
		return "", true, err
	}
	return rel, true, nil
}

// Ensure resolves the env link, creating it when allowed.
//
// # Description
//
//   - Link exists, no --env: accept it (warn if the client default differs).
//   - Link exists, --env equal after normalization: accept it.
//   - Link exists, --env differs: ErrSymlinkTargetMismatch.
//   - Link missing: create it towards --env or the client default,
//     after validating the target; ErrNoTarget if neither is set.
//
// The link content is written relative to the link's own directory and
// read back after creation.
//
// # Inputs
//
//   - req: Paths, candidate targets and the create permission
//   - logger: Receives the client-default warning
//
// # Outputs
//
//   - Result: The selected env directory
//   - error: One of the sentinels above, wrapped with the offending path
func Ensure(req Request, logger *logging.Logger) (Result, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	existing, exists, err := Read(req.RefRoot, req.LinkPath)
	if err != nil {
		return Result{}, err
	}

	if exists {
		if req.EnvArg != "" {
			want, err := Normalize(req.EnvArg)
			if err != nil {
				return Result{}, err
			}
			if want != existing {
				return Result{}, fmt.Errorf("%w: %s -> %s, but --env is %s (remove the link to re-target it)",
					ErrSymlinkTargetMismatch, req.LinkPath, existing, want)
			}
		} else if req.ClientDefault != "" {
			if def, err := Normalize(req.ClientDefault); err == nil && def != existing {
				logger.Warn("env link differs from the client default; keeping the link",
					"link", req.LinkPath, "target", existing, "client_default", def)
			}
		}
		if !isDir(req.LinkPath) {
			return Result{}, fmt.Errorf("%w: %s -> %s", ErrNotADir, req.LinkPath, existing)
		}
		return Result{TargetRelPath: existing, TargetAbsPath: filepath.Join(req.RefRoot, existing)}, nil
	}

	target := req.EnvArg
	if target == "" {
		target = req.ClientDefault
	}
	if target == "" {
		return Result{}, fmt.Errorf("%w: %s does not exist", ErrNoTarget, req.LinkPath)
	}
	clean, err := Validate(req.RefRoot, target)
	if err != nil {
		return Result{}, err
	}
	if !req.AllowCreate {
		return Result{}, fmt.Errorf("%w: %s", ErrLinkMissing, req.LinkPath)
	}

	if err := create(req.RefRoot, req.LinkPath, clean); err != nil {
		return Result{}, err
	}
	logger.Info("env link created", "link", req.LinkPath, "target", clean)
	return Result{TargetRelPath: clean, TargetAbsPath: filepath.Join(req.RefRoot, clean), Created: true}, nil
}

func create(refRoot, linkPath, target string) error {
	linkDir := filepath.Dir(linkPath)
	if err := os.MkdirAll(linkDir, 0o755); err != nil {
		return fmt.Errorf("create link directory %s: %w", linkDir, err)
	}
	content, err := filepath.Rel(linkDir, filepath.Join(refRoot, target))
	if err != nil {
		return err
	}
	if err := os.Symlink(content, linkPath); err != nil {
		return fmt.Errorf("create env link %s: %w", linkPath, err)
	}
	got, _, err := Read(refRoot, linkPath)
	if err != nil {
		return err
	}
	if got != target {
		return fmt.Errorf("%w: created %s -> %s, read back %s", ErrSymlinkTargetMismatch, linkPath, target, got)
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
