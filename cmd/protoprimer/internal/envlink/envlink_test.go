// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package envlink

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ProtoPrimer/pkg/logging"
)

func setupRefRoot(t *testing.T, envDirs ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range envDirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	return root
}

func request(root string) Request {
	return Request{RefRoot: root, LinkPath: filepath.Join(root, "lconf"), AllowCreate: true}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"default_env", "default_env", false},
		{"./dst/env/", "dst/env", false},
		{"dst//env", "dst/env", false},
		{"/abs/env", "", true},
		{"../env", "", true},
		{"dst/../env", "", true},
		{"", "", true},
		{".", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsafeTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate_RequiresExistingDirectory(t *testing.T) {
	root := setupRefRoot(t, "default_env")
	require.NoError(t, os.WriteFile(filepath.Join(root, "file_env"), []byte("x"), 0o644))

	_, err := Validate(root, "missing_env")
	assert.ErrorIs(t, err, ErrNotADir)
	_, err = Validate(root, "file_env")
	assert.ErrorIs(t, err, ErrNotADir)

	got, err := Validate(root, "./default_env")
	require.NoError(t, err)
	assert.Equal(t, "default_env", got)
}

func TestEnsure_CreatesRelativeLink(t *testing.T) {
	root := setupRefRoot(t, "dst/default_env")
	req := request(root)
	req.EnvArg = "./dst/default_env"

	res, err := Ensure(req, nil)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "dst/default_env", res.TargetRelPath)
	assert.Equal(t, filepath.Join(root, "dst/default_env"), res.TargetAbsPath)

	content, err := os.Readlink(req.LinkPath)
	require.NoError(t, err)
	assert.Equal(t, "dst/default_env", content)
	assert.False(t, filepath.IsAbs(content))
}

func TestEnsure_UsesClientDefaultWhenNoArg(t *testing.T) {
	root := setupRefRoot(t, "default_env")
	req := request(root)
	req.ClientDefault = "default_env"

	res, err := Ensure(req, nil)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "default_env", res.TargetRelPath)
}

func TestEnsure_NoTarget(t *testing.T) {
	root := setupRefRoot(t)
	_, err := Ensure(request(root), nil)
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestEnsure_RefusesUnsafeTargets(t *testing.T) {
	root := setupRefRoot(t, "env")
	outside := t.TempDir()

	for _, target := range []string{outside, "../env", "missing"} {
		t.Run(target, func(t *testing.T) {
			req := request(root)
			req.EnvArg = target
			_, err := Ensure(req, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnsafeTarget) || errors.Is(err, ErrNotADir))

			_, statErr := os.Lstat(req.LinkPath)
			assert.True(t, os.IsNotExist(statErr), "link must not be created")
		})
	}
}

func TestEnsure_ExistingLink(t *testing.T) {
	root := setupRefRoot(t, "default_env", "other_env")
	require.NoError(t, os.Symlink("default_env", filepath.Join(root, "lconf")))

	t.Run("accepts without arg", func(t *testing.T) {
		res, err := Ensure(request(root), nil)
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.Equal(t, "default_env", res.TargetRelPath)
	})

	t.Run("accepts matching arg", func(t *testing.T) {
		req := request(root)
		req.EnvArg = "./default_env/"
		res, err := Ensure(req, nil)
		require.NoError(t, err)
		assert.Equal(t, "default_env", res.TargetRelPath)
	})

	t.Run("rejects different arg", func(t *testing.T) {
		req := request(root)
		req.EnvArg = "other_env"
		_, err := Ensure(req, nil)
		assert.ErrorIs(t, err, ErrSymlinkTargetMismatch)

		content, err := os.Readlink(req.LinkPath)
		require.NoError(t, err)
		assert.Equal(t, "default_env", content)
	})

	t.Run("warns on different client default", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logging.New(logging.Config{Level: logging.LevelWarn, Writer: &buf})
		req := request(root)
		req.ClientDefault = "other_env"

		res, err := Ensure(req, logger)
		require.NoError(t, err)
		assert.Equal(t, "default_env", res.TargetRelPath)
		assert.Contains(t, buf.String(), "client default")
	})
}

func TestEnsure_NotASymlink(t *testing.T) {
	root := setupRefRoot(t, "lconf")
	_, err := Ensure(request(root), nil)
	assert.ErrorIs(t, err, ErrNotASymlink)
}

func TestEnsure_DanglingLinkIsNotADir(t *testing.T) {
	root := setupRefRoot(t)
	require.NoError(t, os.Symlink("gone_env", filepath.Join(root, "lconf")))

	_, err := Ensure(request(root), nil)
	assert.ErrorIs(t, err, ErrNotADir)
}

func TestEnsure_CreateNotAllowed(t *testing.T) {
	root := setupRefRoot(t, "default_env")
	req := request(root)
	req.EnvArg = "default_env"
	req.AllowCreate = false

	_, err := Ensure(req, nil)
	assert.ErrorIs(t, err, ErrLinkMissing)
}

func TestEnsure_NestedLinkDirectory(t *testing.T) {
	root := setupRefRoot(t, "envs/a")
	req := request(root)
	req.LinkPath = filepath.Join(root, "links", "lconf")
	req.EnvArg = "envs/a"

	res, err := Ensure(req, nil)
	require.NoError(t, err)
	assert.Equal(t, "envs/a", res.TargetRelPath)

	content, err := os.Readlink(req.LinkPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "envs", "a"), content)
}
