// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package regen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ProtoPrimer/cmd/protoprimer/internal/process"
)

func kernelSource(lines int, shebang bool) string {
	var b strings.Builder
	for i := 0; i < lines; i++ {
		if i == 0 && shebang {
			b.WriteString("#!/usr/bin/env python3\n")
			continue
		}
		fmt.Fprintf(&b, "line_%d = %d\n", i, i)
	}
	return b.String()
}

func TestRender_BannersHeaderSentinel(t *testing.T) {
	out, lines, err := Render([]byte(kernelSource(45, true)))
	require.NoError(t, err)
	assert.Equal(t, 45, lines)

	text := string(out)
	outLines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	assert.Equal(t, "#!/usr/bin/env python3", outLines[0])
	assert.Equal(t, Header, outLines[1])
	assert.Equal(t, 2, CountBanners(out))
	assert.Equal(t, Sentinel, outLines[len(outLines)-1])
	assert.Equal(t, "", outLines[len(outLines)-2])

	// source line 20 is followed by the first banner
	idx := strings.Index(text, "line_19 = 19\n")
	require.GreaterOrEqual(t, idx, 0)
	assert.True(t, strings.HasPrefix(text[idx+len("line_19 = 19\n"):], Banner+"\n"))
}

func TestRender_HeaderWithoutShebang(t *testing.T) {
	out, _, err := Render([]byte(kernelSource(40, false)))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), Header+"\nline_0 = 0\n"))
}

func TestRender_BannerCountBounds(t *testing.T) {
	for _, n := range []int{40, 41, 59, 60, 61, 200} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			out, _, err := Render([]byte(kernelSource(n, true)))
			require.NoError(t, err)
			count := CountBanners(out)
			assert.GreaterOrEqual(t, count, 2)
			assert.LessOrEqual(t, count, (n+LinesPerBanner-1)/LinesPerBanner)
		})
	}
}

func TestRender_TooShort(t *testing.T) {
	_, _, err := Render([]byte(kernelSource(39, true)))
	assert.ErrorIs(t, err, ErrRegenMismatch)
}

func TestRender_RefusesGeneratedSource(t *testing.T) {
	out, _, err := Render([]byte(kernelSource(60, true)))
	require.NoError(t, err)

	_, _, err = Render(out)
	assert.ErrorIs(t, err, ErrRegenMismatch)
}

func TestVerify_MissingSentinel(t *testing.T) {
	text := []byte(Banner + "\n" + Banner + "\n")
	assert.ErrorIs(t, Verify(text, 40), ErrRegenMismatch)
}

func TestVerifyCopy(t *testing.T) {
	out, _, err := Render([]byte(kernelSource(61, true)))
	require.NoError(t, err)
	assert.NoError(t, VerifyCopy(out))

	assert.ErrorIs(t, VerifyCopy([]byte(kernelSource(61, true))), ErrRegenMismatch)
	assert.ErrorIs(t, VerifyCopy(out[:len(out)-4]), ErrRegenMismatch)
}

func TestRegenerate_Idempotent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "site-packages", "protoprimer", "proto_kernel.py")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte(kernelSource(100, true)), 0o644))
	target := filepath.Join(dir, "proto_kernel.py")

	first, err := Regenerate(src, target, nil)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, 5, first.Banners)
	firstContent, err := os.ReadFile(target)
	require.NoError(t, err)

	second, err := Regenerate(src, target, nil)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, first.Banners, second.Banners)
	secondContent, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, firstContent, secondContent)

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100, "copy stays executable")
}

func TestRegenerate_MissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := Regenerate(filepath.Join(dir, "nope.py"), filepath.Join(dir, "out.py"), nil)
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "out.py"))
}

func TestPythonLocator(t *testing.T) {
	pm := &process.MockManager{
		RunFunc: func(context.Context, string, ...string) ([]byte, error) {
			return []byte("/r/venv/lib/python3.11/site-packages/protoprimer/proto_kernel.py\n"), nil
		},
	}
	got, err := NewPythonLocator(pm).Locate(context.Background(), "/r/venv/bin/python")
	require.NoError(t, err)
	assert.Equal(t, "/r/venv/lib/python3.11/site-packages/protoprimer/proto_kernel.py", got)

	calls := pm.GetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/r/venv/bin/python", calls[0].Name)
	assert.Equal(t, "-c", calls[0].Args[0])
	assert.Contains(t, calls[0].Args[1], CanonicalModule)
}

func TestPythonLocator_NotInstalled(t *testing.T) {
	pm := &process.MockManager{
		RunFunc: func(context.Context, string, ...string) ([]byte, error) {
			return []byte("None\n"), nil
		},
	}
	_, err := NewPythonLocator(pm).Locate(context.Background(), "/r/venv/bin/python")
	assert.Error(t, err)
}
