package main

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/blang/semver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnixShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a unix shell")
	}
	if _, err := lookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRunToolCapturesOutput(t *testing.T) {
	requireUnixShell(t)
	res, err := runTool(context.Background(),
		[]string{"sh", "-c", "echo out; echo err >&2"}, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunToolNonZeroExit(t *testing.T) {
	requireUnixShell(t)
	res, err := runTool(context.Background(),
		[]string{"sh", "-c", "echo boom >&2; exit 3"}, 10*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunToolTimeout(t *testing.T) {
	requireUnixShell(t)
	start := time.Now()
	_, err := runTool(context.Background(),
		[]string{"sh", "-c", "sleep 30"}, 200*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 5*time.Second, "timeout was not enforced")
}

func TestRunToolEmptyArgv(t *testing.T) {
	_, err := runTool(context.Background(), nil, time.Second)
	assert.Error(t, err)
}

func TestWithTempFileAlwaysCleansUp(t *testing.T) {
	dir := t.TempDir()
	var kept string
	err := withTempFile(dir, "probe*", func(path string) error {
		kept = path
		return os.WriteFile(path, []byte("x"), 0o644)
	})
	require.NoError(t, err)
	assert.NoFileExists(t, kept)

	err = withTempFile(dir, "probe*", func(path string) error {
		kept = path
		return assert.AnError
	})
	require.Error(t, err)
	assert.NoFileExists(t, kept, "temp file must go away on the error path too")
}

func TestParseToolVersion(t *testing.T) {
	cases := []struct {
		banner string
		want   string
	}{
		{"clang version 17.0.6 (Fedora 17.0.6-2)", "17.0.6"},
		{"LLVM (http://llvm.org/):\n  LLVM version 14.0", "14.0.0"},
		{"cc (GCC) 13.2.1 20230801", "13.2.1"},
	}
	for _, c := range cases {
		v, err := parseToolVersion(c.banner)
		require.NoError(t, err, "banner %q", c.banner)
		assert.Equal(t, c.want, v.String())
	}

	_, err := parseToolVersion("no digits here")
	assert.Error(t, err)
}

func TestLookPathFindsExecutables(t *testing.T) {
	requireUnixShell(t)
	path, err := lookPath("sh")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path) || filepath.Dir(path) != ".")

	_, err = lookPath("definitely-not-a-real-tool-xyz")
	assert.Error(t, err)
}

func TestFindToolVersionGate(t *testing.T) {
	requireUnixShell(t)
	dir := t.TempDir()
	fake := filepath.Join(dir, "faketool")
	script := "#!/bin/sh\necho faketool version 2.1.0\n"
	require.NoError(t, os.WriteFile(fake, []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	info, err := findTool(context.Background(), []string{"faketool"}, semver.MustParse("2.0.0"))
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", info.Version.String())

	_, err = findTool(context.Background(), []string{"faketool"}, semver.MustParse("3.0.0"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need at least")

	_, err = findTool(context.Background(), []string{"missing-tool-abc"}, semver.Version{})
	require.Error(t, err)
}

func TestFindToolFallsThroughBrokenCandidate(t *testing.T) {
	requireUnixShell(t)
	dir := t.TempDir()
	write := func(name, script string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755))
	}
	write("brokentool", "#!/bin/sh\nexit 1\n")
	write("garbledtool", "#!/bin/sh\necho no digits here\n")
	write("oldtool", "#!/bin/sh\necho oldtool version 1.0.0\n")
	write("goodtool", "#!/bin/sh\necho goodtool version 9.9.9\n")
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	// a failing probe must not end discovery
	info, err := findTool(context.Background(), []string{"brokentool", "goodtool"}, semver.Version{})
	require.NoError(t, err)
	assert.Equal(t, "goodtool", info.Name)
	assert.Equal(t, "9.9.9", info.Version.String())

	// unparseable version output falls through the same way
	info, err = findTool(context.Background(), []string{"garbledtool", "goodtool"}, semver.Version{})
	require.NoError(t, err)
	assert.Equal(t, "goodtool", info.Name)

	// so does a candidate below the minimum version
	info, err = findTool(context.Background(), []string{"oldtool", "goodtool"}, semver.MustParse("2.0.0"))
	require.NoError(t, err)
	assert.Equal(t, "goodtool", info.Name)
}
