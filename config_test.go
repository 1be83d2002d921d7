package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifestMissingIsNil(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "rask.yaml"))
	require.NoError(t, err)
	assert.Nil(t, m)
	// a nil manifest applies cleanly
	opts := DefaultOptions()
	assert.NoError(t, m.Apply(opts))
}

func TestLoadManifestApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rask.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
program: demo
backend: llvm
target: arm64
platform: darwin
opt_level: 2
sources:
  - main.rk
  - util.rk
`), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, []string{"main.rk", "util.rk"}, m.Sources)
	assert.Equal(t, "demo", m.Program)

	opts := DefaultOptions()
	require.NoError(t, m.Apply(opts))
	assert.Equal(t, BackendLLVM, opts.Backend)
	assert.Equal(t, ArchARM64, opts.Arch)
	assert.Equal(t, PlatformDarwin, opts.Platform)
	assert.Equal(t, OptLevel(2), opts.OptLevel)
}

func TestLoadManifestRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rask.yaml")
	require.NoError(t, os.WriteFile(path, []byte("no_such_key: true\n"), 0o644))
	_, err := LoadManifest(path)
	assert.Error(t, err)
}

func TestManifestApplyRejectsBadValues(t *testing.T) {
	opts := DefaultOptions()
	assert.Error(t, (&Manifest{Backend: "gcc"}).Apply(opts))
	assert.Error(t, (&Manifest{Target: "mips"}).Apply(opts))
	assert.Error(t, (&Manifest{OptLevel: 9}).Apply(opts))
}

func TestOptionsValidate(t *testing.T) {
	opts := DefaultOptions()
	assert.NoError(t, opts.Validate())

	opts.OptLevel = 4
	assert.Error(t, opts.Validate())
	opts.OptLevel = 0

	opts.IntermediateDir = ""
	assert.Error(t, opts.Validate())
}

func TestDefaultOptionsHonorEnvironment(t *testing.T) {
	t.Setenv("RASKC_INTERMEDIATE_DIR", "/tmp/custom-intermediates")
	t.Setenv("RASKC_JOBS", "3")
	opts := DefaultOptions()
	assert.Equal(t, "/tmp/custom-intermediates", opts.IntermediateDir)
	assert.Equal(t, 3, opts.Jobs)
}
