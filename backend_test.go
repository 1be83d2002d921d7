package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackendKind(t *testing.T) {
	kind, err := ParseBackendKind("asm")
	require.NoError(t, err)
	assert.Equal(t, BackendAsm, kind)

	kind, err = ParseBackendKind("llvm")
	require.NoError(t, err)
	assert.Equal(t, BackendLLVM, kind)

	_, err = ParseBackendKind("tcc")
	assert.Error(t, err)
}

func TestOptLevelFlags(t *testing.T) {
	assert.Equal(t, "-O0", OptLevel(0).Flag())
	assert.Equal(t, "-O2", OptLevel(2).Flag())
	assert.Equal(t, "-O3", OptLevel(3).Flag())
}

func TestAsmBackendCapabilities(t *testing.T) {
	b := NewAsmBackend()
	assert.True(t, b.Supports(CapIntegerArithmetic))
	assert.True(t, b.Supports(CapControlFlow))
	assert.True(t, b.Supports(CapArchX8664))
	assert.True(t, b.Supports(CapFormatELF))
	assert.True(t, b.Supports(CapFormatMachO))
	assert.False(t, b.Supports(CapArchARM64))
	assert.False(t, b.Supports(CapOptimizationPasses))
	assert.False(t, b.Supports(CapCoverageInstrumentation))
}

func TestCheckBackendSupport(t *testing.T) {
	b := NewAsmBackend()

	ok := &BackendOptions{Arch: ArchX8664, Format: FormatELF}
	assert.NoError(t, checkBackendSupport(b, ok))

	arm := &BackendOptions{Arch: ArchARM64, Format: FormatELF}
	err := checkBackendSupport(b, arm)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arm64")

	opt := &BackendOptions{Arch: ArchX8664, Format: FormatELF, OptLevel: 2}
	assert.Error(t, checkBackendSupport(b, opt))

	cov := &BackendOptions{Arch: ArchX8664, Format: FormatELF, Coverage: true}
	assert.Error(t, checkBackendSupport(b, cov))
}

func TestAsmBackendLifecycle(t *testing.T) {
	b := NewAsmBackend()
	ctx := context.Background()

	// generation before initialization is refused
	_, err := b.Generate(ctx, NewSourceFileContext("x.rk"), &Program{}, "/tmp/x.o")
	require.Error(t, err)

	require.NoError(t, b.Initialize(ctx, &BackendOptions{
		Arch:     ArchX8664,
		Format:   FormatELF,
		Registry: NewSymbolRegistry(),
	}))

	// cleanup is idempotent
	assert.NoError(t, b.Cleanup())
	assert.NoError(t, b.Cleanup())

	_, err = b.Generate(ctx, NewSourceFileContext("x.rk"), &Program{}, "/tmp/x.o")
	assert.Error(t, err, "cleanup returns the backend to uninitialized")
}

func TestAsmBackendHonorsCancellation(t *testing.T) {
	b := NewAsmBackend()
	require.NoError(t, b.Initialize(context.Background(), &BackendOptions{
		Arch:     ArchX8664,
		Format:   FormatELF,
		Registry: NewSymbolRegistry(),
	}))
	defer b.Cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Generate(ctx, NewSourceFileContext("x.rk"), &Program{}, "/tmp/x.o")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAsmBackendRejectsArm(t *testing.T) {
	b := NewAsmBackend()
	err := b.Initialize(context.Background(), &BackendOptions{Arch: ArchARM64, Registry: NewSymbolRegistry()})
	require.Error(t, err)
}
