package main

import (
	"context"

	"github.com/pkg/errors"
)

// Capability flags a backend can be asked about before any generation work
type Capability int

const (
	CapIntegerArithmetic Capability = iota
	CapComparisons
	CapControlFlow
	CapFunctionCalls
	CapArchX8664
	CapArchARM64
	CapFormatELF
	CapFormatMachO
	CapOptimizationPasses
	CapCoverageInstrumentation
)

func (c Capability) String() string {
	switch c {
	case CapIntegerArithmetic:
		return "integer arithmetic"
	case CapComparisons:
		return "comparisons"
	case CapControlFlow:
		return "control flow"
	case CapFunctionCalls:
		return "function calls"
	case CapArchX8664:
		return "x86_64"
	case CapArchARM64:
		return "arm64"
	case CapFormatELF:
		return "ELF objects"
	case CapFormatMachO:
		return "Mach-O objects"
	case CapOptimizationPasses:
		return "optimization passes"
	case CapCoverageInstrumentation:
		return "coverage instrumentation"
	default:
		return "unknown"
	}
}

// OptLevel is the requested optimization level, 0 through 3
type OptLevel int

func (l OptLevel) Flag() string {
	switch l {
	case 1:
		return "-O1"
	case 2:
		return "-O2"
	case 3:
		return "-O3"
	default:
		return "-O0"
	}
}

// BackendOptions configures one backend for the duration of a run
type BackendOptions struct {
	Arch            Arch
	Platform        Platform
	Format          ObjFormat
	OptLevel        OptLevel
	IntermediateDir string
	Coverage        bool
	Registry        *SymbolRegistry
}

// Artifact describes one generated per-file output
type Artifact struct {
	Path  string
	Bytes uint64
}

// Backend turns a validated AST into a relocatable object file. Initialize
// must succeed before Generate or Optimize may be called; Cleanup is
// idempotent and is always run, usually via defer, on every exit path.
type Backend interface {
	Initialize(ctx context.Context, opts *BackendOptions) error
	Generate(ctx context.Context, fileCtx *SourceFileContext, prog *Program, outputPath string) (*Artifact, error)
	Optimize(ctx context.Context, irPath string, level OptLevel) error
	Cleanup() error
	Supports(cap Capability) bool
	Name() string
	Version() string
}

// BackendKind selects which backend implementation a run uses
type BackendKind int

const (
	BackendAsm BackendKind = iota
	BackendLLVM
)

func ParseBackendKind(s string) (BackendKind, error) {
	switch s {
	case "asm", "":
		return BackendAsm, nil
	case "llvm":
		return BackendLLVM, nil
	}
	return 0, errors.Errorf("unknown backend %q (want asm or llvm)", s)
}

func (k BackendKind) String() string {
	if k == BackendLLVM {
		return "llvm"
	}
	return "asm"
}

// NewBackend constructs an uninitialized backend of the given kind
func NewBackend(kind BackendKind) Backend {
	if kind == BackendLLVM {
		return NewLLVMBackend()
	}
	return NewAsmBackend()
}

// checkBackendSupport rejects unsupported (backend, target) combinations
// before any generation work begins.
func checkBackendSupport(b Backend, opts *BackendOptions) error {
	var need []Capability
	switch opts.Arch {
	case ArchX8664:
		need = append(need, CapArchX8664)
	case ArchARM64:
		need = append(need, CapArchARM64)
	}
	switch opts.Format {
	case FormatELF:
		need = append(need, CapFormatELF)
	case FormatMachO:
		need = append(need, CapFormatMachO)
	}
	if opts.OptLevel > 0 {
		need = append(need, CapOptimizationPasses)
	}
	if opts.Coverage {
		need = append(need, CapCoverageInstrumentation)
	}
	for _, cap := range need {
		if !b.Supports(cap) {
			return errors.Errorf("backend %s does not support %s", b.Name(), cap)
		}
	}
	return nil
}
