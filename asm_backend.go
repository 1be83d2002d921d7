package main

import (
	"context"
	"os"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// AsmBackend is the self-hosted code generator: instruction selection,
// linear-scan register allocation and direct object emission, no external
// tools involved. One instance is live per orchestrator run; Generate is
// called once per source file and builds a fresh object from scratch.
type AsmBackend struct {
	opts        *BackendOptions
	initialized bool
}

func NewAsmBackend() *AsmBackend {
	return &AsmBackend{}
}

func (b *AsmBackend) Name() string    { return "asm" }
func (b *AsmBackend) Version() string { return raskcVersion }

func (b *AsmBackend) Supports(cap Capability) bool {
	switch cap {
	case CapIntegerArithmetic, CapComparisons, CapControlFlow, CapFunctionCalls:
		return true
	case CapArchX8664, CapFormatELF, CapFormatMachO:
		return true
	}
	return false
}

func (b *AsmBackend) Initialize(ctx context.Context, opts *BackendOptions) error {
	if opts.Arch != ArchX8664 {
		return errors.Errorf("asm backend cannot target %s", opts.Arch)
	}
	if opts.Registry == nil {
		return errors.New("asm backend needs a symbol registry")
	}
	b.opts = opts
	b.initialized = true
	return nil
}

// Optimize is a no-op here: the asm backend has no optimization passes and
// refuses levels above zero at the capability gate.
func (b *AsmBackend) Optimize(ctx context.Context, irPath string, level OptLevel) error {
	if level > 0 {
		return errors.Errorf("asm backend has no %s passes", level.Flag())
	}
	return nil
}

func (b *AsmBackend) Cleanup() error {
	b.initialized = false
	b.opts = nil
	return nil
}

// Generate compiles every function of one file into a relocatable object at
// outputPath. Per-function state (instruction buffer, allocation, labels) is
// created fresh inside lowerFunc/EncodeFunc; only the object builder
// accumulates across functions.
func (b *AsmBackend) Generate(ctx context.Context, fileCtx *SourceFileContext, prog *Program, outputPath string) (*Artifact, error) {
	if !b.initialized {
		return nil, errors.New("asm backend used before Initialize")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	builder, err := NewObjectBuilder(b.opts.Arch)
	if err != nil {
		return nil, err
	}
	text := builder.Text()

	for _, fn := range prog.Functions {
		instrs, nslots, err := lowerFunc(fn, builder, b.opts.Registry)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: instruction selection", fileCtx.Path)
		}
		alloc := AllocateRegisters(instrs.Instrs(), nslots)
		asm, err := EncodeFunc(instrs.Instrs(), alloc)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: encode %s", fileCtx.Path, fn.Name)
		}

		if err := text.AlignTo(16); err != nil {
			return nil, err
		}
		funcOff := text.Size()
		code := asm.Code()
		if err := text.Append(code); err != nil {
			return nil, errors.Wrapf(err, "%s: emit %s", fileCtx.Path, fn.Name)
		}
		if _, err := builder.DefineFunc(fn.Name, funcOff, uint64(len(code))); err != nil {
			return nil, errors.Wrapf(err, "%s", fileCtx.Path)
		}

		// Function-local relocations are offset from the start of the
		// function body; rebase them to .text offsets.
		for _, r := range asm.Relocs() {
			symIdx, ok := builder.Symbols().Lookup(r.Sym)
			if !ok {
				symIdx, err = builder.Symbols().AddUndefined(r.Sym)
				if err != nil {
					return nil, err
				}
			}
			if err := builder.Relocations().AddRelocation(".text", funcOff+uint64(r.Offset), symIdx, r.Type, r.Addend); err != nil {
				return nil, errors.Wrapf(err, "%s: relocation in %s", fileCtx.Path, fn.Name)
			}
		}
		glog.V(2).Infof("%s: %s is %d bytes at .text+%d, %d spills",
			fileCtx.Path, fn.Name, len(code), funcOff, alloc.Spills())
	}

	writer := NewObjectWriter(b.opts.Format, builder)
	if err := writer.WriteObject(outputPath); err != nil {
		return nil, errors.Wrapf(err, "%s: write object", fileCtx.Path)
	}
	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", outputPath)
	}
	return &Artifact{Path: outputPath, Bytes: uint64(info.Size())}, nil
}
