package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/xyproto/env/v2"
)

// Minimum LLVM major release the toolchain backend accepts
var minLLVMVersion = semver.MustParse("14.0.0")

// LLVMBackend lowers through the installed LLVM toolchain: textual IR out,
// then opt for optimization passes and llc for object emission. Tool
// discovery runs once, in Initialize, and the run fails fast if a required
// tool is missing or too old.
type LLVMBackend struct {
	opts        *BackendOptions
	initialized bool
	toolTimeout time.Duration

	opt *toolInfo
	llc *toolInfo
}

func NewLLVMBackend() *LLVMBackend {
	return &LLVMBackend{}
}

func (b *LLVMBackend) Name() string { return "llvm" }

func (b *LLVMBackend) Version() string {
	if b.llc != nil {
		return b.llc.Version.String()
	}
	return "undiscovered"
}

func (b *LLVMBackend) Supports(cap Capability) bool {
	switch cap {
	case CapIntegerArithmetic, CapComparisons, CapControlFlow, CapFunctionCalls:
		return true
	case CapArchX8664, CapArchARM64, CapFormatELF, CapFormatMachO:
		return true
	case CapOptimizationPasses, CapCoverageInstrumentation:
		return true
	}
	return false
}

func (b *LLVMBackend) Initialize(ctx context.Context, opts *BackendOptions) error {
	b.toolTimeout = time.Duration(env.Int("RASKC_OPT_TIMEOUT", 120)) * time.Second

	opt, err := findTool(ctx, []string{"opt"}, minLLVMVersion)
	if err != nil {
		return errors.Wrap(err, "llvm backend")
	}
	llc, err := findTool(ctx, []string{"llc"}, minLLVMVersion)
	if err != nil {
		return errors.Wrap(err, "llvm backend")
	}
	b.opt = opt
	b.llc = llc
	b.opts = opts
	b.initialized = true
	glog.V(1).Infof("llvm backend ready: opt %s, llc %s", opt.Version, llc.Version)
	return nil
}

func (b *LLVMBackend) Cleanup() error {
	b.initialized = false
	b.opts = nil
	b.opt = nil
	b.llc = nil
	return nil
}

// Optimize runs opt over irPath in place of its unoptimized content,
// writing <base>.opt.ll next to it and returning nil on level 0 without
// spawning anything.
func (b *LLVMBackend) Optimize(ctx context.Context, irPath string, level OptLevel) error {
	if !b.initialized {
		return errors.New("llvm backend used before Initialize")
	}
	if level == 0 {
		return nil
	}
	outPath := replaceExt(irPath, ".opt.ll")
	argv := []string{b.opt.Path, level.Flag(), "-S", irPath, "-o", outPath}
	if _, err := runTool(ctx, argv, b.toolTimeout); err != nil {
		return errors.Wrapf(err, "optimize %s", irPath)
	}
	return nil
}

// Generate serializes the program to IR, optimizes it if asked, and lowers
// the result to a relocatable object at outputPath via llc.
func (b *LLVMBackend) Generate(ctx context.Context, fileCtx *SourceFileContext, prog *Program, outputPath string) (*Artifact, error) {
	if !b.initialized {
		return nil, errors.New("llvm backend used before Initialize")
	}

	ir, err := EmitIR(prog, filepath.Base(fileCtx.Path))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: emit IR", fileCtx.Path)
	}

	base := strings.TrimSuffix(filepath.Base(fileCtx.Path), filepath.Ext(fileCtx.Path))
	irPath := filepath.Join(b.opts.IntermediateDir, base+".ll")
	if err := os.WriteFile(irPath, []byte(ir), 0o644); err != nil {
		return nil, errors.Wrapf(err, "write %s", irPath)
	}

	lowerInput := irPath
	if b.opts.OptLevel > 0 {
		if err := b.Optimize(ctx, irPath, b.opts.OptLevel); err != nil {
			return nil, err
		}
		lowerInput = replaceExt(irPath, ".opt.ll")
	}

	triple := TargetTriple(b.opts.Arch, b.opts.Platform)
	argv := []string{b.llc.Path, "-filetype=obj", "-mtriple=" + triple,
		"-relocation-model=pic", lowerInput, "-o", outputPath}
	if _, err := runTool(ctx, argv, b.toolTimeout); err != nil {
		return nil, errors.Wrapf(err, "%s: lower to object", fileCtx.Path)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", outputPath)
	}
	return &Artifact{Path: outputPath, Bytes: uint64(info.Size())}, nil
}

// replaceExt swaps the final extension of path for ext (which includes the
// leading dot, possibly compound like ".opt.ll").
func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
