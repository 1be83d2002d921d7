package main

import (
	"context"
	"os"
	"time"

	"github.com/blang/semver"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/xyproto/env/v2"
)

// Any vaguely modern system compiler driver will do for linking
var minLinkerVersion = semver.MustParse("7.0.0")

// Linker drives the system C compiler to combine per-file objects into one
// executable. Using the compiler driver instead of ld directly gets the C
// runtime startup files and default library paths for free.
type Linker struct {
	tool     *toolInfo
	timeout  time.Duration
	coverage bool
}

// NewLinker discovers the link driver. clang is preferred so coverage
// instrumentation flags work when requested; cc is the fallback.
func NewLinker(ctx context.Context, coverage bool) (*Linker, error) {
	names := []string{"clang", "cc", "gcc"}
	if coverage {
		names = []string{"clang"}
	}
	tool, err := findTool(ctx, names, minLinkerVersion)
	if err != nil {
		return nil, errors.Wrap(err, "link driver")
	}
	return &Linker{
		tool:     tool,
		timeout:  time.Duration(env.Int("RASKC_LINK_TIMEOUT", 120)) * time.Second,
		coverage: coverage,
	}, nil
}

// Link combines the objects into an executable at outputPath and returns
// its size in bytes.
func (l *Linker) Link(ctx context.Context, objects []string, outputPath string) (uint64, error) {
	if len(objects) == 0 {
		return 0, errors.New("nothing to link")
	}
	argv := []string{l.tool.Path, "-o", outputPath}
	if l.coverage {
		argv = append(argv, "-fprofile-instr-generate", "-fcoverage-mapping")
	}
	argv = append(argv, objects...)

	if _, err := runTool(ctx, argv, l.timeout); err != nil {
		return 0, errors.Wrap(err, "link")
	}
	info, err := os.Stat(outputPath)
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", outputPath)
	}
	glog.V(1).Infof("linked %s from %d objects", outputPath, len(objects))
	return uint64(info.Size()), nil
}
