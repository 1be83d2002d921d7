package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blang/semver"
	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

const raskcVersion = "0.4.0"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "raskc:", err)
		glog.Flush()
		os.Exit(1)
	}
	glog.Flush()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "raskc",
		Short:         "raskc compiles Rask source files to native executables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// glog registers -v, -logtostderr and friends on the standard flag set
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	root.AddCommand(newBuildCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newBuildCmd() *cobra.Command {
	var (
		backendName string
		archName    string
		osName      string
		optLevel    int
		output      string
		interDir    string
		clean       bool
		coverage    bool
		jobs        int
		manifest    string
	)

	cmd := &cobra.Command{
		Use:   "build [files...]",
		Short: "Compile .rk source files and link them into an executable",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := DefaultOptions()

			m, err := LoadManifest(manifest)
			if err != nil {
				return err
			}
			if err := m.Apply(opts); err != nil {
				return err
			}
			if m != nil && len(args) == 0 {
				args = m.Sources
			}
			if m != nil && output == "" {
				output = m.Program
			}
			if len(args) == 0 {
				return fmt.Errorf("no input files (pass .rk files or list sources in %s)", manifest)
			}
			if output == "" {
				output = "a.out"
			}

			if cmd.Flags().Changed("backend") {
				kind, err := ParseBackendKind(backendName)
				if err != nil {
					return err
				}
				opts.Backend = kind
			}
			if cmd.Flags().Changed("target") {
				arch, err := ParseArch(archName)
				if err != nil {
					return err
				}
				opts.Arch = arch
			}
			if cmd.Flags().Changed("platform") {
				platform, err := ParsePlatform(osName)
				if err != nil {
					return err
				}
				opts.Platform = platform
			}
			if cmd.Flags().Changed("opt") {
				opts.OptLevel = OptLevel(optLevel)
			}
			if cmd.Flags().Changed("intermediate-dir") {
				opts.IntermediateDir = interDir
			}
			if cmd.Flags().Changed("jobs") {
				opts.Jobs = jobs
			}
			opts.CleanIntermediates = clean
			opts.Coverage = opts.Coverage || coverage
			if err := opts.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orch := NewOrchestrator(opts)
			compileErr := orch.CompileFiles(ctx, args, output)
			printStats(cmd, orch.Stats(), output, compileErr == nil)
			return compileErr
		},
	}

	cmd.Flags().StringVar(&backendName, "backend", "asm", "code generation backend (asm or llvm)")
	cmd.Flags().StringVar(&archName, "target", HostArch().String(), "target architecture")
	cmd.Flags().StringVar(&osName, "platform", HostPlatform().String(), "target platform (linux or darwin)")
	cmd.Flags().IntVarP(&optLevel, "opt", "O", 0, "optimization level 0..3 (llvm backend)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output executable path")
	cmd.Flags().StringVar(&interDir, "intermediate-dir", "", "directory for per-file objects and IR")
	cmd.Flags().BoolVar(&clean, "clean-intermediates", false, "remove intermediate artifacts after a successful link")
	cmd.Flags().BoolVar(&coverage, "coverage", false, "instrument for coverage (llvm backend)")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "frontend worker limit (0 = one per file)")
	cmd.Flags().StringVar(&manifest, "manifest", "rask.yaml", "project manifest path")
	return cmd
}

func printStats(cmd *cobra.Command, stats CompilationStats, output string, success bool) {
	if !success {
		return
	}
	cmd.Printf("%s: %s files, %s lines in %v\n",
		output,
		humanize.Comma(int64(stats.TotalFiles)),
		humanize.Comma(int64(stats.TotalLines)),
		stats.Elapsed.Round(time.Millisecond))
	for _, phase := range []Phase{PhaseLexing, PhaseParsing, PhaseSemanticAnalysis, PhaseCodeGeneration, PhaseLinking} {
		if d, ok := stats.PhaseTotals[phase]; ok {
			glog.V(1).Infof("%s: %v", phase, d.Round(time.Microsecond))
		}
	}
	if stats.ArtifactSize > 0 {
		cmd.Printf("artifact size: %s\n", humanize.Bytes(uint64(stats.ArtifactSize)))
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print raskc and toolchain versions",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("raskc %s (%s/%s)\n", raskcVersion, HostPlatform(), HostArch())
			ctx := context.Background()
			for _, name := range []string{"opt", "llc", "clang"} {
				tool, err := findTool(ctx, []string{name}, minToolReportVersion)
				if err != nil {
					cmd.Printf("  %s: not found\n", name)
					continue
				}
				cmd.Printf("  %s: %s (%s)\n", name, tool.Version, tool.Path)
			}
		},
	}
}

// version listing reports whatever is installed, no minimum enforced
var minToolReportVersion = semver.Version{}
