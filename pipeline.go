package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Orchestrator drives N source files through lexing, parsing, semantic
// analysis and code generation, then links the surviving objects into one
// executable. Frontend phases run concurrently per file; code generation
// and linking are serialized. A failed file never stops the other files'
// frontend work, it only blocks its own later phases and, ultimately, the
// link.
type Orchestrator struct {
	cfg      *Options
	registry *SymbolRegistry

	mu      sync.Mutex
	files   []*SourceFileContext
	byPath  map[string]*SourceFileContext
	linkRes *PhaseResult
	stats   CompilationStats
}

func NewOrchestrator(cfg *Options) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: NewSymbolRegistry(),
		byPath:   make(map[string]*SourceFileContext),
	}
}

// Stats returns the run-wide statistics gathered by the last CompileFiles
func (o *Orchestrator) Stats() CompilationStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// PhaseResults returns the finalized phase records for one input file, or
// for the whole-program link when asked about LinkSentinel.
func (o *Orchestrator) PhaseResults(path string) map[Phase]*PhaseResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	if path == LinkSentinel {
		if o.linkRes == nil {
			return nil
		}
		return map[Phase]*PhaseResult{PhaseLinking: o.linkRes}
	}
	fc, ok := o.byPath[path]
	if !ok {
		return nil
	}
	out := make(map[Phase]*PhaseResult, len(fc.Results))
	for p, r := range fc.Results {
		out[p] = r
	}
	return out
}

// CompileFiles compiles paths into an executable at outputPath. The error
// is an aggregate with one entry per failed (file, phase) pair; nil means
// every file survived every phase and the link succeeded.
func (o *Orchestrator) CompileFiles(ctx context.Context, paths []string, outputPath string) error {
	start := time.Now()
	o.files = o.files[:0]
	for _, path := range paths {
		fc := NewSourceFileContext(path)
		o.files = append(o.files, fc)
		o.byPath[path] = fc
	}

	unlock, err := o.prepareIntermediateDir()
	if err != nil {
		return err
	}
	defer unlock()

	backend := NewBackend(o.cfg.Backend)
	bopts := &BackendOptions{
		Arch:            o.cfg.Arch,
		Platform:        o.cfg.Platform,
		Format:          FormatFor(o.cfg.Platform),
		OptLevel:        o.cfg.OptLevel,
		IntermediateDir: o.cfg.IntermediateDir,
		Coverage:        o.cfg.Coverage,
		Registry:        o.registry,
	}
	if err := checkBackendSupport(backend, bopts); err != nil {
		return err
	}
	if err := backend.Initialize(ctx, bopts); err != nil {
		return errors.Wrap(err, "initialize backend")
	}
	defer backend.Cleanup()

	o.runFrontend(ctx)
	o.runSemanticAnalysis(ctx)
	o.runCodeGeneration(ctx, backend)
	o.runLink(ctx, outputPath)

	o.mu.Lock()
	o.stats = o.collectStats(start)
	report := o.failureReport()
	o.mu.Unlock()

	if report == nil && o.cfg.CleanIntermediates {
		o.cleanIntermediates()
	}
	return report
}

// prepareIntermediateDir creates the intermediate directory on demand and
// takes the advisory lock so two runs cannot interleave artifacts in it.
func (o *Orchestrator) prepareIntermediateDir() (func(), error) {
	dir := o.cfg.IntermediateDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create intermediate dir %s", dir)
	}
	lock := flock.New(filepath.Join(dir, ".raskc.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "lock %s", dir)
	}
	if !ok {
		return nil, errors.Errorf("intermediate dir %s is in use by another raskc run", dir)
	}
	return func() { lock.Unlock() }, nil
}

// runFrontend lexes and parses every file, one worker per file. Phase
// failures are recorded in the file context, never returned: the point of
// the pool is maximum diagnostic yield, not fail-fast.
func (o *Orchestrator) runFrontend(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	if o.cfg.Jobs > 0 {
		g.SetLimit(o.cfg.Jobs)
	}
	for _, fc := range o.files {
		fc := fc
		g.Go(func() error {
			o.frontendOne(ctx, fc)
			return nil
		})
	}
	g.Wait()
}

func (o *Orchestrator) frontendOne(ctx context.Context, fc *SourceFileContext) {
	// Lexing
	res := beginPhase(PhaseLexing)
	if err := ctx.Err(); err != nil {
		fc.record(res.finish(false, "cancelled"))
		return
	}
	data, err := os.ReadFile(fc.Path)
	if err != nil {
		fc.record(res.finish(false, err.Error()))
		return
	}
	fc.Source = string(data)
	tokens, err := NewLexer(fc.Source).Tokenize()
	if err != nil {
		fc.record(res.finish(false, err.Error()))
		return
	}
	fc.Tokens = tokens
	res.Lines = CountLines(fc.Source)
	fc.record(res.finish(true, ""))
	glog.V(1).Infof("%s: lexed %d tokens, %d lines", fc.Path, len(tokens), res.Lines)

	// Parsing
	res = beginPhase(PhaseParsing)
	if err := ctx.Err(); err != nil {
		fc.record(res.finish(false, "cancelled"))
		return
	}
	prog, err := NewParser(fc.Tokens, fc.Path).Parse()
	if err != nil {
		fc.record(res.finish(false, err.Error()))
		return
	}
	fc.AST = prog
	fc.record(res.finish(true, ""))
}

// runSemanticAnalysis publishes every parsed file's declarations into the
// shared registry, then checks each file's bodies against the complete
// registry. The two passes keep cross-file call resolution independent of
// scheduling: a caller parsed first still sees a callee defined in a file
// parsed later. Registration is serial in file order so a duplicate
// declaration blames the same file on every run; checking runs one worker
// per file.
func (o *Orchestrator) runSemanticAnalysis(ctx context.Context) {
	type semaWork struct {
		fc       *SourceFileContext
		analyzer *Analyzer
		res      *PhaseResult
	}
	var work []semaWork
	for _, fc := range o.files {
		if !fc.phaseOK(PhaseParsing) {
			continue
		}
		res := beginPhase(PhaseSemanticAnalysis)
		if err := ctx.Err(); err != nil {
			fc.record(res.finish(false, "cancelled"))
			continue
		}
		analyzer := NewAnalyzer(o.registry, fc.Path)
		analyzer.RegisterDecls(fc.AST)
		work = append(work, semaWork{fc: fc, analyzer: analyzer, res: res})
	}

	g, ctx := errgroup.WithContext(ctx)
	if o.cfg.Jobs > 0 {
		g.SetLimit(o.cfg.Jobs)
	}
	for _, w := range work {
		w := w
		g.Go(func() error {
			o.semaOne(ctx, w.fc, w.analyzer, w.res)
			return nil
		})
	}
	g.Wait()
}

func (o *Orchestrator) semaOne(ctx context.Context, fc *SourceFileContext, analyzer *Analyzer, res *PhaseResult) {
	if err := ctx.Err(); err != nil {
		fc.record(res.finish(false, "cancelled"))
		return
	}
	analyzer.Check(fc.AST)
	diags := analyzer.Diagnostics()
	fc.Diagnostics = append(fc.Diagnostics, diags...)
	res.Errors = len(diags)
	if len(diags) > 0 {
		msgs := make([]string, len(diags))
		for i, d := range diags {
			msgs[i] = d.String()
		}
		fc.record(res.finish(false, strings.Join(msgs, "; ")))
		return
	}
	fc.record(res.finish(true, ""))
}

// runCodeGeneration drives the backend serially over the files that made it
// through semantic analysis. A file whose sema failed gets a failed codegen
// record marked skipped; a file that died earlier gets no codegen record.
func (o *Orchestrator) runCodeGeneration(ctx context.Context, backend Backend) {
	for _, fc := range o.files {
		if _, ran := fc.Results[PhaseSemanticAnalysis]; !ran {
			continue
		}
		res := beginPhase(PhaseCodeGeneration)
		if !fc.phaseOK(PhaseSemanticAnalysis) {
			fc.record(res.finish(false, "skipped: semantic analysis failed"))
			continue
		}
		if err := ctx.Err(); err != nil {
			fc.record(res.finish(false, "cancelled"))
			continue
		}
		objPath := filepath.Join(o.cfg.IntermediateDir, baseName(fc.Path)+".o")
		artifact, err := backend.Generate(ctx, fc, fc.AST, objPath)
		if err != nil {
			fc.record(res.finish(false, err.Error()))
			continue
		}
		fc.ObjectPath = artifact.Path
		fc.record(res.finish(true, ""))
		glog.V(1).Infof("%s: object %s (%s)", fc.Path, artifact.Path, humanize.Bytes(artifact.Bytes))
	}
}

// runLink links if and only if every file is green through code generation.
// When any file failed, linking is skipped entirely and no linking record
// exists: whole-program linking cannot proceed with a missing object.
func (o *Orchestrator) runLink(ctx context.Context, outputPath string) {
	objects := make([]string, 0, len(o.files))
	for _, fc := range o.files {
		if !fc.phaseOK(PhaseCodeGeneration) {
			return
		}
		objects = append(objects, fc.ObjectPath)
	}

	res := beginPhase(PhaseLinking)
	linker, err := NewLinker(ctx, o.cfg.Coverage)
	if err != nil {
		o.setLinkResult(res.finish(false, err.Error()))
		return
	}
	size, err := linker.Link(ctx, objects, outputPath)
	if err != nil {
		o.setLinkResult(res.finish(false, err.Error()))
		return
	}
	o.setLinkResult(res.finish(true, ""))
	o.mu.Lock()
	o.stats.ArtifactSize = int64(size)
	o.mu.Unlock()
}

func (o *Orchestrator) setLinkResult(r *PhaseResult) {
	o.mu.Lock()
	o.linkRes = r
	o.mu.Unlock()
}

// failureReport flattens every failed (file, phase) pair into one aggregate
// error, in file order then phase order. Nothing is thrown away.
func (o *Orchestrator) failureReport() error {
	var report *multierror.Error
	phases := []Phase{PhaseLexing, PhaseParsing, PhaseSemanticAnalysis, PhaseCodeGeneration}
	for _, fc := range o.files {
		for _, p := range phases {
			if r, ok := fc.Results[p]; ok && !r.Success {
				report = multierror.Append(report,
					errors.Errorf("%s: %s: %s", fc.Path, p, r.ErrMessage))
			}
		}
	}
	switch {
	case o.linkRes == nil:
		report = multierror.Append(report, errors.New("linking skipped: not all files generated code"))
	case !o.linkRes.Success:
		report = multierror.Append(report,
			errors.Errorf("%s: %s: %s", LinkSentinel, PhaseLinking, o.linkRes.ErrMessage))
	}
	return report.ErrorOrNil()
}

func (o *Orchestrator) collectStats(start time.Time) CompilationStats {
	stats := CompilationStats{
		TotalFiles:   len(o.files),
		Elapsed:      time.Since(start),
		PhaseTotals:  make(map[Phase]time.Duration),
		ArtifactSize: o.stats.ArtifactSize,
	}
	for _, fc := range o.files {
		if r, ok := fc.Results[PhaseLexing]; ok {
			stats.TotalLines += r.Lines
		}
		for _, r := range fc.Results {
			stats.PhaseTotals[r.Phase] += r.Duration()
		}
		stats.TotalDiagnostics += len(fc.Diagnostics)
	}
	if o.linkRes != nil {
		stats.PhaseTotals[PhaseLinking] += o.linkRes.Duration()
	}
	return stats
}

// cleanIntermediates removes per-file artifacts after a successful link.
// The directory itself and its lock file stay.
func (o *Orchestrator) cleanIntermediates() {
	for _, fc := range o.files {
		base := filepath.Join(o.cfg.IntermediateDir, baseName(fc.Path))
		for _, ext := range []string{".o", ".ll", ".opt.ll", ".s"} {
			if err := os.Remove(base + ext); err == nil {
				glog.V(2).Infof("removed %s", base+ext)
			}
		}
	}
}

func baseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
