package main

import (
	"fmt"
	"time"
)

// Phase is one ordered stage of compiling a file, or the whole-program link
type Phase int

const (
	PhaseLexing Phase = iota
	PhaseParsing
	PhaseSemanticAnalysis
	PhaseCodeGeneration
	PhaseLinking
)

func (p Phase) String() string {
	switch p {
	case PhaseLexing:
		return "Lexing"
	case PhaseParsing:
		return "Parsing"
	case PhaseSemanticAnalysis:
		return "SemanticAnalysis"
	case PhaseCodeGeneration:
		return "CodeGeneration"
	case PhaseLinking:
		return "Linking"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// LinkSentinel keys the whole-program linking result, which belongs to no
// single input file.
const LinkSentinel = "<program>"

// PhaseResult records the outcome of one (file, phase) pair. It is immutable
// once finalized.
type PhaseResult struct {
	Phase      Phase
	Success    bool
	ErrMessage string
	Start      time.Time
	End        time.Time
	Lines      int
	Errors     int
}

// Duration is the wall time the phase took
func (r *PhaseResult) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

func (r *PhaseResult) String() string {
	status := "ok"
	if !r.Success {
		status = "failed: " + r.ErrMessage
	}
	return fmt.Sprintf("%s [%s] (%v)", r.Phase, status, r.Duration().Round(time.Microsecond))
}

// beginPhase starts a phase record; finish completes it exactly once.
func beginPhase(phase Phase) *PhaseResult {
	return &PhaseResult{Phase: phase, Start: time.Now()}
}

func (r *PhaseResult) finish(success bool, errMessage string) *PhaseResult {
	r.End = time.Now()
	r.Success = success
	r.ErrMessage = errMessage
	return r
}

// SourceFileContext carries everything one input file accumulates as it moves
// through the pipeline. A context belongs to exactly one orchestrator run.
type SourceFileContext struct {
	Path        string
	Source      string
	Tokens      []Token
	AST         *Program
	ObjectPath  string
	Results     map[Phase]*PhaseResult
	Diagnostics []Diagnostic
}

func NewSourceFileContext(path string) *SourceFileContext {
	return &SourceFileContext{
		Path:    path,
		Results: make(map[Phase]*PhaseResult),
	}
}

// record stores a finalized phase result, keeping one record per phase
func (c *SourceFileContext) record(r *PhaseResult) {
	c.Results[r.Phase] = r
}

// phaseOK reports whether a phase ran and succeeded for this file
func (c *SourceFileContext) phaseOK(p Phase) bool {
	r, ok := c.Results[p]
	return ok && r.Success
}

// CompilationStats aggregates run-wide statistics for the final report
type CompilationStats struct {
	TotalFiles       int
	TotalLines       int
	TotalDiagnostics int
	Elapsed          time.Duration
	PhaseTotals      map[Phase]time.Duration
	ArtifactSize     int64
}
