package main

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// FuncSig is the resolved signature of a declared or extern function
type FuncSig struct {
	Name    string
	Params  int
	Extern  bool
	File    string
	Varargs bool
}

// SymbolRegistry is the program-wide function registry. It is written during
// semantic analysis (which may run on several files concurrently) and is
// read-only during code generation.
type SymbolRegistry struct {
	mu    sync.RWMutex
	funcs map[string]*FuncSig
}

func NewSymbolRegistry() *SymbolRegistry {
	return &SymbolRegistry{funcs: make(map[string]*FuncSig)}
}

// Register adds a signature. Registering a name twice is an error unless both
// declarations are extern with the same arity.
func (r *SymbolRegistry) Register(sig *FuncSig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.funcs[sig.Name]; ok {
		if existing.Extern && sig.Extern && existing.Params == sig.Params {
			return nil
		}
		return errors.Errorf("function %q already declared in %s", sig.Name, existing.File)
	}
	r.funcs[sig.Name] = sig
	return nil
}

func (r *SymbolRegistry) Lookup(name string) (*FuncSig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sig, ok := r.funcs[name]
	return sig, ok
}

func (r *SymbolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs)
}

// Diagnostic is one reported semantic problem with its source position
type Diagnostic struct {
	File string
	Line int
	Msg  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d: %s", d.File, d.Line, d.Msg)
}

// Analyzer validates one file's AST and registers its declarations
type Analyzer struct {
	registry *SymbolRegistry
	file     string
	diags    []Diagnostic
	scopes   []map[string]bool
}

func NewAnalyzer(registry *SymbolRegistry, file string) *Analyzer {
	return &Analyzer{registry: registry, file: file}
}

func (a *Analyzer) report(line int, format string, args ...interface{}) {
	a.diags = append(a.diags, Diagnostic{File: a.file, Line: line, Msg: fmt.Sprintf(format, args...)})
}

func (a *Analyzer) pushScope() {
	a.scopes = append(a.scopes, make(map[string]bool))
}

func (a *Analyzer) popScope() {
	a.scopes = a.scopes[:len(a.scopes)-1]
}

func (a *Analyzer) declare(name string) bool {
	scope := a.scopes[len(a.scopes)-1]
	if scope[name] {
		return false
	}
	scope[name] = true
	return true
}

func (a *Analyzer) resolved(name string) bool {
	for i := len(a.scopes) - 1; i >= 0; i-- {
		if a.scopes[i][name] {
			return true
		}
	}
	return false
}

// declaredOuter reports whether name is bound in a scope enclosing the
// current one. A let may not shadow such a binding; variable storage is
// keyed per function by name.
func (a *Analyzer) declaredOuter(name string) bool {
	for i := len(a.scopes) - 2; i >= 0; i-- {
		if a.scopes[i][name] {
			return true
		}
	}
	return false
}

// RegisterDecls publishes the file's extern and function declarations into
// the shared registry. In a multi-file run every file's declarations must be
// registered before any file's bodies are checked, otherwise a cross-file
// call resolves or fails depending on which file happened to run first.
func (a *Analyzer) RegisterDecls(program *Program) {
	for _, ext := range program.Externs {
		sig := &FuncSig{Name: ext.Name, Params: len(ext.Params), Extern: true, File: a.file, Varargs: isVarargsExtern(ext.Name)}
		if err := a.registry.Register(sig); err != nil {
			a.report(ext.Line, "%v", err)
		}
	}
	for _, fn := range program.Functions {
		sig := &FuncSig{Name: fn.Name, Params: len(fn.Params), File: a.file}
		if err := a.registry.Register(sig); err != nil {
			a.report(fn.Line, "%v", err)
		}
	}
}

// Check validates the function bodies against the registry, which must be
// fully populated by then.
func (a *Analyzer) Check(program *Program) {
	for _, fn := range program.Functions {
		a.checkFunc(fn)
	}
	glog.V(2).Infof("sema %s: %d functions, %d externs, %d diagnostics",
		a.file, len(program.Functions), len(program.Externs), len(a.diags))
}

// Diagnostics returns everything reported so far, registration included
func (a *Analyzer) Diagnostics() []Diagnostic {
	return a.diags
}

// Analyze registers and checks a single file in one call. A non-empty
// diagnostic list means the semantic analysis phase failed for this file.
func (a *Analyzer) Analyze(program *Program) []Diagnostic {
	a.RegisterDecls(program)
	a.Check(program)
	return a.diags
}

// Calls to the libc printing family are variadic; arity checks only cover
// the leading format argument for those.
func isVarargsExtern(name string) bool {
	switch name {
	case "printf", "fprintf", "sprintf", "snprintf":
		return true
	}
	return false
}

func (a *Analyzer) checkFunc(fn *FuncDecl) {
	a.pushScope()
	defer a.popScope()
	for _, param := range fn.Params {
		if !a.declare(param) {
			a.report(fn.Line, "duplicate parameter %q in function %q", param, fn.Name)
		}
	}
	a.checkBlock(fn.Body)
}

func (a *Analyzer) checkBlock(block *Block) {
	a.pushScope()
	defer a.popScope()
	for _, stmt := range block.Statements {
		a.checkStatement(stmt)
	}
}

func (a *Analyzer) checkStatement(stmt Statement) {
	switch s := stmt.(type) {
	case *LetStmt:
		a.checkExpr(s.Value)
		switch {
		case !a.declare(s.Name):
			a.report(s.Line, "variable %q redeclared in this scope", s.Name)
		case a.declaredOuter(s.Name):
			a.report(s.Line, "variable %q shadows a declaration in an enclosing scope", s.Name)
		}
	case *AssignStmt:
		a.checkExpr(s.Value)
		if !a.resolved(s.Name) {
			a.report(s.Line, "assignment to undeclared variable %q", s.Name)
		}
	case *ReturnStmt:
		if s.Value != nil {
			a.checkExpr(s.Value)
		}
	case *IfStmt:
		a.checkExpr(s.Cond)
		a.checkBlock(s.Then)
		if s.Else != nil {
			a.checkBlock(s.Else)
		}
	case *WhileStmt:
		a.checkExpr(s.Cond)
		a.checkBlock(s.Body)
	case *ExprStmt:
		a.checkExpr(s.Expr)
	}
}

func (a *Analyzer) checkExpr(expr Expression) {
	switch e := expr.(type) {
	case *VarRef:
		if !a.resolved(e.Name) {
			a.report(e.Line, "use of undeclared variable %q", e.Name)
		}
	case *UnaryExpr:
		a.checkExpr(e.Operand)
	case *BinaryExpr:
		a.checkExpr(e.Left)
		a.checkExpr(e.Right)
	case *CallExpr:
		for _, arg := range e.Args {
			a.checkExpr(arg)
		}
		sig, ok := a.registry.Lookup(e.Name)
		if !ok {
			a.report(e.Line, "call to undeclared function %q", e.Name)
			return
		}
		if sig.Varargs {
			if len(e.Args) < sig.Params {
				a.report(e.Line, "function %q needs at least %d arguments, got %d", e.Name, sig.Params, len(e.Args))
			}
		} else if len(e.Args) != sig.Params {
			a.report(e.Line, "function %q takes %d arguments, got %d", e.Name, sig.Params, len(e.Args))
		}
		if len(e.Args) > maxRegisterArgs {
			a.report(e.Line, "function %q called with %d arguments, at most %d are supported", e.Name, len(e.Args), maxRegisterArgs)
		}
	}
}
