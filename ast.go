package main

import (
	"fmt"
	"strings"
)

// AST nodes. The tree is single-owner: the Program root owns every node,
// and after parsing the tree is treated as read-only by later phases.
type Node interface {
	String() string
}

type Program struct {
	Functions []*FuncDecl
	Externs   []*ExternDecl
}

func (p *Program) String() string {
	var out strings.Builder
	for _, e := range p.Externs {
		out.WriteString(e.String())
		out.WriteString("\n")
	}
	for _, f := range p.Functions {
		out.WriteString(f.String())
		out.WriteString("\n")
	}
	return out.String()
}

// ExternDecl declares a function provided by the C runtime or another object
type ExternDecl struct {
	Name   string
	Params []string
	Line   int
}

func (e *ExternDecl) String() string {
	return "extern fn " + e.Name + "(" + strings.Join(e.Params, ", ") + ");"
}

type FuncDecl struct {
	Name   string
	Params []string
	Body   *Block
	Line   int
}

func (f *FuncDecl) String() string {
	return "fn " + f.Name + "(" + strings.Join(f.Params, ", ") + ") " + f.Body.String()
}

type Block struct {
	Statements []Statement
}

func (b *Block) String() string {
	var out strings.Builder
	out.WriteString("{\n")
	for _, stmt := range b.Statements {
		out.WriteString("  ")
		out.WriteString(stmt.String())
		out.WriteString("\n")
	}
	out.WriteString("}")
	return out.String()
}

type Statement interface {
	Node
	statementNode()
}

// LetStmt declares and initializes a local variable
type LetStmt struct {
	Name  string
	Value Expression
	Line  int
}

func (s *LetStmt) String() string { return "let " + s.Name + " = " + s.Value.String() + ";" }
func (s *LetStmt) statementNode() {}

// AssignStmt stores into an already-declared variable
type AssignStmt struct {
	Name  string
	Value Expression
	Line  int
}

func (s *AssignStmt) String() string { return s.Name + " = " + s.Value.String() + ";" }
func (s *AssignStmt) statementNode() {}

type ReturnStmt struct {
	Value Expression // nil for a bare return
	Line  int
}

func (s *ReturnStmt) String() string {
	if s.Value == nil {
		return "return;"
	}
	return "return " + s.Value.String() + ";"
}
func (s *ReturnStmt) statementNode() {}

type IfStmt struct {
	Cond Expression
	Then *Block
	Else *Block // may be nil
	Line int
}

func (s *IfStmt) String() string {
	out := "if " + s.Cond.String() + " " + s.Then.String()
	if s.Else != nil {
		out += " else " + s.Else.String()
	}
	return out
}
func (s *IfStmt) statementNode() {}

type WhileStmt struct {
	Cond Expression
	Body *Block
	Line int
}

func (s *WhileStmt) String() string { return "while " + s.Cond.String() + " " + s.Body.String() }
func (s *WhileStmt) statementNode() {}

// ExprStmt is an expression evaluated for its side effects (usually a call)
type ExprStmt struct {
	Expr Expression
	Line int
}

func (s *ExprStmt) String() string { return s.Expr.String() + ";" }
func (s *ExprStmt) statementNode() {}

type Expression interface {
	Node
	expressionNode()
}

type IntLit struct {
	Value int64
	Line  int
}

func (e *IntLit) String() string  { return fmt.Sprintf("%d", e.Value) }
func (e *IntLit) expressionNode() {}

type StrLit struct {
	Value string
	Line  int
}

func (e *StrLit) String() string  { return fmt.Sprintf("%q", e.Value) }
func (e *StrLit) expressionNode() {}

type BoolLit struct {
	Value bool
	Line  int
}

func (e *BoolLit) String() string {
	if e.Value {
		return "true"
	}
	return "false"
}
func (e *BoolLit) expressionNode() {}

type VarRef struct {
	Name string
	Line int
}

func (e *VarRef) String() string  { return e.Name }
func (e *VarRef) expressionNode() {}

type UnaryExpr struct {
	Op      TokenType // TOKEN_MINUS or TOKEN_BANG
	Operand Expression
	Line    int
}

func (e *UnaryExpr) String() string  { return e.Op.String() + e.Operand.String() }
func (e *UnaryExpr) expressionNode() {}

type BinaryExpr struct {
	Op    TokenType
	Left  Expression
	Right Expression
	Line  int
}

func (e *BinaryExpr) String() string {
	return "(" + e.Left.String() + " " + e.Op.String() + " " + e.Right.String() + ")"
}
func (e *BinaryExpr) expressionNode() {}

type CallExpr struct {
	Name string
	Args []Expression
	Line int
}

func (e *CallExpr) String() string {
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = a.String()
	}
	return e.Name + "(" + strings.Join(parts, ", ") + ")"
}
func (e *CallExpr) expressionNode() {}
