package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// irEmitter serializes one program to textual LLVM IR. Every Rask value is
// an i64; string literals become private constants whose address is cast to
// i64, which matches how the assembly backend treats them as raw pointers.
type irEmitter struct {
	out     strings.Builder
	globals strings.Builder
	strSeq  int
	strIdx  map[string]string
	defined map[string]bool

	// per-function state, reset by emitFunc
	tmpSeq     int
	blockSeq   int
	slots      map[string]string
	terminated bool
}

// EmitIR renders prog as an LLVM IR module
func EmitIR(prog *Program, moduleName string) (string, error) {
	e := &irEmitter{strIdx: make(map[string]string), defined: make(map[string]bool)}
	e.out.WriteString("; ModuleID = '" + moduleName + "'\n\n")
	for _, fn := range prog.Functions {
		e.defined[fn.Name] = true
	}

	for _, ext := range prog.Externs {
		fmt.Fprintf(&e.out, "declare i64 @%s(...)\n", ext.Name)
	}
	if len(prog.Externs) > 0 {
		e.out.WriteByte('\n')
	}
	for _, fn := range prog.Functions {
		if err := e.emitFunc(fn); err != nil {
			return "", err
		}
		e.out.WriteByte('\n')
	}
	return e.globals.String() + e.out.String(), nil
}

func (e *irEmitter) temp() string {
	e.tmpSeq++
	return fmt.Sprintf("%%t%d", e.tmpSeq)
}

func (e *irEmitter) block(kind string) string {
	e.blockSeq++
	return fmt.Sprintf("%s%d", kind, e.blockSeq)
}

func (e *irEmitter) line(format string, args ...interface{}) {
	fmt.Fprintf(&e.out, "  "+format+"\n", args...)
}

func (e *irEmitter) startBlock(label string) {
	fmt.Fprintf(&e.out, "%s:\n", label)
	e.terminated = false
}

func (e *irEmitter) internString(value string) string {
	if name, ok := e.strIdx[value]; ok {
		return name
	}
	e.strSeq++
	name := fmt.Sprintf("@.str.%d", e.strSeq)
	e.strIdx[value] = name
	fmt.Fprintf(&e.globals, "%s = private unnamed_addr constant [%d x i8] c\"%s\\00\"\n",
		name, len(value)+1, escapeIRString(value))
	return name
}

func escapeIRString(s string) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c < 0x7f && c != '"' && c != '\\' {
			out.WriteByte(c)
		} else {
			fmt.Fprintf(&out, "\\%02X", c)
		}
	}
	return out.String()
}

func (e *irEmitter) emitFunc(fn *FuncDecl) error {
	e.tmpSeq = 0
	e.blockSeq = 0
	e.slots = make(map[string]string)
	e.terminated = false

	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = "i64 %arg." + p
	}
	fmt.Fprintf(&e.out, "define i64 @%s(%s) {\n", fn.Name, strings.Join(params, ", "))
	e.startBlock("entry")

	for _, p := range fn.Params {
		slot := "%" + p + ".addr"
		e.slots[p] = slot
		e.line("%s = alloca i64", slot)
		e.line("store i64 %%arg.%s, i64* %s", p, slot)
	}
	if err := e.emitBlock(fn.Body); err != nil {
		return errors.Wrapf(err, "function %s", fn.Name)
	}
	if !e.terminated {
		e.line("ret i64 0")
	}
	e.out.WriteString("}\n")
	return nil
}

func (e *irEmitter) emitBlock(block *Block) error {
	for _, stmt := range block.Statements {
		if e.terminated {
			// unreachable tail of the block, nothing to emit
			return nil
		}
		if err := e.emitStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (e *irEmitter) emitStatement(stmt Statement) error {
	switch s := stmt.(type) {
	case *LetStmt:
		v, err := e.emitExpr(s.Value)
		if err != nil {
			return err
		}
		slot := "%" + s.Name + ".addr"
		if _, exists := e.slots[s.Name]; !exists {
			e.slots[s.Name] = slot
			e.line("%s = alloca i64", slot)
		}
		e.line("store i64 %s, i64* %s", v, slot)
		return nil

	case *AssignStmt:
		v, err := e.emitExpr(s.Value)
		if err != nil {
			return err
		}
		slot, ok := e.slots[s.Name]
		if !ok {
			return errors.Errorf("line %d: store to undeclared variable %q", s.Line, s.Name)
		}
		e.line("store i64 %s, i64* %s", v, slot)
		return nil

	case *ReturnStmt:
		val := "0"
		if s.Value != nil {
			v, err := e.emitExpr(s.Value)
			if err != nil {
				return err
			}
			val = v
		}
		e.line("ret i64 %s", val)
		e.terminated = true
		return nil

	case *IfStmt:
		cond, err := e.emitExpr(s.Cond)
		if err != nil {
			return err
		}
		thenB := e.block("then")
		elseB := e.block("else")
		endB := e.block("endif")
		flag := e.temp()
		e.line("%s = icmp ne i64 %s, 0", flag, cond)
		e.line("br i1 %s, label %%%s, label %%%s", flag, thenB, elseB)

		e.startBlock(thenB)
		if err := e.emitBlock(s.Then); err != nil {
			return err
		}
		if !e.terminated {
			e.line("br label %%%s", endB)
		}
		e.startBlock(elseB)
		if s.Else != nil {
			if err := e.emitBlock(s.Else); err != nil {
				return err
			}
		}
		if !e.terminated {
			e.line("br label %%%s", endB)
		}
		e.startBlock(endB)
		return nil

	case *WhileStmt:
		headB := e.block("loop")
		bodyB := e.block("body")
		endB := e.block("endloop")
		e.line("br label %%%s", headB)
		e.startBlock(headB)
		cond, err := e.emitExpr(s.Cond)
		if err != nil {
			return err
		}
		flag := e.temp()
		e.line("%s = icmp ne i64 %s, 0", flag, cond)
		e.line("br i1 %s, label %%%s, label %%%s", flag, bodyB, endB)
		e.startBlock(bodyB)
		if err := e.emitBlock(s.Body); err != nil {
			return err
		}
		if !e.terminated {
			e.line("br label %%%s", headB)
		}
		e.startBlock(endB)
		return nil

	case *ExprStmt:
		_, err := e.emitExpr(s.Expr)
		return err

	default:
		return errors.Errorf("unsupported statement %T", stmt)
	}
}

var irCmpOps = map[TokenType]string{
	TOKEN_EQ: "eq",
	TOKEN_NE: "ne",
	TOKEN_LT: "slt",
	TOKEN_LE: "sle",
	TOKEN_GT: "sgt",
	TOKEN_GE: "sge",
}

var irBinOps = map[TokenType]string{
	TOKEN_PLUS:   "add",
	TOKEN_MINUS:  "sub",
	TOKEN_STAR:   "mul",
	TOKEN_SLASH:  "sdiv",
	TOKEN_MOD:    "srem",
	TOKEN_ANDAND: "and",
	TOKEN_OROR:   "or",
}

func (e *irEmitter) emitExpr(expr Expression) (string, error) {
	switch x := expr.(type) {
	case *IntLit:
		return fmt.Sprintf("%d", x.Value), nil

	case *BoolLit:
		if x.Value {
			return "1", nil
		}
		return "0", nil

	case *StrLit:
		global := e.internString(x.Value)
		v := e.temp()
		e.line("%s = ptrtoint [%d x i8]* %s to i64", v, len(x.Value)+1, global)
		return v, nil

	case *VarRef:
		slot, ok := e.slots[x.Name]
		if !ok {
			return "", errors.Errorf("line %d: read of undeclared variable %q", x.Line, x.Name)
		}
		v := e.temp()
		e.line("%s = load i64, i64* %s", v, slot)
		return v, nil

	case *UnaryExpr:
		operand, err := e.emitExpr(x.Operand)
		if err != nil {
			return "", err
		}
		v := e.temp()
		if x.Op == TOKEN_BANG {
			flag := e.temp()
			e.line("%s = icmp eq i64 %s, 0", flag, operand)
			e.line("%s = zext i1 %s to i64", v, flag)
		} else {
			e.line("%s = sub i64 0, %s", v, operand)
		}
		return v, nil

	case *BinaryExpr:
		lhs, err := e.emitExpr(x.Left)
		if err != nil {
			return "", err
		}
		rhs, err := e.emitExpr(x.Right)
		if err != nil {
			return "", err
		}
		if cmp, ok := irCmpOps[x.Op]; ok {
			flag := e.temp()
			v := e.temp()
			e.line("%s = icmp %s i64 %s, %s", flag, cmp, lhs, rhs)
			e.line("%s = zext i1 %s to i64", v, flag)
			return v, nil
		}
		op, ok := irBinOps[x.Op]
		if !ok {
			return "", errors.Errorf("line %d: unsupported binary operator %s", x.Line, x.Op)
		}
		if x.Op == TOKEN_ANDAND || x.Op == TOKEN_OROR {
			lhs = e.normalizeBool(lhs)
			rhs = e.normalizeBool(rhs)
		}
		v := e.temp()
		e.line("%s = %s i64 %s, %s", v, op, lhs, rhs)
		return v, nil

	case *CallExpr:
		args := make([]string, len(x.Args))
		for i, argExpr := range x.Args {
			arg, err := e.emitExpr(argExpr)
			if err != nil {
				return "", err
			}
			args[i] = "i64 " + arg
		}
		v := e.temp()
		if e.defined[x.Name] {
			e.line("%s = call i64 @%s(%s)", v, x.Name, strings.Join(args, ", "))
		} else {
			e.line("%s = call i64 (...) @%s(%s)", v, x.Name, strings.Join(args, ", "))
		}
		return v, nil

	default:
		return "", errors.Errorf("unsupported expression %T", expr)
	}
}

func (e *irEmitter) normalizeBool(v string) string {
	flag := e.temp()
	out := e.temp()
	e.line("%s = icmp ne i64 %s, 0", flag, v)
	e.line("%s = zext i1 %s to i64", out, flag)
	return out
}
