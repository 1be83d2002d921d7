package main

import (
	"fmt"

	"github.com/pkg/errors"
)

// Instruction selection: one pass over a function's AST producing a
// target-independent instruction buffer. Every piece of state here is local
// to the function being lowered; a fresh genContext is built per function
// and discarded afterwards. The only shared inputs, the program-wide symbol
// registry and the object builder, are read-only respectively append-only.
type genContext struct {
	fn       *FuncDecl
	buf      *InstrBuffer
	builder  *ObjectBuilder
	registry *SymbolRegistry
	slots    map[string]int
	nslots   int
	labelSeq int
}

func newGenContext(fn *FuncDecl, builder *ObjectBuilder, registry *SymbolRegistry) *genContext {
	return &genContext{
		fn:       fn,
		buf:      NewInstrBuffer(),
		builder:  builder,
		registry: registry,
		slots:    make(map[string]int),
	}
}

func (g *genContext) newLabel(kind string) string {
	g.labelSeq++
	return fmt.Sprintf(".L%s%d", kind, g.labelSeq)
}

func (g *genContext) slotFor(name string) int {
	if slot, ok := g.slots[name]; ok {
		return slot
	}
	slot := g.nslots
	g.slots[name] = slot
	g.nslots++
	return slot
}

// lowerFunc lowers one function declaration. The returned buffer and slot
// count feed register allocation; named variables occupy the low slots and
// spills stack above them.
func lowerFunc(fn *FuncDecl, builder *ObjectBuilder, registry *SymbolRegistry) (*InstrBuffer, int, error) {
	if len(fn.Params) > maxRegisterArgs {
		return nil, 0, errors.Errorf("function %s has %d parameters, at most %d are supported",
			fn.Name, len(fn.Params), maxRegisterArgs)
	}
	g := newGenContext(fn, builder, registry)
	for i, param := range fn.Params {
		slot := g.slotFor(param)
		g.buf.Emit(Instr{Op: OpParam, Slot: slot, Imm: int64(i), Dst: NoVReg, Src: NoVReg})
	}
	if err := g.lowerBlock(fn.Body); err != nil {
		return nil, 0, errors.Wrapf(err, "function %s", fn.Name)
	}
	return g.buf, g.nslots, nil
}

func (g *genContext) lowerBlock(block *Block) error {
	for _, stmt := range block.Statements {
		if err := g.lowerStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (g *genContext) lowerStatement(stmt Statement) error {
	switch s := stmt.(type) {
	case *LetStmt:
		v, err := g.lowerExpr(s.Value)
		if err != nil {
			return err
		}
		g.buf.Emit(Instr{Op: OpStoreSlot, Slot: g.slotFor(s.Name), Src: v, Dst: NoVReg})
		return nil

	case *AssignStmt:
		v, err := g.lowerExpr(s.Value)
		if err != nil {
			return err
		}
		slot, ok := g.slots[s.Name]
		if !ok {
			return errors.Errorf("line %d: store to variable %q with no frame slot", s.Line, s.Name)
		}
		g.buf.Emit(Instr{Op: OpStoreSlot, Slot: slot, Src: v, Dst: NoVReg})
		return nil

	case *ReturnStmt:
		src := NoVReg
		if s.Value != nil {
			v, err := g.lowerExpr(s.Value)
			if err != nil {
				return err
			}
			src = v
		}
		g.buf.Emit(Instr{Op: OpRet, Src: src, Dst: NoVReg})
		return nil

	case *IfStmt:
		cond, err := g.lowerExpr(s.Cond)
		if err != nil {
			return err
		}
		elseLabel := g.newLabel("else")
		endLabel := g.newLabel("end")
		g.buf.Emit(Instr{Op: OpJumpIfZero, Src: cond, Label: elseLabel, Dst: NoVReg})
		if err := g.lowerBlock(s.Then); err != nil {
			return err
		}
		g.buf.Emit(Instr{Op: OpJmp, Label: endLabel, Dst: NoVReg, Src: NoVReg})
		g.buf.Emit(Instr{Op: OpLabel, Label: elseLabel, Dst: NoVReg, Src: NoVReg})
		if s.Else != nil {
			if err := g.lowerBlock(s.Else); err != nil {
				return err
			}
		}
		g.buf.Emit(Instr{Op: OpLabel, Label: endLabel, Dst: NoVReg, Src: NoVReg})
		return nil

	case *WhileStmt:
		headLabel := g.newLabel("loop")
		endLabel := g.newLabel("done")
		g.buf.Emit(Instr{Op: OpLabel, Label: headLabel, Dst: NoVReg, Src: NoVReg})
		cond, err := g.lowerExpr(s.Cond)
		if err != nil {
			return err
		}
		g.buf.Emit(Instr{Op: OpJumpIfZero, Src: cond, Label: endLabel, Dst: NoVReg})
		if err := g.lowerBlock(s.Body); err != nil {
			return err
		}
		g.buf.Emit(Instr{Op: OpJmp, Label: headLabel, Dst: NoVReg, Src: NoVReg})
		g.buf.Emit(Instr{Op: OpLabel, Label: endLabel, Dst: NoVReg, Src: NoVReg})
		return nil

	case *ExprStmt:
		_, err := g.lowerExpr(s.Expr)
		return err

	default:
		return errors.Errorf("unsupported statement %T", stmt)
	}
}

// lowerExpr returns a freshly owned virtual register holding the value, so
// callers may mutate it in place.
func (g *genContext) lowerExpr(expr Expression) (VReg, error) {
	switch e := expr.(type) {
	case *IntLit:
		v := g.buf.NewVReg()
		g.buf.Emit(Instr{Op: OpConst, Dst: v, Imm: e.Value, Src: NoVReg})
		return v, nil

	case *BoolLit:
		v := g.buf.NewVReg()
		imm := int64(0)
		if e.Value {
			imm = 1
		}
		g.buf.Emit(Instr{Op: OpConst, Dst: v, Imm: imm, Src: NoVReg})
		return v, nil

	case *StrLit:
		idx, err := g.builder.InternString(e.Value)
		if err != nil {
			return NoVReg, err
		}
		v := g.buf.NewVReg()
		g.buf.Emit(Instr{Op: OpLea, Dst: v, Sym: g.builder.Symbols().At(idx).Name, Src: NoVReg})
		return v, nil

	case *VarRef:
		slot, ok := g.slots[e.Name]
		if !ok {
			return NoVReg, errors.Errorf("line %d: variable %q has no frame slot", e.Line, e.Name)
		}
		v := g.buf.NewVReg()
		g.buf.Emit(Instr{Op: OpLoadSlot, Dst: v, Slot: slot, Src: NoVReg})
		return v, nil

	case *UnaryExpr:
		v, err := g.lowerExpr(e.Operand)
		if err != nil {
			return NoVReg, err
		}
		op := OpNeg
		if e.Op == TOKEN_BANG {
			op = OpNot
		}
		g.buf.Emit(Instr{Op: op, Dst: v, Src: NoVReg})
		return v, nil

	case *BinaryExpr:
		return g.lowerBinary(e)

	case *CallExpr:
		args := make([]VReg, 0, len(e.Args))
		for _, argExpr := range e.Args {
			arg, err := g.lowerExpr(argExpr)
			if err != nil {
				return NoVReg, err
			}
			args = append(args, arg)
		}
		v := g.buf.NewVReg()
		g.buf.Emit(Instr{Op: OpCall, Dst: v, Sym: e.Name, Args: args, Src: NoVReg})
		return v, nil

	default:
		return NoVReg, errors.Errorf("unsupported expression %T", expr)
	}
}

// normalize turns an arbitrary integer into 0 or 1 in place
func (g *genContext) normalize(v VReg) {
	zero := g.buf.NewVReg()
	g.buf.Emit(Instr{Op: OpConst, Dst: zero, Imm: 0, Src: NoVReg})
	g.buf.Emit(Instr{Op: OpSet, Dst: v, Src: zero, CC: CondNE})
}

var cmpConds = map[TokenType]Cond{
	TOKEN_EQ: CondE,
	TOKEN_NE: CondNE,
	TOKEN_LT: CondL,
	TOKEN_LE: CondLE,
	TOKEN_GT: CondG,
	TOKEN_GE: CondGE,
}

func (g *genContext) lowerBinary(e *BinaryExpr) (VReg, error) {
	lhs, err := g.lowerExpr(e.Left)
	if err != nil {
		return NoVReg, err
	}
	rhs, err := g.lowerExpr(e.Right)
	if err != nil {
		return NoVReg, err
	}

	if cc, ok := cmpConds[e.Op]; ok {
		g.buf.Emit(Instr{Op: OpSet, Dst: lhs, Src: rhs, CC: cc})
		return lhs, nil
	}

	switch e.Op {
	case TOKEN_PLUS:
		g.buf.Emit(Instr{Op: OpAdd, Dst: lhs, Src: rhs})
	case TOKEN_MINUS:
		g.buf.Emit(Instr{Op: OpSub, Dst: lhs, Src: rhs})
	case TOKEN_STAR:
		g.buf.Emit(Instr{Op: OpMul, Dst: lhs, Src: rhs})
	case TOKEN_SLASH:
		g.buf.Emit(Instr{Op: OpDiv, Dst: lhs, Src: rhs})
	case TOKEN_MOD:
		g.buf.Emit(Instr{Op: OpMod, Dst: lhs, Src: rhs})
	case TOKEN_ANDAND:
		g.normalize(lhs)
		g.normalize(rhs)
		g.buf.Emit(Instr{Op: OpAnd, Dst: lhs, Src: rhs})
	case TOKEN_OROR:
		g.normalize(lhs)
		g.normalize(rhs)
		g.buf.Emit(Instr{Op: OpOr, Dst: lhs, Src: rhs})
	default:
		return NoVReg, errors.Errorf("line %d: unsupported binary operator %s", e.Line, e.Op)
	}
	return lhs, nil
}
