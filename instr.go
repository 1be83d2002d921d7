package main

import "fmt"

// VReg is a virtual register id assigned during instruction selection
type VReg int

const NoVReg VReg = -1

// Condition codes for comparisons and conditional jumps
type Cond int

const (
	CondE Cond = iota
	CondNE
	CondL
	CondLE
	CondG
	CondGE
)

func (c Cond) String() string {
	switch c {
	case CondE:
		return "e"
	case CondNE:
		return "ne"
	case CondL:
		return "l"
	case CondLE:
		return "le"
	case CondG:
		return "g"
	default:
		return "ge"
	}
}

// Target-independent instruction opcodes produced by instruction selection
type Op int

const (
	OpConst Op = iota // Dst <- Imm
	OpMov             // Dst <- Src
	OpAdd             // Dst <- Dst + Src
	OpSub             // Dst <- Dst - Src
	OpMul             // Dst <- Dst * Src
	OpDiv             // Dst <- Dst / Src
	OpMod             // Dst <- Dst % Src
	OpAnd             // Dst <- Dst & Src
	OpOr              // Dst <- Dst | Src
	OpNeg             // Dst <- -Dst
	OpNot             // Dst <- Dst == 0 ? 1 : 0
	OpSet             // Dst <- (Dst CC Src) ? 1 : 0
	OpLoadSlot        // Dst <- frame[Slot]
	OpStoreSlot       // frame[Slot] <- Src
	OpParam           // frame[Slot] <- incoming argument register Imm
	OpLea             // Dst <- address of Sym
	OpCall            // Dst <- Sym(Args...)
	OpRet             // return Src (or nothing when Src == NoVReg)
	OpLabel           // bind Label here
	OpJmp             // jump Label
	OpJumpIfZero      // if Src == 0 jump Label
)

// Instr is one lowered instruction. Which fields are meaningful depends on
// the opcode.
type Instr struct {
	Op    Op
	Dst   VReg
	Src   VReg
	Imm   int64
	Slot  int
	Sym   string
	Label string
	CC    Cond
	Args  []VReg
}

func (i Instr) String() string {
	switch i.Op {
	case OpConst:
		return fmt.Sprintf("v%d = %d", i.Dst, i.Imm)
	case OpCall:
		return fmt.Sprintf("v%d = call %s/%d", i.Dst, i.Sym, len(i.Args))
	case OpLabel:
		return i.Label + ":"
	case OpJmp:
		return "jmp " + i.Label
	case OpJumpIfZero:
		return fmt.Sprintf("jz v%d, %s", i.Src, i.Label)
	default:
		return fmt.Sprintf("op%d v%d, v%d", i.Op, i.Dst, i.Src)
	}
}

// InstrBuffer collects the instructions of a single function. It is reset
// between functions; there is no cross-function instruction state.
type InstrBuffer struct {
	instrs []Instr
	nextVR VReg
}

func NewInstrBuffer() *InstrBuffer {
	return &InstrBuffer{}
}

// NewVReg hands out the next virtual register
func (b *InstrBuffer) NewVReg() VReg {
	v := b.nextVR
	b.nextVR++
	return v
}

func (b *InstrBuffer) Emit(i Instr) {
	b.instrs = append(b.instrs, i)
}

func (b *InstrBuffer) Instrs() []Instr {
	return b.instrs
}

func (b *InstrBuffer) NumVRegs() int {
	return int(b.nextVR)
}
