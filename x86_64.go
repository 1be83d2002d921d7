package main

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// x86_64 encoder: turns one function's allocated instruction buffer into
// machine code, jump fixups and function-relative relocations.

const maxRegisterArgs = 6

// System V AMD64 integer argument registers, in order
var argRegs = []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}

var regNum = map[string]byte{
	"rax": 0, "rcx": 1, "rdx": 2, "rbx": 3,
	"rsp": 4, "rbp": 5, "rsi": 6, "rdi": 7,
	"r8": 8, "r9": 9, "r10": 10, "r11": 11,
	"r12": 12, "r13": 13, "r14": 14, "r15": 15,
}

// setcc condition encodings (low nibble of the 0F 9x opcode)
var ccBits = map[Cond]byte{
	CondE:  0x4,
	CondNE: 0x5,
	CondL:  0xc,
	CondGE: 0xd,
	CondLE: 0xe,
	CondG:  0xf,
}

// jcc uses the same condition nibble on the 0F 8x opcode
func jccOpcode(cc Cond) byte {
	return 0x80 | ccBits[cc]
}

// FuncReloc is a relocation recorded relative to the function start; the
// backend rebases it onto the .text offset before handing it to the
// relocation manager.
type FuncReloc struct {
	Offset int
	Sym    string
	Type   RelocType
	Addend int64
}

// Assembler holds the code buffer of one function under construction
type Assembler struct {
	code   bytes.Buffer
	labels *LabelManager
	relocs []FuncReloc
}

func NewAssembler() *Assembler {
	return &Assembler{labels: NewLabelManager()}
}

func (a *Assembler) Len() int {
	return a.code.Len()
}

func (a *Assembler) Relocs() []FuncReloc {
	return a.relocs
}

func (a *Assembler) byte_(bs ...byte) {
	a.code.Write(bs)
}

func (a *Assembler) imm32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	a.code.Write(b[:])
}

func (a *Assembler) imm64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	a.code.Write(b[:])
}

func rex(w bool, reg, rm byte) byte {
	b := byte(0x40)
	if w {
		b |= 8
	}
	if reg >= 8 {
		b |= 4
	}
	if rm >= 8 {
		b |= 1
	}
	return b
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | rm&7
}

// rr emits a classic reg/reg instruction: opcode /r with reg field = src
func (a *Assembler) rr(opcode byte, reg, rm string) {
	r, m := regNum[reg], regNum[rm]
	a.byte_(rex(true, r, m), opcode, modrm(3, r, m))
}

func (a *Assembler) MovRegReg(dst, src string)  { a.rr(0x89, src, dst) }
func (a *Assembler) AddRegReg(dst, src string)  { a.rr(0x01, src, dst) }
func (a *Assembler) SubRegReg(dst, src string)  { a.rr(0x29, src, dst) }
func (a *Assembler) AndRegReg(dst, src string)  { a.rr(0x21, src, dst) }
func (a *Assembler) OrRegReg(dst, src string)   { a.rr(0x09, src, dst) }
func (a *Assembler) XorRegReg(dst, src string)  { a.rr(0x31, src, dst) }
func (a *Assembler) CmpRegReg(lhs, rhs string)  { a.rr(0x39, rhs, lhs) }
func (a *Assembler) TestRegReg(lhs, rhs string) { a.rr(0x85, rhs, lhs) }

// ImulRegReg multiplies dst by src (0F AF has reg = destination)
func (a *Assembler) ImulRegReg(dst, src string) {
	d, s := regNum[dst], regNum[src]
	a.byte_(rex(true, d, s), 0x0f, 0xaf, modrm(3, d, s))
}

func (a *Assembler) MovRegImm(dst string, imm int64) {
	d := regNum[dst]
	if imm >= -1<<31 && imm < 1<<31 {
		a.byte_(rex(true, 0, d), 0xc7, modrm(3, 0, d))
		a.imm32(int32(imm))
		return
	}
	a.byte_(rex(true, 0, d), 0xb8|d&7)
	a.imm64(imm)
}

// MovRegMem loads dst from [rbp+disp]
func (a *Assembler) MovRegMem(dst string, disp int32) {
	d := regNum[dst]
	a.byte_(rex(true, d, 5), 0x8b, modrm(2, d, 5))
	a.imm32(disp)
}

// MovMemReg stores src to [rbp+disp]
func (a *Assembler) MovMemReg(disp int32, src string) {
	s := regNum[src]
	a.byte_(rex(true, s, 5), 0x89, modrm(2, s, 5))
	a.imm32(disp)
}

func (a *Assembler) NegReg(dst string) {
	d := regNum[dst]
	a.byte_(rex(true, 0, d), 0xf7, modrm(3, 3, d))
}

func (a *Assembler) Cqo() {
	a.byte_(0x48, 0x99)
}

func (a *Assembler) IdivReg(src string) {
	s := regNum[src]
	a.byte_(rex(true, 0, s), 0xf7, modrm(3, 7, s))
}

// SetCCAl emits setcc al followed by a zero extension into rax
func (a *Assembler) SetCCAl(cc Cond) {
	a.byte_(0x0f, 0x90|ccBits[cc], modrm(3, 0, 0)) // setcc al
	a.byte_(0x48, 0x0f, 0xb6, 0xc0)                // movzx rax, al
}

func (a *Assembler) PushReg(reg string) {
	r := regNum[reg]
	if r >= 8 {
		a.byte_(0x41)
	}
	a.byte_(0x50 | r&7)
}

func (a *Assembler) PopReg(reg string) {
	r := regNum[reg]
	if r >= 8 {
		a.byte_(0x41)
	}
	a.byte_(0x58 | r&7)
}

func (a *Assembler) SubRspImm(imm int32) {
	a.byte_(0x48, 0x81, 0xec)
	a.imm32(imm)
}

func (a *Assembler) AddRspImm(imm int32) {
	a.byte_(0x48, 0x81, 0xc4)
	a.imm32(imm)
}

func (a *Assembler) Ret() {
	a.byte_(0xc3)
}

// JmpLabel emits an unconditional rel32 jump fixed up at resolve time
func (a *Assembler) JmpLabel(label string) {
	a.byte_(0xe9)
	a.labels.Ref(a.code.Len(), label)
	a.imm32(0)
}

// JccLabel emits a conditional rel32 jump fixed up at resolve time
func (a *Assembler) JccLabel(cc Cond, label string) {
	a.byte_(0x0f, jccOpcode(cc))
	a.labels.Ref(a.code.Len(), label)
	a.imm32(0)
}

// CallSym emits call rel32 against a symbol, recording a PLT-relative
// relocation over the displacement field.
func (a *Assembler) CallSym(sym string) {
	a.byte_(0xe8)
	a.relocs = append(a.relocs, FuncReloc{Offset: a.code.Len(), Sym: sym, Type: R_X86_64_PLT32, Addend: -4})
	a.imm32(0)
}

// LeaSym loads the address of a symbol RIP-relative, recording a PC32
// relocation over the displacement field.
func (a *Assembler) LeaSym(dst, sym string) {
	d := regNum[dst]
	a.byte_(rex(true, d, 5), 0x8d, modrm(0, d, 5))
	a.relocs = append(a.relocs, FuncReloc{Offset: a.code.Len(), Sym: sym, Type: R_X86_64_PC32, Addend: -4})
	a.imm32(0)
}

const epilogueLabel = ".epilogue"

// EncodeFunc encodes an allocated instruction buffer into machine code.
// Layout: push rbp, save used callee-saved registers, reserve the frame,
// then the body; a single epilogue unwinds in reverse. Frame slots live at
// negative rbp offsets below the register save area.
func EncodeFunc(instrs []Instr, alloc *Allocation) (*Assembler, error) {
	a := NewAssembler()
	saved := alloc.UsedCalleeSaved()
	saveBytes := len(saved) * 8
	frameSize := alloc.FrameSlots() * 8
	// Keep rsp 16-aligned at call sites: return address plus rbp plus the
	// saves plus the frame must land on a 16-byte boundary.
	if (saveBytes+frameSize)%16 != 0 {
		frameSize += 16 - (saveBytes+frameSize)%16
	}

	slotDisp := func(slot int) int32 {
		return int32(-(saveBytes + (slot+1)*8))
	}

	loadVReg := func(scratch string, v VReg) error {
		loc := alloc.Loc(v)
		if loc.Reg != "" {
			a.MovRegReg(scratch, loc.Reg)
			return nil
		}
		if !loc.Spilled {
			return errors.Errorf("virtual register v%d has no location", v)
		}
		a.MovRegMem(scratch, slotDisp(loc.Slot))
		return nil
	}
	storeVReg := func(v VReg, scratch string) error {
		loc := alloc.Loc(v)
		if loc.Reg != "" {
			a.MovRegReg(loc.Reg, scratch)
			return nil
		}
		if !loc.Spilled {
			return errors.Errorf("virtual register v%d has no location", v)
		}
		a.MovMemReg(slotDisp(loc.Slot), scratch)
		return nil
	}

	// Prologue
	a.PushReg("rbp")
	a.MovRegReg("rbp", "rsp")
	for _, reg := range saved {
		a.PushReg(reg)
	}
	if frameSize > 0 {
		a.SubRspImm(int32(frameSize))
	}

	for _, instr := range instrs {
		switch instr.Op {
		case OpConst:
			a.MovRegImm("rax", instr.Imm)
			if err := storeVReg(instr.Dst, "rax"); err != nil {
				return nil, err
			}
		case OpMov:
			if err := loadVReg("rax", instr.Src); err != nil {
				return nil, err
			}
			if err := storeVReg(instr.Dst, "rax"); err != nil {
				return nil, err
			}
		case OpAdd, OpSub, OpMul, OpAnd, OpOr:
			if err := loadVReg("rax", instr.Dst); err != nil {
				return nil, err
			}
			if err := loadVReg("r10", instr.Src); err != nil {
				return nil, err
			}
			switch instr.Op {
			case OpAdd:
				a.AddRegReg("rax", "r10")
			case OpSub:
				a.SubRegReg("rax", "r10")
			case OpMul:
				a.ImulRegReg("rax", "r10")
			case OpAnd:
				a.AndRegReg("rax", "r10")
			case OpOr:
				a.OrRegReg("rax", "r10")
			}
			if err := storeVReg(instr.Dst, "rax"); err != nil {
				return nil, err
			}
		case OpDiv, OpMod:
			if err := loadVReg("rax", instr.Dst); err != nil {
				return nil, err
			}
			if err := loadVReg("r10", instr.Src); err != nil {
				return nil, err
			}
			a.Cqo()
			a.IdivReg("r10")
			result := "rax"
			if instr.Op == OpMod {
				result = "rdx"
			}
			if err := storeVReg(instr.Dst, result); err != nil {
				return nil, err
			}
		case OpNeg:
			if err := loadVReg("rax", instr.Dst); err != nil {
				return nil, err
			}
			a.NegReg("rax")
			if err := storeVReg(instr.Dst, "rax"); err != nil {
				return nil, err
			}
		case OpNot:
			if err := loadVReg("rax", instr.Dst); err != nil {
				return nil, err
			}
			a.TestRegReg("rax", "rax")
			a.SetCCAl(CondE)
			if err := storeVReg(instr.Dst, "rax"); err != nil {
				return nil, err
			}
		case OpSet:
			if err := loadVReg("rax", instr.Dst); err != nil {
				return nil, err
			}
			if err := loadVReg("r10", instr.Src); err != nil {
				return nil, err
			}
			a.CmpRegReg("rax", "r10")
			a.SetCCAl(instr.CC)
			if err := storeVReg(instr.Dst, "rax"); err != nil {
				return nil, err
			}
		case OpLoadSlot:
			a.MovRegMem("rax", slotDisp(instr.Slot))
			if err := storeVReg(instr.Dst, "rax"); err != nil {
				return nil, err
			}
		case OpParam:
			a.MovMemReg(slotDisp(instr.Slot), argRegs[int(instr.Imm)])
		case OpStoreSlot:
			if err := loadVReg("rax", instr.Src); err != nil {
				return nil, err
			}
			a.MovMemReg(slotDisp(instr.Slot), "rax")
		case OpLea:
			a.LeaSym("rax", instr.Sym)
			if err := storeVReg(instr.Dst, "rax"); err != nil {
				return nil, err
			}
		case OpCall:
			if len(instr.Args) > maxRegisterArgs {
				return nil, errors.Errorf("call to %s with %d arguments, only %d register arguments supported",
					instr.Sym, len(instr.Args), maxRegisterArgs)
			}
			for i, arg := range instr.Args {
				loc := alloc.Loc(arg)
				if loc.Reg != "" {
					a.MovRegReg(argRegs[i], loc.Reg)
				} else if loc.Spilled {
					a.MovRegMem(argRegs[i], slotDisp(loc.Slot))
				} else {
					return nil, errors.Errorf("call argument v%d has no location", arg)
				}
			}
			a.XorRegReg("rax", "rax") // variadic callees read al as the SSE count
			a.CallSym(instr.Sym)
			if instr.Dst != NoVReg {
				if err := storeVReg(instr.Dst, "rax"); err != nil {
					return nil, err
				}
			}
		case OpRet:
			if instr.Src != NoVReg {
				if err := loadVReg("rax", instr.Src); err != nil {
					return nil, err
				}
			} else {
				a.XorRegReg("rax", "rax")
			}
			a.JmpLabel(epilogueLabel)
		case OpLabel:
			if err := a.labels.Bind(instr.Label, a.code.Len()); err != nil {
				return nil, err
			}
		case OpJmp:
			a.JmpLabel(instr.Label)
		case OpJumpIfZero:
			if err := loadVReg("rax", instr.Src); err != nil {
				return nil, err
			}
			a.TestRegReg("rax", "rax")
			a.JccLabel(CondE, instr.Label)
		default:
			return nil, errors.Errorf("unencodable instruction %v", instr)
		}
	}

	// Fallthrough off the end returns zero
	a.XorRegReg("rax", "rax")
	if err := a.labels.Bind(epilogueLabel, a.code.Len()); err != nil {
		return nil, err
	}
	if frameSize > 0 {
		a.AddRspImm(int32(frameSize))
	}
	for i := len(saved) - 1; i >= 0; i-- {
		a.PopReg(saved[i])
	}
	a.PopReg("rbp")
	a.Ret()

	code := a.code.Bytes()
	if err := a.labels.Resolve(code); err != nil {
		return nil, err
	}
	return a, nil
}

// Code returns the encoded bytes after label resolution
func (a *Assembler) Code() []byte {
	return a.code.Bytes()
}
