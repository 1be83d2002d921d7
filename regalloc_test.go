package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chainInstrs builds n constants that all stay live until a final use, so
// more than len(allocatableRegs) of them forces spilling.
func chainInstrs(n int) []Instr {
	buf := NewInstrBuffer()
	regs := make([]VReg, n)
	for i := 0; i < n; i++ {
		regs[i] = buf.NewVReg()
		buf.Emit(Instr{Op: OpConst, Dst: regs[i], Imm: int64(i), Src: NoVReg})
	}
	acc := regs[0]
	for i := 1; i < n; i++ {
		buf.Emit(Instr{Op: OpAdd, Dst: acc, Src: regs[i]})
	}
	buf.Emit(Instr{Op: OpRet, Src: acc, Dst: NoVReg})
	return buf.Instrs()
}

func TestAllocationFitsInRegisters(t *testing.T) {
	instrs := chainInstrs(3)
	alloc := AllocateRegisters(instrs, 0)
	assert.Zero(t, alloc.Spills())
	for v := VReg(0); v < 3; v++ {
		loc := alloc.Loc(v)
		assert.NotEmpty(t, loc.Reg, "v%d should sit in a register", v)
		assert.False(t, loc.Spilled)
	}
}

func TestAllocationSpillsOnPressure(t *testing.T) {
	n := len(allocatableRegs) + 3
	instrs := chainInstrs(n)
	alloc := AllocateRegisters(instrs, 0)
	require.Greater(t, alloc.Spills(), 0, "register pressure must force spills")

	// every vreg has exactly one location, and no two share a register or
	// a slot while both are live (all are live together here)
	usedRegs := make(map[string]VReg)
	usedSlots := make(map[int]VReg)
	for v := VReg(0); v < VReg(n); v++ {
		loc := alloc.Loc(v)
		if loc.Reg != "" {
			prev, dup := usedRegs[loc.Reg]
			assert.False(t, dup, "v%d and v%d share %s", prev, v, loc.Reg)
			usedRegs[loc.Reg] = v
		} else {
			require.True(t, loc.Spilled, "v%d has no location", v)
			prev, dup := usedSlots[loc.Slot]
			assert.False(t, dup, "v%d and v%d share slot %d", prev, v, loc.Slot)
			usedSlots[loc.Slot] = v
		}
	}
	assert.Equal(t, len(usedSlots), alloc.Spills())
}

func TestAllocationReservesNamedSlots(t *testing.T) {
	// slots below nextSlot belong to named variables; spill slots start
	// above them
	n := len(allocatableRegs) + 2
	instrs := chainInstrs(n)
	alloc := AllocateRegisters(instrs, 4)
	assert.GreaterOrEqual(t, alloc.FrameSlots(), 4+alloc.Spills())
	for v := VReg(0); v < VReg(n); v++ {
		loc := alloc.Loc(v)
		if loc.Spilled {
			assert.GreaterOrEqual(t, loc.Slot, 4, "spill slot collides with a variable slot")
		}
	}
}

func TestUsedCalleeSavedSubset(t *testing.T) {
	alloc := AllocateRegisters(chainInstrs(2), 0)
	used := alloc.UsedCalleeSaved()
	assert.NotEmpty(t, used)
	valid := make(map[string]bool)
	for _, r := range allocatableRegs {
		valid[r] = true
	}
	for _, r := range used {
		assert.True(t, valid[r], "%s is not in the allocatable pool", r)
	}
}
