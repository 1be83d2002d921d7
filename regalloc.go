package main

import (
	"sort"

	"github.com/golang/glog"
)

// Linear scan register allocation over the virtual registers of one
// function. Intervals run from first definition to last use; when the pool
// runs dry the interval with the furthest end point is spilled to a frame
// slot. The pool holds only callee-saved registers so that allocated values
// survive calls without caller-save traffic.
//
// Reference: Poletto & Sarkar (1999), Linear Scan Register Allocation.

// allocatableRegs is the pool handed to the allocator, in preference order
var allocatableRegs = []string{"rbx", "r12", "r13", "r14", "r15"}

// Location is where a virtual register lives after allocation
type Location struct {
	Reg     string // physical register, empty when spilled
	Slot    int    // frame slot index, meaningful when Reg is empty
	Spilled bool
}

type liveInterval struct {
	vreg  VReg
	start int
	end   int
}

// Allocation maps every virtual register of a function to its location
type Allocation struct {
	locations map[VReg]Location
	numSpills int
	numSlots  int // total frame slots including named variables and spills
}

// FrameSlots is the total number of 8-byte frame slots the function needs
func (a *Allocation) FrameSlots() int {
	return a.numSlots
}

func (a *Allocation) Loc(v VReg) Location {
	return a.locations[v]
}

func (a *Allocation) Spills() int {
	return a.numSpills
}

// UsedCalleeSaved lists the pool registers the function actually uses, in
// pool order, for prologue saves.
func (a *Allocation) UsedCalleeSaved() []string {
	used := make(map[string]bool)
	for _, loc := range a.locations {
		if loc.Reg != "" {
			used[loc.Reg] = true
		}
	}
	var out []string
	for _, reg := range allocatableRegs {
		if used[reg] {
			out = append(out, reg)
		}
	}
	return out
}

func buildIntervals(instrs []Instr) []liveInterval {
	intervals := make(map[VReg]*liveInterval)
	touch := func(v VReg, pos int) {
		if v == NoVReg {
			return
		}
		iv, ok := intervals[v]
		if !ok {
			intervals[v] = &liveInterval{vreg: v, start: pos, end: pos}
			return
		}
		if pos > iv.end {
			iv.end = pos
		}
	}
	for pos, instr := range instrs {
		touch(instr.Dst, pos)
		touch(instr.Src, pos)
		for _, arg := range instr.Args {
			touch(arg, pos)
		}
	}
	out := make([]liveInterval, 0, len(intervals))
	for _, iv := range intervals {
		out = append(out, *iv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].start != out[j].start {
			return out[i].start < out[j].start
		}
		return out[i].vreg < out[j].vreg
	})
	return out
}

// AllocateRegisters runs linear scan over a function's instruction buffer.
// nextSlot is the first free frame slot index (slots below it hold named
// variables); spilled intervals take slots from there on.
func AllocateRegisters(instrs []Instr, nextSlot int) *Allocation {
	intervals := buildIntervals(instrs)
	alloc := &Allocation{locations: make(map[VReg]Location)}

	free := make([]string, len(allocatableRegs))
	copy(free, allocatableRegs)
	var active []liveInterval

	expire := func(pos int) {
		kept := active[:0]
		for _, iv := range active {
			if iv.end < pos {
				loc := alloc.locations[iv.vreg]
				if loc.Reg != "" {
					free = append(free, loc.Reg)
				}
				continue
			}
			kept = append(kept, iv)
		}
		active = kept
	}

	for _, iv := range intervals {
		expire(iv.start)
		if len(free) > 0 {
			reg := free[0]
			free = free[1:]
			alloc.locations[iv.vreg] = Location{Reg: reg}
			active = append(active, iv)
			sort.Slice(active, func(i, j int) bool { return active[i].end < active[j].end })
			continue
		}
		// Spill the interval that ends last
		victim := active[len(active)-1]
		if victim.end > iv.end {
			reg := alloc.locations[victim.vreg].Reg
			alloc.locations[victim.vreg] = Location{Slot: nextSlot, Spilled: true}
			nextSlot++
			alloc.numSpills++
			alloc.locations[iv.vreg] = Location{Reg: reg}
			active[len(active)-1] = iv
			sort.Slice(active, func(i, j int) bool { return active[i].end < active[j].end })
		} else {
			alloc.locations[iv.vreg] = Location{Slot: nextSlot, Spilled: true}
			nextSlot++
			alloc.numSpills++
		}
	}
	alloc.numSlots = nextSlot
	if alloc.numSpills > 0 {
		glog.V(2).Infof("regalloc: %d intervals, %d spilled", len(intervals), alloc.numSpills)
	}
	return alloc
}
