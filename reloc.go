package main

import (
	"sort"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// x86_64 relocation type codes, as defined by the System V psABI
type RelocType uint32

const (
	R_X86_64_NONE      RelocType = 0
	R_X86_64_64        RelocType = 1  // absolute 64-bit
	R_X86_64_PC32      RelocType = 2  // PC-relative 32-bit
	R_X86_64_GOT32     RelocType = 3  // 32-bit GOT entry offset
	R_X86_64_PLT32     RelocType = 4  // PLT-relative 32-bit
	R_X86_64_COPY      RelocType = 5  // dynamic: copy at load time
	R_X86_64_GLOB_DAT  RelocType = 6  // dynamic: set GOT entry to symbol
	R_X86_64_JUMP_SLOT RelocType = 7  // dynamic: PLT slot binding
	R_X86_64_RELATIVE  RelocType = 8  // dynamic: base-relative adjust
	R_X86_64_GOTPCREL  RelocType = 9  // PC-relative GOT entry offset
	R_X86_64_32        RelocType = 10 // absolute 32-bit zero-extended
	R_X86_64_32S       RelocType = 11 // absolute 32-bit sign-extended
	R_X86_64_16        RelocType = 12 // absolute 16-bit zero-extended
	R_X86_64_8         RelocType = 14 // absolute 8-bit zero-extended
)

var relocTypeNames = map[RelocType]string{
	R_X86_64_NONE:      "R_X86_64_NONE",
	R_X86_64_64:        "R_X86_64_64",
	R_X86_64_PC32:      "R_X86_64_PC32",
	R_X86_64_GOT32:     "R_X86_64_GOT32",
	R_X86_64_PLT32:     "R_X86_64_PLT32",
	R_X86_64_COPY:      "R_X86_64_COPY",
	R_X86_64_GLOB_DAT:  "R_X86_64_GLOB_DAT",
	R_X86_64_JUMP_SLOT: "R_X86_64_JUMP_SLOT",
	R_X86_64_RELATIVE:  "R_X86_64_RELATIVE",
	R_X86_64_GOTPCREL:  "R_X86_64_GOTPCREL",
	R_X86_64_32:        "R_X86_64_32",
	R_X86_64_32S:       "R_X86_64_32S",
	R_X86_64_16:        "R_X86_64_16",
	R_X86_64_8:         "R_X86_64_8",
}

func (t RelocType) String() string {
	if s, ok := relocTypeNames[t]; ok {
		return s
	}
	return "R_X86_64_INVALID"
}

// Valid reports whether t is in the architecture-defined set
func (t RelocType) Valid() bool {
	_, ok := relocTypeNames[t]
	return ok
}

// Dynamic reports whether t is resolved at program load time rather than at
// link time.
func (t RelocType) Dynamic() bool {
	switch t {
	case R_X86_64_COPY, R_X86_64_GLOB_DAT, R_X86_64_JUMP_SLOT, R_X86_64_RELATIVE:
		return true
	}
	return false
}

// Relocation is one patch instruction for the linker or loader
type Relocation struct {
	Section  string
	Offset   uint64
	Symbol   int // index into the owning symbol table
	Type     RelocType
	Addend   int64

	seq int // insertion order, tiebreak for entries sharing an offset
}

// RelocationManager accumulates, validates and renders relocations
// independent of the output format. It holds the entries exclusively until
// rendering; writers only ever see generated copies.
type RelocationManager struct {
	symtab  *SymbolTable
	relocs  []Relocation
	nextSeq int
}

func NewRelocationManager(symtab *SymbolTable) *RelocationManager {
	return &RelocationManager{symtab: symtab}
}

// AddRelocation validates and stores one entry. Unknown type codes and
// symbol indices outside the symbol table are rejected here, never at write
// time.
func (m *RelocationManager) AddRelocation(section string, offset uint64, symbol int, typ RelocType, addend int64) error {
	if !typ.Valid() {
		return errors.Errorf("relocation at %s+0x%x: invalid type code %d", section, offset, uint32(typ))
	}
	if symbol < 0 || symbol >= m.symtab.Len() {
		return errors.Errorf("relocation at %s+0x%x: symbol index %d out of range (table has %d)",
			section, offset, symbol, m.symtab.Len())
	}
	m.relocs = append(m.relocs, Relocation{
		Section: section,
		Offset:  offset,
		Symbol:  symbol,
		Type:    typ,
		Addend:  addend,
		seq:     m.nextSeq,
	})
	m.nextSeq++
	glog.V(2).Infof("reloc %s+0x%x %s sym=%d addend=%d", section, offset, typ, symbol, addend)
	return nil
}

// Count returns the number of stored relocations
func (m *RelocationManager) Count() int {
	return len(m.relocs)
}

func sortRelocs(out []Relocation) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Offset != out[j].Offset {
			return out[i].Offset < out[j].Offset
		}
		return out[i].seq < out[j].seq
	})
}

// GenerateTable renders the static relocations for one section, ordered by
// ascending offset with insertion order as the tiebreak. The result is a
// copy; calling twice without intervening mutation yields identical output.
func (m *RelocationManager) GenerateTable(section string) []Relocation {
	var out []Relocation
	for _, r := range m.relocs {
		if r.Section == section && !r.Type.Dynamic() {
			out = append(out, r)
		}
	}
	sortRelocs(out)
	return out
}

// GenerateAllTables renders every static relocation grouped per section name
func (m *RelocationManager) GenerateAllTables() map[string][]Relocation {
	out := make(map[string][]Relocation)
	for _, r := range m.relocs {
		if r.Type.Dynamic() {
			continue
		}
		out[r.Section] = append(out[r.Section], r)
	}
	for sec := range out {
		sortRelocs(out[sec])
	}
	return out
}

// GenerateDynamicTable renders only the load-time relocation kinds
func (m *RelocationManager) GenerateDynamicTable() []Relocation {
	var out []Relocation
	for _, r := range m.relocs {
		if r.Type.Dynamic() {
			out = append(out, r)
		}
	}
	sortRelocs(out)
	return out
}

// ValidateAll re-checks every stored entry against the current symbol table
// snapshot. Used as a sanity gate right before writing.
func (m *RelocationManager) ValidateAll() error {
	for _, r := range m.relocs {
		if !r.Type.Valid() {
			return errors.Errorf("stored relocation at %s+0x%x has invalid type %d", r.Section, r.Offset, uint32(r.Type))
		}
		if r.Symbol < 0 || r.Symbol >= m.symtab.Len() {
			return errors.Errorf("stored relocation at %s+0x%x references symbol %d outside the table",
				r.Section, r.Offset, r.Symbol)
		}
	}
	return nil
}
