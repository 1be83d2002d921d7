package main

import "github.com/pkg/errors"

// Symbol types
type SymType int

const (
	SymFunc SymType = iota
	SymData
	SymSection
	SymUndefined
)

func (t SymType) String() string {
	switch t {
	case SymFunc:
		return "func"
	case SymData:
		return "data"
	case SymSection:
		return "section"
	default:
		return "undefined"
	}
}

// Symbol bindings
type SymBinding int

const (
	BindLocal SymBinding = iota
	BindGlobal
	BindWeak
)

func (b SymBinding) String() string {
	switch b {
	case BindGlobal:
		return "global"
	case BindWeak:
		return "weak"
	default:
		return "local"
	}
}

// Symbol is one entry of a compilation unit's symbol table. Section is the
// defining section name, empty for undefined symbols. Value is the offset
// within the defining section.
type Symbol struct {
	Name    string
	Type    SymType
	Binding SymBinding
	Section string
	Value   uint64
	Size    uint64
}

// SymbolTable deduplicates symbols by name and preserves insertion order.
// Indices handed out by Add stay stable; format writers that need a different
// on-disk order (ELF wants locals first) remap through an index map.
type SymbolTable struct {
	syms   []*Symbol
	byName map[string]int
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{byName: make(map[string]int)}
}

// Add inserts a symbol and returns its index. Adding a name twice returns
// the existing index; a definition overrides an earlier undefined entry.
func (t *SymbolTable) Add(sym *Symbol) (int, error) {
	if i, ok := t.byName[sym.Name]; ok {
		existing := t.syms[i]
		if existing.Type == SymUndefined && sym.Type != SymUndefined {
			t.syms[i] = sym
			return i, nil
		}
		if sym.Type == SymUndefined {
			return i, nil
		}
		if existing.Section == sym.Section && existing.Value == sym.Value {
			return i, nil
		}
		return 0, errors.Errorf("symbol %q defined twice", sym.Name)
	}
	t.byName[sym.Name] = len(t.syms)
	t.syms = append(t.syms, sym)
	return len(t.syms) - 1, nil
}

// AddUndefined records a reference to an external symbol
func (t *SymbolTable) AddUndefined(name string) (int, error) {
	return t.Add(&Symbol{Name: name, Type: SymUndefined, Binding: BindGlobal})
}

func (t *SymbolTable) Lookup(name string) (int, bool) {
	i, ok := t.byName[name]
	return i, ok
}

func (t *SymbolTable) At(i int) *Symbol {
	return t.syms[i]
}

func (t *SymbolTable) Len() int {
	return len(t.syms)
}

func (t *SymbolTable) Symbols() []*Symbol {
	return t.syms
}
