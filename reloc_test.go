package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSymtab(t *testing.T) *SymbolTable {
	t.Helper()
	symtab := NewSymbolTable()
	_, err := symtab.Add(&Symbol{Name: "main", Type: SymFunc, Binding: BindGlobal, Section: ".text"})
	require.NoError(t, err)
	_, err = symtab.Add(&Symbol{Name: "msg", Type: SymData, Binding: BindLocal, Section: ".rodata"})
	require.NoError(t, err)
	return symtab
}

func TestAddRelocationRejectsUnknownType(t *testing.T) {
	symtab := newTestSymtab(t)
	m := NewRelocationManager(symtab)

	err := m.AddRelocation(".text", 0x10, 0, RelocType(999), 0)
	require.Error(t, err)
	assert.Equal(t, 0, m.Count())

	// nothing of that offset may survive into any generated table
	require.NoError(t, m.ValidateAll())
	for _, r := range m.GenerateTable(".text") {
		assert.NotEqual(t, uint64(0x10), r.Offset)
	}
}

func TestAddRelocationRejectsOutOfRangeSymbol(t *testing.T) {
	symtab := newTestSymtab(t)
	m := NewRelocationManager(symtab)

	require.Error(t, m.AddRelocation(".text", 0, 99, R_X86_64_PC32, -4))
	require.Error(t, m.AddRelocation(".text", 0, -1, R_X86_64_PC32, -4))
	assert.Equal(t, 0, m.Count())
	assert.Empty(t, m.GenerateTable(".text"))
}

func TestGenerateTableOrderedAndIdempotent(t *testing.T) {
	symtab := newTestSymtab(t)
	m := NewRelocationManager(symtab)

	// inserted out of order, two entries sharing offset 0x20
	require.NoError(t, m.AddRelocation(".text", 0x40, 0, R_X86_64_PLT32, -4))
	require.NoError(t, m.AddRelocation(".text", 0x20, 1, R_X86_64_PC32, -4))
	require.NoError(t, m.AddRelocation(".text", 0x20, 0, R_X86_64_64, 0))
	require.NoError(t, m.AddRelocation(".data", 0x08, 1, R_X86_64_64, 0))

	table := m.GenerateTable(".text")
	require.Len(t, table, 3)
	assert.Equal(t, uint64(0x20), table[0].Offset)
	assert.Equal(t, uint64(0x20), table[1].Offset)
	assert.Equal(t, uint64(0x40), table[2].Offset)
	// offsets tie-break on insertion order
	assert.Equal(t, R_X86_64_PC32, table[0].Type)
	assert.Equal(t, R_X86_64_64, table[1].Type)

	assert.Equal(t, table, m.GenerateTable(".text"))

	all := m.GenerateAllTables()
	assert.Len(t, all[".text"], 3)
	assert.Len(t, all[".data"], 1)
}

func TestGenerateDynamicTableSeparatesKinds(t *testing.T) {
	symtab := newTestSymtab(t)
	m := NewRelocationManager(symtab)

	require.NoError(t, m.AddRelocation(".text", 0x10, 0, R_X86_64_PC32, -4))
	require.NoError(t, m.AddRelocation(".data", 0x00, 0, R_X86_64_GLOB_DAT, 0))
	require.NoError(t, m.AddRelocation(".data", 0x08, 1, R_X86_64_RELATIVE, 0))

	dynamic := m.GenerateDynamicTable()
	require.Len(t, dynamic, 2)
	for _, r := range dynamic {
		assert.True(t, r.Type.Dynamic())
	}

	// static tables never include the dynamic kinds
	for _, r := range m.GenerateTable(".data") {
		assert.False(t, r.Type.Dynamic())
	}
}

func TestRelocTypeSets(t *testing.T) {
	valid := []RelocType{R_X86_64_NONE, R_X86_64_64, R_X86_64_PC32, R_X86_64_PLT32,
		R_X86_64_GOTPCREL, R_X86_64_32, R_X86_64_32S, R_X86_64_16, R_X86_64_8}
	for _, typ := range valid {
		assert.True(t, typ.Valid(), "type %d", typ)
	}
	assert.False(t, RelocType(999).Valid())
	assert.False(t, RelocType(13).Valid())

	assert.True(t, R_X86_64_JUMP_SLOT.Dynamic())
	assert.True(t, R_X86_64_COPY.Dynamic())
	assert.False(t, R_X86_64_PC32.Dynamic())
}
