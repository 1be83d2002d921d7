package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolTableDedupByName(t *testing.T) {
	tab := NewSymbolTable()
	i, err := tab.AddUndefined("printf")
	require.NoError(t, err)
	j, err := tab.AddUndefined("printf")
	require.NoError(t, err)
	assert.Equal(t, i, j)
	assert.Equal(t, 1, tab.Len())
}

func TestSymbolDefinitionOverridesUndefined(t *testing.T) {
	tab := NewSymbolTable()
	i, err := tab.AddUndefined("helper")
	require.NoError(t, err)

	j, err := tab.Add(&Symbol{Name: "helper", Type: SymFunc, Binding: BindGlobal, Section: ".text", Value: 0x40})
	require.NoError(t, err)
	assert.Equal(t, i, j, "the definition keeps the reference's index")
	assert.Equal(t, SymFunc, tab.At(i).Type)
	assert.Equal(t, uint64(0x40), tab.At(i).Value)

	// a later undefined reference folds into the existing definition
	k, err := tab.AddUndefined("helper")
	require.NoError(t, err)
	assert.Equal(t, i, k)
	assert.Equal(t, SymFunc, tab.At(i).Type)
}

func TestSymbolTableRejectsConflictingDefinitions(t *testing.T) {
	tab := NewSymbolTable()
	_, err := tab.Add(&Symbol{Name: "f", Type: SymFunc, Binding: BindGlobal, Section: ".text", Value: 0})
	require.NoError(t, err)
	_, err = tab.Add(&Symbol{Name: "f", Type: SymFunc, Binding: BindGlobal, Section: ".text", Value: 0x10})
	assert.Error(t, err)
}

func TestDiskSymbolOrderLocalsFirst(t *testing.T) {
	tab := NewSymbolTable()
	g1, _ := tab.Add(&Symbol{Name: "main", Type: SymFunc, Binding: BindGlobal, Section: ".text"})
	l1, _ := tab.Add(&Symbol{Name: "str.1", Type: SymData, Binding: BindLocal, Section: ".rodata"})
	g2, _ := tab.AddUndefined("puts")
	l2, _ := tab.Add(&Symbol{Name: "str.3", Type: SymData, Binding: BindLocal, Section: ".rodata"})

	order, localCount, indexMap := diskSymbolOrder(tab)
	require.Len(t, order, 4)
	assert.Equal(t, 2, localCount)
	assert.Equal(t, []int{l1, l2, g1, g2}, order)

	// disk indices are 1-based, entry 0 is the null symbol
	assert.Equal(t, 1, indexMap[l1])
	assert.Equal(t, 2, indexMap[l2])
	assert.Equal(t, 3, indexMap[g1])
	assert.Equal(t, 4, indexMap[g2])
}
