package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutRespectsAlignment(t *testing.T) {
	table := NewSectionTable()
	text, err := table.AddSection(".text", "__TEXT", SecFlagAlloc|SecFlagExec, 16)
	require.NoError(t, err)
	rodata, err := table.AddSection(".rodata", "__TEXT", SecFlagAlloc, 8)
	require.NoError(t, err)
	data, err := table.AddSection(".data", "__DATA", SecFlagAlloc|SecFlagWrite, 32)
	require.NoError(t, err)

	require.NoError(t, text.Append(make([]byte, 37)))
	require.NoError(t, rodata.Append(make([]byte, 5)))
	require.NoError(t, data.Append(make([]byte, 100)))

	require.NoError(t, table.ComputeLayout(64))

	for _, sec := range table.Sections() {
		assert.Zero(t, sec.Offset%sec.Align, "%s offset %d not %d-aligned", sec.Name, sec.Offset, sec.Align)
		assert.Zero(t, sec.Addr%sec.Align, "%s addr", sec.Name)
	}

	// no two byte ranges overlap and all sit behind the header
	secs := table.Sections()
	assert.GreaterOrEqual(t, secs[0].Offset, uint64(64))
	for i := 1; i < len(secs); i++ {
		prev := secs[i-1]
		assert.GreaterOrEqual(t, secs[i].Offset, prev.Offset+prev.Size(),
			"%s overlaps %s", secs[i].Name, prev.Name)
	}
}

func TestAppendAfterLayoutRejected(t *testing.T) {
	table := NewSectionTable()
	text, err := table.AddSection(".text", "__TEXT", SecFlagAlloc|SecFlagExec, 16)
	require.NoError(t, err)
	require.NoError(t, text.Append([]byte{0xc3}))
	require.NoError(t, table.ComputeLayout(64))

	assert.Error(t, text.Append([]byte{0x90}))

	table.InvalidateLayout()
	require.NoError(t, text.Append([]byte{0x90}))
	require.NoError(t, table.ComputeLayout(64))
	assert.Equal(t, uint64(2), text.Size())
}

func TestComputeLayoutOnlyOnce(t *testing.T) {
	table := NewSectionTable()
	_, err := table.AddSection(".text", "__TEXT", SecFlagAlloc|SecFlagExec, 16)
	require.NoError(t, err)
	require.NoError(t, table.ComputeLayout(64))
	assert.Error(t, table.ComputeLayout(64))
}

func TestAddSectionRejectsBadAlignment(t *testing.T) {
	table := NewSectionTable()
	_, err := table.AddSection(".text", "__TEXT", SecFlagAlloc, 3)
	assert.Error(t, err)
	_, err = table.AddSection(".text", "__TEXT", SecFlagAlloc, 0)
	assert.Error(t, err)
}

func TestAlignTo(t *testing.T) {
	table := NewSectionTable()
	text, err := table.AddSection(".text", "__TEXT", SecFlagAlloc|SecFlagExec, 16)
	require.NoError(t, err)
	require.NoError(t, text.Append(make([]byte, 5)))
	require.NoError(t, text.AlignTo(16))
	assert.Equal(t, uint64(16), text.Size())
	// already aligned, no padding added
	require.NoError(t, text.AlignTo(16))
	assert.Equal(t, uint64(16), text.Size())
	assert.Error(t, text.AlignTo(6))
}

func TestStringTableDedup(t *testing.T) {
	strtab := NewStringTable()
	a, err := strtab.Add("main")
	require.NoError(t, err)
	b, err := strtab.Add("printf")
	require.NoError(t, err)
	c, err := strtab.Add("main")
	require.NoError(t, err)
	assert.Equal(t, a, c)
	assert.NotEqual(t, a, b)
	assert.NotZero(t, a, "offset zero is the leading empty string")

	strtab.Freeze()
	_, err = strtab.Add("later")
	assert.Error(t, err)
	// re-adding an interned string still works after the freeze
	_, err = strtab.Add("main")
	assert.NoError(t, err)
}
