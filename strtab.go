package main

import "github.com/pkg/errors"

// StringTable is an append-only, deduplicating string pool addressed by byte
// offset. Offset 0 always holds the empty string. The table grows while
// sections and symbols are built and is frozen at layout time.
type StringTable struct {
	data    []byte
	offsets map[string]uint32
	frozen  bool
}

func NewStringTable() *StringTable {
	return &StringTable{
		data:    []byte{0},
		offsets: map[string]uint32{"": 0},
	}
}

// Add interns s and returns its offset. Adding an already-present string
// returns the original offset without growing the table.
func (st *StringTable) Add(s string) (uint32, error) {
	if off, ok := st.offsets[s]; ok {
		return off, nil
	}
	if st.frozen {
		return 0, errors.Errorf("string table frozen, cannot add %q", s)
	}
	off := uint32(len(st.data))
	st.data = append(st.data, s...)
	st.data = append(st.data, 0)
	st.offsets[s] = off
	return off, nil
}

// Lookup returns the offset of an interned string
func (st *StringTable) Lookup(s string) (uint32, bool) {
	off, ok := st.offsets[s]
	return off, ok
}

// Freeze stops further growth; called when layout is computed
func (st *StringTable) Freeze() {
	st.frozen = true
}

func (st *StringTable) Bytes() []byte {
	return st.data
}

func (st *StringTable) Size() int {
	return len(st.data)
}
