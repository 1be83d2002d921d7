package main

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// LabelManager resolves intra-function jump targets. Jumps are emitted with
// a zero rel32 field and recorded as fixups; Resolve patches every fixup
// once the function body is fully encoded. Labels never escape a function.
type LabelManager struct {
	bound  map[string]int
	fixups []labelFixup
}

type labelFixup struct {
	offset int // byte offset of the rel32 field within the code buffer
	label  string
}

func NewLabelManager() *LabelManager {
	return &LabelManager{bound: make(map[string]int)}
}

// Bind sets a label to the current code offset
func (m *LabelManager) Bind(label string, offset int) error {
	if _, ok := m.bound[label]; ok {
		return errors.Errorf("label %q bound twice", label)
	}
	m.bound[label] = offset
	return nil
}

// Ref records a rel32 reference to a label at the given field offset. The
// displacement base is the end of the field (offset+4), as the instruction
// pointer sees it.
func (m *LabelManager) Ref(offset int, label string) {
	m.fixups = append(m.fixups, labelFixup{offset: offset, label: label})
}

// Resolve patches every recorded fixup in place. An unbound label is a
// generation failure, not a linker problem.
func (m *LabelManager) Resolve(code []byte) error {
	for _, fix := range m.fixups {
		target, ok := m.bound[fix.label]
		if !ok {
			return errors.Errorf("jump to unbound label %q", fix.label)
		}
		if fix.offset+4 > len(code) {
			return errors.Errorf("label fixup at %d past end of code (%d bytes)", fix.offset, len(code))
		}
		rel := int32(target - (fix.offset + 4))
		binary.LittleEndian.PutUint32(code[fix.offset:], uint32(rel))
	}
	return nil
}
