package main

import (
	"bytes"

	"github.com/pkg/errors"
)

// Section flags
const (
	SecFlagExec   = 1 << 0
	SecFlagWrite  = 1 << 1
	SecFlagAlloc  = 1 << 2
	SecFlagNoBits = 1 << 3 // occupies no file space (.bss)
)

// Section is one named chunk of the output object. Addr and Offset stay
// unassigned until ComputeLayout runs; after layout the buffer length is
// frozen and any mutation must go through InvalidateLayout first.
type Section struct {
	Name    string
	Segment string // Mach-O segment name; ignored for ELF
	Flags   uint32
	Align   uint64
	Data    bytes.Buffer

	laidOut    bool
	layoutSize uint64 // buffer length captured at layout time
	Addr       uint64
	Offset     uint64
}

// Size is the section's byte length (virtual size for nobits sections)
func (s *Section) Size() uint64 {
	return uint64(s.Data.Len())
}

// Append adds bytes to the section body. Appending after layout is refused:
// stale offsets are a correctness bug, not a warning.
func (s *Section) Append(b []byte) error {
	if s.laidOut {
		return errors.Errorf("section %s: append after layout (recompute layout first)", s.Name)
	}
	s.Data.Write(b)
	return nil
}

// AlignTo pads the body with zero bytes up to a multiple of a
func (s *Section) AlignTo(a uint64) error {
	if a == 0 || a&(a-1) != 0 {
		return errors.Errorf("section %s: alignment %d is not a power of two", s.Name, a)
	}
	want := align(s.Size(), a)
	if pad := want - s.Size(); pad > 0 {
		return s.Append(make([]byte, pad))
	}
	return nil
}

// SectionTable owns the output sections in registration order
type SectionTable struct {
	sections []*Section
	byName   map[string]int
	laidOut  bool
}

func NewSectionTable() *SectionTable {
	return &SectionTable{byName: make(map[string]int)}
}

// AddSection registers a section. Registration order decides layout order.
func (t *SectionTable) AddSection(name, segment string, flags uint32, align uint64) (*Section, error) {
	if _, exists := t.byName[name]; exists {
		return nil, errors.Errorf("section %s already registered", name)
	}
	if align == 0 || align&(align-1) != 0 {
		return nil, errors.Errorf("section %s: alignment %d is not a power of two", name, align)
	}
	sec := &Section{Name: name, Segment: segment, Flags: flags, Align: align}
	t.byName[name] = len(t.sections)
	t.sections = append(t.sections, sec)
	return sec, nil
}

func (t *SectionTable) Get(name string) *Section {
	if i, ok := t.byName[name]; ok {
		return t.sections[i]
	}
	return nil
}

// Index returns the 1-based section index (0 is reserved for "no section")
func (t *SectionTable) Index(name string) (int, bool) {
	i, ok := t.byName[name]
	return i + 1, ok
}

func (t *SectionTable) Sections() []*Section {
	return t.sections
}

func (t *SectionTable) Len() int {
	return len(t.sections)
}

func align(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}

// ComputeLayout assigns each section a file offset and a virtual address,
// respecting its alignment, in registration order after headerSize reserved
// bytes. Nobits sections advance the address but not the file offset. Layout
// runs exactly once per write.
func (t *SectionTable) ComputeLayout(headerSize uint64) error {
	if t.laidOut {
		return errors.New("section layout already computed")
	}
	off := headerSize
	addr := uint64(0)
	for _, sec := range t.sections {
		off = align(off, sec.Align)
		addr = align(addr, sec.Align)
		sec.Offset = off
		sec.Addr = addr
		sec.layoutSize = sec.Size()
		sec.laidOut = true
		if sec.Flags&SecFlagNoBits == 0 {
			off += sec.layoutSize
		}
		addr += sec.layoutSize
	}
	t.laidOut = true
	return nil
}

// InvalidateLayout clears computed offsets so sections may grow again
func (t *SectionTable) InvalidateLayout() {
	for _, sec := range t.sections {
		sec.laidOut = false
		sec.Addr = 0
		sec.Offset = 0
		sec.layoutSize = 0
	}
	t.laidOut = false
}

// checkLayout verifies that no section grew behind the computed layout
func (t *SectionTable) checkLayout() error {
	if !t.laidOut {
		return errors.New("section layout not computed")
	}
	for _, sec := range t.sections {
		if sec.Size() != sec.layoutSize {
			return errors.Errorf("section %s changed size after layout (%d -> %d)",
				sec.Name, sec.layoutSize, sec.Size())
		}
	}
	return nil
}

// end returns the first file offset past all laid-out section bodies
func (t *SectionTable) end(headerSize uint64) uint64 {
	end := headerSize
	for _, sec := range t.sections {
		if sec.Flags&SecFlagNoBits != 0 {
			continue
		}
		if sec.Offset+sec.layoutSize > end {
			end = sec.Offset + sec.layoutSize
		}
	}
	return end
}
