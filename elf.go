package main

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// ELF constants (only what the relocatable writer needs)
const (
	ELFCLASS64  = 2
	ELFDATA2LSB = 1
	EV_CURRENT  = 1

	ET_REL     = 1
	EM_X86_64  = 62
	EM_AARCH64 = 183

	SHT_NULL     = 0
	SHT_PROGBITS = 1
	SHT_SYMTAB   = 2
	SHT_STRTAB   = 3
	SHT_RELA     = 4
	SHT_NOBITS   = 8

	SHF_WRITE     = 1
	SHF_ALLOC     = 2
	SHF_EXECINSTR = 4

	SHN_UNDEF = 0

	STB_LOCAL  = 0
	STB_GLOBAL = 1
	STB_WEAK   = 2

	STT_NOTYPE = 0
	STT_OBJECT = 1
	STT_FUNC   = 2

	ehdrSize     = 64
	shdrSize     = 64
	symEntSize   = 24
	relaEntSize  = 24
)

type Elf64Ehdr struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrndx  uint16
}

type Elf64Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

type Elf64Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

type Elf64Rela struct {
	Offset uint64
	Info   uint64
	Addend int64
}

// ELFWriter serializes an ObjectBuilder as an ELF64 relocatable object
type ELFWriter struct {
	builder *ObjectBuilder
}

func (w *ELFWriter) Format() ObjFormat { return FormatELF }

func elfMachine(arch Arch) uint16 {
	if arch == ArchARM64 {
		return EM_AARCH64
	}
	return EM_X86_64
}

func elfSectionFlags(flags uint32) uint64 {
	var out uint64
	if flags&SecFlagAlloc != 0 {
		out |= SHF_ALLOC
	}
	if flags&SecFlagWrite != 0 {
		out |= SHF_WRITE
	}
	if flags&SecFlagExec != 0 {
		out |= SHF_EXECINSTR
	}
	return out
}

func elfSymInfo(sym *Symbol) uint8 {
	bind := uint8(STB_LOCAL)
	switch sym.Binding {
	case BindGlobal:
		bind = STB_GLOBAL
	case BindWeak:
		bind = STB_WEAK
	}
	typ := uint8(STT_NOTYPE)
	switch sym.Type {
	case SymFunc:
		typ = STT_FUNC
	case SymData:
		typ = STT_OBJECT
	}
	return bind<<4 | typ
}

// diskSymbolOrder returns the on-disk symbol order (locals first, then
// globals, as the format requires), the count of locals, and a map from
// builder index to disk index. Disk indices are 1-based: entry 0 is the
// null symbol.
func diskSymbolOrder(t *SymbolTable) (order []int, localCount int, indexMap map[int]int) {
	indexMap = make(map[int]int, t.Len())
	for i, sym := range t.Symbols() {
		if sym.Binding == BindLocal {
			order = append(order, i)
		}
	}
	localCount = len(order)
	for i, sym := range t.Symbols() {
		if sym.Binding != BindLocal {
			order = append(order, i)
		}
	}
	for disk, builderIdx := range order {
		indexMap[builderIdx] = disk + 1
	}
	return order, localCount, indexMap
}

// WriteObject computes the layout once, serializes header, section bodies,
// string tables, symbol table and relocation tables in that strict order,
// and atomically renames the finished object into place.
func (w *ELFWriter) WriteObject(path string) error {
	b := w.builder
	if err := b.validate(); err != nil {
		return err
	}

	// Symbol names must be interned before the string table freezes
	for _, sym := range b.symtab.Symbols() {
		if _, err := b.strtab.Add(sym.Name); err != nil {
			return err
		}
	}

	// Step 1: layout. Exactly once per write.
	b.sections.InvalidateLayout()
	if err := b.sections.ComputeLayout(ehdrSize); err != nil {
		return err
	}
	b.strtab.Freeze()
	if err := b.sections.checkLayout(); err != nil {
		return err
	}

	shstrtab := NewStringTable()
	relaTables := b.relocs.GenerateAllTables()
	order, localCount, indexMap := diskSymbolOrder(b.symtab)

	// Section header order: NULL, the body sections, one .rela.<name> per
	// relocated section, .symtab, .strtab, .shstrtab.
	bodySections := b.sections.Sections()
	type relaSec struct {
		target    string
		targetIdx int
		entries   []Relocation
	}
	var relas []relaSec
	for i, sec := range bodySections {
		if entries, ok := relaTables[sec.Name]; ok && len(entries) > 0 {
			relas = append(relas, relaSec{target: sec.Name, targetIdx: i + 1, entries: entries})
		}
	}

	shnum := 1 + len(bodySections) + len(relas) + 3
	symtabIdx := 1 + len(bodySections) + len(relas)
	strtabIdx := symtabIdx + 1
	shstrIdx := strtabIdx + 1

	// File offsets past the section bodies
	cursor := align(b.sections.end(ehdrSize), 8)
	relaOffsets := make([]uint64, len(relas))
	for i, r := range relas {
		relaOffsets[i] = cursor
		cursor += uint64(len(r.entries) * relaEntSize)
	}
	symtabOff := cursor
	symtabSize := uint64((len(order) + 1) * symEntSize)
	cursor += symtabSize
	strtabOff := cursor
	cursor += uint64(b.strtab.Size())
	// shstrtab content must be built before its size is known
	shstrNames := make([]uint32, 0, shnum)
	addName := func(name string) uint32 {
		off, _ := shstrtab.Add(name)
		return off
	}
	shstrNames = append(shstrNames, addName("")) // NULL section
	for _, sec := range bodySections {
		shstrNames = append(shstrNames, addName(sec.Name))
	}
	for _, r := range relas {
		shstrNames = append(shstrNames, addName(".rela"+r.target))
	}
	shstrNames = append(shstrNames, addName(".symtab"), addName(".strtab"), addName(".shstrtab"))
	shstrOff := cursor
	cursor += uint64(shstrtab.Size())
	shoff := align(cursor, 8)

	var buf bytes.Buffer
	le := binary.LittleEndian

	// Step 2: file header
	ehdr := Elf64Ehdr{
		Type:      ET_REL,
		Machine:   elfMachine(b.arch),
		Version:   EV_CURRENT,
		Shoff:     shoff,
		EhSize:    ehdrSize,
		ShEntSize: shdrSize,
		ShNum:     uint16(shnum),
		ShStrndx:  uint16(shstrIdx),
	}
	copy(ehdr.Ident[:4], []byte{0x7f, 'E', 'L', 'F'})
	ehdr.Ident[4] = ELFCLASS64
	ehdr.Ident[5] = ELFDATA2LSB
	ehdr.Ident[6] = EV_CURRENT
	if err := binary.Write(&buf, le, &ehdr); err != nil {
		return errors.Wrap(err, "serialize ELF header")
	}

	padTo := func(off uint64) {
		for uint64(buf.Len()) < off {
			buf.WriteByte(0)
		}
	}

	// Step 3: section bodies at their computed offsets
	for _, sec := range bodySections {
		if sec.Flags&SecFlagNoBits != 0 {
			continue
		}
		padTo(sec.Offset)
		buf.Write(sec.Data.Bytes())
	}

	// Step 6 data (relocation tables) precede the string table in the file,
	// but all offsets were fixed in step 1 so the write order is the layout
	// order.
	for i, r := range relas {
		padTo(relaOffsets[i])
		for _, entry := range r.entries {
			disk, ok := indexMap[entry.Symbol]
			if !ok {
				return errors.Errorf("relocation at %s+0x%x references unmapped symbol %d",
					entry.Section, entry.Offset, entry.Symbol)
			}
			rela := Elf64Rela{
				Offset: entry.Offset,
				Info:   uint64(disk)<<32 | uint64(entry.Type),
				Addend: entry.Addend,
			}
			if err := binary.Write(&buf, le, &rela); err != nil {
				return errors.Wrap(err, "serialize relocation")
			}
		}
	}

	// Step 5: symbol table (null entry, locals, globals)
	padTo(symtabOff)
	if err := binary.Write(&buf, le, &Elf64Sym{}); err != nil {
		return errors.Wrap(err, "serialize null symbol")
	}
	for _, builderIdx := range order {
		sym := b.symtab.At(builderIdx)
		nameOff, ok := b.strtab.Lookup(sym.Name)
		if !ok {
			return errors.Errorf("symbol %q missing from string table", sym.Name)
		}
		ent := Elf64Sym{
			Name:  nameOff,
			Info:  elfSymInfo(sym),
			Value: sym.Value,
			Size:  sym.Size,
		}
		if sym.Section == "" {
			ent.Shndx = SHN_UNDEF
		} else {
			idx, ok := b.sections.Index(sym.Section)
			if !ok {
				return errors.Errorf("symbol %q references unknown section %s", sym.Name, sym.Section)
			}
			ent.Shndx = uint16(idx)
		}
		if err := binary.Write(&buf, le, &ent); err != nil {
			return errors.Wrap(err, "serialize symbol")
		}
	}

	// Step 4: string tables
	padTo(strtabOff)
	buf.Write(b.strtab.Bytes())
	padTo(shstrOff)
	buf.Write(shstrtab.Bytes())

	// Section header table
	padTo(shoff)
	writeShdr := func(shdr *Elf64Shdr) error {
		return binary.Write(&buf, le, shdr)
	}
	if err := writeShdr(&Elf64Shdr{}); err != nil {
		return err
	}
	nameIdx := 1
	for _, sec := range bodySections {
		typ := uint32(SHT_PROGBITS)
		if sec.Flags&SecFlagNoBits != 0 {
			typ = SHT_NOBITS
		}
		if err := writeShdr(&Elf64Shdr{
			Name:      shstrNames[nameIdx],
			Type:      typ,
			Flags:     elfSectionFlags(sec.Flags),
			Offset:    sec.Offset,
			Size:      sec.Size(),
			AddrAlign: sec.Align,
		}); err != nil {
			return err
		}
		nameIdx++
	}
	for i, r := range relas {
		if err := writeShdr(&Elf64Shdr{
			Name:      shstrNames[nameIdx],
			Type:      SHT_RELA,
			Offset:    relaOffsets[i],
			Size:      uint64(len(r.entries) * relaEntSize),
			Link:      uint32(symtabIdx),
			Info:      uint32(r.targetIdx),
			AddrAlign: 8,
			EntSize:   relaEntSize,
		}); err != nil {
			return err
		}
		nameIdx++
	}
	if err := writeShdr(&Elf64Shdr{
		Name:      shstrNames[nameIdx],
		Type:      SHT_SYMTAB,
		Offset:    symtabOff,
		Size:      symtabSize,
		Link:      uint32(strtabIdx),
		Info:      uint32(localCount + 1), // first non-local symbol
		AddrAlign: 8,
		EntSize:   symEntSize,
	}); err != nil {
		return err
	}
	nameIdx++
	if err := writeShdr(&Elf64Shdr{
		Name:      shstrNames[nameIdx],
		Type:      SHT_STRTAB,
		Offset:    strtabOff,
		Size:      uint64(b.strtab.Size()),
		AddrAlign: 1,
	}); err != nil {
		return err
	}
	nameIdx++
	if err := writeShdr(&Elf64Shdr{
		Name:      shstrNames[nameIdx],
		Type:      SHT_STRTAB,
		Offset:    shstrOff,
		Size:      uint64(shstrtab.Size()),
		AddrAlign: 1,
	}); err != nil {
		return err
	}

	return writeFileAtomic(path, buf.Bytes(), 0o644)
}
