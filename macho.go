package main

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Mach-O constants
const (
	MH_MAGIC_64 = 0xfeedfacf
	MH_OBJECT   = 0x1

	CPU_TYPE_X86_64        = 0x01000007
	CPU_TYPE_ARM64         = 0x0100000c
	CPU_SUBTYPE_X86_64_ALL = 0x00000003
	CPU_SUBTYPE_ARM64_ALL  = 0x00000000

	LC_SEGMENT_64 = 0x19
	LC_SYMTAB     = 0x2

	// Section types and attributes
	S_REGULAR                = 0x0
	S_ZEROFILL               = 0x1
	S_ATTR_PURE_INSTRUCTIONS = 0x80000000
	S_ATTR_SOME_INSTRUCTIONS = 0x00000400

	VM_PROT_READ    = 0x01
	VM_PROT_WRITE   = 0x02
	VM_PROT_EXECUTE = 0x04

	// nlist type bits
	N_UNDF = 0x0
	N_SECT = 0xe
	N_EXT  = 0x1

	// x86_64 relocation kinds
	X86_64_RELOC_UNSIGNED = 0
	X86_64_RELOC_SIGNED   = 1
	X86_64_RELOC_BRANCH   = 2
	X86_64_RELOC_GOT      = 4

	machHeaderSize  = 32
	segmentCmdSize  = 72
	machSectionSize = 80
	symtabCmdSize   = 24
	nlistSize       = 16
	machRelocSize   = 8
)

type MachOHeader64 struct {
	Magic      uint32
	CPUType    uint32
	CPUSubtype uint32
	FileType   uint32
	NCmds      uint32
	SizeOfCmds uint32
	Flags      uint32
	Reserved   uint32
}

type SegmentCommand64 struct {
	Cmd      uint32
	CmdSize  uint32
	SegName  [16]byte
	VMAddr   uint64
	VMSize   uint64
	FileOff  uint64
	FileSize uint64
	MaxProt  uint32
	InitProt uint32
	NSects   uint32
	Flags    uint32
}

type MachSection64 struct {
	SectName  [16]byte
	SegName   [16]byte
	Addr      uint64
	Size      uint64
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     uint32
	Reserved1 uint32
	Reserved2 uint32
	Reserved3 uint32
}

type SymtabCommand struct {
	Cmd     uint32
	CmdSize uint32
	Symoff  uint32
	Nsyms   uint32
	Stroff  uint32
	Strsize uint32
}

type Nlist64 struct {
	Strx  uint32
	Type  uint8
	Sect  uint8
	Desc  uint16
	Value uint64
}

// MachOWriter serializes an ObjectBuilder as a Mach-O 64-bit object file
type MachOWriter struct {
	builder *ObjectBuilder
}

func (w *MachOWriter) Format() ObjFormat { return FormatMachO }

// machoSectionName maps the neutral section model to Mach-O naming
func machoSectionName(name string) string {
	switch name {
	case ".text":
		return "__text"
	case ".rodata":
		return "__const"
	case ".data":
		return "__data"
	case ".bss":
		return "__bss"
	default:
		return name
	}
}

func str16(s string) [16]byte {
	var out [16]byte
	copy(out[:], s)
	return out
}

func log2(a uint64) uint32 {
	var n uint32
	for a > 1 {
		a >>= 1
		n++
	}
	return n
}

// machoRelocBits maps an architecture relocation type to the Mach-O
// (r_type, r_pcrel, r_length) encoding. Types with no Mach-O object-file
// representation are reported, never silently dropped.
func machoRelocBits(t RelocType) (rtype, pcrel, length uint32, err error) {
	switch t {
	case R_X86_64_64:
		return X86_64_RELOC_UNSIGNED, 0, 3, nil
	case R_X86_64_PC32:
		return X86_64_RELOC_SIGNED, 1, 2, nil
	case R_X86_64_PLT32:
		return X86_64_RELOC_BRANCH, 1, 2, nil
	case R_X86_64_GOTPCREL:
		return X86_64_RELOC_GOT, 1, 2, nil
	default:
		return 0, 0, 0, errors.Errorf("relocation type %s has no Mach-O object encoding", t)
	}
}

func machoCPU(arch Arch) (uint32, uint32) {
	if arch == ArchARM64 {
		return CPU_TYPE_ARM64, CPU_SUBTYPE_ARM64_ALL
	}
	return CPU_TYPE_X86_64, CPU_SUBTYPE_X86_64_ALL
}

func machoSectionFlags(flags uint32) uint32 {
	if flags&SecFlagNoBits != 0 {
		return S_ZEROFILL
	}
	if flags&SecFlagExec != 0 {
		return S_REGULAR | S_ATTR_PURE_INSTRUCTIONS | S_ATTR_SOME_INSTRUCTIONS
	}
	return S_REGULAR
}

// WriteObject lays out once, then serializes the header, the single
// LC_SEGMENT_64 covering every section, the section bodies, the per-section
// relocation tables, the symbol table and the string table, atomically.
func (w *MachOWriter) WriteObject(path string) error {
	b := w.builder
	if err := b.validate(); err != nil {
		return err
	}
	for _, sym := range b.symtab.Symbols() {
		if _, err := b.strtab.Add(sym.Name); err != nil {
			return err
		}
	}

	bodySections := b.sections.Sections()
	nsects := len(bodySections)
	sizeofCmds := segmentCmdSize + nsects*machSectionSize + symtabCmdSize
	headerEnd := uint64(machHeaderSize + sizeofCmds)

	// Step 1: layout, once
	b.sections.InvalidateLayout()
	if err := b.sections.ComputeLayout(headerEnd); err != nil {
		return err
	}
	b.strtab.Freeze()
	if err := b.sections.checkLayout(); err != nil {
		return err
	}

	relocTables := b.relocs.GenerateAllTables()
	cursor := align(b.sections.end(headerEnd), 8)
	relocOffsets := make(map[string]uint64, len(relocTables))
	for _, sec := range bodySections {
		entries := relocTables[sec.Name]
		if len(entries) == 0 {
			continue
		}
		relocOffsets[sec.Name] = cursor
		cursor += uint64(len(entries) * machRelocSize)
	}
	symtabOff := cursor
	cursor += uint64((b.symtab.Len()) * nlistSize)
	strtabOff := cursor

	if strtabOff+uint64(b.strtab.Size()) >= maxSectionSize {
		return errors.New("object exceeds the Mach-O 32-bit offset range")
	}

	var buf bytes.Buffer
	le := binary.LittleEndian

	cpu, subtype := machoCPU(b.arch)
	header := MachOHeader64{
		Magic:      MH_MAGIC_64,
		CPUType:    cpu,
		CPUSubtype: subtype,
		FileType:   MH_OBJECT,
		NCmds:      2,
		SizeOfCmds: uint32(sizeofCmds),
	}
	if err := binary.Write(&buf, le, &header); err != nil {
		return errors.Wrap(err, "serialize Mach-O header")
	}

	// Segment command: one unnamed segment spanning every section, the
	// convention for MH_OBJECT files.
	var vmSize, fileSize uint64
	var fileOff uint64 = headerEnd
	for _, sec := range bodySections {
		vmSize += align(sec.Size(), sec.Align)
		if sec.Flags&SecFlagNoBits == 0 {
			fileSize = sec.Offset + sec.Size() - headerEnd
		}
	}
	seg := SegmentCommand64{
		Cmd:      LC_SEGMENT_64,
		CmdSize:  uint32(segmentCmdSize + nsects*machSectionSize),
		VMSize:   vmSize,
		FileOff:  fileOff,
		FileSize: fileSize,
		MaxProt:  VM_PROT_READ | VM_PROT_WRITE | VM_PROT_EXECUTE,
		InitProt: VM_PROT_READ | VM_PROT_WRITE | VM_PROT_EXECUTE,
		NSects:   uint32(nsects),
	}
	if err := binary.Write(&buf, le, &seg); err != nil {
		return errors.Wrap(err, "serialize segment command")
	}

	for _, sec := range bodySections {
		entries := relocTables[sec.Name]
		msec := MachSection64{
			SectName: str16(machoSectionName(sec.Name)),
			SegName:  str16(sec.Segment),
			Addr:     sec.Addr,
			Size:     sec.Size(),
			Align:    log2(sec.Align),
			Nreloc:   uint32(len(entries)),
			Flags:    machoSectionFlags(sec.Flags),
		}
		if sec.Flags&SecFlagNoBits == 0 {
			msec.Offset = uint32(sec.Offset)
		}
		if len(entries) > 0 {
			msec.Reloff = uint32(relocOffsets[sec.Name])
		}
		if err := binary.Write(&buf, le, &msec); err != nil {
			return errors.Wrap(err, "serialize section header")
		}
	}

	symtabCmd := SymtabCommand{
		Cmd:     LC_SYMTAB,
		CmdSize: symtabCmdSize,
		Symoff:  uint32(symtabOff),
		Nsyms:   uint32(b.symtab.Len()),
		Stroff:  uint32(strtabOff),
		Strsize: uint32(b.strtab.Size()),
	}
	if err := binary.Write(&buf, le, &symtabCmd); err != nil {
		return errors.Wrap(err, "serialize symtab command")
	}

	padTo := func(off uint64) {
		for uint64(buf.Len()) < off {
			buf.WriteByte(0)
		}
	}

	// Section bodies at their laid-out offsets
	for _, sec := range bodySections {
		if sec.Flags&SecFlagNoBits != 0 {
			continue
		}
		padTo(sec.Offset)
		buf.Write(sec.Data.Bytes())
	}

	// Relocation entries, one table per relocated section
	for _, sec := range bodySections {
		entries := relocTables[sec.Name]
		if len(entries) == 0 {
			continue
		}
		padTo(relocOffsets[sec.Name])
		for _, entry := range entries {
			rtype, pcrel, length, err := machoRelocBits(entry.Type)
			if err != nil {
				return errors.Wrapf(err, "relocation at %s+0x%x", entry.Section, entry.Offset)
			}
			if err := binary.Write(&buf, le, int32(entry.Offset)); err != nil {
				return err
			}
			packed := uint32(entry.Symbol)&0xffffff |
				pcrel<<24 |
				length<<25 |
				1<<27 | // r_extern: symbolnum indexes the symbol table
				rtype<<28
			if err := binary.Write(&buf, le, packed); err != nil {
				return err
			}
		}
	}

	// Symbol table (nlist64 entries in builder order)
	padTo(symtabOff)
	for _, sym := range b.symtab.Symbols() {
		strx, ok := b.strtab.Lookup(sym.Name)
		if !ok {
			return errors.Errorf("symbol %q missing from string table", sym.Name)
		}
		ent := Nlist64{Strx: strx}
		if sym.Section == "" {
			ent.Type = N_UNDF | N_EXT
		} else {
			idx, ok := b.sections.Index(sym.Section)
			if !ok {
				return errors.Errorf("symbol %q references unknown section %s", sym.Name, sym.Section)
			}
			ent.Type = N_SECT
			if sym.Binding != BindLocal {
				ent.Type |= N_EXT
			}
			ent.Sect = uint8(idx)
			ent.Value = b.sections.Get(sym.Section).Addr + sym.Value
		}
		if err := binary.Write(&buf, le, &ent); err != nil {
			return errors.Wrap(err, "serialize nlist entry")
		}
	}

	// String table last
	padTo(strtabOff)
	buf.Write(b.strtab.Bytes())

	return writeFileAtomic(path, buf.Bytes(), 0o644)
}
