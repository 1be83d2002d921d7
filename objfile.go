package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Ceiling on a single section body in a relocatable object. Both emitters
// keep 32-bit file offsets reachable (Mach-O section offsets are uint32).
const maxSectionSize = 1 << 32

// ObjectBuilder is the in-memory model of one relocatable object: sections,
// the symbol table, the string pool and the relocation manager filling up
// during code generation, serialized by a format-specific writer.
type ObjectBuilder struct {
	arch     Arch
	sections *SectionTable
	symtab   *SymbolTable
	strtab   *StringTable
	relocs   *RelocationManager
}

// NewObjectBuilder registers the standard section set in its fixed order
func NewObjectBuilder(arch Arch) (*ObjectBuilder, error) {
	b := &ObjectBuilder{
		arch:     arch,
		sections: NewSectionTable(),
		symtab:   NewSymbolTable(),
		strtab:   NewStringTable(),
	}
	b.relocs = NewRelocationManager(b.symtab)
	type sectionSpec struct {
		name    string
		segment string
		flags   uint32
		align   uint64
	}
	for _, spec := range []sectionSpec{
		{".text", "__TEXT", SecFlagAlloc | SecFlagExec, 16},
		{".rodata", "__TEXT", SecFlagAlloc, 8},
		{".data", "__DATA", SecFlagAlloc | SecFlagWrite, 8},
		{".bss", "__DATA", SecFlagAlloc | SecFlagWrite | SecFlagNoBits, 8},
	} {
		if _, err := b.sections.AddSection(spec.name, spec.segment, spec.flags, spec.align); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *ObjectBuilder) Text() *Section { return b.sections.Get(".text") }
func (b *ObjectBuilder) Rodata() *Section { return b.sections.Get(".rodata") }
func (b *ObjectBuilder) Symbols() *SymbolTable { return b.symtab }
func (b *ObjectBuilder) Relocations() *RelocationManager { return b.relocs }

// DefineFunc records a function symbol at the given .text offset
func (b *ObjectBuilder) DefineFunc(name string, offset, size uint64) (int, error) {
	return b.symtab.Add(&Symbol{
		Name:    name,
		Type:    SymFunc,
		Binding: BindGlobal,
		Section: ".text",
		Value:   offset,
		Size:    size,
	})
}

// InternString places a NUL-terminated literal in .rodata and returns the
// index of a local symbol addressing it. Identical literals share storage.
func (b *ObjectBuilder) InternString(value string) (int, error) {
	name := fmt.Sprintf("str.%d", b.symtab.Len())
	if i, ok := b.symtab.Lookup("lit:" + value); ok {
		return i, nil
	}
	rodata := b.Rodata()
	off := rodata.Size()
	if err := rodata.Append(append([]byte(value), 0)); err != nil {
		return 0, err
	}
	idx, err := b.symtab.Add(&Symbol{
		Name:    name,
		Type:    SymData,
		Binding: BindLocal,
		Section: ".rodata",
		Value:   off,
		Size:    uint64(len(value) + 1),
	})
	if err != nil {
		return 0, err
	}
	// Alias so the same literal text resolves to the same symbol
	b.symtab.byName["lit:"+value] = idx
	return idx, nil
}

// validate runs the pre-write sanity gates shared by both formats
func (b *ObjectBuilder) validate() error {
	if err := b.relocs.ValidateAll(); err != nil {
		return errors.Wrap(err, "relocation table")
	}
	for _, sec := range b.sections.Sections() {
		if sec.Size() >= maxSectionSize {
			return errors.Errorf("section %s is %d bytes, beyond the format limit", sec.Name, sec.Size())
		}
	}
	return nil
}

// ObjectWriter serializes an ObjectBuilder for one target file format
type ObjectWriter interface {
	Format() ObjFormat
	WriteObject(path string) error
}

// NewObjectWriter picks the writer for a format
func NewObjectWriter(format ObjFormat, b *ObjectBuilder) ObjectWriter {
	if format == FormatMachO {
		return &MachOWriter{builder: b}
	}
	return &ELFWriter{builder: b}
}

// writeFileAtomic writes to a temp file in the target directory and renames
// into place, so a failed write never leaves a partial object behind.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "create temp file in %s", dir)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpName)
		if werr != nil {
			return errors.Wrapf(werr, "write %s", tmpName)
		}
		return errors.Wrapf(cerr, "close %s", tmpName)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "chmod %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "rename %s to %s", tmpName, path)
	}
	glog.V(1).Infof("wrote %s (%d bytes)", path, len(data))
	return nil
}
