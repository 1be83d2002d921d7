package main

import (
	"debug/macho"
	"path/filepath"
	"testing"
)

func TestMachORoundTrip(t *testing.T) {
	b := buildSampleObject(t)
	path := filepath.Join(t.TempDir(), "sample.o")
	w := NewObjectWriter(FormatMachO, b)
	if w.Format() != FormatMachO {
		t.Fatalf("writer format = %v, want macho64", w.Format())
	}
	if err := w.WriteObject(path); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}

	f, err := macho.Open(path)
	if err != nil {
		t.Fatalf("reopen with debug/macho: %v", err)
	}
	defer f.Close()

	if f.Type != macho.TypeObj {
		t.Errorf("file type = %v, want MH_OBJECT", f.Type)
	}
	if f.Cpu != macho.CpuAmd64 {
		t.Errorf("cpu = %v, want amd64", f.Cpu)
	}

	for _, want := range []struct {
		name  string
		size  uint64
		align uint32
	}{
		{"__text", b.Text().Size(), 4}, // log2(16)
		{"__const", b.Rodata().Size(), 3},
		{"__data", 0, 3},
		{"__bss", 0, 3},
	} {
		sec := f.Section(want.name)
		if sec == nil {
			t.Fatalf("section %s missing after round trip", want.name)
		}
		if sec.Size != want.size {
			t.Errorf("%s size = %d, want %d", want.name, sec.Size, want.size)
		}
		if sec.Align != want.align {
			t.Errorf("%s align = 2^%d, want 2^%d", want.name, sec.Align, want.align)
		}
	}

	text := f.Section("__text")
	if len(text.Relocs) != 2 {
		t.Fatalf("__text has %d relocations, want 2", len(text.Relocs))
	}
	for _, r := range text.Relocs {
		if !r.Extern {
			t.Error("relocation should index the symbol table")
		}
	}

	if f.Symtab == nil {
		t.Fatal("no LC_SYMTAB")
	}
	found := make(map[string]macho.Symbol)
	for _, s := range f.Symtab.Syms {
		found[s.Name] = s
	}
	if _, ok := found["main"]; !ok {
		t.Error("main missing from symbol table")
	}
	if s, ok := found["puts"]; !ok {
		t.Error("puts missing from symbol table")
	} else if s.Sect != 0 {
		t.Errorf("puts should be undefined, got section %d", s.Sect)
	}

	data, err := text.Data()
	if err != nil {
		t.Fatalf("read __text: %v", err)
	}
	if len(data) != int(b.Text().Size()) {
		t.Errorf("__text body is %d bytes, want %d", len(data), b.Text().Size())
	}
}

func TestMachORejectsUnmappableRelocation(t *testing.T) {
	b, err := NewObjectBuilder(ArchX8664)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Text().Append([]byte{0xc3}); err != nil {
		t.Fatal(err)
	}
	idx, err := b.DefineFunc("main", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	// valid for ELF, but has no Mach-O object-file encoding
	if err := b.Relocations().AddRelocation(".text", 0, idx, R_X86_64_32S, 0); err != nil {
		t.Fatalf("AddRelocation: %v", err)
	}

	path := filepath.Join(t.TempDir(), "bad.o")
	if err := NewObjectWriter(FormatMachO, b).WriteObject(path); err == nil {
		t.Fatal("expected an error for a relocation without a Mach-O encoding")
	}
}

func TestMachOSectionNameMapping(t *testing.T) {
	cases := map[string]string{
		".text":   "__text",
		".rodata": "__const",
		".data":   "__data",
		".bss":    "__bss",
		".custom": ".custom",
	}
	for in, want := range cases {
		if got := machoSectionName(in); got != want {
			t.Errorf("machoSectionName(%q) = %q, want %q", in, got, want)
		}
	}
}
