package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lowerSource(t *testing.T, src, fnName string) (*InstrBuffer, int, *ObjectBuilder) {
	t.Helper()
	tokens, err := NewLexer(src).Tokenize()
	require.NoError(t, err)
	prog, err := NewParser(tokens, "test.rk").Parse()
	require.NoError(t, err)

	registry := NewSymbolRegistry()
	diags := NewAnalyzer(registry, "test.rk").Analyze(prog)
	require.Empty(t, diags)

	builder, err := NewObjectBuilder(ArchX8664)
	require.NoError(t, err)
	for _, fn := range prog.Functions {
		if fn.Name == fnName {
			buf, nslots, err := lowerFunc(fn, builder, registry)
			require.NoError(t, err)
			return buf, nslots, builder
		}
	}
	t.Fatalf("function %s not found", fnName)
	return nil, 0, nil
}

func countOps(instrs []Instr, op Op) int {
	n := 0
	for _, i := range instrs {
		if i.Op == op {
			n++
		}
	}
	return n
}

func TestLowerParamsSpillToSlots(t *testing.T) {
	buf, nslots, _ := lowerSource(t, `
fn add(a, b) {
	return a + b;
}
`, "add")
	instrs := buf.Instrs()
	assert.Equal(t, 2, countOps(instrs, OpParam))
	assert.Equal(t, 2, nslots, "each parameter owns one frame slot")
	assert.Equal(t, 1, countOps(instrs, OpRet))
	// parameter spills come before any use
	assert.Equal(t, OpParam, instrs[0].Op)
	assert.Equal(t, OpParam, instrs[1].Op)
}

func TestLowerLetAllocatesOneSlotPerVariable(t *testing.T) {
	_, nslots, _ := lowerSource(t, `
fn f() {
	let x = 1;
	let y = 2;
	x = x + y;
	return x;
}
`, "f")
	assert.Equal(t, 2, nslots)
}

func TestLowerIfElseEmitsLabelsAndBranches(t *testing.T) {
	buf, _, _ := lowerSource(t, `
fn f(a) {
	if a > 0 {
		return 1;
	} else {
		return 2;
	}
}
`, "f")
	instrs := buf.Instrs()
	assert.Equal(t, 1, countOps(instrs, OpJumpIfZero))
	assert.Equal(t, 2, countOps(instrs, OpLabel))
	assert.Equal(t, 2, countOps(instrs, OpRet))
	assert.GreaterOrEqual(t, countOps(instrs, OpJmp), 1)
}

func TestLowerWhileLoopShape(t *testing.T) {
	buf, _, _ := lowerSource(t, `
fn f(n) {
	let i = 0;
	while i < n {
		i = i + 1;
	}
	return i;
}
`, "f")
	instrs := buf.Instrs()
	// head and exit labels, a conditional exit and a back edge
	assert.Equal(t, 2, countOps(instrs, OpLabel))
	assert.Equal(t, 1, countOps(instrs, OpJumpIfZero))
	assert.Equal(t, 1, countOps(instrs, OpJmp))
}

func TestLowerCallAndStringLiteral(t *testing.T) {
	buf, _, builder := lowerSource(t, `
extern fn puts(s);

fn main() {
	puts("hello");
	return 0;
}
`, "main")
	instrs := buf.Instrs()
	assert.Equal(t, 1, countOps(instrs, OpLea), "string literal addressed rip-relative")
	assert.Equal(t, 1, countOps(instrs, OpCall))

	// the literal landed in .rodata with a NUL terminator
	assert.Equal(t, uint64(len("hello")+1), builder.Rodata().Size())

	var call Instr
	for _, i := range instrs {
		if i.Op == OpCall {
			call = i
		}
	}
	assert.Equal(t, "puts", call.Sym)
	assert.Len(t, call.Args, 1)
}

func TestLowerStringLiteralDeduped(t *testing.T) {
	_, _, builder := lowerSource(t, `
extern fn puts(s);

fn main() {
	puts("hi");
	puts("hi");
	return 0;
}
`, "main")
	assert.Equal(t, uint64(3), builder.Rodata().Size(), "identical literals share storage")
}

func TestLowerTooManyParams(t *testing.T) {
	tokens, err := NewLexer(`
fn f(a, b, c, d, e, g, h) {
	return 0;
}
`).Tokenize()
	require.NoError(t, err)
	prog, err := NewParser(tokens, "test.rk").Parse()
	require.NoError(t, err)

	builder, err := NewObjectBuilder(ArchX8664)
	require.NoError(t, err)
	_, _, err = lowerFunc(prog.Functions[0], builder, NewSymbolRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parameters")
}

func TestEncodeLoweredFunction(t *testing.T) {
	buf, nslots, _ := lowerSource(t, `
fn f(a, b) {
	let c = a * b;
	if c > 100 {
		return c - 100;
	}
	return c;
}
`, "f")
	alloc := AllocateRegisters(buf.Instrs(), nslots)
	asm, err := EncodeFunc(buf.Instrs(), alloc)
	require.NoError(t, err)
	code := asm.Code()
	require.NotEmpty(t, code)
	assert.Equal(t, byte(0x55), code[0], "prologue starts with push rbp")
	assert.Equal(t, byte(0xc3), code[len(code)-1], "epilogue ends with ret")
	assert.Empty(t, asm.Relocs(), "no calls, no relocations")
}
