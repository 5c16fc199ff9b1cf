package opcode

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/seqext/dest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func words(ws ...uint32) []byte {
	var buf []byte
	for _, w := range ws {
		buf = append(buf, byte(w>>24), byte(w>>16), byte(w>>8), byte(w))
	}
	return buf
}

func TestDecodeReEmitsBytes(t *testing.T) {
	code := words(
		0x00000000,             // nop
		0x01040003, 0x00000010, // movi 3, 0x10
		0x01320000, 0x00000020, // b 0x20
		0x01460000, // end
	)
	ops, err := DefaultInstructionSet().Decode(code, 0x100)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(ops) != 4 {
		t.Fatalf("got %d opcodes, want 4", len(ops))
	}

	wantOffsets := []uint32{0x100, 0x104, 0x10C, 0x114}
	for i, op := range ops {
		if op.Offset != wantOffsets[i] {
			t.Errorf("op %d offset = 0x%X, want 0x%X", i, op.Offset, wantOffsets[i])
		}
		if op.Len()%WordSize != 0 {
			t.Errorf("op %d length %d is not word aligned", i, op.Len())
		}
	}
	if got := Concat(ops); !bytes.Equal(got, code) {
		t.Errorf("Concat = % X, want % X", got, code)
	}
	if ByteLen(ops) != len(code) {
		t.Errorf("ByteLen = %d, want %d", ByteLen(ops), len(code))
	}

	b := ops[2]
	if !b.IsBranch() || b.Mnemonic != "b" {
		t.Fatalf("op 2 = %s, want branch b", b)
	}
	if off, _ := b.Dest.Offset(); off != 0x20 {
		t.Errorf("branch target = 0x%X, want 0x20", off)
	}
	if ops[1].Arg != 3 || len(ops[1].Operands) != 1 || ops[1].Operands[0] != 0x10 {
		t.Errorf("movi decoded as %+v", ops[1])
	}
}

func TestDecodeUnknownCode(t *testing.T) {
	_, err := DefaultInstructionSet().Decode(words(0xDEAD0000), 0)
	if !errors.Is(err, ErrUndecodableInstruction) {
		t.Fatalf("err = %v, want ErrUndecodableInstruction", err)
	}
}

func TestDecodePartialWord(t *testing.T) {
	_, err := DefaultInstructionSet().Decode([]byte{0, 0, 0, 0, 1, 2}, 0)
	if !errors.Is(err, ErrUndecodableInstruction) {
		t.Fatalf("err = %v, want ErrUndecodableInstruction", err)
	}
}

func TestDecodeInstructionPastEnd(t *testing.T) {
	_, err := DefaultInstructionSet().Decode(words(0x01320000), 0)
	if !errors.Is(err, ErrUndecodableInstruction) {
		t.Fatalf("err = %v, want ErrUndecodableInstruction", err)
	}
}

func TestDecodeWordFallback(t *testing.T) {
	set, err := NewInstructionSet(DefaultInstructions(), FallbackWord)
	if err != nil {
		t.Fatal(err)
	}
	code := words(0xDEADBEEF, 0x01450000)
	ops, err := set.Decode(code, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(ops) != 2 || ops[0].Mnemonic != ".word" || ops[1].Mnemonic != "ret" {
		t.Fatalf("got %v", ops)
	}
	if got := ops[0].String(); got != ".word 0xDEADBEEF" {
		t.Errorf("String() = %q", got)
	}
	if !bytes.Equal(Concat(ops), code) {
		t.Error("fallback words do not re-emit")
	}
}

func TestNewInstructionSetRejectsBadDefinitions(t *testing.T) {
	bad := [][]Instruction{
		{{Code: 1, Mnemonic: "", Words: 1}},
		{{Code: 1, Mnemonic: "x", Words: 0}},
		{{Code: 1, Mnemonic: "jmp", Words: 1, Branch: true}},
		{{Code: 1, Mnemonic: ".word", Words: 1}},
	}
	for i, defs := range bad {
		if _, err := NewInstructionSet(defs, FallbackFail); !errors.Is(err, ErrInvalidInstruction) {
			t.Errorf("case %d: err = %v, want ErrInvalidInstruction", i, err)
		}
	}
}

func TestNewInstructionSetOverride(t *testing.T) {
	defs := append(DefaultInstructions(), Instruction{Code: 0x0145, Mnemonic: "return", Words: 1})
	set, err := NewInstructionSet(defs, FallbackFail)
	if err != nil {
		t.Fatal(err)
	}
	def, ok := set.Lookup(0x0145)
	if !ok || def.Mnemonic != "return" {
		t.Errorf("Lookup(0x0145) = %+v, want return", def)
	}
	if _, err := set.Encode(0, "ret", 0, nil, nil); !errors.Is(err, ErrUnknownMnemonic) {
		t.Errorf("replaced mnemonic still encodes: %v", err)
	}
}

func TestEncodeMatchesDecode(t *testing.T) {
	set := DefaultInstructionSet()
	d := dest.NewAbsolute(0x40)
	op, err := set.Encode(0x10, "beqz", 2, []uint32{7}, &d)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := words(0x01330002, 0x00000007, 0x00000040)
	if !bytes.Equal(op.Bytes(), want) {
		t.Fatalf("Bytes() = % X, want % X", op.Bytes(), want)
	}

	ops, err := set.Decode(op.Bytes(), 0x10)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	opts := cmp.Options{cmp.AllowUnexported(dest.Destination{}), cmpopts.EquateEmpty()}
	if diff := cmp.Diff(op, ops[0], opts); diff != "" {
		t.Errorf("decoded opcode differs (-encoded +decoded):\n%s", diff)
	}
}

func TestEncodeValidation(t *testing.T) {
	set := DefaultInstructionSet()
	d := dest.NewAbsolute(0)
	if _, err := set.Encode(0, "b", 0, nil, nil); !errors.Is(err, ErrInvalidInstruction) {
		t.Errorf("branch without destination: %v", err)
	}
	if _, err := set.Encode(0, "nop", 0, nil, &d); !errors.Is(err, ErrInvalidInstruction) {
		t.Errorf("destination on nop: %v", err)
	}
	if _, err := set.Encode(0, "mov", 0, []uint32{1}, nil); !errors.Is(err, ErrInvalidInstruction) {
		t.Errorf("short operands: %v", err)
	}
	if _, err := set.Encode(0, "frobnicate", 0, nil, nil); !errors.Is(err, ErrUnknownMnemonic) {
		t.Errorf("unknown mnemonic: %v", err)
	}
}

func TestResolveRelativeUsesOpcodeOffset(t *testing.T) {
	set := DefaultInstructionSet()
	d := dest.MustParse("+0x10")
	op, err := set.Encode(0x100, "b", 0, nil, &d)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(op.Bytes()[4:], []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("unresolved branch word = % X", op.Bytes()[4:])
	}
	r, err := op.Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !bytes.Equal(r.Bytes(), words(0x01320000, 0x110)) {
		t.Errorf("resolved Bytes() = % X", r.Bytes())
	}
	if op.Dest.Resolved() {
		t.Error("Resolve mutated the original opcode")
	}
}

func TestResolveLabelFailure(t *testing.T) {
	set := DefaultInstructionSet()
	d := dest.NewLabel("loop")
	op, err := set.Encode(0, "bl", 0, nil, &d)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := op.Resolve(map[string]uint32{}); !errors.Is(err, dest.ErrUnresolvedLabel) {
		t.Errorf("err = %v, want ErrUnresolvedLabel", err)
	}
}

func TestListing(t *testing.T) {
	ops, err := DefaultInstructionSet().Decode(words(0x01320000, 0x00000020, 0x01450000), 0)
	if err != nil {
		t.Fatal(err)
	}
	out := Listing(ops)
	if !strings.Contains(out, "b 0x20") || !strings.Contains(out, "00000008") {
		t.Errorf("Listing missing expected text:\n%s", out)
	}
}

func TestInstructionsSorted(t *testing.T) {
	defs := DefaultInstructionSet().Instructions()
	for i := 1; i < len(defs); i++ {
		if defs[i-1].Code >= defs[i].Code {
			t.Fatalf("Instructions not sorted at %d", i)
		}
	}
}
