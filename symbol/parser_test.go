package symbol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/seqext/dest"
	"github.com/chazu/seqext/opcode"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var symbolCmpOpts = cmp.Options{
	cmp.AllowUnexported(Binary{}, reference{}, ExistingBinary{}, ExistingFunction{}, Function{}, InsertAsm{}, dest.Destination{}),
	cmpopts.EquateEmpty(),
}

func sampleSymbols(t *testing.T) []Symbol {
	t.Helper()
	bin, err := NewBinary("Test 1", bytes.Repeat([]byte{0x5A}, 17))
	if err != nil {
		t.Fatal(err)
	}
	eb, err := NewExistingBinary("stage_table", 0x4000, 0x200)
	if err != nil {
		t.Fatal(err)
	}
	ef, err := NewExistingFunction(strings.Repeat("x", 16), 0x8000, 0x40)
	if err != nil {
		t.Fatal(err)
	}
	fn, err := NewFunction("combo_hook", []opcode.Opcode{
		op(t, 0, "push", 3),
		branch(t, 8, "beqz", "0x20", 1),
		op(t, 20, "nop"),
		branch(t, 24, "bl", "0x1000"),
		op(t, 32, "ret"),
	}, []Label{{"entry", 0}, {"tail_of_a_rather_long_label", 0x20}})
	if err != nil {
		t.Fatal(err)
	}
	ia, err := NewInsertAsm("hijack_01", 0x1F00,
		[]opcode.Opcode{branch(t, 0x1F00, "b", "0x3000")},
		[]opcode.Opcode{op(t, 0x1F00, "movi", 2), op(t, 0x1F08, "add", 1, 2)},
		[]Label{{"back", 0x1F14}})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := NewInsertAsmRaw("hijack_raw", 0x2000,
		[]opcode.Opcode{op(t, 0x2000, "nop")}, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE, 0xBA, 0xBE}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return []Symbol{bin, eb, ef, fn, ia, raw}
}

func TestRoundTripEachVariant(t *testing.T) {
	for _, s := range sampleSymbols(t) {
		parsed, err := Parse(s.Bytes(), 1, testSet)
		if err != nil {
			t.Errorf("%s %q: Parse: %v", s.Type(), s.Name(), err)
			continue
		}
		got := parsed.At(0)
		if !bytes.Equal(got.Bytes(), s.Bytes()) {
			t.Errorf("%s %q: bytes differ after round trip", s.Type(), s.Name())
		}
		if got.Length() != s.Length() {
			t.Errorf("%s %q: Length() = 0x%X, want 0x%X", s.Type(), s.Name(), got.Length(), s.Length())
		}
		if got.DataOffset() != s.DataOffset() {
			t.Errorf("%s %q: DataOffset() = 0x%X, want 0x%X", s.Type(), s.Name(), got.DataOffset(), s.DataOffset())
		}
	}
}

func TestRoundTripTable(t *testing.T) {
	syms := sampleSymbols(t)
	table, err := NewTable(syms...)
	if err != nil {
		t.Fatal(err)
	}
	data := table.Bytes()

	p := NewParser(testSet)
	parsed, err := p.Parse(data, len(syms))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Offset() != len(data) {
		t.Errorf("Offset() = %d, want %d", p.Offset(), len(data))
	}
	if !bytes.Equal(parsed.Bytes(), data) {
		t.Error("table bytes differ after round trip")
	}
	if diff := cmp.Diff(syms, parsed.Symbols(), symbolCmpOpts); diff != "" {
		t.Errorf("parsed symbols differ (-want +got):\n%s", diff)
	}
}

func TestParseStopsAtCount(t *testing.T) {
	syms := sampleSymbols(t)
	table, err := NewTable(syms...)
	if err != nil {
		t.Fatal(err)
	}
	p := NewParser(testSet)
	parsed, err := p.Parse(table.Bytes(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Len() != 2 {
		t.Errorf("Len() = %d, want 2", parsed.Len())
	}
	if want := int(syms[0].Length() + syms[1].Length()); p.Offset() != want {
		t.Errorf("Offset() = %d, want %d", p.Offset(), want)
	}
}

func TestParseTruncated(t *testing.T) {
	for _, s := range sampleSymbols(t) {
		data := s.Bytes()
		for _, cut := range []int{1, 8, 16, len(data) - 17, len(data) - 1} {
			if cut <= 0 || cut >= len(data) {
				continue
			}
			_, err := Parse(data[:cut], 1, testSet)
			if !errors.Is(err, ErrTruncated) {
				t.Errorf("%s %q cut at %d: err = %v, want ErrTruncated", s.Type(), s.Name(), cut, err)
			}
		}
	}
}

func TestParseTruncatedCount(t *testing.T) {
	s := sampleSymbols(t)[0]
	if _, err := Parse(s.Bytes(), 2, testSet); !errors.Is(err, ErrTruncated) {
		t.Errorf("err = %v, want ErrTruncated", err)
	}
}

func TestParseUnknownType(t *testing.T) {
	data := sampleSymbols(t)[1].Bytes()
	binary.BigEndian.PutUint32(data[16:], 9)
	_, err := Parse(data, 1, testSet)
	if !errors.Is(err, ErrUnknownSymbolType) {
		t.Fatalf("err = %v, want ErrUnknownSymbolType", err)
	}
}

func TestParseFunctionUndecodable(t *testing.T) {
	f, err := NewFunction("f", []opcode.Opcode{op(t, 0, "nop")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	data := f.Bytes()
	copy(data[32:], []byte{0xDE, 0xAD, 0, 0})
	if _, err := Parse(data, 1, testSet); !errors.Is(err, opcode.ErrUndecodableInstruction) {
		t.Errorf("err = %v, want ErrUndecodableInstruction", err)
	}
}

func TestParseInsertAsmNewUndecodable(t *testing.T) {
	s, err := NewInsertAsm("h", 0, []opcode.Opcode{op(t, 0, "nop")}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	data := s.Bytes()
	copy(data[48:], []byte{0xDE, 0xAD, 0, 0})
	if _, err := Parse(data, 1, testSet); !errors.Is(err, opcode.ErrUndecodableInstruction) {
		t.Errorf("err = %v, want ErrUndecodableInstruction", err)
	}
}

func TestParseInsertAsmOldFallsBackToRaw(t *testing.T) {
	ia := sampleSymbols(t)[4].(*InsertAsm)
	data := ia.Bytes()
	// corrupt the first old word: new bytes are 8 long and start at 0x30
	copy(data[0x38:], []byte{0xDE, 0xAD, 0xBE, 0xEF})

	table, err := Parse(data, 1, testSet)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := table.At(0).(*InsertAsm)
	if !got.IsRaw() {
		t.Fatal("IsRaw() = false, want raw fallback")
	}
	if !bytes.Equal(got.Bytes(), data) {
		t.Error("raw fallback does not re-serialize byte for byte")
	}
	if got.HijackOffset() != 0x1F00 || len(got.NewOpcodes()) != 1 {
		t.Errorf("hijack = 0x%X, %d new opcodes", got.HijackOffset(), len(got.NewOpcodes()))
	}
	if got.InnerLabels()["back"] != 0x1F14 {
		t.Errorf("labels = %v", got.InnerLabels())
	}
}

func TestParseLengthMismatchIsNotFatal(t *testing.T) {
	data := sampleSymbols(t)[0].Bytes()
	binary.BigEndian.PutUint32(data[20:], 0x1000)
	table, err := Parse(data, 1, testSet)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if table.At(0).Length() != uint32(len(data)) {
		t.Errorf("Length() = 0x%X, want 0x%X", table.At(0).Length(), len(data))
	}
}

func TestParseDuplicateNames(t *testing.T) {
	s := sampleSymbols(t)[0]
	data := append(s.Bytes(), s.Bytes()...)
	if _, err := Parse(data, 2, testSet); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("err = %v, want ErrDuplicateKey", err)
	}
}

func TestParseNegativeCount(t *testing.T) {
	if _, err := Parse(nil, -1, testSet); err == nil {
		t.Error("negative count accepted")
	}
}

func TestParseEmpty(t *testing.T) {
	table, err := Parse(nil, 0, testSet)
	if err != nil {
		t.Fatal(err)
	}
	if table.Len() != 0 || len(table.Bytes()) != 0 {
		t.Errorf("empty table has %d symbols", table.Len())
	}
}
