package opcode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/chazu/seqext/dest"
)

var (
	ErrUndecodableInstruction = errors.New("undecodable instruction")
	ErrUnknownMnemonic        = errors.New("unknown mnemonic")
	ErrInvalidInstruction     = errors.New("invalid instruction definition")
)

const wordMnemonic = ".word"

// Decoder turns an instruction stream into opcodes. base is the offset of
// code[0] in the owning stream.
type Decoder interface {
	Decode(code []byte, base uint32) ([]Opcode, error)
}

// Fallback selects what the decoder does with an unknown instruction code.
type Fallback uint8

const (
	// FallbackFail rejects unknown codes with ErrUndecodableInstruction.
	FallbackFail Fallback = iota
	// FallbackWord decodes each unknown word as a one-word ".word" opcode.
	FallbackWord
)

// Instruction describes one entry of an instruction set.
type Instruction struct {
	Code     uint16 // high half of the leading word
	Mnemonic string
	Words    int  // total length in words, including the leading word
	Branch   bool // last word is a destination
}

// InstructionSet is an immutable instruction table. It is safe for
// concurrent use.
type InstructionSet struct {
	byCode     map[uint16]Instruction
	byMnemonic map[string]Instruction
	fallback   Fallback
}

// defaultInstructions covers the control-flow and data-movement core that
// patch records touch. Game-specific tables extend it through configuration.
var defaultInstructions = []Instruction{
	{0x0000, "nop", 1, false},
	{0x0101, "push", 2, false},
	{0x0102, "pop", 1, false},
	{0x0103, "mov", 3, false},
	{0x0104, "movi", 2, false},
	{0x0110, "add", 3, false},
	{0x0111, "sub", 3, false},
	{0x0120, "cmp", 3, false},
	{0x0132, "b", 2, true},
	{0x0133, "beqz", 3, true},
	{0x0134, "bnez", 3, true},
	{0x013C, "bl", 2, true},
	{0x0145, "ret", 1, false},
	{0x0146, "end", 1, false},
	{0x0200, "sys", 2, false},
}

// DefaultInstructionSet returns the built-in instruction table with
// FallbackFail.
func DefaultInstructionSet() *InstructionSet {
	s, err := NewInstructionSet(defaultInstructions, FallbackFail)
	if err != nil {
		panic(fmt.Sprintf("opcode: invalid default instruction set: %v", err))
	}
	return s
}

// DefaultInstructions returns a copy of the built-in instruction entries.
func DefaultInstructions() []Instruction {
	return append([]Instruction(nil), defaultInstructions...)
}

// NewInstructionSet builds a table from defs. Later entries replace earlier
// entries with the same code.
func NewInstructionSet(defs []Instruction, fallback Fallback) (*InstructionSet, error) {
	s := &InstructionSet{
		byCode:     make(map[uint16]Instruction, len(defs)),
		byMnemonic: make(map[string]Instruction, len(defs)),
		fallback:   fallback,
	}
	for _, def := range defs {
		switch {
		case def.Mnemonic == "" || def.Mnemonic == wordMnemonic:
			return nil, fmt.Errorf("%w: code 0x%04X has mnemonic %q", ErrInvalidInstruction, def.Code, def.Mnemonic)
		case def.Words < 1:
			return nil, fmt.Errorf("%w: %s spans %d words", ErrInvalidInstruction, def.Mnemonic, def.Words)
		case def.Branch && def.Words < 2:
			return nil, fmt.Errorf("%w: branch %s needs a destination word", ErrInvalidInstruction, def.Mnemonic)
		}
		if old, ok := s.byCode[def.Code]; ok {
			delete(s.byMnemonic, old.Mnemonic)
		}
		s.byCode[def.Code] = def
		s.byMnemonic[def.Mnemonic] = def
	}
	return s, nil
}

// Lookup returns the instruction for a code.
func (s *InstructionSet) Lookup(code uint16) (Instruction, bool) {
	def, ok := s.byCode[code]
	return def, ok
}

// Instructions returns the table sorted by code.
func (s *InstructionSet) Instructions() []Instruction {
	out := make([]Instruction, 0, len(s.byCode))
	for _, def := range s.byCode {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Decode implements Decoder.
func (s *InstructionSet) Decode(code []byte, base uint32) ([]Opcode, error) {
	if len(code)%WordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of words", ErrUndecodableInstruction, len(code))
	}
	var ops []Opcode
	pos := 0
	for pos < len(code) {
		word := binary.BigEndian.Uint32(code[pos:])
		offset := base + uint32(pos)
		def, ok := s.byCode[uint16(word>>16)]
		if !ok {
			if s.fallback != FallbackWord {
				return nil, fmt.Errorf("%w: code 0x%04X at 0x%X", ErrUndecodableInstruction, word>>16, offset)
			}
			ops = append(ops, Opcode{
				Offset:   offset,
				Mnemonic: wordMnemonic,
				Raw:      append([]byte(nil), code[pos:pos+WordSize]...),
			})
			pos += WordSize
			continue
		}
		n := def.Words * WordSize
		if pos+n > len(code) {
			return nil, fmt.Errorf("%w: %s at 0x%X needs %d bytes, %d left", ErrUndecodableInstruction, def.Mnemonic, offset, n, len(code)-pos)
		}
		ops = append(ops, build(def, offset, code[pos:pos+n]))
		pos += n
	}
	return ops, nil
}

func build(def Instruction, offset uint32, raw []byte) Opcode {
	op := Opcode{
		Offset:   offset,
		Mnemonic: def.Mnemonic,
		Arg:      binary.BigEndian.Uint16(raw[2:]),
		Raw:      append([]byte(nil), raw...),
	}
	words := len(raw) / WordSize
	last := words
	if def.Branch {
		last--
		d := dest.NewAbsolute(binary.BigEndian.Uint32(raw[last*WordSize:]))
		op.Dest = &d
	}
	for i := 1; i < last; i++ {
		op.Operands = append(op.Operands, binary.BigEndian.Uint32(raw[i*WordSize:]))
	}
	return op
}

// Encode assembles an opcode. operands must fill the instruction exactly;
// branches take their final word from d.
func (s *InstructionSet) Encode(offset uint32, mnemonic string, arg uint16, operands []uint32, d *dest.Destination) (Opcode, error) {
	def, ok := s.byMnemonic[mnemonic]
	if !ok {
		return Opcode{}, fmt.Errorf("%w: %q", ErrUnknownMnemonic, mnemonic)
	}
	want := def.Words - 1
	if def.Branch {
		want--
		if d == nil {
			return Opcode{}, fmt.Errorf("%w: %s requires a destination", ErrInvalidInstruction, mnemonic)
		}
	} else if d != nil {
		return Opcode{}, fmt.Errorf("%w: %s does not branch", ErrInvalidInstruction, mnemonic)
	}
	if len(operands) != want {
		return Opcode{}, fmt.Errorf("%w: %s takes %d operands, got %d", ErrInvalidInstruction, mnemonic, want, len(operands))
	}

	raw := make([]byte, 0, def.Words*WordSize)
	raw = binary.BigEndian.AppendUint32(raw, uint32(def.Code)<<16|uint32(arg))
	for _, v := range operands {
		raw = binary.BigEndian.AppendUint32(raw, v)
	}
	op := Opcode{
		Offset:   offset,
		Mnemonic: def.Mnemonic,
		Arg:      arg,
		Operands: append([]uint32(nil), operands...),
	}
	if d != nil {
		dc := *d
		op.Dest = &dc
		raw = append(raw, dc.Bytes()...)
	}
	op.Raw = raw
	return op, nil
}
