// Package opcode describes decoded SEQ instructions.
//
// An Opcode is an opaque, re-emittable unit: it knows where it sits in its
// instruction stream and the exact bytes it was decoded from. Callers that
// only need layout math use Len and Bytes; editors that need to read or
// retarget branches use Mnemonic, Operands and Dest.
//
// Instructions are built from 4-byte big-endian words. The first word
// carries a 16-bit instruction code in its high half and a 16-bit argument
// in its low half:
//
//	[code:16 | arg:16] [operand:32]... [destination:32]?
//
// The number of words and whether the last one is a branch destination come
// from an InstructionSet, not from the bytes themselves.
package opcode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/chazu/seqext/dest"
)

// WordSize is the size of one instruction word in bytes.
const WordSize = 4

// Opcode is one decoded instruction.
type Opcode struct {
	Offset   uint32            // position in the owning instruction stream
	Mnemonic string            // name from the instruction set, ".word" if unknown
	Arg      uint16            // low half of the leading word
	Raw      []byte            // exact encoding as decoded or assembled
	Operands []uint32          // words between the leading word and the destination
	Dest     *dest.Destination // branch target, nil for non-branches
}

// Code returns the instruction code from the leading word.
func (op Opcode) Code() uint16 {
	if len(op.Raw) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(op.Raw)
}

// Len returns the encoded length in bytes.
func (op Opcode) Len() int {
	return len(op.Raw)
}

// Bytes returns the encoding of the opcode. When the opcode has a branch
// destination the final word reflects the destination's current value.
func (op Opcode) Bytes() []byte {
	out := bytes.Clone(op.Raw)
	if op.Dest != nil && len(out) >= WordSize {
		binary.BigEndian.PutUint32(out[len(out)-WordSize:], op.Dest.Word())
	}
	return out
}

// IsBranch reports whether the opcode carries a destination.
func (op Opcode) IsBranch() bool {
	return op.Dest != nil
}

// Resolve returns a copy of the opcode with its destination resolved.
// Relative destinations are taken from the opcode's own offset. Opcodes
// without a destination are returned as they are.
func (op Opcode) Resolve(labels map[string]uint32) (Opcode, error) {
	if op.Dest == nil || op.Dest.Resolved() {
		return op, nil
	}
	d, err := op.Dest.Resolve(op.Offset, labels)
	if err != nil {
		return op, fmt.Errorf("%s at 0x%X: %w", op.Mnemonic, op.Offset, err)
	}
	op.Dest = &d
	op.Raw = op.Bytes()
	return op, nil
}

// String renders the opcode as "mnemonic operands, destination".
func (op Opcode) String() string {
	var sb strings.Builder
	sb.WriteString(op.Mnemonic)
	var parts []string
	if op.Arg != 0 || op.Mnemonic == wordMnemonic {
		parts = append(parts, fmt.Sprintf("0x%X", op.argText()))
	}
	for _, v := range op.Operands {
		parts = append(parts, fmt.Sprintf("0x%08X", v))
	}
	if op.Dest != nil {
		parts = append(parts, op.Dest.String())
	}
	if len(parts) > 0 {
		sb.WriteByte(' ')
		sb.WriteString(strings.Join(parts, ", "))
	}
	return sb.String()
}

func (op Opcode) argText() uint32 {
	if op.Mnemonic == wordMnemonic && len(op.Raw) >= WordSize {
		return binary.BigEndian.Uint32(op.Raw)
	}
	return uint32(op.Arg)
}

// Concat returns the concatenated encodings of ops.
func Concat(ops []Opcode) []byte {
	n := 0
	for _, op := range ops {
		n += op.Len()
	}
	buf := make([]byte, 0, n)
	for _, op := range ops {
		buf = append(buf, op.Bytes()...)
	}
	return buf
}

// ByteLen returns the total encoded length of ops.
func ByteLen(ops []Opcode) int {
	n := 0
	for _, op := range ops {
		n += op.Len()
	}
	return n
}

// Listing returns a human-readable listing of ops, one instruction per line.
func Listing(ops []Opcode) string {
	var sb strings.Builder
	for _, op := range ops {
		fmt.Fprintf(&sb, "%08X  % X  %s\n", op.Offset, op.Bytes()[:min(op.Len(), 8)], op)
	}
	return sb.String()
}
