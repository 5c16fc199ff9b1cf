package symbol

import (
	"bytes"
	"fmt"

	"github.com/chazu/seqext/opcode"
	"golang.org/x/crypto/cryptobyte"
)

// insertAsmFields is the number of payload words after type and length:
// hijack offset, new length, old length, label count and two reserved words.
const insertAsmFields = 6

// InsertAsm is a code hijack: new instructions installed at HijackOffset, and
// the original bytes they displace so the hijack can be reverted.
//
//	[name] [type] [length] [hijackOffset] [newLength] [oldLength]
//	[labelCount] [reserved x2] [new bytes][old bytes] pad16
//	[labelOffset] [label NUL pad16]...
//
// The new and old bytes share a single pad16; they are not padded one by one.
//
// The old bytes are normally kept as decoded opcodes. When the original range
// no longer decodes, the raw bytes are kept instead.
type InsertAsm struct {
	name     string
	hijack   uint32
	newOps   []opcode.Opcode
	oldOps   []opcode.Opcode
	oldBytes []byte
	labels   []Label
	enc      []byte
}

// NewInsertAsm returns a hijack record whose displaced instructions are
// oldOps.
func NewInsertAsm(name string, hijack uint32, newOps, oldOps []opcode.Opcode, labels []Label) (*InsertAsm, error) {
	s := &InsertAsm{
		name:     name,
		hijack:   hijack,
		newOps:   append([]opcode.Opcode(nil), newOps...),
		oldOps:   append([]opcode.Opcode(nil), oldOps...),
		oldBytes: opcode.Concat(oldOps),
		labels:   append([]Label(nil), labels...),
	}
	if err := s.build(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewInsertAsmRaw returns a hijack record whose displaced range is kept as
// raw bytes, for original code that cannot be decoded.
func NewInsertAsmRaw(name string, hijack uint32, newOps []opcode.Opcode, oldBytes []byte, labels []Label) (*InsertAsm, error) {
	s := &InsertAsm{
		name:     name,
		hijack:   hijack,
		newOps:   append([]opcode.Opcode(nil), newOps...),
		oldBytes: bytes.Clone(oldBytes),
		labels:   append([]Label(nil), labels...),
	}
	if err := s.build(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *InsertAsm) build() error {
	if err := checkName(s.name); err != nil {
		return err
	}
	if err := checkLabels(s.labels); err != nil {
		return fmt.Errorf("insert asm %q: %w", s.name, err)
	}
	code := opcode.Concat(s.newOps)
	if len(code)%opcode.WordSize != 0 {
		return fmt.Errorf("insert asm %q: %w: %d new code bytes", s.name, opcode.ErrUndecodableInstruction, len(code))
	}
	fields := []uint32{s.hijack, uint32(len(code)), uint32(len(s.oldBytes)), uint32(len(s.labels)), 0, 0}
	blobs := len(code) + len(s.oldBytes)
	enc, err := encode(s.name, TypeInsertAsm, fields, func(b *cryptobyte.Builder) {
		b.AddBytes(code)
		b.AddBytes(s.oldBytes)
		b.AddBytes(padding(blobs))
		addLabels(b, s.labels)
	}, Align16(blobs)+labelsSize(s.labels))
	if err != nil {
		return err
	}
	s.enc = enc
	return nil
}

func (s *InsertAsm) Name() string { return s.name }
func (s *InsertAsm) Type() Type   { return TypeInsertAsm }

// DataOffset returns the offset of the new instruction bytes within the
// record.
func (s *InsertAsm) DataOffset() uint32 {
	return uint32(nameSize(s.name) + headerSize + 4*insertAsmFields)
}
func (s *InsertAsm) Length() uint32 { return uint32(len(s.enc)) }
func (s *InsertAsm) Bytes() []byte  { return bytes.Clone(s.enc) }

// HijackOffset returns where the new instructions are installed.
func (s *InsertAsm) HijackOffset() uint32 { return s.hijack }

// NewOpcodes returns the installed instructions.
func (s *InsertAsm) NewOpcodes() []opcode.Opcode {
	return append([]opcode.Opcode(nil), s.newOps...)
}

// OldOpcodes returns the displaced instructions, or nil when only raw bytes
// are known.
func (s *InsertAsm) OldOpcodes() []opcode.Opcode {
	if s.oldOps == nil {
		return nil
	}
	return append([]opcode.Opcode(nil), s.oldOps...)
}

// IsRaw reports whether the displaced range is kept as raw bytes.
func (s *InsertAsm) IsRaw() bool {
	return s.oldOps == nil && len(s.oldBytes) > 0
}

// RestoreBytes returns the bytes that revert the hijack when written back at
// HijackOffset.
func (s *InsertAsm) RestoreBytes() []byte {
	return bytes.Clone(s.oldBytes)
}

// HijackRange returns the half-open range of the original code the hijack
// displaces.
func (s *InsertAsm) HijackRange() (start, end uint32) {
	return s.hijack, s.hijack + uint32(len(s.oldBytes))
}

// Labels returns the inner labels in serialized order.
func (s *InsertAsm) Labels() []Label {
	return append([]Label(nil), s.labels...)
}

// InnerLabels returns the inner labels as a name to offset map.
func (s *InsertAsm) InnerLabels() map[string]uint32 {
	return labelMap(s.labels)
}

// ResolveBranches returns a hijack record whose new instructions have their
// destinations resolved against their offsets and the inner labels.
func (s *InsertAsm) ResolveBranches() (*InsertAsm, error) {
	ops, err := resolveAll(s.newOps, labelMap(s.labels))
	if err != nil {
		return nil, fmt.Errorf("insert asm %q: %w", s.name, err)
	}
	if s.oldOps == nil {
		return NewInsertAsmRaw(s.name, s.hijack, ops, s.oldBytes, s.labels)
	}
	return NewInsertAsm(s.name, s.hijack, ops, s.oldOps, s.labels)
}
