// Package symbol implements the SEQ patch-extension record format.
//
// A patch extension is an ordered table of symbols. Each symbol is one
// variable-length record: a NUL-terminated name padded to 16 bytes, a type
// tag, the record's total length, and a type-specific payload. Every part of
// a record is padded to a 16-byte boundary, so records can be concatenated
// without further alignment.
//
//	[name NUL pad16] [type:32] [length:32] [payload...] [pad16] [labels...]
//
// Symbols are immutable. Each constructor serializes its payload once and
// derives the record length from that buffer, so Length always equals
// len(Bytes()).
package symbol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/chazu/seqext/dest"
	"golang.org/x/crypto/cryptobyte"
)

// Alignment is the boundary every record part is padded to.
const Alignment = 16

// headerSize is the type and length words common to every record.
const headerSize = 8

var (
	ErrTruncated         = errors.New("truncated symbol stream")
	ErrUnknownSymbolType = errors.New("unknown symbol type")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrInvalidName       = errors.New("invalid symbol name")
	ErrNotFound          = errors.New("symbol not found")

	// ErrRange is shared with dest so every 32-bit overflow matches one error.
	ErrRange = dest.ErrRange
)

// Type is the record type tag.
type Type int32

const (
	TypeBinary           Type = 1
	TypeExistingBinary   Type = 2
	TypeExistingFunction Type = 3
	TypeFunction         Type = 4
	TypeInsertAsm        Type = 5
)

// String returns a human-readable name for the Type.
func (t Type) String() string {
	switch t {
	case TypeBinary:
		return "Binary"
	case TypeExistingBinary:
		return "ExistingBinary"
	case TypeExistingFunction:
		return "ExistingFunction"
	case TypeFunction:
		return "Function"
	case TypeInsertAsm:
		return "InsertAsm"
	default:
		return fmt.Sprintf("Type(%d)", int32(t))
	}
}

// Symbol is one record of a symbol table.
type Symbol interface {
	// Name returns the symbol name.
	Name() string
	// Type returns the record type tag.
	Type() Type
	// DataOffset returns where the symbol's content starts. For symbols that
	// own content it is relative to the record start; for references into the
	// original file it is the referenced offset.
	DataOffset() uint32
	// Length returns the serialized record length.
	Length() uint32
	// Bytes returns the serialized record.
	Bytes() []byte
}

// Label is a named offset local to a Function or InsertAsm record.
type Label struct {
	Name   string
	Offset uint32
}

// Align16 rounds n up to the next multiple of 16.
func Align16(n int) int {
	return n + (Alignment-n%Alignment)%Alignment
}

// CheckedAlign16 rounds n up to the next multiple of 16, failing if the result
// does not fit in 32 bits.
func CheckedAlign16(n uint64) (uint32, error) {
	a := n + (Alignment-n%Alignment)%Alignment
	if a > 0xFFFFFFFF {
		return 0, fmt.Errorf("%w: aligned size 0x%X", ErrRange, a)
	}
	return uint32(a), nil
}

// nameSize returns the padded size of a name block. A name that fills a
// whole number of blocks gets an extra block for its terminator.
func nameSize(name string) int {
	return Align16(len(name) + 1)
}

// labelSize returns the padded size of one label entry.
func labelSize(name string) int {
	return Align16(4 + len(name) + 1)
}

func checkName(name string) error {
	if i := bytes.IndexByte([]byte(name), 0); i >= 0 {
		return fmt.Errorf("%w: %q contains NUL at %d", ErrInvalidName, name, i)
	}
	return nil
}

func checkLabels(labels []Label) error {
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if err := checkName(l.Name); err != nil {
			return fmt.Errorf("label: %w", err)
		}
		if _, ok := seen[l.Name]; ok {
			return fmt.Errorf("%w: label %q", ErrDuplicateKey, l.Name)
		}
		seen[l.Name] = struct{}{}
	}
	return nil
}

func padding(n int) []byte {
	return make([]byte, (Alignment-n%Alignment)%Alignment)
}

// addPadded writes b followed by zero padding to the next 16-byte boundary.
func addPadded(b *cryptobyte.Builder, data []byte) {
	b.AddBytes(data)
	b.AddBytes(padding(len(data)))
}

func addName(b *cryptobyte.Builder, name string) {
	b.AddBytes([]byte(name))
	b.AddUint8(0)
	b.AddBytes(padding(len(name) + 1))
}

func addLabels(b *cryptobyte.Builder, labels []Label) {
	for _, l := range labels {
		b.AddUint32(l.Offset)
		b.AddBytes([]byte(l.Name))
		b.AddUint8(0)
		b.AddBytes(padding(4 + len(l.Name) + 1))
	}
}

func labelsSize(labels []Label) int {
	n := 0
	for _, l := range labels {
		n += labelSize(l.Name)
	}
	return n
}

// encode assembles a record. fields are the payload words after the type and
// length, body the already-padded content that follows them. The length word
// is computed from the part sizes before anything is written.
func encode(name string, t Type, fields []uint32, body func(*cryptobyte.Builder), bodySize int) ([]byte, error) {
	preamble := nameSize(name) + headerSize + 4*len(fields)
	total, err := CheckedAlign16(uint64(preamble) + uint64(bodySize))
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", t, name, err)
	}

	b := cryptobyte.NewBuilder(make([]byte, 0, total))
	addName(b, name)
	b.AddUint32(uint32(t))
	b.AddUint32(total)
	for _, f := range fields {
		b.AddUint32(f)
	}
	if body != nil {
		body(b)
	}
	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", t, name, err)
	}
	if len(out) != int(total) {
		return nil, fmt.Errorf("%s %q: wrote %d bytes, declared %d", t, name, len(out), total)
	}
	return out, nil
}

func labelMap(labels []Label) map[string]uint32 {
	m := make(map[string]uint32, len(labels))
	for _, l := range labels {
		m[l.Name] = l.Offset
	}
	return m
}
