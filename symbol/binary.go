package symbol

import (
	"bytes"

	"golang.org/x/crypto/cryptobyte"
)

// Binary is an opaque blob of new data owned by the patch.
//
//	[name] [type] [length] [blobLength] [reserved] [blob pad16]
type Binary struct {
	name string
	blob []byte
	enc  []byte
}

// NewBinary returns a Binary symbol holding a copy of blob.
func NewBinary(name string, blob []byte) (*Binary, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	s := &Binary{name: name, blob: bytes.Clone(blob)}
	enc, err := encode(name, TypeBinary, []uint32{uint32(len(blob)), 0}, func(b *cryptobyte.Builder) {
		addPadded(b, s.blob)
	}, Align16(len(blob)))
	if err != nil {
		return nil, err
	}
	s.enc = enc
	return s, nil
}

func (s *Binary) Name() string       { return s.name }
func (s *Binary) Type() Type         { return TypeBinary }
func (s *Binary) DataOffset() uint32 { return uint32(nameSize(s.name) + 16) }
func (s *Binary) Length() uint32     { return uint32(len(s.enc)) }
func (s *Binary) Bytes() []byte      { return bytes.Clone(s.enc) }

// Blob returns a copy of the symbol's data.
func (s *Binary) Blob() []byte { return bytes.Clone(s.blob) }

// reference is the shared shape of symbols that point into the original,
// unmodified file. They own no bytes, only coordinates.
type reference struct {
	name   string
	typ    Type
	offset uint32
	length uint32
	enc    []byte
}

func newReference(t Type, name string, offset, length uint32) (reference, error) {
	if err := checkName(name); err != nil {
		return reference{}, err
	}
	enc, err := encode(name, t, []uint32{offset, length}, nil, 0)
	if err != nil {
		return reference{}, err
	}
	return reference{name: name, typ: t, offset: offset, length: length, enc: enc}, nil
}

func (r *reference) Name() string { return r.name }
func (r *reference) Type() Type   { return r.typ }

// DataOffset returns the referenced offset in the original file.
func (r *reference) DataOffset() uint32 { return r.offset }
func (r *reference) Length() uint32     { return uint32(len(r.enc)) }
func (r *reference) Bytes() []byte      { return bytes.Clone(r.enc) }

// RefOffset returns the referenced offset in the original file.
func (r *reference) RefOffset() uint32 { return r.offset }

// RefLength returns the length of the referenced range.
func (r *reference) RefLength() uint32 { return r.length }

// ExistingBinary refers to a data range of the original file.
//
//	[name] [type] [length] [refOffset] [refLength]
type ExistingBinary struct {
	reference
}

// NewExistingBinary returns a reference to length bytes at offset.
func NewExistingBinary(name string, offset, length uint32) (*ExistingBinary, error) {
	r, err := newReference(TypeExistingBinary, name, offset, length)
	if err != nil {
		return nil, err
	}
	return &ExistingBinary{r}, nil
}

// ExistingFunction refers to a function of the original file. It has the
// same layout as ExistingBinary.
type ExistingFunction struct {
	reference
}

// NewExistingFunction returns a reference to a function of length bytes at
// offset.
func NewExistingFunction(name string, offset, length uint32) (*ExistingFunction, error) {
	r, err := newReference(TypeExistingFunction, name, offset, length)
	if err != nil {
		return nil, err
	}
	return &ExistingFunction{r}, nil
}
