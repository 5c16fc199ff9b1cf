package symbol

import (
	"bytes"
	"fmt"

	"github.com/chazu/seqext/opcode"
	"golang.org/x/crypto/cryptobyte"
)

// Function is a new function added by the patch: an instruction sequence and
// the labels that branches inside it may target.
//
//	[name] [type] [length] [opcodeLength] [labelCount] [opcodes pad16]
//	[labelOffset] [label NUL pad16]...
type Function struct {
	name    string
	opcodes []opcode.Opcode
	labels  []Label
	enc     []byte
}

// NewFunction returns a Function symbol. Labels keep their order in the
// serialized form and must have unique names.
func NewFunction(name string, ops []opcode.Opcode, labels []Label) (*Function, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := checkLabels(labels); err != nil {
		return nil, fmt.Errorf("function %q: %w", name, err)
	}
	s := &Function{
		name:    name,
		opcodes: append([]opcode.Opcode(nil), ops...),
		labels:  append([]Label(nil), labels...),
	}
	code := opcode.Concat(s.opcodes)
	if len(code)%opcode.WordSize != 0 {
		return nil, fmt.Errorf("function %q: %w: %d code bytes", name, opcode.ErrUndecodableInstruction, len(code))
	}
	enc, err := encode(name, TypeFunction, []uint32{uint32(len(code)), uint32(len(s.labels))}, func(b *cryptobyte.Builder) {
		addPadded(b, code)
		addLabels(b, s.labels)
	}, Align16(len(code))+labelsSize(s.labels))
	if err != nil {
		return nil, err
	}
	s.enc = enc
	return s, nil
}

func (s *Function) Name() string       { return s.name }
func (s *Function) Type() Type         { return TypeFunction }
func (s *Function) DataOffset() uint32 { return uint32(nameSize(s.name) + 16) }
func (s *Function) Length() uint32     { return uint32(len(s.enc)) }
func (s *Function) Bytes() []byte      { return bytes.Clone(s.enc) }

// Opcodes returns the function's instructions.
func (s *Function) Opcodes() []opcode.Opcode {
	return append([]opcode.Opcode(nil), s.opcodes...)
}

// Labels returns the inner labels in serialized order.
func (s *Function) Labels() []Label {
	return append([]Label(nil), s.labels...)
}

// InnerLabels returns the inner labels as a name to offset map.
func (s *Function) InnerLabels() map[string]uint32 {
	return labelMap(s.labels)
}

// ResolveBranches returns a Function whose branch destinations are resolved:
// relative ones against each opcode's offset and labels against the
// function's inner labels.
func (s *Function) ResolveBranches() (*Function, error) {
	ops, err := resolveAll(s.opcodes, labelMap(s.labels))
	if err != nil {
		return nil, fmt.Errorf("function %q: %w", s.name, err)
	}
	return NewFunction(s.name, ops, s.labels)
}

func resolveAll(ops []opcode.Opcode, labels map[string]uint32) ([]opcode.Opcode, error) {
	out := make([]opcode.Opcode, len(ops))
	for i, op := range ops {
		r, err := op.Resolve(labels)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}
