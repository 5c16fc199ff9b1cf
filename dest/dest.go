// Package dest models branch destinations that may not be known until a
// resolution pass. A Destination is an immutable value: resolving one returns
// a new Destination and leaves the receiver untouched.
package dest

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Unresolved is the encoded form of a destination whose offset is not yet known.
const Unresolved uint32 = 0xFFFFFFFF

var (
	ErrRange           = errors.New("destination out of 32-bit range")
	ErrUnresolvedLabel = errors.New("unresolved label")
	ErrWrongKind       = errors.New("destination kind does not support this resolution")
)

// Kind identifies how a destination is expressed.
type Kind uint8

const (
	Absolute Kind = iota // fixed offset, always resolved
	Relative             // signed delta from the start of the branch
	Label                // symbolic name looked up in a label table
)

// String returns a human-readable name for the Kind.
func (k Kind) String() string {
	switch k {
	case Absolute:
		return "absolute"
	case Relative:
		return "relative"
	case Label:
		return "label"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Destination is a branch target.
type Destination struct {
	kind     Kind
	delta    int32
	name     string
	offset   uint32
	resolved bool
}

// NewAbsolute returns a resolved destination at offset.
func NewAbsolute(offset uint32) Destination {
	return Destination{kind: Absolute, offset: offset, resolved: true}
}

// NewRelative returns an unresolved destination delta bytes from the branch.
func NewRelative(delta int32) Destination {
	return Destination{kind: Relative, delta: delta}
}

// NewLabel returns an unresolved destination naming a label.
func NewLabel(name string) Destination {
	return Destination{kind: Label, name: name}
}

func (d Destination) Kind() Kind     { return d.kind }
func (d Destination) Delta() int32   { return d.delta }
func (d Destination) Name() string   { return d.name }
func (d Destination) Resolved() bool { return d.resolved }

// Offset returns the resolved offset. The boolean is false while unresolved.
func (d Destination) Offset() (uint32, bool) {
	if !d.resolved {
		return 0, false
	}
	return d.offset, true
}

// ResolveRelative fixes a relative destination against the offset of the
// branch instruction. Offsets wrap at 32 bits.
func (d Destination) ResolveRelative(branchStart uint32) (Destination, error) {
	if d.resolved {
		return d, nil
	}
	if d.kind != Relative {
		return d, fmt.Errorf("%w: %s resolved by branch start", ErrWrongKind, d.kind)
	}
	d.offset = branchStart + uint32(d.delta)
	d.resolved = true
	return d, nil
}

// ResolveLabel fixes a label destination by looking its name up in labels.
// On failure the returned value is the unchanged, still unresolved receiver.
func (d Destination) ResolveLabel(labels map[string]uint32) (Destination, error) {
	if d.resolved {
		return d, nil
	}
	if d.kind != Label {
		return d, fmt.Errorf("%w: %s resolved by label table", ErrWrongKind, d.kind)
	}
	offset, ok := labels[d.name]
	if !ok {
		return d, fmt.Errorf("%w: %q", ErrUnresolvedLabel, d.name)
	}
	d.offset = offset
	d.resolved = true
	return d, nil
}

// Resolve dispatches on kind: relative destinations use branchStart and
// labels use the table.
func (d Destination) Resolve(branchStart uint32, labels map[string]uint32) (Destination, error) {
	switch {
	case d.resolved:
		return d, nil
	case d.kind == Relative:
		return d.ResolveRelative(branchStart)
	default:
		return d.ResolveLabel(labels)
	}
}

// Word returns the encoded 32-bit value of the destination.
func (d Destination) Word() uint32 {
	if !d.resolved {
		return Unresolved
	}
	return d.offset
}

// Bytes returns the 4-byte big-endian encoding of the destination.
func (d Destination) Bytes() []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, 4), d.Word())
}

// String returns the offset in hex once resolved, otherwise the source form.
func (d Destination) String() string {
	if d.resolved {
		return fmt.Sprintf("0x%X", d.offset)
	}
	switch d.kind {
	case Relative:
		if d.delta < 0 {
			return fmt.Sprintf("-0x%X", -int64(d.delta))
		}
		return fmt.Sprintf("+0x%X", d.delta)
	default:
		return d.name
	}
}
