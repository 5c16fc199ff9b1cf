package symbol

import "fmt"

// Map is a bidirectional index between symbol names and their final
// addresses. Each name and each offset may be registered once.
type Map struct {
	byName   map[string]uint32
	byOffset map[uint32]string
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{
		byName:   make(map[string]uint32),
		byOffset: make(map[uint32]string),
	}
}

// Update registers name at offset. It fails with ErrDuplicateKey if either
// the name or the offset is already registered.
func (m *Map) Update(name string, offset uint32) error {
	if old, ok := m.byName[name]; ok {
		return fmt.Errorf("%w: name %q already at 0x%X", ErrDuplicateKey, name, old)
	}
	if old, ok := m.byOffset[offset]; ok {
		return fmt.Errorf("%w: offset 0x%X already registered to %q", ErrDuplicateKey, offset, old)
	}
	m.byName[name] = offset
	m.byOffset[offset] = name
	return nil
}

// Offset returns the offset registered for name.
func (m *Map) Offset(name string) (uint32, bool) {
	off, ok := m.byName[name]
	return off, ok
}

// Name returns the name registered at offset.
func (m *Map) Name(offset uint32) (string, bool) {
	name, ok := m.byOffset[offset]
	return name, ok
}

// Len returns the number of registrations.
func (m *Map) Len() int {
	return len(m.byName)
}

// Names returns a copy of the name to offset index, suitable as a label
// table for branch resolution.
func (m *Map) Names() map[string]uint32 {
	out := make(map[string]uint32, len(m.byName))
	for k, v := range m.byName {
		out[k] = v
	}
	return out
}

// Equal reports whether both maps hold the same registrations.
func (m *Map) Equal(other *Map) bool {
	if m == nil || other == nil {
		return m == other
	}
	if len(m.byName) != len(other.byName) {
		return false
	}
	for name, off := range m.byName {
		if o, ok := other.byName[name]; !ok || o != off {
			return false
		}
	}
	return true
}
