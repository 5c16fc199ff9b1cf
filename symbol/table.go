package symbol

import (
	"fmt"
	"strings"

	"github.com/chazu/seqext/opcode"
)

// Table is the ordered list of symbols in a patch extension. Record order is
// significant: address tables are indexed by position.
type Table struct {
	symbols []Symbol
	index   map[string]int
}

// NewTable returns a table holding syms in order.
func NewTable(syms ...Symbol) (*Table, error) {
	t := &Table{index: make(map[string]int, len(syms))}
	for _, s := range syms {
		if err := t.Append(s); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Append adds s at the end of the table. Symbol names are unique.
func (t *Table) Append(s Symbol) error {
	if t.index == nil {
		t.index = make(map[string]int)
	}
	if _, ok := t.index[s.Name()]; ok {
		return fmt.Errorf("%w: symbol %q", ErrDuplicateKey, s.Name())
	}
	t.index[s.Name()] = len(t.symbols)
	t.symbols = append(t.symbols, s)
	return nil
}

// Replace swaps the symbol called name for s, keeping its position.
func (t *Table) Replace(name string, s Symbol) error {
	i, ok := t.index[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if s.Name() != name {
		if _, taken := t.index[s.Name()]; taken {
			return fmt.Errorf("%w: symbol %q", ErrDuplicateKey, s.Name())
		}
		delete(t.index, name)
		t.index[s.Name()] = i
	}
	t.symbols[i] = s
	return nil
}

// Lookup returns the symbol called name and its position.
func (t *Table) Lookup(name string) (Symbol, int, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, -1, false
	}
	return t.symbols[i], i, true
}

// Len returns the number of symbols.
func (t *Table) Len() int { return len(t.symbols) }

// At returns the symbol at position i.
func (t *Table) At(i int) Symbol { return t.symbols[i] }

// Symbols returns the symbols in order.
func (t *Table) Symbols() []Symbol {
	return append([]Symbol(nil), t.symbols...)
}

// Length returns the total serialized size of the table.
func (t *Table) Length() int {
	n := 0
	for _, s := range t.symbols {
		n += int(s.Length())
	}
	return n
}

// Bytes returns the concatenated records.
func (t *Table) Bytes() []byte {
	buf := make([]byte, 0, t.Length())
	for _, s := range t.symbols {
		buf = append(buf, s.Bytes()...)
	}
	return buf
}

// Layout places the table at base and returns the address of every symbol by
// position, along with the name index. Symbols that own content are
// addressed at their content inside the laid-out table; references into the
// original file keep the offset they refer to.
func (t *Table) Layout(base uint32) ([]uint32, *Map, error) {
	addrs := make([]uint32, 0, len(t.symbols))
	m := NewMap()
	pos := uint64(base)
	for _, s := range t.symbols {
		var addr uint64
		switch s.Type() {
		case TypeExistingBinary, TypeExistingFunction:
			addr = uint64(s.DataOffset())
		default:
			addr = pos + uint64(s.DataOffset())
		}
		if addr > 0xFFFFFFFF {
			return nil, nil, fmt.Errorf("%w: %q placed at 0x%X", ErrRange, s.Name(), addr)
		}
		if err := m.Update(s.Name(), uint32(addr)); err != nil {
			return nil, nil, err
		}
		addrs = append(addrs, uint32(addr))
		pos += uint64(s.Length())
	}
	return addrs, m, nil
}

// Listing returns a human-readable dump of every record.
func (t *Table) Listing() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; %d symbols, 0x%X bytes\n", len(t.symbols), t.Length())
	pos := 0
	for i, s := range t.symbols {
		fmt.Fprintf(&sb, "\n[%3d] %08X %-16s %q length=0x%X data=0x%X\n",
			i, pos, s.Type(), s.Name(), s.Length(), s.DataOffset())
		switch s := s.(type) {
		case *Binary:
			fmt.Fprintf(&sb, "      blob %d bytes\n", len(s.blob))
		case *ExistingBinary:
			fmt.Fprintf(&sb, "      ref 0x%X+0x%X\n", s.offset, s.length)
		case *ExistingFunction:
			fmt.Fprintf(&sb, "      ref 0x%X+0x%X\n", s.offset, s.length)
		case *Function:
			writeLabels(&sb, s.labels)
			writeOps(&sb, s.opcodes)
		case *InsertAsm:
			start, end := s.HijackRange()
			fmt.Fprintf(&sb, "      hijack 0x%X..0x%X\n", start, end)
			writeLabels(&sb, s.labels)
			sb.WriteString("      ; new\n")
			writeOps(&sb, s.newOps)
			if s.IsRaw() {
				fmt.Fprintf(&sb, "      ; old (raw) % X\n", s.oldBytes)
			} else if len(s.oldOps) > 0 {
				sb.WriteString("      ; old\n")
				writeOps(&sb, s.oldOps)
			}
		}
		pos += int(s.Length())
	}
	return sb.String()
}

func writeLabels(sb *strings.Builder, labels []Label) {
	for _, l := range labels {
		fmt.Fprintf(sb, "      %s: 0x%X\n", l.Name, l.Offset)
	}
}

func writeOps(sb *strings.Builder, ops []opcode.Opcode) {
	for _, line := range strings.SplitAfter(opcode.Listing(ops), "\n") {
		if line != "" {
			sb.WriteString("      ")
			sb.WriteString(line)
		}
	}
}
