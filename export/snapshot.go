// Package export converts symbol tables to a self-describing CBOR snapshot
// for tooling that does not speak the record format.
package export

import (
	"errors"
	"fmt"

	"github.com/chazu/seqext/opcode"
	"github.com/chazu/seqext/symbol"
)

// Version is the snapshot schema version.
const Version = 1

var (
	ErrVersionMismatch = errors.New("snapshot version mismatch")
	ErrRecordMismatch  = errors.New("snapshot record does not match its raw bytes")
)

// Snapshot is a decoded view of a table. Raw keeps every record's exact
// bytes so the table can be rebuilt.
type Snapshot struct {
	Version   int      `cbor:"1,keyasint"`
	Base      uint32   `cbor:"2,keyasint"`
	Records   []Record `cbor:"3,keyasint"`
	Addresses []uint32 `cbor:"4,keyasint"`
}

// Record describes one symbol.
type Record struct {
	Index      int         `cbor:"1,keyasint"`
	Name       string      `cbor:"2,keyasint"`
	Type       symbol.Type `cbor:"3,keyasint"`
	Length     uint32      `cbor:"4,keyasint"`
	DataOffset uint32      `cbor:"5,keyasint"`
	Labels     []Label     `cbor:"6,keyasint,omitempty"`
	Raw        []byte      `cbor:"7,keyasint"`
}

// Label is a function-local label.
type Label struct {
	Name   string `cbor:"1,keyasint"`
	Offset uint32 `cbor:"2,keyasint"`
}

type labeled interface {
	Labels() []symbol.Label
}

// FromTable lays table out at base and captures the result.
func FromTable(table *symbol.Table, base uint32) (*Snapshot, error) {
	addrs, _, err := table.Layout(base)
	if err != nil {
		return nil, fmt.Errorf("export: layout: %w", err)
	}
	snap := &Snapshot{
		Version:   Version,
		Base:      base,
		Records:   make([]Record, table.Len()),
		Addresses: addrs,
	}
	for i, s := range table.Symbols() {
		r := Record{
			Index:      i,
			Name:       s.Name(),
			Type:       s.Type(),
			Length:     s.Length(),
			DataOffset: s.DataOffset(),
			Raw:        s.Bytes(),
		}
		if l, ok := s.(labeled); ok {
			for _, lb := range l.Labels() {
				r.Labels = append(r.Labels, Label{Name: lb.Name, Offset: lb.Offset})
			}
		}
		snap.Records[i] = r
	}
	return snap, nil
}

// Table rebuilds the symbol table by parsing each record's raw bytes.
func (s *Snapshot) Table(dec opcode.Decoder) (*symbol.Table, error) {
	table, err := symbol.NewTable()
	if err != nil {
		return nil, err
	}
	for i, r := range s.Records {
		if r.Index != i {
			return nil, fmt.Errorf("%w: record %d has index %d", ErrRecordMismatch, i, r.Index)
		}
		parsed, err := symbol.Parse(r.Raw, 1, dec)
		if err != nil {
			return nil, fmt.Errorf("export: record %d (%q): %w", i, r.Name, err)
		}
		sym := parsed.At(0)
		if sym.Name() != r.Name || sym.Type() != r.Type || sym.Length() != r.Length {
			return nil, fmt.Errorf("%w: record %d is %s %q, raw bytes hold %s %q",
				ErrRecordMismatch, i, r.Type, r.Name, sym.Type(), sym.Name())
		}
		if err := table.Append(sym); err != nil {
			return nil, err
		}
	}
	return table, nil
}
