package symbol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/chazu/seqext/opcode"
	"github.com/tliron/commonlog"
	"golang.org/x/crypto/cryptobyte"
)

var log = commonlog.GetLogger("seqext.symbol")

// insertAsmReserved is the number of reserved bytes in an InsertAsm header.
const insertAsmReserved = 8

// Parser decodes a symbol table from an in-memory buffer. A Parser is used
// for one buffer at a time.
type Parser struct {
	decoder opcode.Decoder
	log     commonlog.Logger

	data []byte
	s    cryptobyte.String

	// current record, for error context
	index int
	name  string
}

// NewParser returns a parser that decodes instruction streams with dec.
func NewParser(dec opcode.Decoder) *Parser {
	return &Parser{decoder: dec, log: log}
}

// SetLogger replaces the logger used for recoverable decode problems.
func (p *Parser) SetLogger(l commonlog.Logger) {
	p.log = l
}

// Parse decodes an ordered table of count symbols from data using dec.
func Parse(data []byte, count int, dec opcode.Decoder) (*Table, error) {
	return NewParser(dec).Parse(data, count)
}

// Parse decodes count records from the start of data. Trailing bytes after
// the last record are left unread; Offset reports how far parsing got.
func (p *Parser) Parse(data []byte, count int) (*Table, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: negative record count %d", ErrTruncated, count)
	}
	p.data = data
	p.s = cryptobyte.String(data)
	t := &Table{index: make(map[string]int, count)}
	for i := 0; i < count; i++ {
		p.index, p.name = i, ""
		sym, err := p.readRecord()
		if err != nil {
			return nil, err
		}
		if err := t.Append(sym); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return t, nil
}

// Offset returns the number of bytes consumed so far.
func (p *Parser) Offset() int {
	return len(p.data) - len(p.s)
}

func (p *Parser) readRecord() (Symbol, error) {
	start := p.Offset()

	name, err := p.readCString("name")
	if err != nil {
		return nil, err
	}
	p.name = name
	if err := p.align(start, "name padding"); err != nil {
		return nil, err
	}

	typ, err := p.readUint32("type")
	if err != nil {
		return nil, err
	}
	declared, err := p.readUint32("length")
	if err != nil {
		return nil, err
	}

	var sym Symbol
	switch Type(typ) {
	case TypeBinary:
		sym, err = p.readBinary(name)
	case TypeExistingBinary, TypeExistingFunction:
		sym, err = p.readReference(Type(typ), name)
	case TypeFunction:
		sym, err = p.readFunction(start, name)
	case TypeInsertAsm:
		sym, err = p.readInsertAsm(start, name)
	default:
		return nil, fmt.Errorf("%w: %d in record %d (%q) at 0x%X", ErrUnknownSymbolType, int32(typ), p.index, name, start)
	}
	if err != nil {
		return nil, err
	}
	if err := p.align(start, "record padding"); err != nil {
		return nil, err
	}

	if consumed := p.Offset() - start; uint32(consumed) != declared {
		p.log.Warningf("record %d (%q): declared length 0x%X, parsed 0x%X", p.index, name, declared, consumed)
	}
	return sym, nil
}

func (p *Parser) readBinary(name string) (Symbol, error) {
	n, err := p.readUint32("blob length")
	if err != nil {
		return nil, err
	}
	if err := p.skip(4, "reserved"); err != nil {
		return nil, err
	}
	blob, err := p.readBytes(n, "blob")
	if err != nil {
		return nil, err
	}
	return NewBinary(name, blob)
}

func (p *Parser) readReference(t Type, name string) (Symbol, error) {
	offset, err := p.readUint32("reference offset")
	if err != nil {
		return nil, err
	}
	length, err := p.readUint32("reference length")
	if err != nil {
		return nil, err
	}
	if t == TypeExistingFunction {
		return NewExistingFunction(name, offset, length)
	}
	return NewExistingBinary(name, offset, length)
}

func (p *Parser) readFunction(start int, name string) (Symbol, error) {
	codeLen, err := p.readUint32("opcode length")
	if err != nil {
		return nil, err
	}
	labelCount, err := p.readUint32("label count")
	if err != nil {
		return nil, err
	}
	code, err := p.readBytes(codeLen, "opcodes")
	if err != nil {
		return nil, err
	}
	if err := p.align(start, "opcode padding"); err != nil {
		return nil, err
	}
	ops, err := p.decoder.Decode(code, 0)
	if err != nil {
		return nil, p.wrap(err, "opcodes")
	}
	labels, err := p.readLabels(labelCount)
	if err != nil {
		return nil, err
	}
	return NewFunction(name, ops, labels)
}

func (p *Parser) readInsertAsm(start int, name string) (Symbol, error) {
	var fields [4]uint32
	for i, field := range []string{"hijack offset", "new length", "old length", "label count"} {
		v, err := p.readUint32(field)
		if err != nil {
			return nil, err
		}
		fields[i] = v
	}
	hijack, newLen, oldLen, labelCount := fields[0], fields[1], fields[2], fields[3]
	if err := p.skip(insertAsmReserved, "reserved"); err != nil {
		return nil, err
	}
	newCode, err := p.readBytes(newLen, "new opcodes")
	if err != nil {
		return nil, err
	}
	oldCode, err := p.readBytes(oldLen, "old bytes")
	if err != nil {
		return nil, err
	}
	if err := p.align(start, "opcode padding"); err != nil {
		return nil, err
	}

	newOps, err := p.decoder.Decode(newCode, hijack)
	if err != nil {
		return nil, p.wrap(err, "new opcodes")
	}
	labels, err := p.readLabels(labelCount)
	if err != nil {
		return nil, err
	}

	oldOps, err := p.decoder.Decode(oldCode, hijack)
	if err != nil {
		if !errors.Is(err, opcode.ErrUndecodableInstruction) {
			return nil, p.wrap(err, "old bytes")
		}
		p.log.Warningf("record %d (%q): keeping %d old bytes raw: %v", p.index, name, len(oldCode), err)
		return NewInsertAsmRaw(name, hijack, newOps, oldCode, labels)
	}
	return NewInsertAsm(name, hijack, newOps, oldOps, labels)
}

func (p *Parser) readLabels(count uint32) ([]Label, error) {
	var labels []Label
	for i := uint32(0); i < count; i++ {
		start := p.Offset()
		offset, err := p.readUint32("label offset")
		if err != nil {
			return nil, err
		}
		name, err := p.readCString("label name")
		if err != nil {
			return nil, err
		}
		if err := p.align(start, "label padding"); err != nil {
			return nil, err
		}
		labels = append(labels, Label{Name: name, Offset: offset})
	}
	return labels, nil
}

// ---------------------------------------------------------------------------
// Reading primitives
// ---------------------------------------------------------------------------

func (p *Parser) wrap(err error, field string) error {
	return fmt.Errorf("record %d (%q) %s: %w", p.index, p.name, field, err)
}

func (p *Parser) truncated(field string, need int) error {
	return fmt.Errorf("%w: record %d (%q) %s at 0x%X: need %d bytes, %d left",
		ErrTruncated, p.index, p.name, field, p.Offset(), need, len(p.s))
}

func (p *Parser) readUint32(field string) (uint32, error) {
	var v uint32
	if !p.s.ReadUint32(&v) {
		return 0, p.truncated(field, 4)
	}
	return v, nil
}

func (p *Parser) readBytes(n uint32, field string) ([]byte, error) {
	if uint64(n) > uint64(len(p.s)) {
		return nil, p.truncated(field, int(n))
	}
	var out []byte
	if !p.s.ReadBytes(&out, int(n)) {
		return nil, p.truncated(field, int(n))
	}
	return bytes.Clone(out), nil
}

func (p *Parser) skip(n int, field string) error {
	if !p.s.Skip(n) {
		return p.truncated(field, n)
	}
	return nil
}

// readCString reads bytes up to and including a NUL terminator.
func (p *Parser) readCString(field string) (string, error) {
	i := bytes.IndexByte(p.s, 0)
	if i < 0 {
		return "", p.truncated(field+" terminator", len(p.s)+1)
	}
	var raw []byte
	p.s.ReadBytes(&raw, i)
	p.s.Skip(1)
	return string(raw), nil
}

// align skips padding so the position is a multiple of 16 from start.
func (p *Parser) align(start int, field string) error {
	n := (Alignment - (p.Offset()-start)%Alignment) % Alignment
	return p.skip(n, field)
}
