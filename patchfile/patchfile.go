// Package patchfile reads and writes the sidecar file that carries a SEQ
// patch extension: a fixed header followed by the symbol record region.
package patchfile

import (
	"errors"
	"fmt"
	"io"

	"github.com/chazu/seqext/opcode"
	"github.com/chazu/seqext/symbol"
	"github.com/tliron/commonlog"
	"golang.org/x/crypto/cryptobyte"
)

// Magic identifies a patch extension file.
var Magic = [4]byte{'S', 'E', 'Q', 'X'}

// Version is the current container version.
const Version uint32 = 1

// HeaderSize is magic(4) + version(4) + count(4) + regionLength(4).
const HeaderSize = 16

var (
	ErrInvalidMagic    = errors.New("invalid magic number: expected SEQX")
	ErrVersionMismatch = errors.New("patch file version mismatch")
	ErrCorruptHeader   = errors.New("corrupt patch file header")
	ErrTrailingData    = errors.New("record region has trailing data")
)

var log = commonlog.GetLogger("seqext.patchfile")

// Header is the parsed file header.
type Header struct {
	Magic        [4]byte
	Version      uint32
	Count        uint32
	RegionLength uint32
}

// File is a patch extension: its header and symbol table.
type File struct {
	Header Header
	Table  *symbol.Table
}

// New returns a File wrapping table.
func New(table *symbol.Table) *File {
	return &File{Header: Header{Magic: Magic, Version: Version}, Table: table}
}

// Read reads a whole patch file from r.
func Read(r io.Reader, dec opcode.Decoder) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read patch data: %w", err)
	}
	return ReadBytes(data, dec)
}

// ReadHeader parses the fixed header at the start of data.
func ReadHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: %d bytes", ErrCorruptHeader, len(data))
	}
	s := cryptobyte.String(data[:HeaderSize])
	var magic []byte
	if !s.ReadBytes(&magic, 4) ||
		!s.ReadUint32(&h.Version) ||
		!s.ReadUint32(&h.Count) ||
		!s.ReadUint32(&h.RegionLength) {
		return h, ErrCorruptHeader
	}
	copy(h.Magic[:], magic)
	if h.Magic != Magic {
		return h, fmt.Errorf("%w: got %q", ErrInvalidMagic, magic)
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: expected %d, got %d", ErrVersionMismatch, Version, h.Version)
	}
	return h, nil
}

// ReadBytes parses a patch file held in memory.
func ReadBytes(data []byte, dec opcode.Decoder) (*File, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	region := data[HeaderSize:]
	if uint64(h.RegionLength) > uint64(len(region)) {
		return nil, fmt.Errorf("%w: region declares 0x%X bytes, file has 0x%X", symbol.ErrTruncated, h.RegionLength, len(region))
	}
	region = region[:h.RegionLength]

	p := symbol.NewParser(dec)
	table, err := p.Parse(region, int(h.Count))
	if err != nil {
		return nil, err
	}
	if p.Offset() != len(region) {
		return nil, fmt.Errorf("%w: 0x%X of 0x%X bytes used", ErrTrailingData, p.Offset(), len(region))
	}
	log.Debugf("read %d symbols, 0x%X bytes", table.Len(), len(region))
	return &File{Header: h, Table: table}, nil
}

// Bytes returns the serialized file. The header count and region length are
// taken from the table.
func (f *File) Bytes() ([]byte, error) {
	region := f.Table.Bytes()
	if uint64(len(region)) > 0xFFFFFFFF {
		return nil, fmt.Errorf("%w: region of 0x%X bytes", symbol.ErrRange, len(region))
	}
	b := cryptobyte.NewBuilder(make([]byte, 0, HeaderSize+len(region)))
	b.AddBytes(Magic[:])
	b.AddUint32(Version)
	b.AddUint32(uint32(f.Table.Len()))
	b.AddUint32(uint32(len(region)))
	b.AddBytes(region)
	return b.Bytes()
}

// WriteTo writes the serialized file to w.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	data, err := f.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}
