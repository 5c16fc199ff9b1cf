// Package manifest handles seqx.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/seqext/opcode"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "seqx.toml"

// DefaultCatalogPath is relative to the manifest directory.
const DefaultCatalogPath = ".seqx/symbols.db"

var ErrInvalidConfig = errors.New("invalid configuration")

// Manifest represents a seqx.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Log     Log     `toml:"log"`
	Decoder Decoder `toml:"decoder"`
	Layout  Layout  `toml:"layout"`
	Catalog Catalog `toml:"catalog"`

	// Dir is the directory containing the seqx.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name"`
}

// Log configures commonlog. Verbosity is passed to commonlog.Configure;
// negative values silence everything.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Decoder configures the instruction table.
type Decoder struct {
	// Unknown is "fail" or "word".
	Unknown      string        `toml:"unknown"`
	Instructions []Instruction `toml:"instruction"`
}

// Instruction is one [[decoder.instruction]] entry. Entries extend the
// built-in table, replacing built-ins with the same code.
type Instruction struct {
	Code     uint16 `toml:"code"`
	Mnemonic string `toml:"mnemonic"`
	Words    int    `toml:"words"`
	Branch   bool   `toml:"branch"`
}

// Layout configures address assignment.
type Layout struct {
	Base uint32 `toml:"base"`
}

// Catalog configures the SQLite symbol index.
type Catalog struct {
	Path string `toml:"path"`
}

// Default returns the configuration used when no seqx.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Decoder.Unknown == "" {
		m.Decoder.Unknown = "fail"
	}
	if m.Catalog.Path == "" {
		m.Catalog.Path = DefaultCatalogPath
	}
}

// Load parses a seqx.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if _, err := m.InstructionSet(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a seqx.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) fallback() (opcode.Fallback, error) {
	switch m.Decoder.Unknown {
	case "", "fail":
		return opcode.FallbackFail, nil
	case "word":
		return opcode.FallbackWord, nil
	}
	return 0, fmt.Errorf("%w: decoder.unknown = %q, want \"fail\" or \"word\"", ErrInvalidConfig, m.Decoder.Unknown)
}

// InstructionSet builds the decoder table: the built-in instructions
// followed by the configured ones.
func (m *Manifest) InstructionSet() (*opcode.InstructionSet, error) {
	fb, err := m.fallback()
	if err != nil {
		return nil, err
	}
	defs := opcode.DefaultInstructions()
	for _, in := range m.Decoder.Instructions {
		defs = append(defs, opcode.Instruction{
			Code:     in.Code,
			Mnemonic: in.Mnemonic,
			Words:    in.Words,
			Branch:   in.Branch,
		})
	}
	set, err := opcode.NewInstructionSet(defs, fb)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return set, nil
}

// CatalogPath returns the catalog database path. Relative paths are taken
// from the manifest directory.
func (m *Manifest) CatalogPath() string {
	if filepath.IsAbs(m.Catalog.Path) || m.Dir == "" {
		return m.Catalog.Path
	}
	return filepath.Join(m.Dir, m.Catalog.Path)
}

// LogFile returns the configured log file, or nil to log to stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.Log.File
	if !filepath.IsAbs(path) && m.Dir != "" {
		path = filepath.Join(m.Dir, path)
	}
	return &path
}
