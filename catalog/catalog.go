// Package catalog keeps a SQLite index of laid-out symbols so offsets can be
// looked up without re-parsing the patch file.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/seqext/symbol"
	"github.com/tliron/commonlog"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested symbol is not in the catalog.
var ErrNotFound = errors.New("symbol not found in catalog")

var log = commonlog.GetLogger("seqext.catalog")

const schema = `CREATE TABLE IF NOT EXISTS symbols (
	idx    INTEGER NOT NULL,
	name   TEXT    NOT NULL UNIQUE,
	type   INTEGER NOT NULL,
	addr   INTEGER NOT NULL UNIQUE,
	length INTEGER NOT NULL
)`

// Entry is one catalog row.
type Entry struct {
	Index  int
	Name   string
	Type   symbol.Type
	Offset uint32
	Length uint32
}

// Catalog is a symbol index backed by a SQLite database.
type Catalog struct {
	db   *sql.DB
	path string
}

// Open opens or creates the catalog at path. Missing parent directories are
// created. ":memory:" opens a private in-memory database.
func Open(path string) (*Catalog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating catalog dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// an in-memory database lives as long as its one connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Catalog{db: db, path: path}, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Store lays table out at base and replaces the catalog contents with the
// result. Either every row is written or none is.
func (c *Catalog) Store(ctx context.Context, table *symbol.Table, base uint32) error {
	addrs, _, err := table.Layout(base)
	if err != nil {
		return fmt.Errorf("laying out table: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM symbols"); err != nil {
		return fmt.Errorf("clearing symbols: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO symbols (idx, name, type, addr, length) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, s := range table.Symbols() {
		if _, err := stmt.ExecContext(ctx, i, s.Name(), int32(s.Type()), int64(addrs[i]), int64(s.Length())); err != nil {
			return fmt.Errorf("storing %q: %w", s.Name(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing symbols: %w", err)
	}
	log.Debugf("stored %d symbols in %s", table.Len(), c.path)
	return nil
}

func scanEntry(row interface{ Scan(...any) error }) (Entry, error) {
	var e Entry
	var typ int32
	var offset, length int64
	if err := row.Scan(&e.Index, &e.Name, &typ, &offset, &length); err != nil {
		return e, err
	}
	e.Type = symbol.Type(typ)
	e.Offset = uint32(offset)
	e.Length = uint32(length)
	return e, nil
}

func (c *Catalog) queryOne(ctx context.Context, where string, arg any) (Entry, error) {
	row := c.db.QueryRowContext(ctx,
		"SELECT idx, name, type, addr, length FROM symbols WHERE "+where, arg)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, fmt.Errorf("querying symbol: %w", err)
	}
	return e, nil
}

// Lookup returns the entry for name.
func (c *Catalog) Lookup(ctx context.Context, name string) (Entry, error) {
	return c.queryOne(ctx, "name = ?", name)
}

// NameAt returns the name of the symbol registered at offset.
func (c *Catalog) NameAt(ctx context.Context, offset uint32) (string, error) {
	e, err := c.queryOne(ctx, "addr = ?", int64(offset))
	if err != nil {
		return "", err
	}
	return e.Name, nil
}

// Entries returns every row in table order.
func (c *Catalog) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT idx, name, type, addr, length FROM symbols ORDER BY idx")
	if err != nil {
		return nil, fmt.Errorf("querying symbols: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning symbol: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Map rebuilds the symbol map from the catalog.
func (c *Catalog) Map(ctx context.Context) (*symbol.Map, error) {
	entries, err := c.Entries(ctx)
	if err != nil {
		return nil, err
	}
	m := symbol.NewMap()
	for _, e := range entries {
		if err := m.Update(e.Name, e.Offset); err != nil {
			return nil, err
		}
	}
	return m, nil
}
