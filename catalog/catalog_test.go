package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/seqext/symbol"
	"github.com/google/go-cmp/cmp"
)

func newTestTable(t *testing.T) *symbol.Table {
	t.Helper()
	a, err := symbol.NewBinary("palette", []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	b, err := symbol.NewExistingFunction("game_main", 0x8000, 0x100)
	if err != nil {
		t.Fatal(err)
	}
	c, err := symbol.NewBinary("strings", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	table, err := symbol.NewTable(a, b, c)
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func openTemp(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "nested", "symbols.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestStoreAndLookup(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)
	table := newTestTable(t)
	const base = 0x1000

	if err := c.Store(ctx, table, base); err != nil {
		t.Fatalf("Store: %v", err)
	}

	addrs, m, err := table.Layout(base)
	if err != nil {
		t.Fatal(err)
	}

	e, err := c.Lookup(ctx, "strings")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	want := Entry{Index: 2, Name: "strings", Type: symbol.TypeBinary, Offset: addrs[2], Length: table.At(2).Length()}
	if diff := cmp.Diff(want, e); diff != "" {
		t.Errorf("Lookup (-want +got):\n%s", diff)
	}

	name, err := c.NameAt(ctx, 0x8000)
	if err != nil || name != "game_main" {
		t.Errorf("NameAt(0x8000) = %q, %v", name, err)
	}

	got, err := c.Map(ctx)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if !got.Equal(m) {
		t.Errorf("catalog map %v differs from layout map %v", got.Names(), m.Names())
	}
}

func TestLookupNotFound(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)
	if _, err := c.Lookup(ctx, "nothing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup err = %v, want ErrNotFound", err)
	}
	if _, err := c.NameAt(ctx, 0x10); !errors.Is(err, ErrNotFound) {
		t.Errorf("NameAt err = %v, want ErrNotFound", err)
	}
	entries, err := c.Entries(ctx)
	if err != nil || len(entries) != 0 {
		t.Errorf("Entries = %v, %v; want empty", entries, err)
	}
}

func TestStoreReplaces(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)
	if err := c.Store(ctx, newTestTable(t), 0); err != nil {
		t.Fatal(err)
	}

	only, err := symbol.NewBinary("only", []byte{9})
	if err != nil {
		t.Fatal(err)
	}
	small, err := symbol.NewTable(only)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Store(ctx, small, 0); err != nil {
		t.Fatal(err)
	}
	entries, err := c.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "only" {
		t.Errorf("entries = %+v, want just only", entries)
	}
}

func TestStoreLayoutErrorKeepsContents(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)
	if err := c.Store(ctx, newTestTable(t), 0); err != nil {
		t.Fatal(err)
	}

	x, _ := symbol.NewExistingBinary("x", 0x40, 4)
	y, _ := symbol.NewExistingBinary("y", 0x40, 4)
	clash, err := symbol.NewTable(x, y)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Store(ctx, clash, 0); !errors.Is(err, symbol.ErrDuplicateKey) {
		t.Errorf("err = %v, want ErrDuplicateKey", err)
	}
	entries, err := c.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d entries after failed store, want 3", len(entries))
	}
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "symbols.db")
	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Store(ctx, newTestTable(t), 0x100); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Lookup(ctx, "palette"); err != nil {
		t.Errorf("Lookup after reopen: %v", err)
	}
}

func TestOpenMemory(t *testing.T) {
	c, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Store(context.Background(), newTestTable(t), 0); err != nil {
		t.Errorf("Store: %v", err)
	}
}
