package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chazu/seqext/catalog"
	"github.com/chazu/seqext/dest"
	"github.com/chazu/seqext/export"
	"github.com/chazu/seqext/patchfile"
)

func (e *env) newFlagSet(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(e.stderr, "Usage: seqx %s %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

// oneFile parses fs and returns its single positional argument.
func oneFile(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return "", errUsage
	}
	return fs.Arg(0), nil
}

func (e *env) load(path string) (*patchfile.File, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	set, err := e.cfg.InstructionSet()
	if err != nil {
		return nil, nil, err
	}
	f, err := patchfile.ReadBytes(data, set)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, data, nil
}

func (e *env) handleDumpCommand(args []string) error {
	fs := e.newFlagSet("dump", "FILE")
	baseText := fs.String("base", fmt.Sprintf("0x%X", e.cfg.Layout.Base), "Base address for the layout")
	path, err := oneFile(fs, args)
	if err != nil {
		return err
	}
	base, err := parseOffset(*baseText)
	if err != nil {
		return fmt.Errorf("dump: -base: %w", err)
	}
	f, _, err := e.load(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(e.stdout, "%s: version %d, region 0x%X bytes\n", path, f.Header.Version, f.Header.RegionLength)
	fmt.Fprint(e.stdout, f.Table.Listing())

	addrs, _, err := f.Table.Layout(base)
	if err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	fmt.Fprintf(e.stdout, "\nLayout at 0x%X:\n", base)
	for i, s := range f.Table.Symbols() {
		fmt.Fprintf(e.stdout, "  %08X  %s\n", addrs[i], s.Name())
	}
	return nil
}

func (e *env) handleVerifyCommand(args []string) error {
	fs := e.newFlagSet("verify", "FILE")
	path, err := oneFile(fs, args)
	if err != nil {
		return err
	}
	f, data, err := e.load(path)
	if err != nil {
		return err
	}

	out, err := f.Bytes()
	if err != nil {
		return err
	}
	want := data[:patchfile.HeaderSize+int(f.Header.RegionLength)]
	if !bytes.Equal(out, want) {
		at := 0
		for at < len(out) && at < len(want) && out[at] == want[at] {
			at++
		}
		return fmt.Errorf("%s: re-encoded file differs at byte 0x%X", path, at)
	}
	if _, _, err := f.Table.Layout(e.cfg.Layout.Base); err != nil {
		return fmt.Errorf("%s: layout: %w", path, err)
	}
	fmt.Fprintf(e.stdout, "OK %s: %d symbols, 0x%X bytes\n", path, f.Table.Len(), len(want))
	return nil
}

func (e *env) handleExportCommand(args []string) error {
	fs := e.newFlagSet("export", "-o OUT FILE")
	output := fs.String("o", "", "Output path for the CBOR snapshot")
	path, err := oneFile(fs, args)
	if err != nil {
		return err
	}
	if *output == "" {
		return fmt.Errorf("export: -o requires an output path")
	}
	f, _, err := e.load(path)
	if err != nil {
		return err
	}

	snap, err := export.FromTable(f.Table, e.cfg.Layout.Base)
	if err != nil {
		return err
	}
	data, err := export.Marshal(snap)
	if err != nil {
		return fmt.Errorf("export: marshal: %w", err)
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		return fmt.Errorf("cannot write %s: %w", *output, err)
	}
	fmt.Fprintf(e.stdout, "Wrote %d records to %s\n", len(snap.Records), *output)
	return nil
}

func (e *env) handleIndexCommand(args []string) error {
	fs := e.newFlagSet("index", "[-db PATH] FILE")
	dbPath := fs.String("db", e.cfg.CatalogPath(), "Catalog database path")
	path, err := oneFile(fs, args)
	if err != nil {
		return err
	}
	f, _, err := e.load(path)
	if err != nil {
		return err
	}

	c, err := catalog.Open(*dbPath)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Store(context.Background(), f.Table, e.cfg.Layout.Base); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Indexed %d symbols into %s\n", f.Table.Len(), *dbPath)
	return nil
}

func (e *env) handleResolveCommand(args []string) error {
	fs := e.newFlagSet("resolve", "-at OFFSET [-labels name=offset,...] DEST")
	at := fs.String("at", "0", "Offset of the branch instruction")
	labelList := fs.String("labels", "", "Comma-separated name=offset label definitions")
	text, err := oneFile(fs, args)
	if err != nil {
		return err
	}

	start, err := parseOffset(*at)
	if err != nil {
		return fmt.Errorf("resolve: -at: %w", err)
	}
	labels, err := parseLabels(*labelList)
	if err != nil {
		return fmt.Errorf("resolve: -labels: %w", err)
	}

	d, err := dest.Parse(text)
	if err != nil {
		return err
	}
	resolved, err := d.Resolve(start, labels)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%s (%s) -> %s\n", d, d.Kind(), resolved)
	return nil
}

func parseOffset(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func parseLabels(list string) (map[string]uint32, error) {
	labels := make(map[string]uint32)
	if list == "" {
		return labels, nil
	}
	for _, pair := range strings.Split(list, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed label %q, want name=offset", pair)
		}
		off, err := parseOffset(value)
		if err != nil {
			return nil, fmt.Errorf("label %s: %w", name, err)
		}
		labels[name] = off
	}
	return labels, nil
}
