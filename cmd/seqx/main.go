package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/chazu/seqext/manifest"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "Usage: seqx [options] <command> [arguments]\n\n")
	fmt.Fprintf(w, "Inspects and converts SEQ patch extension files.\n\n")
	fmt.Fprintf(w, "Options:\n")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, "\nCommands:\n")
	fmt.Fprintf(w, "  dump FILE                         List the records in FILE\n")
	fmt.Fprintf(w, "  verify FILE                       Check that FILE re-encodes byte for byte\n")
	fmt.Fprintf(w, "  export -o OUT FILE                Write a CBOR snapshot of FILE\n")
	fmt.Fprintf(w, "  index [-db PATH] FILE             Store laid-out symbols in the SQLite catalog\n")
	fmt.Fprintf(w, "  resolve -at OFFSET [-labels k=v,...] DEST\n")
	fmt.Fprintf(w, "                                    Parse and resolve a branch destination\n")
}

// env is the state shared by every subcommand.
type env struct {
	cfg    *manifest.Manifest
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("seqx", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Int("v", 0, "Raise log verbosity by this much")
	configDir := fs.String("C", ".", "Directory to search upward for seqx.toml")
	fs.Usage = func() { usage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := manifest.FindAndLoad(*configDir)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}
	if cfg == nil {
		cfg = manifest.Default()
	}
	commonlog.Configure(cfg.Log.Verbosity+*verbose, cfg.LogFile())

	rest := fs.Args()
	if len(rest) == 0 {
		usage(stderr, fs)
		return errUsage
	}

	e := &env{cfg: cfg, stdout: stdout, stderr: stderr}
	switch rest[0] {
	case "dump":
		return e.handleDumpCommand(rest[1:])
	case "verify":
		return e.handleVerifyCommand(rest[1:])
	case "export":
		return e.handleExportCommand(rest[1:])
	case "index":
		return e.handleIndexCommand(rest[1:])
	case "resolve":
		return e.handleResolveCommand(rest[1:])
	case "help":
		usage(stdout, fs)
		return nil
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		usage(stderr, fs)
		return errUsage
	}
}
