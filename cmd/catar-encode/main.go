// Command catar-encode streams a filesystem tree, a single regular file, or
// a block device into an archive on stdout or into an output file named
// with -output, driving internal/encoder's Step/GetData state machine one
// chunk at a time.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/renameio"
	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"

	"github.com/distr1/catar/internal/caformat"
	"github.com/distr1/catar/internal/encoder"
	"github.com/distr1/catar/internal/oninterrupt"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("catar-encode: ")
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var (
		symlinks    = flag.Bool("symlinks", true, "include symbolic links")
		devices     = flag.Bool("devices", true, "include block and character device nodes")
		fifos       = flag.Bool("fifos", true, "include named pipes")
		sockets     = flag.Bool("sockets", true, "include sockets")
		uidGidWidth = flag.Int("uid-gid-width", 32, "bits of uid/gid to preserve: 0, 16 or 32")
		timeRes     = flag.String("time-resolution", "nsec", "time quantization: nsec, usec, sec or 2sec")
		permissions = flag.Bool("permissions", true, "preserve exact permission bits instead of a read-only approximation")
		best        = flag.Bool("best", false, "shorthand for the highest-fidelity flag combination, overriding the other flags")
		output      = flag.String("output", "", "write the archive here instead of stdout (written atomically)")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		return xerrors.New("usage: catar-encode [flags] <path>")
	}
	path := flag.Arg(0)

	flags, err := flagsFromCLI(*best, *symlinks, *devices, *fifos, *sockets, *permissions, *uidGidWidth, *timeRes)
	if err != nil {
		return err
	}

	root, err := os.Open(path)
	if err != nil {
		return xerrors.Errorf("opening %s: %w", path, err)
	}
	defer root.Close()

	e := encoder.New()
	if err := e.SetFeatureFlags(flags); err != nil {
		return xerrors.Errorf("applying feature flags: %w", err)
	}
	if err := e.SetBaseFD(int(root.Fd())); err != nil {
		return xerrors.Errorf("setting base descriptor: %w", err)
	}
	defer e.Close()

	out, flush, err := openOutput(*output)
	if err != nil {
		return err
	}
	oninterrupt.Register(func() {
		e.Close()
	})

	progress := isatty.IsTerminal(os.Stderr.Fd())
	if err := stream(e, out, path, progress); err != nil {
		return err
	}
	return flush()
}

func flagsFromCLI(best, symlinks, devices, fifos, sockets, permissions bool, uidGidWidth int, timeRes string) (uint64, error) {
	if best {
		return caformat.WithBest, nil
	}

	var flags uint64
	switch uidGidWidth {
	case 0:
	case 16:
		flags |= caformat.WithUIDGID16Bit
	case 32:
		flags |= caformat.WithUIDGID32Bit
	default:
		return 0, xerrors.Errorf("invalid -uid-gid-width %d: must be 0, 16 or 32", uidGidWidth)
	}

	switch timeRes {
	case "nsec":
		flags |= caformat.WithTimesNsec
	case "usec":
		flags |= caformat.WithTimesUsec
	case "sec":
		flags |= caformat.WithTimesSec
	case "2sec":
		flags |= caformat.WithTimes2Sec
	default:
		return 0, xerrors.Errorf("invalid -time-resolution %q: must be nsec, usec, sec or 2sec", timeRes)
	}

	if permissions {
		flags |= caformat.WithPermissions
	} else {
		flags |= caformat.WithReadOnly
	}
	if symlinks {
		flags |= caformat.WithSymlinks
	}
	if devices {
		flags |= caformat.WithDeviceNodes
	}
	if fifos {
		flags |= caformat.WithFIFOs
	}
	if sockets {
		flags |= caformat.WithSockets
	}
	return flags, nil
}

// openOutput returns a writer for the archive and a flush func that commits
// it. An empty path writes to stdout through a bufio.Writer that the flush
// func flushes; otherwise the archive is
// staged via renameio and only becomes visible at path on a clean finish.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		w := bufio.NewWriter(os.Stdout)
		return w, w.Flush, nil
	}
	t, err := renameio.TempFile("", path)
	if err != nil {
		return nil, nil, xerrors.Errorf("creating %s: %w", path, err)
	}
	oninterrupt.Register(func() {
		t.Cleanup()
	})
	return t, func() error {
		if err := t.CloseAtomicallyReplace(); err != nil {
			return xerrors.Errorf("committing %s: %w", path, err)
		}
		return nil
	}, nil
}

// stream drives the encoder to completion, writing every chunk it yields
// and logging a progress line per NEXT_FILE boundary when stderr is a tty.
func stream(e *encoder.Encoder, out io.Writer, path string, progress bool) error {
	for {
		res, err := e.Step()
		if err != nil {
			return xerrors.Errorf("step: %w", err)
		}
		if res == encoder.Finished {
			return nil
		}

		if progress && res == encoder.NextFile {
			if name, err := e.CurrentPath(); err == nil {
				fmt.Fprintf(os.Stderr, "%s\n", name)
			}
		}

		data, err := e.GetData()
		if err != nil {
			return xerrors.Errorf("get data: %w", err)
		}
		if _, err := out.Write(data); err != nil {
			return xerrors.Errorf("writing output: %w", err)
		}
	}
}
