package cli

import (
	"io"
	"os"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

// resolveSpoolDir resolves the --spool flag (already layered into
// rt.cfg.Spool.Dir by the root command's PersistentPreRunE) or the XDG
// state-dir fallback.
func resolveSpoolDir(rt *runtime) (string, error) {
	return rt.cfg.ResolveSpoolDir()
}

// openInputFile resolves the -i <file|-> convention for backup's input.
func openInputFile(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, cryoerr.New(cryoerr.KindNotFound, "open input "+path, err)
	}
	return f, nil
}

// openOutputFile resolves the -o <file|-> convention for restore's
// output, created exclusively at mode 0o600 per spec.md §6 (except for
// stdout, which needs neither).
func openOutputFile(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "create output "+path, err)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
