package cli

import (
	"errors"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

// Exit codes per spec.md §6.
const (
	ExitOK      = 0
	ExitIO      = 42
	ExitUsage   = 64
	ExitLogInit = 65
	ExitConfig  = 78
	ExitAbort   = 255
)

// errConfig marks a failure while loading/resolving configuration,
// mapped to ExitConfig rather than the generic cryoerr.KindInvalidInput
// mapping (ExitUsage) most other invalid-input failures get.
type errConfig struct{ err error }

func (e errConfig) Error() string { return "config: " + e.err.Error() }
func (e errConfig) Unwrap() error { return e.err }

func wrapConfigErr(err error) error {
	if err == nil {
		return nil
	}
	return errConfig{err}
}

// exitCodeFor maps a command's returned error to a process exit code
// following spec.md §6/§7: log-init and config failures get their own
// dedicated codes ahead of the general cryoerr.Kind taxonomy, crypto and
// channel/shutdown failures are unrecoverable (Abort), everything else
// that carries a filesystem-shaped Kind is I/O, and an error with no
// recognized Kind at all is a usage mistake the CLI layer itself made.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}

	var logErr errLogInit
	if errors.As(err, &logErr) {
		return ExitLogInit
	}

	var cfgErr errConfig
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}

	var usageErr errUsage
	if errors.As(err, &usageErr) {
		return ExitUsage
	}

	switch cryoerr.KindOf(err) {
	case cryoerr.KindCrypto, cryoerr.KindChannelShutdown:
		return ExitAbort
	case cryoerr.KindNotFound, cryoerr.KindPermissionDenied, cryoerr.KindNotADirectory,
		cryoerr.KindAlreadyExists, cryoerr.KindInterrupted:
		return ExitIO
	case cryoerr.KindInvalidInput:
		return ExitUsage
	default:
		// KindUnknown: err carries no cryoerr.Error in its chain, which
		// means it came from cobra/pflag itself (bad flag, unknown
		// command) rather than from application logic — a usage mistake.
		return ExitUsage
	}
}

// errUsage marks a CLI-layer mistake (bad flag combination, malformed
// UUID/ULID/timestamp argument) distinct from cryoerr.KindInvalidInput,
// which covers the same shape of mistake once it's inside the core.
type errUsage struct{ err error }

func (e errUsage) Error() string { return e.err.Error() }
func (e errUsage) Unwrap() error { return e.err }

func newUsageErr(msg string) error {
	return errUsage{errors.New(msg)}
}
