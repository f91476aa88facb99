package cli

import (
	"bufio"
	"os"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

// fdPassphraseProvider implements crypto.PassphraseProvider by reading a
// single line from a pre-opened file descriptor once, the same
// --pass-fd convention gpg uses: the caller (a wrapping script, an agent)
// writes the passphrase to the fd before exec'ing cryophile. The same
// line answers every locked subkey restore encounters, since spec.md's
// restore flags carry one passphrase source per invocation, not one per
// key.
type fdPassphraseProvider struct {
	line []byte
}

// newFdPassphraseProvider reads fd once at startup; fd <= 0 means no
// --pass-fd was given, and restore falls back to no at-rest unlocking
// (NewSecretKeyStore's nil-provider behavior).
func newFdPassphraseProvider(fd int) (*fdPassphraseProvider, error) {
	if fd <= 0 {
		return nil, nil
	}

	f := os.NewFile(uintptr(fd), "pass-fd")
	if f == nil {
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "open --pass-fd", errInvalidFd)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, cryoerr.New(cryoerr.KindInvalidInput, "read --pass-fd", err)
		}
		return &fdPassphraseProvider{}, nil
	}

	return &fdPassphraseProvider{line: scanner.Bytes()}, nil
}

func (p *fdPassphraseProvider) Passphrase(string) ([]byte, error) {
	return p.line, nil
}

var errInvalidFd = simpleErr("--pass-fd does not name an open file descriptor")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
