// Package cryoerr provides the error taxonomy shared by every core
// component and the CLI layer that turns it into an exit code.
package cryoerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way the CLI needs to pick an exit code,
// independent of the underlying Go error type.
type Kind int

const (
	// KindUnknown is the zero value; never assigned deliberately.
	KindUnknown Kind = iota
	// KindInvalidInput covers malformed UUID/ULID/prefix, empty keyring,
	// non-directory in a spool path, unknown compression type.
	KindInvalidInput
	// KindAlreadyExists covers a queue directory that was already created.
	KindAlreadyExists
	// KindNotFound covers a missing file or path.
	KindNotFound
	// KindPermissionDenied covers an access-control failure.
	KindPermissionDenied
	// KindNotADirectory covers a not-a-directory failure. A non-directory
	// blocking a queue path is reported as KindInvalidInput instead.
	KindNotADirectory
	// KindCrypto covers missing storage-encryption certs, session-key
	// decryption failure against every recipient, or password-read failure.
	KindCrypto
	// KindChannelShutdown covers a peer goroutine that is gone.
	KindChannelShutdown
	// KindInterrupted is a retry-me signal. No package in this module
	// returns it; Cat retries a not-yet-linked chunk open by itself.
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindAlreadyExists:
		return "already_exists"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotADirectory:
		return "not_a_directory"
	case KindCrypto:
		return "crypto"
	case KindChannelShutdown:
		return "channel_shutdown"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind so callers can make exit-code
// decisions with a single type switch instead of string-matching messages.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with kind, annotating it with the operation name op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the Kind of err, walking the error chain with errors.As.
// Returns KindUnknown when err carries no *Error in its chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// Is reports whether err's kind (via KindOf) equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
