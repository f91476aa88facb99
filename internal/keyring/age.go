package keyring

import (
	"strings"

	"filippo.io/age"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

// RecipientSpec pairs an age recipient with the string it was parsed
// from, the way the original implementation's RecipientSpec kept the
// raw key string alongside the parsed X25519/SSH recipient for display
// purposes. Cryophile's backup orchestrator does not currently encrypt
// to this recipient directly (the crypto envelope is OpenPGP-only per
// spec); ParseAgeRecipient exists so the `-r` flag can be validated
// eagerly at the CLI boundary, matching the original's own behavior of
// parsing the recipient before the encryption writer is constructed.
type RecipientSpec struct {
	Key       string
	Recipient age.Recipient
}

func (r RecipientSpec) String() string {
	return r.Key
}

// ParseAgeRecipient accepts an X25519 ("age1...") or SSH ("ssh-ed25519
// AAAA..."/"ssh-rsa AAAA...") recipient string.
func ParseAgeRecipient(s string) (*RecipientSpec, error) {
	if strings.HasPrefix(s, "age1") {
		r, err := age.ParseX25519Recipient(s)
		if err != nil {
			return nil, cryoerr.New(cryoerr.KindInvalidInput, "parse age recipient", err)
		}
		return &RecipientSpec{Key: s, Recipient: r}, nil
	}

	if strings.HasPrefix(s, "ssh-") {
		r, err := age.ParseSSHRecipient(s)
		if err != nil {
			return nil, cryoerr.New(cryoerr.KindInvalidInput, "parse ssh age recipient", err)
		}
		return &RecipientSpec{Key: s, Recipient: r}, nil
	}

	return nil, cryoerr.New(cryoerr.KindInvalidInput, "parse age recipient", errUnrecognizedRecipient)
}

var errUnrecognizedRecipient = simpleErr("unrecognized age recipient format")
