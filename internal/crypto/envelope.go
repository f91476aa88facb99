// Package crypto implements the storage-encryption envelope: a streaming
// OpenPGP writer used by backup and a streaming OpenPGP reader used by
// restore, plus an optional KMIP-backed passphrase provider for secret
// keys that are encrypted at rest.
package crypto

import (
	"io"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/sirupsen/logrus"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

// Keyring is the filtered set of storage-encryption-capable public keys a
// caller-supplied certificate list reduces to. Only entities carrying at
// least one such subkey belong here.
type Keyring []*openpgp.Entity

// FilterStorageEncryptionKeys reduces certs to the entities carrying at
// least one alive, non-revoked subkey whose signature flags allow storage
// or communications encryption — the broadest flag set that still
// excludes certify/sign-only keys. Construction fails with a Crypto
// error if no certificate in certs yields such a subkey.
func FilterStorageEncryptionKeys(certs []*openpgp.Entity) (Keyring, error) {
	now := time.Now()
	var filtered Keyring

	for _, cert := range certs {
		if hasUsableEncryptionSubkey(cert, now) {
			filtered = append(filtered, cert)
		}
	}

	if len(filtered) == 0 {
		return nil, cryoerr.New(cryoerr.KindCrypto, "filter storage encryption keys", errNoEncryptionSubkey)
	}
	return filtered, nil
}

func hasUsableEncryptionSubkey(cert *openpgp.Entity, now time.Time) bool {
	for _, sub := range cert.Subkeys {
		if sub.Sig == nil || !sub.Sig.FlagsValid {
			continue
		}
		if !sub.Sig.FlagEncryptStorage && !sub.Sig.FlagEncryptCommunications {
			continue
		}
		if len(sub.Revocations) > 0 {
			continue
		}
		if keyExpired(sub.Sig, sub.PublicKey.CreationTime, now) {
			continue
		}
		return true
	}
	return false
}

func keyExpired(sig *packet.Signature, created, now time.Time) bool {
	if sig.KeyLifetimeSecs == nil || *sig.KeyLifetimeSecs == 0 {
		return false
	}
	expiry := created.Add(time.Duration(*sig.KeyLifetimeSecs) * time.Second)
	return now.After(expiry)
}

var errNoEncryptionSubkey = simpleErr("no alive, non-revoked storage-encryption subkey found in supplied certificates")

// BuildEncryptor wraps sink with an OpenPGP literal-data, public-key
// encryption writer addressed to every entity in recipients, using
// AES-256 as the symmetric cipher. Callers must Close the returned
// WriteCloser (which writes the OpenPGP terminator packets) before
// treating sink's contents as complete.
func BuildEncryptor(recipients Keyring, sink io.Writer) (io.WriteCloser, error) {
	if len(recipients) == 0 {
		return nil, cryoerr.New(cryoerr.KindCrypto, "build encryptor", errNoEncryptionSubkey)
	}

	cfg := &packet.Config{
		DefaultCipher: packet.CipherAES256,
	}

	w, err := openpgp.Encrypt(sink, []*openpgp.Entity(recipients), nil, nil, cfg)
	if err != nil {
		return nil, cryoerr.New(cryoerr.KindCrypto, "openpgp.Encrypt", err)
	}
	return w, nil
}

// PassphraseProvider supplies the unlock passphrase for a locked secret
// subkey, identified by its parent entity's primary key ID (hex). The
// KMIP-backed provider in kmip_passphrase.go and an interactive
// terminal prompt are both valid implementations.
type PassphraseProvider interface {
	Passphrase(fingerprint string) ([]byte, error)
}

// SecretKeyStore holds the secret certificates as a plain entity list;
// BuildDecryptor hands that list to openpgp, which looks up the key
// matching each PKESK packet by KeyID within it.
type SecretKeyStore struct {
	entities   []*openpgp.Entity
	passphrase PassphraseProvider
	log        logrus.FieldLogger
}

// NewSecretKeyStore indexes certs for decryption. passphrase may be nil,
// in which case locked secret keys surface an unlock failure instead of
// prompting.
func NewSecretKeyStore(certs []*openpgp.Entity, passphrase PassphraseProvider, log logrus.FieldLogger) *SecretKeyStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SecretKeyStore{entities: certs, passphrase: passphrase, log: log}
}

// entityList satisfies openpgp.KeyRing by delegating to the underlying
// entity slice; openpgp.ReadMessage uses this to look up the private key
// matching each PKESK's KeyID.
func (s *SecretKeyStore) entityList() openpgp.EntityList {
	return openpgp.EntityList(s.entities)
}

// promptFunc implements openpgp.PromptFunction: it is invoked once per
// candidate key when ReadMessage needs a locked private key unlocked. A
// nil passphrase provider means "no at-rest unlocking available" and
// every candidate is skipped, surfacing a crypto error once all PKESKs
// have been exhausted.
func (s *SecretKeyStore) promptFunc(keys []openpgp.Key, symmetric bool) ([]byte, error) {
	if symmetric {
		return nil, cryoerr.New(cryoerr.KindCrypto, "prompt", errSymmetricUnsupported)
	}
	if s.passphrase == nil {
		return nil, cryoerr.New(cryoerr.KindCrypto, "prompt", errNoPassphraseProvider)
	}

	for _, k := range keys {
		if k.PrivateKey == nil || !k.PrivateKey.Encrypted {
			continue
		}
		fingerprint := ""
		if k.Entity != nil && k.Entity.PrimaryKey != nil {
			fingerprint = k.Entity.PrimaryKey.KeyIdString()
		}
		pass, err := s.passphrase.Passphrase(fingerprint)
		if err != nil {
			s.log.WithError(err).WithField("fingerprint", fingerprint).Warn("crypto: passphrase provider failed")
			continue
		}
		if unlockErr := k.PrivateKey.Decrypt(pass); unlockErr != nil {
			s.log.WithError(unlockErr).WithField("fingerprint", fingerprint).Warn("crypto: passphrase rejected")
			continue
		}
		return pass, nil
	}

	return nil, cryoerr.New(cryoerr.KindCrypto, "prompt", errAllCandidatesFailed)
}

var (
	errSymmetricUnsupported = simpleErr("symmetric-key decryption is not supported for storage-encryption restores")
	errNoPassphraseProvider = simpleErr("secret key is encrypted at rest and no passphrase provider was configured")
	errAllCandidatesFailed  = simpleErr("no candidate secret key could be unlocked with the available passphrases")
)

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

// BuildDecryptor wraps source with an OpenPGP decryption reader. It
// probes each PKESK in the message against store, unlocking any
// passphrase-protected secret subkey via store's PassphraseProvider.
// Signature verification is intentionally a no-op: confidentiality is
// what storage-encryption certificates provide, authenticity is the
// responsibility of recipient key management, not this reader.
func BuildDecryptor(store *SecretKeyStore, source io.Reader) (io.Reader, error) {
	cfg := &packet.Config{}

	md, err := openpgp.ReadMessage(source, store.entityList(), store.promptFunc, cfg)
	if err != nil {
		return nil, cryoerr.New(cryoerr.KindCrypto, "openpgp.ReadMessage", err)
	}
	if !md.IsEncrypted {
		return nil, cryoerr.New(cryoerr.KindCrypto, "openpgp.ReadMessage", simpleErr("stream is not storage-encrypted"))
	}

	return md.UnverifiedBody, nil
}
