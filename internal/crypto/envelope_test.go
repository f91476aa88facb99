package crypto

import (
	"bytes"
	"io"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/stretchr/testify/require"
)

func generateTestEntity(t *testing.T) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity("cryophile test", "", "test@cryophile.invalid", nil)
	require.NoError(t, err)
	return entity
}

func TestFilterStorageEncryptionKeysAcceptsFreshEntity(t *testing.T) {
	entity := generateTestEntity(t)
	keyring, err := FilterStorageEncryptionKeys([]*openpgp.Entity{entity})
	require.NoError(t, err)
	require.Len(t, keyring, 1)
}

func TestFilterStorageEncryptionKeysRejectsEmptyInput(t *testing.T) {
	_, err := FilterStorageEncryptionKeys(nil)
	require.Error(t, err)
}

func TestBuildEncryptorRejectsEmptyKeyring(t *testing.T) {
	var buf bytes.Buffer
	_, err := BuildEncryptor(nil, &buf)
	require.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	entity := generateTestEntity(t)
	keyring, err := FilterStorageEncryptionKeys([]*openpgp.Entity{entity})
	require.NoError(t, err)

	var ciphertext bytes.Buffer
	encryptor, err := BuildEncryptor(keyring, &ciphertext)
	require.NoError(t, err)

	payload := []byte("cryophile chunk contents, streamed through the envelope")
	_, err = encryptor.Write(payload)
	require.NoError(t, err)
	require.NoError(t, encryptor.Close())

	store := NewSecretKeyStore([]*openpgp.Entity{entity}, nil, nil)
	plaintextReader, err := BuildDecryptor(store, bytes.NewReader(ciphertext.Bytes()))
	require.NoError(t, err)

	got, err := io.ReadAll(plaintextReader)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestBuildDecryptorRejectsPlaintextStream(t *testing.T) {
	entity := generateTestEntity(t)
	store := NewSecretKeyStore([]*openpgp.Entity{entity}, nil, nil)

	_, err := BuildDecryptor(store, bytes.NewReader([]byte("not an openpgp message")))
	require.Error(t, err)
}
