package crypto

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"testing"

	"github.com/ovh/kmip-go"
	"github.com/ovh/kmip-go/kmipserver"
	"github.com/ovh/kmip-go/kmiptest"
	"github.com/ovh/kmip-go/payloads"
	"github.com/stretchr/testify/require"
)

// testPassphraseHandler mocks the KMIP Decrypt operation by xoring the
// request payload against a fixed pad, so Decrypt is a reversible
// round-trip without any real key material, and answers Get purely so
// health checks have something to route.
type testPassphraseHandler struct{}

// xorBytes is a reversible stand-in for a KMIP server's Decrypt transform.
func xorBytes(data []byte) []byte {
	pad := []byte("kmip-test-pad-0123456789abcdef")
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ pad[i%len(pad)]
	}
	return out
}

func (h *testPassphraseHandler) decrypt(_ context.Context, req *payloads.DecryptRequestPayload) (*payloads.DecryptResponsePayload, error) {
	return &payloads.DecryptResponsePayload{
		UniqueIdentifier: req.UniqueIdentifier,
		Data:             xorBytes(req.Data),
	}, nil
}

func (h *testPassphraseHandler) get(_ context.Context, req *payloads.GetRequestPayload) (*payloads.GetResponsePayload, error) {
	return &payloads.GetResponsePayload{
		UniqueIdentifier: req.UniqueIdentifier,
		ObjectType:       kmip.ObjectTypeSymmetricKey,
	}, nil
}

func newTestPassphraseServer(t *testing.T) (string, *tls.Config) {
	t.Helper()

	exec := kmipserver.NewBatchExecutor()
	handler := &testPassphraseHandler{}
	exec.Route(kmip.OperationDecrypt, kmipserver.HandleFunc(handler.decrypt))
	exec.Route(kmip.OperationGet, kmipserver.HandleFunc(handler.get))

	addr, ca := kmiptest.NewServer(t, exec)

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM([]byte(ca)))

	return addr, &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: pool}
}

func TestKMIPPassphraseProviderRetrievesRegisteredSecret(t *testing.T) {
	addr, tlsCfg := newTestPassphraseServer(t)

	plaintext := []byte("correct horse battery staple")
	ciphertext := xorBytes(plaintext)

	registry := map[string]PassphraseCiphertext{
		"AAAA1111": {KeyID: "wrapping-key-1", Ciphertext: ciphertext},
	}

	provider, err := NewKMIPPassphraseProvider(context.Background(), addr, tlsCfg, registry, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })

	got, err := provider.Passphrase("AAAA1111")
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestKMIPPassphraseProviderRejectsUnregisteredFingerprint(t *testing.T) {
	addr, tlsCfg := newTestPassphraseServer(t)

	provider, err := NewKMIPPassphraseProvider(context.Background(), addr, tlsCfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })

	_, err = provider.Passphrase("unknown-fingerprint")
	require.Error(t, err)
}

func TestKMIPPassphraseProviderHealthCheck(t *testing.T) {
	addr, tlsCfg := newTestPassphraseServer(t)

	provider, err := NewKMIPPassphraseProvider(context.Background(), addr, tlsCfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })

	require.NoError(t, provider.HealthCheck(context.Background()))
}
