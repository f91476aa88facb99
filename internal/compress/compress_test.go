package compress

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, kind CompressionType, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer

	enc, err := NewEncoder(kind, &buf)
	require.NoError(t, err)
	_, err = enc.Write(payload)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	dec, err := NewDecoder(kind, &buf)
	require.NoError(t, err)
	out, err := io.ReadAll(dec)
	require.NoError(t, err)
	return out
}

func TestRoundTripNone(t *testing.T) {
	payload := []byte("hello cryophile")
	require.Equal(t, payload, roundTrip(t, CompressionNone, payload))
}

func TestRoundTripZstd(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)
	require.Equal(t, payload, roundTrip(t, CompressionZstd, payload))
}

func TestRoundTripLz4(t *testing.T) {
	payload := bytes.Repeat([]byte("cryophile chunk pipeline "), 200)
	require.Equal(t, payload, roundTrip(t, CompressionLz4, payload))
}

// Seeded scenario 6: auto-detect restore of a zstd-compressed stream
// produced with default level equals the original payload.
func TestAutoDetectZstd(t *testing.T) {
	payload := bytes.Repeat([]byte("auto detect me "), 100)

	var buf bytes.Buffer
	enc, err := NewEncoder(CompressionZstd, &buf)
	require.NoError(t, err)
	_, err = enc.Write(payload)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	reader, kind, err := AutoDetect(&buf)
	require.NoError(t, err)
	require.Equal(t, CompressionZstd, kind)

	out, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestAutoDetectLz4(t *testing.T) {
	payload := []byte("lz4 auto detect payload")

	var buf bytes.Buffer
	enc, err := NewEncoder(CompressionLz4, &buf)
	require.NoError(t, err)
	_, err = enc.Write(payload)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	reader, kind, err := AutoDetect(&buf)
	require.NoError(t, err)
	require.Equal(t, CompressionLz4, kind)

	out, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestAutoDetectPassThroughUncompressed(t *testing.T) {
	payload := []byte("plain bytes, no magic header here")
	reader, kind, err := AutoDetect(bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, CompressionNone, kind)

	out, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestAutoDetectShortStreamPassesThroughExactBytes(t *testing.T) {
	for _, short := range [][]byte{{}, {0x01}, {0x01, 0x02}, {0x01, 0x02, 0x03}} {
		reader, kind, err := AutoDetect(bytes.NewReader(short))
		require.NoError(t, err)
		require.Equal(t, CompressionNone, kind)

		out, err := io.ReadAll(reader)
		require.NoError(t, err)
		require.Equal(t, short, out)
	}
}

func TestParseCompressionType(t *testing.T) {
	kind, err := ParseCompressionType("zstd")
	require.NoError(t, err)
	require.Equal(t, CompressionZstd, kind)

	_, err = ParseCompressionType("bogus")
	require.Error(t, err)
}
