// Package compress implements the {none, zstd, lz4} encoder/decoder
// adapters that sit between the backup orchestrator's input reader and
// the crypto envelope, and the matching decoder used by restore.
package compress

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

// CompressionType selects the backup-time encoder and, in forced mode,
// the restore-time decoder.
type CompressionType int

const (
	// CompressionNone passes bytes through unchanged.
	CompressionNone CompressionType = iota
	// CompressionZstd wraps the stream in a zstd frame.
	CompressionZstd
	// CompressionLz4 wraps the stream in an lz4 frame.
	CompressionLz4
)

func (c CompressionType) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionLz4:
		return "lz4"
	default:
		return "none"
	}
}

// ParseCompressionType maps a config/CLI string to a CompressionType.
func ParseCompressionType(s string) (CompressionType, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLz4, nil
	default:
		return CompressionNone, cryoerr.New(cryoerr.KindInvalidInput, "parse compression type", errUnknownCompressionType(s))
	}
}

type errUnknownCompressionType string

func (e errUnknownCompressionType) Error() string { return "unknown compression type: " + string(e) }

// zstdMagic is the little-endian zstd frame magic number (on-wire bytes
// 0x28 0xB5 0x2F 0xFD).
const zstdMagic uint32 = 0xFD2FB528

// lz4Magic is the little-endian lz4 frame magic number (on-wire bytes
// 0x04 0x22 0x4D 0x18).
const lz4Magic uint32 = 0x184D2204

// NewEncoder wraps sink with the encoder for kind. For None, sink itself
// satisfies io.WriteCloser semantics via a no-op-Close adapter. Finish
// (do_finish/try_finish in the original) happens inside Close.
func NewEncoder(kind CompressionType, sink io.Writer) (io.WriteCloser, error) {
	switch kind {
	case CompressionNone:
		return nopWriteCloser{sink}, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(sink)
		if err != nil {
			return nil, cryoerr.New(cryoerr.KindInvalidInput, "zstd.NewWriter", err)
		}
		return enc, nil
	case CompressionLz4:
		enc := lz4.NewWriter(sink)
		return lz4WriteCloser{enc}, nil
	default:
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "new encoder", errUnknownCompressionType(kind.String()))
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// lz4WriteCloser adapts *lz4.Writer's Close (which writes the frame
// trailer, the Go analogue of try_finish) to io.WriteCloser.
type lz4WriteCloser struct {
	w *lz4.Writer
}

func (l lz4WriteCloser) Write(p []byte) (int, error) { return l.w.Write(p) }
func (l lz4WriteCloser) Close() error                { return l.w.Close() }

// NewDecoder wraps source with the forced decoder for kind.
func NewDecoder(kind CompressionType, source io.Reader) (io.Reader, error) {
	switch kind {
	case CompressionNone:
		return source, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(source)
		if err != nil {
			return nil, cryoerr.New(cryoerr.KindInvalidInput, "zstd.NewReader", err)
		}
		return zstdReadCloser{dec}, nil
	case CompressionLz4:
		return lz4.NewReader(source), nil
	default:
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "new decoder", errUnknownCompressionType(kind.String()))
	}
}

type zstdReadCloser struct {
	*zstd.Decoder
}

// AutoDetect reads up to 4 bytes from source to sniff a compression
// magic number and returns a reader that reproduces the full stream
// (magic bytes included) decompressed, plus the detected type. Streams
// shorter than 4 bytes are returned unchanged (pass-through), matching
// spec's "copy only those bytes and return" short-stream handling.
func AutoDetect(source io.Reader) (io.Reader, CompressionType, error) {
	var magic [4]byte
	n, err := io.ReadFull(source, magic[:])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, CompressionNone, cryoerr.New(cryoerr.KindInvalidInput, "autodetect read magic", err)
	}

	if n < 4 {
		// Short stream: nothing to detect, hand back exactly what was read.
		return bytes.NewReader(append([]byte(nil), magic[:n]...)), CompressionNone, nil
	}

	prefixed := io.MultiReader(bytes.NewReader(magic[:]), source)

	switch binary.LittleEndian.Uint32(magic[:]) {
	case zstdMagic:
		dec, decErr := zstd.NewReader(prefixed)
		if decErr != nil {
			return nil, CompressionNone, cryoerr.New(cryoerr.KindInvalidInput, "zstd.NewReader", decErr)
		}
		return zstdReadCloser{dec}, CompressionZstd, nil
	case lz4Magic:
		return lz4.NewReader(prefixed), CompressionLz4, nil
	default:
		return prefixed, CompressionNone, nil
	}
}
