package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

// chunkFileMode is the mode new chunk files are created with (spec.md §6).
const chunkFileMode = 0o660

// Split is a streaming write sink that partitions its input into
// fixed-size, pre-allocated chunk files. Every time the current chunk
// fills, it is synced, truncated to its actual size, hard-linked into the
// outgoing (freeze) directory under the same name, and unlinked from the
// incoming (backup) directory.
type Split struct {
	num        int64 // configured chunk size
	pos        int64 // bytes written to the current chunk
	tot        int64 // cumulative bytes written across all chunks
	val        int64 // index of the current chunk (0 before the first Write)
	incoming   string
	outgoing   string
	prefix     string
	file       *os.File
	markFailed bool
	log        logrus.FieldLogger
	onSeal     func(chunkNum int64)
}

// SetOnSeal registers a callback invoked after a chunk has been synced,
// hard-linked into outgoing, and unlinked from incoming. chunkNum is the
// 1-based chunk index (Split.val). Used by the orchestrator to emit an
// audit event per sealed chunk without coupling this package to
// internal/audit.
func (s *Split) SetOnSeal(fn func(chunkNum int64)) {
	s.onSeal = fn
}

// NewSplit constructs a Split sink. incomingDir and outgoingDir are queue
// directories (typically <spool>/backup/<id> and <spool>/freeze/<id>);
// prefix is the chunk filename stem ("chunk" in spec.md); chunkSize is
// the maximum size in bytes of any chunk but the last.
func NewSplit(incomingDir, outgoingDir, prefix string, chunkSize int64, log logrus.FieldLogger) *Split {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Split{
		num:      chunkSize,
		incoming: incomingDir,
		outgoing: outgoingDir,
		prefix:   prefix,
		log:      log,
	}
}

// Written returns the cumulative number of bytes written so far.
func (s *Split) Written() int64 {
	return s.tot
}

// Chunks returns the number of chunks opened so far.
func (s *Split) Chunks() int64 {
	return s.val
}

func (s *Split) currentIncomingPath() string {
	return filepath.Join(s.incoming, fmt.Sprintf("%s.%d", s.prefix, s.val))
}

func (s *Split) currentOutgoingPath() string {
	return filepath.Join(s.outgoing, fmt.Sprintf("%s.%d", s.prefix, s.val))
}

func (s *Split) markFailedErr(op string, err error) error {
	s.markFailed = true
	wrapped := cryoerr.New(cryoerr.KindInvalidInput, op, err)
	s.log.WithError(wrapped).Error("split: marking failed")
	return wrapped
}

// outgoingChunk seals the current open chunk: fdatasync, truncate to the
// actual byte count if short, hard-link into outgoing, unlink from
// incoming. A no-op when no chunk is currently open.
func (s *Split) outgoingChunk() error {
	if s.file == nil {
		return nil
	}

	incoming := s.currentIncomingPath()
	outgoing := s.currentOutgoingPath()

	if err := unix.Fdatasync(int(s.file.Fd())); err != nil {
		return s.markFailedErr("fdatasync "+incoming, err)
	}

	if s.pos < s.num {
		s.log.WithFields(logrus.Fields{"path": incoming, "len": s.pos}).Trace("split: truncate short chunk")
		if err := s.file.Truncate(s.pos); err != nil {
			return s.markFailedErr("ftruncate "+incoming, err)
		}
	}

	if err := s.file.Close(); err != nil {
		return s.markFailedErr("close "+incoming, err)
	}
	s.file = nil

	s.log.WithFields(logrus.Fields{"incoming": incoming, "outgoing": outgoing}).Trace("split: linking chunk")
	if err := os.Link(incoming, outgoing); err != nil {
		return s.markFailedErr("link "+outgoing, err)
	}
	if err := os.Remove(incoming); err != nil {
		return s.markFailedErr("unlink "+incoming, err)
	}
	if s.onSeal != nil {
		s.onSeal(s.val)
	}
	return nil
}

// useFileOrNext ensures an open file with available space, sealing the
// current chunk and opening the next one if necessary. Returns the number
// of bytes immediately writable to the current file (0 means caller must
// retry, e.g. after an ENOSPC fallocate failure freed nothing; the chunk
// index is given back so the retry reuses it).
func (s *Split) useFileOrNext() (int64, error) {
	if s.markFailed {
		return 0, cryoerr.New(cryoerr.KindInvalidInput, "split", fmt.Errorf("split is marked failed at %d bytes", s.tot))
	}

	if s.file != nil && s.pos < s.num {
		return s.num - s.pos, nil
	}

	if err := s.outgoingChunk(); err != nil {
		return 0, err
	}

	s.val++
	incoming := s.currentIncomingPath()

	s.log.WithField("path", incoming).Trace("split: creating new chunk")
	file, err := os.OpenFile(incoming, os.O_CREATE|os.O_EXCL|os.O_WRONLY, chunkFileMode)
	if err != nil {
		return 0, s.markFailedErr("create "+incoming, err)
	}
	s.file = file
	s.pos = 0

	if err := unix.Fallocate(int(file.Fd()), 0, 0, s.num); err != nil {
		s.log.WithError(err).Warnf("split: need more disk space to fallocate %d bytes for %s, retrying", s.num, incoming)
		_ = file.Close()
		s.file = nil
		if rmErr := os.Remove(incoming); rmErr != nil {
			return 0, s.markFailedErr("unlink "+incoming, rmErr)
		}
		s.val--
		return 0, nil
	}

	return s.num, nil
}

// writeOnce writes buf (which must be no longer than the chunk size) into
// the current chunk, opening/sealing chunks as needed.
func (s *Split) writeOnce(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if int64(len(buf)) > s.num {
		return 0, cryoerr.New(cryoerr.KindInvalidInput, "split.writeOnce", fmt.Errorf("buffer of %d bytes exceeds chunk size %d", len(buf), s.num))
	}

	if s.markFailed {
		s.log.Errorf("split: failed at position %d, ignoring write request", s.tot)
		return 0, nil
	}

	remaining, err := s.useFileOrNext()
	for err == nil && remaining == 0 {
		remaining, err = s.useFileOrNext()
	}
	if err != nil {
		return 0, err
	}

	n, err := s.file.Write(buf)
	if err != nil {
		return n, s.markFailedErr("write "+s.currentIncomingPath(), err)
	}

	s.tot += int64(n)
	s.pos += int64(n)
	return n, nil
}

// Write implements io.Writer. It splits buf into a head (filling the
// remainder of the current chunk) and a tail chunked into pieces no
// larger than the configured chunk size, and writes each in turn.
func (s *Split) Write(buf []byte) (int, error) {
	if s.markFailed {
		s.log.Errorf("split: ignoring write at position %d", s.tot)
		return 0, nil
	}

	bufLen := len(buf)
	written := 0

	remainder := s.num - s.pos
	if remainder < 0 {
		remainder = 0
	}

	headLen := int64(bufLen)
	if remainder < headLen {
		headLen = remainder
	}
	head, tail := buf[:headLen], buf[headLen:]

	n, err := s.writeOnce(head)
	written += n
	if err != nil {
		return written, err
	}

	for len(tail) > 0 {
		chunkLen := int64(len(tail))
		if chunkLen > s.num {
			chunkLen = s.num
		}
		n, err := s.writeOnce(tail[:chunkLen])
		written += n
		if err != nil {
			return written, err
		}
		tail = tail[chunkLen:]
	}

	return written, nil
}

// Flush flushes the current open chunk only (fsync via File.Sync), without sealing it.
func (s *Split) Flush() error {
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return s.markFailedErr("flush "+s.currentIncomingPath(), err)
	}
	return nil
}

// Close performs a final flush and a final seal of whatever chunk is
// currently open. It does not create the completion sentinel — that is
// the orchestrator's responsibility, since the sentinel's timing (only
// after the full encrypted/compressed stream is flushed) is a policy
// decision above this sink.
func (s *Split) Close() error {
	if err := s.Flush(); err != nil {
		s.log.WithError(err).Error("split: close: flush failed")
		return err
	}
	if err := s.outgoingChunk(); err != nil {
		s.log.WithError(err).Error("split: close: seal failed")
		return err
	}
	s.log.WithFields(logrus.Fields{
		"total_bytes": s.tot,
		"chunks":      s.val,
	}).Debug("split: closed")
	return nil
}
