// Package orchestrator wires the core chunk pipeline (internal/core),
// the crypto envelope (internal/crypto), and the compression adapter
// (internal/compress) into the four lifecycle commands: Backup, Freeze,
// Thaw, Restore. Sequencing is grounded on the original command-layer
// implementations (backup.rs/freeze.rs/restore.rs/thaw.rs); the
// goroutine+io.Pipe decoupling between the compressor and the
// encryption sink is the idiomatic-Go replacement for the original's
// background compressor thread (thread_io::write::writer).
package orchestrator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/cryophile/cryophile/internal/audit"
	"github.com/cryophile/cryophile/internal/compress"
	"github.com/cryophile/cryophile/internal/core"
	"github.com/cryophile/cryophile/internal/crypto"
	"github.com/cryophile/cryophile/internal/cryoerr"
	"github.com/cryophile/cryophile/internal/tracing"
)

// sentinelMode is the mode the zero-length completion sentinel is
// created with (spec.md §6).
const sentinelMode = 0o660

// BackupOptions parameterizes a single Backup invocation. Ulid is
// optional: a zero value is replaced with a freshly minted one seeded
// from At (or time.Now() if At is also zero), mirroring the CLI's
// mutually exclusive -u/-t flags.
type BackupOptions struct {
	SpoolRoot   string
	Vault       uuid.UUID
	Prefix      string
	Ulid        ulid.ULID
	At          time.Time
	Input       io.Reader
	ChunkSize   int64
	Compression compress.CompressionType
	Recipients  crypto.Keyring
	Log         logrus.FieldLogger
	// Audit, when non-nil, records backup-start and per-chunk-sealed events.
	Audit audit.Logger
}

// RunBackup executes the Backup phase: it atomically creates the backup
// and freeze queue directories for a new BackupId, then streams Input
// through the configured compressor and OpenPGP encryptor into a Split
// sink, finishing with the zero-length chunk.0 completion sentinel
// hard-linked from the backup directory into the freeze directory.
func RunBackup(ctx context.Context, opts BackupOptions) (core.BackupId, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	_, span := tracing.Tracer("cryophile/orchestrator").Start(ctx, "backup")
	defer span.End()

	id := backupID(opts)
	paths := core.NewSpoolPathComponents(opts.SpoolRoot, &id)

	if opts.Audit != nil {
		opts.Audit.LogBackupStart(id.ToPathBuf(), map[string]interface{}{"vault": opts.Vault.String(), "prefix": opts.Prefix})
	}

	// Both queue dirs must be brand new: a concurrent backup attempt
	// against the same id is rejected rather than silently merged
	// (spec.md §4.8 step 2).
	backupDir, _, err := paths.WithQueuePath(core.QueueBackup, core.CreateStrict)
	if err != nil {
		return id, err
	}
	freezeDir, _, err := paths.WithQueuePath(core.QueueFreeze, core.CreateStrict)
	if err != nil {
		return id, err
	}

	split := core.NewSplit(backupDir, freezeDir, "chunk", opts.ChunkSize, log.WithField("backup_id", id.ToPathBuf()))
	if opts.Audit != nil {
		split.SetOnSeal(func(chunkNum int64) {
			opts.Audit.LogChunkSealed(id.ToPathBuf(), chunkFilename(chunkNum), true, nil, 0)
		})
	}

	encryptor, err := crypto.BuildEncryptor(opts.Recipients, split)
	if err != nil {
		return id, err
	}

	if err := pipeThroughCompressor(opts.Compression, opts.Input, encryptor, log); err != nil {
		return id, err
	}

	if err := encryptor.Close(); err != nil {
		return id, cryoerr.New(cryoerr.KindCrypto, "backup: close encryptor", err)
	}
	if err := split.Close(); err != nil {
		return id, err
	}

	if err := createSentinel(backupDir, freezeDir); err != nil {
		return id, err
	}
	if opts.Audit != nil {
		opts.Audit.LogSentinelObserved(id.ToPathBuf(), true, nil)
	}

	log.WithFields(logrus.Fields{
		"backup_id": id.ToPathBuf(),
		"bytes":     split.Written(),
		"chunks":    split.Chunks(),
	}).Info("backup: complete")

	return id, nil
}

func backupID(opts BackupOptions) core.BackupId {
	id := opts.Ulid
	var zero ulid.ULID
	if id == zero {
		at := opts.At
		if at.IsZero() {
			at = time.Now()
		}
		id = ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy())
	}
	return core.NewBackupId(opts.Vault, opts.Prefix, id)
}

// pipeThroughCompressor runs the compressor on a separate goroutine,
// writing into an io.Pipe whose reader end is copied into sink on the
// calling goroutine. This is the Go-idiomatic stand-in for the original
// implementation's background compressor thread: the compressor never
// blocks the caller's read loop on sink's I/O, and sink never blocks on
// the compressor's CPU work.
func pipeThroughCompressor(kind compress.CompressionType, input io.Reader, sink io.Writer, log logrus.FieldLogger) error {
	pr, pw := io.Pipe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		compressor, err := compress.NewEncoder(kind, pw)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}

		if _, copyErr := io.Copy(compressor, input); copyErr != nil {
			_ = compressor.Close()
			_ = pw.CloseWithError(copyErr)
			return
		}

		if closeErr := compressor.Close(); closeErr != nil {
			_ = pw.CloseWithError(closeErr)
			return
		}

		_ = pw.Close()
	}()

	written, err := io.Copy(sink, pr)
	wg.Wait()
	if err != nil {
		return cryoerr.New(cryoerr.KindInvalidInput, "backup: compressor pipe", err)
	}
	log.WithField("compressed_bytes", written).Trace("backup: compressor stage complete")
	return nil
}

// createSentinel creates the zero-length chunk.0 completion marker in
// backupDir and hard-links it into freezeDir, the same hand-off Split
// uses for every other chunk.
func createSentinel(backupDir, freezeDir string) error {
	backupSentinel := filepath.Join(backupDir, "chunk.0")
	freezeSentinel := filepath.Join(freezeDir, "chunk.0")

	f, err := os.OpenFile(backupSentinel, os.O_CREATE|os.O_EXCL|os.O_WRONLY, sentinelMode)
	if err != nil {
		return cryoerr.New(cryoerr.KindInvalidInput, "create sentinel "+backupSentinel, err)
	}
	if err := f.Close(); err != nil {
		return cryoerr.New(cryoerr.KindInvalidInput, "close sentinel "+backupSentinel, err)
	}

	if err := os.Link(backupSentinel, freezeSentinel); err != nil {
		return cryoerr.New(cryoerr.KindInvalidInput, "link sentinel "+freezeSentinel, err)
	}
	return nil
}

// openInput resolves the CLI's -i <file|-> convention: "-" or an empty
// path mean stdin, anything else is opened from disk.
func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, cryoerr.New(cryoerr.KindNotFound, "open input "+path, err)
	}
	return f, nil
}
