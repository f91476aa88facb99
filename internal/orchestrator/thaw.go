package orchestrator

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/cryophile/cryophile/internal/audit"
	"github.com/cryophile/cryophile/internal/core"
	"github.com/cryophile/cryophile/internal/cryoerr"
	"github.com/cryophile/cryophile/internal/metrics"
	"github.com/cryophile/cryophile/internal/s3transport"
	"github.com/cryophile/cryophile/internal/tracing"
)

// ThawOptions parameterizes a single Thaw invocation: it downloads every
// chunk of one BackupId from Client into the thaw queue directory, then
// hard-links each into the restore queue directory, mirroring Backup's
// hard-link hand-off from the backup directory into the freeze directory.
type ThawOptions struct {
	SpoolRoot string
	Vault     uuid.UUID
	Prefix    string
	Ulid      ulid.ULID
	Client    s3transport.Client
	Log       logrus.FieldLogger
	// Metrics, when non-nil, records per-chunk download duration and
	// failures under the "get_object" operation label.
	Metrics *metrics.Metrics
	// Audit, when non-nil, records per-chunk-downloaded and sentinel events.
	Audit audit.Logger
}

// RunThaw downloads chunk.1, chunk.2, … sequentially (there is no S3
// listing in s3transport.Client by design — Thaw discovers the chunk
// count the same way the backup stream discovered it, by probing for the
// next number until one is missing), then the completion sentinel
// chunk.0. It stops probing past the first GetObject NotFound so a still-
// uploading backup does not make Thaw spin indefinitely; callers re-run
// Thaw later to pick up the rest.
func RunThaw(ctx context.Context, opts ThawOptions) error {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	spanCtx, span := tracing.Tracer("cryophile/orchestrator").Start(ctx, "thaw")
	defer span.End()

	id := core.NewBackupId(opts.Vault, opts.Prefix, opts.Ulid)
	paths := core.NewSpoolPathComponents(opts.SpoolRoot, &id)

	thawDir, _, err := paths.WithQueuePath(core.QueueThaw, core.CreateReuse)
	if err != nil {
		return err
	}
	restoreDir, _, err := paths.WithQueuePath(core.QueueRestore, core.CreateReuse)
	if err != nil {
		return err
	}

	existing, err := existingChunkNumbers(thawDir)
	if err != nil {
		return err
	}

	var downloaded int64
	for num := int64(1); ; num++ {
		select {
		case <-spanCtx.Done():
			return spanCtx.Err()
		default:
		}

		name := chunkFilename(num)
		if !existing[name] {
			ok, err := downloadChunk(spanCtx, opts.Client, id, thawDir, restoreDir, name, opts.Metrics, opts.Audit)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
		}
		downloaded = num
	}

	sentinelName := chunkFilename(0)
	if !existing[sentinelName] {
		ok, err := downloadChunk(spanCtx, opts.Client, id, thawDir, restoreDir, sentinelName, opts.Metrics, opts.Audit)
		if err != nil {
			return err
		}
		if !ok {
			log.WithField("backup_id", id.ToPathBuf()).Debug("thaw: sentinel not yet available, backup still in progress")
			return nil
		}
	}
	if opts.Audit != nil {
		opts.Audit.LogSentinelObserved(id.ToPathBuf(), true, nil)
	}

	log.WithFields(logrus.Fields{"backup_id": id.ToPathBuf(), "chunks": downloaded}).Info("thaw: complete")
	return nil
}

func chunkFilename(num int64) string {
	return "chunk." + strconv.FormatInt(num, 10)
}

func existingChunkNumbers(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "thaw: readdir "+dir, err)
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	return names, nil
}

// downloadChunk fetches name from the remote backend into thawDir and
// hard-links it into restoreDir. ok is false when the object does not
// exist remotely yet (the backup is still being frozen), which is not an
// error for Thaw to observe.
func downloadChunk(ctx context.Context, client s3transport.Client, id core.BackupId, thawDir, restoreDir, name string, m *metrics.Metrics, a audit.Logger) (ok bool, err error) {
	start := time.Now()
	body, err := client.GetObject(ctx, objectKey(id, name))
	if err != nil {
		if m != nil && !cryoerr.Is(err, cryoerr.KindNotFound) {
			m.RecordTransferError(ctx, "get_object", id.Vault.String(), cryoerr.KindOf(err).String())
		}
		if cryoerr.Is(err, cryoerr.KindNotFound) {
			return false, nil
		}
		if a != nil {
			a.LogRestoreDownloaded(id.ToPathBuf(), name, false, err, time.Since(start))
		}
		return false, err
	}
	defer body.Close()
	duration := time.Since(start)
	if m != nil {
		m.RecordTransferOperation(ctx, "get_object", id.Vault.String(), duration)
	}

	thawPath := filepath.Join(thawDir, name)
	restorePath := filepath.Join(restoreDir, name)

	f, err := os.OpenFile(thawPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o660)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return true, nil
		}
		return false, cryoerr.New(cryoerr.KindInvalidInput, "thaw: create "+thawPath, err)
	}

	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return false, cryoerr.New(cryoerr.KindInvalidInput, "thaw: write "+thawPath, err)
	}
	if err := f.Close(); err != nil {
		return false, cryoerr.New(cryoerr.KindInvalidInput, "thaw: close "+thawPath, err)
	}

	if err := os.Link(thawPath, restorePath); err != nil {
		return false, cryoerr.New(cryoerr.KindInvalidInput, "thaw: link "+restorePath, err)
	}

	if a != nil {
		a.LogRestoreDownloaded(id.ToPathBuf(), name, true, nil, duration)
	}
	return true, nil
}
