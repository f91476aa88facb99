package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
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

// chunkNamePattern matches the "chunk.N" filenames Split produces.
var chunkNamePattern = regexp.MustCompile(`^chunk\.(\d+)$`)

// FreezeOptions parameterizes a single Freeze invocation: it uploads
// every chunk of one backup (identified by Vault/Prefix/Ulid) from the
// freeze queue directory to Client, watching for chunks that arrive
// after Freeze starts (a backup still in progress) and terminating once
// the completion sentinel plus a contiguous [1..N] prefix is observed.
type FreezeOptions struct {
	SpoolRoot string
	Vault     uuid.UUID
	Prefix    string
	Ulid      ulid.ULID
	Client    s3transport.Client
	Log       logrus.FieldLogger
	// Metrics, when non-nil, records per-chunk upload duration and
	// failures under the "put_object" operation label.
	Metrics *metrics.Metrics
	// Audit, when non-nil, records per-chunk-uploaded and sentinel events.
	Audit audit.Logger
}

// RunFreeze walks (and, for a backup still being written, watches) the
// freeze queue directory for one BackupId, uploading each chunk in
// ascending order via Client. It returns once the backup's completion
// sentinel (chunk.0) has arrived and every chunk below it has been
// uploaded, or ctx is cancelled.
func RunFreeze(ctx context.Context, opts FreezeOptions) error {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	spanCtx, span := tracing.Tracer("cryophile/orchestrator").Start(ctx, "freeze")
	defer span.End()

	// cancel unblocks a drain() stuck sending to uploadCh once the
	// upload worker has stopped consuming it after a failed upload.
	spanCtx, cancel := context.WithCancel(spanCtx)
	defer cancel()

	id := core.NewBackupId(opts.Vault, opts.Prefix, opts.Ulid)
	paths := core.NewSpoolPathComponents(opts.SpoolRoot, &id)

	freezeDir, _, err := paths.WithQueuePath(core.QueueFreeze, core.CreateReuse)
	if err != nil {
		return err
	}

	stateDir := filepath.Join(opts.SpoolRoot, ".state")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return cryoerr.New(cryoerr.KindInvalidInput, "freeze: mkdir state dir", err)
	}

	watch, err := core.NewWatch(spanCtx, freezeDir, stateDir, log)
	if err != nil {
		return err
	}
	defer watch.Close()

	fq := core.NewFragmentQueue()
	fq.Start(1)
	uploaded := core.NewIntervalSet()

	uploadCh := make(chan core.Fragment, 16)
	errCh := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go uploadWorker(spanCtx, opts.Client, id, uploadCh, &wg, errCh, cancel, log, opts.Metrics, opts.Audit)

	var total int64 = -1
	sentinelSeen := false

	observe := func(name string) {
		num, isSentinel, ok := parseChunkName(name)
		if !ok {
			return
		}
		if isSentinel {
			sentinelSeen = true
			if opts.Audit != nil {
				opts.Audit.LogSentinelObserved(id.ToPathBuf(), true, nil)
			}
			return
		}
		if num > total {
			total = num
		}
		fq.Push(core.Fragment{Num: num, Path: filepath.Join(freezeDir, name)})
	}

	entries, err := os.ReadDir(freezeDir)
	if err != nil {
		return cryoerr.New(cryoerr.KindInvalidInput, "freeze: readdir "+freezeDir, err)
	}
	for _, e := range entries {
		observe(e.Name())
	}

	drain := func() {
		for {
			f, ok := fq.Pop()
			if !ok {
				return
			}
			select {
			case uploadCh <- f:
				uploaded.AddOne(f.Num - 1)
			case <-spanCtx.Done():
				return
			}
		}
	}
	drain()

	complete := func() bool {
		return sentinelSeen && total >= 0 && uploaded.Complete(total)
	}

	for !complete() {
		select {
		case <-spanCtx.Done():
			close(uploadCh)
			wg.Wait()
			select {
			case uploadErr := <-errCh:
				if uploadErr != nil {
					return uploadErr
				}
			default:
			}
			return spanCtx.Err()

		case ev, ok := <-watch.Events():
			if !ok {
				close(uploadCh)
				wg.Wait()
				return nil
			}
			if ev.Shutdown {
				close(uploadCh)
				wg.Wait()
				return nil
			}
			observe(filepath.Base(ev.Path))
			drain()

		case werr, ok := <-watch.Errors():
			if ok {
				log.WithError(werr).Warn("freeze: watcher error")
			}

		case uploadErr := <-errCh:
			close(uploadCh)
			wg.Wait()
			return uploadErr
		}
	}

	close(uploadCh)
	wg.Wait()

	select {
	case uploadErr := <-errCh:
		if uploadErr != nil {
			return uploadErr
		}
	default:
	}

	if err := uploadSentinel(spanCtx, opts.Client, id, freezeDir, opts.Metrics, opts.Audit); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"backup_id": id.ToPathBuf(), "chunks": total}).Info("freeze: complete")
	return nil
}

func parseChunkName(name string) (num int64, isSentinel bool, ok bool) {
	m := chunkNamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false, false
	}
	if n == 0 {
		return 0, true, true
	}
	return n, false, true
}

func uploadWorker(ctx context.Context, client s3transport.Client, id core.BackupId, in <-chan core.Fragment, wg *sync.WaitGroup, errCh chan<- error, cancel context.CancelFunc, log logrus.FieldLogger, m *metrics.Metrics, a audit.Logger) {
	defer wg.Done()

	for f := range in {
		if err := uploadFile(ctx, client, id, f.Path, m, a); err != nil {
			select {
			case errCh <- err:
			default:
			}
			log.WithError(err).WithField("path", f.Path).Error("freeze: upload failed")
			cancel()
			return
		}
		log.WithField("path", f.Path).Trace("freeze: uploaded chunk")
	}
}

func uploadFile(ctx context.Context, client s3transport.Client, id core.BackupId, path string, m *metrics.Metrics, a audit.Logger) error {
	chunk := filepath.Base(path)

	f, err := os.Open(path)
	if err != nil {
		return cryoerr.New(cryoerr.KindNotFound, "freeze: open "+path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return cryoerr.New(cryoerr.KindInvalidInput, "freeze: stat "+path, err)
	}

	key := objectKey(id, chunk)
	start := time.Now()
	err = client.PutObject(ctx, key, f, info.Size())
	duration := time.Since(start)
	if m != nil {
		if err != nil {
			m.RecordTransferError(ctx, "put_object", id.Vault.String(), cryoerr.KindOf(err).String())
		} else {
			m.RecordTransferOperation(ctx, "put_object", id.Vault.String(), duration)
		}
	}
	if a != nil {
		a.LogFreezeUploaded(id.ToPathBuf(), chunk, err == nil, err, duration)
	}
	return err
}

func uploadSentinel(ctx context.Context, client s3transport.Client, id core.BackupId, freezeDir string, m *metrics.Metrics, a audit.Logger) error {
	return uploadFile(ctx, client, id, filepath.Join(freezeDir, "chunk.0"), m, a)
}

// objectKey composes the S3 key for one chunk of id: <vault>/<canonical
// prefix>/<ulid>/<filename>, the un-schemed form of BackupId.StorageURI.
func objectKey(id core.BackupId, filename string) string {
	uri := id.StorageURI()
	key := strings.TrimPrefix(uri, "s3://")
	return fmt.Sprintf("%s/%s", key, filename)
}
