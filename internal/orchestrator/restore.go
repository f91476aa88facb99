package orchestrator

import (
	"bufio"
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

// RestoreOptions parameterizes a single Restore invocation: it mirrors
// Backup in reverse, reassembling the chunks Thaw has already placed (or
// is still placing) into the restore queue directory for one BackupId.
type RestoreOptions struct {
	SpoolRoot   string
	Vault       uuid.UUID
	Prefix      string
	Ulid        ulid.ULID
	Output      io.Writer
	Store       *crypto.SecretKeyStore
	Compression compress.CompressionType // CompressionNone triggers magic-byte auto-detect
	Forced      bool                     // true: Compression names the encoding explicitly, skip auto-detect
	Log         logrus.FieldLogger
	// Audit, when non-nil, records the envelope decrypt attempt.
	Audit audit.Logger
}

// RunRestore feeds every chunk of one BackupId's restore queue through
// Cat in ascending order, then through the OpenPGP decryptor and the
// compression adapter, writing the reassembled plaintext to Output. If
// the restore directory already contains the completion sentinel plus a
// contiguous [1..N] prefix, it returns without watching further;
// otherwise it watches for chunks Thaw is still placing.
func RunRestore(ctx context.Context, opts RestoreOptions) error {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	spanCtx, span := tracing.Tracer("cryophile/orchestrator").Start(ctx, "restore")
	defer span.End()

	// cancel unblocks feedCat's drain() stuck sending to cat.Paths() once
	// RunRestore stops reading cat on an early-return path (decryptor,
	// decompressor, or output-copy failure) — mirrors freeze.go's same
	// fix for uploadCh.
	spanCtx, cancel := context.WithCancel(spanCtx)
	defer cancel()

	id := core.NewBackupId(opts.Vault, opts.Prefix, opts.Ulid)
	paths := core.NewSpoolPathComponents(opts.SpoolRoot, &id)

	restoreDir, _, err := paths.WithQueuePath(core.QueueRestore, core.CreateReuse)
	if err != nil {
		return err
	}

	cat := core.NewCat(log.WithField("backup_id", id.ToPathBuf()))

	var wg sync.WaitGroup
	wg.Add(1)
	go feedCat(spanCtx, opts.SpoolRoot, restoreDir, cat, log, &wg)

	reader := bufio.NewReader(cat)

	decryptStart := time.Now()
	plaintext, err := crypto.BuildDecryptor(opts.Store, reader)
	if opts.Audit != nil {
		opts.Audit.LogDecryptAttempted(id.ToPathBuf(), "openpgp", err == nil, err, time.Since(decryptStart))
	}
	if err != nil {
		wg.Wait()
		return err
	}

	var decompressed io.Reader
	if opts.Forced {
		decompressed, err = compress.NewDecoder(opts.Compression, plaintext)
	} else {
		decompressed, _, err = compress.AutoDetect(plaintext)
	}
	if err != nil {
		wg.Wait()
		return cryoerr.New(cryoerr.KindInvalidInput, "restore: build decompressor", err)
	}

	written, copyErr := io.Copy(opts.Output, decompressed)
	wg.Wait()
	if copyErr != nil {
		return cryoerr.New(cryoerr.KindInvalidInput, "restore: copy output", copyErr)
	}

	log.WithFields(logrus.Fields{"backup_id": id.ToPathBuf(), "bytes": written}).Info("restore: complete")
	return nil
}

// feedCat walks restoreDir for chunks already present, then watches for
// further arrivals, pushing paths onto cat.Paths() strictly in ascending
// Num order via a FragmentQueue, and closes cat once the completion
// sentinel plus a contiguous [1..N] prefix has been delivered.
func feedCat(ctx context.Context, spoolRoot, restoreDir string, cat *core.Cat, log logrus.FieldLogger, wg *sync.WaitGroup) {
	defer wg.Done()
	defer cat.Close()

	fq := core.NewFragmentQueue()
	fq.Start(1)
	delivered := core.NewIntervalSet()

	var total int64 = -1
	sentinelSeen := false

	observe := func(name string) {
		num, isSentinel, ok := parseChunkName(name)
		if !ok {
			return
		}
		if isSentinel {
			sentinelSeen = true
			return
		}
		if num > total {
			total = num
		}
		fq.Push(core.Fragment{Num: num, Path: filepath.Join(restoreDir, name)})
	}

	drain := func() {
		for {
			f, ok := fq.Pop()
			if !ok {
				return
			}
			path := f.Path
			select {
			case cat.Paths() <- &path:
				delivered.AddOne(f.Num - 1)
			case <-ctx.Done():
				return
			}
		}
	}

	entries, err := os.ReadDir(restoreDir)
	if err != nil {
		log.WithError(err).Error("restore: readdir failed")
		return
	}
	for _, e := range entries {
		observe(e.Name())
	}
	drain()

	complete := func() bool {
		if sentinelSeen && total < 0 {
			return true // zero-data-chunk backup: sentinel alone is the whole backup
		}
		return sentinelSeen && total >= 0 && delivered.Complete(total)
	}
	if complete() {
		return
	}

	stateDir := filepath.Join(spoolRoot, ".state")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		log.WithError(err).Error("restore: mkdir state dir")
		return
	}

	watch, err := core.NewWatch(ctx, restoreDir, stateDir, log)
	if err != nil {
		log.WithError(err).Error("restore: watch failed")
		return
	}
	defer watch.Close()

	for !complete() {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watch.Events():
			if !ok {
				return
			}
			if ev.Shutdown {
				return
			}
			observe(filepath.Base(ev.Path))
			drain()
		case werr, ok := <-watch.Errors():
			if ok {
				log.WithError(werr).Warn("restore: watcher error")
			}
		}
	}
}
