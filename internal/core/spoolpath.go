package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

// SpoolPathComponents computes filesystem paths under a spool root for a
// given queue, optionally scoped to a BackupId.
type SpoolPathComponents struct {
	SpoolRoot string
	Id        *BackupId
}

// NewSpoolPathComponents scopes path computation to spoolRoot and, if id
// is non-nil, a specific BackupId.
func NewSpoolPathComponents(spoolRoot string, id *BackupId) SpoolPathComponents {
	return SpoolPathComponents{SpoolRoot: spoolRoot, Id: id}
}

// ToQueuePath composes spool_root / queue_name / [vault / prefix / ulid]
// without touching the filesystem.
func (s SpoolPathComponents) ToQueuePath(queue Queue) string {
	if s.Id == nil {
		return filepath.Join(s.SpoolRoot, queue.String())
	}
	return filepath.Join(s.SpoolRoot, queue.String(), s.Id.ToPathBuf())
}

// CreateMode controls how WithQueuePath materializes the directory.
type CreateMode int

const (
	// CreateStrict fails with AlreadyExists if the leaf directory exists.
	CreateStrict CreateMode = iota
	// CreateReuse turns AlreadyExists on an existing directory into a
	// non-error "reuse" outcome.
	CreateReuse
)

// WithQueuePath materializes the directory for queue and returns the path
// plus whether this call created it (false means it already existed and
// mode was CreateReuse).
func (s SpoolPathComponents) WithQueuePath(queue Queue, mode CreateMode) (string, bool, error) {
	path := s.ToQueuePath(queue)
	created, err := UseDirAtomicCreateMaybe(path, mode)
	if err != nil {
		return "", false, fmt.Errorf("with queue path %s: %w", path, err)
	}
	return path, created, nil
}

// UseDirAtomicCreateMaybe implements the two-step atomic mkdir: parent
// directories are created recursively with mode 0o755, and the leaf is
// created non-recursively so two concurrent callers racing for the same
// path cannot both succeed. Any non-directory blocking the final path is
// reported as InvalidInput.
//
// mode controls how an already-existing leaf is handled: CreateStrict
// surfaces AlreadyExists, CreateReuse reports created=false instead.
func UseDirAtomicCreateMaybe(path string, mode CreateMode) (created bool, err error) {
	parent := filepath.Dir(path)
	if parent != "." && parent != path {
		if mkErr := os.MkdirAll(parent, 0o755); mkErr != nil {
			return false, cryoerr.New(cryoerr.KindInvalidInput, "mkdir parent "+parent, mkErr)
		}
	}

	mkErr := os.Mkdir(path, 0o755)
	if mkErr == nil {
		return true, nil
	}
	if !os.IsExist(mkErr) {
		return false, cryoerr.New(cryoerr.KindInvalidInput, "mkdir "+path, mkErr)
	}

	info, statErr := os.Lstat(path)
	if statErr != nil {
		return false, cryoerr.New(cryoerr.KindInvalidInput, "stat "+path, statErr)
	}
	if !info.IsDir() {
		return false, cryoerr.New(cryoerr.KindInvalidInput, path, mkErr)
	}

	if mode == CreateReuse {
		return false, nil
	}
	return false, cryoerr.New(cryoerr.KindAlreadyExists, path, mkErr)
}
