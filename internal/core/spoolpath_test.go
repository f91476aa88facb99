package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

func TestSpoolPathComponentsToQueuePath(t *testing.T) {
	vault := uuid.New()
	id := ulid.MustParse("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	backupID := NewBackupId(vault, "daily", id)

	sp := NewSpoolPathComponents("/var/lib/cryophile", &backupID)
	require.Equal(t, filepath.Join("/var/lib/cryophile", "backup", vault.String(), "daily", id.String()), sp.ToQueuePath(QueueBackup))

	noID := NewSpoolPathComponents("/var/lib/cryophile", nil)
	require.Equal(t, filepath.Join("/var/lib/cryophile", "freeze"), noID.ToQueuePath(QueueFreeze))
}

func TestWithQueuePathCreatesDirectory(t *testing.T) {
	root := t.TempDir()
	vault := uuid.New()
	id := ulid.MustParse("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	backupID := NewBackupId(vault, "daily", id)

	sp := NewSpoolPathComponents(root, &backupID)
	path, created, err := sp.WithQueuePath(QueueBackup, CreateStrict)
	require.NoError(t, err)
	require.True(t, created)

	info, statErr := os.Stat(path)
	require.NoError(t, statErr)
	require.True(t, info.IsDir())
}

// Seeded scenario 4: concurrent backup to the same BackupId fails with
// AlreadyExists.
func TestWithQueuePathStrictRejectsExisting(t *testing.T) {
	root := t.TempDir()
	vault := uuid.New()
	id := ulid.MustParse("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	backupID := NewBackupId(vault, "daily", id)

	sp := NewSpoolPathComponents(root, &backupID)
	_, _, err := sp.WithQueuePath(QueueBackup, CreateStrict)
	require.NoError(t, err)

	_, created, err := sp.WithQueuePath(QueueBackup, CreateStrict)
	require.Error(t, err)
	require.False(t, created)
	require.Equal(t, cryoerr.KindAlreadyExists, cryoerr.KindOf(err))
}

func TestWithQueuePathReuseModeToleratesExisting(t *testing.T) {
	root := t.TempDir()
	vault := uuid.New()
	id := ulid.MustParse("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	backupID := NewBackupId(vault, "daily", id)

	sp := NewSpoolPathComponents(root, &backupID)
	_, _, err := sp.WithQueuePath(QueueBackup, CreateStrict)
	require.NoError(t, err)

	path, created, err := sp.WithQueuePath(QueueBackup, CreateReuse)
	require.NoError(t, err)
	require.False(t, created)
	require.NotEmpty(t, path)
}

func TestUseDirAtomicCreateMaybeRejectsNonDirectory(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := UseDirAtomicCreateMaybe(blocker, CreateStrict)
	require.Error(t, err)
	require.Equal(t, cryoerr.KindInvalidInput, cryoerr.KindOf(err))
}
