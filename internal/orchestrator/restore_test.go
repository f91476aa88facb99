package orchestrator

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cryophile/cryophile/internal/compress"
	"github.com/cryophile/cryophile/internal/core"
	"github.com/cryophile/cryophile/internal/crypto"
)

// TestRestoreDoesNotDeadlockOnEarlyDecryptFailure guards against a
// regression where RunRestore passed feedCat an uncancelled context: once
// BuildDecryptor failed, RunRestore stopped reading cat but feedCat's
// drain() remained blocked sending into cat.Paths() (buffer 64) for any
// backup with more chunks than that buffer, and wg.Wait() hung forever.
// The payload here is sized well past 64 chunks so the bug, if
// reintroduced, reproduces deterministically rather than by timing luck.
func TestRestoreDoesNotDeadlockOnEarlyDecryptFailure(t *testing.T) {
	spoolRoot := t.TempDir()
	entity := testEntity(t)
	keyring, err := crypto.FilterStorageEncryptionKeys([]*openpgp.Entity{entity})
	require.NoError(t, err)

	vault := uuid.New()
	payload := bytes.Repeat([]byte("deadlock regression payload\n"), 10000)

	id, err := RunBackup(context.Background(), BackupOptions{
		SpoolRoot:   spoolRoot,
		Vault:       vault,
		Input:       bytes.NewReader(payload),
		ChunkSize:   1024,
		Compression: compress.CompressionZstd,
		Recipients:  keyring,
	})
	require.NoError(t, err)

	paths := core.NewSpoolPathComponents(spoolRoot, &id)
	freezeDir, _, err := paths.WithQueuePath(core.QueueFreeze, core.CreateReuse)
	require.NoError(t, err)
	restoreDir, _, err := paths.WithQueuePath(core.QueueRestore, core.CreateReuse)
	require.NoError(t, err)
	carryFreezeToRestore(t, freezeDir, restoreDir)

	chunkCount := countDataChunks(t, restoreDir)
	require.Greater(t, chunkCount, 64, "fixture must exceed feedCat's 64-entry channel buffer")

	// A decryptor built from a different entity than the one that
	// encrypted the backup: openpgp.ReadMessage finds no matching PKESK
	// and BuildDecryptor fails immediately, forcing RunRestore's earliest
	// error-return path while feedCat is still flooding cat.Paths().
	wrongEntity := testEntity(t)
	wrongStore := crypto.NewSecretKeyStore([]*openpgp.Entity{wrongEntity}, nil, nil)

	done := make(chan error, 1)
	go func() {
		var out bytes.Buffer
		done <- RunRestore(context.Background(), RestoreOptions{
			SpoolRoot: spoolRoot,
			Vault:     vault,
			Ulid:      id.Ulid,
			Output:    &out,
			Store:     wrongStore,
		})
	}()

	select {
	case err := <-done:
		require.Error(t, err, "restore must fail: decryptor was built from the wrong key")
	case <-time.After(5 * time.Second):
		t.Fatal("RunRestore did not return: feedCat likely deadlocked on cat.Paths()")
	}
}

func countDataChunks(t *testing.T, restoreDir string) int {
	t.Helper()
	entries, err := os.ReadDir(restoreDir)
	require.NoError(t, err)

	n := 0
	for _, e := range entries {
		if _, isSentinel, ok := parseChunkName(e.Name()); ok && !isSentinel {
			n++
		}
	}
	return n
}
