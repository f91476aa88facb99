package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[spool]
dir = "/tmp/cryophile-spool"

[backup]
chunk_size = "16MiB"
compression = "zstd"

[crypto]
keyrings = ["/etc/cryophile/keys/ops.pgp"]

[s3]
provider = "minio"
bucket = "backups"
region = "us-east-1"
endpoint = "http://localhost:9000"

[log]
level = "debug"
style = "json"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cryophile.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesTOMLFile(t *testing.T) {
	path := writeConfig(t, sampleTOML)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	require.Equal(t, "/tmp/cryophile-spool", cfg.Spool.Dir)
	require.Equal(t, "16MiB", cfg.Backup.ChunkSize)
	require.Equal(t, "zstd", cfg.Backup.Compression)
	require.Equal(t, []string{"/etc/cryophile/keys/ops.pgp"}, cfg.Crypto.Keyrings)
	require.Equal(t, "minio", cfg.S3.Provider)
	require.Equal(t, "backups", cfg.S3.Bucket)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadAppliesDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	require.Equal(t, "64MiB", cfg.Backup.ChunkSize)
	require.Equal(t, "none", cfg.Backup.Compression)
	require.Equal(t, "aws", cfg.S3.Provider)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, sampleTOML)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("backup.compression", "lz4", "")
	require.NoError(t, flags.Set("backup.compression", "lz4"))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	require.Equal(t, "lz4", cfg.Backup.Compression)
}

func TestChunkSizeBytes(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	n, err := cfg.ChunkSizeBytes()
	require.NoError(t, err)
	require.Equal(t, int64(64*1024*1024), n)
}

func TestChunkSizeBytesRejectsBareByteCount(t *testing.T) {
	cfg := &Config{Backup: BackupConfig{ChunkSize: "65536"}}
	_, err := cfg.ChunkSizeBytes()
	require.Error(t, err)
}

func TestChunkSizeBytesRejectsByteSuffix(t *testing.T) {
	cfg := &Config{Backup: BackupConfig{ChunkSize: "65536B"}}
	_, err := cfg.ChunkSizeBytes()
	require.Error(t, err)
}

func TestChunkSizeBytesAcceptsBinarySuffix(t *testing.T) {
	cfg := &Config{Backup: BackupConfig{ChunkSize: "4KiB"}}
	n, err := cfg.ChunkSizeBytes()
	require.NoError(t, err)
	require.Equal(t, int64(4*1024), n)
}

func TestResolveSpoolDirHonorsExplicitDir(t *testing.T) {
	cfg := &Config{Spool: SpoolConfig{Dir: "/var/lib/cryophile"}}
	dir, err := cfg.ResolveSpoolDir()
	require.NoError(t, err)
	require.Equal(t, "/var/lib/cryophile", dir)
}
