// Package config loads Cryophile's TOML configuration file, merges it
// with environment variables and CLI flags via viper/pflag, and resolves
// the spool directory the way the original implementation resolved its
// XDG state directory when no spool was given explicitly.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

// SpoolConfig is the [spool] table.
type SpoolConfig struct {
	Dir string `toml:"dir" mapstructure:"dir"`
}

// BackupConfig is the [backup] table. ChunkSize is a humanize-parseable
// string ("64MiB") rather than a raw integer so the TOML file and the
// `-s` CLI flag share one parsing path.
type BackupConfig struct {
	ChunkSize   string `toml:"chunk_size" mapstructure:"chunk_size"`
	Compression string `toml:"compression" mapstructure:"compression"`
}

// CryptoConfig is the [crypto] table.
type CryptoConfig struct {
	Keyrings []string `toml:"keyrings" mapstructure:"keyrings"`
}

// S3Config is the [s3] table, consumed by internal/s3transport. Static
// credentials are optional: when empty, the transport falls back to the
// AWS SDK's default credential chain (env vars, shared config, instance
// role), the way the teacher's client left room for either.
type S3Config struct {
	Provider        string `toml:"provider" mapstructure:"provider"`
	Bucket          string `toml:"bucket" mapstructure:"bucket"`
	Region          string `toml:"region" mapstructure:"region"`
	Endpoint        string `toml:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `toml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key" mapstructure:"secret_access_key"`
	SessionToken    string `toml:"session_token" mapstructure:"session_token"`
}

// LogConfig is the [log] table.
type LogConfig struct {
	Level string `toml:"level" mapstructure:"level"`
	Style string `toml:"style" mapstructure:"style"`
}

// AuditSinkConfig is the [audit.sink] table, consumed by internal/audit's
// NewLoggerFromConfig.
type AuditSinkConfig struct {
	Type          string            `toml:"type" mapstructure:"type"` // "stdout", "file", "http"
	FilePath      string            `toml:"file_path" mapstructure:"file_path"`
	Endpoint      string            `toml:"endpoint" mapstructure:"endpoint"`
	Headers       map[string]string `toml:"headers" mapstructure:"headers"`
	BatchSize     int               `toml:"batch_size" mapstructure:"batch_size"`
	FlushInterval time.Duration     `toml:"flush_interval" mapstructure:"flush_interval"`
	RetryCount    int               `toml:"retry_count" mapstructure:"retry_count"`
	RetryBackoff  time.Duration     `toml:"retry_backoff" mapstructure:"retry_backoff"`
}

// AuditConfig is the [audit] table.
type AuditConfig struct {
	Enabled             bool            `toml:"enabled" mapstructure:"enabled"`
	MaxEvents           int             `toml:"max_events" mapstructure:"max_events"`
	RedactMetadataKeys  []string        `toml:"redact_metadata_keys" mapstructure:"redact_metadata_keys"`
	Sink                AuditSinkConfig `toml:"sink" mapstructure:"sink"`
}

// Config is the fully merged configuration: TOML file, overridden by
// environment variables (CRYOPHILE_<SECTION>_<KEY>), overridden by
// explicit CLI flags.
type Config struct {
	Spool  SpoolConfig  `toml:"spool" mapstructure:"spool"`
	Backup BackupConfig `toml:"backup" mapstructure:"backup"`
	Crypto CryptoConfig `toml:"crypto" mapstructure:"crypto"`
	S3     S3Config     `toml:"s3" mapstructure:"s3"`
	Log    LogConfig    `toml:"log" mapstructure:"log"`
	Audit  AuditConfig  `toml:"audit" mapstructure:"audit"`
}

// Defaults applied before the TOML file, environment, and flags are
// layered on top.
func Defaults() Config {
	return Config{
		Backup: BackupConfig{
			ChunkSize:   "64MiB",
			Compression: "none",
		},
		S3: S3Config{
			Provider: "aws",
		},
		Log: LogConfig{
			Level: "info",
			Style: "auto",
		},
		Audit: AuditConfig{
			Enabled:   true,
			MaxEvents: 1000,
			Sink:      AuditSinkConfig{Type: "stdout"},
		},
	}
}

// Load reads configPath (if non-empty) as TOML into viper, merges
// CRYOPHILE_-prefixed environment variables, binds flags, and decodes
// the result into a Config. An empty configPath skips the file layer
// entirely (environment and flags only).
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	fromFile := Defaults()
	if configPath != "" {
		if _, err := toml.DecodeFile(configPath, &fromFile); err != nil {
			return nil, cryoerr.New(cryoerr.KindInvalidInput, "parse config "+configPath, err)
		}
	}

	// viper layers CRYOPHILE_-prefixed environment variables and bound
	// CLI flags on top of the values BurntSushi/toml already decoded from
	// the file, so the TOML parser stays the single source of truth for
	// the file format while viper owns precedence across sources.
	v := viper.New()
	v.SetEnvPrefix("cryophile")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("spool.dir", fromFile.Spool.Dir)
	v.SetDefault("backup.chunk_size", fromFile.Backup.ChunkSize)
	v.SetDefault("backup.compression", fromFile.Backup.Compression)
	v.SetDefault("crypto.keyrings", fromFile.Crypto.Keyrings)
	v.SetDefault("s3.provider", fromFile.S3.Provider)
	v.SetDefault("s3.bucket", fromFile.S3.Bucket)
	v.SetDefault("s3.region", fromFile.S3.Region)
	v.SetDefault("s3.endpoint", fromFile.S3.Endpoint)
	v.SetDefault("s3.access_key_id", fromFile.S3.AccessKeyID)
	v.SetDefault("s3.secret_access_key", fromFile.S3.SecretAccessKey)
	v.SetDefault("s3.session_token", fromFile.S3.SessionToken)
	v.SetDefault("log.level", fromFile.Log.Level)
	v.SetDefault("log.style", fromFile.Log.Style)
	v.SetDefault("audit.enabled", fromFile.Audit.Enabled)
	v.SetDefault("audit.max_events", fromFile.Audit.MaxEvents)
	v.SetDefault("audit.redact_metadata_keys", fromFile.Audit.RedactMetadataKeys)
	v.SetDefault("audit.sink.type", fromFile.Audit.Sink.Type)
	v.SetDefault("audit.sink.file_path", fromFile.Audit.Sink.FilePath)
	v.SetDefault("audit.sink.endpoint", fromFile.Audit.Sink.Endpoint)
	v.SetDefault("audit.sink.headers", fromFile.Audit.Sink.Headers)
	v.SetDefault("audit.sink.batch_size", fromFile.Audit.Sink.BatchSize)
	v.SetDefault("audit.sink.flush_interval", fromFile.Audit.Sink.FlushInterval)
	v.SetDefault("audit.sink.retry_count", fromFile.Audit.Sink.RetryCount)
	v.SetDefault("audit.sink.retry_backoff", fromFile.Audit.Sink.RetryBackoff)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, cryoerr.New(cryoerr.KindInvalidInput, "bind flags", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "unmarshal config", err)
	}

	return &cfg, nil
}

// chunkSizeSuffixPattern requires a trailing alphabetic unit, so a bare
// numeric chunk size (interpreted by humanize.ParseBytes as raw bytes) is
// rejected before it ever reaches the parser.
var chunkSizeSuffixPattern = regexp.MustCompile(`^[0-9.]+\s*([A-Za-z]+)$`)

// ChunkSizeBytes parses Backup.ChunkSize with the same binary-suffix
// grammar used by the `-s` CLI flag. spec.md §6 requires a binary suffix
// (KiB/MiB/GiB/...) and denies a bare byte count or an explicit "B" unit.
func (c *Config) ChunkSizeBytes() (int64, error) {
	trimmed := strings.TrimSpace(c.Backup.ChunkSize)
	m := chunkSizeSuffixPattern.FindStringSubmatch(trimmed)
	if m == nil || !strings.HasSuffix(strings.TrimSuffix(strings.ToLower(m[1]), "b"), "i") {
		return 0, cryoerr.New(cryoerr.KindInvalidInput, "parse chunk size "+c.Backup.ChunkSize,
			fmt.Errorf("chunk size must use a binary suffix (e.g. 64MiB), not a bare byte count"))
	}

	n, err := humanize.ParseBytes(trimmed)
	if err != nil {
		return 0, cryoerr.New(cryoerr.KindInvalidInput, "parse chunk size "+c.Backup.ChunkSize, err)
	}
	return int64(n), nil
}

// ResolveSpoolDir returns Spool.Dir if set, otherwise falls back to the
// XDG state directory the way the original implementation's
// core/path.rs::use_base_dir fell back to `xdg::BaseDirectories::get_state_home`:
// if the directory doesn't exist it is created; if it exists but is not a
// directory, that's an InvalidInput error.
func (c *Config) ResolveSpoolDir() (string, error) {
	if c.Spool.Dir != "" {
		return c.Spool.Dir, nil
	}

	stateHome := xdg.StateHome
	info, err := os.Stat(stateHome)
	if err != nil {
		if err := os.MkdirAll(stateHome, 0o755); err != nil {
			return "", cryoerr.New(cryoerr.KindInvalidInput, "create xdg state home", err)
		}
		return stateHome, nil
	}
	if !info.IsDir() {
		return "", cryoerr.New(cryoerr.KindInvalidInput, "xdg state home", fmt.Errorf("%s exists and is not a directory", stateHome))
	}
	return stateHome, nil
}
