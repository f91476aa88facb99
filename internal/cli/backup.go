package cli

import (
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/cryophile/cryophile/internal/compress"
	"github.com/cryophile/cryophile/internal/crypto"
	"github.com/cryophile/cryophile/internal/keyring"
	"github.com/cryophile/cryophile/internal/orchestrator"
)

type backupFlags struct {
	compression string
	input       string
	prefix      string
	keyrings    []string
	chunkSize   string
	vault       string
	ulidStr     string
	timestamp   string
	recipient   string
}

func newBackupCommand(rt *runtime) *cobra.Command {
	f := &backupFlags{}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Read, compress, encrypt, and chunk a stream into the spool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackupCommand(cmd, rt, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.compression, "compression", "C", "", "compression (none|lz4|zstd), overrides config")
	flags.StringVarP(&f.input, "input", "i", "-", "input file, or - for stdin")
	flags.StringVarP(&f.prefix, "prefix", "p", "", "backup prefix (also accepted as -o)")
	flags.StringVarP(&f.prefix, "prefix-alias", "o", "", "backup prefix (alias of -p)")
	_ = flags.MarkHidden("prefix-alias")
	flags.StringArrayVarP(&f.keyrings, "keyring", "k", nil, "OpenPGP keyring file or glob (repeatable)")
	flags.StringVarP(&f.chunkSize, "size", "s", "", "chunk size, binary suffixes only (e.g. 64MiB), overrides config")
	flags.StringVarP(&f.vault, "vault", "v", "", "vault UUID")
	flags.StringVarP(&f.ulidStr, "ulid", "u", "", "explicit backup ULID")
	flags.StringVarP(&f.timestamp, "time", "t", "", "RFC3339 timestamp to derive a fresh ULID from")
	flags.StringVarP(&f.recipient, "recipient", "r", "", "optional age recipient, validated but not used for encryption")
	cmd.MarkFlagsMutuallyExclusive("ulid", "time")

	return cmd
}

func runBackupCommand(cmd *cobra.Command, rt *runtime, f *backupFlags) error {
	vault, err := parseVault(f.vault)
	if err != nil {
		return err
	}

	var id ulid.ULID
	var at time.Time
	switch {
	case f.ulidStr != "":
		id, err = ulid.Parse(f.ulidStr)
		if err != nil {
			return newUsageErr("invalid ULID: " + err.Error())
		}
	case f.timestamp != "":
		at, err = time.Parse(time.RFC3339, f.timestamp)
		if err != nil {
			return newUsageErr("invalid -t timestamp: " + err.Error())
		}
	}

	compression := rt.cfg.Backup.Compression
	if f.compression != "" {
		compression = f.compression
	}
	kind, err := compress.ParseCompressionType(compression)
	if err != nil {
		return err
	}

	chunkSizeStr := rt.cfg.Backup.ChunkSize
	if f.chunkSize != "" {
		chunkSizeStr = f.chunkSize
	}
	rt.cfg.Backup.ChunkSize = chunkSizeStr
	chunkSize, err := rt.cfg.ChunkSizeBytes()
	if err != nil {
		return err
	}

	keyringPaths := f.keyrings
	if len(keyringPaths) == 0 {
		keyringPaths = rt.cfg.Crypto.Keyrings
	}
	expanded, err := keyring.ExpandPaths(keyringPaths)
	if err != nil {
		return err
	}
	certs, err := keyring.LoadKeyrings(expanded)
	if err != nil {
		return err
	}
	recipients, err := crypto.FilterStorageEncryptionKeys([]*openpgp.Entity(certs))
	if err != nil {
		return err
	}

	if f.recipient != "" {
		if _, err := keyring.ParseAgeRecipient(f.recipient); err != nil {
			return newUsageErr("invalid age recipient: " + err.Error())
		}
	}

	spoolDir, err := resolveSpoolDir(rt)
	if err != nil {
		return err
	}

	input, err := openInputFile(f.input)
	if err != nil {
		return err
	}
	defer input.Close()

	prefix := f.prefix

	backupID, err := orchestrator.RunBackup(cmd.Context(), orchestrator.BackupOptions{
		SpoolRoot:   spoolDir,
		Vault:       vault,
		Prefix:      prefix,
		Ulid:        id,
		At:          at,
		Input:       input,
		ChunkSize:   chunkSize,
		Compression: kind,
		Recipients:  recipients,
		Log:         rt.log,
		Audit:       rt.audit,
	})
	if err != nil {
		return err
	}

	rt.log.WithField("backup_id", backupID.ToPathBuf()).Info("backup complete")
	return nil
}

func parseVault(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	v, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, newUsageErr("invalid -v vault UUID: " + err.Error())
	}
	return v, nil
}
