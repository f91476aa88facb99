package cli

import (
	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/spf13/cobra"

	"github.com/cryophile/cryophile/internal/crypto"
	"github.com/cryophile/cryophile/internal/keyring"
	"github.com/cryophile/cryophile/internal/orchestrator"
)

type restoreFlags struct {
	passFd      int
	output      string
	keyrings    []string
	prefix      string
	vault       string
	ulid        string
	metricsAddr string
}

func newRestoreCommand(rt *runtime) *cobra.Command {
	f := &restoreFlags{}

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Reassemble, decrypt, and decompress a backup's restore queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestoreCommand(cmd, rt, f)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&f.passFd, "pass-fd", 0, "file descriptor to read an unlock passphrase from")
	flags.StringVarP(&f.output, "output", "o", "-", "output file, or - for stdout")
	flags.StringArrayVarP(&f.keyrings, "keyring", "k", nil, "OpenPGP keyring file or glob, with the matching secret key (repeatable)")
	flags.StringVarP(&f.prefix, "prefix", "p", "", "backup prefix")
	flags.StringVarP(&f.vault, "vault", "v", "", "vault UUID")
	flags.StringVarP(&f.ulid, "ulid", "u", "", "backup ULID")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "address to serve /metrics and health endpoints on (disabled if empty)")

	return cmd
}

func runRestoreCommand(cmd *cobra.Command, rt *runtime, f *restoreFlags) error {
	vault, err := parseVault(f.vault)
	if err != nil {
		return err
	}
	id, err := parseRequiredUlid(f.ulid)
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

	var provider crypto.PassphraseProvider
	fdProvider, err := newFdPassphraseProvider(f.passFd)
	if err != nil {
		return err
	}
	if fdProvider != nil {
		provider = fdProvider
	}

	store := crypto.NewSecretKeyStore([]*openpgp.Entity(certs), provider, rt.log)

	spoolDir, err := resolveSpoolDir(rt)
	if err != nil {
		return err
	}

	output, err := openOutputFile(f.output)
	if err != nil {
		return err
	}
	defer output.Close()

	stopMetrics, _, err := startMetricsServer(f.metricsAddr, rt.log, nil)
	if err != nil {
		return err
	}
	defer stopMetrics()

	return orchestrator.RunRestore(cmd.Context(), orchestrator.RestoreOptions{
		SpoolRoot: spoolDir,
		Vault:     vault,
		Prefix:    f.prefix,
		Ulid:      id,
		Output:    output,
		Store:     store,
		Log:       rt.log,
		Audit:     rt.audit,
	})
}
