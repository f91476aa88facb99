package cli

import (
	"github.com/spf13/cobra"

	"github.com/cryophile/cryophile/internal/orchestrator"
	"github.com/cryophile/cryophile/internal/s3transport"
)

type thawFlags struct {
	prefix string
	vault  string
	ulid   string
}

func newThawCommand(rt *runtime) *cobra.Command {
	f := &thawFlags{}

	cmd := &cobra.Command{
		Use:   "thaw",
		Short: "Download a backup's available chunks from cold storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThawCommand(cmd, rt, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.prefix, "prefix", "p", "", "backup prefix")
	flags.StringVarP(&f.vault, "vault", "v", "", "vault UUID")
	flags.StringVarP(&f.ulid, "ulid", "u", "", "backup ULID")

	return cmd
}

func runThawCommand(cmd *cobra.Command, rt *runtime, f *thawFlags) error {
	vault, err := parseVault(f.vault)
	if err != nil {
		return err
	}
	id, err := parseRequiredUlid(f.ulid)
	if err != nil {
		return err
	}

	spoolDir, err := resolveSpoolDir(rt)
	if err != nil {
		return err
	}

	client, err := s3transport.NewClient(cmd.Context(), rt.cfg.S3)
	if err != nil {
		return err
	}

	return orchestrator.RunThaw(cmd.Context(), orchestrator.ThawOptions{
		SpoolRoot: spoolDir,
		Vault:     vault,
		Prefix:    f.prefix,
		Ulid:      id,
		Client:    client,
		Log:       rt.log,
		Audit:     rt.audit,
	})
}
