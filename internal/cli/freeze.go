package cli

import (
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/cryophile/cryophile/internal/orchestrator"
	"github.com/cryophile/cryophile/internal/s3transport"
)

type freezeFlags struct {
	prefix      string
	vault       string
	ulid        string
	metricsAddr string
}

func newFreezeCommand(rt *runtime) *cobra.Command {
	f := &freezeFlags{}

	cmd := &cobra.Command{
		Use:   "freeze",
		Short: "Upload a backup's chunks from the freeze queue to cold storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFreezeCommand(cmd, rt, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.prefix, "prefix", "p", "", "backup prefix")
	flags.StringVarP(&f.vault, "vault", "v", "", "vault UUID")
	flags.StringVarP(&f.ulid, "ulid", "u", "", "backup ULID")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "address to serve /metrics and health endpoints on (disabled if empty)")

	return cmd
}

func runFreezeCommand(cmd *cobra.Command, rt *runtime, f *freezeFlags) error {
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

	stopMetrics, m, err := startMetricsServer(f.metricsAddr, rt.log, nil)
	if err != nil {
		return err
	}
	defer stopMetrics()

	return orchestrator.RunFreeze(cmd.Context(), orchestrator.FreezeOptions{
		SpoolRoot: spoolDir,
		Vault:     vault,
		Prefix:    f.prefix,
		Ulid:      id,
		Client:    client,
		Log:       rt.log,
		Metrics:   m,
		Audit:     rt.audit,
	})
}

func parseRequiredUlid(s string) (ulid.ULID, error) {
	if s == "" {
		return ulid.ULID{}, newUsageErr("-u <ulid> is required")
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, newUsageErr("invalid ULID: " + err.Error())
	}
	return id, nil
}
