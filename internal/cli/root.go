// Package cli assembles the cobra command tree for the cryophile binary:
// the persistent --spool/--config/-d/-q flags plus the backup, freeze,
// thaw, and restore subcommands from spec.md §6, wired to
// internal/config for merged TOML+env+flag configuration and to
// internal/orchestrator for the actual work.
package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cryophile/cryophile/internal/audit"
	"github.com/cryophile/cryophile/internal/config"
	"github.com/cryophile/cryophile/internal/tracing"
)

// rootFlags holds the persistent flags shared by every subcommand.
type rootFlags struct {
	spool      string
	configPath string
	debugCount int
	quiet      bool
}

// runtime bundles what every subcommand's RunE needs after the
// persistent PreRunE has resolved the logger and config.
type runtime struct {
	log      *logrus.Logger
	cfg      *config.Config
	audit    audit.Logger
	shutdown func()
}

// NewRootCommand builds the cryophile command tree. Run, in this package,
// executes it and translates the returned error to a process exit code
// via exitCodeFor.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}
	rt := &runtime{}

	root := &cobra.Command{
		Use:           "cryophile",
		Short:         "Content-encrypted, chunked backups for cold object storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(flags.debugCount, flags.quiet)
			if err != nil {
				return err
			}

			cfg, err := config.Load(flags.configPath, cmd.Flags())
			if err != nil {
				return wrapConfigErr(err)
			}
			if flags.spool != "" {
				cfg.Spool.Dir = flags.spool
			}

			shutdown, err := tracing.Init(cmd.Context(), tracing.Config{
				Exporter:    tracing.ExporterNone,
				ServiceName: "cryophile",
			})
			if err != nil {
				return err
			}

			var auditLogger audit.Logger
			if cfg.Audit.Enabled {
				auditLogger, err = audit.NewLoggerFromConfig(cfg.Audit)
				if err != nil {
					return err
				}
			}

			rt.log = logger
			rt.cfg = cfg
			rt.audit = auditLogger
			rt.shutdown = func() {
				_ = shutdown(cmd.Context())
				if rt.audit != nil {
					_ = rt.audit.Close()
				}
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if rt.shutdown != nil {
				rt.shutdown()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.spool, "spool", "", "spool directory (defaults to XDG state dir)")
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to TOML configuration file")
	root.PersistentFlags().CountVarP(&flags.debugCount, "debug", "d", "increase log verbosity (repeatable)")
	root.PersistentFlags().BoolVarP(&flags.quiet, "quiet", "q", false, "suppress all but error-level logging")

	root.AddCommand(
		newBackupCommand(rt),
		newFreezeCommand(rt),
		newThawCommand(rt),
		newRestoreCommand(rt),
	)

	return root
}

// Run executes the command tree against args (normally os.Args[1:]) and
// returns the process exit code spec.md §6 assigns to the outcome.
func Run(args []string) int {
	root := NewRootCommand()
	root.SetArgs(args)

	err := root.Execute()
	code := exitCodeFor(err)
	if err != nil {
		root.PrintErrln(root.Name() + ": " + err.Error())
	}
	return code
}
