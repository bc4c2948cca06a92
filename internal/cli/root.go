// Package cli provides the command-line interface for wardsql.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/leapstack-labs/wardsql/internal/cli/commands"
	"github.com/leapstack-labs/wardsql/internal/config"
	"github.com/spf13/cobra"
)

var cfgFile string

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wardsql",
		Short: "wardsql - SQL safety gate for clinical databases",
		Long: `wardsql validates candidate SQL against a schema catalog before it
touches the hospital database: a static guard rejects writes, wildcard
projections, ungrounded identifiers and protected-column exposure, the
executor runs approved queries read-only under a strict budget, and the
validator grades the results.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			logger := slog.New(slog.DiscardHandler)
			if cfg.Verbose {
				logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
					Level: slog.LevelDebug,
				}))
				if used := config.FileUsed(); used != "" {
					fmt.Fprintf(os.Stderr, "Using config file: %s\n", used)
				}
			}

			ctx := commands.WithConfig(cmd.Context(), cfg)
			ctx = commands.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./wardsql.yaml)")
	rootCmd.PersistentFlags().String("catalog", "", "Path to the schema catalog YAML")
	rootCmd.PersistentFlags().String("concepts", "", "Path to the concept dictionary YAML")
	rootCmd.PersistentFlags().Bool("watch", false, "Reload the catalog when the file changes")
	rootCmd.PersistentFlags().String("audit-db", "", "Path to the audit trail database")
	rootCmd.PersistentFlags().Int("max-rows", 0, "Maximum literal LIMIT for row-level queries")
	rootCmd.PersistentFlags().Int("timeout-ms", 0, "Statement timeout in milliseconds")
	rootCmd.PersistentFlags().Int("row-cap", 0, "Maximum rows returned per query")
	rootCmd.PersistentFlags().String("db-type", "", "Target database type (postgres|duckdb)")
	rootCmd.PersistentFlags().String("db-path", "", "Target database file path (duckdb)")
	rootCmd.PersistentFlags().String("host", "", "Target database host")
	rootCmd.PersistentFlags().Int("port", 0, "Target database port")
	rootCmd.PersistentFlags().String("database", "", "Target database name")
	rootCmd.PersistentFlags().String("username", "", "Target database user")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(commands.NewCheckCommand())
	rootCmd.AddCommand(commands.NewAskCommand())
	rootCmd.AddCommand(commands.NewCatalogCommand())
	rootCmd.AddCommand(commands.NewAuditCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(Version, BuildDate, GitCommit))
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for wardsql.

Bash:
  $ source <(wardsql completion bash)

Zsh:
  $ wardsql completion zsh > "${fpath[1]}/_wardsql"

Fish:
  $ wardsql completion fish | source
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			}
			return nil
		},
	}
}
