package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/systmms/seccat/cmd/seccat/commands"
	"github.com/systmms/seccat/internal/config"
	dserrors "github.com/systmms/seccat/internal/errors"
	"github.com/systmms/seccat/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	memguard.CatchInterrupt()
	code := run()
	memguard.Purge()
	os.Exit(code)
}

func run() int {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}
	env := commands.NewEnv(cfg)
	defer env.Close()

	rootCmd := &cobra.Command{
		Use:   "seccat",
		Short: "Catalog of typed secrets backed by a tenant-isolated vault",
		Long: `seccat keeps a catalog of typed secret references per owner and stores the
secret material itself in an external vault, one isolated namespace per owner.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewMigrateCommand(env),
		commands.NewTypesCommand(env),
		commands.NewSecretsCommand(env),
		commands.NewTenancyCommand(env),
		commands.NewMetricsCommand(env),
		commands.NewCompletionCommand(),
	)

	err := rootCmd.Execute()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, commands.ErrPartialDelete):
		// The warning was already printed.
		return 3
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.Explain(err))
		return 1
	}
}
