package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewMigrateCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the catalog tables",
		Long: `Create the secret_types and secrets tables if they do not exist and register
the built-in types from the configuration. Running it again is harmless.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := env.Store(ctx)
			if err != nil {
				return err
			}
			if err := s.Migrate(ctx); err != nil {
				return err
			}
			if _, _, err := env.Catalog(ctx); err != nil {
				return err
			}

			env.logger().Info("Catalog schema is up to date")
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d built-in type(s) configured\n", len(env.Config.Definition.BuiltinTypes))
			return nil
		},
	}
}
