package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/seccat/internal/errors"
	"github.com/systmms/seccat/pkg/secrettype"
)

func NewTypesCommand(env *Env) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "types",
		Short: "Manage secret types",
		Long: `Secret types declare the fields a secret must supply as a JSON Schema
describing a flat object. Built-in types from the configuration are visible
to every owner.`,
	}
	addOwnerFlag(cmd, &owner)

	cmd.AddCommand(
		newTypesDefineCommand(env, &owner),
		newTypesListCommand(env, &owner),
		newTypesGetCommand(env, &owner),
		newTypesDeleteCommand(env, &owner),
	)
	return cmd
}

func newTypesDefineCommand(env *Env, owner *string) *cobra.Command {
	var (
		name       string
		schemaFile string
		reuse      bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "define",
		Short: "Define a new secret type",
		Long: `Define a secret type from a JSON Schema file.

Examples:
  # Define a type from a file
  seccat types define --owner acme --name "Database login" --schema login.json

  # Reuse an existing type with the same schema if there is one
  seccat types define --owner acme --name "Database login" --schema - --reuse < login.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(*owner); err != nil {
				return err
			}
			if schemaFile == "" {
				return dserrors.UserError{
					Message:    "Schema is required",
					Suggestion: "Use --schema <file> or --schema - to read stdin",
				}
			}
			schema, err := readInput(cmd, schemaFile)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			types, _, err := env.Catalog(ctx)
			if err != nil {
				return err
			}

			var (
				t       *secrettype.SecretType
				created = true
			)
			if reuse {
				t, created, err = types.FindOrDefine(ctx, *owner, name, json.RawMessage(schema))
			} else {
				t, err = types.Define(ctx, *owner, name, json.RawMessage(schema))
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), t)
			}
			if created {
				env.logger().Info("Defined secret type %s", t.Name)
			} else {
				env.logger().Info("Reusing secret type %s", t.Name)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), t.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name of the type")
	cmd.Flags().StringVar(&schemaFile, "schema", "", "JSON Schema file, or - for stdin")
	cmd.Flags().BoolVar(&reuse, "reuse", false, "Return an existing type with an identical schema instead of defining a new one")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newTypesListCommand(env *Env, owner *string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the types visible to an owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(*owner); err != nil {
				return err
			}
			ctx := cmd.Context()
			types, _, err := env.Catalog(ctx)
			if err != nil {
				return err
			}

			list, err := types.List(ctx, *owner)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No secret types defined")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "ID\tNAME\tSCOPE\tCREATED\n")
			for _, t := range list {
				scope := "owner"
				if t.IsBuiltin() {
					scope = "built-in"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Name, scope, t.CreatedAt.Format(timeFormat))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newTypesGetCommand(env *Env, owner *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show a secret type and its schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(*owner); err != nil {
				return err
			}
			ctx := cmd.Context()
			types, _, err := env.Catalog(ctx)
			if err != nil {
				return err
			}

			t, err := types.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !t.VisibleTo(*owner) {
				return fmt.Errorf("%w: %s", secrettype.ErrNotFound, args[0])
			}

			return writeJSON(cmd.OutOrStdout(), t)
		},
	}
}

func newTypesDeleteCommand(env *Env, owner *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a secret type no secret uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(*owner); err != nil {
				return err
			}
			ctx := cmd.Context()
			types, _, err := env.Catalog(ctx)
			if err != nil {
				return err
			}

			if err := types.Delete(ctx, *owner, args[0]); err != nil {
				return err
			}
			env.logger().Info("Deleted secret type %s", args[0])
			return nil
		},
	}
}
