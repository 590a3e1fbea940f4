package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/seccat/internal/logging"
	"github.com/systmms/seccat/pkg/catalog"
)

// ErrPartialDelete is returned by 'secrets delete' when the catalog entry was
// removed but its vault material was not. main maps it to exit code 3.
var ErrPartialDelete = errors.New("secret deleted but its material remains in the vault")

func NewSecretsCommand(env *Env) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage secrets and their material",
		Long: `Secrets are catalog entries of a secret type. Their material is kept in the
owner's vault namespace at {typeId}/{secretId} and never in the catalog.`,
	}
	addOwnerFlag(cmd, &owner)

	cmd.AddCommand(
		newSecretsCreateCommand(env, &owner),
		newSecretsListCommand(env, &owner),
		newSecretsGetCommand(env, &owner),
		newSecretsRenameCommand(env, &owner),
		newSecretsReadCommand(env, &owner),
		newSecretsWriteCommand(env, &owner),
		newSecretsDeleteCommand(env, &owner),
	)
	return cmd
}

func newSecretsCreateCommand(env *Env, owner *string) *cobra.Command {
	var (
		typeID     string
		name       string
		fieldPairs []string
		fieldsFile string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a secret and store its material",
		Long: `Create a catalog entry and write its material to the vault. The fields are
checked against the secret type first. If the vault write fails, the entry is
removed again.

Examples:
  seccat secrets create --owner acme --type <type-id> --name "Primary DB" \
    --field username=app --field password=hunter2

  # Typed values (numbers, booleans) come from a JSON file
  seccat secrets create --owner acme --type <type-id> --name "Primary DB" --fields-file db.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(*owner); err != nil {
				return err
			}
			fields, err := collectFields(cmd, fieldPairs, fieldsFile)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			secrets, err := env.Secrets(ctx)
			if err != nil {
				return err
			}

			sec, err := secrets.Create(ctx, *owner, typeID, name, fields)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), sec)
			}
			env.logger().Info("Created secret %s", sec.Name)
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), sec.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&typeID, "type", "", "Secret type id")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringArrayVar(&fieldPairs, "field", nil, "Field as key=value (repeatable)")
	cmd.Flags().StringVar(&fieldsFile, "fields-file", "", "JSON object of fields, or - for stdin")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newSecretsListCommand(env *Env, owner *string) *cobra.Command {
	var (
		typeID     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(*owner); err != nil {
				return err
			}
			ctx := cmd.Context()
			_, cat, err := env.Catalog(ctx)
			if err != nil {
				return err
			}

			list, err := cat.List(ctx, *owner, typeID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No secrets found")
				return nil
			}
			return printSecrets(cmd, list)
		},
	}

	cmd.Flags().StringVar(&typeID, "type", "", "Only secrets of this type")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func printSecrets(cmd *cobra.Command, list []*catalog.Secret) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "ID\tNAME\tTYPE\tUPDATED\n")
	for _, s := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.TypeID, s.UpdatedAt.Format(timeFormat))
	}
	return w.Flush()
}

func newSecretsGetCommand(env *Env, owner *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show a secret's catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(*owner); err != nil {
				return err
			}
			ctx := cmd.Context()
			_, cat, err := env.Catalog(ctx)
			if err != nil {
				return err
			}

			sec, err := cat.Get(ctx, *owner, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), struct {
				*catalog.Secret
				Path string `json:"path"`
			}{sec, sec.Path()})
		},
	}
}

func newSecretsRenameCommand(env *Env, owner *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Change a secret's display name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(*owner); err != nil {
				return err
			}
			ctx := cmd.Context()
			_, cat, err := env.Catalog(ctx)
			if err != nil {
				return err
			}

			sec, err := cat.Rename(ctx, *owner, args[0], args[1])
			if err != nil {
				return err
			}
			env.logger().Info("Renamed secret %s to %s", sec.ID, sec.Name)
			return nil
		},
	}
}

func newSecretsReadCommand(env *Env, owner *string) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "read ID",
		Short: "Read a secret's material",
		Long: `Read a secret's material from the vault. Values are redacted unless
--reveal is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(*owner); err != nil {
				return err
			}
			ctx := cmd.Context()
			secrets, err := env.Secrets(ctx)
			if err != nil {
				return err
			}

			m, err := secrets.Read(ctx, *owner, args[0])
			if err != nil {
				return err
			}
			if reveal {
				return writeJSON(cmd.OutOrStdout(), m.Fields)
			}
			return writeJSON(cmd.OutOrStdout(), logging.RedactFields(m.Fields))
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print secret values")
	return cmd
}

func newSecretsWriteCommand(env *Env, owner *string) *cobra.Command {
	var (
		fieldPairs []string
		fieldsFile string
		verify     bool
	)

	cmd := &cobra.Command{
		Use:   "write ID",
		Short: "Replace a secret's material",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(*owner); err != nil {
				return err
			}
			fields, err := collectFields(cmd, fieldPairs, fieldsFile)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			secrets, err := env.Secrets(ctx)
			if err != nil {
				return err
			}

			sec, err := secrets.Write(ctx, *owner, args[0], fields)
			if err != nil {
				return err
			}
			if verify {
				if err := secrets.Verify(ctx, *owner, sec.ID, fields); err != nil {
					return err
				}
			}
			env.logger().Info("Wrote %d field(s) to secret %s", len(fields), sec.Name)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&fieldPairs, "field", nil, "Field as key=value (repeatable)")
	cmd.Flags().StringVar(&fieldsFile, "fields-file", "", "JSON object of fields, or - for stdin")
	cmd.Flags().BoolVar(&verify, "verify", false, "Read the material back and compare")
	return cmd
}

func newSecretsDeleteCommand(env *Env, owner *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a secret and its material",
		Long: `Delete a secret's vault material and then its catalog entry. The entry is
removed even when the vault delete fails; the command then warns about the
orphaned material and exits with status 3.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(*owner); err != nil {
				return err
			}
			ctx := cmd.Context()
			secrets, err := env.Secrets(ctx)
			if err != nil {
				return err
			}

			result, err := secrets.Delete(ctx, *owner, args[0])
			if err != nil {
				return err
			}
			if result.Partial() {
				env.logger().Warn("Secret %s was removed from the catalog, but its material at %s could not be deleted: %v",
					result.Secret.ID, result.Secret.Path(), result.MaterialErr)
				return ErrPartialDelete
			}
			env.logger().Info("Deleted secret %s", result.Secret.Name)
			return nil
		},
	}
}
