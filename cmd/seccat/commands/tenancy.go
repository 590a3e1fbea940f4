package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/seccat/internal/errors"
	"github.com/systmms/seccat/internal/logging"
	"github.com/systmms/seccat/internal/tenancy"
)

func NewTenancyCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenancy",
		Short: "Manage owner to vault token mappings",
	}
	cmd.AddCommand(
		newTenancyOwnersCommand(env),
		newTenancySetTokenCommand(env),
	)
	return cmd
}

func newTenancyOwnersCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "owners",
		Short: "List owners with a statically configured token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.load(); err != nil {
				return err
			}
			static := tenancy.NewStaticResolver(env.Config.Definition.Tenancy.Static)
			for _, owner := range static.Owners() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), owner)
			}
			return nil
		},
	}
}

func newTenancySetTokenCommand(env *Env) *cobra.Command {
	var (
		owner     string
		tokenFile string
	)

	cmd := &cobra.Command{
		Use:   "set-token",
		Short: "Store an owner's vault token in the OS keyring",
		Long: `Read a vault token and store it in the OS keyring under the configured
service name. The keyring resolver must be enabled in tenancy.keyring.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(owner); err != nil {
				return err
			}
			if err := env.load(); err != nil {
				return err
			}
			kc := env.Config.Definition.Tenancy.Keyring
			if kc == nil {
				return dserrors.ConfigError{
					Field:      "tenancy.keyring",
					Message:    "keyring resolver is not enabled",
					Suggestion: "Add 'keyring: {}' under tenancy in seccat.yaml",
				}
			}

			data, err := readInput(cmd, tokenFile)
			if err != nil {
				return err
			}
			token := strings.TrimSpace(string(data))
			if token == "" {
				return dserrors.UserError{
					Message:    "Token is empty",
					Suggestion: "Pipe the token on stdin or pass --token-file",
				}
			}

			if err := tenancy.NewKeyringResolver(kc.Service).Store(owner, token); err != nil {
				return err
			}
			env.logger().Info("Stored vault token for %s in keyring service %s", owner, kc.Service)
			env.logger().Debug("Token: %s", logging.Secret(token))
			return nil
		},
	}

	addOwnerFlag(cmd, &owner)
	cmd.Flags().StringVar(&tokenFile, "token-file", "-", "File containing the token, or - for stdin")
	return cmd
}
