package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/seccat/internal/errors"
	"github.com/systmms/seccat/pkg/vault"
)

const timeFormat = "2006-01-02 15:04:05"

// addOwnerFlag registers --owner, defaulting to SECCAT_OWNER.
func addOwnerFlag(cmd *cobra.Command, owner *string) {
	cmd.PersistentFlags().StringVar(owner, "owner", os.Getenv("SECCAT_OWNER"), "Owner to act as (default $SECCAT_OWNER)")
}

func requireOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return dserrors.UserError{
			Message:    "Owner is required",
			Suggestion: "Use --owner <owner> or set SECCAT_OWNER",
		}
	}
	return nil
}

// readInput reads a file, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// collectFields merges a JSON fields file with key=value flags. Flag values
// are strings and win over the file.
func collectFields(cmd *cobra.Command, pairs []string, file string) (vault.Fields, error) {
	fields := vault.Fields{}

	if file != "" {
		data, err := readInput(cmd, file)
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var doc map[string]interface{}
		if err := dec.Decode(&doc); err != nil {
			return nil, dserrors.UserError{
				Message:    "Fields file must contain a JSON object",
				Details:    err.Error(),
				Suggestion: `Example: {"username": "app", "port": 5432}`,
				Err:        err,
			}
		}
		for k, v := range vault.NormalizeFields(doc) {
			fields[k] = v
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, dserrors.UserError{
				Message:    fmt.Sprintf("Invalid field %q", pair),
				Suggestion: "Use --field key=value",
			}
		}
		fields[key] = value
	}

	if len(fields) == 0 {
		return nil, dserrors.UserError{
			Message:    "No fields given",
			Suggestion: "Use --field key=value or --fields-file <file>",
		}
	}
	return fields, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
