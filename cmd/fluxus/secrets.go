package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluxus-dev/fluxus/internal/secrets"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the encrypted credential vault",
	Long:  "Secrets are stored AES-256-GCM encrypted under ~/.fluxus/secrets.json.\nThe passphrase comes from FLUXUS_VAULT_PASSPHRASE.",
}

func openVault() (*secrets.Vault, error) {
	pass := os.Getenv("FLUXUS_VAULT_PASSPHRASE")
	if pass == "" {
		return nil, fmt.Errorf("FLUXUS_VAULT_PASSPHRASE is not set")
	}
	return secrets.Open(vaultPath(), pass)
}

var secretsSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Store a secret (value read from stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		reader := bufio.NewReader(cmd.InOrStdin())
		value, err := reader.ReadString('\n')
		if err != nil && value == "" {
			return err
		}
		return v.Set(args[0], strings.TrimRight(value, "\r\n"))
	},
}

var secretsGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print a decrypted secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		value, err := v.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var secretsRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete a secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		return v.Delete(args[0])
	},
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored secret names",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		for _, name := range v.List() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	secretsCmd.AddCommand(secretsSetCmd, secretsGetCmd, secretsRmCmd, secretsListCmd)
}
