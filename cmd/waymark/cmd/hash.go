package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/waymark-app/waymark/internal/credential"
)

var hashCost int

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Generate an ADMIN_PASSWORD_VERIFIER value",
	Long: `Reads a password from stdin and prints the verifier string to set as
ADMIN_PASSWORD_VERIFIER. The password must satisfy the same strength
policy the change-password endpoint enforces.

Example:
  echo -n 'CorrectHorse9!' | waymark hash`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(cmd.InOrStdin())
		password, err := reader.ReadString('\n')
		if err != nil && password == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(password, "\r\n")

		if err := credential.CheckPassword(password); err != nil {
			return err
		}

		verifier, err := credential.Hash(password, hashCost)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, verifier)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashCmd)
	hashCmd.Flags().IntVar(&hashCost, "cost", 12, "bcrypt work factor (10-15 recommended)")
}
