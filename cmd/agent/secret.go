package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"teacher-agent/internal/infra/config"
)

// newEncryptSecretCmd prints an "enc:" value for the config file. The
// passphrase comes from --key or TEACHERAGENT_CONFIG_KEY; the plaintext from
// the argument or the first line of stdin.
func newEncryptSecretCmd() *cobra.Command {
	var passphrase string

	cmd := &cobra.Command{
		Use:   "encrypt-secret [value]",
		Short: "Encrypt a secret for use as an enc: config value",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				passphrase = os.Getenv(config.EnvPrefix + "CONFIG_KEY")
			}
			if passphrase == "" {
				return fmt.Errorf("no passphrase: set --key or %sCONFIG_KEY", config.EnvPrefix)
			}

			var plaintext string
			if len(args) == 1 {
				plaintext = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret from stdin: %w", err)
				}
				plaintext = strings.TrimRight(line, "\r\n")
			}
			if plaintext == "" {
				return fmt.Errorf("secret must not be empty")
			}

			enc, err := config.EncryptValue(plaintext, passphrase)
			if err != nil {
				return fmt.Errorf("encrypt: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "enc:"+enc)
			return err
		},
	}
	cmd.Flags().StringVar(&passphrase, "key", "", "encryption passphrase")
	return cmd
}
