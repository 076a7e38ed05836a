package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"sesame/internal/domain"
	"sesame/internal/store"
)

// ciphertextFile is the on-disk form of one encrypted message.
type ciphertextFile struct {
	Type domain.MessageType `json:"type"`
	Body []byte             `json:"body"`
}

// encrypt <peer> <message> <file>: encrypt a message for <peer>.
func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <peer> <message> <file>",
		Short: "Encrypt a message for a peer into a ciphertext file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			ct, err := appCtx.Cipher.Encrypt(cmd.Context(), peer, []byte(args[1]))
			if err != nil {
				return err
			}
			if err := store.WriteJSON(args[2], ciphertextFile{Type: ct.Type, Body: ct.Body}, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s message to %s\n", ct.Type, args[2])
			return nil
		},
	}
}

// decrypt <peer> <file>: decrypt a ciphertext file from <peer>.
func decryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <peer> <file>",
		Short: "Decrypt a ciphertext file from a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			var f ciphertextFile
			if err := store.ReadJSON(args[1], &f); err != nil {
				return err
			}
			pt, err := appCtx.Cipher.Decrypt(cmd.Context(), peer, domain.Ciphertext{Type: f.Type, Body: f.Body})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", peer, pt)
			return nil
		},
	}
}
