package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"sesame/internal/crypto"
	"sesame/internal/store"
)

// trustCmd pins the identity key from a peer's bundle, replacing any key
// pinned before. It is the only way past an identity change.
func trustCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trust <peer> <bundle-file>",
		Short: "Accept the identity key in a peer's bundle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			b, err := store.ReadBundle(args[1])
			if err != nil {
				return err
			}
			if err := appCtx.Identity.TrustIdentity(peer, b.IdentityKey); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trusted %s with fingerprint %s\n", peer, crypto.IdentityFingerprint(b.IdentityKey))
			return nil
		},
	}
}
