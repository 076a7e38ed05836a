package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint [peer]",
		Short: "Print your identity fingerprint, or the one pinned for a peer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fp, err := appCtx.Identity.FingerprintIdentity()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", fp)
				return nil
			}

			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			fp, ok, err := appCtx.Identity.RemoteFingerprint(peer)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no identity pinned for %s", peer)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", peer, fp)
			return nil
		},
	}
}
