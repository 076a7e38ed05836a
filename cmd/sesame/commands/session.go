package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"sesame/internal/crypto"
	"sesame/internal/domain"
	"sesame/internal/store"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Start or inspect sessions",
	}
	cmd.AddCommand(sessionStartCmd(), sessionInfoCmd())
	return cmd
}

// sessionStartCmd runs the X3DH handshake against a peer's exported bundle.
func sessionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <peer> <bundle-file>",
		Short: "Establish a session with a peer from its prekey bundle",
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
			err = appCtx.Builder.ProcessPreKeyBundle(cmd.Context(), peer, b)
			if errors.Is(err, domain.ErrIdentityKeyChanged) {
				return fmt.Errorf("%w: verify %s's new fingerprint %s, then run trust", err, peer, crypto.IdentityFingerprint(b.IdentityKey))
			}
			if err != nil {
				return fmt.Errorf("starting session with %s: %w", peer, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session created with %s. Peer fingerprint: %s\n", peer, crypto.IdentityFingerprint(b.IdentityKey))
			return nil
		},
	}
}

func sessionInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <peer>",
		Short: "Describe the session held for a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := parsePeer(args[0])
			if err != nil {
				return err
			}
			info, err := appCtx.Cipher.SessionInfo(cmd.Context(), peer)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !info.HasCurrent {
				fmt.Fprintf(out, "No session with %s\n", peer)
				return nil
			}
			fmt.Fprintf(out, "Peer:            %s\n", peer)
			fmt.Fprintf(out, "Fingerprint:     %s\n", crypto.IdentityFingerprint(info.RemoteIdentity))
			fmt.Fprintf(out, "Registration ID: %d\n", info.RemoteRegistrationID)
			fmt.Fprintf(out, "Confirmed:       %t\n", !info.Pending)
			fmt.Fprintf(out, "Previous states: %d\n", info.PreviousStates)
			return nil
		},
	}
}
