package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"sesame/internal/services/identity"
	"sesame/internal/store"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate identity keys and store them securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := identity.CheckPassphrase(passphrase); err != nil {
				return err
			}
			_, err := appCtx.Store.IdentityKeyPair()
			switch {
			case err == nil && !force:
				return errors.New("identity already exists (use --force to replace it)")
			case err != nil && !errors.Is(err, store.ErrNoIdentity):
				return err
			}

			_, fp, err := appCtx.Identity.GenerateIdentity()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity created.\nFingerprint: %s\n", fp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing identity")
	return cmd
}
