package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"sesame/internal/store"
)

func prekeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prekeys",
		Short: "Manage prekeys",
	}
	cmd.AddCommand(prekeysGenerateCmd(), prekeysExportCmd())
	return cmd
}

func prekeysGenerateCmd() *cobra.Command {
	var (
		start    uint32
		count    int
		noSigned bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a signed prekey and a batch of one-time prekeys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !noSigned {
				cur, _, err := appCtx.Store.CurrentSignedPreKeyID()
				if err != nil {
					return err
				}
				if _, err := appCtx.PreKeys.GenerateSignedPreKey(cur + 1); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signed prekey %d is now current\n", cur+1)
			}
			recs, err := appCtx.PreKeys.GeneratePreKeys(start, count)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %d one-time prekeys\n", len(recs))
			return nil
		},
	}
	cmd.Flags().Uint32Var(&start, "start", 1, "first one-time prekey id")
	cmd.Flags().IntVar(&count, "count", 100, "number of one-time prekeys")
	cmd.Flags().BoolVar(&noSigned, "no-signed", false, "keep the current signed prekey instead of rotating it")
	return cmd
}

func prekeysExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write your public prekey bundle to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := appCtx.PreKeys.LoadPreKeyBundle()
			if err != nil {
				return err
			}
			if err := store.WriteBundle(args[0], b); err != nil {
				return err
			}
			if b.PreKey == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Exported bundle without a one-time prekey")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported bundle with one-time prekey %d\n", b.PreKey.ID)
			return nil
		},
	}
}
