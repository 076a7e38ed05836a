package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"sesame/internal/app"
	"sesame/internal/domain"
	"sesame/internal/domain/types"
)

var (
	home        string
	passphrase  string
	configFile  string
	dumpMetrics bool
	appCtx      *app.App
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:          "sesame",
		Short:        "Asynchronous end-to-end encrypted sessions",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".sesame")
			}
			if passphrase == "" {
				return errors.New("passphrase required (-p)")
			}

			var (
				cfg *app.Config
				err error
			)
			if configFile != "" {
				cfg, err = app.LoadFile(configFile, home)
			} else {
				cfg, err = app.Load(nil, home)
			}
			if err != nil {
				return err
			}

			appCtx, err = app.New(cfg, passphrase)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if dumpMetrics {
				return writeMetrics(cmd.ErrOrStderr())
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.sesame)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the identity key")
	root.PersistentFlags().StringVar(&configFile, "config", "", "TOML config file")
	root.PersistentFlags().BoolVar(&dumpMetrics, "metrics", false, "print protocol counters to stderr on exit")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		prekeysCmd(),
		sessionCmd(),
		encryptCmd(),
		decryptCmd(),
		trustCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := root.ExecuteContext(ctx)
	if appCtx != nil {
		err = errors.Join(err, appCtx.Close())
	}
	return err
}

func parsePeer(s string) (domain.Address, error) {
	a, err := types.ParseAddress(s)
	if err != nil {
		return domain.Address{}, fmt.Errorf("peer: %w", err)
	}
	return a, nil
}
