package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/advisory-booking/internal/config"
	"github.com/example/advisory-booking/internal/logging"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			log := logging.New(cfg.LogLevel, cfg.LogFormat)

			// sqlite applies its schema on open; postgres runs the embedded migrations
			st, err := openStore(context.Background(), cfg, true, log)
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema up to date\n", cfg.StoreDriver)
			return nil
		},
	}
}
