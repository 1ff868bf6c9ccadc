package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tuna/fishroom/internal/archive"
)

func archiveCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Copy every chat log from the broker into the archive database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, client, err := openBroker(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			if dsn == "" {
				dsn = cfg.Archive.DSN
			}
			if dsn == "" {
				return fmt.Errorf("no archive DSN: set archive.dsn in the config or pass --dsn")
			}

			store, err := archive.Open(ctx, dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := archive.Sweep(ctx, client, store)
			if err != nil {
				return err
			}
			fmt.Printf("archived %d message(s)\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "archive database DSN (overrides config)")
	return cmd
}
