package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tuna/fishroom/internal/broker"
	"github.com/tuna/fishroom/internal/config"
	"github.com/tuna/fishroom/internal/store"
)

// openBroker loads the config and connects to the broker. Shared by the
// one-shot subcommands; serve wires its own connection.
func openBroker(ctx context.Context) (*config.Config, *broker.Client, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	client, err := broker.Connect(ctx, cfg.Redis.Addr(), cfg.Redis.Prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	return cfg, client, nil
}

func apiclientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apiclient",
		Short: "Manage HTTP API tokens",
	}
	cmd.AddCommand(apiclientListCmd())
	cmd.AddCommand(apiclientAddCmd())
	cmd.AddCommand(apiclientRevokeCmd())
	cmd.AddCommand(apiclientTestCmd())
	return cmd
}

func apiclientListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, client, err := openBroker(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			clients, err := store.NewAPIClientRegistry(client).List(ctx)
			if err != nil {
				return err
			}
			for _, c := range clients {
				fmt.Printf("%s: %s\n", c.TokenID, c.Name)
			}
			return nil
		},
	}
}

func apiclientAddCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new token",
		Long:  "Register a new token. The token key is printed once and never stored in the clear.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, client, err := openBroker(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			reg := store.NewAPIClientRegistry(client)
			tokenID, tokenKey := store.NewToken()
			if err := reg.Add(ctx, tokenID, tokenKey, name); err != nil {
				return err
			}
			fmt.Println(tokenID, tokenKey, name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "client display name")
	cmd.MarkFlagRequired("name")
	return cmd
}

func apiclientRevokeCmd() *cobra.Command {
	var tokenID string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a token and drop its pending queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, client, err := openBroker(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			reg := store.NewAPIClientRegistry(client)
			exists, err := reg.Exists(ctx, tokenID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("unknown token id %q", tokenID)
			}

			fmt.Printf("Revoke token_id: %s (%s)? Y/[N]: ", tokenID, reg.Name(ctx, tokenID))
			yn, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if strings.ToLower(strings.TrimSpace(yn)) != "y" {
				fmt.Println("Cancelled")
				return nil
			}
			return reg.Revoke(ctx, tokenID)
		},
	}
	cmd.Flags().StringVar(&tokenID, "id", "", "token id to revoke")
	cmd.MarkFlagRequired("id")
	return cmd
}

func apiclientTestCmd() *cobra.Command {
	var (
		tokenID  string
		tokenKey string
	)
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Authenticate a token and long-poll its queue once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, client, err := openBroker(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			reg := store.NewAPIClientRegistry(client)
			if !reg.Auth(ctx, tokenID, tokenKey) {
				return fmt.Errorf("authentication failed for token id %q", tokenID)
			}
			fmt.Printf("auth ok (%s)\n", reg.Name(ctx, tokenID))

			msgs, err := reg.Drain(ctx, tokenID, 10*time.Second)
			if err != nil {
				return err
			}
			fmt.Printf("polled %d message(s)\n", len(msgs))
			for _, m := range msgs {
				fmt.Printf("  %s\n", m)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tokenID, "id", "", "token id")
	cmd.Flags().StringVar(&tokenKey, "key", "", "token key")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("key")
	return cmd
}
