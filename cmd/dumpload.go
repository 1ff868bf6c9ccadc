package cmd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tuna/fishroom/internal/broker"
)

// The dump file is one JSON object keyed by full broker key: hashes as
// string maps, counters as plain integers, and the token-digest hash
// base64-encoded since sha1 digests are raw bytes. Loading is the exact
// inverse, so a dump taken on one instance restores on another with the
// same key prefix.

const defaultMetaFile = "fishroom-meta.json"

func dumpCmd() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump persistent broker state (nicks, stickers, API clients, counters) to JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, client, err := openBroker(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			backup, err := dumpMeta(ctx, client)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(backup, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(outFile, data, 0600); err != nil {
				return err
			}
			fmt.Printf("dumped %d keys to %s\n", len(backup), outFile)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFile, "out", "o", defaultMetaFile, "output file")
	return cmd
}

func loadCmd() *cobra.Command {
	var inFile string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a JSON dump back into the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(inFile)
			if err != nil {
				return err
			}
			var backup map[string]any
			if err := json.Unmarshal(data, &backup); err != nil {
				return fmt.Errorf("parse %s: %w", inFile, err)
			}

			ctx := context.Background()
			_, client, err := openBroker(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := loadMeta(ctx, client, backup); err != nil {
				return err
			}
			fmt.Printf("loaded %d keys from %s\n", len(backup), inFile)
			return nil
		},
	}
	cmd.Flags().StringVarP(&inFile, "in", "i", defaultMetaFile, "input file")
	return cmd
}

func dumpMeta(ctx context.Context, client *broker.Client) (map[string]any, error) {
	backup := make(map[string]any)

	hashes := []string{
		client.Keys.APIClientNames(),
		client.Keys.TelegramNicks(),
		client.Keys.TelegramUsernames(),
		client.Keys.TelegramStickers(),
	}
	for _, key := range hashes {
		m, err := client.RDB.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("dump %s: %w", key, err)
		}
		backup[key] = m
	}

	secrets, err := client.RDB.HGetAll(ctx, client.Keys.APIClients()).Result()
	if err != nil {
		return nil, fmt.Errorf("dump %s: %w", client.Keys.APIClients(), err)
	}
	encoded := make(map[string]string, len(secrets))
	for id, digest := range secrets {
		encoded[id] = base64.StdEncoding.EncodeToString([]byte(digest))
	}
	backup[client.Keys.APIClients()] = encoded

	counterKeys, err := scanKeys(ctx, client, client.Keys.CounterPattern())
	if err != nil {
		return nil, err
	}
	for _, key := range counterKeys {
		v, err := client.RDB.Get(ctx, key).Int64()
		if err != nil {
			return nil, fmt.Errorf("dump %s: %w", key, err)
		}
		backup[key] = v
	}

	return backup, nil
}

func loadMeta(ctx context.Context, client *broker.Client, backup map[string]any) error {
	for key, val := range backup {
		switch v := val.(type) {
		case map[string]any:
			for field, raw := range v {
				s, ok := raw.(string)
				if !ok {
					return fmt.Errorf("load %s: field %s is not a string", key, field)
				}
				if key == client.Keys.APIClients() {
					digest, err := base64.StdEncoding.DecodeString(s)
					if err != nil {
						return fmt.Errorf("load %s: field %s: %w", key, field, err)
					}
					if err := client.RDB.HSet(ctx, key, field, digest).Err(); err != nil {
						return err
					}
					continue
				}
				if err := client.RDB.HSet(ctx, key, field, s).Err(); err != nil {
					return err
				}
			}
		case float64: // counters; encoding/json numbers land here
			if err := client.RDB.Set(ctx, key, int64(v), 0).Err(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("load %s: unsupported value type %T", key, val)
		}
	}
	return nil
}

// scanKeys collects every key matching pattern. SCAN may repeat keys
// across iterations, so results are deduplicated.
func scanKeys(ctx context.Context, client *broker.Client, pattern string) ([]string, error) {
	seen := make(map[string]bool)
	var cursor uint64
	for {
		keys, next, err := client.RDB.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		for _, k := range keys {
			seen[k] = true
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
