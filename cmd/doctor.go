package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tuna/fishroom/internal/archive"
	"github.com/tuna/fishroom/internal/broker"
	"github.com/tuna/fishroom/internal/config"
	"github.com/tuna/fishroom/internal/digest"
	"github.com/tuna/fishroom/internal/filestore"
	"github.com/tuna/fishroom/internal/textstore"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("fishroom doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(config.ExpandHome(cfgPath)); err != nil {
		fmt.Println(" (NOT FOUND, defaults + env apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config invalid: %s\n", err)
	}

	// Broker
	fmt.Println()
	fmt.Printf("  Redis:    %s (prefix %s)", cfg.Redis.Addr(), cfg.Redis.Prefix)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	client, err := broker.Connect(ctx, cfg.Redis.Addr(), cfg.Redis.Prefix)
	cancel()
	if err != nil {
		fmt.Printf(" (CONNECT FAILED: %s)\n", err)
	} else {
		client.Close()
		fmt.Println(" (OK)")
	}

	// Rooms
	fmt.Println()
	fmt.Println("  Rooms:")
	if len(cfg.Bindings) == 0 {
		fmt.Println("    (none bound)")
	}
	for _, room := range cfg.RoomNames() {
		tags := make([]string, 0, len(cfg.Bindings[room]))
		for tag := range cfg.Bindings[room] {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		label := room
		if cfg.IsPrivateRoom(room) {
			label += " (private)"
		}
		fmt.Printf("    %-16s %s\n", label+":", strings.Join(tags, ", "))
	}

	// Adapters
	fmt.Println()
	fmt.Println("  Adapters:")
	checkAdapter("IRC", cfg.IRC.Enabled, cfg.IRC.Server != "" && cfg.IRC.Nick != "")
	checkAdapter("XMPP", cfg.XMPP.Enabled, cfg.XMPP.JID != "" && cfg.XMPP.Password != "")
	checkAdapter("Telegram", cfg.Telegram.Enabled, cfg.Telegram.Token != "")
	checkAdapter("Matrix", cfg.Matrix.Enabled, cfg.Matrix.User != "" && (cfg.Matrix.Password != "" || cfg.Matrix.Token != ""))
	checkAdapter("Gitter", cfg.Gitter.Enabled, cfg.Gitter.Token != "")
	checkAdapter("WeChat", cfg.WeChat.Enabled, true) // QR login, nothing stored
	checkAdapter("Discord", cfg.Discord.Enabled, cfg.Discord.Token != "")

	// Web
	fmt.Println()
	fmt.Println("  Web:")
	if cfg.Web.Enabled {
		fmt.Printf("    %-12s %s:%d\n", "Listen:", cfg.Web.Host, cfg.Web.Port)
		if cfg.BaseURL != "" {
			fmt.Printf("    %-12s %s\n", "Base URL:", cfg.BaseURL)
		} else {
			fmt.Printf("    %-12s (not set)\n", "Base URL:")
		}
		if cfg.Web.Tailscale.Hostname != "" {
			fmt.Printf("    %-12s %s\n", "Tailscale:", cfg.Web.Tailscale.Hostname)
		}
	} else {
		fmt.Println("    disabled")
	}

	// Collaborator stores
	fmt.Println()
	fmt.Println("  Stores:")
	if _, err := textstore.New(cfg.TextStore, nil, cfg.BaseURL); err != nil {
		fmt.Printf("    %-12s %s (BROKEN: %s)\n", "Text:", cfg.TextStore.Provider, err)
	} else {
		fmt.Printf("    %-12s %s\n", "Text:", cfg.TextStore.Provider)
	}
	checkUploader("Photos:", cfg.PhotoStore)
	checkUploader("Files:", cfg.FileStore)

	// Background workers
	fmt.Println()
	fmt.Println("  Workers:")
	if cfg.Archive.DSN != "" {
		mode := "manual"
		if cfg.Archive.Auto {
			mode = fmt.Sprintf("auto every %s", cfg.Archive.SweepInterval())
		}
		statusCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		schema, err := archive.Status(statusCtx, cfg.Archive.DSN)
		cancel()
		if err != nil {
			fmt.Printf("    %-12s %s (CONNECT FAILED: %s)\n", "Archive:", mode, err)
		} else {
			fmt.Printf("    %-12s %s, %s\n", "Archive:", mode, schema)
		}
	} else {
		fmt.Printf("    %-12s (no DSN)\n", "Archive:")
	}
	if len(cfg.Digest.Entries) > 0 {
		if _, err := digest.New(cfg, nil, nil); err != nil {
			fmt.Printf("    %-12s %d entries (BROKEN: %s)\n", "Digest:", len(cfg.Digest.Entries), err)
		} else {
			fmt.Printf("    %-12s %d entries\n", "Digest:", len(cfg.Digest.Entries))
		}
	} else {
		fmt.Printf("    %-12s (none)\n", "Digest:")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkAdapter(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkUploader(label string, cfg config.StoreConfig) {
	if cfg.Provider == "" {
		fmt.Printf("    %-12s (none)\n", label)
		return
	}
	if _, err := filestore.New(cfg); err != nil {
		fmt.Printf("    %-12s %s (BROKEN: %s)\n", label, cfg.Provider, err)
		return
	}
	fmt.Printf("    %-12s %s\n", label, cfg.Provider)
}
