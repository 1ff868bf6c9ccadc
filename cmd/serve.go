package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/tuna/fishroom/internal/adapters"
	"github.com/tuna/fishroom/internal/adapters/discord"
	"github.com/tuna/fishroom/internal/adapters/gitter"
	"github.com/tuna/fishroom/internal/adapters/irc"
	"github.com/tuna/fishroom/internal/adapters/matrix"
	"github.com/tuna/fishroom/internal/adapters/telegram"
	"github.com/tuna/fishroom/internal/adapters/wechat"
	"github.com/tuna/fishroom/internal/adapters/xmpp"
	"github.com/tuna/fishroom/internal/archive"
	"github.com/tuna/fishroom/internal/broker"
	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
	"github.com/tuna/fishroom/internal/digest"
	"github.com/tuna/fishroom/internal/filestore"
	"github.com/tuna/fishroom/internal/hub"
	"github.com/tuna/fishroom/internal/plugins"
	"github.com/tuna/fishroom/internal/runner"
	"github.com/tuna/fishroom/internal/store"
	"github.com/tuna/fishroom/internal/textstore"
	"github.com/tuna/fishroom/internal/tracing"
	"github.com/tuna/fishroom/internal/web"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge: adapters, hub, and web server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	// Load config
	cfgPath := resolveConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if len(cfg.Bindings) == 0 {
		slog.Error("no rooms bound; run `fishroom init` or edit the config", "config", cfgPath)
		os.Exit(1)
	}
	if !cfg.AnyAdapterEnabled() && !cfg.Web.Enabled {
		slog.Error("nothing to run: every adapter disabled and web disabled")
		os.Exit(1)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	// Tracing (no-op unless telemetry.enabled)
	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// Broker and buses
	client, err := broker.Connect(ctx, cfg.Redis.Addr(), cfg.Redis.Prefix)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ingress := bus.NewIngress(client)
	egress := bus.NewEgress(client)
	loc := cfg.Location()

	// Broker-backed stores
	chatLog := store.NewChatLog(client, loc)
	clients := store.NewAPIClientRegistry(client)
	nicks := store.NewNickStore(client)
	stickers := store.NewStickerCache(client)

	// Paste target for overlong messages
	pastes, err := textstore.New(cfg.TextStore, client, cfg.BaseURL)
	if err != nil {
		slog.Error("failed to build text store", "error", err)
		os.Exit(1)
	}

	// Media re-hosting. Photos and files may go to different providers;
	// with no file provider configured, files ride the photo host.
	var photos, files filestore.Uploader
	if cfg.PhotoStore.Provider != "" {
		photos, err = filestore.New(cfg.PhotoStore)
		if err != nil {
			slog.Error("failed to build photo store", "error", err)
			os.Exit(1)
		}
	}
	files = photos
	if cfg.FileStore.Provider != "" {
		files, err = filestore.New(cfg.FileStore)
		if err != nil {
			slog.Error("failed to build file store", "error", err)
			os.Exit(1)
		}
	}

	// Command plugins
	filters, err := plugins.Register(plugins.Deps{
		Limiter: store.NewRateLimiter(client),
		Votes:   store.NewVoteStore(client),
		ChatLog: chatLog,
		Loc:     loc,
	}, cfg.Plugins...)
	if err != nil {
		slog.Error("failed to register plugins", "error", err)
		os.Exit(1)
	}

	hubWorker := hub.New(cfg, ingress, egress, chatLog, clients, pastes, filters...)

	// Adapters. IRC egress is paced to dodge server-side flood limits;
	// the other networks take writes as fast as the hub routes them.
	manager := adapters.NewManager(ingress, egress)
	var tg *telegram.Handle

	if cfg.IRC.Enabled {
		h := irc.New(cfg.IRC, cfg.Name, cfg.AddressesFor(bus.ChannelIRC), loc)
		manager.Register(h, rate.NewLimiter(rate.Every(time.Second), 1))
	}
	if cfg.XMPP.Enabled {
		h := xmpp.New(cfg.XMPP, cfg.Name, cfg.AddressesFor(bus.ChannelXMPP), loc)
		manager.Register(h, nil)
	}
	if cfg.Telegram.Enabled {
		uploadCount := store.NewCounter(client, "uploads")
		h, err := telegram.New(cfg.Telegram, cfg.Name, nicks, stickers, uploadCount, photos, loc)
		if err != nil {
			slog.Error("failed to build telegram adapter", "error", err)
			os.Exit(1)
		}
		manager.Register(h, nil)
		tg = h
	}
	if cfg.Matrix.Enabled {
		h, err := matrix.New(cfg.Matrix, cfg.Name, cfg.AddressesFor(bus.ChannelMatrix), photos, loc)
		if err != nil {
			slog.Error("failed to build matrix adapter", "error", err)
			os.Exit(1)
		}
		manager.Register(h, nil)
	}
	if cfg.Gitter.Enabled {
		h := gitter.New(cfg.Gitter, cfg.Name, cfg.AddressesFor(bus.ChannelGitter), loc)
		manager.Register(h, nil)
	}
	if cfg.WeChat.Enabled {
		h := wechat.New(cfg.WeChat, cfg.Name, cfg.AddressesFor(bus.ChannelWeChat), files, loc)
		manager.Register(h, nil)
	}
	if cfg.Discord.Enabled {
		h := discord.New(cfg.Discord, cfg.Name, cfg.AddressesFor(bus.ChannelDiscord), loc)
		manager.Register(h, nil)
	}

	// Worker death notifications go to the Telegram admins when available.
	var notify runner.Notifier
	if tg != nil && len(cfg.Telegram.Admins) > 0 {
		notify = tg.NotifyAdmins
	}

	slog.Info("fishroom starting",
		"version", Version,
		"rooms", cfg.RoomNames(),
		"adapters", manager.Tags(),
		"web", cfg.Web.Enabled,
	)

	run := runner.New(notify)
	if len(manager.Tags()) > 0 {
		run.Go("adapters", manager.Run)
	}
	run.Go("hub", hubWorker.Run)

	if cfg.Web.Enabled {
		server := web.New(cfg, client, ingress.Publish, chatLog, clients)

		// Tailscale listener: build the mux first, then pass it to
		// initTailscale so the same routes are served on both the main
		// listener and the tailnet one.
		// Compiled via build tags: `go build -tags tsnet` to enable.
		mux := server.BuildMux()
		tsCleanup := initTailscale(ctx, cfg, mux)
		if tsCleanup != nil {
			defer tsCleanup()
		}
		if cfg.Web.Tailscale.Hostname != "" && cfg.Web.Host == "0.0.0.0" {
			slog.Info("Tailscale enabled. Consider setting web.host=127.0.0.1 for localhost-only + tailnet access")
		}

		run.Go("web", server.Start)
	}

	if len(cfg.Digest.Entries) > 0 {
		dig, err := digest.New(cfg, chatLog, ingress.Publish)
		if err != nil {
			slog.Error("failed to build digest worker", "error", err)
			os.Exit(1)
		}
		run.Go("digest", dig.Run)
	}

	if cfg.Archive.Auto && cfg.Archive.DSN != "" {
		arch, err := archive.Open(ctx, cfg.Archive.DSN)
		if err != nil {
			slog.Error("failed to open archive", "error", err)
			os.Exit(1)
		}
		defer arch.Close()
		interval := cfg.Archive.SweepInterval()
		run.Go("archive", func(ctx context.Context) error {
			return archive.AutoSweep(ctx, client, arch, interval)
		})
	}

	// The config is immutable once loaded; a change on disk only earns a
	// reminder that a restart is needed.
	go func() {
		for range config.Watch(ctx, cfgPath) {
			slog.Warn("config file changed on disk; restart to apply", "config", cfgPath)
		}
	}()

	if err := run.Run(ctx); err != nil {
		os.Exit(1)
	}
}
