package cmd

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tuna/fishroom/internal/bus"
	"github.com/tuna/fishroom/internal/config"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive configuration wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func runInit() error {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(config.ExpandHome(cfgPath)); err == nil {
		var overwrite bool
		prompt := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", cfgPath)).
			Value(&overwrite)
		if err := prompt.Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Cancelled")
			return nil
		}
	}

	cfg := config.Default()

	// Numeric fields ride through the form as strings.
	var (
		enabled   []string
		room      = "lounge"
		redisPort = strconv.Itoa(cfg.Redis.Port)
		ircPort   = strconv.Itoa(cfg.IRC.Port)
		xmppPort  = strconv.Itoa(cfg.XMPP.Port)
		webPort   = strconv.Itoa(cfg.Web.Port)

		ircChannel, xmppRoom, telegramGroup, matrixRoom string
		gitterRoom, wechatGroup, discordChannel         string
	)
	selected := func(tag string) func() bool {
		return func() bool { return !slices.Contains(enabled, tag) }
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot name").
				Description("Sender name on bridged system messages and digests.").
				Value(&cfg.Name).
				Validate(notEmpty),
			huh.NewInput().
				Title("Timezone").
				Description("IANA name; message timestamps use it.").
				Suggestions([]string{"UTC", "Asia/Shanghai", "Asia/Tokyo", "Europe/Berlin", "America/New_York"}).
				Value(&cfg.Timezone).
				Validate(validTimezone),
			huh.NewInput().
				Title("Base URL").
				Description("Public URL of the web interface, no trailing slash. Optional.").
				Value(&cfg.BaseURL),
		),
		huh.NewGroup(
			huh.NewInput().Title("Redis host").Value(&cfg.Redis.Host).Validate(notEmpty),
			huh.NewInput().Title("Redis port").Value(&redisPort).Validate(validPort),
			huh.NewInput().
				Title("Key prefix").
				Description("Namespace for every broker key; lets instances share one Redis.").
				Value(&cfg.Redis.Prefix).
				Validate(notEmpty),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("First room").
				Description("Bridged room name. More rooms can be added in the config later.").
				Value(&room).
				Validate(notEmpty),
			huh.NewMultiSelect[string]().
				Title("Networks to bridge").
				Options(
					huh.NewOption("IRC", bus.ChannelIRC),
					huh.NewOption("XMPP", bus.ChannelXMPP),
					huh.NewOption("Telegram", bus.ChannelTelegram),
					huh.NewOption("Matrix", bus.ChannelMatrix),
					huh.NewOption("Gitter", bus.ChannelGitter),
					huh.NewOption("WeChat", bus.ChannelWeChat),
					huh.NewOption("Discord", bus.ChannelDiscord),
				).
				Value(&enabled).
				Validate(func(v []string) error {
					if len(v) == 0 {
						return fmt.Errorf("pick at least one network")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewInput().Title("IRC server").Value(&cfg.IRC.Server).Validate(notEmpty),
			huh.NewInput().Title("IRC port").Value(&ircPort).Validate(validPort),
			huh.NewConfirm().Title("IRC over TLS").Value(&cfg.IRC.UseSSL),
			huh.NewInput().Title("IRC nick").Value(&cfg.IRC.Nick).Validate(notEmpty),
			huh.NewInput().Title("IRC channel").Placeholder("#fishroom").Value(&ircChannel).Validate(notEmpty),
		).WithHideFunc(selected(bus.ChannelIRC)),
		huh.NewGroup(
			huh.NewInput().Title("XMPP server").Value(&cfg.XMPP.Server).Validate(notEmpty),
			huh.NewInput().Title("XMPP port").Value(&xmppPort).Validate(validPort),
			huh.NewInput().Title("JID").Value(&cfg.XMPP.JID).Validate(notEmpty),
			huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&cfg.XMPP.Password),
			huh.NewInput().Title("MUC nick").Value(&cfg.XMPP.Nick).Validate(notEmpty),
			huh.NewInput().Title("MUC room").Placeholder("fishroom@conference.example.org").Value(&xmppRoom).Validate(notEmpty),
		).WithHideFunc(selected(bus.ChannelXMPP)),
		huh.NewGroup(
			huh.NewInput().Title("Telegram bot token").EchoMode(huh.EchoModePassword).Value(&cfg.Telegram.Token).Validate(notEmpty),
			huh.NewInput().Title("Telegram group chat id").Placeholder("-1001234567890").Value(&telegramGroup).Validate(notEmpty),
		).WithHideFunc(selected(bus.ChannelTelegram)),
		huh.NewGroup(
			huh.NewInput().Title("Matrix homeserver").Placeholder("https://matrix.org").Value(&cfg.Matrix.Server).Validate(notEmpty),
			huh.NewInput().Title("Matrix user").Value(&cfg.Matrix.User).Validate(notEmpty),
			huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&cfg.Matrix.Password),
			huh.NewInput().Title("Matrix room").Placeholder("#fishroom:matrix.org").Value(&matrixRoom).Validate(notEmpty),
		).WithHideFunc(selected(bus.ChannelMatrix)),
		huh.NewGroup(
			huh.NewInput().Title("Gitter token").EchoMode(huh.EchoModePassword).Value(&cfg.Gitter.Token).Validate(notEmpty),
			huh.NewInput().Title("Gitter username").Value(&cfg.Gitter.Me).Validate(notEmpty),
			huh.NewInput().Title("Gitter room").Placeholder("org/repo").Value(&gitterRoom).Validate(notEmpty),
		).WithHideFunc(selected(bus.ChannelGitter)),
		huh.NewGroup(
			huh.NewInput().
				Title("WeChat group name").
				Description("Login is a QR scan at startup; only the group to bridge is stored.").
				Value(&wechatGroup).
				Validate(notEmpty),
		).WithHideFunc(selected(bus.ChannelWeChat)),
		huh.NewGroup(
			huh.NewInput().Title("Discord bot token").EchoMode(huh.EchoModePassword).Value(&cfg.Discord.Token).Validate(notEmpty),
			huh.NewInput().Title("Discord channel id").Value(&discordChannel).Validate(notEmpty),
		).WithHideFunc(selected(bus.ChannelDiscord)),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the web interface?").
				Value(&cfg.Web.Enabled),
			huh.NewInput().Title("Web port").Value(&webPort).Validate(validPort),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Redis.Port = mustPort(redisPort)
	cfg.IRC.Port = mustPort(ircPort)
	cfg.XMPP.Port = mustPort(xmppPort)
	cfg.Web.Port = mustPort(webPort)

	binding := config.RoomBinding{}
	bind := func(tag, addr string) {
		if slices.Contains(enabled, tag) {
			binding[tag] = addr
		}
	}
	bind(bus.ChannelIRC, ircChannel)
	bind(bus.ChannelXMPP, xmppRoom)
	bind(bus.ChannelTelegram, telegramGroup)
	bind(bus.ChannelMatrix, matrixRoom)
	bind(bus.ChannelGitter, gitterRoom)
	bind(bus.ChannelWeChat, wechatGroup)
	bind(bus.ChannelDiscord, discordChannel)
	cfg.Bindings = map[string]config.RoomBinding{room: binding}

	cfg.IRC.Enabled = slices.Contains(enabled, bus.ChannelIRC)
	cfg.XMPP.Enabled = slices.Contains(enabled, bus.ChannelXMPP)
	cfg.Telegram.Enabled = slices.Contains(enabled, bus.ChannelTelegram)
	cfg.Matrix.Enabled = slices.Contains(enabled, bus.ChannelMatrix)
	cfg.Gitter.Enabled = slices.Contains(enabled, bus.ChannelGitter)
	cfg.WeChat.Enabled = slices.Contains(enabled, bus.ChannelWeChat)
	cfg.Discord.Enabled = slices.Contains(enabled, bus.ChannelDiscord)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}

	fmt.Printf("Config saved to %s\n", cfgPath)
	fmt.Println("Start the bridge with: fishroom serve")
	return nil
}

func notEmpty(s string) error {
	if s == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}

func validPort(s string) error {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("not a valid port")
	}
	return nil
}

func validTimezone(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.LoadLocation(s); err != nil {
		return fmt.Errorf("unknown timezone")
	}
	return nil
}

func mustPort(s string) int {
	p, _ := strconv.Atoi(s)
	return p
}
