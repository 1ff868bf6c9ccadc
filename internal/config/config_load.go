package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// DefaultPath is where Load looks when no --config flag or env var is set.
const DefaultPath = "~/.fishroom/config.json5"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Name:     "fishroom",
		Timezone: "UTC",
		Plugins:  []string{"pia", "vote", "stats", "hualao", "imglink"},
		Redis: RedisConfig{
			Host:   "127.0.0.1",
			Port:   6379,
			Prefix: "fishroom",
		},
		IRC: IRCConfig{
			Port:   6697,
			UseSSL: true,
		},
		XMPP: XMPPConfig{
			Port: 5222,
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		TextStore: TextStoreConfig{
			Provider: "chat_logger",
		},
		PhotoStore: StoreConfig{
			Provider: "vim-cn",
			MaxWidth: 1280,
		},
		FileStore: StoreConfig{
			Provider: "vim-cn",
		},
		Archive: ArchiveConfig{
			Interval: "1h",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("FISHROOM_NAME", &c.Name)
	envStr("FISHROOM_TIMEZONE", &c.Timezone)
	envStr("FISHROOM_BASEURL", &c.BaseURL)

	envStr("FISHROOM_REDIS_URL", &c.Redis.URL)
	envStr("FISHROOM_REDIS_PREFIX", &c.Redis.Prefix)

	// Adapter credentials
	envStr("FISHROOM_TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("FISHROOM_GITTER_TOKEN", &c.Gitter.Token)
	envStr("FISHROOM_DISCORD_TOKEN", &c.Discord.Token)
	envStr("FISHROOM_IRC_PASSWORD", &c.IRC.Password)
	envStr("FISHROOM_IRC_SASL_PASSWORD", &c.IRC.SASLPassword)
	envStr("FISHROOM_XMPP_PASSWORD", &c.XMPP.Password)
	envStr("FISHROOM_MATRIX_PASSWORD", &c.Matrix.Password)
	envStr("FISHROOM_MATRIX_TOKEN", &c.Matrix.Token)

	// Web host/port
	envStr("FISHROOM_WEB_HOST", &c.Web.Host)
	if v := os.Getenv("FISHROOM_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Web.Port = port
		}
	}

	// Photo host credentials live in the provider options map
	if v := os.Getenv("FISHROOM_IMGUR_CLIENT_ID"); v != "" {
		if c.PhotoStore.Options == nil {
			c.PhotoStore.Options = make(map[string]string)
		}
		c.PhotoStore.Options["client_id"] = v
	}

	// Archive database
	envStr("FISHROOM_ARCHIVE_DSN", &c.Archive.DSN)

	// Telemetry
	envStr("FISHROOM_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("FISHROOM_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("FISHROOM_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("FISHROOM_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("FISHROOM_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Tailscale (tsnet)
	envStr("FISHROOM_TSNET_HOSTNAME", &c.Web.Tailscale.Hostname)
	envStr("FISHROOM_TSNET_AUTH_KEY", &c.Web.Tailscale.AuthKey)
	envStr("FISHROOM_TSNET_DIR", &c.Web.Tailscale.StateDir)

	// Auto-enable channels if credentials are provided via env
	if c.Telegram.Token != "" {
		c.Telegram.Enabled = true
	}
	if c.Gitter.Token != "" {
		c.Gitter.Enabled = true
	}
	if c.Discord.Token != "" {
		c.Discord.Enabled = true
	}
	if c.XMPP.JID != "" && c.XMPP.Password != "" {
		c.XMPP.Enabled = true
	}
	if c.Matrix.User != "" && (c.Matrix.Password != "" || c.Matrix.Token != "") {
		c.Matrix.Enabled = true
	}
	if c.IRC.Server != "" && c.IRC.Nick != "" {
		c.IRC.Enabled = true
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	path = ExpandHome(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
