package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
// Telegram chat ids and IRC ports tend to show up as bare numbers
// in hand-written config files.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// RoomBinding maps an adapter tag ("irc", "telegram", ...) to that
// network's address for one room.
type RoomBinding map[string]string

// Config is the root configuration for the fishroom hub.
type Config struct {
	Name     string `json:"name"`     // bot self-name, used for replies and @mentions
	Timezone string `json:"timezone"` // IANA name, e.g. "Asia/Shanghai"
	BaseURL  string `json:"baseurl"`  // public URL of the web interface, no trailing slash

	Redis RedisConfig `json:"redis"`

	Bindings     map[string]RoomBinding `json:"bindings"`
	PrivateRooms []string               `json:"private_rooms,omitempty"` // hidden from the web interface

	Plugins []string `json:"plugins,omitempty"` // command plugins to enable, see internal/plugins

	IRC      IRCConfig      `json:"irc"`
	XMPP     XMPPConfig     `json:"xmpp"`
	Telegram TelegramConfig `json:"telegram"`
	Matrix   MatrixConfig   `json:"matrix"`
	Gitter   GitterConfig   `json:"gitter"`
	WeChat   WeChatConfig   `json:"wechat"`
	Discord  DiscordConfig  `json:"discord"`

	Web        WebConfig       `json:"web"`
	TextStore  TextStoreConfig `json:"text_store"`
	PhotoStore StoreConfig     `json:"photo_store"`
	FileStore  StoreConfig     `json:"file_store,omitempty"`

	Archive   ArchiveConfig   `json:"archive,omitempty"`
	Digest    DigestConfig    `json:"digest,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// RedisConfig locates the message broker.
type RedisConfig struct {
	URL    string `json:"url,omitempty"` // full redis:// or unix:// URL, overrides host/port
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Prefix string `json:"prefix"` // namespace for every broker key
}

// Addr returns the connection URL for the broker client.
func (rc RedisConfig) Addr() string {
	if rc.URL != "" {
		return rc.URL
	}
	return fmt.Sprintf("redis://%s:%d", rc.Host, rc.Port)
}

// WebConfig controls the HTTP server: chat log queries, the message API,
// and the per-room websocket stream.
type WebConfig struct {
	Enabled     bool            `json:"enabled"`
	Host        string          `json:"host"`
	Port        int             `json:"port"`
	DefaultRoom string          `json:"default_room,omitempty"` // landing page redirect target
	Tailscale   TailscaleConfig `json:"tailscale,omitempty"`
}

// TailscaleConfig configures the optional tsnet listener that serves the
// web interface inside a tailnet. Auth key from env only (never persisted).
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`  // tailnet machine name
	StateDir  string `json:"state_dir,omitempty"` // persistent state directory
	AuthKey   string `json:"-"`                   // from env FISHROOM_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"` // remove node on exit
	EnableTLS bool   `json:"enable_tls,omitempty"`
}

// TextStoreConfig selects where overlong messages are pasted.
type TextStoreConfig struct {
	Provider string `json:"provider"` // "chat_logger", "redis", or "vinergy"
}

// StoreConfig selects a photo or file host.
type StoreConfig struct {
	Provider string            `json:"provider"`            // "vim-cn" or "imgur"
	Options  map[string]string `json:"options,omitempty"`   // provider-specific, e.g. imgur client_id
	MaxWidth int               `json:"max_width,omitempty"` // downscale photos wider than this before upload
}

// ArchiveConfig controls copying chat logs out of the broker into a
// durable database.
type ArchiveConfig struct {
	DSN      string `json:"dsn,omitempty"`      // sqlite: path or postgres:// URL
	Auto     bool   `json:"auto,omitempty"`     // run the sweep periodically inside serve
	Interval string `json:"interval,omitempty"` // sweep period, Go duration (default "1h")
}

// SweepInterval returns the parsed archive interval with its default.
func (ac ArchiveConfig) SweepInterval() time.Duration {
	if ac.Interval != "" {
		if d, err := time.ParseDuration(ac.Interval); err == nil && d > 0 {
			return d
		}
	}
	return time.Hour
}

// DigestEntry schedules one room's activity summary.
type DigestEntry struct {
	Room string `json:"room"`
	Cron string `json:"cron"` // five-field cron expression
}

// DigestConfig lists the scheduled digests the bot posts. No entries
// means no digests.
type DigestConfig struct {
	Entries []DigestEntry `json:"entries,omitempty"`
}

// TelemetryConfig configures OpenTelemetry span export. When enabled,
// spans go to an OTLP backend; otherwise tracing is a no-op.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // skip TLS, for local collectors
	ServiceName string            `json:"service_name,omitempty"` // default "fishroom"
	Headers     map[string]string `json:"headers,omitempty"`
}

// Location returns the configured timezone, falling back to UTC when the
// name is empty or unknown.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RoomNames returns every bound room name, sorted.
func (c *Config) RoomNames() []string {
	names := make([]string, 0, len(c.Bindings))
	for room := range c.Bindings {
		names = append(names, room)
	}
	sort.Strings(names)
	return names
}

// PublicRooms returns the bound room names that are not private, sorted.
func (c *Config) PublicRooms() []string {
	rooms := make([]string, 0, len(c.Bindings))
	for room := range c.Bindings {
		if !c.IsPrivateRoom(room) {
			rooms = append(rooms, room)
		}
	}
	sort.Strings(rooms)
	return rooms
}

// IsPrivateRoom reports whether a room is hidden from the web interface.
func (c *Config) IsPrivateRoom(room string) bool {
	for _, r := range c.PrivateRooms {
		if r == room {
			return true
		}
	}
	return false
}

// AddressesFor returns every network address bound to the given adapter
// tag, one per room that includes it. Adapters use this to know which
// channels or groups to join.
func (c *Config) AddressesFor(tag string) []string {
	addrs := make([]string, 0, len(c.Bindings))
	for _, b := range c.Bindings {
		if addr, ok := b[tag]; ok {
			addrs = append(addrs, addr)
		}
	}
	sort.Strings(addrs)
	return addrs
}

// Validate checks fields that every subcommand relies on.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: name must not be empty")
	}
	if c.Redis.Prefix == "" {
		return fmt.Errorf("config: redis.prefix must not be empty")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("config: unknown timezone %q", c.Timezone)
		}
	}
	for room, b := range c.Bindings {
		if len(b) == 0 {
			return fmt.Errorf("config: room %q has no channel bindings", room)
		}
		for tag, addr := range b {
			if addr == "" {
				return fmt.Errorf("config: room %q has an empty %s address", room, tag)
			}
		}
	}
	return nil
}
