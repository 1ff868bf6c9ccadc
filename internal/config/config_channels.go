package config

// IRCConfig connects the IRC adapter to one network.
type IRCConfig struct {
	Enabled      bool                `json:"enabled"`
	Server       string              `json:"server"`
	Port         int                 `json:"port"`
	UseSSL       bool                `json:"ssl"`
	Nick         string              `json:"nick"`
	Password     string              `json:"password,omitempty"`   // server password, rarely needed
	SASLLogin    string              `json:"sasl_login,omitempty"` // account name; empty disables SASL
	SASLPassword string              `json:"sasl_password,omitempty"`
	Blacklist    FlexibleStringSlice `json:"blacklist,omitempty"` // nicks whose messages are dropped on ingress
}

// XMPPConfig connects the XMPP adapter to one account joining MUC rooms.
type XMPPConfig struct {
	Enabled  bool   `json:"enabled"`
	Server   string `json:"server"`
	Port     int    `json:"port"`
	JID      string `json:"jid"`
	Password string `json:"password"`
	Nick     string `json:"nick"`
}

// TelegramConfig connects the Telegram adapter through a bot account.
type TelegramConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"token"`
	Admins    FlexibleStringSlice `json:"admin,omitempty"`     // chat ids notified when a worker dies
	Blacklist FlexibleStringSlice `json:"blacklist,omitempty"` // user ids whose messages are dropped on ingress
}

// MatrixConfig connects the Matrix adapter to one homeserver account.
// A token skips the password login.
type MatrixConfig struct {
	Enabled  bool   `json:"enabled"`
	Server   string `json:"server"` // homeserver URL
	User     string `json:"user"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"` // access token, used instead of password when set
	Nick     string `json:"nick,omitempty"`  // display name override
}

// GitterConfig connects the Gitter adapter through a personal token.
type GitterConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	Me      string `json:"me"` // own username, skipped on ingress
}

// WeChatConfig enables the WeChat web-protocol adapter. Login is a QR
// scan at startup, so there is no credential to store.
type WeChatConfig struct {
	Enabled     bool   `json:"enabled"`
	HotLoginDir string `json:"hot_login_dir,omitempty"` // cache the web session so restarts skip the QR scan
}

// DiscordConfig connects the Discord adapter through a bot token.
type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
}

// AnyAdapterEnabled reports whether at least one IM adapter is on.
// serve refuses to start a bridge with nothing to bridge.
func (c *Config) AnyAdapterEnabled() bool {
	return c.IRC.Enabled ||
		c.XMPP.Enabled ||
		c.Telegram.Enabled ||
		c.Matrix.Enabled ||
		c.Gitter.Enabled ||
		c.WeChat.Enabled ||
		c.Discord.Enabled
}
