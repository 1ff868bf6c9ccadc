package broker

import "strings"

// Keys builds every broker key from the configured prefix. No other
// package assembles key strings, so the full key layout is this file.
//
//	<p>:api_clients              hash: token_id -> sha1(token_key)
//	<p>:api_clients_name         hash: token_id -> name
//	<p>:api:<token_id>           list of serialized messages (max 15, ttl 60s)
//	<p>:im_msg_channel           pub/sub: ingress bus (adapters -> hub)
//	<p>:fish_msg_channel         pub/sub: egress bus (hub -> adapters)
//	<p>:msg_channel:<room>       pub/sub: per-room live stream (web)
//	<p>:log:<room>:<date>        list of serialized messages
//	<p>:counter:<name>           integer counter
//	<p>:rate_limit:<room>:<cmd>  list of unix timestamps
//	<p>:telegram_nicks           hash: user_id -> nickname
//	<p>:telegram_usernames       hash: nickname -> username
//	<p>:telegram_stickers        hash: file_id | md5 -> url
//	<p>:text_store:<id>          json {title, time, content}
//	<p>:current_vote:<room>:*    vote topic/status/options/voters
type Keys struct {
	prefix string
}

// NewKeys returns a key builder for the given prefix. An empty prefix
// falls back to "fishroom".
func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = "fishroom"
	}
	return Keys{prefix: prefix}
}

// Prefix reports the configured key prefix.
func (k Keys) Prefix() string { return k.prefix }

func (k Keys) APIClients() string     { return k.prefix + ":api_clients" }
func (k Keys) APIClientNames() string { return k.prefix + ":api_clients_name" }

// APIQueue is the bounded per-client message queue.
func (k Keys) APIQueue(tokenID string) string { return k.prefix + ":api:" + tokenID }

// Ingress is the pub/sub channel adapters publish to and the hub consumes.
func (k Keys) Ingress() string { return k.prefix + ":im_msg_channel" }

// Egress is the pub/sub channel the hub publishes to and adapters consume.
func (k Keys) Egress() string { return k.prefix + ":fish_msg_channel" }

// RoomChannel is the per-room live stream consumed by the web UI.
func (k Keys) RoomChannel(room string) string { return k.prefix + ":msg_channel:" + room }

// Log is the append-only chat log for one room and one day (YYYY-MM-DD).
func (k Keys) Log(room, date string) string { return k.prefix + ":log:" + room + ":" + date }

// LogPattern matches every chat-log key. Archive sweeps scan with it.
func (k Keys) LogPattern() string { return k.prefix + ":log:*" }

// ParseLog splits a chat-log key back into room and date. The date is
// always the final segment; room names may contain colons.
func (k Keys) ParseLog(key string) (room, date string, ok bool) {
	rest, found := strings.CutPrefix(key, k.prefix+":log:")
	if !found {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

func (k Keys) Counter(name string) string { return k.prefix + ":counter:" + name }

// CounterPattern matches every counter key. Dump scans with it.
func (k Keys) CounterPattern() string { return k.prefix + ":counter:*" }

// ParseCounter splits a counter key back into its name.
func (k Keys) ParseCounter(key string) (name string, ok bool) {
	rest, found := strings.CutPrefix(key, k.prefix+":counter:")
	if !found || rest == "" {
		return "", false
	}
	return rest, true
}

func (k Keys) RateLimit(room, cmd string) string {
	return k.prefix + ":rate_limit:" + room + ":" + cmd
}

func (k Keys) TelegramNicks() string     { return k.prefix + ":telegram_nicks" }
func (k Keys) TelegramUsernames() string { return k.prefix + ":telegram_usernames" }
func (k Keys) TelegramStickers() string  { return k.prefix + ":telegram_stickers" }

func (k Keys) TextStore(id string) string { return k.prefix + ":text_store:" + id }

func (k Keys) VoteTopic(room string) string   { return k.prefix + ":current_vote:" + room + ":topic" }
func (k Keys) VoteStatus(room string) string  { return k.prefix + ":current_vote:" + room + ":status" }
func (k Keys) VoteOptions(room string) string { return k.prefix + ":current_vote:" + room + ":options" }
func (k Keys) VoteVoters(room string) string  { return k.prefix + ":current_vote:" + room + ":voters" }
