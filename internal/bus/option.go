package bus

import (
	"encoding/json"
	"fmt"
)

// Option carries adapter-specific hints attached to a message. Known
// fields are typed; anything else an adapter stuffed into the bag lands
// in Extra and survives a re-encode, so adapters on different versions
// can keep talking.
type Option struct {
	// MsgID is the source network's message id (telegram numeric ids).
	MsgID int64 `json:"msg_id,omitempty"`
	// Username is the sender's network-native handle, when distinct
	// from the display nickname.
	Username string `json:"username,omitempty"`
	// ReplyTo and ReplyText describe the message this one replies to:
	// the original sender's nick and a (possibly truncated) quote.
	ReplyTo   string `json:"reply_to,omitempty"`
	ReplyText string `json:"reply_text,omitempty"`
	// TextURL points at the off-loaded body for long-text overflow.
	TextURL string `json:"text_url,omitempty"`
	// MatrixUser is the raw matrix user id behind the display name.
	MatrixUser string `json:"matrix_user,omitempty"`

	// Extra keeps unknown keys across decode/encode.
	Extra map[string]any `json:"-"`
}

var optionKnownKeys = []string{
	"msg_id", "username", "reply_to", "reply_text", "text_url", "matrix_user",
}

// optionAlias drops the methods so the codec sees plain fields.
type optionAlias Option

// MarshalJSON merges the typed fields with Extra.
func (o Option) MarshalJSON() ([]byte, error) {
	base, err := codec.Marshal(optionAlias(o))
	if err != nil {
		return nil, err
	}
	if len(o.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]any, len(o.Extra)+len(optionKnownKeys))
	if err := codec.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range o.Extra {
		if _, taken := merged[k]; taken {
			continue
		}
		merged[k] = v
	}
	return codec.Marshal(merged)
}

// UnmarshalJSON fills the typed fields and collects unknown keys.
func (o *Option) UnmarshalJSON(data []byte) error {
	var a optionAlias
	if err := codec.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("opt: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := codec.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("opt: %w", err)
	}
	for _, k := range optionKnownKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		a.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := codec.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("opt key %q: %w", k, err)
			}
			a.Extra[k] = val
		}
	}

	*o = Option(a)
	return nil
}
