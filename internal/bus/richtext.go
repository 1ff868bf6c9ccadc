package bus

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Style flag names as they appear on the wire.
const (
	StyleBold      = "bold"
	StyleItalic    = "italic"
	StyleUnderline = "underline"
)

// TextStyle describes one rich-text segment's appearance. Color is nil,
// [fg] or [fg, bg] (mIRC color numbers); Style holds the flag names above.
// Use nil, not empty slices, for the unstyled case so encoded and decoded
// values compare equal.
type TextStyle struct {
	Color []int    `json:"color"`
	Style []string `json:"style,omitempty"`
}

// Has reports whether the named style flag is set.
func (s TextStyle) Has(name string) bool {
	for _, v := range s.Style {
		if v == name {
			return true
		}
	}
	return false
}

// Foreground returns the foreground color number, if any.
func (s TextStyle) Foreground() (int, bool) {
	if len(s.Color) == 0 {
		return 0, false
	}
	return s.Color[0], true
}

// Background returns the background color number, if any.
func (s TextStyle) Background() (int, bool) {
	if len(s.Color) < 2 {
		return 0, false
	}
	return s.Color[1], true
}

// Plain reports whether the style carries no flags and no color.
func (s TextStyle) Plain() bool {
	return len(s.Color) == 0 && len(s.Style) == 0
}

// Segment is one styled run of text. On the wire it is the two-element
// array [style_object, text_string].
type Segment struct {
	Style TextStyle
	Text  string
}

// MarshalJSON encodes the segment as [style, text].
func (s Segment) MarshalJSON() ([]byte, error) {
	return codec.Marshal([2]any{s.Style, s.Text})
}

// UnmarshalJSON decodes the [style, text] pair form.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := codec.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("rich text segment: %w", err)
	}
	if err := codec.Unmarshal(raw[0], &s.Style); err != nil {
		return fmt.Errorf("rich text style: %w", err)
	}
	if err := codec.Unmarshal(raw[1], &s.Text); err != nil {
		return fmt.Errorf("rich text body: %w", err)
	}
	return nil
}

// RichText is an ordered sequence of styled segments whose concatenation
// equals the message's plain content.
type RichText []Segment

// String concatenates the segment texts, yielding the plain form.
func (rt RichText) String() string {
	var b strings.Builder
	for _, seg := range rt {
		b.WriteString(seg.Text)
	}
	return b.String()
}
