package irc

import (
	"strconv"
	"strings"

	"github.com/tuna/fishroom/internal/bus"
)

// IRC formatting control codes.
// https://modern.ircdocs.horse/formatting.html
const (
	ctrlBold      = '\x02'
	ctrlColor     = '\x03'
	ctrlItalic    = '\x1d'
	ctrlUnderline = '\x1f'
	ctrlSwap      = '\x16'
	ctrlReset     = '\x0f'
)

func isCtrl(c rune) bool {
	switch c {
	case ctrlBold, ctrlColor, ctrlItalic, ctrlUnderline, ctrlSwap, ctrlReset:
		return true
	}
	return false
}

func isColorDigit(c rune) bool { return c >= '0' && c <= '9' }

type ircStyle struct {
	bold, italic, underline bool
	fg, bg                  int
	hasFg, hasBg            bool
}

func (s ircStyle) wire() bus.TextStyle {
	var st bus.TextStyle
	if s.hasFg {
		if s.hasBg {
			st.Color = []int{s.fg, s.bg}
		} else {
			st.Color = []int{s.fg}
		}
	}
	if s.bold {
		st.Style = append(st.Style, bus.StyleBold)
	}
	if s.italic {
		st.Style = append(st.Style, bus.StyleItalic)
	}
	if s.underline {
		st.Style = append(st.Style, bus.StyleUnderline)
	}
	return st
}

// ParseFormatting splits an IRC line into styled segments. Bold, italic
// and underline codes toggle; a color code eats up to two foreground
// digits and an optional ",NN" background; swap exchanges the color
// pair; reset clears everything. A control code as the last character
// is discarded. Empty input parses to nil.
//
// Color digits are consumed one character of lookahead at a time, so a
// third digit after a two-digit color belongs to the text ("\x03123"
// reads as color 12 followed by "3").
func ParseFormatting(text string) bus.RichText {
	var (
		out   bus.RichText
		style ircStyle
		cur   strings.Builder
		fg    string
		bg    string
		inBg  bool
	)

	flush := func() {
		if cur.Len() > 0 {
			out = append(out, bus.Segment{Style: style.wire(), Text: cur.String()})
			cur.Reset()
		}
	}
	setFg := func() {
		n, _ := strconv.Atoi(fg)
		style.fg, style.hasFg = n, true
		style.hasBg = false
		fg, bg, inBg = "", "", false
	}
	setFgBg := func() {
		f, _ := strconv.Atoi(fg)
		b, _ := strconv.Atoi(bg)
		style.fg, style.hasFg = f, true
		style.bg, style.hasBg = b, true
		fg, bg, inBg = "", "", false
	}

	runes := []rune(text)
	for i, c := range runes {
		var cn rune
		if i+1 < len(runes) {
			cn = runes[i+1]
		}

		if isCtrl(c) {
			flush()
			if cn == 0 {
				break
			}
			switch c {
			case ctrlBold:
				style.bold = !style.bold
			case ctrlItalic:
				style.italic = !style.italic
			case ctrlUnderline:
				style.underline = !style.underline
			case ctrlColor:
				if isColorDigit(cn) {
					// The digit itself is handled on its own
					// iteration, in color-reading mode below.
					fg = string(cn)
				} else {
					fg, bg, inBg = "", "", false
					style.hasFg, style.hasBg = false, false
				}
			case ctrlSwap:
				if style.hasFg && style.hasBg {
					style.fg, style.bg = style.bg, style.fg
				}
			case ctrlReset:
				style = ircStyle{}
			}
			continue
		}

		if fg != "" {
			if !inBg {
				switch {
				case len(fg) == 1 && isColorDigit(cn):
					fg += string(cn)
				case cn == ',':
					inBg = true
				default:
					setFg()
				}
			} else {
				switch {
				case bg == "" && isColorDigit(cn):
					bg = string(cn)
				case bg == "":
					// The comma was not a color separator after
					// all; it belongs to the text.
					setFg()
					cur.WriteRune(',')
				case len(bg) == 1 && isColorDigit(cn):
					bg += string(cn)
				default:
					setFgBg()
				}
			}
			continue
		}

		cur.WriteRune(c)
	}

	flush()
	return out
}

// Styled reports whether any segment carries formatting. Unstyled lines
// go on the wire as plain content with no rich_text field.
func Styled(rt bus.RichText) bool {
	for _, seg := range rt {
		if !seg.Style.Plain() {
			return true
		}
	}
	return false
}
