package irc

import (
	"reflect"
	"testing"

	"github.com/tuna/fishroom/internal/bus"
)

func plain(text string) bus.Segment {
	return bus.Segment{Text: text}
}

func seg(st bus.TextStyle, text string) bus.Segment {
	return bus.Segment{Style: st, Text: text}
}

func color(nums ...int) bus.TextStyle {
	return bus.TextStyle{Color: nums}
}

func TestParseFormatting(t *testing.T) {
	bold := bus.TextStyle{Style: []string{bus.StyleBold}}

	tests := []struct {
		in   string
		want bus.RichText
	}{
		{"Test1", bus.RichText{plain("Test1")}},
		{"\x03Test2", bus.RichText{plain("Test2")}},
		{"\x03Test2\x03", bus.RichText{plain("Test2")}},
		{"\x03", nil},
		{"\x033Test5", bus.RichText{seg(color(3), "Test5")}},
		{"\x033Test6\x03", bus.RichText{seg(color(3), "Test6")}},
		{"\x033,5Test7", bus.RichText{seg(color(3, 5), "Test7")}},
		{"Test9\x03Test9", bus.RichText{plain("Test9"), plain("Test9")}},
		{"\x033,5Test10\x03Test10\x03Test10", bus.RichText{
			seg(color(3, 5), "Test10"),
			plain("Test10"),
			plain("Test10"),
		}},
		{"\x033,5Test11\x0f\x02Test11\x03Test11", bus.RichText{
			seg(color(3, 5), "Test11"),
			seg(bold, "Test11"),
			seg(bold, "Test11"),
		}},
		// A third digit belongs to the text, not the color.
		{"\x033,045Test12", bus.RichText{seg(color(3, 4), "5Test12")}},
		{"\x03123,045Test13", bus.RichText{seg(color(12), "3,045Test13")}},
		{"Test14\x02\x034Test14\x02\x03Test14", bus.RichText{
			plain("Test14"),
			seg(bus.TextStyle{Color: []int{4}, Style: []string{bus.StyleBold}}, "Test14"),
			plain("Test14"),
		}},
		{"\x1d\x02Test15\x02\x1d", bus.RichText{
			seg(bus.TextStyle{Style: []string{bus.StyleBold, bus.StyleItalic}}, "Test15"),
		}},
		// Swap exchanges foreground and background.
		{"\x035,2Test16\x16Test16", bus.RichText{
			seg(color(5, 2), "Test16"),
			seg(color(2, 5), "Test16"),
		}},
		{"Test17\x035,2Test17\x16\x02Test17\x0fTest17", bus.RichText{
			plain("Test17"),
			seg(color(5, 2), "Test17"),
			seg(bus.TextStyle{Color: []int{2, 5}, Style: []string{bus.StyleBold}}, "Test17"),
			plain("Test17"),
		}},
		// A comma that does not start a background number stays text.
		{"\x033,xyz", bus.RichText{seg(color(3), ",xyz")}},
		{
			"bigeagle: \x0304errors:\x0f source_file.java:1: error: class," +
				"interface, or enum expected\x0304\\n\x0f print(1)" +
				"\x0304\\n\x0f ^\x0304\\n\x0f 1 error",
			bus.RichText{
				plain("bigeagle: "),
				seg(color(4), "errors:"),
				plain(" source_file.java:1: error: class,interface, or enum expected"),
				seg(color(4), `\n`),
				plain(" print(1)"),
				seg(color(4), `\n`),
				plain(" ^"),
				seg(color(4), `\n`),
				plain(" 1 error"),
			},
		},
	}

	for _, tt := range tests {
		if got := ParseFormatting(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseFormatting(%q)\n got %#v\nwant %#v", tt.in, got, tt.want)
		}
	}
}

func TestParseFormattingRoundTrip(t *testing.T) {
	in := "\x02deploy\x02 the \x033,5thing\x03 now"
	rt := ParseFormatting(in)
	if got, want := rt.String(), "deploy the thing now"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if !Styled(rt) {
		t.Error("Styled() = false for formatted input")
	}
}

func TestStyledPlain(t *testing.T) {
	if Styled(ParseFormatting("just words")) {
		t.Error("Styled() = true for unformatted input")
	}
}
