package command

import (
	"context"
	"fmt"
	"strings"
)

func init() {
	Register("help", Handler{
		Func:  helpHandler,
		Desc:  "list commands, or show usage for one",
		Usage: "help [command]",
	})
}

func helpHandler(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) > 0 {
		name := strings.TrimLeft(req.Args[0], LeadingChars)
		h, ok := Lookup(name)
		if !ok {
			return fmt.Sprintf("no such command: %s", name), nil
		}
		return fmt.Sprintf("%s: %s\nusage: %s", name, h.Desc, h.Usage), nil
	}

	var b strings.Builder
	b.WriteString("commands:\n")
	for _, name := range Names() {
		h, _ := Lookup(name)
		fmt.Fprintf(&b, "  %s: %s\n", name, h.Desc)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
