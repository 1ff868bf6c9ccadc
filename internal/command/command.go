package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/shlex"

	"github.com/tuna/fishroom/internal/bus"
)

// LeadingChars are the bytes that may start a command.
const LeadingChars = "/."

// ErrNotCommand is returned by Parse for content that is not command-shaped.
var ErrNotCommand = errors.New("not a command")

// Request carries one parsed invocation into its handler.
type Request struct {
	Cmd  string
	Args []string
	Msg  *bus.Message
	Room string
}

// HandlerFunc runs a command and returns the bot's reply. An empty reply
// means the command produced no output.
type HandlerFunc func(ctx context.Context, req *Request) (string, error)

// Handler is a registered command.
type Handler struct {
	Func  HandlerFunc
	Desc  string
	Usage string
}

// handlers is written during plugin registration at startup, read-only
// once the hub is running.
var handlers = map[string]Handler{}

// Register binds a name to a handler. A duplicate name panics: plugins
// register once at startup and a collision is a programming error.
func Register(name string, h Handler) {
	if _, dup := handlers[name]; dup {
		panic(fmt.Sprintf("command %q already registered", name))
	}
	handlers[name] = h
}

// Lookup returns the handler for a command name.
func Lookup(name string) (Handler, bool) {
	h, ok := handlers[name]
	return h, ok
}

// Names returns every registered command name, sorted.
func Names() []string {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse splits command-shaped content into a name and arguments. Content
// qualifies when it is longer than two bytes, starts with exactly one
// leading char, and shell-splits cleanly. A head of the form cmd@botname
// is accepted only when botname equals selfName, so several bots can
// share a room without answering each other's commands.
func Parse(content, selfName string) (string, []string, error) {
	if len(content) <= 2 {
		return "", nil, ErrNotCommand
	}
	if !strings.ContainsRune(LeadingChars, rune(content[0])) {
		return "", nil, ErrNotCommand
	}
	if strings.ContainsRune(LeadingChars, rune(content[1])) {
		return "", nil, ErrNotCommand
	}

	tokens, err := shlex.Split(content)
	if err != nil || len(tokens) == 0 {
		return "", nil, ErrNotCommand
	}

	head := tokens[0][1:]
	if at := strings.IndexByte(head, '@'); at >= 0 {
		if selfName == "" || head[at+1:] != selfName {
			return "", nil, ErrNotCommand
		}
		head = head[:at]
	}
	if head == "" {
		return "", nil, ErrNotCommand
	}
	return head, tokens[1:], nil
}

// IsCommand reports whether content parses to a registered command.
func IsCommand(content, selfName string) bool {
	cmd, _, err := Parse(content, selfName)
	if err != nil {
		return false
	}
	_, ok := Lookup(cmd)
	return ok
}
