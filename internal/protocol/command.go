package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is a line-oriented spelling of a request, e.g. "play 2".
type Command struct {
	// Name is the canonical command word.
	Name string
	// Aliases are alternate words for this command.
	Aliases []string
	// Help is the short usage text.
	Help string
	// build turns the arguments after the command word into a Request.
	build func(args []string) (Request, error)
}

// BuiltinCommands returns every command-line request form.
func BuiltinCommands() []Command {
	return []Command{
		{Name: "play", Aliases: []string{"p"}, Help: "play <index>: play a card from your hand", build: buildPlay},
		{Name: "draw", Aliases: []string{"d"}, Help: "draw: draw a card", build: noArgs(TypeDrawCard)},
		{Name: "resolve", Aliases: []string{"r"}, Help: "resolve yes|no: play or keep the card just drawn", build: buildResolve},
		{Name: "keep", Help: "keep: keep the card just drawn", build: resolveWith(false)},
		{Name: "state", Aliases: []string{"s", "look"}, Help: "state: resend the current game state", build: noArgs(TypeState)},
		{Name: "leave", Aliases: []string{"quit", "exit"}, Help: "leave: leave the session", build: noArgs(TypeLeave)},
		{Name: "help", Aliases: []string{"?"}, Help: "help: list commands", build: noArgs(TypeHelp)},
	}
}

// HelpLines returns the usage text of every command, in table order.
func HelpLines() []string {
	cmds := BuiltinCommands()
	lines := make([]string, len(cmds))
	for i, cmd := range cmds {
		lines[i] = cmd.Help
	}
	return lines
}

var commandIndex = buildCommandIndex(BuiltinCommands())

func buildCommandIndex(cmds []Command) map[string]*Command {
	index := make(map[string]*Command)
	for i := range cmds {
		cmd := &cmds[i]
		for _, word := range append([]string{cmd.Name}, cmd.Aliases...) {
			if existing, dup := index[word]; dup {
				panic(fmt.Sprintf("command word %q used by %q and %q", word, existing.Name, cmd.Name))
			}
			index[word] = cmd
		}
	}
	return index
}

// ParseCommand resolves a command line into a Request.
//
// Postcondition: Returns a Request, or an error wrapping ErrUnknownRequest
// for an unknown command word or ErrMalformed for bad arguments.
func ParseCommand(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Request{}, fmt.Errorf("empty command: %w", ErrMalformed)
	}

	word := strings.ToLower(fields[0])
	cmd, ok := commandIndex[word]
	if !ok {
		return Request{}, fmt.Errorf("%q: %w", word, ErrUnknownRequest)
	}
	return cmd.build(fields[1:])
}

func noArgs(t RequestType) func([]string) (Request, error) {
	return func(args []string) (Request, error) {
		if len(args) != 0 {
			return Request{}, fmt.Errorf("%s takes no arguments: %w", t, ErrMalformed)
		}
		return Request{Type: t}, nil
	}
}

func resolveWith(play bool) func([]string) (Request, error) {
	return func(args []string) (Request, error) {
		if len(args) != 0 {
			return Request{}, fmt.Errorf("keep takes no arguments: %w", ErrMalformed)
		}
		return Request{Type: TypeResolveDrawnCard, Play: play}, nil
	}
}

func buildPlay(args []string) (Request, error) {
	if len(args) != 1 {
		return Request{}, fmt.Errorf("usage: play <index>: %w", ErrMalformed)
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return Request{}, fmt.Errorf("index %q: %w", args[0], ErrMalformed)
	}
	return Request{Type: TypePlayCard, Index: index}, nil
}

func buildResolve(args []string) (Request, error) {
	if len(args) != 1 {
		return Request{}, fmt.Errorf("usage: resolve yes|no: %w", ErrMalformed)
	}
	switch strings.ToLower(args[0]) {
	case "yes", "y", "play", "true":
		return Request{Type: TypeResolveDrawnCard, Play: true}, nil
	case "no", "n", "keep", "false":
		return Request{Type: TypeResolveDrawnCard, Play: false}, nil
	}
	return Request{}, fmt.Errorf("resolve %q: %w", args[0], ErrMalformed)
}
