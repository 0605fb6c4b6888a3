package router

import (
	"cmp"
	"regexp"
	"slices"
	"strings"

	kit "remindbot/internal/transport"
)

const (
	menuMaxCommands = 100
	menuMaxName     = 32
	menuMaxDesc     = 256
)

var menuSeparators = regexp.MustCompile(`[^a-z0-9]+`)

// menuName maps a command to Telegram's [a-z][a-z0-9_]{0,31} form, or "".
func menuName(s string) string {
	s = menuSeparators.ReplaceAllString(strings.ToLower(s), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return ""
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "cmd_" + s
	}
	if len(s) > menuMaxName {
		s = strings.TrimRight(s[:menuMaxName], "_")
	}
	return s
}

// buildMenu returns the entries for setMyCommands: normalized, unique and
// sorted by name.
func buildMenu(cmds []kit.BotCommand) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	seen := make(map[string]bool, len(cmds))
	for _, c := range cmds {
		name := menuName(c.Command)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.Join(strings.Fields(c.Description), " ")
		if desc == "" {
			desc = name
		}
		if len(desc) > menuMaxDesc {
			desc = desc[:menuMaxDesc]
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}
	slices.SortFunc(out, func(a, b kit.BotCommand) int { return cmp.Compare(a.Command, b.Command) })
	if len(out) > menuMaxCommands {
		out = out[:menuMaxCommands]
	}
	return out
}
