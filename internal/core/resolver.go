package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
)

// ResolvePlayer picks one player from players. The selector may be an alias,
// a player id (MAC address) or a case-insensitive player name. An empty
// selector falls back to def, then to the only connected player.
func ResolvePlayer(selector, def string, players []slim.Player, aliases map[string]string) (slim.Player, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		selector = strings.TrimSpace(def)
	}
	if selector == "" {
		connected := make([]slim.Player, 0, len(players))
		for _, p := range players {
			if p.Connected {
				connected = append(connected, p)
			}
		}
		if len(connected) == 1 {
			return connected[0], nil
		}
		if len(players) == 1 {
			return players[0], nil
		}
		if len(players) == 0 {
			return slim.Player{}, &CLIError{Code: ExitNotFound, Msg: "no players on server"}
		}
		return slim.Player{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("player required: %s", suggestionList(players))}
	}

	if alias, ok := aliases[selector]; ok {
		selector = alias
	}

	for _, p := range players {
		if strings.EqualFold(p.ID, selector) {
			return p, nil
		}
	}
	matches := make([]slim.Player, 0)
	for _, p := range players {
		if strings.EqualFold(p.Name, selector) {
			matches = append(matches, p)
		}
	}

	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) == 0 {
		return slim.Player{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("no player matches %q", selector)}
	}
	return slim.Player{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("ambiguous player %q: %s", selector, suggestionList(matches))}
}

func suggestionList(players []slim.Player) string {
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.ID))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
