package core

import (
	"github.com/bradfitz/android-squeezer-sub002/internal/session"
	"github.com/bradfitz/android-squeezer-sub002/pkg/slim"
)

// PlayersResult holds the server's players and the selected one.
type PlayersResult struct {
	Players []slim.Player `json:"players"`
	Active  string        `json:"active,omitempty"`
}

// StatusResult holds a player's state.
type StatusResult struct {
	Server     string              `json:"server"`
	Version    string              `json:"version,omitempty"`
	Player     slim.Player         `json:"player"`
	State      session.PlayerState `json:"state"`
	Elapsed    float64             `json:"elapsed"`
	ArtworkURL string              `json:"artworkUrl,omitempty"`
}

// ListResult holds one browsed list. Items is a slice of the slim item type
// named by Kind.
type ListResult struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
	Items any    `json:"items"`
}

// SearchResult holds the per-type results of a library search.
type SearchResult struct {
	Term    string        `json:"term"`
	Artists []slim.Artist `json:"artists"`
	Albums  []slim.Album  `json:"albums"`
	Genres  []slim.Genre  `json:"genres"`
	Songs   []slim.Song   `json:"songs"`
}

// WatchEvent is one player change observed by Watch.
type WatchEvent struct {
	Type  string              `json:"type"`
	State session.PlayerState `json:"state"`
}

// OKResult acknowledges a command.
type OKResult struct {
	Player  string `json:"player"`
	Command string `json:"command"`
}
